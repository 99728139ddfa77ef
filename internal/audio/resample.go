package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	soxr "github.com/zaf/resample"
)

// Resampler converts mono PCM-16 audio between sample rates, bridging the
// 48 kHz WebRTC transport and the pipeline's processing rate. Equal rates
// pass samples through untouched.
type Resampler struct {
	inRate  int
	outRate int

	// The soxr resampler writes converted bytes into buf; buf must be the
	// same buffer we read output from.
	resampler *soxr.Resampler
	buf       *bytes.Buffer
	inBytes   []byte
	mu        sync.Mutex
}

// NewResampler creates a resampler from inRate to outRate.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", inRate, outRate)
	}

	r := &Resampler{inRate: inRate, outRate: outRate}
	if inRate == outRate {
		return r, nil
	}

	r.buf = &bytes.Buffer{}
	resampler, err := soxr.New(r.buf, float64(inRate), float64(outRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler %d -> %d: %w", inRate, outRate, err)
	}
	r.resampler = resampler

	return r, nil
}

// Process converts a frame of samples to the output rate. The returned
// slice is freshly allocated and safe to retain.
func (r *Resampler) Process(samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	if r.resampler == nil {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cap(r.inBytes) < len(samples)*2 {
		r.inBytes = make([]byte, len(samples)*2)
	}
	r.inBytes = r.inBytes[:len(samples)*2]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(r.inBytes[i*2:], uint16(s))
	}

	if _, err := r.resampler.Write(r.inBytes); err != nil {
		return nil, fmt.Errorf("resampler write failed: %w", err)
	}

	outBytes := r.buf.Next(r.buf.Len() &^ 1) // whole samples only
	out := make([]int16, len(outBytes)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(outBytes[i*2:]))
	}

	return out, nil
}

// Close releases the underlying resampler.
func (r *Resampler) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resampler != nil {
		if err := r.resampler.Close(); err != nil {
			return fmt.Errorf("failed to close resampler: %w", err)
		}
		r.resampler = nil
	}

	return nil
}
