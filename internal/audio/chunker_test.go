package audio

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/yuewen-li/speech2speech/internal/config"
)

const testSampleRate = 16000

// loudFrame returns one VAD window of speech-like samples.
func loudFrame(size int) []int16 {
	samples := make([]int16, size)
	for i := range samples {
		samples[i] = int16(14000 * math.Sin(float64(i)*0.1))
	}
	return samples
}

func silentFrame(size int) []int16 {
	return make([]int16, size)
}

func silenceConfig() ChunkerConfig {
	return ChunkerConfig{
		Policy:          config.PolicySilenceDelimited,
		SampleRate:      testSampleRate,
		WindowDuration:  500 * time.Millisecond,
		MinUtterance:    50 * time.Millisecond,
		MaxUtterance:    2 * time.Second,
		SilenceDuration: 100 * time.Millisecond,
		VADThreshold:    0.25,
		VADWindowSize:   512,
		OverflowPolicy:  config.OverflowDropOldest,
		OverflowTimeout: 100 * time.Millisecond,
		QueueCapacity:   8,
	}
}

// drain collects everything currently buffered on the chunker output.
func drain(c *Chunker) []*AudioChunk {
	var chunks []*AudioChunk
	for {
		select {
		case chunk, ok := <-c.Out():
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		default:
			return chunks
		}
	}
}

func TestNewChunkerValidation(t *testing.T) {
	cfg := silenceConfig()
	if _, err := NewChunker("s1", cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.SampleRate = 0
	if _, err := NewChunker("s1", bad); err == nil {
		t.Error("expected error for zero sample rate")
	}

	bad = cfg
	bad.QueueCapacity = 0
	if _, err := NewChunker("s1", bad); err == nil {
		t.Error("expected error for zero queue capacity")
	}

	bad = cfg
	bad.Policy = "adaptive"
	if _, err := NewChunker("s1", bad); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestSilenceDelimitedUtterance(t *testing.T) {
	chunker, err := NewChunker("s1", silenceConfig())
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// Voice for ~0.5s, then sustained silence
	for i := 0; i < 16; i++ {
		if err := chunker.Push(loudFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		if err := chunker.Push(silentFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	chunks := drain(chunker)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}

	chunk := chunks[0]
	if chunk.SessionID != "s1" {
		t.Errorf("session id = %s, want s1", chunk.SessionID)
	}
	if chunk.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", chunk.Sequence)
	}
	if !chunk.FinalForUtterance {
		t.Error("silence-delimited chunk should be final for utterance")
	}
	if len(chunk.Samples) == 0 {
		t.Error("chunk must never be empty")
	}
	if chunk.Duration < 400*time.Millisecond {
		t.Errorf("chunk duration = %v, want at least the voiced span", chunk.Duration)
	}
}

func TestPureSilenceProducesNothing(t *testing.T) {
	chunker, err := NewChunker("s1", silenceConfig())
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	for i := 0; i < 40; i++ {
		if err := chunker.Push(silentFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	if chunks := drain(chunker); len(chunks) != 0 {
		t.Errorf("pure silence produced %d chunks, want 0", len(chunks))
	}
}

func TestShortUtteranceDiscarded(t *testing.T) {
	cfg := silenceConfig()
	cfg.MinUtterance = 400 * time.Millisecond

	chunker, err := NewChunker("s1", cfg)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// Two voiced windows (~64ms), well below the minimum
	for i := 0; i < 2; i++ {
		if err := chunker.Push(loudFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		if err := chunker.Push(silentFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	if chunks := drain(chunker); len(chunks) != 0 {
		t.Fatalf("sub-minimum utterance produced %d chunks, want 0", len(chunks))
	}

	stats := chunker.GetStats()
	if stats.ShortDiscarded != 1 {
		t.Errorf("short discarded = %d, want 1", stats.ShortDiscarded)
	}
}

func TestMaxUtteranceSafetyValve(t *testing.T) {
	cfg := silenceConfig()
	cfg.MaxUtterance = 500 * time.Millisecond

	chunker, err := NewChunker("s1", cfg)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// Continuous voice for ~1.6s should be split by the valve
	for i := 0; i < 50; i++ {
		if err := chunker.Push(loudFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	chunks := drain(chunker)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2 from safety valve", len(chunks))
	}

	for i, chunk := range chunks {
		if chunk.Sequence != uint64(i+1) {
			t.Errorf("chunk %d sequence = %d, want %d", i, chunk.Sequence, i+1)
		}
		if chunk.Duration > cfg.MaxUtterance+50*time.Millisecond {
			t.Errorf("chunk %d duration %v exceeds safety valve", i, chunk.Duration)
		}
	}
}

func TestFixedWindowPolicy(t *testing.T) {
	cfg := silenceConfig()
	cfg.Policy = config.PolicyFixedWindow
	cfg.WindowDuration = 128 * time.Millisecond // 4 VAD windows

	chunker, err := NewChunker("s1", cfg)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	for i := 0; i < 8; i++ {
		if err := chunker.Push(loudFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	chunks := drain(chunker)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 fixed windows", len(chunks))
	}
	for _, chunk := range chunks {
		if !chunk.FinalForUtterance {
			t.Error("fixed windows are complete units and should be final")
		}
	}
}

func TestFixedWindowDiscardsSilentWindows(t *testing.T) {
	cfg := silenceConfig()
	cfg.Policy = config.PolicyFixedWindow
	cfg.WindowDuration = 128 * time.Millisecond

	chunker, err := NewChunker("s1", cfg)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	for i := 0; i < 8; i++ {
		if err := chunker.Push(silentFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	if chunks := drain(chunker); len(chunks) != 0 {
		t.Fatalf("silent windows produced %d chunks, want 0", len(chunks))
	}

	stats := chunker.GetStats()
	if stats.SilentDiscarded != 2 {
		t.Errorf("silent discarded = %d, want 2", stats.SilentDiscarded)
	}
}

func TestOverflowDropOldest(t *testing.T) {
	cfg := silenceConfig()
	cfg.Policy = config.PolicyFixedWindow
	cfg.WindowDuration = 32 * time.Millisecond // one VAD window per chunk
	cfg.MinUtterance = 10 * time.Millisecond
	cfg.QueueCapacity = 1

	chunker, err := NewChunker("s1", cfg)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	var overflows int
	for i := 0; i < 3; i++ {
		if err := chunker.Push(loudFrame(512)); err != nil {
			if !errors.Is(err, ErrQueueOverflow) {
				t.Fatalf("unexpected error: %v", err)
			}
			overflows++
		}
	}

	if overflows != 2 {
		t.Errorf("overflow errors = %d, want 2", overflows)
	}

	stats := chunker.GetStats()
	if stats.ChunksDropped != 2 {
		t.Errorf("chunks dropped = %d, want 2", stats.ChunksDropped)
	}

	// The newest chunk survives, with its original sequence number
	chunks := drain(chunker)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Sequence != 3 {
		t.Errorf("surviving sequence = %d, want 3", chunks[0].Sequence)
	}
}

func TestOverflowBlockTimesOut(t *testing.T) {
	cfg := silenceConfig()
	cfg.Policy = config.PolicyFixedWindow
	cfg.WindowDuration = 32 * time.Millisecond
	cfg.MinUtterance = 10 * time.Millisecond
	cfg.QueueCapacity = 1
	cfg.OverflowPolicy = config.OverflowBlock
	cfg.OverflowTimeout = 30 * time.Millisecond

	chunker, err := NewChunker("s1", cfg)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	if err := chunker.Push(loudFrame(512)); err != nil {
		t.Fatalf("first chunk should fit: %v", err)
	}

	start := time.Now()
	err = chunker.Push(loudFrame(512))
	if !errors.Is(err, ErrQueueOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < cfg.OverflowTimeout {
		t.Errorf("block policy returned after %v, want at least %v", elapsed, cfg.OverflowTimeout)
	}

	stats := chunker.GetStats()
	if stats.ChunksDropped != 1 {
		t.Errorf("chunks dropped = %d, want 1", stats.ChunksDropped)
	}
}

func TestFlushEmitsPendingUtterance(t *testing.T) {
	chunker, err := NewChunker("s1", silenceConfig())
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := chunker.Push(loudFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	if !chunker.HasPendingUtterance() {
		t.Fatal("expected a pending utterance before flush")
	}

	if err := chunker.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	chunks := drain(chunker)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks after flush, want 1", len(chunks))
	}
	if !chunks[0].FinalForUtterance {
		t.Error("flushed chunk should be final")
	}
}

// recordingObserver counts what the chunker reports through the Observer hook.
type recordingObserver struct {
	mu       sync.Mutex
	windows  int
	voiced   int
	discards map[string]int
}

func (o *recordingObserver) RecordVADWindow(hasVoice bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.windows++
	if hasVoice {
		o.voiced++
	}
}

func (o *recordingObserver) RecordChunkDiscarded(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.discards == nil {
		o.discards = map[string]int{}
	}
	o.discards[reason]++
}

func TestObserverSeesWindowsAndDiscards(t *testing.T) {
	observer := &recordingObserver{}
	cfg := silenceConfig()
	cfg.MinUtterance = 400 * time.Millisecond
	cfg.Observer = observer

	chunker, err := NewChunker("s1", cfg)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// Two voiced windows then silence: below the minimum, discarded short
	for i := 0; i < 2; i++ {
		if err := chunker.Push(loudFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		if err := chunker.Push(silentFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if observer.windows != 22 {
		t.Errorf("windows recorded = %d, want 22", observer.windows)
	}
	if observer.voiced != 2 {
		t.Errorf("voiced windows recorded = %d, want 2", observer.voiced)
	}
	if observer.discards[DiscardTooShort] != 1 {
		t.Errorf("too_short discards = %d, want 1", observer.discards[DiscardTooShort])
	}
}

func TestObserverSeesSilentDiscards(t *testing.T) {
	observer := &recordingObserver{}
	cfg := silenceConfig()
	cfg.Policy = config.PolicyFixedWindow
	cfg.WindowDuration = 128 * time.Millisecond
	cfg.Observer = observer

	chunker, err := NewChunker("s1", cfg)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	for i := 0; i < 8; i++ {
		if err := chunker.Push(silentFrame(512)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if observer.voiced != 0 {
		t.Errorf("voiced windows recorded = %d, want 0", observer.voiced)
	}
	if observer.discards[DiscardSilent] != 2 {
		t.Errorf("silent discards = %d, want 2", observer.discards[DiscardSilent])
	}
}

func TestCloseClosesOutput(t *testing.T) {
	chunker, err := NewChunker("s1", silenceConfig())
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	if err := chunker.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := <-chunker.Out(); ok {
		t.Error("output channel should be closed")
	}

	if err := chunker.Push(loudFrame(512)); err == nil {
		t.Error("Push after Close should fail")
	}

	// Close is idempotent
	if err := chunker.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
