package audio

import (
	"math"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(data) != 44+len(samples)*2 {
		t.Errorf("encoded size = %d, want %d", len(data), 44+len(samples)*2)
	}

	if string(data[0:4]) != "RIFF" {
		t.Errorf("missing RIFF marker, got %q", data[0:4])
	}
	if string(data[8:12]) != "WAVE" {
		t.Errorf("missing WAVE marker, got %q", data[8:12])
	}
}

func TestEncodeWAVRejectsEmptyInput(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("expected error for empty samples")
	}

	if _, err := EncodeWAV([]int16{1, 2, 3}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(12000 * math.Sin(float64(i)*0.05))
	}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"wrong magic", make([]byte, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestResamplerPassthrough(t *testing.T) {
	r, err := NewResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewResampler failed: %v", err)
	}
	defer r.Close()

	in := []int16{1, 2, 3, 4, 5}
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(out) != len(in) {
		t.Fatalf("passthrough returned %d samples, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}

	// Returned slice must be independent of the input
	in[0] = 99
	if out[0] == 99 {
		t.Error("passthrough output aliases input")
	}
}

func TestResamplerValidation(t *testing.T) {
	if _, err := NewResampler(0, 16000); err == nil {
		t.Error("expected error for zero input rate")
	}
	if _, err := NewResampler(48000, -1); err == nil {
		t.Error("expected error for negative output rate")
	}
}

func TestResamplerEmptyFrame(t *testing.T) {
	r, err := NewResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewResampler failed: %v", err)
	}
	defer r.Close()

	out, err := r.Process(nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("empty frame produced %d samples", len(out))
	}
}
