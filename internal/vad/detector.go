package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Detector provides energy-based voice activity detection over fixed-size
// windows of PCM-16 samples. A light exponential smoothing is applied so a
// single noisy window does not flip the decision.
type Detector struct {
	threshold  float32
	windowSize int
	sampleRate int
	smoothing  float32

	lastResult float32

	// Statistics
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the outcome of voice activity detection for one window.
type Result struct {
	Probability float32   `json:"probability"` // voice probability (0.0 - 1.0)
	HasVoice    bool      `json:"has_voice"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stats represents detector statistics for monitoring.
type Stats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewDetector creates a new voice activity detector.
func NewDetector(threshold float32, windowSize int, sampleRate int) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Detector{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
		smoothing:  0.3,
	}, nil
}

// Process evaluates one window of audio samples. The window may be shorter
// than the configured size at utterance boundaries; it must not be longer.
func (d *Detector) Process(samples []int16) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot process empty window")
	}

	if len(samples) > d.windowSize {
		return nil, fmt.Errorf("window too large: expected at most %d samples, got %d", d.windowSize, len(samples))
	}

	probability := energyProbability(samples)

	// Smooth against the previous window
	if d.totalWindows > 0 {
		probability = d.smoothing*probability + (1-d.smoothing)*d.lastResult
	}
	d.lastResult = probability

	hasVoice := probability >= d.threshold

	d.totalWindows++
	if hasVoice {
		d.voiceWindows++
	}
	d.lastProcessed = time.Now()

	return &Result{
		Probability: probability,
		HasVoice:    hasVoice,
		Timestamp:   d.lastProcessed,
	}, nil
}

// energyProbability maps RMS energy of a window to a 0-1 probability.
func energyProbability(samples []int16) float32 {
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(energy / float64(len(samples)))

	// Normalize assuming speech RMS tops out around 10000 for 16-bit mono
	normalized := rms / 10000.0
	if normalized > 1.0 {
		normalized = 1.0
	}

	return float32(normalized)
}

// GetStats returns current detector statistics.
func (d *Detector) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	voicePercentage := float64(0)
	if d.totalWindows > 0 {
		voicePercentage = float64(d.voiceWindows) / float64(d.totalWindows) * 100
	}

	return Stats{
		TotalWindows:    d.totalWindows,
		VoiceWindows:    d.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   d.lastProcessed,
		Threshold:       d.threshold,
	}
}

// Reset clears detector state and statistics.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalWindows = 0
	d.voiceWindows = 0
	d.lastResult = 0
	d.lastProcessed = time.Time{}
}

// GetThreshold returns the current voice detection threshold.
func (d *Detector) GetThreshold() float32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.threshold
}

// GetWindowSize returns the window size in samples.
func (d *Detector) GetWindowSize() int {
	return d.windowSize
}
