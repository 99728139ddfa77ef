package session

import "time"

// Recorder is the metrics surface sessions report into. The Prometheus
// registry implements it; tests use NopRecorder.
type Recorder interface {
	RecordSessionCreated()
	RecordSessionClosed(durationSeconds float64)
	SetActiveSessions(count int)
	RecordFrameReceived()
	RecordChunkGenerated(durationSeconds float64)
	RecordChunkDropped()
	RecordTranscriptDelivered()
	RecordAudioFrameDelivered()

	// Chunker observer hooks, shared with the audio package.
	RecordVADWindow(hasVoice bool)
	RecordChunkDiscarded(reason string)

	// Stage observer hooks, shared with the pipeline package.
	StageRetry(stage string)
	StageDegraded(stage string)
	StageProcessed(stage string, duration time.Duration)
}

// NopRecorder discards all measurements.
type NopRecorder struct{}

func (NopRecorder) RecordSessionCreated()                {}
func (NopRecorder) RecordSessionClosed(float64)          {}
func (NopRecorder) SetActiveSessions(int)                {}
func (NopRecorder) RecordFrameReceived()                 {}
func (NopRecorder) RecordChunkGenerated(float64)         {}
func (NopRecorder) RecordChunkDropped()                  {}
func (NopRecorder) RecordTranscriptDelivered()           {}
func (NopRecorder) RecordAudioFrameDelivered()           {}
func (NopRecorder) RecordVADWindow(bool)                 {}
func (NopRecorder) RecordChunkDiscarded(string)          {}
func (NopRecorder) StageRetry(string)                    {}
func (NopRecorder) StageDegraded(string)                 {}
func (NopRecorder) StageProcessed(string, time.Duration) {}
