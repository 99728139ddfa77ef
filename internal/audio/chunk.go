package audio

import (
	"time"
)

// AudioChunk is a bounded span of raw audio belonging to one session,
// produced by the Chunker and consumed by the transcription stage. Chunks
// for a session carry strictly increasing sequence numbers and are never
// empty.
type AudioChunk struct {
	SessionID  string        `json:"session_id"`
	Sequence   uint64        `json:"sequence"`
	Samples    []int16       `json:"-"`
	SampleRate int           `json:"sample_rate"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`

	// FinalForUtterance marks a chunk that closes an utterance. The
	// silence-delimited policy sets it when trailing silence or the
	// duration safety valve ends the utterance; fixed windows are each
	// complete units.
	FinalForUtterance bool `json:"final_for_utterance"`
}

// SamplesDuration converts a sample count at the given rate to a duration.
func SamplesDuration(n int, sampleRate int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
