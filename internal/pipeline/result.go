package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// UtteranceResult is the unit flowing between pipeline stages after
// transcription. It is created when the recognizer commits a transcript for
// an utterance and enriched in place by the translation and synthesis
// stages; its sequence number totally orders it against every other result
// in the same session and is never reassigned downstream.
type UtteranceResult struct {
	SessionID  string
	Sequence   uint64
	SourceLang string
	TargetLang string

	OriginalText   string
	TranslatedText string

	// Synthesized audio, absent until the synthesis stage completes or
	// when the session runs transcript-only.
	Audio     []int16
	AudioRate int

	// Final distinguishes committed transcripts from provisional partials;
	// only final results are translated and synthesized.
	Final bool

	// Degraded marks a result whose stage processing exhausted its
	// retries. Degraded results keep their place in the sequence so the
	// client sees a specific failed utterance instead of a silent gap.
	Degraded  bool
	ErrorNote string

	CreatedAt time.Time
}

// NeedsSynthesis reports whether the result is eligible for speech
// synthesis: a committed, non-degraded utterance with translated text. The
// session's synthesis fan-out and the multiplexer's audio wait apply the
// same predicate so every queued synthesis job has exactly one consumer.
func (r *UtteranceResult) NeedsSynthesis() bool {
	return r.Final && !r.Degraded && strings.TrimSpace(r.TranslatedText) != ""
}

// OutboundFrame is one transport-sized frame of synthesized audio. Frames
// carry the utterance sequence number so the client can correlate audio
// with the transcript event that traveled on the other channel.
type OutboundFrame struct {
	SessionID  string
	Sequence   uint64
	Samples    []int16
	SampleRate int
	Last       bool // final frame of the utterance
	Timestamp  time.Time
}

// FatalError is an unrecoverable internal invariant violation, such as
// out-of-order sequence delivery reaching the multiplexer. It terminates
// the session and must never be swallowed.
type FatalError struct {
	SessionID string
	Reason    string
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal pipeline error in session %s: %s", e.SessionID, e.Reason)
}
