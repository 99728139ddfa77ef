package ports

import (
	"context"

	"github.com/yuewen-li/speech2speech/internal/audio"
)

// Transcript is the result of a transcription call. Final distinguishes a
// committed transcript from a provisional partial.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	Final      bool    `json:"final"`
}

// Transcriber is the streaming speech recognizer port. It may be called
// repeatedly with partial chunks before a final chunk produces Final=true.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk *audio.AudioChunk, language string) (*Transcript, error)
	Close() error
}

// Translator is the text translation port. Implementations must be safe to
// retry: a repeated call with the same text is harmless.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	Close() error
}

// Synthesizer is the text-to-speech port. It returns PCM-16 samples and
// their sample rate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, targetLang string) ([]int16, int, error)
	Close() error
}
