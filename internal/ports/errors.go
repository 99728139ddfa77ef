package ports

import (
	"errors"
	"fmt"
)

// ErrorKind classifies port call failures. Transient kinds are retried by
// the owning stage; the rest fail the call immediately and degrade the
// utterance instead.
type ErrorKind int

const (
	// KindTransient covers network, timeout, rate-limit and 5xx failures.
	KindTransient ErrorKind = iota
	// KindLanguageDetection means the recognizer could not determine the
	// spoken language.
	KindLanguageDetection
	// KindAudioTooShort means the submitted audio was below the
	// recognizer's minimum.
	KindAudioTooShort
	// KindQuota means the external service rejected the call for quota
	// or billing reasons.
	KindQuota
	// KindAuth means credentials were rejected.
	KindAuth
	// KindNoVoice means no synthesis voice is available for the target
	// language.
	KindNoVoice
)

// String returns the kind name used in logs and error annotations.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindLanguageDetection:
		return "language_detection"
	case KindAudioTooShort:
		return "audio_too_short"
	case KindQuota:
		return "quota"
	case KindAuth:
		return "auth"
	case KindNoVoice:
		return "no_voice"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// PortError is the error type returned by all port implementations so the
// stage runner can decide between retrying and degrading.
type PortError struct {
	Port string // "transcription", "translation" or "synthesis"
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *PortError) Error() string {
	return fmt.Sprintf("%s port %s error: %v", e.Port, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *PortError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the stage should retry this failure.
func (e *PortError) Retryable() bool {
	return e.Kind == KindTransient
}

// NewPortError wraps a cause with port and kind classification.
func NewPortError(port string, kind ErrorKind, err error) *PortError {
	return &PortError{Port: port, Kind: kind, Err: err}
}

// IsRetryable reports whether an arbitrary error is a retryable port
// failure. Unclassified errors are treated as transient so a flaky
// implementation cannot permanently fail an utterance on its first attempt.
func IsRetryable(err error) bool {
	var portErr *PortError
	if errors.As(err, &portErr) {
		return portErr.Retryable()
	}
	return true
}
