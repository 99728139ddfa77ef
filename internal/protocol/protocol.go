package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Signaling message types exchanged over the WebSocket control channel.
const (
	TypeSessionInit  = "session_init"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeCandidate    = "candidate"
	TypeSessionReady = "session_ready"
	TypeStop         = "stop"
	TypeError        = "error"
	TypeClose        = "close"
)

// TypeTranscript tags transcript events on the structured event channel.
const TypeTranscript = "transcript"

// Response modes a client may request at session initialization.
const (
	ModeTranscript      = "transcript-only"  // transcript events only
	ModeTranscriptAudio = "transcript+audio" // transcript events plus synthesized audio
)

// SessionParams carries the client-chosen session parameters from the
// session_init message.
type SessionParams struct {
	SourceLang   string `json:"source_lang"`
	TargetLang   string `json:"target_lang"`
	ResponseMode string `json:"response_mode"`
}

// ICECandidate is a trickle ICE candidate exchanged during negotiation.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// Message is the envelope for all signaling traffic. Only the fields
// relevant to Type are populated.
type Message struct {
	Type string `json:"type"`

	// session_init
	Params *SessionParams `json:"params,omitempty"`

	// offer / answer
	SDP string `json:"sdp,omitempty"`

	// candidate
	Candidate *ICECandidate `json:"candidate,omitempty"`

	// session_ready
	SessionID string `json:"session_id,omitempty"`

	// error / close
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// TranscriptEvent is delivered to the client on the structured event channel
// for every utterance, successful or degraded. Sequence ties the event to the
// synthesized audio frames carrying the same utterance.
type TranscriptEvent struct {
	Type       string    `json:"type"` // always "transcript"
	SessionID  string    `json:"session_id"`
	Sequence   uint64    `json:"sequence"`
	Original   string    `json:"original"`
	Translated string    `json:"translated"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	Final      bool      `json:"final"`
	Degraded   bool      `json:"degraded"`
	ErrorNote  string    `json:"error_note,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Decode parses a signaling message from raw JSON and validates its envelope.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed signaling message: %w", err)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return &msg, nil
}

// Encode serializes a signaling message to JSON.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signaling message: %w", err)
	}
	return data, nil
}

// Validate checks that the message carries the fields its type requires.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeSessionInit:
		if m.Params == nil {
			return fmt.Errorf("session_init message missing params")
		}
		return m.Params.Validate()

	case TypeOffer, TypeAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%s message missing sdp", m.Type)
		}
		return nil

	case TypeCandidate:
		if m.Candidate == nil || m.Candidate.Candidate == "" {
			return fmt.Errorf("candidate message missing candidate")
		}
		return nil

	case TypeSessionReady:
		if m.SessionID == "" {
			return fmt.Errorf("session_ready message missing session_id")
		}
		return nil

	case TypeStop, TypeClose:
		return nil

	case TypeError:
		if m.Code == "" {
			return fmt.Errorf("error message missing code")
		}
		return nil

	default:
		return fmt.Errorf("unknown message type '%s'", m.Type)
	}
}

// Validate checks session parameters against the recognized options.
// Unrecognized values fail here, at handshake time, rather than surfacing
// later inside the pipeline.
func (p *SessionParams) Validate() error {
	if err := validateLanguageTag(p.SourceLang); err != nil {
		return fmt.Errorf("source_lang: %w", err)
	}

	if err := validateLanguageTag(p.TargetLang); err != nil {
		return fmt.Errorf("target_lang: %w", err)
	}

	if p.SourceLang == p.TargetLang {
		return fmt.Errorf("source_lang and target_lang must differ, both are '%s'", p.SourceLang)
	}

	if p.ResponseMode != ModeTranscript && p.ResponseMode != ModeTranscriptAudio {
		return fmt.Errorf("response_mode must be '%s' or '%s', got '%s'",
			ModeTranscript, ModeTranscriptAudio, p.ResponseMode)
	}

	return nil
}

// WantsAudio reports whether the session should run the synthesis stage.
func (p *SessionParams) WantsAudio() bool {
	return p.ResponseMode == ModeTranscriptAudio
}

// validateLanguageTag checks that a tag is shaped like a BCP-47 language tag:
// a 2-3 letter primary subtag optionally followed by alphanumeric subtags of
// up to 8 characters, separated by hyphens (e.g. "en-US", "zh-CN", "uk").
func validateLanguageTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("language tag cannot be empty")
	}

	subtags := splitTag(tag)
	primary := subtags[0]
	if len(primary) < 2 || len(primary) > 3 || !isAlpha(primary) {
		return fmt.Errorf("invalid language tag '%s'", tag)
	}

	for _, sub := range subtags[1:] {
		if len(sub) < 1 || len(sub) > 8 || !isAlphaNum(sub) {
			return fmt.Errorf("invalid language tag '%s'", tag)
		}
	}

	return nil
}

func splitTag(tag string) []string {
	var subtags []string
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == '-' {
			subtags = append(subtags, tag[start:i])
			start = i + 1
		}
	}
	return subtags
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return len(s) > 0
}

func isAlphaNum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return len(s) > 0
}
