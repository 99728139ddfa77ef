package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/yuewen-li/speech2speech/internal/protocol"
)

// TranscriptSink receives transcript events for delivery to the client.
// Implementations must be safe to call from the multiplexer goroutine.
type TranscriptSink interface {
	SendTranscript(ev *protocol.TranscriptEvent) error
}

// AudioSink receives synthesized audio frames for delivery to the client.
type AudioSink interface {
	SendAudioFrame(frame *OutboundFrame) error
}

// MuxConfig carries the multiplexer parameters for one session.
type MuxConfig struct {
	SessionID   string
	SourceLang  string
	TargetLang  string
	WantAudio   bool
	FrameBudget time.Duration
}

// Multiplexer is the terminal pipeline step. It fans each utterance result
// out to the transcript and audio sinks, keeping the two streams mutually
// ordered: a transcript event goes out as soon as its result arrives,
// before the utterance's synthesis completes, and every audio frame of
// utterance N is handed to the sink before the first frame of N+1.
type Multiplexer struct {
	cfg         MuxConfig
	in          <-chan *UtteranceResult
	audioIn     <-chan *UtteranceResult
	transcripts TranscriptSink
	audio       AudioSink
	logger      *slog.Logger
	onFatal     func(err error)

	lastSeq        uint64
	transcriptsOut uint64
	framesOut      uint64
}

// NewMultiplexer creates a multiplexer reading results from in. audioIn
// carries the synthesized counterparts of results for which NeedsSynthesis
// holds, in the same order; it may be nil for transcript-only sessions.
// onFatal is invoked at most once, when an ordering violation is detected;
// it must arrange session termination.
func NewMultiplexer(cfg MuxConfig, in, audioIn <-chan *UtteranceResult, transcripts TranscriptSink, audio AudioSink, logger *slog.Logger, onFatal func(err error)) *Multiplexer {
	return &Multiplexer{
		cfg:         cfg,
		in:          in,
		audioIn:     audioIn,
		transcripts: transcripts,
		audio:       audio,
		logger:      logger,
		onFatal:     onFatal,
	}
}

// Run delivers results until the inbound channel closes or the context is
// cancelled. It returns the number of transcript events and audio frames
// delivered.
func (m *Multiplexer) Run(ctx context.Context) (uint64, uint64) {
	for {
		select {
		case <-ctx.Done():
			return m.transcriptsOut, m.framesOut
		case result, ok := <-m.in:
			if !ok {
				return m.transcriptsOut, m.framesOut
			}
			if !m.deliver(ctx, result) {
				return m.transcriptsOut, m.framesOut
			}
		}
	}
}

func (m *Multiplexer) deliver(ctx context.Context, result *UtteranceResult) bool {
	if result.Final {
		if result.Sequence <= m.lastSeq {
			if m.onFatal != nil {
				m.onFatal(&FatalError{
					SessionID: m.cfg.SessionID,
					Reason:    "utterance sequence went backwards",
				})
			}
			return false
		}
		m.lastSeq = result.Sequence
	}

	ev := &protocol.TranscriptEvent{
		Type:       protocol.TypeTranscript,
		SessionID:  m.cfg.SessionID,
		Sequence:   result.Sequence,
		Original:   result.OriginalText,
		Translated: result.TranslatedText,
		SourceLang: m.cfg.SourceLang,
		TargetLang: m.cfg.TargetLang,
		Final:      result.Final,
		Degraded:   result.Degraded,
		ErrorNote:  result.ErrorNote,
		Timestamp:  time.Now(),
	}
	if err := m.transcripts.SendTranscript(ev); err != nil {
		m.logger.Warn("transcript delivery failed",
			slog.String("session_id", m.cfg.SessionID),
			slog.Uint64("sequence", result.Sequence),
			slog.String("error", err.Error()))
	} else {
		m.transcriptsOut++
	}

	// The transcript is already out; only now wait for this utterance's
	// synthesized audio.
	if m.cfg.WantAudio && result.NeedsSynthesis() {
		if synth, ok := m.awaitAudio(ctx, result.Sequence); ok && len(synth.Audio) > 0 {
			m.deliverAudio(synth)
		}
	}
	return true
}

// awaitAudio blocks until the synthesized counterpart of sequence seq
// arrives. The synthesis stage preserves order, so a mismatched sequence
// means the item was abandoned during shutdown; the audio is simply lost,
// never the transcript.
func (m *Multiplexer) awaitAudio(ctx context.Context, seq uint64) (*UtteranceResult, bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case item, ok := <-m.audioIn:
			if !ok {
				return nil, false
			}
			if item.Sequence == seq {
				return item, true
			}
			m.logger.Warn("discarding synthesized audio without a matching utterance",
				slog.String("session_id", m.cfg.SessionID),
				slog.Uint64("sequence", item.Sequence),
				slog.Uint64("awaiting", seq))
		}
	}
}

// deliverAudio splits the result's audio into frame-budget sized frames and
// hands them to the sink back to back. A sink error abandons the remainder
// of this utterance's audio but not the session; the transcript has already
// been delivered.
func (m *Multiplexer) deliverAudio(result *UtteranceResult) {
	rate := result.AudioRate
	frameSamples := int(float64(rate) * m.cfg.FrameBudget.Seconds())
	if frameSamples <= 0 {
		frameSamples = len(result.Audio)
	}

	for offset := 0; offset < len(result.Audio); offset += frameSamples {
		end := offset + frameSamples
		if end > len(result.Audio) {
			end = len(result.Audio)
		}
		frame := &OutboundFrame{
			SessionID:  m.cfg.SessionID,
			Sequence:   result.Sequence,
			Samples:    result.Audio[offset:end],
			SampleRate: rate,
			Last:       end == len(result.Audio),
			Timestamp:  time.Now(),
		}
		if err := m.audio.SendAudioFrame(frame); err != nil {
			m.logger.Warn("audio frame delivery failed",
				slog.String("session_id", m.cfg.SessionID),
				slog.Uint64("sequence", result.Sequence),
				slog.String("error", err.Error()))
			return
		}
		m.framesOut++
	}
}
