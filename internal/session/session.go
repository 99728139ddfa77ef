package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yuewen-li/speech2speech/internal/audio"
	"github.com/yuewen-li/speech2speech/internal/config"
	"github.com/yuewen-li/speech2speech/internal/pipeline"
	"github.com/yuewen-li/speech2speech/internal/ports"
	"github.com/yuewen-li/speech2speech/internal/protocol"
	"github.com/yuewen-li/speech2speech/internal/transport"
)

// State is the session lifecycle state.
type State int32

const (
	StateNegotiating State = iota
	StateActive
	StateDraining
	StateClosed
)

// String returns the state name for logs and the monitoring API.
func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of one session for the monitoring API.
type Stats struct {
	ID                   string             `json:"id"`
	State                string             `json:"state"`
	SourceLang           string             `json:"source_lang"`
	TargetLang           string             `json:"target_lang"`
	ResponseMode         string             `json:"response_mode"`
	StartedAt            time.Time          `json:"started_at"`
	LastActivity         time.Time          `json:"last_activity"`
	FramesReceived       uint64             `json:"frames_received"`
	TranscriptsDelivered uint64             `json:"transcripts_delivered"`
	AudioFramesDelivered uint64             `json:"audio_frames_delivered"`
	Chunker              audio.ChunkerStats `json:"chunker"`
}

// Session runs one client's translation pipeline: inbound frames feed the
// chunker, utterance chunks flow through the recognition, translation and
// synthesis stages, and the multiplexer delivers results back over the
// connection. All stage goroutines belong to the session and are torn down
// by Terminate.
type Session struct {
	id     string
	params protocol.SessionParams
	conn   transport.Conn

	chunker  *audio.Chunker
	asrIn    chan *audio.AudioChunk
	asrStage *pipeline.Stage[*audio.AudioChunk, *pipeline.UtteranceResult]
	trStage  *pipeline.Stage[*pipeline.UtteranceResult, *pipeline.UtteranceResult]
	ttsStage *pipeline.Stage[*pipeline.UtteranceResult, *pipeline.UtteranceResult]
	mux      *pipeline.Multiplexer

	// muxIn and ttsIn exist only in audio mode: a fan-out goroutine feeds
	// the multiplexer and the synthesis stage in parallel so transcript
	// delivery never waits on the synthesizer.
	muxIn chan *pipeline.UtteranceResult
	ttsIn chan *pipeline.UtteranceResult

	transcriber ports.Transcriber
	translator  ports.Translator
	synthesizer ports.Synthesizer

	logger   *slog.Logger
	recorder Recorder

	drainTimeout time.Duration

	state        atomic.Int32
	started      atomic.Bool
	terminating  atomic.Bool
	startedAt    time.Time
	lastActivity atomic.Int64 // unix nanos

	framesReceived       atomic.Uint64
	transcriptsDelivered atomic.Uint64
	framesDelivered      atomic.Uint64

	ingestCtx      context.Context
	ingestCancel   context.CancelFunc
	pipelineCtx    context.Context
	pipelineCancel context.CancelFunc
	pipelineDone   chan struct{}
	done           chan struct{}
}

// New assembles a session from the shared port clients and the per-session
// connection. The session does not process anything until Start.
func New(
	id string,
	params protocol.SessionParams,
	conn transport.Conn,
	audioCfg config.AudioConfig,
	pipeCfg config.PipelineConfig,
	transcriber ports.Transcriber,
	translator ports.Translator,
	synthesizer ports.Synthesizer,
	logger *slog.Logger,
	recorder Recorder,
) (*Session, error) {
	if recorder == nil {
		recorder = NopRecorder{}
	}

	chunker, err := audio.NewChunker(id, audio.ChunkerConfig{
		Policy:          audioCfg.ChunkPolicy,
		SampleRate:      audioCfg.SampleRate,
		WindowDuration:  audioCfg.GetWindowDuration(),
		MinUtterance:    audioCfg.GetMinUtterance(),
		MaxUtterance:    audioCfg.GetMaxUtterance(),
		SilenceDuration: audioCfg.GetSilenceDuration(),
		VADThreshold:    audioCfg.VADThreshold,
		VADWindowSize:   audioCfg.VADWindowSize,
		OverflowPolicy:  audioCfg.OverflowPolicy,
		OverflowTimeout: audioCfg.GetOverflowTimeout(),
		QueueCapacity:   pipeCfg.QueueCapacity,
		Observer:        recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	s := &Session{
		id:           id,
		params:       params,
		conn:         conn,
		chunker:      chunker,
		asrIn:        make(chan *audio.AudioChunk),
		transcriber:  transcriber,
		translator:   translator,
		synthesizer:  synthesizer,
		logger:       logger,
		recorder:     recorder,
		drainTimeout: pipeCfg.GetDrainTimeout(),
		pipelineDone: make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.state.Store(int32(StateNegotiating))
	s.lastActivity.Store(time.Now().UnixNano())

	s.ingestCtx, s.ingestCancel = context.WithCancel(context.Background())
	s.pipelineCtx, s.pipelineCancel = context.WithCancel(context.Background())

	policy := ports.RetryPolicy{
		MaxAttempts:    pipeCfg.MaxAttempts,
		BackoffInitial: pipeCfg.GetBackoffInitial(),
		BackoffMax:     pipeCfg.GetBackoffMax(),
		CallTimeout:    pipeCfg.GetCallTimeout(),
	}

	s.asrStage = pipeline.NewStage(
		pipeline.StageConfig{Name: "transcription", QueueCapacity: pipeCfg.QueueCapacity, Policy: policy},
		s.asrIn, s.transcribeChunk, s.degradeChunk, logger, recorder)

	s.trStage = pipeline.NewStage(
		pipeline.StageConfig{Name: "translation", QueueCapacity: pipeCfg.QueueCapacity, Policy: policy},
		s.asrStage.Out(), s.translateResult, degradeResult, logger, recorder)

	muxIn := s.trStage.Out()
	var audioIn <-chan *pipeline.UtteranceResult
	if params.WantsAudio() {
		s.muxIn = make(chan *pipeline.UtteranceResult, pipeCfg.QueueCapacity)
		s.ttsIn = make(chan *pipeline.UtteranceResult, pipeCfg.QueueCapacity)
		s.ttsStage = pipeline.NewStage(
			pipeline.StageConfig{Name: "synthesis", QueueCapacity: pipeCfg.QueueCapacity, Policy: policy},
			s.ttsIn, s.synthesizeResult, degradeResult, logger, recorder)
		muxIn = s.muxIn
		audioIn = s.ttsStage.Out()
	}

	s.mux = pipeline.NewMultiplexer(pipeline.MuxConfig{
		SessionID:   id,
		SourceLang:  params.SourceLang,
		TargetLang:  params.TargetLang,
		WantAudio:   params.WantsAudio(),
		FrameBudget: pipeCfg.GetFrameBudget(),
	}, muxIn, audioIn, s, s, logger, s.onFatal)

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session is fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// LastActivity returns the time of the last inbound audio frame.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Start transitions the session to active and launches its goroutines.
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	s.startedAt = time.Now()
	s.state.Store(int32(StateActive))
	s.logger.Info("session started",
		slog.String("session_id", s.id),
		slog.String("source_lang", s.params.SourceLang),
		slog.String("target_lang", s.params.TargetLang),
		slog.String("response_mode", s.params.ResponseMode))

	go s.ingestLoop()
	go s.chunkPump()
	go s.asrStage.Run(s.pipelineCtx)
	go s.trStage.Run(s.pipelineCtx)
	if s.ttsStage != nil {
		go s.ttsStage.Run(s.pipelineCtx)
		go s.fanOutResults()
	}
	go func() {
		s.mux.Run(s.pipelineCtx)
		close(s.pipelineDone)
	}()
	go s.watchConn()
}

// ingestLoop feeds inbound frames into the chunker until drain starts or
// the media stream ends.
func (s *Session) ingestLoop() {
	for {
		select {
		case <-s.ingestCtx.Done():
			return
		case frame, ok := <-s.conn.Frames():
			if !ok {
				go s.Terminate("media stream ended")
				return
			}

			s.lastActivity.Store(time.Now().UnixNano())
			s.framesReceived.Add(1)
			s.recorder.RecordFrameReceived()

			if err := s.chunker.Push(frame); err != nil {
				if errors.Is(err, audio.ErrQueueOverflow) {
					s.recorder.RecordChunkDropped()
					s.logger.Warn("chunk dropped on ingress overflow",
						slog.String("session_id", s.id))
					continue
				}
				s.logger.Warn("failed to ingest frame",
					slog.String("session_id", s.id),
					slog.String("error", err.Error()))
			}
		}
	}
}

// chunkPump forwards completed chunks from the chunker to the recognition
// stage, recording per-chunk metrics on the way. It closes the stage input
// when the chunker closes, which cascades drain through the pipeline.
func (s *Session) chunkPump() {
	defer close(s.asrIn)

	for chunk := range s.chunker.Out() {
		s.recorder.RecordChunkGenerated(chunk.Duration.Seconds())
		select {
		case s.asrIn <- chunk:
		case <-s.pipelineCtx.Done():
			return
		}
	}
}

// fanOutResults forwards each translated result to the multiplexer right
// away and queues a copy for the synthesis stage when the result is
// eligible. The multiplexer emits the transcript from its copy and waits on
// the synthesis stage's output only for the audio, so text is never gated
// on the synthesizer. Closing both channels when the translation stage
// drains keeps the shutdown cascade intact.
func (s *Session) fanOutResults() {
	defer close(s.muxIn)
	defer close(s.ttsIn)

	for item := range s.trStage.Out() {
		var forSynthesis *pipeline.UtteranceResult
		if item.NeedsSynthesis() {
			cp := *item
			forSynthesis = &cp
		}

		select {
		case s.muxIn <- item:
		case <-s.pipelineCtx.Done():
			return
		}
		if forSynthesis != nil {
			select {
			case s.ttsIn <- forSynthesis:
			case <-s.pipelineCtx.Done():
				return
			}
		}
	}
}

// watchConn terminates the session when the transport fails underneath it.
func (s *Session) watchConn() {
	select {
	case <-s.conn.Done():
		s.Terminate("transport closed")
	case <-s.done:
	}
}

// transcribeChunk is the recognition stage function.
func (s *Session) transcribeChunk(ctx context.Context, chunk *audio.AudioChunk) (*pipeline.UtteranceResult, error) {
	transcript, err := s.transcriber.Transcribe(ctx, chunk, s.params.SourceLang)
	if err != nil {
		return nil, err
	}

	return &pipeline.UtteranceResult{
		SessionID:    s.id,
		Sequence:     chunk.Sequence,
		SourceLang:   s.params.SourceLang,
		TargetLang:   s.params.TargetLang,
		OriginalText: transcript.Text,
		Final:        transcript.Final && chunk.FinalForUtterance,
		CreatedAt:    time.Now(),
	}, nil
}

// degradeChunk builds the degraded result for a chunk whose recognition
// exhausted its retries. The sequence slot is preserved; the client sees a
// failed utterance, not a gap.
func (s *Session) degradeChunk(chunk *audio.AudioChunk, err error) *pipeline.UtteranceResult {
	return &pipeline.UtteranceResult{
		SessionID:  s.id,
		Sequence:   chunk.Sequence,
		SourceLang: s.params.SourceLang,
		TargetLang: s.params.TargetLang,
		Final:      true,
		Degraded:   true,
		ErrorNote:  errorNote(err),
		CreatedAt:  time.Now(),
	}
}

// translateResult is the translation stage function. Provisional, degraded
// and empty results pass through untouched.
func (s *Session) translateResult(ctx context.Context, item *pipeline.UtteranceResult) (*pipeline.UtteranceResult, error) {
	if !item.Final || item.Degraded || strings.TrimSpace(item.OriginalText) == "" {
		return item, nil
	}

	translated, err := s.translator.Translate(ctx, item.OriginalText, s.params.SourceLang, s.params.TargetLang)
	if err != nil {
		return nil, err
	}

	item.TranslatedText = translated
	return item, nil
}

// synthesizeResult is the synthesis stage function.
func (s *Session) synthesizeResult(ctx context.Context, item *pipeline.UtteranceResult) (*pipeline.UtteranceResult, error) {
	if !item.Final || item.Degraded || strings.TrimSpace(item.TranslatedText) == "" {
		return item, nil
	}

	samples, rate, err := s.synthesizer.Synthesize(ctx, item.TranslatedText, s.params.TargetLang)
	if err != nil {
		return nil, err
	}

	item.Audio = samples
	item.AudioRate = rate
	return item, nil
}

// degradeResult annotates an enrichment failure in place.
func degradeResult(item *pipeline.UtteranceResult, err error) *pipeline.UtteranceResult {
	item.Degraded = true
	item.ErrorNote = errorNote(err)
	return item
}

// errorNote extracts a compact client-facing note from a stage error.
func errorNote(err error) string {
	var portErr *ports.PortError
	if errors.As(err, &portErr) {
		return fmt.Sprintf("%s_%s", portErr.Port, portErr.Kind)
	}
	return "internal_error"
}

// SendTranscript implements pipeline.TranscriptSink, forwarding to the
// connection and counting deliveries.
func (s *Session) SendTranscript(ev *protocol.TranscriptEvent) error {
	if err := s.conn.SendTranscript(ev); err != nil {
		return err
	}
	s.transcriptsDelivered.Add(1)
	s.recorder.RecordTranscriptDelivered()
	return nil
}

// SendAudioFrame implements pipeline.AudioSink.
func (s *Session) SendAudioFrame(frame *pipeline.OutboundFrame) error {
	if err := s.conn.SendAudioFrame(frame); err != nil {
		return err
	}
	s.framesDelivered.Add(1)
	s.recorder.RecordAudioFrameDelivered()
	return nil
}

// onFatal handles internal invariant violations reported by the
// multiplexer.
func (s *Session) onFatal(err error) {
	s.logger.Error("fatal pipeline error",
		slog.String("session_id", s.id),
		slog.String("error", err.Error()))
	go s.Terminate("internal error")
}

// Terminate drains and closes the session. It is idempotent and safe to
// call from any goroutine; concurrent calls collapse into one teardown.
func (s *Session) Terminate(reason string) {
	if !s.terminating.CompareAndSwap(false, true) {
		return
	}

	// A session torn down before Start has no pipeline to drain.
	if !s.started.Load() {
		s.state.Store(int32(StateClosed))
		s.conn.Close()
		close(s.done)
		return
	}

	s.state.Store(int32(StateDraining))
	s.logger.Info("session draining",
		slog.String("session_id", s.id),
		slog.String("reason", reason))

	// Stop ingest first so nothing races the chunker's final flush, then
	// close the chunker; the closed chunk channel cascades shutdown
	// through the stages to the multiplexer.
	s.ingestCancel()
	if err := s.chunker.Close(); err != nil {
		s.logger.Warn("chunker close failed",
			slog.String("session_id", s.id),
			slog.String("error", err.Error()))
	}

	select {
	case <-s.pipelineDone:
	case <-time.After(s.drainTimeout):
		s.logger.Warn("drain timeout exceeded, abandoning in-flight work",
			slog.String("session_id", s.id),
			slog.Duration("drain_timeout", s.drainTimeout))
		s.pipelineCancel()
		<-s.pipelineDone
	}
	s.pipelineCancel()

	s.conn.Close()
	s.state.Store(int32(StateClosed))

	duration := time.Since(s.startedAt)
	s.recorder.RecordSessionClosed(duration.Seconds())
	close(s.done)

	stats := s.chunker.GetStats()
	s.logger.Info("session closed",
		slog.String("session_id", s.id),
		slog.String("reason", reason),
		slog.Duration("duration", duration),
		slog.Uint64("frames_received", s.framesReceived.Load()),
		slog.Uint64("chunks_emitted", stats.ChunksEmitted),
		slog.Uint64("transcripts_delivered", s.transcriptsDelivered.Load()),
		slog.Uint64("audio_frames_delivered", s.framesDelivered.Load()))
}

// GetStats returns a snapshot for the monitoring API.
func (s *Session) GetStats() Stats {
	return Stats{
		ID:                   s.id,
		State:                s.State().String(),
		SourceLang:           s.params.SourceLang,
		TargetLang:           s.params.TargetLang,
		ResponseMode:         s.params.ResponseMode,
		StartedAt:            s.startedAt,
		LastActivity:         s.LastActivity(),
		FramesReceived:       s.framesReceived.Load(),
		TranscriptsDelivered: s.transcriptsDelivered.Load(),
		AudioFramesDelivered: s.framesDelivered.Load(),
		Chunker:              s.chunker.GetStats(),
	}
}
