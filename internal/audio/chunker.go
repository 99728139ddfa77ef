package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/yuewen-li/speech2speech/internal/config"
	"github.com/yuewen-li/speech2speech/internal/vad"
)

// ErrQueueOverflow is returned by Push when a completed chunk could not be
// handed to the pipeline within the configured overflow policy. It is
// observable back-pressure at the ingress edge, not a session-fatal error.
var ErrQueueOverflow = fmt.Errorf("chunk queue overflow")

// chunkerState tracks the silence-delimited utterance state machine.
type chunkerState int

const (
	stateIdle chunkerState = iota
	stateCollecting
)

// Observer receives per-window VAD outcomes and discard decisions so the
// metrics layer can count them. Implementations must be safe for concurrent
// use; a nil Observer disables reporting.
type Observer interface {
	RecordVADWindow(hasVoice bool)
	RecordChunkDiscarded(reason string)
}

// Discard reasons reported through the Observer.
const (
	DiscardSilent   = "silent"
	DiscardTooShort = "too_short"
)

// ChunkerConfig contains configuration for the chunking process.
type ChunkerConfig struct {
	Policy          string        // config.PolicyFixedWindow or config.PolicySilenceDelimited
	SampleRate      int
	WindowDuration  time.Duration // fixed-window emit interval
	MinUtterance    time.Duration // shorter utterances are discarded
	MaxUtterance    time.Duration // safety valve
	SilenceDuration time.Duration // trailing silence that closes an utterance
	VADThreshold    float32
	VADWindowSize   int
	OverflowPolicy  string        // config.OverflowDropOldest or config.OverflowBlock
	OverflowTimeout time.Duration
	QueueCapacity   int
	Observer        Observer      // optional metrics hook
}

// ChunkerStats represents chunker statistics for monitoring.
type ChunkerStats struct {
	ChunksEmitted   uint64        `json:"chunks_emitted"`
	ChunksDropped   uint64        `json:"chunks_dropped"`
	SilentDiscarded uint64        `json:"silent_discarded"`
	ShortDiscarded  uint64        `json:"short_discarded"`
	PendingDuration time.Duration `json:"pending_duration"`
}

// Chunker converts a continuous inbound PCM frame stream into discrete
// AudioChunks. It owns the bounded queue feeding the transcription stage:
// when the queue is full, the configured overflow policy decides between
// dropping the oldest unsent chunk and blocking with a bounded timeout.
// Dropping decisions happen only here, never mid-pipeline.
type Chunker struct {
	config    ChunkerConfig
	sessionID string
	detector  *vad.Detector
	out       chan *AudioChunk

	// Utterance assembly
	state          chunkerState
	pending        []int16 // samples of the utterance in progress
	vadBuf         []int16 // partial VAD window accumulation
	silenceSamples int     // trailing silence inside the current utterance
	voicedWindows  int     // voiced VAD windows in the current utterance
	utteranceStart time.Time

	// Sequence tracking; assigned only on emit so discarded material never
	// leaves gaps in delivered sequence numbers
	nextSeq uint64

	// Statistics
	chunksEmitted   uint64
	chunksDropped   uint64
	silentDiscarded uint64
	shortDiscarded  uint64

	closed bool
	mu     sync.Mutex
}

// NewChunker creates a chunker for one session.
func NewChunker(sessionID string, cfg ChunkerConfig) (*Chunker, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}

	if cfg.QueueCapacity < 1 {
		return nil, fmt.Errorf("queue capacity must be at least 1, got %d", cfg.QueueCapacity)
	}

	if cfg.Policy != config.PolicyFixedWindow && cfg.Policy != config.PolicySilenceDelimited {
		return nil, fmt.Errorf("unknown chunk policy '%s'", cfg.Policy)
	}

	detector, err := vad.NewDetector(cfg.VADThreshold, cfg.VADWindowSize, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD detector: %w", err)
	}

	return &Chunker{
		config:    cfg,
		sessionID: sessionID,
		detector:  detector,
		out:       make(chan *AudioChunk, cfg.QueueCapacity),
		nextSeq:   1,
	}, nil
}

// Out returns the channel on which completed chunks are delivered. The
// channel is closed by Close after the final flush.
func (c *Chunker) Out() <-chan *AudioChunk {
	return c.out
}

// Push feeds a frame of PCM samples into the chunker. It never blocks
// longer than the configured overflow timeout. A returned ErrQueueOverflow
// means a chunk was dropped at ingress; the caller should count it and
// carry on.
func (c *Chunker) Push(frame []int16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("chunker is closed")
	}

	if len(frame) == 0 {
		return nil
	}

	c.vadBuf = append(c.vadBuf, frame...)

	var overflow error
	for len(c.vadBuf) >= c.config.VADWindowSize {
		window := c.vadBuf[:c.config.VADWindowSize]
		c.vadBuf = c.vadBuf[c.config.VADWindowSize:]

		if err := c.processWindow(window); err != nil {
			overflow = err
		}
	}

	return overflow
}

// processWindow runs one VAD window through the configured policy.
// Callers hold c.mu.
func (c *Chunker) processWindow(window []int16) error {
	result, err := c.detector.Process(window)
	if err != nil {
		return fmt.Errorf("vad processing failed: %w", err)
	}

	if c.config.Observer != nil {
		c.config.Observer.RecordVADWindow(result.HasVoice)
	}

	switch c.config.Policy {
	case config.PolicyFixedWindow:
		return c.processFixedWindow(window, result)
	default:
		return c.processSilenceDelimited(window, result)
	}
}

// processFixedWindow accumulates samples and emits a chunk every
// WindowDuration of audio regardless of content. A window with zero voiced
// VAD windows is pure silence and is discarded, not forwarded.
func (c *Chunker) processFixedWindow(window []int16, result *vad.Result) error {
	if c.state == stateIdle {
		c.state = stateCollecting
		c.utteranceStart = time.Now()
		c.voicedWindows = 0
	}

	c.pending = append(c.pending, window...)
	if result.HasVoice {
		c.voicedWindows++
	}

	if SamplesDuration(len(c.pending), c.config.SampleRate) >= c.config.WindowDuration {
		return c.finalizePending(true)
	}

	return nil
}

// processSilenceDelimited implements the utterance state machine: idle until
// voice appears, collect until trailing silence reaches SilenceDuration or
// the utterance hits the MaxUtterance safety valve.
func (c *Chunker) processSilenceDelimited(window []int16, result *vad.Result) error {
	switch c.state {
	case stateIdle:
		if !result.HasVoice {
			return nil // leading silence is not buffered
		}
		c.state = stateCollecting
		c.utteranceStart = time.Now()
		c.pending = append(c.pending[:0], window...)
		c.voicedWindows = 1
		c.silenceSamples = 0
		return nil

	case stateCollecting:
		c.pending = append(c.pending, window...)
		if result.HasVoice {
			c.voicedWindows++
			c.silenceSamples = 0
		} else {
			c.silenceSamples += len(window)
		}

		trailingSilence := SamplesDuration(c.silenceSamples, c.config.SampleRate)
		total := SamplesDuration(len(c.pending), c.config.SampleRate)

		if trailingSilence >= c.config.SilenceDuration || total >= c.config.MaxUtterance {
			return c.finalizePending(true)
		}
	}

	return nil
}

// finalizePending closes the utterance in progress, applying the
// minimum-viable-utterance and pure-silence discards. Callers hold c.mu.
func (c *Chunker) finalizePending(final bool) error {
	defer func() {
		c.state = stateIdle
		c.pending = nil
		c.silenceSamples = 0
		c.voicedWindows = 0
	}()

	if len(c.pending) == 0 {
		return nil
	}

	if c.voicedWindows == 0 {
		c.silentDiscarded++
		if c.config.Observer != nil {
			c.config.Observer.RecordChunkDiscarded(DiscardSilent)
		}
		return nil
	}

	voicedDuration := SamplesDuration(len(c.pending)-c.silenceSamples, c.config.SampleRate)
	if voicedDuration < c.config.MinUtterance {
		c.shortDiscarded++
		if c.config.Observer != nil {
			c.config.Observer.RecordChunkDiscarded(DiscardTooShort)
		}
		return nil
	}

	now := time.Now()
	chunk := &AudioChunk{
		SessionID:         c.sessionID,
		Sequence:          c.nextSeq,
		Samples:           append([]int16(nil), c.pending...),
		SampleRate:        c.config.SampleRate,
		StartTime:         c.utteranceStart,
		EndTime:           now,
		Duration:          SamplesDuration(len(c.pending), c.config.SampleRate),
		FinalForUtterance: final,
	}

	return c.deliver(chunk)
}

// deliver hands a completed chunk to the outbound queue under the overflow
// policy. Callers hold c.mu.
func (c *Chunker) deliver(chunk *AudioChunk) error {
	select {
	case c.out <- chunk:
		c.nextSeq++
		c.chunksEmitted++
		return nil
	default:
	}

	switch c.config.OverflowPolicy {
	case config.OverflowDropOldest:
		// Make room by discarding the oldest unsent chunk
		select {
		case <-c.out:
			c.chunksDropped++
		default:
		}
		select {
		case c.out <- chunk:
			c.nextSeq++
			c.chunksEmitted++
			return ErrQueueOverflow
		default:
			c.chunksDropped++
			return ErrQueueOverflow
		}

	default: // config.OverflowBlock
		timer := time.NewTimer(c.config.OverflowTimeout)
		defer timer.Stop()

		select {
		case c.out <- chunk:
			c.nextSeq++
			c.chunksEmitted++
			return nil
		case <-timer.C:
			c.chunksDropped++
			return ErrQueueOverflow
		}
	}
}

// Flush force-finalizes any utterance in progress. Used when the session
// drains so trailing speech is not lost.
func (c *Chunker) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	// Fold any partial VAD window into the pending utterance first
	if c.state == stateCollecting && len(c.vadBuf) > 0 {
		c.pending = append(c.pending, c.vadBuf...)
		c.vadBuf = nil
	}

	return c.finalizePending(true)
}

// Close flushes pending audio and closes the outbound channel. Safe to call
// once; Push after Close fails.
func (c *Chunker) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	if c.state == stateCollecting && len(c.vadBuf) > 0 {
		c.pending = append(c.pending, c.vadBuf...)
		c.vadBuf = nil
	}

	err := c.finalizePending(true)
	c.closed = true
	close(c.out)
	return err
}

// GetStats returns current chunker statistics.
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChunkerStats{
		ChunksEmitted:   c.chunksEmitted,
		ChunksDropped:   c.chunksDropped,
		SilentDiscarded: c.silentDiscarded,
		ShortDiscarded:  c.shortDiscarded,
		PendingDuration: SamplesDuration(len(c.pending), c.config.SampleRate),
	}
}

// HasPendingUtterance reports whether an utterance is currently collecting.
func (c *Chunker) HasPendingUtterance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateCollecting
}
