package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the translation service
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsClosed   prometheus.Counter
	SessionDuration  prometheus.Histogram
	SignalingResults *prometheus.CounterVec

	// Ingress / chunking metrics
	FramesReceived      prometheus.Counter
	VADWindowsProcessed prometheus.Counter
	VADVoiceDetected    prometheus.Counter
	ChunksGenerated     prometheus.Counter
	ChunksDiscarded     *prometheus.CounterVec
	ChunksDropped       prometheus.Counter
	ChunkDuration       prometheus.Histogram

	// Pipeline stage metrics
	StageRetries       *prometheus.CounterVec
	StageDegradations  *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec

	// Output metrics
	TranscriptsDelivered prometheus.Counter
	AudioFramesDelivered prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "s2s_active_sessions",
			Help: "Current number of active translation sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "s2s_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "s2s_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "s2s_session_duration_seconds",
			Help:    "Duration of translation sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		SignalingResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "s2s_signaling_results_total",
			Help: "Handshake outcomes by result",
		}, []string{"result"}),

		// Ingress / chunking metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "s2s_ingress_frames_total",
			Help: "Total number of decoded audio frames received",
		}),
		VADWindowsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "s2s_vad_windows_processed_total",
			Help: "Total number of VAD windows processed",
		}),
		VADVoiceDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "s2s_vad_voice_detected_total",
			Help: "Total number of VAD windows with voice detected",
		}),
		ChunksGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "s2s_audio_chunks_generated_total",
			Help: "Total number of utterance chunks generated",
		}),
		ChunksDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "s2s_audio_chunks_discarded_total",
			Help: "Utterance chunks discarded before sequencing, by reason",
		}, []string{"reason"}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "s2s_audio_chunks_dropped_total",
			Help: "Utterance chunks dropped by the ingress overflow policy",
		}),
		ChunkDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "s2s_chunk_duration_seconds",
			Help:    "Duration of generated utterance chunks",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~1 minute
		}),

		// Pipeline stage metrics
		StageRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "s2s_stage_retries_total",
			Help: "Total number of stage call retries",
		}, []string{"stage"}),
		StageDegradations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "s2s_stage_degradations_total",
			Help: "Utterances degraded after exhausting stage retries",
		}, []string{"stage"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "s2s_stage_duration_seconds",
			Help:    "Stage processing time per utterance, including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~2 minutes
		}, []string{"stage"}),

		// Output metrics
		TranscriptsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "s2s_transcripts_delivered_total",
			Help: "Total number of transcript events delivered to clients",
		}),
		AudioFramesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "s2s_audio_frames_delivered_total",
			Help: "Total number of synthesized audio frames delivered to clients",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "s2s_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "s2s_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "s2s_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionClosed increments the sessions closed counter and records duration
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSignalingResult records one handshake outcome ("connected",
// "timeout", "rejected" or "failed")
func (m *Metrics) RecordSignalingResult(result string) {
	m.SignalingResults.WithLabelValues(result).Inc()
}

// RecordFrameReceived increments the ingress frame counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordVADWindow increments VAD windows processed and optionally voice detected
func (m *Metrics) RecordVADWindow(hasVoice bool) {
	m.VADWindowsProcessed.Inc()
	if hasVoice {
		m.VADVoiceDetected.Inc()
	}
}

// RecordChunkGenerated records a generated utterance chunk
func (m *Metrics) RecordChunkGenerated(durationSeconds float64) {
	m.ChunksGenerated.Inc()
	m.ChunkDuration.Observe(durationSeconds)
}

// RecordChunkDiscarded records a chunk discarded before sequencing
// ("silent" or "too_short")
func (m *Metrics) RecordChunkDiscarded(reason string) {
	m.ChunksDiscarded.WithLabelValues(reason).Inc()
}

// RecordChunkDropped records a chunk dropped by the overflow policy
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// StageRetry records one retry of a stage call
func (m *Metrics) StageRetry(stage string) {
	m.StageRetries.WithLabelValues(stage).Inc()
}

// StageDegraded records an utterance degraded after exhausted retries
func (m *Metrics) StageDegraded(stage string) {
	m.StageDegradations.WithLabelValues(stage).Inc()
}

// StageProcessed records total stage processing time for one utterance
func (m *Metrics) StageProcessed(stage string, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordTranscriptDelivered increments the delivered transcript counter
func (m *Metrics) RecordTranscriptDelivered() {
	m.TranscriptsDelivered.Inc()
}

// RecordAudioFrameDelivered increments the delivered audio frame counter
func (m *Metrics) RecordAudioFrameDelivered() {
	m.AudioFramesDelivered.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
