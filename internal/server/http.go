package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yuewen-li/speech2speech/internal/config"
	"github.com/yuewen-li/speech2speech/internal/session"
	"github.com/yuewen-li/speech2speech/internal/transcription"
)

// HTTPMetrics receives request measurements from the monitoring endpoints.
type HTTPMetrics interface {
	RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64)
	RecordHTTPError(method, endpoint, errorType string)
}

type nopHTTPMetrics struct{}

func (nopHTTPMetrics) RecordHTTPRequest(string, string, string, float64) {}

func (nopHTTPMetrics) RecordHTTPError(string, string, string) {}

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	sessionMgr  *session.Manager
	transcriber *transcription.Client
	metrics     HTTPMetrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. transcriber may be nil when
// the recognition client is not the bundled HTTP one.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sessionMgr *session.Manager,
	transcriber *transcription.Client, m HTTPMetrics) *HTTPServer {

	if m == nil {
		m = nopHTTPMetrics{}
	}

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		sessionMgr:  sessionMgr,
		transcriber: transcriber,
		metrics:     m,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler exposes the route mux for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	components := map[string]interface{}{
		"session_manager": map[string]interface{}{
			"status":          "running",
			"active_sessions": h.sessionMgr.Count(),
			"max_sessions":    h.config.Signaling.MaxSessions,
		},
	}
	if h.transcriber != nil {
		stats := h.transcriber.GetStats()
		components["transcription"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "speech2speech",
			"version": "1.0.0",
		},
		"components": components,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.sessionMgr.ListStats()

	response := map[string]interface{}{
		"total_sessions": len(stats),
		"timestamp":      time.Now().UTC(),
		"sessions":       stats,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionDetail implements the /sessions/{session_id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Path[len("/sessions/"):]
	if sessionID == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sess, exists := h.sessionMgr.GetSession(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.GetStats())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (API keys live in env vars and are
	// never echoed)
	sanitizedConfig := map[string]interface{}{
		"signaling": map[string]interface{}{
			"port":                h.config.Signaling.Port,
			"bind_address":        h.config.Signaling.BindAddress,
			"negotiation_timeout": h.config.Signaling.NegotiationTimeout,
			"max_sessions":        h.config.Signaling.MaxSessions,
			"stun_servers":        h.config.Signaling.STUNServers,
		},
		"audio": map[string]interface{}{
			"sample_rate":      h.config.Audio.SampleRate,
			"channels":         h.config.Audio.Channels,
			"bit_depth":        h.config.Audio.BitDepth,
			"chunk_policy":     h.config.Audio.ChunkPolicy,
			"min_utterance":    h.config.Audio.MinUtterance,
			"max_utterance":    h.config.Audio.MaxUtterance,
			"silence_duration": h.config.Audio.SilenceDuration,
			"vad_threshold":    h.config.Audio.VADThreshold,
			"overflow_policy":  h.config.Audio.OverflowPolicy,
		},
		"pipeline": map[string]interface{}{
			"queue_capacity": h.config.Pipeline.QueueCapacity,
			"max_attempts":   h.config.Pipeline.MaxAttempts,
			"call_timeout":   h.config.Pipeline.CallTimeout,
			"drain_timeout":  h.config.Pipeline.DrainTimeout,
			"frame_budget":   h.config.Pipeline.FrameBudget,
		},
		"transcription": map[string]interface{}{
			"endpoint":       h.config.Transcription.Endpoint,
			"timeout":        h.config.Transcription.Timeout,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
			"model":          h.config.Transcription.Model,
		},
		"translation": map[string]interface{}{
			"model":   h.config.Translation.Model,
			"timeout": h.config.Translation.Timeout,
		},
		"synthesis": map[string]interface{}{
			"endpoint":       h.config.Synthesis.Endpoint,
			"timeout":        h.config.Synthesis.Timeout,
			"max_concurrent": h.config.Synthesis.MaxConcurrent,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.sessionMgr.Count(),
			"details":      h.sessionMgr.ListStats(),
		},
	}
	if h.transcriber != nil {
		stats["transcription"] = h.transcriber.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Speech-to-Speech Translation Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /sessions":              "List all active sessions",
			"GET /sessions/{session_id}": "Get detailed session information",
			"GET /config":                "Get service configuration",
			"GET /stats":                 "Get service statistics",
			"GET /metrics":               "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
