package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yuewen-li/speech2speech/internal/audio"
	"github.com/yuewen-li/speech2speech/internal/config"
	"github.com/yuewen-li/speech2speech/internal/ports"
	"github.com/yuewen-li/speech2speech/internal/session"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(context.Context, *audio.AudioChunk, string) (*ports.Transcript, error) {
	return &ports.Transcript{Text: "hello", Final: true}, nil
}

type stubTranslator struct{}

func (stubTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

type stubSynthesizer struct{}

func (stubSynthesizer) Synthesize(context.Context, string, string) ([]int16, int, error) {
	return nil, 16000, nil
}

func testAppConfig() *config.Config {
	return &config.Config{
		Signaling: config.SignalingConfig{
			Port:        8443,
			BindAddress: "0.0.0.0",
			MaxSessions: 10,
		},
		HTTP: config.HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Audio: config.AudioConfig{
			SampleRate:   16000,
			Channels:     1,
			BitDepth:     16,
			ChunkPolicy:  config.PolicySilenceDelimited,
			MinUtterance: 0.5,
		},
		Transcription: config.TranscriptionConfig{
			Endpoint:  "http://localhost:9000/transcribe",
			APIKeyEnv: "ASR_API_KEY",
			Timeout:   30,
		},
		Logging: config.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func newTestHTTPServer(t *testing.T) *HTTPServer {
	t.Helper()

	cfg := testAppConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := session.NewManager(cfg, stubTranscriber{}, stubTranslator{}, stubSynthesizer{}, logger, nil)

	return NewHTTPServer(cfg.HTTP, logger, cfg, mgr, nil, nil)
}

func doRequest(t *testing.T, h *HTTPServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	h := newTestHTTPServer(t)

	rec := doRequest(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health response is not JSON: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", body["status"])
	}
	if _, ok := body["components"]; !ok {
		t.Error("health response missing components")
	}
}

func TestHandleHealthMethodNotAllowed(t *testing.T) {
	h := newTestHTTPServer(t)

	rec := doRequest(t, h, http.MethodPost, "/health")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleSessionsEmpty(t *testing.T) {
	h := newTestHTTPServer(t)

	rec := doRequest(t, h, http.MethodGet, "/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		TotalSessions int `json:"total_sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("sessions response is not JSON: %v", err)
	}
	if body.TotalSessions != 0 {
		t.Errorf("expected 0 sessions, got %d", body.TotalSessions)
	}
}

func TestHandleSessionDetailNotFound(t *testing.T) {
	h := newTestHTTPServer(t)

	rec := doRequest(t, h, http.MethodGet, "/sessions/no-such-id")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleConfigOmitsSecrets(t *testing.T) {
	h := newTestHTTPServer(t)

	rec := doRequest(t, h, http.MethodGet, "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if strings.Contains(body, "api_key") || strings.Contains(body, "ASR_API_KEY") {
		t.Error("config response leaks API key settings")
	}
	if !strings.Contains(body, "silence_delimited") {
		t.Error("config response missing audio chunk policy")
	}
}

func TestHandleRoot(t *testing.T) {
	h := newTestHTTPServer(t)

	rec := doRequest(t, h, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("root response is not JSON: %v", err)
	}
	if _, ok := body["endpoints"]; !ok {
		t.Error("root response missing endpoint documentation")
	}
}

func TestHandleRootUnknownPath(t *testing.T) {
	h := newTestHTTPServer(t)

	rec := doRequest(t, h, http.MethodGet, "/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
