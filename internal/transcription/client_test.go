package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yuewen-li/speech2speech/internal/audio"
	"github.com/yuewen-li/speech2speech/internal/ports"
)

func testChunk() *audio.AudioChunk {
	samples := make([]int16, 16000) // 1s at 16kHz
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	return &audio.AudioChunk{
		SessionID:  "sess-1",
		Sequence:   7,
		Samples:    samples,
		SampleRate: 16000,
		Duration:   time.Second,
	}
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		Endpoint:      endpoint,
		APIKey:        "test-key",
		Model:         "whisper-1",
		Timeout:       5 * time.Second,
		MaxConcurrent: 2,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestClientValidation(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "k"}); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := NewClient(Config{Endpoint: "http://localhost"}); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestTranscribeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("session_id"); got != "sess-1" {
			t.Errorf("session_id = %q", got)
		}
		if got := r.FormValue("sequence"); got != "7" {
			t.Errorf("sequence = %q", got)
		}
		if got := r.FormValue("language"); got != "zh-CN" {
			t.Errorf("language = %q", got)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing audio file: %v", err)
		}
		defer file.Close()
		if header.Filename != "sess-1-7.wav" {
			t.Errorf("filename = %q", header.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"你好世界","confidence":0.94,"language":"zh-CN"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	defer client.Close()

	transcript, err := client.Transcribe(context.Background(), testChunk(), "zh-CN")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if transcript.Text != "你好世界" {
		t.Errorf("text = %q", transcript.Text)
	}
	if transcript.Confidence != 0.94 {
		t.Errorf("confidence = %v", transcript.Confidence)
	}
	if !transcript.Final {
		t.Error("transcript without explicit final flag should default to final")
	}
}

func TestTranscribeErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ports.ErrorKind
	}{
		{"server error", http.StatusInternalServerError, `boom`, ports.KindTransient},
		{"bad gateway", http.StatusBadGateway, `upstream down`, ports.KindTransient},
		{"rate limited", http.StatusTooManyRequests, `slow down`, ports.KindQuota},
		{"unauthorized", http.StatusUnauthorized, `bad key`, ports.KindAuth},
		{"forbidden", http.StatusForbidden, `no access`, ports.KindAuth},
		{
			"language detection failed",
			http.StatusUnprocessableEntity,
			`{"error":{"code":"language_detection_failed","message":"cannot determine language"}}`,
			ports.KindLanguageDetection,
		},
		{
			"audio too short",
			http.StatusUnprocessableEntity,
			`{"error":{"code":"audio_too_short","message":"need at least 100ms"}}`,
			ports.KindAudioTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			defer client.Close()

			_, err := client.Transcribe(context.Background(), testChunk(), "zh-CN")
			if err == nil {
				t.Fatal("expected error")
			}
			var portErr *ports.PortError
			if !errors.As(err, &portErr) {
				t.Fatalf("expected *ports.PortError, got %T: %v", err, err)
			}
			if portErr.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", portErr.Kind, tt.wantKind)
			}
			if portErr.Port != "transcription" {
				t.Errorf("port = %q", portErr.Port)
			}
		})
	}
}

func TestTranscribeStructuredErrorIn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error":{"code":"language_detection_failed","message":"mixed languages"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	defer client.Close()

	_, err := client.Transcribe(context.Background(), testChunk(), "zh-CN")
	var portErr *ports.PortError
	if !errors.As(err, &portErr) || portErr.Kind != ports.KindLanguageDetection {
		t.Fatalf("expected language detection error, got %v", err)
	}
	if ports.IsRetryable(err) {
		t.Error("language detection failure should not be retryable")
	}
}

func TestTranscribeContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	client := newTestClient(t, server.URL)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Transcribe(ctx, testChunk(), "zh-CN")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClientStats(t *testing.T) {
	var fail bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"text":"ok","confidence":1.0}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	defer client.Close()

	if _, err := client.Transcribe(context.Background(), testChunk(), "en-US"); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	fail = true
	if _, err := client.Transcribe(context.Background(), testChunk(), "en-US"); err == nil {
		t.Fatal("expected failure")
	}

	stats := client.GetStats()
	if stats.TotalRequests != 2 {
		t.Errorf("total = %d", stats.TotalRequests)
	}
	if stats.SuccessRequests != 1 || stats.FailedRequests != 1 {
		t.Errorf("success = %d, failed = %d", stats.SuccessRequests, stats.FailedRequests)
	}
	if stats.SuccessRate != 50 {
		t.Errorf("success rate = %v", stats.SuccessRate)
	}
}
