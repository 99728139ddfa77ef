package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/yuewen-li/speech2speech/internal/config"
	"github.com/yuewen-li/speech2speech/internal/protocol"
)

func testManagerConfig() *config.Config {
	return &config.Config{
		Signaling: config.SignalingConfig{
			Port:               8090,
			BindAddress:        "127.0.0.1",
			NegotiationTimeout: 10,
			PingInterval:       15,
			PongTimeout:        30,
			MaxSessions:        2,
		},
		Audio:    testAudioConfig(),
		Pipeline: testPipelineConfig(),
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(testManagerConfig(),
		&fakeTranscriber{}, &fakeTranslator{}, &fakeSynthesizer{},
		slog.Default(), nil)
}

func TestManagerStartSession(t *testing.T) {
	m := newTestManager(t)

	conn := newFakeConn()
	sess, err := m.StartSession("sess-1", testParams(protocol.ModeTranscript), conn)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if sess.State() != StateActive {
		t.Errorf("state = %v", sess.State())
	}
	if m.Count() != 1 {
		t.Errorf("count = %d", m.Count())
	}

	got, ok := m.GetSession("sess-1")
	if !ok || got != sess {
		t.Error("GetSession did not return the started session")
	}

	sess.Terminate("test done")
	<-sess.Done()
	waitFor(t, "unregistration", func() bool { return m.Count() == 0 })
}

func TestManagerRejectsDuplicateID(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.StartSession("sess-1", testParams(protocol.ModeTranscript), newFakeConn()); err != nil {
		t.Fatalf("first StartSession failed: %v", err)
	}

	_, err := m.StartSession("sess-1", testParams(protocol.ModeTranscript), newFakeConn())
	var dup *DuplicateSessionError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateSessionError, got %v", err)
	}
	if dup.ID != "sess-1" {
		t.Errorf("duplicate id = %q", dup.ID)
	}
	// The original session is untouched.
	if sess, ok := m.GetSession("sess-1"); !ok || sess.State() != StateActive {
		t.Error("original session should remain active")
	}
}

func TestManagerEnforcesSessionLimit(t *testing.T) {
	m := newTestManager(t) // MaxSessions: 2

	for i, id := range []string{"sess-1", "sess-2"} {
		if _, err := m.StartSession(id, testParams(protocol.ModeTranscript), newFakeConn()); err != nil {
			t.Fatalf("session %d failed: %v", i, err)
		}
	}

	if _, err := m.StartSession("sess-3", testParams(protocol.ModeTranscript), newFakeConn()); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("expected ErrSessionLimit, got %v", err)
	}

	// Freeing a slot admits the next session.
	m.Terminate("sess-1", "make room")
	waitFor(t, "slot release", func() bool { return m.Count() == 1 })

	if _, err := m.StartSession("sess-3", testParams(protocol.ModeTranscript), newFakeConn()); err != nil {
		t.Fatalf("StartSession after release failed: %v", err)
	}
}

func TestManagerTerminateUnknownSession(t *testing.T) {
	m := newTestManager(t)

	// Terminating an unregistered id is a quiet no-op, not an error.
	m.Terminate("nope", "test")

	if _, err := m.StartSession("sess-1", testParams(protocol.ModeTranscript), newFakeConn()); err != nil {
		t.Fatalf("StartSession after no-op terminate failed: %v", err)
	}
	if got := m.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
}

func TestManagerListStats(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.StartSession("sess-1", testParams(protocol.ModeTranscriptAudio), newFakeConn()); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	stats := m.ListStats()
	if len(stats) != 1 {
		t.Fatalf("got %d stats, want 1", len(stats))
	}
	if stats[0].ID != "sess-1" || stats[0].State != "active" {
		t.Errorf("stats = %+v", stats[0])
	}
	if stats[0].ResponseMode != protocol.ModeTranscriptAudio {
		t.Errorf("response mode = %q", stats[0].ResponseMode)
	}
}

func TestManagerShutdown(t *testing.T) {
	m := newTestManager(t)
	m.Start()

	var sessions []*Session
	for _, id := range []string{"sess-1", "sess-2"} {
		sess, err := m.StartSession(id, testParams(protocol.ModeTranscript), newFakeConn())
		if err != nil {
			t.Fatalf("StartSession failed: %v", err)
		}
		sessions = append(sessions, sess)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	for _, sess := range sessions {
		if sess.State() != StateClosed {
			t.Errorf("session %s state = %v after shutdown", sess.ID(), sess.State())
		}
	}
}
