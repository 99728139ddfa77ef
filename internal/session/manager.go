package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yuewen-li/speech2speech/internal/config"
	"github.com/yuewen-li/speech2speech/internal/ports"
	"github.com/yuewen-li/speech2speech/internal/protocol"
	"github.com/yuewen-li/speech2speech/internal/transport"
)

// ErrSessionLimit is returned when the configured session cap is reached.
var ErrSessionLimit = fmt.Errorf("session limit reached")

// DuplicateSessionError is returned when a session id is already active.
type DuplicateSessionError struct {
	ID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session %s already active", e.ID)
}

// Manager owns the registry of active sessions. It creates sessions from
// connected transports, enforces the session cap, and sweeps sessions whose
// audio has gone quiet past the inactivity timeout.
type Manager struct {
	audioCfg    config.AudioConfig
	pipeCfg     config.PipelineConfig
	maxSessions int

	transcriber ports.Transcriber
	translator  ports.Translator
	synthesizer ports.Synthesizer

	logger   *slog.Logger
	recorder Recorder

	sessions map[string]*Session
	mu       sync.RWMutex

	stopCleanup chan struct{}
	cleanupWg   sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewManager creates a session manager sharing one set of port clients
// across all sessions.
func NewManager(
	cfg *config.Config,
	transcriber ports.Transcriber,
	translator ports.Translator,
	synthesizer ports.Synthesizer,
	logger *slog.Logger,
	recorder Recorder,
) *Manager {
	if recorder == nil {
		recorder = NopRecorder{}
	}

	return &Manager{
		audioCfg:    cfg.Audio,
		pipeCfg:     cfg.Pipeline,
		maxSessions: cfg.Signaling.MaxSessions,
		transcriber: transcriber,
		translator:  translator,
		synthesizer: synthesizer,
		logger:      logger,
		recorder:    recorder,
		sessions:    make(map[string]*Session),
		stopCleanup: make(chan struct{}),
	}
}

// Start launches the background inactivity sweep.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.cleanupWg.Add(1)
		go m.cleanupLoop()
	})
}

// StartSession registers and starts a session for a connected transport.
// A duplicate id is rejected without touching the existing session.
func (m *Manager) StartSession(id string, params protocol.SessionParams, conn transport.Conn) (*Session, error) {
	m.mu.Lock()

	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, &DuplicateSessionError{ID: id}
	}

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, ErrSessionLimit
	}

	sess, err := New(id, params, conn, m.audioCfg, m.pipeCfg,
		m.transcriber, m.translator, m.synthesizer, m.logger, m.recorder)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.sessions[id] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	m.recorder.RecordSessionCreated()
	m.recorder.SetActiveSessions(count)

	sess.Start()

	// Unregister once the session finishes tearing itself down.
	go func() {
		<-sess.Done()
		m.remove(id)
	}()

	return sess, nil
}

// GetSession looks up an active session by id.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Terminate drains and closes one session. Terminating an id that is not
// registered is a no-op: the session may already have torn itself down.
func (m *Manager) Terminate(id, reason string) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()

	if ok {
		sess.Terminate(reason)
	}
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ListStats returns monitoring snapshots of all registered sessions.
func (m *Manager) ListStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.sessions))
	for _, sess := range m.sessions {
		stats = append(stats, sess.GetStats())
	}
	return stats
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	m.recorder.SetActiveSessions(count)
}

// cleanupLoop drains sessions with no inbound audio past the inactivity
// timeout.
func (m *Manager) cleanupLoop() {
	defer m.cleanupWg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.sweepInactive()
		}
	}
}

func (m *Manager) sweepInactive() {
	timeout := m.audioCfg.GetInactivityTimeout()

	m.mu.RLock()
	var expired []*Session
	for _, sess := range m.sessions {
		if sess.State() == StateActive && time.Since(sess.LastActivity()) > timeout {
			expired = append(expired, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range expired {
		m.logger.Info("terminating inactive session",
			slog.String("session_id", sess.ID()),
			slog.Time("last_activity", sess.LastActivity()))
		sess.Terminate("inactivity timeout")
	}
}

// Shutdown terminates every session and waits for teardown, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
	})
	m.cleanupWg.Wait()

	m.mu.RLock()
	active := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		active = append(active, sess)
	}
	m.mu.RUnlock()

	m.logger.Info("shutting down session manager",
		slog.Int("active_sessions", len(active)))

	for _, sess := range active {
		go sess.Terminate("server shutdown")
	}

	for _, sess := range active {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			return fmt.Errorf("shutdown interrupted with sessions still draining: %w", ctx.Err())
		}
	}

	return nil
}
