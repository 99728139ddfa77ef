package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/yuewen-li/speech2speech/internal/config"
	"github.com/yuewen-li/speech2speech/internal/protocol"
	"github.com/yuewen-li/speech2speech/internal/session"
	"github.com/yuewen-li/speech2speech/internal/transport"
)

// PeerConn is the negotiation surface of a media connection. It is
// transport.Conn plus the handshake operations; transport.Peer implements
// it and tests substitute fakes.
type PeerConn interface {
	transport.Conn

	OnICECandidate(func(*protocol.ICECandidate))
	OnConnected(func())
	OnFailed(func())
	HandleOffer(sdp string) (string, error)
	AddICECandidate(candidate *protocol.ICECandidate) error
}

// PeerFactory builds a media connection for a new session.
type PeerFactory func(sessionID string) (PeerConn, error)

// Recorder receives handshake outcome measurements.
type Recorder interface {
	RecordSignalingResult(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSignalingResult(string) {}

// Server accepts WebSocket signaling connections and walks each one
// through the negotiation handshake to an active session.
type Server struct {
	config   config.SignalingConfig
	manager  *session.Manager
	factory  PeerFactory
	logger   *slog.Logger
	recorder Recorder

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates the signaling server. factory is invoked per
// connection to build the media peer.
func NewServer(cfg config.SignalingConfig, manager *session.Manager, factory PeerFactory, logger *slog.Logger, recorder Recorder) *Server {
	if recorder == nil {
		recorder = nopRecorder{}
	}

	s := &Server{
		config:   cfg,
		manager:  manager,
		factory:  factory,
		logger:   logger,
		recorder: recorder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Media auth is carried by the session protocol itself; the
			// signaling endpoint accepts any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/signal", s.handleSignal)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler:      mux,
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
	}

	return s
}

// Handler exposes the signaling HTTP handler, used by tests to mount the
// server on an ephemeral listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving signaling connections. It blocks until the server
// stops.
func (s *Server) Start() error {
	s.logger.Info("signaling server starting",
		slog.String("address", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("signaling server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("signaling server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	s.logger.Info("signaling connection accepted",
		slog.String("remote", r.RemoteAddr))

	h := newHandshake(s, ws)
	h.run()
}
