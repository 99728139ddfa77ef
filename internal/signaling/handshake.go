package signaling

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yuewen-li/speech2speech/internal/protocol"
)

// Handshake states. A connection advances strictly forward; any protocol
// violation during negotiation fails the whole handshake.
type handshakeState int

const (
	stateAwaitInit handshakeState = iota
	stateAwaitOffer
	stateConnecting
	stateConnected
	stateFailed
)

func (s handshakeState) String() string {
	switch s {
	case stateAwaitInit:
		return "await_init"
	case stateAwaitOffer:
		return "await_offer"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// handshake drives one signaling connection from session_init to an active
// session, then relays control messages for the session's lifetime.
type handshake struct {
	server *Server
	ws     *websocket.Conn
	logger *slog.Logger

	sessionID string
	params    protocol.SessionParams
	peer      PeerConn

	state    handshakeState
	negTimer *time.Timer
	stop     chan struct{}

	mu       sync.Mutex // guards state transitions and peer
	writeMu  sync.Mutex // serializes websocket writes
	stopOnce sync.Once
}

func newHandshake(s *Server, ws *websocket.Conn) *handshake {
	return &handshake{
		server: s,
		ws:     ws,
		logger: s.logger,
		state:  stateAwaitInit,
		stop:   make(chan struct{}),
	}
}

// run executes the read loop until the connection drops. All inbound
// signaling passes through here; peer callbacks arrive on other goroutines
// and take h.mu.
func (h *handshake) run() {
	defer h.cleanup()

	h.negTimer = time.AfterFunc(h.server.config.GetNegotiationTimeout(), h.onNegotiationTimeout)

	h.ws.SetReadDeadline(time.Now().Add(h.server.config.GetPongTimeout()))
	h.ws.SetPongHandler(func(string) error {
		return h.ws.SetReadDeadline(time.Now().Add(h.server.config.GetPongTimeout()))
	})
	go h.keepalive()

	for {
		_, data, err := h.ws.ReadMessage()
		if err != nil {
			return
		}
		// Any traffic proves liveness.
		h.ws.SetReadDeadline(time.Now().Add(h.server.config.GetPongTimeout()))

		msg, err := protocol.Decode(data)
		if err != nil {
			h.logger.Warn("rejecting malformed signaling message",
				slog.String("session_id", h.sessionID),
				slog.String("error", err.Error()))
			h.fail("bad_message", err.Error())
			return
		}

		if !h.handle(msg) {
			return
		}
	}
}

// handle processes one message; the return value is whether the read loop
// should continue.
func (h *handshake) handle(msg *protocol.Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg.Type {
	case protocol.TypeSessionInit:
		return h.handleInit(msg)
	case protocol.TypeOffer:
		return h.handleOffer(msg)
	case protocol.TypeCandidate:
		return h.handleCandidate(msg)
	case protocol.TypeStop, protocol.TypeClose:
		return h.handleStop(msg.Type)
	default:
		h.failLocked("unexpected_message",
			fmt.Sprintf("message type '%s' not valid in state %s", msg.Type, h.state))
		return false
	}
}

func (h *handshake) handleInit(msg *protocol.Message) bool {
	if h.state != stateAwaitInit {
		h.failLocked("unexpected_message", "session already initialized")
		return false
	}

	h.params = *msg.Params
	h.sessionID = uuid.New().String()

	peer, err := h.server.factory(h.sessionID)
	if err != nil {
		h.logger.Error("failed to create media peer",
			slog.String("session_id", h.sessionID),
			slog.String("error", err.Error()))
		h.failLocked("internal_error", "failed to prepare media connection")
		return false
	}
	h.peer = peer

	peer.OnICECandidate(h.onLocalCandidate)
	peer.OnConnected(h.onPeerConnected)
	peer.OnFailed(h.onPeerFailed)

	h.state = stateAwaitOffer
	h.logger.Info("session negotiation started",
		slog.String("session_id", h.sessionID),
		slog.String("source_lang", h.params.SourceLang),
		slog.String("target_lang", h.params.TargetLang),
		slog.String("response_mode", h.params.ResponseMode))
	return true
}

func (h *handshake) handleOffer(msg *protocol.Message) bool {
	if h.state != stateAwaitOffer {
		h.failLocked("unexpected_message",
			fmt.Sprintf("offer not valid in state %s", h.state))
		return false
	}

	answer, err := h.peer.HandleOffer(msg.SDP)
	if err != nil {
		h.logger.Warn("failed to handle SDP offer",
			slog.String("session_id", h.sessionID),
			slog.String("error", err.Error()))
		h.failLocked("bad_offer", "could not apply SDP offer")
		return false
	}

	h.state = stateConnecting
	h.send(&protocol.Message{Type: protocol.TypeAnswer, SDP: answer})
	return true
}

func (h *handshake) handleCandidate(msg *protocol.Message) bool {
	if h.state != stateConnecting && h.state != stateConnected {
		h.failLocked("unexpected_message",
			fmt.Sprintf("candidate not valid in state %s", h.state))
		return false
	}

	// Re-sent candidates are deduplicated by the ICE agent; an individual
	// bad candidate is logged and skipped, not fatal.
	if err := h.peer.AddICECandidate(msg.Candidate); err != nil {
		h.logger.Warn("failed to add remote ICE candidate",
			slog.String("session_id", h.sessionID),
			slog.String("error", err.Error()))
	}
	return true
}

func (h *handshake) handleStop(msgType string) bool {
	if h.state == stateConnected {
		h.logger.Info("client requested stop",
			slog.String("session_id", h.sessionID),
			slog.String("message", msgType))
		// Drain delivers everything already captured before the session
		// closes.
		h.server.manager.Terminate(h.sessionID, "client stop")
		h.send(&protocol.Message{Type: protocol.TypeClose, Reason: "stopped"})
		return false
	}

	h.failLocked("cancelled", "client cancelled negotiation")
	return false
}

// onLocalCandidate trickles a locally gathered candidate to the client.
func (h *handshake) onLocalCandidate(c *protocol.ICECandidate) {
	h.send(&protocol.Message{Type: protocol.TypeCandidate, Candidate: c})
}

// onPeerConnected promotes the negotiated connection to an active session.
// Called from the transport's goroutine.
func (h *handshake) onPeerConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateConnecting {
		return
	}

	h.negTimer.Stop()

	sess, err := h.server.manager.StartSession(h.sessionID, h.params, h.peer)
	if err != nil {
		h.logger.Warn("failed to start session",
			slog.String("session_id", h.sessionID),
			slog.String("error", err.Error()))
		h.server.recorder.RecordSignalingResult("rejected")
		h.failLocked("session_rejected", err.Error())
		return
	}

	h.state = stateConnected
	h.server.recorder.RecordSignalingResult("connected")
	h.send(&protocol.Message{Type: protocol.TypeSessionReady, SessionID: sess.ID()})

	h.logger.Info("session negotiation completed",
		slog.String("session_id", h.sessionID))
}

func (h *handshake) onPeerFailed() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateConnected || h.state == stateFailed {
		return
	}
	h.server.recorder.RecordSignalingResult("failed")
	h.failLocked("transport_failed", "media connection failed")
}

func (h *handshake) onNegotiationTimeout() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateConnected || h.state == stateFailed {
		return
	}
	h.logger.Warn("negotiation timed out",
		slog.String("session_id", h.sessionID),
		slog.String("state", h.state.String()))
	h.server.recorder.RecordSignalingResult("timeout")
	h.failLocked("negotiation_timeout", "negotiation did not complete in time")
}

// fail reports an error to the client and tears the connection down.
func (h *handshake) fail(code, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failLocked(code, reason)
}

// failLocked requires h.mu.
func (h *handshake) failLocked(code, reason string) {
	if h.state == stateFailed {
		return
	}
	h.state = stateFailed

	h.send(&protocol.Message{Type: protocol.TypeError, Code: code, Reason: reason})
	h.ws.Close()
}

// send writes one message, serialized against concurrent writers. Write
// errors are not fatal here; the read loop notices a dead connection.
func (h *handshake) send(msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("failed to encode signaling message",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()))
		return
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := h.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn("failed to write signaling message",
			slog.String("session_id", h.sessionID),
			slog.String("type", msg.Type),
			slog.String("error", err.Error()))
	}
}

func (h *handshake) keepalive() {
	ticker := time.NewTicker(h.server.config.GetPingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.writeMu.Lock()
			err := h.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			h.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// cleanup runs when the read loop exits for any reason.
func (h *handshake) cleanup() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.negTimer.Stop()

	h.mu.Lock()
	state := h.state
	peer := h.peer
	sessionID := h.sessionID
	h.mu.Unlock()

	h.ws.Close()

	switch state {
	case stateConnected:
		// The signaling channel is the session's control plane; losing it
		// drains the session.
		h.server.manager.Terminate(sessionID, "signaling connection closed")
	default:
		if peer != nil {
			peer.Close()
		}
		if state != stateFailed && state != stateAwaitInit {
			h.server.recorder.RecordSignalingResult("abandoned")
		}
	}

	h.logger.Info("signaling connection closed",
		slog.String("session_id", sessionID),
		slog.String("state", state.String()))
}
