// Package signaling implements the WebSocket control channel that
// negotiates media connections and hands established ones to the session
// manager. Each connection runs a small state machine: the client sends
// session_init, exchanges an SDP offer/answer and trickle ICE candidates,
// and receives session_ready once the media transport connects. After
// that the socket stays open as the session's control plane; closing it
// drains the session.
package signaling
