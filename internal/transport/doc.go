// Package transport carries session media over WebRTC: an inbound Opus
// track decoded to PCM for the pipeline, an outbound Opus track for
// synthesized speech and a data channel for transcript events.
package transport
