// Package pipeline implements the staged utterance pipeline: bounded
// queues between stages, per-stage retry with degradation instead of
// drops, and the output multiplexer that keeps transcript and audio
// delivery mutually ordered.
package pipeline
