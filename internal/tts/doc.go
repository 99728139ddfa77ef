// Package tts implements the speech synthesis port over an HTTP API that
// returns WAV audio.
package tts
