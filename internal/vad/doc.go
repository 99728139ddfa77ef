// Package vad provides energy-based voice activity detection used by the
// silence-delimited chunking policy. Windows of PCM samples are scored for
// voice probability with light smoothing across windows.
package vad
