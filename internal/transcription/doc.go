// Package transcription implements the speech recognition port over a
// multipart HTTP API: utterance chunks are uploaded as WAV files and
// failures come back classified for the pipeline's retry policy.
package transcription
