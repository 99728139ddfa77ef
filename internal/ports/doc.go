// Package ports defines the abstract external-service interfaces the
// pipeline calls but does not implement: transcription, translation and
// synthesis. It also carries the shared error taxonomy and the bounded
// retry policy applied to every port call.
package ports
