// Package audio handles audio chunking and format conversion. It implements
// the utterance chunker with fixed-window and silence-delimited policies,
// ingress overflow handling, WAV encoding for the speech ports, and sample
// rate conversion between the transport and pipeline rates.
package audio
