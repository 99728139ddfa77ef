// Package protocol defines the JSON wire messages for the signaling channel
// and the structured event stream. It validates session parameters and
// message envelopes so malformed input is rejected at the connection edge.
package protocol
