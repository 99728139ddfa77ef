// Package server provides the monitoring HTTP API: health checks, active
// session listings, sanitized configuration, service statistics and the
// Prometheus metrics endpoint. Media and signaling traffic do not pass
// through here.
package server
