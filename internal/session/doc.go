// Package session orchestrates one translation session per connected
// client and the registry managing them: lifecycle state, pipeline wiring,
// drain on close and inactivity sweeping.
package session
