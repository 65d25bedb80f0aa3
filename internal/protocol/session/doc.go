// Package session owns client<->sandbox session reliability primitives.
//
// Ownership boundary:
// - reconnect backoff policy
// - pending input queue
// - transport timing and security defaults
//
// Wire frames live in the parent protocol package; the live socket and its
// state machine live in internal/transport.
package session
