// Package protocol owns the terminal stream wire contract.
//
// Ownership boundary:
// - tagged JSON frames exchanged over the duplex stream
// - reserved close codes
// - direction-aware validation entry points
//
// Reliability primitives (backoff, pending input, timing) live in
// protocol/session.
package protocol
