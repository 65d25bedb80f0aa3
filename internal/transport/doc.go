// Package transport owns the single live duplex stream for a session token.
//
// Ownership boundary:
// - connection state machine (idle -> connecting -> open -> closed)
// - pending input drain on open
// - close-code classification and bounded reconnect scheduling
// - output subscriber fan-out
//
// The socket is owned here exclusively; other packages reach it only
// through Transport methods.
package transport
