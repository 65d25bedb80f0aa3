// Package credential persists the single terminal session credential.
//
// The store keeps two string keys (token and RFC 3339 expiry) in a KV
// backend. Storage failures degrade to "no credential"; they never surface
// as errors that would stop a caller from renegotiating.
package credential
