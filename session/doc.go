// Package session owns the session model, per-identity policy and the
// two-tier read path (Redis mirror in front of a durable [Repository]).
//
// # State
//
// A session is either Active or Terminated(reason, at). Termination is
// one-way. Every transition goes through the Apply* methods on [Session] so
// that all repository implementations enforce the same invariant:
//
//	LastActivityAt <= ExpiresAt <= AbsoluteExpiresAt
//
// # Mirror encoding
//
// The [Mirror] stores a trimmed projection in a compact versioned binary
// format. User agent and location are not mirrored; reads that need them go
// to the durable store.
//
// # Architecture boundaries
//
// This package does NOT decide risk, verify MFA codes or publish events;
// those belong to the Engine.
//
// # What this package must NOT do
//
//   - Import goTrust, risk, or regionsync (no upward imports).
//   - Delete durable rows. Termination is a soft delete.
package session
