// Package internal contains helpers that are private to goTrust, such as
// session id generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for every Engine operation
//   - limiters: Redis-backed attempt limiters, failure windows and account locks
//   - logging: zerolog construction
//   - secretbox: sealing of TOTP secrets at rest
//   - stores: short-lived Redis records (pending MFA enrollment)
//
// # What this package must NOT do
//
//   - Export types that appear in the public goTrust API.
//   - Be imported by any package outside the goTrust module.
package internal
