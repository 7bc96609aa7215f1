// Package mfa holds the second-factor primitives: RFC 6238 TOTP, single-use
// backup codes and the persisted per-identity [State].
//
// Orchestration (pending enrollment, rate limiting, audit, notification)
// lives in the Engine; this package only computes and compares.
package mfa
