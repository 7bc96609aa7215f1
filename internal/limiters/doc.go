// Package limiters provides Redis-backed counters that guard the trust
// engine's second-factor and login paths.
//
// # Limiters
//
//   - [AttemptLimiter]: fixed-window failure budget per identity (TOTP and
//     backup-code verification each get their own namespace).
//   - [FailureWindow]: sliding-window count of failed logins feeding the
//     brute-force risk factor.
//   - [AccountLock]: time-boxed account lock with an optional reason.
//
// All limiters are nil-safe: calling any method on a nil receiver is a no-op.
//
// # What this package must NOT do
//
//   - Import goTrust or any sibling internal package.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters
