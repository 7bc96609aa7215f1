// Package stores provides Redis-backed, short-lived records for the MFA
// enrollment flow.
//
// # Design
//
// Each record is a versioned binary blob stored with a TTL. Failure
// accounting uses WATCH/MULTI optimistic transactions with retry on
// contention; the record is discarded once its attempt budget is spent.
//
// # What this package must NOT do
//
//   - Import goTrust or any sibling internal package.
//   - Hold plaintext secrets; callers store sealed bytes only.
package stores
