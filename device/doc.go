// Package device derives a stable device fingerprint and normalized
// browser/OS metadata from an inbound request.
//
// # Architecture boundaries
//
// The extractor is a leaf: it performs no I/O and holds no state beyond its
// options, so a single [Extractor] can be shared by every request handler.
//
// # What this package must NOT do
//
//   - Import goTrust, session, or risk.
//   - Include volatile inputs (cookies, cache directives) in the fingerprint.
package device
