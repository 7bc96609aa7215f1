// Package middleware adapts [goTrust.Engine] session validation to net/http.
//
// [RequireSession] reads a session ID from a header or cookie, validates it
// against the engine and stores the [goTrust.ValidationResult] in the request
// context for [ResultFromContext].
//
// The package makes no decisions of its own. Pass or reject comes from
// Engine.ValidateSession.
package middleware
