// Package goTrust is the session-and-trust core of an identity service. It
// decides, for every login and every later request, whether a session is
// valid, how risky the attempt is, and whether the session must be revoked
// or escalated to a second factor.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build]. Every instance of a region shares
// one durable store ([store.Backend]) and one Redis deployment that carries
// the session mirror, account locks, attempt limiters and pending MFA
// enrollments.
//
// # Architecture boundaries
//
// goTrust is the public surface: [Engine], [Builder], [Config] and the value
// types in types.go. Flow orchestration, rate limiting, audit dispatch and
// secret sealing live under internal/ and are not exported. Sub-packages
// (device, risk, session, mfa, store, regionsync, notify) never import the
// root package.
//
// # Login flow
//
//	res, err := engine.EvaluateLogin(ctx, goTrust.LoginAttempt{...})
//	if res.Blocked { ... }
//	s, err := engine.CreateSession(ctx, goTrust.CreateSessionRequest{
//		Identity:   id,
//		Context:    res.SessionContext(geo),
//		MFAPending: res.RequireMFA,
//	})
//
// # Consistency
//
// The durable store is authoritative. The Redis mirror is a cache: its
// failures degrade to durable reads, never to errors. Cross-region events are
// best-effort and at-most-once; a missed event is corrected the next time
// the affected session is validated. Session creation under a concurrency
// limit is check-then-act, and [Engine.Sweep] trims any overshoot.
package goTrust
