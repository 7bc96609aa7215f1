// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunCreateSession, RunValidateSession, RunEvaluateLogin,
// etc.) accepts a typed dependency struct and returns results without
// side-effects beyond those dependencies. The Engine type stays thin and the
// flows can be tested against in-memory stores.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the session tiers, durable stores, risk
// engine, limiters, cross-region publisher, notifier, audit and metrics. They
// do NOT own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goTrust (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency fields.
package flows
