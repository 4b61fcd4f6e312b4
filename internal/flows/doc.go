// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunLogout, etc.) accepts a typed
// dependency struct and returns results without side-effects beyond those
// dependencies. The Engine wires the dependencies once at build time and
// maps flow results onto its public errors, metrics, and audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the session store, token codec, rate
// limiter, hash pool, and user provider. They do NOT own any of these
// resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import credcore (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
