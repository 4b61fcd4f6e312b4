// Package middleware exposes HTTP adapters that authenticate requests with a
// credcore.Engine.
//
// # Guards
//
//   - [Guard] wraps a net/http handler.
//   - [GinGuard] is the same check as a gin handler.
//
// Each guard reads the Authorization header, calls Engine.Authenticate and
// attaches the resulting credcore.Identity to the request context. Failures
// are answered with 401 and a WWW-Authenticate: Bearer challenge; no identity
// is attached.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens and never touches a store.
package middleware
