// Package credcore is a credential and session core: password verification,
// signed access and refresh tokens, rotating refresh sessions with replay
// detection, and bearer-token authentication.
//
// An [Engine] is assembled once through [Builder] and is safe for concurrent
// use afterwards.
//
// # Architecture boundaries
//
// credcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [UserProvider] contract and value types ([TokenPair], [Identity],
// [MetricsSnapshot]). Flow orchestration, hashing concurrency, rate limiting
// and audit dispatch live under internal/. Token encoding lives in the jwt
// package, refresh persistence in session, digests in password.
//
// # Sessions
//
// Every login starts a session lineage identified by a sid. Each refresh
// revokes the presented refresh record and inserts its successor in one
// atomic store operation, so exactly one of several concurrent refreshes
// wins. Presenting a revoked refresh token again revokes every session of
// the subject and returns [ErrRefreshReplayDetected].
//
// # Hot path
//
// [Engine.Authenticate] and [Engine.ValidateAccess] verify the signature and
// claims only. They never touch a store, so a revoked session keeps its
// access tokens valid until they expire.
package credcore
