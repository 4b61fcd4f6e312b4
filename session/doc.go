// Package session persists refresh-token records and enforces their
// lifecycle at the storage boundary.
//
// # Records
//
// A [Record] is keyed by the SHA-256 of the refresh token's jti, never the
// raw value, so a leaked collection cannot be replayed. Every record belongs
// to a session lineage (SessionID) that survives rotation.
//
// # Atomicity
//
// [Store.Rotate] revokes the predecessor and makes the successor visible as a
// single conditional write. Of any number of concurrent rotations of the same
// record exactly one succeeds; the rest observe [ErrAlreadyRotated]. Each
// backend enforces this with its own primitive (a mutex, a Lua script, or a
// guarded FindOneAndUpdate) rather than with caller-side locks.
//
// # What this package must NOT do
//
//   - Import credcore or jwt (no upward imports).
//   - Decide whether a revoked record means replay; that is the Engine's call.
//   - Store raw token secrets.
package session
