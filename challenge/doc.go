// Package challenge stores one-time tokens for password reset and email
// verification.
//
// The caller receives a random secret; only its SHA-256 is persisted, as the
// record id. A record is single-use: Consume removes it atomically, so two
// concurrent confirmations of the same secret cannot both succeed.
// Implementations exist for process memory, Redis and MongoDB.
package challenge
