// Package password implements one-way password hashing and constant-time
// verification.
//
// # Output format
//
// Digests are self-describing so cost parameters can be raised without
// breaking existing hashes:
//
//	$2a$<cost>$<salt+hash>                                   (bcrypt, default)
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Chain] hashes with one primary algorithm and verifies any supported digest,
// reporting through [Hasher.NeedsUpgrade] when a stored digest should be
// replaced on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive digests.
//   - Surface a distinguishable error from Verify. Malformed digests verify as false.
//   - Import any other credcore package.
package password
