package password

import (
	"errors"
	"strings"
)

var (
	// ErrPasswordEmpty is returned by Hash for an empty plaintext.
	ErrPasswordEmpty = errors.New("password must not be empty")
	// ErrPasswordTooShort is returned by Hash when the plaintext is below the configured minimum.
	ErrPasswordTooShort = errors.New("password is too short")
	// ErrPasswordTooLong is returned by Hash when the plaintext exceeds the algorithm maximum.
	// Input is never truncated.
	ErrPasswordTooLong = errors.New("password is too long")
	// ErrInvalidConfig is returned by constructors for out-of-range parameters.
	ErrInvalidConfig = errors.New("invalid password hasher configuration")
)

// Hasher hashes and verifies passwords.
//
// Implementations must be safe for concurrent use. Verify must compare in
// constant time and must return false, never panic, on a malformed digest.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
	NeedsUpgrade(digest string) bool
}

// Algorithm names a digest family.
type Algorithm string

const (
	// AlgorithmUnknown is reported for digests no hasher in this package understands.
	AlgorithmUnknown Algorithm = ""
	// AlgorithmBcrypt identifies $2a$, $2b$ and $2y$ digests.
	AlgorithmBcrypt Algorithm = "bcrypt"
	// AlgorithmArgon2id identifies $argon2id$ PHC digests.
	AlgorithmArgon2id Algorithm = "argon2id"
)

// Identify reports the algorithm that produced digest.
func Identify(digest string) Algorithm {
	switch {
	case strings.HasPrefix(digest, "$2a$"),
		strings.HasPrefix(digest, "$2b$"),
		strings.HasPrefix(digest, "$2y$"):
		return AlgorithmBcrypt
	case strings.HasPrefix(digest, "$"+argon2AlgorithmID+"$"):
		return AlgorithmArgon2id
	default:
		return AlgorithmUnknown
	}
}

func checkLength(plaintext string, minBytes, maxBytes int) error {
	// Length is measured on raw bytes; no Unicode normalization is applied.
	switch {
	case plaintext == "":
		return ErrPasswordEmpty
	case len(plaintext) < minBytes:
		return ErrPasswordTooShort
	case len(plaintext) > maxBytes:
		return ErrPasswordTooLong
	}
	return nil
}
