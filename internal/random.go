package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// TokenSecretSize is the number of random bytes behind every refresh-token
// identifier.
const TokenSecretSize = 32

// NewTokenSecret returns TokenSecretSize random bytes encoded base64url
// without padding.
func NewTokenSecret() (string, error) {
	var raw [TokenSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidTokenSecret reports whether s decodes to exactly TokenSecretSize bytes.
// One-time tokens are checked with it before any store lookup.
func ValidTokenSecret(s string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil && len(raw) == TokenSecretSize
}

// RandomPadding returns n random bytes. The builder encodes them into the
// plaintext behind the dummy digest used for unknown identifiers.
func RandomPadding(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("padding size must be positive")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
