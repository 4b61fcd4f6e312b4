package jwt

import "errors"

var (
	// ErrExpired reports a token past its expiry (after leeway) or issued with a non-positive lifetime.
	ErrExpired = errors.New("token expired")
	// ErrMalformed reports a token that cannot be decoded or whose claims are unacceptable.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid reports a bad signature, a disallowed algorithm, or an unknown key id.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrWrongType reports a valid token presented at the wrong use-site.
	ErrWrongType = errors.New("token type mismatch")
)
