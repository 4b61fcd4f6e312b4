// Package jwt issues and validates signed, time-boxed bearer tokens.
//
// Tokens are compact JWS strings whose header carries the signing algorithm
// and a key id. A [Keyring] holds every key that may verify tokens plus the one
// active key that signs new ones; [Codec.RotateKeys] swaps the ring without
// blocking concurrent validations.
//
// Access and refresh tokens share one structure and differ only in the
// token_type claim. [Codec.Validate] classifies every rejection as exactly one
// of [ErrExpired], [ErrMalformed], [ErrSignatureInvalid] or [ErrWrongType].
//
// Validation is pure CPU work. This package performs no I/O and holds no
// record of issued tokens.
package jwt
