package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxBcryptPasswordBytes is the largest plaintext bcrypt consumes. Longer
// input is rejected rather than silently truncated.
const MaxBcryptPasswordBytes = 72

// DefaultBcryptCost is used when BcryptConfig.Cost is zero.
const DefaultBcryptCost = 12

// BcryptConfig tunes the bcrypt hasher.
type BcryptConfig struct {
	Cost      int
	MinLength int
}

// Bcrypt is the default [Hasher].
type Bcrypt struct {
	cost      int
	minLength int
}

// NewBcrypt validates cfg and returns a bcrypt hasher.
func NewBcrypt(cfg BcryptConfig) (*Bcrypt, error) {
	if cfg.Cost == 0 {
		cfg.Cost = DefaultBcryptCost
	}
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost must be within [%d, %d]", ErrInvalidConfig, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.MinLength < 1 {
		cfg.MinLength = 1
	}
	if cfg.MinLength > MaxBcryptPasswordBytes {
		return nil, fmt.Errorf("%w: min length exceeds bcrypt maximum", ErrInvalidConfig)
	}
	return &Bcrypt{cost: cfg.Cost, minLength: cfg.MinLength}, nil
}

// Cost returns the configured work factor.
func (b *Bcrypt) Cost() int {
	return b.cost
}

// Hash returns a salted bcrypt digest of plaintext.
func (b *Bcrypt) Hash(plaintext string) (string, error) {
	if err := checkLength(plaintext, b.minLength, MaxBcryptPasswordBytes); err != nil {
		return "", err
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest.
func (b *Bcrypt) Verify(plaintext, digest string) bool {
	if plaintext == "" || len(plaintext) > MaxBcryptPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// NeedsUpgrade reports whether digest was produced by another algorithm or
// with a lower cost than configured.
func (b *Bcrypt) NeedsUpgrade(digest string) bool {
	if Identify(digest) != AlgorithmBcrypt {
		return true
	}
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost < b.cost
}
