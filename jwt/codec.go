package jwt

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/credcore/internal"
	gjwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultLeeway is applied to exp and iat checks when Config.Leeway is zero.
	DefaultLeeway = 5 * time.Second
	// MaxLeeway bounds the configurable clock skew tolerance.
	MaxLeeway = 2 * time.Minute
)

// Config controls claim validation. The zero value uses DefaultLeeway and
// the wall clock.
type Config struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
	Now      func() time.Time
}

// Codec issues and validates signed tokens against a hot-swappable Keyring.
// It performs no I/O and is safe for concurrent use.
type Codec struct {
	cfg  Config
	ring atomic.Pointer[Keyring]
}

// NewCodec validates cfg and returns a Codec signing with ring's active key.
func NewCodec(cfg Config, ring *Keyring) (*Codec, error) {
	if ring == nil {
		return nil, errors.New("keyring is required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > MaxLeeway {
		return nil, fmt.Errorf("leeway must be between 0 and %s", MaxLeeway)
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = DefaultLeeway
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Codec{cfg: cfg}
	c.ring.Store(ring)
	return c, nil
}

// RotateKeys atomically replaces the keyring. Tokens signed by keys that are
// absent from the new ring stop validating immediately.
func (c *Codec) RotateKeys(ring *Keyring) error {
	if ring == nil {
		return errors.New("keyring is required")
	}
	c.ring.Store(ring)
	return nil
}

// Keyring returns the ring currently in use.
func (c *Codec) Keyring() *Keyring {
	return c.ring.Load()
}

// Leeway returns the effective clock skew tolerance.
func (c *Codec) Leeway() time.Duration {
	return c.cfg.Leeway
}

// Issue signs a token for subject with exp = iat + ttl. A random 32-byte
// jti is generated unless WithTokenID is supplied.
func (c *Codec) Issue(subject string, tokenType TokenType, ttl time.Duration, opts ...IssueOption) (string, *Claims, error) {
	if strings.TrimSpace(subject) == "" {
		return "", nil, errors.New("subject must not be empty")
	}
	if !tokenType.valid() {
		return "", nil, fmt.Errorf("unsupported token type %q", tokenType)
	}

	now := c.cfg.Now().Truncate(time.Second)
	claims := &Claims{
		TokenType: tokenType,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(ttl)),
			Issuer:    c.cfg.Issuer,
		},
	}
	if c.cfg.Audience != "" {
		claims.Audience = gjwt.ClaimStrings{c.cfg.Audience}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(claims)
		}
	}
	if claims.ID == "" {
		jti, err := internal.NewTokenSecret()
		if err != nil {
			return "", nil, fmt.Errorf("generate jti: %w", err)
		}
		claims.ID = jti
	}

	key := c.ring.Load().signer()
	tok := gjwt.NewWithClaims(key.method(), claims)
	tok.Header["kid"] = key.ID
	signed, err := tok.SignedString(key.signKey())
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Validate verifies the signature first, then the claims, and returns
// exactly one of: the claims, ErrExpired, ErrMalformed, ErrSignatureInvalid
// or ErrWrongType.
func (c *Codec) Validate(token string, expected TokenType) (*Claims, error) {
	if token == "" {
		return nil, ErrMalformed
	}
	ring := c.ring.Load()
	now := c.cfg.Now()

	opts := []gjwt.ParserOption{
		gjwt.WithValidMethods(ring.algs),
		gjwt.WithLeeway(c.cfg.Leeway),
		gjwt.WithExpirationRequired(),
		gjwt.WithTimeFunc(func() time.Time { return now }),
	}
	if c.cfg.Issuer != "" {
		opts = append(opts, gjwt.WithIssuer(c.cfg.Issuer))
	}
	if c.cfg.Audience != "" {
		opts = append(opts, gjwt.WithAudience(c.cfg.Audience))
	}

	claims := &Claims{}
	_, err := gjwt.ParseWithClaims(token, claims, func(t *gjwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := ring.lookup(kid)
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		if t.Method.Alg() != string(key.Algorithm) {
			return nil, errors.New("algorithm does not match key")
		}
		return key.verifyKey(), nil
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}

	if claims.Subject == "" || !claims.TokenType.valid() || claims.IssuedAt == nil {
		return nil, ErrMalformed
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return nil, ErrExpired
	}
	if claims.IssuedAt.After(now.Add(c.cfg.Leeway)) {
		return nil, ErrMalformed
	}
	if claims.TokenType != expected {
		return nil, ErrWrongType
	}
	return claims, nil
}

// classify maps golang-jwt parse errors onto the package sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, gjwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, gjwt.ErrTokenSignatureInvalid),
		errors.Is(err, gjwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, gjwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}
