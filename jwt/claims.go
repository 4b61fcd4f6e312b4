package jwt

import (
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

func (t TokenType) valid() bool {
	return t == TypeAccess || t == TypeRefresh
}

// Claims is the closed claim set carried by every token. Registered claims
// (sub, iat, exp, jti, iss, aud) come from the embedded struct; Extra holds
// optional string-valued extensions.
type Claims struct {
	TokenType TokenType         `json:"token_type"`
	SessionID string            `json:"sid,omitempty"`
	Extra     map[string]string `json:"ext,omitempty"`
	gjwt.RegisteredClaims
}

// IssuedAtTime returns iat, or the zero time when absent.
func (c *Claims) IssuedAtTime() time.Time {
	if c == nil || c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns exp, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssueOption customizes a single Issue call.
type IssueOption func(*Claims)

// WithSessionID sets the sid claim linking tokens of one session lineage.
func WithSessionID(sessionID string) IssueOption {
	return func(c *Claims) {
		c.SessionID = sessionID
	}
}

// WithTokenID overrides the random jti.
func WithTokenID(id string) IssueOption {
	return func(c *Claims) {
		c.ID = id
	}
}

// WithExtra attaches extension claims. The map is copied.
func WithExtra(extra map[string]string) IssueOption {
	return func(c *Claims) {
		if len(extra) == 0 {
			return
		}
		c.Extra = make(map[string]string, len(extra))
		for k, v := range extra {
			c.Extra[k] = v
		}
	}
}
