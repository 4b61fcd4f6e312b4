package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record is the persisted state of one refresh token.
type Record struct {
	TokenID    string    `bson:"_id"`
	Subject    string    `bson:"subject"`
	SessionID  string    `bson:"session_id"`
	IssuedAt   time.Time `bson:"issued_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
	Revoked    bool      `bson:"revoked"`
	RevokedAt  time.Time `bson:"revoked_at,omitempty"`
	ReplacedBy string    `bson:"replaced_by,omitempty"`
}

// HashTokenID derives the storage key for a raw refresh-token jti.
func HashTokenID(jti string) string {
	sum := sha256.Sum256([]byte(jti))
	return hex.EncodeToString(sum[:])
}

// Active reports whether the record can still be exchanged at now.
func (r *Record) Active(now time.Time) bool {
	return r != nil && !r.Revoked && now.Before(r.ExpiresAt)
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func (r *Record) validate() error {
	switch {
	case r == nil:
		return errInvalidRecord("record is nil")
	case r.TokenID == "":
		return errInvalidRecord("token id is empty")
	case r.Subject == "":
		return errInvalidRecord("subject is empty")
	case r.SessionID == "":
		return errInvalidRecord("session id is empty")
	case r.ExpiresAt.IsZero():
		return errInvalidRecord("expiry is zero")
	}
	return nil
}
