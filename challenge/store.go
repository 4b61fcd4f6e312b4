package challenge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for an unknown, expired, already consumed or
	// wrong-purpose record. Callers cannot tell these apart.
	ErrNotFound = errors.New("challenge not found")
	// ErrDuplicate is returned when saving an id that already exists.
	ErrDuplicate = errors.New("challenge already exists")
	// ErrUnavailable wraps every backend failure.
	ErrUnavailable = errors.New("challenge store unavailable")
	// ErrInvalidRecord is returned for records missing required fields.
	ErrInvalidRecord = errors.New("invalid challenge record")
)

// Purpose scopes a record to one flow. A reset secret never verifies an
// email and the reverse.
type Purpose string

const (
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailVerification Purpose = "email_verification"
)

func (p Purpose) valid() bool {
	return p == PurposePasswordReset || p == PurposeEmailVerification
}

// Record is the persisted state of one outstanding challenge.
type Record struct {
	ID        string    `bson:"_id"`
	Purpose   Purpose   `bson:"purpose"`
	Subject   string    `bson:"subject"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// HashSecret derives the record id from the secret handed to the user.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func (r *Record) validate() error {
	switch {
	case r == nil:
		return errors.Join(ErrInvalidRecord, errors.New("record is nil"))
	case r.ID == "":
		return errors.Join(ErrInvalidRecord, errors.New("id is empty"))
	case !r.Purpose.valid():
		return errors.Join(ErrInvalidRecord, errors.New("unknown purpose"))
	case r.Subject == "":
		return errors.Join(ErrInvalidRecord, errors.New("subject is empty"))
	case r.ExpiresAt.IsZero():
		return errors.Join(ErrInvalidRecord, errors.New("expiry is zero"))
	}
	return nil
}

// Store persists challenge records.
type Store interface {
	// Save stores rec. ErrDuplicate if the id exists.
	Save(ctx context.Context, rec *Record) error
	// Consume removes and returns the live record with id and purpose.
	Consume(ctx context.Context, purpose Purpose, id string) (*Record, error)
	// DeleteForSubject removes every outstanding record of subject for
	// purpose and returns how many were removed.
	DeleteForSubject(ctx context.Context, purpose Purpose, subject string) (int, error)
}

type storeOptions struct {
	now func() time.Time
}

// Option configures a Store implementation.
type Option func(*storeOptions)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
