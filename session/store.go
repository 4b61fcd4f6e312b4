package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a token id.
	ErrNotFound = errors.New("refresh record not found")
	// ErrRevoked accompanies a record that has been revoked or rotated.
	ErrRevoked = errors.New("refresh record revoked")
	// ErrExpired accompanies a record whose expiry has passed.
	ErrExpired = errors.New("refresh record expired")
	// ErrAlreadyRotated is returned to every Rotate caller but the winner.
	ErrAlreadyRotated = errors.New("refresh record already rotated")
	// ErrDuplicate is returned when inserting a token id that already exists.
	ErrDuplicate = errors.New("refresh record already exists")
	// ErrUnavailable wraps every backend failure.
	ErrUnavailable = errors.New("session store unavailable")
)

// ErrInvalidRecord is returned for records missing required fields.
var ErrInvalidRecord = errors.New("invalid refresh record")

func errInvalidRecord(reason string) error {
	return errors.Join(ErrInvalidRecord, errors.New(reason))
}

// DefaultRetention keeps records around after expiry so late replays of a
// rotated token can still be recognised.
const DefaultRetention = 24 * time.Hour

// Store is the refresh-token persistence contract.
type Store interface {
	// InsertRefreshRecord stores a new record. ErrDuplicate if the id exists.
	InsertRefreshRecord(ctx context.Context, rec *Record) error
	// FindActiveRefreshRecord returns the record for tokenID. Revoked and
	// expired records are returned together with ErrRevoked or ErrExpired.
	FindActiveRefreshRecord(ctx context.Context, tokenID string) (*Record, error)
	// Revoke marks a record revoked. Revoking twice is not an error.
	Revoke(ctx context.Context, tokenID string) error
	// Rotate revokes oldTokenID and inserts next as one atomic step.
	Rotate(ctx context.Context, oldTokenID string, next *Record) error
	// RevokeAllForSubject revokes every active record of subject and
	// returns how many were revoked.
	RevokeAllForSubject(ctx context.Context, subject string) (int, error)
	// PurgeExpired deletes records that expired before the given instant.
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}

type storeOptions struct {
	now          func() time.Time
	retention    time.Duration
	transactions bool
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

// WithRetention sets how long records outlive their expiry in backends with
// native expiration.
func WithRetention(d time.Duration) Option {
	return func(o *storeOptions) {
		if d >= 0 {
			o.retention = d
		}
	}
}

// WithTransactions makes MongoStore.Rotate use a multi-document transaction.
// The deployment must be a replica set or sharded cluster.
func WithTransactions(enabled bool) Option {
	return func(o *storeOptions) {
		o.transactions = enabled
	}
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now, retention: DefaultRetention}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// checkFound classifies a found record for FindActiveRefreshRecord.
func checkFound(rec *Record, now time.Time) (*Record, error) {
	if rec.Revoked {
		return rec, ErrRevoked
	}
	if !now.Before(rec.ExpiresAt) {
		return rec, ErrExpired
	}
	return rec, nil
}
