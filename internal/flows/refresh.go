package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureToken
	RefreshFailureRateLimited
	RefreshFailureNotFound
	RefreshFailureExpired
	RefreshFailureMismatch
	RefreshFailureReplay
	RefreshFailureGraceConflict
	RefreshFailureConflict
	RefreshFailureAccountStatus
	RefreshFailureStore
	RefreshFailureIssue
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure   RefreshFailureKind
	Err       error
	Subject   string
	SessionID string
	// Revoked counts records revoked as a side effect (replay or account
	// status enforcement).
	Revoked int
	Tokens  *IssuedTokens
}

type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, sessionID string) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now             func() time.Time
	ValidateRefresh func(string) (*jwt.Claims, error)
	RateLimiter     RefreshRateLimiter
	Store           session.Store
	// GracePeriod lets a client that lost a concurrent refresh retry with
	// the predecessor token without triggering replay handling.
	GracePeriod time.Duration

	LookupStatus       func(context.Context, string) (uint8, error)
	AccountStatusError func(uint8) error
	IsUserNotFound     func(error) bool

	Issue func(subject, sessionID string) (*IssuedTokens, *session.Record, error)
}

// RunRefresh validates a refresh token and rotates its record onto a new
// token pair of the same session lineage.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	claims, err := deps.ValidateRefresh(refreshToken)
	if err != nil {
		return RefreshResult{
			Failure: RefreshFailureToken,
			Err:     err,
		}
	}
	subject, sessionID := claims.Subject, claims.SessionID

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, sessionID); err != nil {
			return RefreshResult{
				Failure:   RefreshFailureRateLimited,
				Err:       err,
				Subject:   subject,
				SessionID: sessionID,
			}
		}
	}

	tokenID := session.HashTokenID(claims.ID)
	rec, err := deps.Store.FindActiveRefreshRecord(ctx, tokenID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return RefreshResult{Failure: RefreshFailureNotFound, Err: err, Subject: subject, SessionID: sessionID}
		case errors.Is(err, session.ErrExpired):
			return RefreshResult{Failure: RefreshFailureExpired, Err: err, Subject: subject, SessionID: sessionID}
		case errors.Is(err, session.ErrRevoked):
			return handleRevoked(ctx, rec, subject, sessionID, deps)
		default:
			return RefreshResult{Failure: RefreshFailureStore, Err: err, Subject: subject, SessionID: sessionID}
		}
	}

	if rec.Subject != subject || rec.SessionID != sessionID {
		return RefreshResult{
			Failure:   RefreshFailureMismatch,
			Err:       errors.New("refresh record does not match token claims"),
			Subject:   subject,
			SessionID: sessionID,
		}
	}

	if deps.LookupStatus != nil && deps.AccountStatusError != nil {
		status, err := deps.LookupStatus(ctx, subject)
		var statusErr error
		switch {
		case err == nil:
			statusErr = deps.AccountStatusError(status)
		case deps.IsUserNotFound != nil && deps.IsUserNotFound(err):
			statusErr = err
		default:
			return RefreshResult{Failure: RefreshFailureStore, Err: err, Subject: subject, SessionID: sessionID}
		}
		if statusErr != nil {
			n, revokeErr := deps.Store.RevokeAllForSubject(ctx, subject)
			return RefreshResult{
				Failure:   RefreshFailureAccountStatus,
				Err:       errors.Join(statusErr, revokeErr),
				Subject:   subject,
				SessionID: sessionID,
				Revoked:   n,
			}
		}
	}

	tokens, next, err := deps.Issue(subject, sessionID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, Subject: subject, SessionID: sessionID}
	}

	if err := deps.Store.Rotate(ctx, tokenID, next); err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyRotated):
			return RefreshResult{Failure: RefreshFailureConflict, Err: err, Subject: subject, SessionID: sessionID}
		case errors.Is(err, session.ErrNotFound):
			return RefreshResult{Failure: RefreshFailureNotFound, Err: err, Subject: subject, SessionID: sessionID}
		case errors.Is(err, session.ErrExpired):
			return RefreshResult{Failure: RefreshFailureExpired, Err: err, Subject: subject, SessionID: sessionID}
		default:
			return RefreshResult{Failure: RefreshFailureStore, Err: err, Subject: subject, SessionID: sessionID}
		}
	}

	return RefreshResult{
		Failure:   RefreshFailureNone,
		Subject:   subject,
		SessionID: sessionID,
		Tokens:    tokens,
	}
}

// handleRevoked decides between a benign lost race and a replay. Only a
// record that was rotated (not logged out) within the grace period counts
// as a lost race.
func handleRevoked(ctx context.Context, rec *session.Record, subject, sessionID string, deps RefreshDeps) RefreshResult {
	if rec != nil && deps.GracePeriod > 0 && rec.ReplacedBy != "" &&
		deps.Now().Sub(rec.RevokedAt) <= deps.GracePeriod {
		return RefreshResult{
			Failure:   RefreshFailureGraceConflict,
			Err:       session.ErrRevoked,
			Subject:   subject,
			SessionID: sessionID,
		}
	}

	owner := subject
	if rec != nil && rec.Subject != "" {
		owner = rec.Subject
	}
	n, err := deps.Store.RevokeAllForSubject(ctx, owner)
	return RefreshResult{
		Failure:   RefreshFailureReplay,
		Err:       errors.Join(session.ErrRevoked, err),
		Subject:   owner,
		SessionID: sessionID,
		Revoked:   n,
	}
}
