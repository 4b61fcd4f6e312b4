package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credcore/challenge"
)

// Rate-limit actions for the recovery throttle.
const (
	RecoveryActionPasswordReset     = "password_reset"
	RecoveryActionEmailVerification = "email_verification"
)

// RecoveryErrors carries host-level sentinel errors used by the password
// reset and email verification flows.
type RecoveryErrors struct {
	EngineNotReady   error
	Disabled         error
	ChallengeInvalid error
	AlreadyVerified  error
	RateLimited      error
}

// RecoveryDeps captures the dependencies of one recovery flow. The root
// engine builds one value per purpose.
type RecoveryDeps struct {
	Enabled bool
	Purpose challenge.Purpose
	TTL     time.Duration

	Now         func() time.Time
	NewSecret   func() (string, error)
	ValidSecret func(string) bool
	Store       challenge.Store

	CheckRate      func(ctx context.Context, action, key string) error
	IsRateLimited  func(error) bool
	IsUserNotFound func(error) bool
	StoreError     func(error) error

	GetUserByIdentifier func(context.Context, string) (LoginUser, error)
	GetUserByID         func(context.Context, string) (LoginUser, error)
	AccountStatusError  func(uint8) error

	CheckPolicy        func(string) error
	HashPassword       func(context.Context, string) (string, error)
	UpdatePasswordHash func(context.Context, string, string) error
	RevokeAll          func(context.Context, string) (int, error)
	ResetLoginRate     func(context.Context, string) error

	MarkVerified func(context.Context, string, time.Time) error

	Errors RecoveryErrors
}

// RecoveryResult reports the outcome of a recovery step. Token is set only
// when a challenge was issued; Reason is an audit label.
type RecoveryResult struct {
	Subject string
	Token   string
	Revoked int
	Reason  string
	Err     error
}

func (d *RecoveryDeps) normalize() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.StoreError == nil {
		d.StoreError = func(err error) error { return err }
	}
	if d.IsRateLimited == nil {
		d.IsRateLimited = func(error) bool { return false }
	}
	if d.IsUserNotFound == nil {
		d.IsUserNotFound = func(error) bool { return false }
	}
}

func (d *RecoveryDeps) ready() bool {
	return d.Store != nil && d.NewSecret != nil && d.ValidSecret != nil && d.AccountStatusError != nil
}

// RunRequestPasswordReset issues a reset token for identifier. Unknown and
// inactive identifiers produce no token and no error, so callers cannot
// learn which accounts exist.
func RunRequestPasswordReset(ctx context.Context, identifier string, deps RecoveryDeps) RecoveryResult {
	deps.normalize()
	if !deps.Enabled {
		return RecoveryResult{Reason: "disabled", Err: deps.Errors.Disabled}
	}
	if !deps.ready() || deps.GetUserByIdentifier == nil {
		return RecoveryResult{Reason: "not_ready", Err: deps.Errors.EngineNotReady}
	}
	if identifier == "" {
		return RecoveryResult{Reason: "empty_identifier"}
	}
	if res, limited := checkRecoveryRate(ctx, RecoveryActionPasswordReset, identifier, deps); limited {
		return res
	}

	user, err := deps.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if deps.IsUserNotFound(err) {
			return RecoveryResult{Reason: "unknown_identifier"}
		}
		if isContextErr(err) {
			return RecoveryResult{Reason: "canceled", Err: err}
		}
		return RecoveryResult{Reason: "user_lookup", Err: deps.StoreError(err)}
	}
	if deps.AccountStatusError(user.Status) != nil {
		return RecoveryResult{Subject: user.UserID, Reason: "account_status"}
	}
	return issueChallenge(ctx, user.UserID, deps)
}

// RunResetPassword consumes token and replaces the password of its owner.
// Every session of the account is revoked afterwards. The password policy
// is checked before the token is consumed so a rejected password does not
// burn it.
func RunResetPassword(ctx context.Context, token, newPassword string, deps RecoveryDeps) RecoveryResult {
	deps.normalize()
	if !deps.Enabled {
		return RecoveryResult{Reason: "disabled", Err: deps.Errors.Disabled}
	}
	if !deps.ready() || deps.GetUserByID == nil || deps.HashPassword == nil ||
		deps.UpdatePasswordHash == nil || deps.RevokeAll == nil {
		return RecoveryResult{Reason: "not_ready", Err: deps.Errors.EngineNotReady}
	}
	if !deps.ValidSecret(token) {
		return RecoveryResult{Reason: "malformed", Err: deps.Errors.ChallengeInvalid}
	}
	if deps.CheckPolicy != nil {
		if err := deps.CheckPolicy(newPassword); err != nil {
			return RecoveryResult{Reason: "policy", Err: err}
		}
	}

	user, res, ok := consumeChallenge(ctx, token, deps)
	if !ok {
		return res
	}
	if err := deps.AccountStatusError(user.Status); err != nil {
		return RecoveryResult{Subject: user.UserID, Reason: "account_status", Err: err}
	}

	digest, err := deps.HashPassword(ctx, newPassword)
	if err != nil {
		return RecoveryResult{Subject: user.UserID, Reason: "hash_failed", Err: err}
	}
	newPassword = ""

	if err := deps.UpdatePasswordHash(ctx, user.UserID, digest); err != nil {
		return RecoveryResult{Subject: user.UserID, Reason: "update_hash_failed", Err: deps.StoreError(err)}
	}
	n, err := deps.RevokeAll(ctx, user.UserID)
	if err != nil {
		return RecoveryResult{Subject: user.UserID, Revoked: n, Reason: "session_invalidation_failed", Err: deps.StoreError(err)}
	}
	if deps.ResetLoginRate != nil {
		// Best effort: a stale lockout expires on its own.
		_ = deps.ResetLoginRate(ctx, user.Identifier)
	}
	return RecoveryResult{Subject: user.UserID, Revoked: n}
}

// RunRequestEmailVerification issues a verification token for subject.
func RunRequestEmailVerification(ctx context.Context, subject string, deps RecoveryDeps) RecoveryResult {
	deps.normalize()
	if !deps.Enabled {
		return RecoveryResult{Subject: subject, Reason: "disabled", Err: deps.Errors.Disabled}
	}
	if !deps.ready() || deps.GetUserByID == nil {
		return RecoveryResult{Reason: "not_ready", Err: deps.Errors.EngineNotReady}
	}
	if res, limited := checkRecoveryRate(ctx, RecoveryActionEmailVerification, subject, deps); limited {
		res.Subject = subject
		return res
	}

	user, err := deps.GetUserByID(ctx, subject)
	if err != nil {
		if deps.IsUserNotFound(err) || isContextErr(err) {
			return RecoveryResult{Subject: subject, Reason: "user_lookup", Err: err}
		}
		return RecoveryResult{Subject: subject, Reason: "user_lookup", Err: deps.StoreError(err)}
	}
	if err := deps.AccountStatusError(user.Status); err != nil {
		return RecoveryResult{Subject: subject, Reason: "account_status", Err: err}
	}
	if !user.VerifiedAt.IsZero() {
		return RecoveryResult{Subject: subject, Reason: "already_verified", Err: deps.Errors.AlreadyVerified}
	}
	return issueChallenge(ctx, user.UserID, deps)
}

// RunVerifyEmail consumes token and marks its owner verified.
func RunVerifyEmail(ctx context.Context, token string, deps RecoveryDeps) RecoveryResult {
	deps.normalize()
	if !deps.Enabled {
		return RecoveryResult{Reason: "disabled", Err: deps.Errors.Disabled}
	}
	if !deps.ready() || deps.GetUserByID == nil || deps.MarkVerified == nil {
		return RecoveryResult{Reason: "not_ready", Err: deps.Errors.EngineNotReady}
	}
	if !deps.ValidSecret(token) {
		return RecoveryResult{Reason: "malformed", Err: deps.Errors.ChallengeInvalid}
	}

	user, res, ok := consumeChallenge(ctx, token, deps)
	if !ok {
		return res
	}
	if err := deps.AccountStatusError(user.Status); err != nil {
		return RecoveryResult{Subject: user.UserID, Reason: "account_status", Err: err}
	}
	if !user.VerifiedAt.IsZero() {
		return RecoveryResult{Subject: user.UserID, Reason: "already_verified", Err: deps.Errors.AlreadyVerified}
	}
	if err := deps.MarkVerified(ctx, user.UserID, deps.Now()); err != nil {
		return RecoveryResult{Subject: user.UserID, Reason: "mark_verified_failed", Err: deps.StoreError(err)}
	}
	return RecoveryResult{Subject: user.UserID}
}

// issueChallenge replaces any outstanding challenge of subject with a new
// one and returns its secret.
func issueChallenge(ctx context.Context, subject string, deps RecoveryDeps) RecoveryResult {
	if _, err := deps.Store.DeleteForSubject(ctx, deps.Purpose, subject); err != nil {
		return RecoveryResult{Subject: subject, Reason: "store_failed", Err: deps.StoreError(err)}
	}
	secret, err := deps.NewSecret()
	if err != nil {
		return RecoveryResult{Subject: subject, Reason: "secret_failed", Err: err}
	}
	now := deps.Now()
	rec := &challenge.Record{
		ID:        challenge.HashSecret(secret),
		Purpose:   deps.Purpose,
		Subject:   subject,
		CreatedAt: now,
		ExpiresAt: now.Add(deps.TTL),
	}
	if err := deps.Store.Save(ctx, rec); err != nil {
		return RecoveryResult{Subject: subject, Reason: "store_failed", Err: deps.StoreError(err)}
	}
	return RecoveryResult{Subject: subject, Token: secret}
}

// consumeChallenge redeems token and loads its owner. ok is false when res
// carries the failure.
func consumeChallenge(ctx context.Context, token string, deps RecoveryDeps) (user LoginUser, res RecoveryResult, ok bool) {
	rec, err := deps.Store.Consume(ctx, deps.Purpose, challenge.HashSecret(token))
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			return LoginUser{}, RecoveryResult{Reason: "not_found", Err: deps.Errors.ChallengeInvalid}, false
		}
		if isContextErr(err) {
			return LoginUser{}, RecoveryResult{Reason: "canceled", Err: err}, false
		}
		return LoginUser{}, RecoveryResult{Reason: "store_failed", Err: deps.StoreError(err)}, false
	}

	user, err = deps.GetUserByID(ctx, rec.Subject)
	if err != nil {
		if deps.IsUserNotFound(err) {
			return LoginUser{}, RecoveryResult{Subject: rec.Subject, Reason: "user_missing", Err: deps.Errors.ChallengeInvalid}, false
		}
		return LoginUser{}, RecoveryResult{Subject: rec.Subject, Reason: "user_lookup", Err: deps.StoreError(err)}, false
	}
	return user, RecoveryResult{}, true
}

func checkRecoveryRate(ctx context.Context, action, key string, deps RecoveryDeps) (RecoveryResult, bool) {
	if deps.CheckRate == nil {
		return RecoveryResult{}, false
	}
	err := deps.CheckRate(ctx, action, key)
	switch {
	case err == nil:
		return RecoveryResult{}, false
	case deps.IsRateLimited(err):
		return RecoveryResult{Reason: "rate_limited", Err: deps.Errors.RateLimited}, true
	default:
		return RecoveryResult{Reason: "limiter_failed", Err: deps.StoreError(err)}, true
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
