package credcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrEthical07/credcore/password"
	"go.uber.org/zap"
)

// maxIdentifierLength bounds identifiers in runes. It fits an RFC 5321 address.
const maxIdentifierLength = 254

// Register creates an active account. The identifier is normalized before
// it is stored; the returned record carries the assigned UserID.
func (e *Engine) Register(ctx context.Context, identifier, pw string) (UserRecord, error) {
	if e == nil || !e.flows.Initialized() {
		return UserRecord{}, ErrEngineNotReady
	}
	identifier = normalizeIdentifier(identifier)
	meta := func() map[string]string { return map[string]string{"identifier": identifier} }

	u, err := e.flows.Register(ctx, identifier, pw)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountExists):
			e.metricInc(MetricAccountCreationDuplicate)
			e.emitAudit(ctx, auditEventAccountCreationDuplicate, false, "", "", err, meta)
			return UserRecord{}, ErrAccountExists
		case errors.Is(err, ErrPasswordPolicy), errors.Is(err, ErrInvalidIdentifier):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		default:
			err = storageError(err)
		}
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", err, meta)
		return UserRecord{}, err
	}

	e.metricInc(MetricAccountCreationSuccess)
	e.emitAudit(ctx, auditEventAccountCreationSuccess, true, u.UserID, "", nil, meta)
	return UserRecord{
		UserID:       u.UserID,
		Identifier:   u.Identifier,
		PasswordHash: u.PasswordHash,
		Status:       AccountStatus(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.CreatedAt,
	}, nil
}

// ChangePassword replaces the password of subject after verifying the
// current one, then revokes every session of the account. Callers holding
// tokens must log in again.
func (e *Engine) ChangePassword(ctx context.Context, subject, oldPassword, newPassword string) error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}

	res := e.flows.ChangePassword(ctx, subject, oldPassword, newPassword)
	reason := func() map[string]string { return map[string]string{"reason": res.Reason} }

	if res.Err != nil {
		err := res.Err
		switch {
		case errors.Is(err, ErrPasswordReuse):
			e.metricInc(MetricPasswordChangeReuseRejected)
			e.emitAudit(ctx, auditEventPasswordChangeReuse, false, subject, "", err, nil)
			return err
		case res.Reason == "invalid_old":
			e.metricInc(MetricPasswordChangeInvalidOld)
			e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, subject, "", err, nil)
			return err
		case errors.Is(err, ErrUserNotFound),
			errors.Is(err, ErrInvalidCredentials),
			errors.Is(err, ErrAccountDisabled),
			errors.Is(err, ErrPasswordPolicy),
			errors.Is(err, ErrEngineNotReady),
			errors.Is(err, ErrStorageUnavailable),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
		default:
			err = storageError(err)
		}
		if res.Revoked > 0 {
			e.metricAdd(MetricSessionInvalidated, res.Revoked)
		}
		if res.Reason == "session_invalidation_failed" {
			e.logger.Error("session revocation after password change failed",
				zap.String("subject", subject), zap.Error(res.Err))
		}
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, subject, "", err, reason)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.metricAdd(MetricSessionInvalidated, res.Revoked)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, subject, "", nil, countMeta("revoked", res.Revoked))
	return nil
}

// SetAccountStatus moves userID to status. Disabling or deleting an account
// revokes all its sessions; reactivating it does not restore them.
func (e *Engine) SetAccountStatus(ctx context.Context, userID string, status AccountStatus) error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	if !status.valid() {
		return fmt.Errorf("credcore: unknown account status %d", status)
	}
	if userID == "" {
		return ErrUserNotFound
	}

	res := e.flows.SetAccountStatus(ctx, userID, uint8(status))
	if res.Revoked > 0 {
		e.metricAdd(MetricSessionInvalidated, res.Revoked)
	}
	meta := func() map[string]string {
		return map[string]string{
			"from":    AccountStatus(res.Previous).String(),
			"to":      status.String(),
			"revoked": strconv.Itoa(res.Revoked),
		}
	}
	if res.Err != nil {
		err := res.Err
		if !errors.Is(err, ErrUserNotFound) {
			err = storageError(err)
		}
		e.emitAudit(ctx, auditEventAccountStatusChange, false, userID, "", err, meta)
		return err
	}
	if !res.Changed {
		return nil
	}

	switch status {
	case AccountActive:
		e.metricInc(MetricAccountEnabled)
	case AccountDisabled:
		e.metricInc(MetricAccountDisabled)
	case AccountDeleted:
		e.metricInc(MetricAccountDeleted)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, true, userID, "", nil, meta)
	return nil
}

// checkPolicy enforces the length rules of the configured algorithm.
func (e *Engine) checkPolicy(pw string) error {
	n := len(pw)
	switch {
	case n == 0:
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, password.ErrPasswordEmpty)
	case utf8.RuneCountInString(pw) < e.config.Password.MinLength:
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, password.ErrPasswordTooShort)
	case n > maxPasswordBytes(e.config.Password.Algorithm):
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, password.ErrPasswordTooLong)
	}
	return nil
}

func maxPasswordBytes(alg password.Algorithm) int {
	if alg == password.AlgorithmArgon2id {
		return password.MaxArgon2PasswordBytes
	}
	return password.MaxBcryptPasswordBytes
}

// passwordPolicyError converts hasher length errors into ErrPasswordPolicy.
func passwordPolicyError(err error) error {
	if errors.Is(err, password.ErrPasswordEmpty) ||
		errors.Is(err, password.ErrPasswordTooShort) ||
		errors.Is(err, password.ErrPasswordTooLong) {
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}
	return nil
}

// normalizeIdentifier trims surrounding space and lowercases, so lookups
// and the login limiter key agree on one spelling.
func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func validIdentifier(identifier string) bool {
	if identifier == "" || !utf8.ValidString(identifier) {
		return false
	}
	if utf8.RuneCountInString(identifier) > maxIdentifierLength {
		return false
	}
	for _, r := range identifier {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
