package credcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/credcore/internal/rate"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginRateLimited         = "login_rate_limited"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshConflict          = "refresh_conflict"
	auditEventRefreshRateLimited       = "refresh_rate_limited"
	auditEventRefreshReplayDetected    = "refresh_replay_detected"
	auditEventLogoutSession            = "logout_session"
	auditEventLogoutAll                = "logout_all"
	auditEventPasswordChangeSuccess    = "password_change_success"
	auditEventPasswordChangeInvalidOld = "password_change_invalid_old"
	auditEventPasswordChangeReuse      = "password_change_reuse_attempt"
	auditEventPasswordChangeFailure    = "password_change_failure"
	auditEventPasswordHashUpgraded     = "password_hash_upgraded"
	auditEventAccountCreationSuccess   = "account_creation_success"
	auditEventAccountCreationFailure   = "account_creation_failure"
	auditEventAccountCreationDuplicate = "account_creation_duplicate"
	auditEventAccountStatusChange      = "account_status_change"
	auditEventKeyRotation              = "key_rotation"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventEmailVerifyRequest       = "email_verification_request"
	auditEventEmailVerifyConfirm       = "email_verification_confirm"
)

// AuditErrorCode is the stable, non-sensitive error label written to
// AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrRefreshReplay      AuditErrorCode = "refresh_replay"
	auditErrRefreshConflict    AuditErrorCode = "refresh_conflict"
	auditErrRefreshInvalid     AuditErrorCode = "refresh_invalid"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrChallengeInvalid   AuditErrorCode = "challenge_invalid"
	auditErrAlreadyVerified    AuditErrorCode = "already_verified"
	auditErrDisabled           AuditErrorCode = "feature_disabled"
	auditErrCanceled           AuditErrorCode = "canceled"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Subject:   subject,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited),
		errors.Is(err, ErrRecoveryRateLimited),
		errors.Is(err, rate.ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRefreshReplayDetected):
		return auditErrRefreshReplay
	case errors.Is(err, ErrRefreshConflict):
		return auditErrRefreshConflict
	case errors.Is(err, ErrRefreshInvalid):
		return auditErrRefreshInvalid
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenSignatureInvalid),
		errors.Is(err, ErrTokenWrongType),
		errors.Is(err, ErrTokenMissing):
		return auditErrInvalidToken
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrChallengeInvalid):
		return auditErrChallengeInvalid
	case errors.Is(err, ErrEmailAlreadyVerified):
		return auditErrAlreadyVerified
	case errors.Is(err, ErrPasswordResetDisabled), errors.Is(err, ErrEmailVerificationDisabled):
		return auditErrDisabled
	case errors.Is(err, ErrStorageUnavailable), errors.Is(err, rate.ErrRedisUnavailable):
		return auditErrUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}
