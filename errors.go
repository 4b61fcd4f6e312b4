package credcore

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown identifier or a wrong
	// password. The two cases are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned when a disabled account authenticates and
	// Security.HideAccountStatus is off.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrTokenExpired reports a token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed reports a token that cannot be decoded or carries unacceptable claims.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenSignatureInvalid reports a bad signature, unknown key id, or disallowed algorithm.
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	// ErrTokenWrongType reports an access token presented as refresh token or the reverse.
	ErrTokenWrongType = errors.New("token type mismatch")
	// ErrTokenMissing is returned by Authenticate when no bearer credential is present.
	ErrTokenMissing = errors.New("bearer token missing")
	// ErrRefreshReplayDetected is returned when a revoked refresh token is
	// presented. Every session of the subject is revoked before it returns.
	ErrRefreshReplayDetected = errors.New("refresh token replay detected")
	// ErrRefreshInvalid reports an unknown, expired, or mismatched refresh token.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshConflict is returned to the losers of a concurrent refresh of
	// the same token, and to reuse within Security.RotationGracePeriod.
	ErrRefreshConflict = errors.New("refresh token already rotated")
	// ErrStorageUnavailable wraps session and user store failures. It is never
	// reported as an authentication failure.
	ErrStorageUnavailable = errors.New("credential storage unavailable")
	// ErrLoginRateLimited is returned while an identifier is locked out.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when a session lineage refreshes too often.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrPasswordPolicy is returned when a new password violates length rules.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a new password matches the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrInvalidIdentifier is returned by Register for an empty or over-long identifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrAccountExists is returned by Register for a taken identifier.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned by a UserProvider for an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrPasswordResetDisabled is returned when PasswordReset.Enabled is off.
	ErrPasswordResetDisabled = errors.New("password reset disabled")
	// ErrEmailVerificationDisabled is returned when EmailVerification.Enabled is off.
	ErrEmailVerificationDisabled = errors.New("email verification disabled")
	// ErrChallengeInvalid reports an unknown, expired, consumed or malformed
	// one-time token. The cases are indistinguishable to the caller.
	ErrChallengeInvalid = errors.New("invalid or expired one-time token")
	// ErrEmailAlreadyVerified is returned when verification is requested or
	// confirmed for an account that is already verified.
	ErrEmailAlreadyVerified = errors.New("email already verified")
	// ErrRecoveryRateLimited is returned when reset or verification requests
	// for one key exceed Security.MaxRecoveryRequests.
	ErrRecoveryRateLimited = errors.New("recovery request rate limited")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// IsRetryable reports whether err is transient: storage outages and rate
// limits. Authentication failures are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrLoginRateLimited) ||
		errors.Is(err, ErrRefreshRateLimited) ||
		errors.Is(err, ErrRecoveryRateLimited)
}

// storageError wraps a backend failure so that errors.Is matches both
// ErrStorageUnavailable and the original cause.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return errors.Join(ErrStorageUnavailable, err)
}
