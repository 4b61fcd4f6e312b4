package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/credcore"
)

var errBadRequest = errors.New("malformed request body")

type errorMapping struct {
	err    error
	status int
	code   string
}

// Ordered: the first match wins.
var errorMappings = []errorMapping{
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{credcore.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{credcore.ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
	{credcore.ErrTokenMissing, http.StatusUnauthorized, "token_missing"},
	{credcore.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
	{credcore.ErrTokenMalformed, http.StatusUnauthorized, "token_malformed"},
	{credcore.ErrTokenSignatureInvalid, http.StatusUnauthorized, "token_signature_invalid"},
	{credcore.ErrTokenWrongType, http.StatusUnauthorized, "token_wrong_type"},
	{credcore.ErrRefreshReplayDetected, http.StatusUnauthorized, "refresh_replay_detected"},
	{credcore.ErrRefreshInvalid, http.StatusUnauthorized, "refresh_invalid"},
	{credcore.ErrRefreshConflict, http.StatusConflict, "refresh_conflict"},
	{credcore.ErrLoginRateLimited, http.StatusTooManyRequests, "login_rate_limited"},
	{credcore.ErrRefreshRateLimited, http.StatusTooManyRequests, "refresh_rate_limited"},
	{credcore.ErrRecoveryRateLimited, http.StatusTooManyRequests, "recovery_rate_limited"},
	{credcore.ErrChallengeInvalid, http.StatusBadRequest, "invalid_token"},
	{credcore.ErrEmailAlreadyVerified, http.StatusBadRequest, "already_verified"},
	{credcore.ErrPasswordResetDisabled, http.StatusNotFound, "feature_disabled"},
	{credcore.ErrEmailVerificationDisabled, http.StatusNotFound, "feature_disabled"},
	{credcore.ErrPasswordPolicy, http.StatusBadRequest, "password_policy"},
	{credcore.ErrPasswordReuse, http.StatusBadRequest, "password_reuse"},
	{credcore.ErrInvalidIdentifier, http.StatusBadRequest, "invalid_identifier"},
	{credcore.ErrAccountExists, http.StatusConflict, "account_exists"},
	{credcore.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{credcore.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	{credcore.ErrEngineNotReady, http.StatusServiceUnavailable, "not_ready"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "timeout"},
	{context.Canceled, http.StatusServiceUnavailable, "canceled"},
}

// StatusFor maps an engine error to an HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	status, _ := classify(err)
	return status
}

// ErrorCode is the stable machine-readable code for err.
func ErrorCode(err error) string {
	_, code := classify(err)
	return code
}

func classify(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}
