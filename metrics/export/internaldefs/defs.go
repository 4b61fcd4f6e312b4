package internaldefs

import (
	"github.com/MrEthical07/credcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   credcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   credcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: credcore.MetricLoginSuccess, Name: "credcore_login_success_total", Help: "Successful login attempts."},
	{ID: credcore.MetricLoginFailure, Name: "credcore_login_failure_total", Help: "Failed login attempts."},
	{ID: credcore.MetricLoginRateLimited, Name: "credcore_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: credcore.MetricRefreshSuccess, Name: "credcore_refresh_success_total", Help: "Successful refresh operations."},
	{ID: credcore.MetricRefreshFailure, Name: "credcore_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: credcore.MetricRefreshConflict, Name: "credcore_refresh_conflict_total", Help: "Refreshes that lost a concurrent rotation."},
	{ID: credcore.MetricReplayDetected, Name: "credcore_replay_detected_total", Help: "Revoked refresh tokens presented again."},
	{ID: credcore.MetricRefreshRateLimited, Name: "credcore_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: credcore.MetricSessionCreated, Name: "credcore_session_created_total", Help: "Created sessions."},
	{ID: credcore.MetricSessionInvalidated, Name: "credcore_session_invalidated_total", Help: "Refresh records revoked in bulk."},
	{ID: credcore.MetricLogout, Name: "credcore_logout_total", Help: "Single-session logout operations."},
	{ID: credcore.MetricLogoutAll, Name: "credcore_logout_all_total", Help: "Logout-all operations."},
	{ID: credcore.MetricAccountCreationSuccess, Name: "credcore_account_creation_success_total", Help: "Successful account creations."},
	{ID: credcore.MetricAccountCreationDuplicate, Name: "credcore_account_creation_duplicate_total", Help: "Account creation attempts rejected as duplicate."},
	{ID: credcore.MetricPasswordChangeSuccess, Name: "credcore_password_change_success_total", Help: "Successful password changes."},
	{ID: credcore.MetricPasswordChangeInvalidOld, Name: "credcore_password_change_invalid_old_total", Help: "Password change attempts with invalid old password."},
	{ID: credcore.MetricPasswordChangeReuseRejected, Name: "credcore_password_change_reuse_rejected_total", Help: "Password change attempts rejected for reuse."},
	{ID: credcore.MetricPasswordHashUpgraded, Name: "credcore_password_hash_upgraded_total", Help: "Digests rehashed with current parameters at login."},
	{ID: credcore.MetricAccountDisabled, Name: "credcore_account_disabled_total", Help: "Account disable operations."},
	{ID: credcore.MetricAccountDeleted, Name: "credcore_account_deleted_total", Help: "Account delete operations."},
	{ID: credcore.MetricAccountEnabled, Name: "credcore_account_enabled_total", Help: "Account reactivations."},
	{ID: credcore.MetricValidateSuccess, Name: "credcore_validate_success_total", Help: "Accepted access tokens."},
	{ID: credcore.MetricValidateFailure, Name: "credcore_validate_failure_total", Help: "Rejected access tokens."},
	{ID: credcore.MetricKeyRotation, Name: "credcore_key_rotation_total", Help: "Signing keyring swaps."},
	{ID: credcore.MetricSessionsPurged, Name: "credcore_sessions_purged_total", Help: "Expired refresh records deleted by purge."},
	{ID: credcore.MetricPasswordResetRequest, Name: "credcore_password_reset_request_total", Help: "Password reset requests accepted."},
	{ID: credcore.MetricPasswordResetSuccess, Name: "credcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: credcore.MetricPasswordResetFailure, Name: "credcore_password_reset_failure_total", Help: "Rejected password reset confirmations."},
	{ID: credcore.MetricEmailVerificationRequest, Name: "credcore_email_verification_request_total", Help: "Email verification requests accepted."},
	{ID: credcore.MetricEmailVerificationSuccess, Name: "credcore_email_verification_success_total", Help: "Confirmed email addresses."},
	{ID: credcore.MetricEmailVerificationFailure, Name: "credcore_email_verification_failure_total", Help: "Rejected email verification confirmations."},
	{ID: credcore.MetricRecoveryRateLimited, Name: "credcore_recovery_rate_limited_total", Help: "Reset and verification requests refused by the throttle."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: credcore.MetricValidateLatency, Name: "credcore_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the engine's latency bucket bounds in seconds.
var HistogramBounds = []string{
	"0.00005",
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.0025",
	"0.005",
	"+Inf",
}

// HistogramBoundSuffix names each bucket in instrument names, in
// microseconds.
var HistogramBoundSuffix = []string{
	"50us",
	"100us",
	"250us",
	"500us",
	"1000us",
	"2500us",
	"5000us",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
