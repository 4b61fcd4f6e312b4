package credcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/credcore/internal/flows"
	"go.uber.org/zap"
)

// RequestPasswordReset issues a single-use reset token for identifier and
// returns it for out-of-band delivery. An unknown or inactive identifier
// returns an empty token and a nil error, so the response must not differ
// between the two cases.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) (string, error) {
	if e == nil || !e.flows.Initialized() {
		return "", ErrEngineNotReady
	}
	identifier = normalizeIdentifier(identifier)
	res := e.flows.RequestPasswordReset(ctx, identifier)
	meta := func() map[string]string {
		m := map[string]string{"identifier": identifier}
		if res.Reason != "" {
			m["reason"] = res.Reason
		}
		return m
	}

	if res.Err != nil {
		e.recoveryFailure(res)
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, res.Subject, "", res.Err, meta)
		return "", res.Err
	}
	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, res.Subject, "", nil, meta)
	return res.Token, nil
}

// ResetPassword redeems a reset token, stores a digest of newPassword and
// revokes every session of the account. A rejected password leaves the
// token usable; any other failure consumes it.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	res := e.flows.ResetPassword(ctx, token, newPassword)
	if res.Revoked > 0 {
		e.metricAdd(MetricSessionInvalidated, res.Revoked)
	}

	if res.Err != nil {
		if res.Reason == "session_invalidation_failed" {
			e.logger.Error("session revocation after password reset failed",
				zap.String("subject", res.Subject), zap.Error(res.Err))
		}
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, res.Subject, "", res.Err, reasonMeta(res.Reason))
		return res.Err
	}
	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, res.Subject, "", nil, countMeta("revoked", res.Revoked))
	return nil
}

// RequestEmailVerification issues a single-use verification token for the
// authenticated subject.
func (e *Engine) RequestEmailVerification(ctx context.Context, subject string) (string, error) {
	if e == nil || !e.flows.Initialized() {
		return "", ErrEngineNotReady
	}
	res := e.flows.RequestEmailVerification(ctx, subject)
	if res.Err != nil {
		e.recoveryFailure(res)
		e.emitAudit(ctx, auditEventEmailVerifyRequest, false, subject, "", res.Err, reasonMeta(res.Reason))
		return "", res.Err
	}
	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerifyRequest, true, subject, "", nil, nil)
	return res.Token, nil
}

// VerifyEmail redeems a verification token and marks its owner verified.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	res := e.flows.VerifyEmail(ctx, token)
	if res.Err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerifyConfirm, false, res.Subject, "", res.Err, reasonMeta(res.Reason))
		return res.Err
	}
	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerifyConfirm, true, res.Subject, "", nil, nil)
	return nil
}

func (e *Engine) recoveryFailure(res flows.RecoveryResult) {
	if errors.Is(res.Err, ErrRecoveryRateLimited) {
		e.metricInc(MetricRecoveryRateLimited)
		return
	}
	if errors.Is(res.Err, ErrStorageUnavailable) {
		e.logger.Warn("recovery request failed", zap.String("reason", res.Reason), zap.Error(res.Err))
	}
}
