package credcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/credcore/session"
)

func TestPasswordResetRevokesSessions(t *testing.T) {
	te := newTestEngine(t, withRecovery())
	ctx := context.Background()
	te.register(t, "rita")
	a := te.login(t, "rita")
	b := te.login(t, "rita")

	token, err := te.RequestPasswordReset(ctx, "  Rita ")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token for a known identifier")
	}
	if te.challenges.Len() != 1 {
		t.Fatalf("expected one stored challenge, got %d", te.challenges.Len())
	}

	if err := te.ResetPassword(ctx, token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := te.ResetPassword(ctx, token, "brand-new-password"); err != nil {
		t.Fatalf("reset password: %v", err)
	}

	for _, pair := range []*TokenPair{a, b} {
		if _, err := te.Refresh(ctx, pair.RefreshToken); err == nil {
			t.Fatal("sessions must be revoked after a password reset")
		}
	}
	if _, err := te.Login(ctx, "rita", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := te.Login(ctx, "rita", "brand-new-password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	if err := te.ResetPassword(ctx, token, "another-password-1"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("reused token: expected ErrChallengeInvalid, got %v", err)
	}

	snap := te.MetricsSnapshot()
	if snap.Counters[MetricPasswordResetRequest] != 1 || snap.Counters[MetricPasswordResetSuccess] != 1 {
		t.Fatalf("unexpected reset counters: %+v", snap.Counters)
	}
	if snap.Counters[MetricPasswordResetFailure] != 2 {
		t.Fatalf("expected 2 reset failures, got %d", snap.Counters[MetricPasswordResetFailure])
	}
	if snap.Counters[MetricSessionInvalidated] < 2 {
		t.Fatalf("expected revoked sessions to be counted, got %d", snap.Counters[MetricSessionInvalidated])
	}
}

func TestPasswordResetUnknownIdentifierLooksAccepted(t *testing.T) {
	te := newTestEngine(t, withRecovery())
	token, err := te.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil || token != "" {
		t.Fatalf("expected silent acceptance, got token=%q err=%v", token, err)
	}
	if te.challenges.Len() != 0 {
		t.Fatalf("no challenge may be stored for an unknown identifier")
	}
}

func TestPasswordResetTokenExpires(t *testing.T) {
	te := newTestEngine(t, withRecovery())
	ctx := context.Background()
	te.register(t, "sven")
	token, err := te.RequestPasswordReset(ctx, "sven")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}

	te.clock.Advance(te.config.PasswordReset.ResetTTL + time.Second)
	if err := te.ResetPassword(ctx, token, "brand-new-password"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid, got %v", err)
	}
}

func TestPasswordResetRejectsMalformedToken(t *testing.T) {
	te := newTestEngine(t, withRecovery())
	for _, token := range []string{"", "not-a-token", "AAAA"} {
		if err := te.ResetPassword(context.Background(), token, "brand-new-password"); !errors.Is(err, ErrChallengeInvalid) {
			t.Fatalf("%q: expected ErrChallengeInvalid, got %v", token, err)
		}
	}
}

func TestRecoveryDisabledByDefault(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	u := te.register(t, "tara")

	if _, err := te.RequestPasswordReset(ctx, "tara"); !errors.Is(err, ErrPasswordResetDisabled) {
		t.Fatalf("expected ErrPasswordResetDisabled, got %v", err)
	}
	if _, err := te.RequestEmailVerification(ctx, u.UserID); !errors.Is(err, ErrEmailVerificationDisabled) {
		t.Fatalf("expected ErrEmailVerificationDisabled, got %v", err)
	}
}

func TestEmailVerification(t *testing.T) {
	te := newTestEngine(t, withRecovery())
	ctx := context.Background()
	u := te.register(t, "uma")

	token, err := te.RequestEmailVerification(ctx, u.UserID)
	if err != nil {
		t.Fatalf("request verification: %v", err)
	}
	if err := te.ResetPassword(ctx, token, "brand-new-password"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("verification token must not reset a password, got %v", err)
	}
	if err := te.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	if got := te.users.user(t, u.UserID).VerifiedAt; !got.Equal(te.clock.Now()) {
		t.Fatalf("expected verified_at %v, got %v", te.clock.Now(), got)
	}
	if _, err := te.RequestEmailVerification(ctx, u.UserID); !errors.Is(err, ErrEmailAlreadyVerified) {
		t.Fatalf("expected ErrEmailAlreadyVerified, got %v", err)
	}
	if err := te.VerifyEmail(ctx, token); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("reused token: expected ErrChallengeInvalid, got %v", err)
	}

	snap := te.MetricsSnapshot()
	if snap.Counters[MetricEmailVerificationRequest] != 1 || snap.Counters[MetricEmailVerificationSuccess] != 1 {
		t.Fatalf("unexpected verification counters: %+v", snap.Counters)
	}
}

func TestRecoveryThrottle(t *testing.T) {
	mr, rdb := newMiniredis(t)
	te := newTestEngine(t, withRedis(rdb), withRecovery(), withConfig(func(c *Config) {
		c.Security.MaxRecoveryRequests = 2
		c.Security.RecoveryWindow = time.Minute
	}))
	ctx := context.Background()
	te.register(t, "vera")

	for i := 0; i < 2; i++ {
		if _, err := te.RequestPasswordReset(ctx, "vera"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err := te.RequestPasswordReset(ctx, "vera")
	if !errors.Is(err, ErrRecoveryRateLimited) {
		t.Fatalf("expected ErrRecoveryRateLimited, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatal("recovery rate limit must be retryable")
	}
	if got := te.MetricsSnapshot().Counters[MetricRecoveryRateLimited]; got != 1 {
		t.Fatalf("expected 1 rate-limited request, got %d", got)
	}

	mr.FastForward(time.Minute + time.Second)
	if _, err := te.RequestPasswordReset(ctx, "vera"); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestPasswordResetClearsLoginLockout(t *testing.T) {
	mr, rdb := newMiniredis(t)
	te := newTestEngine(t, withRedis(rdb), withRecovery(), withConfig(func(c *Config) {
		c.Security.MaxLoginAttempts = 2
		c.Security.LoginCooldown = time.Hour
	}))
	ctx := context.Background()
	te.register(t, "wes")

	for i := 0; i < 2; i++ {
		_, _ = te.Login(ctx, "wes", "wrong-password-1")
	}
	if _, err := te.Login(ctx, "wes", testPassword); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected lockout, got %v", err)
	}

	token, err := te.RequestPasswordReset(ctx, "wes")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if err := te.ResetPassword(ctx, token, "brand-new-password"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists("credcore:lf:wes") {
		t.Fatal("a completed reset must clear the login failure counter")
	}
	if _, err := te.Login(ctx, "wes", "brand-new-password"); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
}

func TestRecoveryAuditEvents(t *testing.T) {
	sink := NewChannelSink(16)
	te := newTestEngine(t, withRecovery(), withSink(sink), withConfig(func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.DropIfFull = false
	}))
	ctx := context.Background()
	u := te.register(t, "xena")

	token, err := te.RequestPasswordReset(ctx, "xena")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if err := te.ResetPassword(ctx, "bogus", "brand-new-password"); err == nil {
		t.Fatal("expected failure for bogus token")
	}
	if err := te.ResetPassword(ctx, token, "brand-new-password"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	want := []struct {
		event   string
		success bool
		code    AuditErrorCode
	}{
		{auditEventAccountCreationSuccess, true, ""},
		{auditEventPasswordResetRequest, true, ""},
		{auditEventPasswordResetConfirm, false, auditErrChallengeInvalid},
		{auditEventPasswordResetConfirm, true, ""},
	}
	for i, w := range want {
		select {
		case ev := <-sink.Events():
			if ev.EventType != w.event || ev.Success != w.success || ev.Error != string(w.code) {
				t.Fatalf("event %d: expected %s/%v/%q, got %+v", i, w.event, w.success, w.code, ev)
			}
			if i == 3 && ev.Subject != u.UserID {
				t.Fatalf("reset event must name the subject, got %q", ev.Subject)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w.event)
		}
	}
}

func TestBuildRecoveryRequiresChallengeStore(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordReset.Enabled = true
	_, err := New().
		WithConfig(cfg).
		WithKeyring(testKeyring(t)).
		WithUserProvider(newFakeUserProvider()).
		WithSessionStore(session.NewMemoryStore()).
		Build()
	if err == nil {
		t.Fatal("expected build error without a challenge store")
	}
}
