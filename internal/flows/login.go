package flows

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoginUser is the flow-local credential record.
type LoginUser struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Status       uint8
	CreatedAt    time.Time
	VerifiedAt   time.Time
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess         int
	LoginFailure         int
	LoginRateLimited     int
	SessionCreated       int
	PasswordHashUpgraded int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess         string
	LoginFailure         string
	LoginRateLimited     string
	PasswordHashUpgraded string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	LoginRateLimited   error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	UpgradeOnLogin bool
	// DummyDigest is verified when the identifier is unknown so both
	// failure paths do the same hashing work.
	DummyDigest string

	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string
	AccountStatusError  func(status uint8) error
	IsRateLimited       func(error) bool
	IsUserNotFound      func(error) bool
	StoreError          func(error) error

	CheckLoginRate     func(context.Context, string, string) error
	RecordLoginFailure func(context.Context, string, string) error
	ResetLoginRate     func(context.Context, string) error

	GetUserByIdentifier func(context.Context, string) (LoginUser, error)
	UpdatePasswordHash  func(context.Context, string, string) error
	TouchLastLogin      func(context.Context, string, time.Time) error

	VerifyPassword       func(ctx context.Context, plaintext, digest string) (bool, error)
	PasswordNeedsUpgrade func(string) bool
	HashPassword         func(context.Context, string) (string, error)

	IssueSession func(context.Context, string) (*IssuedTokens, error)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, eventType string, success bool, subject, sessionID string, err error, meta func() map[string]string)
	Logger    *zap.Logger

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin authenticates identifier/password and opens a new session.
func RunLogin(ctx context.Context, identifier, password string, deps LoginDeps) (*IssuedTokens, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.StoreError == nil {
		deps.StoreError = func(err error) error { return err }
	}
	if deps.AccountStatusError == nil ||
		deps.IsUserNotFound == nil ||
		deps.GetUserByIdentifier == nil ||
		deps.VerifyPassword == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	meta := func(reason string) func() map[string]string {
		return func() map[string]string {
			m := map[string]string{"identifier": identifier}
			if reason != "" {
				m["reason"] = reason
			}
			return m
		}
	}

	rateLimited := func(subject string) error {
		deps.MetricInc(deps.Metrics.LoginRateLimited)
		deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, subject, "", deps.Errors.LoginRateLimited, meta(""))
		return deps.Errors.LoginRateLimited
	}

	// fail records a credential failure against the limiter. Reaching the
	// limit on this attempt reports the lockout immediately.
	fail := func(subject, reason string) error {
		if deps.RecordLoginFailure != nil {
			if err := deps.RecordLoginFailure(ctx, identifier, ip); err != nil {
				if deps.IsRateLimited(err) {
					deps.MetricInc(deps.Metrics.LoginFailure)
					return rateLimited(subject)
				}
				deps.Logger.Warn("credcore: login failure counter update failed", zap.Error(err))
			}
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, subject, "", deps.Errors.InvalidCredentials, meta(reason))
		return deps.Errors.InvalidCredentials
	}

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, identifier, ip); err != nil {
			if deps.IsRateLimited(err) {
				return nil, rateLimited("")
			}
			return nil, deps.StoreError(err)
		}
	}

	if identifier == "" || password == "" {
		return nil, fail("", "empty_credentials")
	}

	user, err := deps.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if !deps.IsUserNotFound(err) {
			return nil, deps.StoreError(err)
		}
		if _, verr := deps.VerifyPassword(ctx, password, deps.DummyDigest); verr != nil {
			return nil, verr
		}
		return nil, fail("", "user_not_found")
	}

	ok, err := deps.VerifyPassword(ctx, password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fail(user.UserID, "password_mismatch")
	}

	if statusErr := deps.AccountStatusError(user.Status); statusErr != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.UserID, "", statusErr, meta("account_status"))
		return nil, statusErr
	}

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, identifier); err != nil {
			deps.Logger.Warn("credcore: login limiter reset failed", zap.String("subject", user.UserID), zap.Error(err))
		}
	}
	if deps.TouchLastLogin != nil {
		if err := deps.TouchLastLogin(ctx, user.UserID, deps.Now()); err != nil {
			deps.Logger.Warn("credcore: last login update failed", zap.String("subject", user.UserID), zap.Error(err))
		}
	}

	if deps.UpgradeOnLogin && deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil && deps.UpdatePasswordHash != nil &&
		deps.PasswordNeedsUpgrade(user.PasswordHash) {
		upgradePasswordHash(ctx, user.UserID, password, deps)
	}
	password = ""

	tokens, err := deps.IssueSession(ctx, user.UserID)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.UserID, "", err, meta("session_creation_failed"))
		return nil, err
	}

	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.UserID, tokens.SessionID, nil, nil)
	return tokens, nil
}

func upgradePasswordHash(ctx context.Context, userID, password string, deps LoginDeps) {
	upgraded, err := deps.HashPassword(ctx, password)
	if err != nil {
		deps.Logger.Warn("credcore: password hash upgrade generation failed", zap.String("subject", userID), zap.Error(err))
		return
	}
	if err := deps.UpdatePasswordHash(ctx, userID, upgraded); err != nil {
		deps.Logger.Warn("credcore: password hash upgrade update failed", zap.String("subject", userID), zap.Error(err))
		return
	}
	deps.MetricInc(deps.Metrics.PasswordHashUpgraded)
	deps.EmitAudit(ctx, deps.Events.PasswordHashUpgraded, true, userID, "", nil, nil)
}
