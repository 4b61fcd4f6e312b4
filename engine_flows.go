package credcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credcore/challenge"
	"github.com/MrEthical07/credcore/internal"
	"github.com/MrEthical07/credcore/internal/flows"
	"github.com/MrEthical07/credcore/internal/rate"
	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/session"
	"github.com/google/uuid"
)

// buildFlows wires the engine's collaborators into the flow runners once.
func (e *Engine) buildFlows() flows.Service {
	issueDeps := flows.IssueDeps{
		Codec:      e.codec,
		AccessTTL:  e.config.JWT.AccessTTL,
		RefreshTTL: e.config.JWT.RefreshTTL,
	}
	validateRefresh := func(token string) (*jwt.Claims, error) {
		return e.codec.Validate(token, jwt.TypeRefresh)
	}
	metricInc := func(id int) { e.metricInc(MetricID(id)) }
	revokeAll := func(ctx context.Context, subject string) (int, error) {
		return e.sessionStore.RevokeAllForSubject(ctx, subject)
	}

	login := flows.LoginDeps{
		UpgradeOnLogin:      e.config.Password.UpgradeOnLogin,
		DummyDigest:         e.dummyDigest,
		Now:                 e.now,
		ClientIPFromContext: clientIPFromContext,
		AccountStatusError:  func(s uint8) error { return e.accountStatusError(AccountStatus(s)) },
		IsRateLimited:       isRateLimited,
		IsUserNotFound:      isUserNotFound,
		StoreError:          storageError,
		GetUserByIdentifier: func(ctx context.Context, identifier string) (flows.LoginUser, error) {
			u, err := e.userProvider.GetUserByIdentifier(ctx, identifier)
			return loginUser(u), err
		},
		UpdatePasswordHash: e.userProvider.UpdatePasswordHash,
		TouchLastLogin:     e.userProvider.TouchLastLogin,
		VerifyPassword:     e.verifyPassword,
		PasswordNeedsUpgrade: func(digest string) bool {
			return e.hasher.NeedsUpgrade(digest)
		},
		HashPassword: e.hashPassword,
		IssueSession: func(ctx context.Context, subject string) (*flows.IssuedTokens, error) {
			tokens, rec, err := flows.IssueTokens(subject, newSessionID(), issueDeps)
			if err != nil {
				return nil, err
			}
			if err := e.sessionStore.InsertRefreshRecord(ctx, rec); err != nil {
				return nil, storageError(err)
			}
			return tokens, nil
		},
		MetricInc: metricInc,
		EmitAudit: e.emitAudit,
		Logger:    e.logger,
		Metrics: flows.LoginMetrics{
			LoginSuccess:         int(MetricLoginSuccess),
			LoginFailure:         int(MetricLoginFailure),
			LoginRateLimited:     int(MetricLoginRateLimited),
			SessionCreated:       int(MetricSessionCreated),
			PasswordHashUpgraded: int(MetricPasswordHashUpgraded),
		},
		Events: flows.LoginEvents{
			LoginSuccess:         auditEventLoginSuccess,
			LoginFailure:         auditEventLoginFailure,
			LoginRateLimited:     auditEventLoginRateLimited,
			PasswordHashUpgraded: auditEventPasswordHashUpgraded,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			LoginRateLimited:   ErrLoginRateLimited,
		},
	}
	if e.loginLimiter != nil {
		login.CheckLoginRate = e.loginLimiter.CheckLogin
		login.RecordLoginFailure = e.loginLimiter.RecordLoginFailure
		login.ResetLoginRate = e.loginLimiter.ResetLogin
	}

	refresh := flows.RefreshDeps{
		Now:             e.now,
		ValidateRefresh: validateRefresh,
		Store:           e.sessionStore,
		GracePeriod:     e.config.Security.RotationGracePeriod,
		LookupStatus: func(ctx context.Context, subject string) (uint8, error) {
			u, err := e.userProvider.GetUserByID(ctx, subject)
			return uint8(u.Status), err
		},
		AccountStatusError: func(s uint8) error { return e.accountStatusError(AccountStatus(s)) },
		IsUserNotFound:     isUserNotFound,
		Issue: func(subject, sessionID string) (*flows.IssuedTokens, *session.Record, error) {
			return flows.IssueTokens(subject, sessionID, issueDeps)
		},
	}
	if e.refreshLimiter != nil {
		refresh.RateLimiter = e.refreshLimiter
	}

	recovery := func(enabled bool, purpose challenge.Purpose, ttl time.Duration) flows.RecoveryDeps {
		deps := flows.RecoveryDeps{
			Enabled:        enabled,
			Purpose:        purpose,
			TTL:            ttl,
			Now:            e.now,
			NewSecret:      internal.NewTokenSecret,
			ValidSecret:    internal.ValidTokenSecret,
			Store:          e.challenges,
			IsRateLimited:  isRateLimited,
			IsUserNotFound: isUserNotFound,
			StoreError:     storageError,
			GetUserByIdentifier: func(ctx context.Context, identifier string) (flows.LoginUser, error) {
				u, err := e.userProvider.GetUserByIdentifier(ctx, identifier)
				return loginUser(u), err
			},
			GetUserByID: func(ctx context.Context, id string) (flows.LoginUser, error) {
				u, err := e.userProvider.GetUserByID(ctx, id)
				return loginUser(u), err
			},
			AccountStatusError: func(s uint8) error { return e.accountStatusError(AccountStatus(s)) },
			CheckPolicy:        e.checkPolicy,
			HashPassword:       e.hashPassword,
			UpdatePasswordHash: e.userProvider.UpdatePasswordHash,
			RevokeAll:          revokeAll,
			MarkVerified:       e.userProvider.MarkVerified,
			Errors: flows.RecoveryErrors{
				EngineNotReady:   ErrEngineNotReady,
				ChallengeInvalid: ErrChallengeInvalid,
				AlreadyVerified:  ErrEmailAlreadyVerified,
				RateLimited:      ErrRecoveryRateLimited,
			},
		}
		if purpose == challenge.PurposePasswordReset {
			deps.Errors.Disabled = ErrPasswordResetDisabled
		} else {
			deps.Errors.Disabled = ErrEmailVerificationDisabled
		}
		if e.recoveryLimiter != nil {
			deps.CheckRate = e.recoveryLimiter.CheckRecovery
		}
		if e.loginLimiter != nil {
			deps.ResetLoginRate = e.loginLimiter.ResetLogin
		}
		return deps
	}

	return flows.New(flows.Deps{
		Login:   login,
		Refresh: refresh,
		Logout: flows.LogoutDeps{
			ValidateRefresh: validateRefresh,
			IsExpired:       func(err error) bool { return errors.Is(err, jwt.ErrExpired) },
			Store:           e.sessionStore,
		},
		Validate: flows.ValidateDeps{
			ValidateAccess: func(token string) (*jwt.Claims, error) {
				return e.codec.Validate(token, jwt.TypeAccess)
			},
			ErrTokenMissing: ErrTokenMissing,
		},
		ChangePassword: flows.ChangePasswordDeps{
			GetUserByID: func(ctx context.Context, id string) (flows.LoginUser, error) {
				u, err := e.userProvider.GetUserByID(ctx, id)
				return loginUser(u), err
			},
			AccountStatusError: func(s uint8) error { return e.accountStatusError(AccountStatus(s)) },
			StoreError:         storageError,
			VerifyPassword:     e.verifyPassword,
			CheckPolicy:        e.checkPolicy,
			HashPassword:       e.hashPassword,
			UpdatePasswordHash: e.userProvider.UpdatePasswordHash,
			RevokeAll:          revokeAll,
			Errors: flows.PasswordErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: ErrInvalidCredentials,
				PasswordPolicy:     ErrPasswordPolicy,
				PasswordReuse:      ErrPasswordReuse,
			},
		},
		Register: flows.RegisterDeps{
			Now:             e.now,
			NewUserID:       uuid.NewString,
			ValidIdentifier: validIdentifier,
			CheckPolicy:     e.checkPolicy,
			HashPassword:    e.hashPassword,
			CreateUser: func(ctx context.Context, userID, identifier, digest string, at time.Time) (flows.LoginUser, error) {
				u, err := e.userProvider.CreateUser(ctx, CreateUserInput{
					UserID:       userID,
					Identifier:   identifier,
					PasswordHash: digest,
					Status:       AccountActive,
					CreatedAt:    at,
				})
				return loginUser(u), err
			},
			Errors: flows.RegisterErrors{
				EngineNotReady:    ErrEngineNotReady,
				InvalidIdentifier: ErrInvalidIdentifier,
			},
		},
		AccountStatus: flows.AccountStatusDeps{
			GetUserByID: func(ctx context.Context, id string) (flows.LoginUser, error) {
				u, err := e.userProvider.GetUserByID(ctx, id)
				return loginUser(u), err
			},
			UpdateAccountStatus: func(ctx context.Context, id string, s uint8) (flows.LoginUser, error) {
				u, err := e.userProvider.UpdateAccountStatus(ctx, id, AccountStatus(s))
				return loginUser(u), err
			},
			RevokeAll:      revokeAll,
			ActiveStatus:   uint8(AccountActive),
			EngineNotReady: ErrEngineNotReady,
		},
		PasswordReset: recovery(
			e.config.PasswordReset.Enabled,
			challenge.PurposePasswordReset,
			e.config.PasswordReset.ResetTTL,
		),
		EmailVerification: recovery(
			e.config.EmailVerification.Enabled,
			challenge.PurposeEmailVerification,
			e.config.EmailVerification.VerificationTTL,
		),
	})
}

// accountStatusError maps a non-active status to the error a caller sees.
// Deleted accounts are indistinguishable from unknown identifiers.
func (e *Engine) accountStatusError(status AccountStatus) error {
	switch status {
	case AccountActive:
		return nil
	case AccountDisabled:
		if e.config.Security.HideAccountStatus {
			return ErrInvalidCredentials
		}
		return ErrAccountDisabled
	default:
		return ErrInvalidCredentials
	}
}

// verifyPassword runs a digest comparison on the bounded hash pool.
func (e *Engine) verifyPassword(ctx context.Context, plaintext, digest string) (bool, error) {
	return e.pool.Verify(ctx, func() bool {
		return e.hasher.Verify(plaintext, digest)
	})
}

func (e *Engine) hashPassword(ctx context.Context, plaintext string) (string, error) {
	digest, err := e.pool.Hash(ctx, func() (string, error) {
		return e.hasher.Hash(plaintext)
	})
	if err != nil {
		if policyErr := passwordPolicyError(err); policyErr != nil {
			return "", policyErr
		}
		return "", err
	}
	return digest, nil
}

func loginUser(u UserRecord) flows.LoginUser {
	return flows.LoginUser{
		UserID:       u.UserID,
		Identifier:   u.Identifier,
		PasswordHash: u.PasswordHash,
		Status:       uint8(u.Status),
		CreatedAt:    u.CreatedAt,
		VerifiedAt:   u.VerifiedAt,
	}
}

func newSessionID() string {
	return uuid.NewString()
}

func isRateLimited(err error) bool {
	return errors.Is(err, rate.ErrRateLimited) ||
		errors.Is(err, ErrLoginRateLimited) ||
		errors.Is(err, ErrRecoveryRateLimited)
}

func isUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}
