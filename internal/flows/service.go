package flows

import (
	"context"

	"github.com/MrEthical07/credcore/jwt"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Refresh.ValidateRefresh != nil && s.deps.Refresh.Store != nil
}

func (s Service) Login(ctx context.Context, identifier, password string) (*IssuedTokens, error) {
	return RunLogin(ctx, identifier, password, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, refreshToken string) LogoutResult {
	return RunLogout(ctx, refreshToken, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, refreshToken string) LogoutResult {
	return RunLogoutAll(ctx, refreshToken, s.deps.Logout)
}

func (s Service) RevokeAllForSubject(ctx context.Context, subject string) (int, error) {
	return RunRevokeAllForSubject(ctx, subject, s.deps.Logout)
}

func (s Service) ChangePassword(ctx context.Context, subject, oldPassword, newPassword string) ChangePasswordResult {
	return RunChangePassword(ctx, subject, oldPassword, newPassword, s.deps.ChangePassword)
}

func (s Service) Register(ctx context.Context, identifier, password string) (LoginUser, error) {
	return RunRegister(ctx, identifier, password, s.deps.Register)
}

func (s Service) SetAccountStatus(ctx context.Context, userID string, status uint8) AccountStatusResult {
	return RunSetAccountStatus(ctx, userID, status, s.deps.AccountStatus)
}

func (s Service) RequestPasswordReset(ctx context.Context, identifier string) RecoveryResult {
	return RunRequestPasswordReset(ctx, identifier, s.deps.PasswordReset)
}

func (s Service) ResetPassword(ctx context.Context, token, newPassword string) RecoveryResult {
	return RunResetPassword(ctx, token, newPassword, s.deps.PasswordReset)
}

func (s Service) RequestEmailVerification(ctx context.Context, subject string) RecoveryResult {
	return RunRequestEmailVerification(ctx, subject, s.deps.EmailVerification)
}

func (s Service) VerifyEmail(ctx context.Context, token string) RecoveryResult {
	return RunVerifyEmail(ctx, token, s.deps.EmailVerification)
}

func (s Service) Authenticate(header string) (*jwt.Claims, error) {
	return RunAuthenticate(header, s.deps.Validate)
}
