package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/session"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	ValidateRefresh func(string) (*jwt.Claims, error)
	IsExpired       func(error) bool
	Store           session.Store
}

// LogoutResult reports who was logged out. Err is nil for an expired token
// or an already purged record; both are treated as already logged out.
type LogoutResult struct {
	Subject   string
	SessionID string
	Revoked   int
	Err       error
}

// RunLogout revokes the refresh record behind refreshToken.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	claims, err := deps.ValidateRefresh(refreshToken)
	if err != nil {
		if deps.IsExpired != nil && deps.IsExpired(err) {
			return LogoutResult{}
		}
		return LogoutResult{Err: err}
	}

	res := LogoutResult{Subject: claims.Subject, SessionID: claims.SessionID}
	err = deps.Store.Revoke(ctx, session.HashTokenID(claims.ID))
	switch {
	case err == nil:
		res.Revoked = 1
	case errors.Is(err, session.ErrNotFound):
	default:
		res.Err = err
	}
	return res
}

// RunLogoutAll revokes every refresh record of the token's subject.
func RunLogoutAll(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	claims, err := deps.ValidateRefresh(refreshToken)
	if err != nil {
		return LogoutResult{Err: err}
	}
	n, err := deps.Store.RevokeAllForSubject(ctx, claims.Subject)
	return LogoutResult{
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
		Revoked:   n,
		Err:       err,
	}
}

// RunRevokeAllForSubject revokes every refresh record of subject.
func RunRevokeAllForSubject(ctx context.Context, subject string, deps LogoutDeps) (int, error) {
	if subject == "" {
		return 0, errors.New("subject must not be empty")
	}
	return deps.Store.RevokeAllForSubject(ctx, subject)
}
