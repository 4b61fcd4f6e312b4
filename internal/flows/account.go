package flows

import (
	"context"
	"time"
)

// RegisterErrors carries host-level sentinel errors used by registration.
type RegisterErrors struct {
	EngineNotReady    error
	InvalidIdentifier error
}

// RegisterDeps captures account creation dependencies.
type RegisterDeps struct {
	Now             func() time.Time
	NewUserID       func() string
	ValidIdentifier func(string) bool
	CheckPolicy     func(string) error
	HashPassword    func(context.Context, string) (string, error)
	CreateUser      func(ctx context.Context, userID, identifier, digest string, at time.Time) (LoginUser, error)

	Errors RegisterErrors
}

// RunRegister creates an active account for identifier.
func RunRegister(ctx context.Context, identifier, password string, deps RegisterDeps) (LoginUser, error) {
	if deps.NewUserID == nil || deps.HashPassword == nil || deps.CreateUser == nil {
		return LoginUser{}, deps.Errors.EngineNotReady
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ValidIdentifier != nil && !deps.ValidIdentifier(identifier) {
		return LoginUser{}, deps.Errors.InvalidIdentifier
	}
	if deps.CheckPolicy != nil {
		if err := deps.CheckPolicy(password); err != nil {
			return LoginUser{}, err
		}
	}

	digest, err := deps.HashPassword(ctx, password)
	if err != nil {
		return LoginUser{}, err
	}
	password = ""

	return deps.CreateUser(ctx, deps.NewUserID(), identifier, digest, deps.Now())
}

// AccountStatusDeps captures account status change dependencies.
type AccountStatusDeps struct {
	GetUserByID         func(context.Context, string) (LoginUser, error)
	UpdateAccountStatus func(context.Context, string, uint8) (LoginUser, error)
	RevokeAll           func(context.Context, string) (int, error)
	ActiveStatus        uint8
	EngineNotReady      error
}

// AccountStatusResult reports a status transition.
type AccountStatusResult struct {
	Previous uint8
	Current  uint8
	Changed  bool
	Revoked  int
	Err      error
}

// RunSetAccountStatus moves userID to status. Leaving the active state
// revokes every session of the account.
func RunSetAccountStatus(ctx context.Context, userID string, status uint8, deps AccountStatusDeps) AccountStatusResult {
	if deps.GetUserByID == nil || deps.UpdateAccountStatus == nil || deps.RevokeAll == nil {
		return AccountStatusResult{Err: deps.EngineNotReady}
	}

	current, err := deps.GetUserByID(ctx, userID)
	if err != nil {
		return AccountStatusResult{Err: err}
	}
	res := AccountStatusResult{Previous: current.Status, Current: current.Status}
	if current.Status == status {
		return res
	}

	updated, err := deps.UpdateAccountStatus(ctx, userID, status)
	if err != nil {
		res.Err = err
		return res
	}
	res.Current = updated.Status
	res.Changed = true

	if status != deps.ActiveStatus {
		n, err := deps.RevokeAll(ctx, userID)
		res.Revoked = n
		res.Err = err
	}
	return res
}
