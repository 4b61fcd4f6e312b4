package flows

import (
	"context"
)

// PasswordErrors carries host-level sentinel errors used by the password
// change flow.
type PasswordErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	PasswordPolicy     error
	PasswordReuse      error
}

// ChangePasswordDeps captures password change dependencies.
type ChangePasswordDeps struct {
	GetUserByID        func(context.Context, string) (LoginUser, error)
	AccountStatusError func(uint8) error
	StoreError         func(error) error

	VerifyPassword func(ctx context.Context, plaintext, digest string) (bool, error)
	CheckPolicy    func(string) error
	HashPassword   func(context.Context, string) (string, error)

	UpdatePasswordHash func(context.Context, string, string) error
	RevokeAll          func(context.Context, string) (int, error)

	Errors PasswordErrors
}

// ChangePasswordResult reports the outcome. Reason is an audit label for
// failures.
type ChangePasswordResult struct {
	Revoked int
	Reason  string
	Err     error
}

// RunChangePassword verifies the current password, stores a digest of the
// new one and revokes every session of the subject.
func RunChangePassword(ctx context.Context, subject, oldPassword, newPassword string, deps ChangePasswordDeps) ChangePasswordResult {
	if deps.GetUserByID == nil || deps.VerifyPassword == nil || deps.HashPassword == nil ||
		deps.UpdatePasswordHash == nil || deps.RevokeAll == nil || deps.AccountStatusError == nil {
		return ChangePasswordResult{Reason: "not_ready", Err: deps.Errors.EngineNotReady}
	}
	if deps.StoreError == nil {
		deps.StoreError = func(err error) error { return err }
	}
	if subject == "" || oldPassword == "" {
		return ChangePasswordResult{Reason: "invalid_input", Err: deps.Errors.InvalidCredentials}
	}

	user, err := deps.GetUserByID(ctx, subject)
	if err != nil {
		return ChangePasswordResult{Reason: "user_lookup", Err: err}
	}

	ok, err := deps.VerifyPassword(ctx, oldPassword, user.PasswordHash)
	if err != nil {
		return ChangePasswordResult{Reason: "verify_failed", Err: err}
	}
	if !ok {
		return ChangePasswordResult{Reason: "invalid_old", Err: deps.Errors.InvalidCredentials}
	}

	if statusErr := deps.AccountStatusError(user.Status); statusErr != nil {
		return ChangePasswordResult{Reason: "account_status", Err: statusErr}
	}

	if deps.CheckPolicy != nil {
		if err := deps.CheckPolicy(newPassword); err != nil {
			return ChangePasswordResult{Reason: "policy", Err: err}
		}
	}

	same, err := deps.VerifyPassword(ctx, newPassword, user.PasswordHash)
	if err != nil {
		return ChangePasswordResult{Reason: "verify_failed", Err: err}
	}
	if same {
		return ChangePasswordResult{Reason: "reuse", Err: deps.Errors.PasswordReuse}
	}

	digest, err := deps.HashPassword(ctx, newPassword)
	if err != nil {
		return ChangePasswordResult{Reason: "hash_failed", Err: err}
	}
	oldPassword, newPassword = "", ""

	if err := deps.UpdatePasswordHash(ctx, subject, digest); err != nil {
		return ChangePasswordResult{Reason: "update_hash_failed", Err: deps.StoreError(err)}
	}

	n, err := deps.RevokeAll(ctx, subject)
	if err != nil {
		return ChangePasswordResult{Revoked: n, Reason: "session_invalidation_failed", Err: deps.StoreError(err)}
	}
	return ChangePasswordResult{Revoked: n}
}
