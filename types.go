package credcore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AccountStatus represents the lifecycle state of a user account.
type AccountStatus uint8

const (
	// AccountActive accounts can authenticate.
	AccountActive AccountStatus = iota
	// AccountDisabled accounts are rejected at login and refresh.
	AccountDisabled
	// AccountDeleted is a soft delete. The record stays so the identifier
	// cannot be silently re-registered.
	AccountDeleted
)

// String returns the stored name of the status.
func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountDisabled:
		return "disabled"
	case AccountDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseAccountStatus is the inverse of [AccountStatus.String].
func ParseAccountStatus(s string) (AccountStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return AccountActive, nil
	case "disabled":
		return AccountDisabled, nil
	case "deleted":
		return AccountDeleted, nil
	}
	return 0, fmt.Errorf("unknown account status %q", s)
}

func (s AccountStatus) valid() bool {
	return s <= AccountDeleted
}

// UserRecord is the credential record returned by [UserProvider]. It never
// carries a plaintext password.
type UserRecord struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Status       AccountStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  time.Time
	// VerifiedAt is zero until the identifier's email is confirmed.
	VerifiedAt time.Time
}

// CreateUserInput is passed to [UserProvider.CreateUser]. UserID is assigned
// by the Engine.
type CreateUserInput struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Status       AccountStatus
	CreatedAt    time.Time
}

// UserProvider is the credential store the Engine authenticates against.
//
// Lookups return ErrUserNotFound for unknown users. CreateUser returns
// ErrAccountExists for a taken identifier. Any other error is treated as a
// storage failure.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	UpdateAccountStatus(ctx context.Context, userID string, status AccountStatus) (UserRecord, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	MarkVerified(ctx context.Context, userID string, at time.Time) error
}

// LoginLimiter tracks failed logins. CheckLogin and RecordLoginFailure return
// an error matching ErrLoginRateLimited (or the limiter's own rate-limit
// sentinel) once the identifier is locked out.
type LoginLimiter interface {
	CheckLogin(ctx context.Context, identifier, ip string) error
	RecordLoginFailure(ctx context.Context, identifier, ip string) error
	ResetLogin(ctx context.Context, identifier string) error
}

// RefreshLimiter throttles refresh attempts per session lineage.
type RefreshLimiter interface {
	CheckRefresh(ctx context.Context, sessionID string) error
}

// RecoveryLimiter throttles password-reset and verification requests.
// action names the flow and key is usually the subject or identifier.
type RecoveryLimiter interface {
	CheckRecovery(ctx context.Context, action, key string) error
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	SessionID        string    `json:"-"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Identity is the authenticated principal produced from a valid access token.
type Identity struct {
	Subject   string
	SessionID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]string
}
