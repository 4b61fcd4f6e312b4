package credcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/password"
)

// Config is the complete Engine configuration. Obtain a baseline with
// DefaultConfig and override fields before passing it to Builder.WithConfig.
type Config struct {
	JWT      JWTConfig
	Password PasswordConfig
	Session  SessionConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig

	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token lifetimes and claim validation. Signing keys are
// supplied separately through Builder.WithKeyring.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
	Issuer     string
	Audience   string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the primary hashing algorithm and its cost.
// Digests of the other algorithm still verify and are upgraded on login when
// UpgradeOnLogin is set.
type PasswordConfig struct {
	Algorithm      password.Algorithm
	BcryptCost     int
	Argon2         password.Argon2Config
	MinLength      int
	HashWorkers    int
	UpgradeOnLogin bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh record storage.
type SessionConfig struct {
	RedisPrefix string
	// RetentionGrace keeps refresh records after expiry so a late replay of
	// a rotated token is still recognised.
	RetentionGrace time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls throttling and disclosure behaviour.
type SecurityConfig struct {
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshCooldown       time.Duration
	RotationGracePeriod   time.Duration
	HideAccountStatus     bool
	// MaxRecoveryRequests bounds reset and verification requests per key
	// within RecoveryWindow. Zero disables the throttle.
	MaxRecoveryRequests   int
	RecoveryWindow        time.Duration
}

/*
====================================
RECOVERY CONFIG
====================================
*/

// PasswordResetConfig controls the forgot-password flow. Tokens are
// single-use and expire after ResetTTL.
type PasswordResetConfig struct {
	Enabled  bool
	ResetTTL time.Duration
}

// EmailVerificationConfig controls the verification flow.
type EmailVerificationConfig struct {
	Enabled         bool
	VerificationTTL time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production baseline: 15 minute access tokens,
// 30 day refresh tokens, bcrypt cost 12, and a 5 attempt / 15 minute
// login lockout.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			Leeway:     jwt.DefaultLeeway,
		},
		Password: PasswordConfig{
			Algorithm:      password.AlgorithmBcrypt,
			BcryptCost:     password.DefaultBcryptCost,
			Argon2:         password.DefaultArgon2Config(),
			MinLength:      8,
			HashWorkers:    0,
			UpgradeOnLogin: true,
		},
		Session: SessionConfig{
			RedisPrefix:    "credcore",
			RetentionGrace: 24 * time.Hour,
		},
		Security: SecurityConfig{
			MaxLoginAttempts:      5,
			LoginCooldown:         15 * time.Minute,
			EnableIPThrottle:      false,
			EnableRefreshThrottle: false,
			MaxRefreshAttempts:    20,
			RefreshCooldown:       time.Minute,
			RotationGracePeriod:   0,
			HideAccountStatus:     false,
			MaxRecoveryRequests:   5,
			RecoveryWindow:        time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:  false,
			ResetTTL: 15 * time.Minute,
		},
		EmailVerification: EmailVerificationConfig{
			Enabled:         false,
			VerificationTTL: time.Hour,
		},
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > jwt.MaxLeeway {
		return fmt.Errorf("JWT Leeway must be within [0, %s]", jwt.MaxLeeway)
	}

	// Password
	switch c.Password.Algorithm {
	case password.AlgorithmBcrypt, password.AlgorithmArgon2id:
	default:
		return errors.New("Password Algorithm must be 'bcrypt' or 'argon2id'")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.Algorithm == password.AlgorithmBcrypt && c.Password.MinLength > password.MaxBcryptPasswordBytes {
		return fmt.Errorf("Password MinLength must be <= %d for bcrypt", password.MaxBcryptPasswordBytes)
	}
	if c.Password.Algorithm == password.AlgorithmArgon2id && c.Password.MinLength > password.MaxArgon2PasswordBytes {
		return fmt.Errorf("Password MinLength must be <= %d for argon2id", password.MaxArgon2PasswordBytes)
	}
	if c.Password.HashWorkers < 0 {
		return errors.New("Password HashWorkers must be >= 0")
	}

	// Session
	if c.Session.RetentionGrace < 0 {
		return errors.New("Session RetentionGrace must be >= 0")
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 {
		return errors.New("Security MaxLoginAttempts must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginCooldown <= 0 {
		return errors.New("Security LoginCooldown must be > 0 when MaxLoginAttempts is set")
	}
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("Security MaxRefreshAttempts must be > 0 when refresh throttle is enabled")
		}
		if c.Security.RefreshCooldown <= 0 {
			return errors.New("Security RefreshCooldown must be > 0 when refresh throttle is enabled")
		}
	}
	if c.Security.RotationGracePeriod < 0 {
		return errors.New("Security RotationGracePeriod must be >= 0")
	}
	if c.Security.RotationGracePeriod >= c.JWT.AccessTTL {
		return errors.New("Security RotationGracePeriod must be shorter than JWT AccessTTL")
	}

	if c.Security.MaxRecoveryRequests < 0 {
		return errors.New("Security MaxRecoveryRequests must be >= 0")
	}
	if c.Security.MaxRecoveryRequests > 0 && c.Security.RecoveryWindow <= 0 {
		return errors.New("Security RecoveryWindow must be > 0 when MaxRecoveryRequests is set")
	}

	// Recovery
	if c.PasswordReset.Enabled && c.PasswordReset.ResetTTL <= 0 {
		return errors.New("PasswordReset ResetTTL must be > 0")
	}
	if c.EmailVerification.Enabled && c.EmailVerification.VerificationTTL <= 0 {
		return errors.New("EmailVerification VerificationTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
