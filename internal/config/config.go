// Package config loads the reference server configuration from the
// environment, an optional .env file and an optional config file.
//
// # Environment Variables
//
// Every key is read from CREDCORE_<KEY> first and then from the bare <KEY>,
// so existing deployments keep working:
//
//   - SECRET_KEY: HS256 signing secret, at least 32 bytes. Required.
//   - SIGNING_KEY_ID: kid of the active key. Default: primary
//   - PREVIOUS_SECRET_KEY / PREVIOUS_KEY_ID: verify-only key kept during rotation.
//   - ACCESS_TOKEN_EXPIRE_MINUTES: Default: 30
//   - REFRESH_TOKEN_EXPIRE_MINUTES: Default: 10080 (7 days)
//   - MAX_FAILED_LOGIN_ATTEMPTS: Default: 5 (0 disables lockout)
//   - LOCKOUT_DURATION_MINUTES: Default: 15
//   - MONGODB_URI, MONGODB_DB_NAME: Required.
//   - MONGODB_MAX_POOL_SIZE: Default: 100
//   - MONGO_TRANSACTIONS: rotate refresh sessions inside a multi-document
//     transaction. Needs a replica set. Default: false
//   - REDIS_ADDR: enables login lockout.
//   - SESSION_STORE: mongo or redis. Default: mongo
//   - HTTP_ADDR: Default: :8080
//   - LOG_LEVEL: debug, info, warn, error. Default: info
//   - PASSWORD_RESET_ENABLED, RESET_PASSWORD_TOKEN_EXPIRE_MINUTES: Default: false, 15
//   - EMAIL_VERIFICATION_ENABLED, EMAIL_VERIFICATION_TOKEN_EXPIRE_MINUTES: Default: false, 60
//   - MAX_RECOVERY_REQUESTS, RECOVERY_WINDOW_MINUTES: reset and verification
//     requests allowed per account and window. Default: 5, 60
//
// # Example Usage
//
//	cfg, err := config.Load(config.Options{EnvFile: ".env"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engineCfg, err := cfg.EngineConfig()
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/MrEthical07/credcore"
	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/password"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is checked before the bare variable name.
const EnvPrefix = "CREDCORE"

type Config struct {
	SecretKey         string `mapstructure:"SECRET_KEY"`
	SigningKeyID      string `mapstructure:"SIGNING_KEY_ID"`
	PreviousSecretKey string `mapstructure:"PREVIOUS_SECRET_KEY"`
	PreviousKeyID     string `mapstructure:"PREVIOUS_KEY_ID"`
	JWTIssuer         string `mapstructure:"JWT_ISSUER"`
	JWTAudience       string `mapstructure:"JWT_AUDIENCE"`

	AccessTokenExpireMinutes  int `mapstructure:"ACCESS_TOKEN_EXPIRE_MINUTES"`
	RefreshTokenExpireMinutes int `mapstructure:"REFRESH_TOKEN_EXPIRE_MINUTES"`
	RotationGraceSeconds      int `mapstructure:"ROTATION_GRACE_SECONDS"`

	MaxFailedLoginAttempts int  `mapstructure:"MAX_FAILED_LOGIN_ATTEMPTS"`
	LockoutDurationMinutes int  `mapstructure:"LOCKOUT_DURATION_MINUTES"`
	HideAccountStatus      bool `mapstructure:"HIDE_ACCOUNT_STATUS"`

	PasswordAlgorithm string `mapstructure:"PASSWORD_ALGORITHM"`
	BcryptCost        int    `mapstructure:"BCRYPT_COST"`
	PasswordMinLength int    `mapstructure:"PASSWORD_MIN_LENGTH"`

	PasswordResetEnabled           bool `mapstructure:"PASSWORD_RESET_ENABLED"`
	ResetTokenExpireMinutes        int  `mapstructure:"RESET_PASSWORD_TOKEN_EXPIRE_MINUTES"`
	EmailVerificationEnabled       bool `mapstructure:"EMAIL_VERIFICATION_ENABLED"`
	VerificationTokenExpireMinutes int  `mapstructure:"EMAIL_VERIFICATION_TOKEN_EXPIRE_MINUTES"`
	MaxRecoveryRequests            int  `mapstructure:"MAX_RECOVERY_REQUESTS"`
	RecoveryWindowMinutes          int  `mapstructure:"RECOVERY_WINDOW_MINUTES"`

	MongoURI          string `mapstructure:"MONGODB_URI"`
	MongoDBName       string `mapstructure:"MONGODB_DB_NAME"`
	MongoMaxPoolSize  uint64 `mapstructure:"MONGODB_MAX_POOL_SIZE"`
	MongoTransactions bool   `mapstructure:"MONGO_TRANSACTIONS"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	SessionStore  string `mapstructure:"SESSION_STORE"`

	HTTPAddr             string `mapstructure:"HTTP_ADDR"`
	LogLevel             string `mapstructure:"LOG_LEVEL"`
	MetricsEnabled       bool   `mapstructure:"METRICS_ENABLED"`
	PurgeIntervalMinutes int    `mapstructure:"PURGE_INTERVAL_MINUTES"`
}

// Options points Load at optional files. Missing files are ignored.
type Options struct {
	EnvFile    string
	ConfigFile string
}

var defaults = map[string]interface{}{
	"SECRET_KEY":                              "",
	"SIGNING_KEY_ID":                          "primary",
	"PREVIOUS_SECRET_KEY":                     "",
	"PREVIOUS_KEY_ID":                         "previous",
	"JWT_ISSUER":                              "",
	"JWT_AUDIENCE":                            "",
	"ACCESS_TOKEN_EXPIRE_MINUTES":             30,
	"REFRESH_TOKEN_EXPIRE_MINUTES":            60 * 24 * 7,
	"ROTATION_GRACE_SECONDS":                  0,
	"MAX_FAILED_LOGIN_ATTEMPTS":               5,
	"LOCKOUT_DURATION_MINUTES":                15,
	"HIDE_ACCOUNT_STATUS":                     false,
	"PASSWORD_ALGORITHM":                      string(password.AlgorithmBcrypt),
	"BCRYPT_COST":                             password.DefaultBcryptCost,
	"PASSWORD_MIN_LENGTH":                     8,
	"PASSWORD_RESET_ENABLED":                  false,
	"RESET_PASSWORD_TOKEN_EXPIRE_MINUTES":     15,
	"EMAIL_VERIFICATION_ENABLED":              false,
	"EMAIL_VERIFICATION_TOKEN_EXPIRE_MINUTES": 60,
	"MAX_RECOVERY_REQUESTS":                   5,
	"RECOVERY_WINDOW_MINUTES":                 60,
	"MONGODB_URI":                             "",
	"MONGODB_DB_NAME":                         "",
	"MONGODB_MAX_POOL_SIZE":                   100,
	"MONGO_TRANSACTIONS":                      false,
	"REDIS_ADDR":                              "",
	"REDIS_PASSWORD":                          "",
	"REDIS_DB":                                0,
	"SESSION_STORE":                           "mongo",
	"HTTP_ADDR":                               ":8080",
	"LOG_LEVEL":                               "info",
	"METRICS_ENABLED":                         true,
	"PURGE_INTERVAL_MINUTES":                  60,
}

// Load reads the configuration and validates it.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key, EnvPrefix+"_"+key, key); err != nil {
			return nil, err
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the engine config cannot check itself.
func (c *Config) Validate() error {
	if len(c.SecretKey) < jwt.MinHMACSecretBytes {
		return fmt.Errorf("SECRET_KEY must be at least %d bytes", jwt.MinHMACSecretBytes)
	}
	if c.PreviousSecretKey != "" && len(c.PreviousSecretKey) < jwt.MinHMACSecretBytes {
		return fmt.Errorf("PREVIOUS_SECRET_KEY must be at least %d bytes", jwt.MinHMACSecretBytes)
	}
	if c.PreviousSecretKey != "" && c.PreviousKeyID == c.SigningKeyID {
		return errors.New("PREVIOUS_KEY_ID must differ from SIGNING_KEY_ID")
	}
	if strings.TrimSpace(c.MongoURI) == "" {
		return errors.New("MONGODB_URI is required")
	}
	if strings.TrimSpace(c.MongoDBName) == "" {
		return errors.New("MONGODB_DB_NAME is required")
	}
	switch c.SessionStore {
	case "mongo":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("SESSION_STORE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be 'mongo' or 'redis', got %q", c.SessionStore)
	}
	if c.PurgeIntervalMinutes < 0 {
		return errors.New("PURGE_INTERVAL_MINUTES must be >= 0")
	}
	if _, err := c.ZapLevel(); err != nil {
		return err
	}
	_, err := c.EngineConfig()
	return err
}

// EngineConfig maps the settings onto credcore.DefaultConfig and validates
// the result.
func (c *Config) EngineConfig() (credcore.Config, error) {
	cfg := credcore.DefaultConfig()

	cfg.JWT.AccessTTL = time.Duration(c.AccessTokenExpireMinutes) * time.Minute
	cfg.JWT.RefreshTTL = time.Duration(c.RefreshTokenExpireMinutes) * time.Minute
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.Audience = c.JWTAudience

	cfg.Password.Algorithm = password.Algorithm(strings.ToLower(c.PasswordAlgorithm))
	cfg.Password.BcryptCost = c.BcryptCost
	cfg.Password.MinLength = c.PasswordMinLength

	cfg.Security.MaxLoginAttempts = c.MaxFailedLoginAttempts
	cfg.Security.LoginCooldown = time.Duration(c.LockoutDurationMinutes) * time.Minute
	cfg.Security.RotationGracePeriod = time.Duration(c.RotationGraceSeconds) * time.Second
	cfg.Security.HideAccountStatus = c.HideAccountStatus
	cfg.Security.MaxRecoveryRequests = c.MaxRecoveryRequests
	cfg.Security.RecoveryWindow = time.Duration(c.RecoveryWindowMinutes) * time.Minute

	cfg.PasswordReset.Enabled = c.PasswordResetEnabled
	cfg.PasswordReset.ResetTTL = time.Duration(c.ResetTokenExpireMinutes) * time.Minute
	cfg.EmailVerification.Enabled = c.EmailVerificationEnabled
	cfg.EmailVerification.VerificationTTL = time.Duration(c.VerificationTokenExpireMinutes) * time.Minute

	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled

	if err := cfg.Validate(); err != nil {
		return credcore.Config{}, err
	}
	return cfg, nil
}

// Keyring builds the HS256 keyring from SECRET_KEY and, when set,
// PREVIOUS_SECRET_KEY as a second verification key.
func (c *Config) Keyring() (*jwt.Keyring, error) {
	active, err := jwt.NewHMACKey(c.SigningKeyID, []byte(c.SecretKey))
	if err != nil {
		return nil, err
	}
	keys := []jwt.Key{active}
	if c.PreviousSecretKey != "" {
		prev, err := jwt.NewHMACKey(c.PreviousKeyID, []byte(c.PreviousSecretKey))
		if err != nil {
			return nil, err
		}
		keys = append(keys, prev)
	}
	return jwt.NewKeyring(c.SigningKeyID, keys...)
}

// ZapLevel parses LOG_LEVEL.
func (c *Config) ZapLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// RecoveryEnabled reports whether either one-time token flow is on, so the
// server needs a challenge store.
func (c *Config) RecoveryEnabled() bool {
	return c.PasswordResetEnabled || c.EmailVerificationEnabled
}

// PurgeInterval returns zero when the purge loop is disabled.
func (c *Config) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalMinutes) * time.Minute
}
