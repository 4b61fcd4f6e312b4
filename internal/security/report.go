package security

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// PasswordReport describes the active hashing parameters.
type PasswordReport struct {
	Algorithm   string
	BcryptCost  int
	Memory      uint32
	Time        uint32
	Parallelism uint8
	MinLength   int
	Upgrade     bool
}

// Report is a point-in-time summary of the engine's security posture.
type Report struct {
	SigningAlgorithm    string
	ActiveKeyID         string
	VerificationKeys    int
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	Leeway              time.Duration
	Password            PasswordReport
	LockoutActive       bool
	MaxLoginAttempts    int
	LoginCooldown       time.Duration
	IPThrottle          bool
	RefreshThrottle     bool
	RotationGracePeriod time.Duration
	HideAccountStatus   bool
	Warnings            []string
}

// ReportInput carries the raw configuration BuildReport summarizes.
type ReportInput struct {
	SigningAlgorithm      string
	ActiveKeyID           string
	KeyCount              int
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	Leeway                time.Duration
	Password              PasswordReport
	LoginLimiter          bool
	RefreshLimiter        bool
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	RotationGracePeriod   time.Duration
	HideAccountStatus     bool
}

// BuildReport derives the report and flags weak settings.
func BuildReport(in ReportInput) Report {
	lockout := in.LoginLimiter && in.MaxLoginAttempts > 0 && in.LoginCooldown > 0

	r := Report{
		SigningAlgorithm:    in.SigningAlgorithm,
		ActiveKeyID:         in.ActiveKeyID,
		VerificationKeys:    in.KeyCount,
		AccessTTL:           in.AccessTTL,
		RefreshTTL:          in.RefreshTTL,
		Leeway:              in.Leeway,
		Password:            in.Password,
		LockoutActive:       lockout,
		MaxLoginAttempts:    in.MaxLoginAttempts,
		LoginCooldown:       in.LoginCooldown,
		IPThrottle:          lockout && in.EnableIPThrottle,
		RefreshThrottle:     in.RefreshLimiter && in.EnableRefreshThrottle,
		RotationGracePeriod: in.RotationGracePeriod,
		HideAccountStatus:   in.HideAccountStatus,
	}

	if !lockout {
		r.Warnings = append(r.Warnings, "login lockout inactive")
	}
	if in.AccessTTL > time.Hour {
		r.Warnings = append(r.Warnings, "access tokens live longer than one hour")
	}
	if in.Password.Algorithm == "bcrypt" && in.Password.BcryptCost < 10 {
		r.Warnings = append(r.Warnings, "bcrypt cost below 10")
	}
	if in.Password.MinLength < 8 {
		r.Warnings = append(r.Warnings, "minimum password length below 8")
	}
	if in.RotationGracePeriod > 30*time.Second {
		r.Warnings = append(r.Warnings, "rotation grace period above 30s")
	}
	return r
}

// MarshalLogObject lets a Report be logged with zap.Object.
func (r Report) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("signing_algorithm", r.SigningAlgorithm)
	enc.AddString("active_kid", r.ActiveKeyID)
	enc.AddInt("verification_keys", r.VerificationKeys)
	enc.AddDuration("access_ttl", r.AccessTTL)
	enc.AddDuration("refresh_ttl", r.RefreshTTL)
	enc.AddDuration("leeway", r.Leeway)
	enc.AddString("password_algorithm", r.Password.Algorithm)
	if r.Password.Algorithm == "bcrypt" {
		enc.AddInt("bcrypt_cost", r.Password.BcryptCost)
	} else {
		enc.AddUint32("argon2_memory_kib", r.Password.Memory)
		enc.AddUint32("argon2_time", r.Password.Time)
		enc.AddUint8("argon2_parallelism", r.Password.Parallelism)
	}
	enc.AddBool("lockout", r.LockoutActive)
	if r.LockoutActive {
		enc.AddInt("max_login_attempts", r.MaxLoginAttempts)
		enc.AddDuration("login_cooldown", r.LoginCooldown)
	}
	enc.AddBool("ip_throttle", r.IPThrottle)
	enc.AddBool("refresh_throttle", r.RefreshThrottle)
	enc.AddDuration("rotation_grace", r.RotationGracePeriod)
	enc.AddBool("hide_account_status", r.HideAccountStatus)
	return enc.AddArray("warnings", zapcore.ArrayMarshalerFunc(func(ae zapcore.ArrayEncoder) error {
		for _, w := range r.Warnings {
			ae.AppendString(w)
		}
		return nil
	}))
}

// Log writes r at info level, or warn level when any warning is present.
func (r Report) Log(logger *zap.Logger) {
	if logger == nil {
		return
	}
	if len(r.Warnings) > 0 {
		logger.Warn("credcore security posture", zap.Object("report", r))
		return
	}
	logger.Info("credcore security posture", zap.Object("report", r))
}
