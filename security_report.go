package credcore

import (
	"github.com/MrEthical07/credcore/internal/security"
	"github.com/MrEthical07/credcore/password"
)

// SecurityReport summarizes the effective settings of e: signing keys,
// token lifetimes, password hashing and throttling. It contains no secrets
// and is intended for startup logging.
func (e *Engine) SecurityReport() security.Report {
	if e == nil || e.codec == nil {
		return security.Report{}
	}
	cfg := e.config
	ring := e.codec.Keyring()

	pw := security.PasswordReport{
		Algorithm:  string(cfg.Password.Algorithm),
		BcryptCost: cfg.Password.BcryptCost,
		MinLength:  cfg.Password.MinLength,
		Upgrade:    cfg.Password.UpgradeOnLogin,
	}
	if cfg.Password.Algorithm == password.AlgorithmArgon2id {
		pw.Memory = cfg.Password.Argon2.Memory
		pw.Time = cfg.Password.Argon2.Time
		pw.Parallelism = cfg.Password.Argon2.Parallelism
	}

	return security.BuildReport(security.ReportInput{
		SigningAlgorithm:      string(ring.ActiveAlgorithm()),
		ActiveKeyID:           ring.ActiveKeyID(),
		KeyCount:              len(ring.KeyIDs()),
		AccessTTL:             cfg.JWT.AccessTTL,
		RefreshTTL:            cfg.JWT.RefreshTTL,
		Leeway:                cfg.JWT.Leeway,
		Password:              pw,
		LoginLimiter:          e.loginLimiter != nil,
		RefreshLimiter:        e.refreshLimiter != nil,
		MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
		LoginCooldown:         cfg.Security.LoginCooldown,
		EnableIPThrottle:      cfg.Security.EnableIPThrottle,
		EnableRefreshThrottle: cfg.Security.EnableRefreshThrottle,
		RotationGracePeriod:   cfg.Security.RotationGracePeriod,
		HideAccountStatus:     cfg.Security.HideAccountStatus,
	})
}
