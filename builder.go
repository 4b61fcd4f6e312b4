package credcore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credcore/challenge"
	"github.com/MrEthical07/credcore/internal"
	internalaudit "github.com/MrEthical07/credcore/internal/audit"
	"github.com/MrEthical07/credcore/internal/hashpool"
	"github.com/MrEthical07/credcore/internal/rate"
	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/password"
	"github.com/MrEthical07/credcore/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	keys   *jwt.Keyring

	sessionStore    session.Store
	userProvider    UserProvider
	loginLimiter    LoginLimiter
	refreshLimiter  RefreshLimiter
	challenges      challenge.Store
	recoveryLimiter RecoveryLimiter
	hasher          password.Hasher
	auditSink       AuditSink
	logger          *zap.Logger
	now             func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithKeyring sets the signing keys. Required.
func (b *Builder) WithKeyring(ring *jwt.Keyring) *Builder {
	b.keys = ring
	return b
}

// WithSessionStore sets the refresh record store. When omitted and a Redis
// client is configured, a session.RedisStore is used.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessionStore = store
	return b
}

// WithRedis provides the client backing the login limiter, the optional
// refresh throttle, and the default session store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the credential store. Required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithLoginLimiter overrides the Redis login limiter.
func (b *Builder) WithLoginLimiter(l LoginLimiter) *Builder {
	b.loginLimiter = l
	return b
}

// WithRefreshLimiter overrides the Redis refresh throttle.
func (b *Builder) WithRefreshLimiter(l RefreshLimiter) *Builder {
	b.refreshLimiter = l
	return b
}

// WithChallengeStore sets the store for password reset and email
// verification tokens. When omitted and a Redis client is configured, a
// challenge.RedisStore is used.
func (b *Builder) WithChallengeStore(store challenge.Store) *Builder {
	b.challenges = store
	return b
}

// WithRecoveryLimiter overrides the Redis recovery throttle.
func (b *Builder) WithRecoveryLimiter(l RecoveryLimiter) *Builder {
	b.recoveryLimiter = l
	return b
}

// WithHasher overrides the hasher derived from Config.Password.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for token issuance, validation, and
// audit timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and returns a ready Engine. A Builder
// can be built only once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.keys == nil {
		return nil, errors.New("keyring required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- SESSION STORE --------
	store := b.sessionStore
	if store == nil {
		if b.redis == nil {
			return nil, errors.New("session store required: use WithSessionStore or WithRedis")
		}
		store = session.NewRedisStore(
			b.redis,
			cfg.Session.RedisPrefix,
			session.WithRetention(cfg.Session.RetentionGrace),
			session.WithClock(now),
		)
	}

	// -------- CHALLENGES --------
	challenges := b.challenges
	if challenges == nil && b.redis != nil {
		challenges = challenge.NewRedisStore(b.redis, cfg.Session.RedisPrefix, challenge.WithClock(now))
	}
	recoveryEnabled := cfg.PasswordReset.Enabled || cfg.EmailVerification.Enabled
	if recoveryEnabled && challenges == nil {
		return nil, errors.New("password reset and email verification require a challenge store or redis client")
	}

	// -------- LIMITERS --------
	loginLimiter := b.loginLimiter
	refreshLimiter := b.refreshLimiter
	recoveryLimiter := b.recoveryLimiter
	if b.redis != nil && (loginLimiter == nil || refreshLimiter == nil || recoveryLimiter == nil) {
		limiter := rate.New(b.redis, rate.Config{
			Prefix:                  cfg.Session.RedisPrefix,
			EnableIPThrottle:        cfg.Security.EnableIPThrottle,
			EnableRefreshThrottle:   cfg.Security.EnableRefreshThrottle,
			MaxLoginAttempts:        cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration:   cfg.Security.LoginCooldown,
			MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
			RefreshCooldownDuration: cfg.Security.RefreshCooldown,
			MaxRecoveryRequests:     cfg.Security.MaxRecoveryRequests,
			RecoveryWindow:          cfg.Security.RecoveryWindow,
		})
		if loginLimiter == nil && cfg.Security.MaxLoginAttempts > 0 {
			loginLimiter = limiter
		}
		if refreshLimiter == nil && cfg.Security.EnableRefreshThrottle {
			refreshLimiter = limiter
		}
		if recoveryLimiter == nil && recoveryEnabled && cfg.Security.MaxRecoveryRequests > 0 {
			recoveryLimiter = limiter
		}
	}
	if cfg.Security.EnableRefreshThrottle && refreshLimiter == nil {
		return nil, errors.New("Security EnableRefreshThrottle requires redis client or refresh limiter")
	}

	// -------- PASSWORD --------
	hasher := b.hasher
	if hasher == nil {
		h, err := newHasher(cfg.Password)
		if err != nil {
			return nil, err
		}
		hasher = h
	}
	dummy, err := dummyDigest(hasher, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("dummy digest: %w", err)
	}

	// -------- TOKENS --------
	codec, err := jwt.NewCodec(jwt.Config{
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Leeway:   cfg.JWT.Leeway,
		Now:      now,
	}, b.keys)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:          cfg,
		codec:           codec,
		sessionStore:    store,
		userProvider:    b.userProvider,
		loginLimiter:    loginLimiter,
		refreshLimiter:  refreshLimiter,
		challenges:      challenges,
		recoveryLimiter: recoveryLimiter,
		hasher:          hasher,
		dummyDigest:     dummy,
		pool:            hashpool.New(cfg.Password.HashWorkers),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Logger:     logger.Named("audit"),
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger.Named("credcore"),
		now:     now,
	}
	engine.flows = engine.buildFlows()

	b.built = true

	return engine, nil
}

// newHasher builds a Chain whose primary follows cfg.Algorithm and which
// still verifies digests of the other algorithm.
func newHasher(cfg PasswordConfig) (password.Hasher, error) {
	bc, err := password.NewBcrypt(password.BcryptConfig{
		Cost:      cfg.BcryptCost,
		MinLength: min(cfg.MinLength, password.MaxBcryptPasswordBytes),
	})
	if err != nil {
		return nil, err
	}
	argonCfg := cfg.Argon2
	argonCfg.MinLength = cfg.MinLength
	ar, err := password.NewArgon2(argonCfg)
	if err != nil {
		return nil, err
	}

	if cfg.Algorithm == password.AlgorithmArgon2id {
		return password.NewChain(password.AlgorithmArgon2id, ar, map[password.Algorithm]password.Hasher{
			password.AlgorithmBcrypt: bc,
		})
	}
	return password.NewChain(password.AlgorithmBcrypt, bc, map[password.Algorithm]password.Hasher{
		password.AlgorithmArgon2id: ar,
	})
}

// dummyDigest hashes a random secret nobody knows. Verifying against it
// costs the same as verifying a real digest of the same algorithm. The
// plaintext satisfies MinLength so the hasher accepts it.
func dummyDigest(h password.Hasher, cfg PasswordConfig) (string, error) {
	n := max(cfg.MinLength, dummySecretLength)
	n = min(n, maxPasswordBytes(cfg.Algorithm))
	pad, err := internal.RandomPadding(n)
	if err != nil {
		return "", err
	}
	return h.Hash(base64.RawURLEncoding.EncodeToString(pad)[:n])
}

const dummySecretLength = 32
