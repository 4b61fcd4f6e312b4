package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	Prefix                  string
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
	MaxRecoveryRequests     int
	RecoveryWindow          time.Duration
}

// Limiter counts failed logins per identifier (and optionally per IP),
// refresh attempts per session lineage, and recovery requests.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "credcore"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin returns ErrRateLimited once the identifier (or IP) has used up
// its failure budget for the current window.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if err := l.checkCounter(ctx, l.loginKey(identifier), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, l.loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}
	return nil
}

// RecordLoginFailure counts one failed attempt. It returns ErrRateLimited when
// this attempt exhausts the budget, so the caller can report the lockout
// immediately.
func (l *Limiter) RecordLoginFailure(ctx context.Context, identifier, ip string) error {
	count, err := l.incrementWithTTL(ctx, l.loginKey(identifier), l.config.LoginCooldownDuration)
	if err != nil {
		return err
	}
	limited := count >= int64(l.config.MaxLoginAttempts)

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, l.loginIPKey(ip), l.config.LoginCooldownDuration)
		if err != nil {
			return err
		}
		limited = limited || count >= int64(l.config.MaxLoginAttempts)
	}

	if limited {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the identifier's failure counter after a successful
// login or password change. The IP counter is left alone so one good
// credential cannot launder a spraying client.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, l.loginKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginFailures returns the current failure count for an identifier.
func (l *Limiter) LoginFailures(ctx context.Context, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, l.loginKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// CheckRefresh counts a refresh attempt for the lineage and returns
// ErrRateLimited once the window budget is exceeded.
func (l *Limiter) CheckRefresh(ctx context.Context, sessionID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.refreshKey(sessionID), l.config.RefreshCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

// CheckRecovery counts one password reset or verification request for key
// and returns ErrRateLimited once MaxRecoveryRequests is exceeded within the
// window. A zero budget disables the check.
func (l *Limiter) CheckRecovery(ctx context.Context, action, key string) error {
	if l.config.MaxRecoveryRequests <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.recoveryKey(action, key), l.config.RecoveryWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRecoveryRequests) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) loginKey(identifier string) string {
	return l.config.Prefix + ":lf:" + strings.ToLower(strings.TrimSpace(identifier))
}

func (l *Limiter) loginIPKey(ip string) string {
	return l.config.Prefix + ":lfi:" + ip
}

func (l *Limiter) refreshKey(sessionID string) string {
	return l.config.Prefix + ":rf:" + sessionID
}

func (l *Limiter) recoveryKey(action, key string) string {
	return l.config.Prefix + ":rc:" + action + ":" + key
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
