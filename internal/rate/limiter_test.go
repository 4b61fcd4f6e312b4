package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, cfg), mr
}

func loginConfig() Config {
	return Config{
		Prefix:                  "t",
		MaxLoginAttempts:        5,
		LoginCooldownDuration:   15 * time.Minute,
		EnableRefreshThrottle:   true,
		MaxRefreshAttempts:      3,
		RefreshCooldownDuration: time.Minute,
	}
}

func TestLoginLockoutAfterMaxFailures(t *testing.T) {
	l, mr := newTestLimiter(t, loginConfig())
	ctx := context.Background()

	for i := 1; i < 5; i++ {
		if err := l.RecordLoginFailure(ctx, "alice", ""); err != nil {
			t.Fatalf("failure %d: unexpected error %v", i, err)
		}
		if err := l.CheckLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("check after %d failures: unexpected error %v", i, err)
		}
	}

	if err := l.RecordLoginFailure(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected fifth failure to lock, got %v", err)
	}
	if err := l.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected locked identifier, got %v", err)
	}
	if err := l.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("expected other identifier unaffected, got %v", err)
	}

	if ttl := mr.TTL("t:lf:alice"); ttl != 15*time.Minute {
		t.Fatalf("expected 15m window, got %s", ttl)
	}
	mr.FastForward(16 * time.Minute)
	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected lockout to expire, got %v", err)
	}
}

func TestLoginIdentifierIsCaseInsensitive(t *testing.T) {
	l, _ := newTestLimiter(t, loginConfig())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = l.RecordLoginFailure(ctx, "Alice", "")
	}
	if err := l.CheckLogin(ctx, " alice ", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected normalized identifier to be limited, got %v", err)
	}
}

func TestResetLoginClearsCounter(t *testing.T) {
	l, _ := newTestLimiter(t, loginConfig())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = l.RecordLoginFailure(ctx, "alice", "")
	}
	n, err := l.LoginFailures(ctx, "alice")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 failures, got %d (%v)", n, err)
	}
	if err := l.ResetLogin(ctx, "alice"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	n, err = l.LoginFailures(ctx, "alice")
	if err != nil || n != 0 {
		t.Fatalf("expected 0 failures after reset, got %d (%v)", n, err)
	}
}

func TestIPThrottle(t *testing.T) {
	cfg := loginConfig()
	cfg.EnableIPThrottle = true
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	identifiers := []string{"a", "b", "c", "d", "e"}
	for _, id := range identifiers {
		_ = l.RecordLoginFailure(ctx, id, "10.0.0.1")
	}
	if err := l.CheckLogin(ctx, "fresh", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected spraying IP to be limited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "fresh", "10.0.0.2"); err != nil {
		t.Fatalf("expected other IP unaffected, got %v", err)
	}
}

func TestRefreshThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, loginConfig())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.CheckRefresh(ctx, "sid-1"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "sid-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected refresh throttle, got %v", err)
	}
}

func TestRedisUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, loginConfig())
	mr.Close()
	if err := l.CheckLogin(context.Background(), "alice", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestRecoveryThrottleWindow(t *testing.T) {
	cfg := loginConfig()
	cfg.MaxRecoveryRequests = 2
	cfg.RecoveryWindow = time.Hour
	l, mr := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRecovery(ctx, "reset", "alice"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.CheckRecovery(ctx, "reset", "alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected third request to be limited, got %v", err)
	}
	if err := l.CheckRecovery(ctx, "verify", "alice"); err != nil {
		t.Fatalf("expected actions to be counted apart, got %v", err)
	}

	mr.FastForward(time.Hour + time.Second)
	if err := l.CheckRecovery(ctx, "reset", "alice"); err != nil {
		t.Fatalf("expected a new window, got %v", err)
	}
}

func TestRecoveryThrottleDisabled(t *testing.T) {
	l, _ := newTestLimiter(t, loginConfig())
	for i := 0; i < 10; i++ {
		if err := l.CheckRecovery(context.Background(), "reset", "alice"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
}
