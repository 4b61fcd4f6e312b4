package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/credcore"
	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const loadPassword = "load-test-password"

type userState struct {
	mu   sync.Mutex
	pair *credcore.TokenPair
}

func main() {
	var (
		users       = flag.Int("users", 1000, "number of accounts to register and log in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (authenticate + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		cost        = flag.Int("bcrypt-cost", bcrypt.MinCost, "bcrypt cost used for seeding")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := redisClient(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, err := buildEngine(client, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	states, err := seed(ctx, engine, *users, *concurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runPhase(states, *ops, *concurrency, func(s *userState) error {
		s.mu.Lock()
		header := "Bearer " + s.pair.AccessToken
		s.mu.Unlock()
		_, err := engine.Authenticate(header)
		return err
	})
	refreshStats := runPhase(states, *ops, *concurrency, func(s *userState) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		next, err := engine.Refresh(ctx, s.pair.RefreshToken)
		if err != nil {
			return err
		}
		s.pair = next
		return nil
	})

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("counters: login_success=%d refresh_success=%d refresh_conflict=%d replay=%d\n",
		snap.Counters[credcore.MetricLoginSuccess],
		snap.Counters[credcore.MetricRefreshSuccess],
		snap.Counters[credcore.MetricRefreshConflict],
		snap.Counters[credcore.MetricReplayDetected],
	)
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func buildEngine(client redis.UniversalClient, cost int) (*credcore.Engine, error) {
	key, err := jwt.NewHMACKey("load", []byte(strings.Repeat("L", jwt.MinHMACSecretBytes)))
	if err != nil {
		return nil, err
	}
	ring, err := jwt.NewKeyring("load", key)
	if err != nil {
		return nil, err
	}

	cfg := credcore.DefaultConfig()
	cfg.Password.BcryptCost = cost
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Session.RedisPrefix = "credcore-load"

	return credcore.New().
		WithConfig(cfg).
		WithKeyring(ring).
		WithUserProvider(userstore.NewMemoryStore()).
		WithRedis(client).
		Build()
}

func seed(ctx context.Context, engine *credcore.Engine, n, concurrency int) ([]*userState, error) {
	states := make([]*userState, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			login := fmt.Sprintf("load-%d@example.test", i)
			if _, err := engine.Register(gctx, login, loadPassword); err != nil {
				return fmt.Errorf("register %s: %w", login, err)
			}
			pair, err := engine.Login(gctx, login, loadPassword)
			if err != nil {
				return fmt.Errorf("login %s: %w", login, err)
			}
			states[i] = &userState{pair: pair}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

func runPhase(states []*userState, ops, concurrency int, op func(*userState) error) phaseStats {
	var (
		g         errgroup.Group
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		worker := w
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					break
				}
				s := states[r.Intn(len(states))]
				t0 := time.Now()
				err := op(s)
				local = append(local, time.Since(t0))
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
