// Command credcore-server runs the credential engine behind a JSON HTTP API
// backed by MongoDB, with optional Redis for login lockout and sessions.
// One-time reset and verification tokens live next to the sessions and are
// written to the debug log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/credcore"
	"github.com/MrEthical07/credcore/challenge"
	"github.com/MrEthical07/credcore/internal/config"
	"github.com/MrEthical07/credcore/internal/httpapi"
	"github.com/MrEthical07/credcore/metrics/export/prometheus"
	"github.com/MrEthical07/credcore/session"
	"github.com/MrEthical07/credcore/userstore"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	configFile := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(config.Options{EnvFile: *envFile, ConfigFile: *configFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := cfg.ZapLevel()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	ring, err := cfg.Keyring()
	if err != nil {
		return fmt.Errorf("keyring: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	mc, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(cfg.MongoURI).
		SetMaxPoolSize(cfg.MongoMaxPoolSize))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	if err := mc.Ping(connectCtx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	db := mc.Database(cfg.MongoDBName)

	users := userstore.NewMongoStore(db.Collection(userstore.DefaultCollection))
	if err := users.EnsureIndexes(connectCtx); err != nil {
		return fmt.Errorf("user indexes: %w", err)
	}

	b := credcore.New().
		WithConfig(engineCfg).
		WithKeyring(ring).
		WithUserProvider(users).
		WithLogger(logger).
		WithAuditSink(credcore.NewZapSink(logger))

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(connectCtx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		b.WithRedis(rdb)
	}

	if cfg.SessionStore == "mongo" {
		sessions := session.NewMongoStore(
			db.Collection(session.DefaultCollection),
			session.WithRetention(engineCfg.Session.RetentionGrace),
			session.WithTransactions(cfg.MongoTransactions),
		)
		if err := sessions.EnsureIndexes(connectCtx); err != nil {
			return fmt.Errorf("session indexes: %w", err)
		}
		b.WithSessionStore(sessions)

		if cfg.RecoveryEnabled() {
			challenges := challenge.NewMongoStore(db.Collection(challenge.DefaultCollection))
			if err := challenges.EnsureIndexes(connectCtx); err != nil {
				return fmt.Errorf("challenge indexes: %w", err)
			}
			b.WithChallengeStore(challenges)
		}
	}

	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()
	engine.SecurityReport().Log(logger)

	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := mc.Ping(r.Context(), nil); err != nil {
			http.Error(w, "mongo unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if cfg.MetricsEnabled {
		router.Handle("/metrics", prometheus.NewPrometheusExporter(engine).Handler())
	}
	router.Mount("/api/v1/auth", httpapi.New(engine, logger.Named("http")).
		WithDelivery(logDelivery{logger: logger.Named("delivery")}).
		Routes())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if interval := cfg.PurgeInterval(); interval > 0 {
		g.Go(func() error {
			purgeLoop(gctx, engine, interval, logger)
			return nil
		})
	}
	return g.Wait()
}

// purgeLoop deletes expired refresh records until ctx is done.
func purgeLoop(ctx context.Context, engine *credcore.Engine, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.PurgeExpiredSessions(ctx)
			if err != nil {
				logger.Warn("session purge failed", zap.Error(err))
				continue
			}
			logger.Debug("session purge", zap.Int("deleted", n))
		}
	}
}
