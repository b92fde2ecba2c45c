// Command server runs the Paddle webhook receiver and the user quota API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/paddlequota/internal/config"
	"github.com/mihaimyh/paddlequota/internal/httpserver"
	"github.com/mihaimyh/paddlequota/pkg/api"
	"github.com/mihaimyh/paddlequota/pkg/billing"
	zerologadapter "github.com/mihaimyh/paddlequota/pkg/billing/logger/zerolog"
	billingmetrics "github.com/mihaimyh/paddlequota/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/paddlequota/pkg/billing/paddle"
	"github.com/mihaimyh/paddlequota/pkg/quota"
	quotametrics "github.com/mihaimyh/paddlequota/pkg/quota/metrics/prometheus"
	"github.com/mihaimyh/paddlequota/pkg/ratelimit"
	firestorestore "github.com/mihaimyh/paddlequota/storage/firestore"
	"github.com/mihaimyh/paddlequota/storage/memory"
	"github.com/mihaimyh/paddlequota/storage/postgres"
	redisstore "github.com/mihaimyh/paddlequota/storage/redis"
)

const shutdownTimeout = 10 * time.Second

// backend is a UserStore that also keeps the webhook audit log.
type backend interface {
	billing.UserStore
	billing.EventLog
}

func main() {
	// Best-effort: load environment variables from .env files in local development.
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zerologadapter.NewLogger(logger)

	store, redisClient, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	quotaMetrics := quotametrics.DefaultMetrics(cfg.MetricsNamespace)
	breaker := quota.NewDefaultCircuitBreaker(quota.CircuitBreakerConfig{
		OnStateChange: func(state quota.CircuitBreakerState) {
			quotaMetrics.RecordCircuitBreakerStateChange(string(state))
			log.Warn("store circuit breaker state changed", billing.F("state", string(state)))
		},
	})
	users := quota.NewCircuitBreakerStore(store, breaker)

	billingMetrics := billingmetrics.DefaultMetrics(cfg.MetricsNamespace)
	provider, err := paddle.NewProvider(billing.Config{
		Store:         users,
		WebhookSecret: cfg.WebhookSecret,
		EventLog:      store,
		Logger:        log,
		Metrics:       billingMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create paddle provider: %w", err)
	}

	tracker, err := quota.NewTracker(users, quota.Config{
		DailyLimit: cfg.DailyLimitFree,
		Location:   cfg.Location,
		Logger:     log,
		Metrics:    quotaMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create quota tracker: %w", err)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			log.Error("failed to drain daily resets", billing.F("error", err))
		}
	}()

	getUserID := api.FromHeader("X-User-ID")
	if cfg.JWTSecret != "" {
		getUserID = api.FromBearerJWT([]byte(cfg.JWTSecret))
	} else {
		log.Warn("JWT_SECRET not set, trusting X-User-ID header")
	}
	handler, err := api.NewHandler(api.Config{
		Tracker:    tracker,
		Reconciler: billing.NewReconciler(users, log, billingMetrics),
		GetUserID:  getUserID,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("failed to create api handler: %w", err)
	}

	limiter, err := newLimiter(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}

	srv := httpserver.New(cfg.Addr, httpserver.Deps{
		Webhook:       provider.WebhookHandler(),
		API:           handler,
		Limiter:       limiter,
		Logger:        logger,
		BillingLogger: log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("server starting")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return tracker.Flush(shutdownCtx)
	})
	return g.Wait()
}

// openStore connects the configured backend. The redis client is returned for
// the rate limiter and is nil for other backends.
func openStore(ctx context.Context, cfg config.Config, log billing.Logger) (backend, redis.UniversalClient, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DatabaseURL
		pgConfig.Logger = log
		s, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil, func() { _ = s.Close() }, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		s, err := redisstore.New(client, redisstore.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return s, client, func() { _ = s.Close() }, nil

	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		s, err := firestorestore.New(client, firestorestore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("failed to open firestore store: %w", err)
		}
		return s, nil, func() { _ = client.Close() }, nil

	default:
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil, func() {}, nil
	}
}

func newLimiter(cfg config.Config, client redis.UniversalClient) (ratelimit.Limiter, error) {
	if client != nil {
		l, err := redisstore.NewRateLimiter(client, "", cfg.RateLimitRequests, cfg.RateLimitWindow)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	l, err := ratelimit.NewMemoryLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, nil)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func newLogger(cfg config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "paddlequota").Logger()
}
