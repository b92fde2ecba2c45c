// Package config loads the server's runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable with STORE.
const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreRedis     = "redis"
	StoreFirestore = "firestore"
)

// Config captures runtime configuration values used by the server.
type Config struct {
	// Addr is the host:port pair the HTTP server listens on. Defaults to ":8080".
	Addr string

	// Store selects the UserStore backend. Defaults to "memory".
	Store string

	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	FirestoreProjectID string

	// WebhookSecret is the Paddle notification destination secret. Required.
	WebhookSecret string

	// DailyLimitFree is the free-tier daily cap. Absent, unparseable or negative values give 100;
	// 0 is kept and means free users never count daily calls.
	DailyLimitFree int64

	// Location defines the day boundary for the daily reset. Defaults to time.Local.
	Location *time.Location

	// JWTSecret verifies bearer tokens on /api/user routes. When empty the
	// X-User-ID header is trusted instead.
	JWTSecret string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	LogLevel  string
	LogFormat string

	MetricsNamespace string
}

const (
	defaultAddr              = ":8080"
	defaultDailyLimitFree    = 100
	defaultRateLimitRequests = 50
	defaultRateLimitWindow   = 60 * time.Second
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultMetricsNamespace  = "paddlequota"

	envAddr               = "ADDR"
	envStore              = "STORE"
	envDatabaseURL        = "DATABASE_URL"
	envRedisAddr          = "REDIS_ADDR"
	envRedisPassword      = "REDIS_PASSWORD"
	envFirestoreProjectID = "FIRESTORE_PROJECT_ID"
	envWebhookSecret      = "PADDLE_WEBHOOK_SECRET"
	envDailyLimitFree     = "DAILY_API_LIMIT_FREE"
	envTimezone           = "TIMEZONE"
	envJWTSecret          = "JWT_SECRET"
	envRateLimitRequests  = "RATE_LIMIT_REQUESTS"
	envRateLimitWindow    = "RATE_LIMIT_WINDOW"
	envLogLevel           = "LOG_LEVEL"
	envLogFormat          = "LOG_FORMAT"
	envMetricsNamespace   = "METRICS_NAMESPACE"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		Addr:               firstNonEmpty(os.Getenv(envAddr), defaultAddr),
		Store:              strings.ToLower(firstNonEmpty(os.Getenv(envStore), StoreMemory)),
		DatabaseURL:        os.Getenv(envDatabaseURL),
		RedisAddr:          os.Getenv(envRedisAddr),
		RedisPassword:      os.Getenv(envRedisPassword),
		FirestoreProjectID: os.Getenv(envFirestoreProjectID),
		WebhookSecret:      os.Getenv(envWebhookSecret),
		DailyLimitFree:     parseDailyLimit(os.Getenv(envDailyLimitFree)),
		Location:           time.Local,
		JWTSecret:          os.Getenv(envJWTSecret),
		RateLimitRequests:  defaultRateLimitRequests,
		RateLimitWindow:    defaultRateLimitWindow,
		LogLevel:           firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel),
		LogFormat:          firstNonEmpty(os.Getenv(envLogFormat), defaultLogFormat),
		MetricsNamespace:   firstNonEmpty(os.Getenv(envMetricsNamespace), defaultMetricsNamespace),
	}

	if cfg.WebhookSecret == "" {
		return Config{}, fmt.Errorf("%s is required", envWebhookSecret)
	}

	if value := os.Getenv(envTimezone); value != "" {
		loc, err := time.LoadLocation(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envTimezone, err)
		}
		cfg.Location = loc
	}

	if value := os.Getenv(envRateLimitRequests); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envRateLimitRequests, value)
		}
		cfg.RateLimitRequests = n
	}
	if value := os.Getenv(envRateLimitWindow); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envRateLimitWindow, value)
		}
		cfg.RateLimitWindow = d
	}

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("%s is required when %s=%s", envDatabaseURL, envStore, StorePostgres)
		}
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return Config{}, fmt.Errorf("%s is required when %s=%s", envRedisAddr, envStore, StoreRedis)
		}
	case StoreFirestore:
		if cfg.FirestoreProjectID == "" {
			return Config{}, fmt.Errorf("%s is required when %s=%s", envFirestoreProjectID, envStore, StoreFirestore)
		}
	default:
		return Config{}, fmt.Errorf("invalid %s: %q", envStore, cfg.Store)
	}

	return cfg, nil
}

// parseDailyLimit parses a base-10 integer, falling back to the default.
func parseDailyLimit(value string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 0 {
		return defaultDailyLimitFree
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
