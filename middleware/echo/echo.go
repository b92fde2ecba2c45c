// Package echo provides Echo middleware that counts billable API calls
package echo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/pkg/quota"
)

// ResultKey is the Echo context key holding the *quota.IncrementResult of the request.
const ResultKey = "paddlequota.result"

// UserIDExtractor extracts the user ID from an Echo context
// An empty string means the request is unauthenticated.
type UserIDExtractor func(c echo.Context) string

// Config configures the usage counter.
type Config struct {
	// Tracker counts the calls (required)
	Tracker *quota.Tracker

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// BlockOnLimit rejects calls made over the free-tier daily cap with 429.
	BlockOnLimit bool

	// OnLimitReached is called when BlockOnLimit is set and the cap was reached
	OnLimitReached func(c echo.Context, res *quota.IncrementResult) error

	// OnUnauthorized is called when user is not authenticated
	// Defaults to 401 {"error":"Not authenticated"}.
	OnUnauthorized func(c echo.Context) error

	// OnError is called when the call could not be counted
	// If nil, returns 404 for unknown users and 500 otherwise
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that records one billable call per request
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Tracker == nil {
		panic("paddlequota/echo: Config.Tracker is required")
	}
	if cfg.GetUserID == nil {
		panic("paddlequota/echo: Config.GetUserID is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
			}

			res, err := cfg.Tracker.Increment(c.Request().Context(), userID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return defaultError(c, err)
			}

			if !res.Premium {
				c.Response().Header().Set("X-Quota-Daily-Used", strconv.FormatInt(res.EffectiveDaily, 10))
				c.Response().Header().Set("X-Quota-Daily-Limit", strconv.FormatInt(cfg.Tracker.DailyLimit(), 10))
			}
			if res.LimitReached && cfg.BlockOnLimit {
				if cfg.OnLimitReached != nil {
					return cfg.OnLimitReached(c, res)
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Daily API limit reached"})
			}

			c.Set(ResultKey, res)
			return next(c)
		}
	}
}

func defaultError(c echo.Context, err error) error {
	if errors.Is(err, billing.ErrUserNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "User not found"})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update usage"})
}

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}
