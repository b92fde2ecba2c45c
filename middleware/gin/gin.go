// Package gin provides Gin middleware that counts billable API calls
package gin

import (
	"errors"
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/pkg/quota"
)

// ResultKey is the Gin context key holding the *quota.IncrementResult of the request.
const ResultKey = "paddlequota.result"

// UserIDExtractor extracts the user ID from a Gin context
// An empty string means the request is unauthenticated.
type UserIDExtractor func(c *gongin.Context) string

// Config configures the usage counter.
type Config struct {
	// Tracker counts the calls (required)
	Tracker *quota.Tracker

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// BlockOnLimit rejects calls made over the free-tier daily cap with 429.
	BlockOnLimit bool

	// OnLimitReached is called when BlockOnLimit is set and the cap was reached
	OnLimitReached func(c *gongin.Context, res *quota.IncrementResult)

	// OnUnauthorized is called when user is not authenticated
	// Defaults to 401 {"error":"Not authenticated"}.
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when the call could not be counted
	// If nil, returns 404 for unknown users and 500 otherwise
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that records one billable call per request
func Middleware(cfg Config) gongin.HandlerFunc {
	if cfg.Tracker == nil {
		panic("paddlequota/gin: Config.Tracker is required")
	}
	if cfg.GetUserID == nil {
		panic("paddlequota/gin: Config.GetUserID is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Not authenticated"})
			}
			c.Abort()
			return
		}

		res, err := cfg.Tracker.Increment(c.Request.Context(), userID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				defaultError(c, err)
			}
			c.Abort()
			return
		}

		if !res.Premium {
			c.Header("X-Quota-Daily-Used", strconv.FormatInt(res.EffectiveDaily, 10))
			c.Header("X-Quota-Daily-Limit", strconv.FormatInt(cfg.Tracker.DailyLimit(), 10))
		}
		if res.LimitReached && cfg.BlockOnLimit {
			if cfg.OnLimitReached != nil {
				cfg.OnLimitReached(c, res)
			} else {
				c.JSON(http.StatusTooManyRequests, gongin.H{"error": "Daily API limit reached"})
			}
			c.Abort()
			return
		}

		c.Set(ResultKey, res)
		c.Next()
	}
}

func defaultError(c *gongin.Context, err error) {
	if errors.Is(err, billing.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gongin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "Failed to update usage"})
}

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}
