// Package fiber provides Fiber middleware that counts billable API calls
package fiber

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/pkg/quota"
)

// ResultKey is the Locals key holding the *quota.IncrementResult of the request.
const ResultKey = "paddlequota.result"

// UserIDExtractor extracts the user ID from a Fiber context
// An empty string means the request is unauthenticated.
type UserIDExtractor func(c *fiber.Ctx) string

// Config configures the usage counter.
type Config struct {
	// Tracker counts the calls (required)
	Tracker *quota.Tracker

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// BlockOnLimit rejects calls made over the free-tier daily cap with 429.
	BlockOnLimit bool

	// OnLimitReached is called when BlockOnLimit is set and the cap was reached
	OnLimitReached func(c *fiber.Ctx, res *quota.IncrementResult) error

	// OnUnauthorized is called when user is not authenticated
	// Defaults to 401 {"error":"Not authenticated"}.
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when the call could not be counted
	// If nil, returns 404 for unknown users and 500 otherwise
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that records one billable call per request
func Middleware(cfg Config) fiber.Handler {
	if cfg.Tracker == nil {
		panic("paddlequota/fiber: Config.Tracker is required")
	}
	if cfg.GetUserID == nil {
		panic("paddlequota/fiber: Config.GetUserID is required")
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
		}

		res, err := cfg.Tracker.Increment(c.UserContext(), userID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return defaultError(c, err)
		}

		if !res.Premium {
			c.Set("X-Quota-Daily-Used", strconv.FormatInt(res.EffectiveDaily, 10))
			c.Set("X-Quota-Daily-Limit", strconv.FormatInt(cfg.Tracker.DailyLimit(), 10))
		}
		if res.LimitReached && cfg.BlockOnLimit {
			if cfg.OnLimitReached != nil {
				return cfg.OnLimitReached(c, res)
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Daily API limit reached"})
		}

		c.Locals(ResultKey, res)
		return c.Next()
	}
}

func defaultError(c *fiber.Ctx, err error) error {
	if errors.Is(err, billing.ErrUserNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update usage"})
}

// FromContext returns a UserIDExtractor that gets user ID from Fiber context values (Locals)
//
// Example:
//
//	// In your auth middleware:
//	c.Locals("UserID", userID)
//
//	// In quota middleware config:
//	GetUserID: fiber.FromContext("UserID")
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}
