package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/paddlequota/pkg/ratelimit"
)

// RateLimiter is a fixed-window ratelimit.Limiter shared by every replica
// using the same Redis.
type RateLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	limit     int
	window    time.Duration
}

// NewRateLimiter allows limit requests per key every window.
func NewRateLimiter(client redis.UniversalClient, keyPrefix string, limit int, window time.Duration) (*RateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("%w: limit=%d window=%s", ratelimit.ErrInvalidConfig, limit, window)
	}
	if keyPrefix == "" {
		keyPrefix = DefaultConfig().KeyPrefix
	}
	return &RateLimiter{client: client, keyPrefix: keyPrefix, limit: limit, window: window}, nil
}

// Allow implements ratelimit.Limiter. The window starts with the first request
// for key and expires with the key.
func (l *RateLimiter) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	k := l.keyPrefix + "ratelimit:" + key

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("failed to check rate limit: %w", err)
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		// First request of the window, or a key left without expiry.
		if err := l.client.PExpire(ctx, k, l.window).Err(); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("failed to set rate limit window: %w", err)
		}
		remaining = l.window
	}
	return ratelimit.NewDecision(incr.Val(), l.limit, time.Now().Add(remaining)), nil
}
