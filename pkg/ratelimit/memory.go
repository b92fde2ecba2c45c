package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// MemoryLimiter is an in-process fixed-window limiter. Counts are per process,
// so each replica enforces its own limit.
type MemoryLimiter struct {
	mu            sync.Mutex
	requests      map[string]*bucket
	limit         int
	window        time.Duration
	clock         billing.Clock
	requestCount  int // counter for deterministic cleanup
	cleanupEvery  int
	cleanupAtSize int
}

type bucket struct {
	count   int64
	resetAt time.Time
}

// NewMemoryLimiter allows limit requests per key every window.
func NewMemoryLimiter(limit int, window time.Duration, clock billing.Clock) (*MemoryLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("%w: limit=%d window=%s", ErrInvalidConfig, limit, window)
	}
	if clock == nil {
		clock = billing.SystemClock{}
	}
	return &MemoryLimiter{
		requests:      make(map[string]*bucket),
		limit:         limit,
		window:        window,
		clock:         clock,
		cleanupEvery:  100,
		cleanupAtSize: 10000,
	}, nil
}

// Allow implements Limiter. It never fails.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	l.requestCount++
	if l.requestCount%l.cleanupEvery == 0 || len(l.requests) > l.cleanupAtSize {
		l.cleanupExpired(now)
		l.requestCount = 0
	}

	b, ok := l.requests[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(l.window)}
		l.requests[key] = b
	}
	// Rejected requests are not counted, so Remaining never goes below zero.
	if b.count < int64(l.limit) {
		b.count++
		return NewDecision(b.count, l.limit, b.resetAt), nil
	}
	return NewDecision(b.count+1, l.limit, b.resetAt), nil
}

// cleanupExpired removes expired entries from the requests map to prevent memory leaks.
func (l *MemoryLimiter) cleanupExpired(now time.Time) {
	for key, b := range l.requests {
		if !now.Before(b.resetAt) {
			delete(l.requests, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}
