// Package ratelimit limits requests per client with a fixed window.
package ratelimit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/paddlequota/internal/httputil"
	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// ErrInvalidConfig is returned for a non-positive limit or window.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts a request against key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// NewDecision builds the Decision for the count-th request of a window.
func NewDecision(count int64, limit int, resetAt time.Time) Decision {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// Middleware rejects requests over the limit with 429. Limiter failures are
// logged and the request is let through.
func Middleware(l Limiter, logger billing.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r)
			d, err := l.Allow(r.Context(), ip)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					billing.F("client_ip", ip), billing.F("error", err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				logger.Debug("rate limit exceeded", billing.F("client_ip", ip))
				_ = httputil.WriteJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For header first (set by proxies/load balancers),
// then falls back to RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
