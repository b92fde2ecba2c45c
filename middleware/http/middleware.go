// Package http provides net/http middleware that counts billable API calls
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/mihaimyh/paddlequota/internal/httputil"
	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/pkg/quota"
)

// UserIDExtractor extracts the user ID from an HTTP request
// An empty string means the request is unauthenticated.
type UserIDExtractor func(r *http.Request) string

// Config configures the usage counter.
type Config struct {
	// Tracker counts the calls (required)
	Tracker *quota.Tracker

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// BlockOnLimit rejects calls made over the free-tier daily cap.
	// The call is still recorded in the lifetime total.
	BlockOnLimit bool

	// OnLimitReached is called when BlockOnLimit is set and the cap was reached
	// If nil, returns 429 Too Many Requests
	OnLimitReached func(w http.ResponseWriter, r *http.Request, res *quota.IncrementResult)

	// OnUnauthorized is called when user is not authenticated
	// Defaults to 401 {"error":"Not authenticated"}.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the call could not be counted
	// If nil, returns 404 for unknown users and 500 otherwise
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that records one billable call per request
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Tracker == nil {
		panic("paddlequota/http: Config.Tracker is required")
	}
	if config.GetUserID == nil {
		panic("paddlequota/http: Config.GetUserID is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					_ = httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
				}
				return
			}

			res, err := config.Tracker.Increment(r.Context(), userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					DefaultError(w, err)
				}
				return
			}

			SetUsageHeaders(w, res, config.Tracker.DailyLimit())
			if res.LimitReached && config.BlockOnLimit {
				if config.OnLimitReached != nil {
					config.OnLimitReached(w, r, res)
				} else {
					_ = httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Daily API limit reached"})
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), res)))
		})
	}
}

// DefaultError writes the standard response for a failed increment.
func DefaultError(w http.ResponseWriter, err error) {
	if errors.Is(err, billing.ErrUserNotFound) {
		_ = httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	_ = httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to update usage"})
}

// SetUsageHeaders reports the daily count to free-tier callers.
func SetUsageHeaders(w http.ResponseWriter, res *quota.IncrementResult, limit int64) {
	if res.Premium {
		return
	}
	w.Header().Set("X-Quota-Daily-Used", strconv.FormatInt(res.EffectiveDaily, 10))
	w.Header().Set("X-Quota-Daily-Limit", strconv.FormatInt(limit, 10))
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "paddlequota:userID"

	resultKey ContextKey = "paddlequota:result"
)

// WithResult stores the increment result for downstream handlers.
func WithResult(ctx context.Context, res *quota.IncrementResult) context.Context {
	return context.WithValue(ctx, resultKey, res)
}

// ResultFromContext returns the result recorded by Middleware, if any.
func ResultFromContext(ctx context.Context) (*quota.IncrementResult, bool) {
	res, ok := ctx.Value(resultKey).(*quota.IncrementResult)
	return res, ok
}

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
