// Package httpserver wires the webhook, user API and operational routes onto a chi router.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/paddlequota/internal/httputil"
	"github.com/mihaimyh/paddlequota/pkg/api"
	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/pkg/ratelimit"
)

// Routes served by the server.
const (
	RouteWebhook   = "/api/webhooks/paddle"
	RouteIncrement = "/api/user/usage/increment"
	RouteProfile   = "/api/user/profile"
	RouteCancel    = "/api/user/subscription/cancel"
	RouteMetrics   = "/metrics"
	RouteHealth    = "/health"
)

// Deps are the handlers and infrastructure the server routes to.
type Deps struct {
	// Webhook handles Paddle notifications (required).
	Webhook http.Handler

	// API serves the authenticated user routes (required).
	API *api.Handler

	// Limiter throttles /api/user routes per client IP. Nil disables rate limiting.
	Limiter ratelimit.Limiter

	// Metrics serves /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler

	// Logger receives one access log line per request.
	Logger zerolog.Logger

	// BillingLogger receives rate limiter failures.
	BillingLogger billing.Logger
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
}

// New constructs an HTTP server listening on addr.
func New(addr string, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(deps.Logger))
	router.Use(middleware.Recoverer)

	router.Get(RouteHealth, health)
	router.Handle(RouteMetrics, deps.Metrics)

	// Paddle retries on 429, so the webhook is exempt from rate limiting.
	router.Post(RouteWebhook, deps.Webhook.ServeHTTP)

	router.Group(func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(ratelimit.Middleware(deps.Limiter, deps.BillingLogger))
		}
		r.Post(RouteIncrement, deps.API.IncrementUsage)
		r.Get(RouteProfile, deps.API.GetProfile)
		r.Post(RouteCancel, deps.API.CancelSubscription)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{httpServer: srv}
}

// Start begins serving HTTP traffic. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func health(w http.ResponseWriter, _ *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs method, path, status and latency of every request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
