package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/pkg/quota"
)

// Config holds configuration for the user API handler
type Config struct {
	// Tracker serves profile reads and usage increments (required)
	Tracker *quota.Tracker

	// Reconciler marks cancellations (required)
	Reconciler *billing.Reconciler

	// GetUserID extracts user ID from HTTP request (required)
	// Similar to middleware/http pattern
	GetUserID func(*http.Request) string

	// Logger is used for structured logging (default: NoopLogger)
	Logger billing.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Tracker == nil {
		return fmt.Errorf("tracker is required")
	}
	if c.Reconciler == nil {
		return fmt.Errorf("reconciler is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new user API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}
