// Package paddle implements billing.Provider for Paddle Billing webhooks.
package paddle

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

const (
	providerName = "paddle"

	// maxWebhookBodyBytes bounds the webhook body read.
	maxWebhookBodyBytes = 256 * 1024
)

// Provider implements billing.Provider for Paddle.
type Provider struct {
	reconciler    *billing.Reconciler
	webhookSecret []byte
	eventLog      billing.EventLog
	logger        billing.Logger
	metrics       billing.Metrics
	clock         billing.Clock
	newID         func() string
}

// NewProvider creates a new Paddle billing provider.
// A missing webhook secret is allowed; the handler then answers every delivery with 500.
func NewProvider(config billing.Config) (*Provider, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("%w: store is required", billing.ErrProviderNotConfigured)
	}
	config = config.WithDefaults()

	if config.WebhookSecret == "" {
		config.Logger.Warn("paddle webhook secret is not configured; webhooks will be refused")
	}

	return &Provider{
		reconciler:    billing.NewReconciler(config.Store, config.Logger, config.Metrics),
		webhookSecret: []byte(config.WebhookSecret),
		eventLog:      config.EventLog,
		logger:        config.Logger,
		metrics:       config.Metrics,
		clock:         config.Clock,
		newID:         uuid.NewString,
	}, nil
}

// Name implements billing.Provider
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler implements billing.Provider
func (p *Provider) WebhookHandler() http.Handler {
	return http.HandlerFunc(p.handleWebhook)
}
