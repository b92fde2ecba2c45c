package billing

// Config defines the standard configuration all providers should accept
type Config struct {
	// Store receives reconciled subscription state (required).
	Store UserStore

	// WebhookSecret is the shared secret used to verify webhook signatures.
	// A provider built without one answers every webhook with 500.
	WebhookSecret string

	// EventLog optionally records every authenticated delivery and its outcome.
	// Recording failures are logged and never change the webhook response.
	EventLog EventLog

	// Logger is an optional structured logger. If nil, logs are discarded.
	Logger Logger

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	// Clock overrides time.Now for audit timestamps.
	Clock Clock
}

// WithDefaults returns a copy of c with nil collaborators replaced by no-ops.
func (c Config) WithDefaults() Config {
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	return c
}
