package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// eventType: The provider event type (e.g., "subscription.created")
	// status: "success", "unprocessable" or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "missing_signature", "auth_failed", "invalid_payload")
	RecordWebhookError(provider, errorType string)

	// RecordReconciliation records the outcome of applying an event.
	// outcome: "applied", "ignored" or "rejected"
	RecordReconciliation(kind, outcome string)

	// RecordStatusChange records a subscription status written by the reconciler.
	RecordStatusChange(status string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordReconciliation(_, _ string)                             {}
func (n *NoopMetrics) RecordStatusChange(_ string)                                  {}
