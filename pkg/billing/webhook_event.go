package billing

import "time"

// WebhookEventRecord is the audit row for one webhook delivery.
type WebhookEventRecord struct {
	// ID is generated locally for every delivery.
	ID string `json:"id"`

	// Provider is the billing provider name ("paddle")
	Provider string `json:"provider"`

	// ProviderEventID is the provider's event id, empty if absent from the payload.
	ProviderEventID string `json:"providerEventId,omitempty"`

	// EventType is the provider-specific event type
	// Paddle: "subscription.created", "transaction.completed", etc.
	EventType string `json:"eventType,omitempty"`

	// UserID is the attributed user, empty when the payload carried none.
	UserID string `json:"userId,omitempty"`

	// Payload is the raw request body.
	Payload []byte `json:"payload,omitempty"`

	SignatureValid bool `json:"signatureValid"`

	// Outcome is the reconciliation outcome or "error" for storage failures.
	Outcome string `json:"outcome"`

	// Reason explains a rejected or unprocessable delivery.
	Reason string `json:"reason,omitempty"`

	// ProcessingError holds the storage error message, if any.
	ProcessingError string `json:"processingError,omitempty"`

	ReceivedAt  time.Time  `json:"receivedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}
