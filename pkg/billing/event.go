package billing

import "time"

// EventKind classifies a provider event for reconciliation.
type EventKind int

const (
	EventOther EventKind = iota
	EventCreated
	EventUpdated
	EventCanceled
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "CREATED"
	case EventUpdated:
		return "UPDATED"
	case EventCanceled:
		return "CANCELED"
	default:
		return "OTHER"
	}
}

// ScheduledChangeCancel is the scheduled-change action that announces a future cancellation.
const ScheduledChangeCancel = "cancel"

// BillingEvent is a provider event normalized for the reconciler.
// It is built per webhook delivery and discarded afterwards.
type BillingEvent struct {
	Kind EventKind

	// EventID and EventType are the provider's identifiers, kept for auditing.
	EventID    string
	EventType  string
	OccurredAt *time.Time

	UserID         string
	SubscriptionID string
	CustomerID     string
	PlanID         string

	// Status is StatusUnknown when the provider status had no mapping.
	Status SubscriptionStatus

	PeriodEndsAt               *time.Time
	ScheduledChangeAction      string
	ScheduledChangeEffectiveAt *time.Time
}
