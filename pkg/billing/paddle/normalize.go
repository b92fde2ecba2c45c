package paddle

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// Envelope is the subset of a Paddle notification this package reads.
type Envelope struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`
	Data       *Data  `json:"data"`
}

// Data is the entity carried by a notification. For subscription events ID is the
// subscription id; for transaction events SubscriptionID links the subscription.
type Data struct {
	ID                   string                 `json:"id"`
	CustomerID           string                 `json:"customer_id"`
	SubscriptionID       string                 `json:"subscription_id"`
	Status               string                 `json:"status"`
	Items                []Item                 `json:"items"`
	CurrentBillingPeriod *BillingPeriod         `json:"current_billing_period"`
	ScheduledChange      *ScheduledChange       `json:"scheduled_change"`
	CustomData           map[string]interface{} `json:"custom_data"`
	CanceledAt           string                 `json:"canceled_at"`
}

type Item struct {
	Price Price `json:"price"`
}

type Price struct {
	ID string `json:"id"`
}

type BillingPeriod struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type ScheduledChange struct {
	Action      string `json:"action"`
	EffectiveAt string `json:"effective_at"`
}

// Event types with special handling.
const (
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventTransactionCompleted = "transaction.completed"
)

var eventKinds = map[string]billing.EventKind{
	EventSubscriptionCreated:  billing.EventCreated,
	EventSubscriptionUpdated:  billing.EventUpdated,
	EventSubscriptionCanceled: billing.EventCanceled,
}

// statuses is the complete Paddle status vocabulary this system understands.
var statuses = map[string]billing.SubscriptionStatus{
	"ACTIVE":   billing.StatusActive,
	"CANCELED": billing.StatusCanceled,
	"PAST_DUE": billing.StatusPastDue,
	"PAUSED":   billing.StatusPaused,
	"TRIALING": billing.StatusTrialing,
}

// ParseEnvelope decodes a webhook body. Only syntactically invalid JSON is an
// error: members of an unexpected type are treated as absent, so such events
// are acknowledged as unprocessable instead of being retried forever.
func ParseEnvelope(body []byte) (*Envelope, error) {
	if !json.Valid(body) {
		return nil, ErrInvalidJSON
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &env, nil
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	m := objectFields(b)
	*e = Envelope{
		EventID:    field[string](m, "event_id"),
		EventType:  field[string](m, "event_type"),
		OccurredAt: field[string](m, "occurred_at"),
		Data:       field[*Data](m, "data"),
	}
	return nil
}

func (d *Data) UnmarshalJSON(b []byte) error {
	m := objectFields(b)
	*d = Data{
		ID:                   field[string](m, "id"),
		CustomerID:           field[string](m, "customer_id"),
		SubscriptionID:       field[string](m, "subscription_id"),
		Status:               field[string](m, "status"),
		Items:                field[[]Item](m, "items"),
		CurrentBillingPeriod: field[*BillingPeriod](m, "current_billing_period"),
		ScheduledChange:      field[*ScheduledChange](m, "scheduled_change"),
		CustomData:           field[map[string]interface{}](m, "custom_data"),
		CanceledAt:           field[string](m, "canceled_at"),
	}
	return nil
}

func (it *Item) UnmarshalJSON(b []byte) error {
	*it = Item{Price: field[Price](objectFields(b), "price")}
	return nil
}

func (p *Price) UnmarshalJSON(b []byte) error {
	*p = Price{ID: field[string](objectFields(b), "id")}
	return nil
}

func (bp *BillingPeriod) UnmarshalJSON(b []byte) error {
	m := objectFields(b)
	*bp = BillingPeriod{StartsAt: field[string](m, "starts_at"), EndsAt: field[string](m, "ends_at")}
	return nil
}

func (sc *ScheduledChange) UnmarshalJSON(b []byte) error {
	m := objectFields(b)
	*sc = ScheduledChange{Action: field[string](m, "action"), EffectiveAt: field[string](m, "effective_at")}
	return nil
}

// objectFields splits a JSON object into its members. Any other value yields nil.
func objectFields(b []byte) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

// field decodes m[key], treating a missing member or one of the wrong type as the zero value.
func field[T any](m map[string]json.RawMessage, key string) T {
	var v T
	raw, ok := m[key]
	if !ok {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero
	}
	return v
}

// MapStatus maps a Paddle status case-insensitively. Unmapped values,
// including the empty string, yield billing.StatusUnknown.
func MapStatus(raw string) billing.SubscriptionStatus {
	if s, ok := statuses[strings.ToUpper(raw)]; ok {
		return s
	}
	return billing.StatusUnknown
}

// MapEventKind classifies a Paddle event type.
func MapEventKind(eventType string) billing.EventKind {
	if k, ok := eventKinds[eventType]; ok {
		return k
	}
	return billing.EventOther
}

// Normalize converts env into a BillingEvent.
// It returns ErrMissingUserID when data.custom_data.userId is absent.
func Normalize(env *Envelope) (*billing.BillingEvent, error) {
	if env == nil {
		return nil, ErrMissingUserID
	}
	data := env.Data
	if data == nil {
		data = &Data{}
	}

	userID := customUserID(data.CustomData)
	if userID == "" {
		return nil, ErrMissingUserID
	}

	ev := &billing.BillingEvent{
		Kind:           MapEventKind(env.EventType),
		EventID:        env.EventID,
		EventType:      env.EventType,
		OccurredAt:     parseTime(env.OccurredAt),
		UserID:         userID,
		SubscriptionID: data.ID,
		CustomerID:     data.CustomerID,
		Status:         MapStatus(data.Status),
	}
	if len(data.Items) > 0 {
		ev.PlanID = data.Items[0].Price.ID
	}

	var periodEnd *time.Time
	if data.CurrentBillingPeriod != nil {
		periodEnd = parseTime(data.CurrentBillingPeriod.EndsAt)
	}
	if data.ScheduledChange != nil {
		ev.ScheduledChangeAction = data.ScheduledChange.Action
		ev.ScheduledChangeEffectiveAt = parseTime(data.ScheduledChange.EffectiveAt)
	}
	ev.PeriodEndsAt = firstTime(periodEnd, ev.ScheduledChangeEffectiveAt, parseTime(data.CanceledAt))

	return ev, nil
}

func customUserID(custom map[string]interface{}) string {
	switch v := custom["userId"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// parseTime returns nil for empty or unparseable timestamps.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func firstTime(candidates ...*time.Time) *time.Time {
	for _, t := range candidates {
		if t != nil {
			return t
		}
	}
	return nil
}
