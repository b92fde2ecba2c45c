// Package firestore provides a Firestore implementation of the billing.UserStore
// and billing.EventLog interfaces. Counters use server-side increments and the
// subscription-guarded update runs in a transaction.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// Document fields of a user.
const (
	fieldUserID                = "userId"
	fieldCustomerID            = "paddleCustomerId"
	fieldSubscriptionID        = "paddleSubscriptionId"
	fieldPlanID                = "paddlePlanId"
	fieldStatus                = "subscriptionStatus"
	fieldEndsAt                = "subscriptionEndsAt"
	fieldCancellationScheduled = "cancellationScheduled"
	fieldDaily                 = "apiCallCountDaily"
	fieldTotal                 = "apiCallCountTotal"
	fieldLastReset             = "lastApiCallReset"
	fieldCreatedAt             = "createdAt"
	fieldUpdatedAt             = "updatedAt"
)

// Storage implements billing.UserStore and billing.EventLog using Google Cloud Firestore
type Storage struct {
	client                  *firestore.Client
	usersCollection         string
	webhookEventsCollection string
	clock                   billing.Clock
}

// Config holds Firestore storage configuration
type Config struct {
	// UsersCollection is the Firestore collection for user billing records
	// Default: "users"
	UsersCollection string

	// WebhookEventsCollection is the Firestore collection for the webhook audit log
	// Default: "billing_webhook_events"
	WebhookEventsCollection string

	// Clock stamps createdAt and updatedAt (default: wall clock)
	Clock billing.Clock
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.UsersCollection == "" {
		config.UsersCollection = "users"
	}
	if config.WebhookEventsCollection == "" {
		config.WebhookEventsCollection = "billing_webhook_events"
	}
	if config.Clock == nil {
		config.Clock = billing.SystemClock{}
	}

	return &Storage{
		client:                  client,
		usersCollection:         config.UsersCollection,
		webhookEventsCollection: config.WebhookEventsCollection,
		clock:                   config.Clock,
	}, nil
}

func (s *Storage) userDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.usersCollection).Doc(userID)
}

// CreateUser implements billing.UserStore
func (s *Storage) CreateUser(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	rec := billing.NewUserBillingRecord(userID, s.clock.Now())
	if _, err := s.userDoc(userID).Create(ctx, signupDefaults(rec)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, billing.ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return rec, nil
}

// FindByUserID implements billing.UserStore
func (s *Storage) FindByUserID(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	snap, err := s.userDoc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, billing.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return decodeRecord(userID, snap.Data())
}

// UpsertByUserID implements billing.UserStore
func (s *Storage) UpsertByUserID(ctx context.Context, userID string, u billing.Update) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	doc := s.userDoc(userID)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		now := s.clock.Now()
		_, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			data := signupDefaults(billing.NewUserBillingRecord(userID, now))
			for _, up := range updates(u) {
				data[up.Path] = up.Value
			}
			return tx.Create(doc, data)
		}
		return tx.Update(doc, append(updates(u), firestore.Update{Path: fieldUpdatedAt, Value: now}))
	})
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpdateWhereSubscription implements billing.UserStore
func (s *Storage) UpdateWhereSubscription(ctx context.Context, userID, subscriptionID string,
	u billing.Update) (int64, error) {
	doc := s.userDoc(userID)
	var matched int64

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		matched = 0
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		if current, ok := snap.Data()[fieldSubscriptionID].(string); !ok || current != subscriptionID {
			return nil
		}
		matched = 1
		return tx.Update(doc, append(updates(u), firestore.Update{Path: fieldUpdatedAt, Value: s.clock.Now()}))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update subscription: %w", err)
	}
	return matched, nil
}

// AtomicIncrement implements billing.UserStore
func (s *Storage) AtomicIncrement(ctx context.Context, userID string, incs ...billing.CounterIncrement) error {
	ups := make([]firestore.Update, 0, len(incs)+1)
	amounts := map[string]int64{}
	for _, inc := range incs {
		field, err := counterField(inc.Counter)
		if err != nil {
			return err
		}
		amounts[field] += inc.Amount
	}
	for _, field := range []string{fieldDaily, fieldTotal} {
		if amount, ok := amounts[field]; ok {
			ups = append(ups, firestore.Update{Path: field, Value: firestore.Increment(amount)})
		}
	}
	ups = append(ups, firestore.Update{Path: fieldUpdatedAt, Value: s.clock.Now()})

	if _, err := s.userDoc(userID).Update(ctx, ups); err != nil {
		if status.Code(err) == codes.NotFound {
			return billing.ErrUserNotFound
		}
		return fmt.Errorf("failed to increment counters: %w", err)
	}
	return nil
}

// RecordWebhookEvent implements billing.EventLog
func (s *Storage) RecordWebhookEvent(ctx context.Context, rec *billing.WebhookEventRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("invalid webhook event")
	}
	data := map[string]interface{}{
		"provider":        rec.Provider,
		"providerEventId": rec.ProviderEventID,
		"eventType":       rec.EventType,
		"userId":          rec.UserID,
		"payload":         string(rec.Payload),
		"signatureValid":  rec.SignatureValid,
		"outcome":         rec.Outcome,
		"reason":          rec.Reason,
		"processingError": rec.ProcessingError,
		"receivedAt":      rec.ReceivedAt,
		"processedAt":     rec.ProcessedAt,
	}
	if _, err := s.client.Collection(s.webhookEventsCollection).Doc(rec.ID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

func counterField(c billing.Counter) (string, error) {
	switch c {
	case billing.CounterDaily:
		return fieldDaily, nil
	case billing.CounterTotal:
		return fieldTotal, nil
	default:
		return "", fmt.Errorf("%w: %q", billing.ErrInvalidCounter, c)
	}
}

func signupDefaults(rec *billing.UserBillingRecord) map[string]interface{} {
	return map[string]interface{}{
		fieldUserID:                rec.UserID,
		fieldCustomerID:            nil,
		fieldSubscriptionID:        nil,
		fieldPlanID:                nil,
		fieldStatus:                rec.SubscriptionStatus.String(),
		fieldEndsAt:                nil,
		fieldCancellationScheduled: false,
		fieldDaily:                 int64(0),
		fieldTotal:                 int64(0),
		fieldLastReset:             nil,
		fieldCreatedAt:             rec.CreatedAt,
		fieldUpdatedAt:             rec.UpdatedAt,
	}
}

// updates converts u to field writes. A null status is stored as NONE.
func updates(u billing.Update) []firestore.Update {
	var out []firestore.Update
	add := func(set bool, path string, value interface{}) {
		if set {
			out = append(out, firestore.Update{Path: path, Value: value})
		}
	}

	add(u.PaddleCustomerID.IsSet(), fieldCustomerID, patchValue(u.PaddleCustomerID))
	add(u.PaddleSubscriptionID.IsSet(), fieldSubscriptionID, patchValue(u.PaddleSubscriptionID))
	add(u.PaddlePlanID.IsSet(), fieldPlanID, patchValue(u.PaddlePlanID))
	if u.SubscriptionStatus.IsSet() {
		st, ok := u.SubscriptionStatus.Value()
		if !ok {
			st = billing.StatusNone
		}
		add(true, fieldStatus, st.String())
	}
	add(u.SubscriptionEndsAt.IsSet(), fieldEndsAt, patchValue(u.SubscriptionEndsAt))
	if u.CancellationScheduled.IsSet() {
		v, _ := u.CancellationScheduled.Value()
		add(true, fieldCancellationScheduled, v)
	}
	if u.APICallCountDaily.IsSet() {
		v, _ := u.APICallCountDaily.Value()
		add(true, fieldDaily, v)
	}
	add(u.LastAPICallReset.IsSet(), fieldLastReset, patchValue(u.LastAPICallReset))
	return out
}

func patchValue[T any](p billing.Patch[T]) interface{} {
	if v, ok := p.Value(); ok {
		return v
	}
	return nil
}

func decodeRecord(userID string, data map[string]interface{}) (*billing.UserBillingRecord, error) {
	st, err := billing.ParseSubscriptionStatus(getString(data, fieldStatus))
	if err != nil {
		return nil, err
	}
	return &billing.UserBillingRecord{
		UserID:                userID,
		PaddleCustomerID:      getOptString(data, fieldCustomerID),
		PaddleSubscriptionID:  getOptString(data, fieldSubscriptionID),
		PaddlePlanID:          getOptString(data, fieldPlanID),
		SubscriptionStatus:    st,
		SubscriptionEndsAt:    getOptTime(data, fieldEndsAt),
		CancellationScheduled: getBool(data, fieldCancellationScheduled),
		APICallCountDaily:     getInt(data, fieldDaily),
		APICallCountTotal:     getInt(data, fieldTotal),
		LastAPICallReset:      getOptTime(data, fieldLastReset),
		CreatedAt:             getTime(data, fieldCreatedAt),
		UpdatedAt:             getTime(data, fieldUpdatedAt),
	}, nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getOptString(data map[string]interface{}, key string) *string {
	if v, ok := data[key].(string); ok {
		return &v
	}
	return nil
}

func getBool(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func getInt(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getOptTime(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok {
		return &v
	}
	return nil
}
