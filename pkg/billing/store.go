package billing

import (
	"context"
	"time"
)

// UserStore persists UserBillingRecords.
//
// Implementations must make UpdateWhereSubscription a single conditional write and
// AtomicIncrement a single atomic write; callers never hold locks across calls.
type UserStore interface {
	// CreateUser inserts a fresh record at signup.
	// Returns ErrUserExists when the user is already present.
	CreateUser(ctx context.Context, userID string) (*UserBillingRecord, error)

	// FindByUserID returns ErrUserNotFound when the user does not exist.
	FindByUserID(ctx context.Context, userID string) (*UserBillingRecord, error)

	// UpsertByUserID applies u, creating the record with signup defaults if missing.
	UpsertByUserID(ctx context.Context, userID string, u Update) error

	// UpdateWhereSubscription applies u only when the stored subscription id equals
	// subscriptionID. It returns the number of matched records (0 or 1).
	UpdateWhereSubscription(ctx context.Context, userID, subscriptionID string, u Update) (int64, error)

	// AtomicIncrement adds every increment in one write.
	// Returns ErrUserNotFound when the user does not exist.
	AtomicIncrement(ctx context.Context, userID string, incs ...CounterIncrement) error
}

// EventLog records inbound webhook deliveries for auditing.
type EventLog interface {
	RecordWebhookEvent(ctx context.Context, rec *WebhookEventRecord) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
