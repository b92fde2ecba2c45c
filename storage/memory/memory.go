// Package memory provides an in-memory implementation of the billing.UserStore interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// Storage implements billing.UserStore and billing.EventLog using in-memory maps
type Storage struct {
	mu     sync.RWMutex
	users  map[string]*billing.UserBillingRecord
	events []*billing.WebhookEventRecord
	clock  billing.Clock
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return NewWithClock(billing.SystemClock{})
}

// NewWithClock creates an in-memory storage adapter stamping records with clock.
func NewWithClock(clock billing.Clock) *Storage {
	return &Storage{
		users: make(map[string]*billing.UserBillingRecord),
		clock: clock,
	}
}

// CreateUser implements billing.UserStore
func (s *Storage) CreateUser(_ context.Context, userID string) (*billing.UserBillingRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; ok {
		return nil, billing.ErrUserExists
	}
	rec := billing.NewUserBillingRecord(userID, s.clock.Now())
	s.users[userID] = rec
	return rec.Clone(), nil
}

// FindByUserID implements billing.UserStore
func (s *Storage) FindByUserID(_ context.Context, userID string) (*billing.UserBillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	// Return a copy to prevent external mutations
	return rec.Clone(), nil
}

// UpsertByUserID implements billing.UserStore
func (s *Storage) UpsertByUserID(_ context.Context, userID string, u billing.Update) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	rec, ok := s.users[userID]
	if !ok {
		rec = billing.NewUserBillingRecord(userID, now)
		s.users[userID] = rec
	}
	u.ApplyTo(rec)
	rec.UpdatedAt = now
	return nil
}

// UpdateWhereSubscription implements billing.UserStore
func (s *Storage) UpdateWhereSubscription(_ context.Context, userID, subscriptionID string,
	u billing.Update) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok || rec.PaddleSubscriptionID == nil || *rec.PaddleSubscriptionID != subscriptionID {
		return 0, nil
	}
	u.ApplyTo(rec)
	rec.UpdatedAt = s.clock.Now()
	return 1, nil
}

// AtomicIncrement implements billing.UserStore
func (s *Storage) AtomicIncrement(_ context.Context, userID string, incs ...billing.CounterIncrement) error {
	for _, inc := range incs {
		if !inc.Counter.Valid() {
			return fmt.Errorf("%w: %q", billing.ErrInvalidCounter, inc.Counter)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return billing.ErrUserNotFound
	}
	for _, inc := range incs {
		switch inc.Counter {
		case billing.CounterDaily:
			rec.APICallCountDaily += inc.Amount
		case billing.CounterTotal:
			rec.APICallCountTotal += inc.Amount
		}
	}
	rec.UpdatedAt = s.clock.Now()
	return nil
}

// RecordWebhookEvent implements billing.EventLog
func (s *Storage) RecordWebhookEvent(_ context.Context, rec *billing.WebhookEventRecord) error {
	if rec == nil {
		return fmt.Errorf("invalid webhook event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *rec
	c.Payload = append([]byte(nil), rec.Payload...)
	s.events = append(s.events, &c)
	return nil
}

// WebhookEvents returns copies of the recorded webhook events, oldest first.
func (s *Storage) WebhookEvents() []billing.WebhookEventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]billing.WebhookEventRecord, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	return out
}

// Put stores rec as is, replacing any existing record. Useful for seeding tests.
func (s *Storage) Put(rec *billing.UserBillingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[rec.UserID] = rec.Clone()
}
