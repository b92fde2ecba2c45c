package quota

import (
	"context"
	"fmt"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// CircuitBreakerStore wraps a billing.UserStore with circuit breaker protection.
// An open circuit is reported as a billing.ErrStorage failure.
type CircuitBreakerStore struct {
	store billing.UserStore
	cb    CircuitBreaker
}

// NewCircuitBreakerStore creates a new store wrapper with circuit breaker.
func NewCircuitBreakerStore(store billing.UserStore, cb CircuitBreaker) *CircuitBreakerStore {
	return &CircuitBreakerStore{
		store: store,
		cb:    cb,
	}
}

func (s *CircuitBreakerStore) execute(ctx context.Context, fn func() error) error {
	err := s.cb.Execute(ctx, fn)
	if err == ErrCircuitOpen {
		return fmt.Errorf("%w: %w", billing.ErrStorage, err)
	}
	return err
}

func (s *CircuitBreakerStore) CreateUser(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	var rec *billing.UserBillingRecord
	err := s.execute(ctx, func() error {
		var e error
		rec, e = s.store.CreateUser(ctx, userID)
		return e
	})
	return rec, err
}

func (s *CircuitBreakerStore) FindByUserID(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	var rec *billing.UserBillingRecord
	err := s.execute(ctx, func() error {
		var e error
		rec, e = s.store.FindByUserID(ctx, userID)
		return e
	})
	return rec, err
}

func (s *CircuitBreakerStore) UpsertByUserID(ctx context.Context, userID string, u billing.Update) error {
	return s.execute(ctx, func() error {
		return s.store.UpsertByUserID(ctx, userID, u)
	})
}

func (s *CircuitBreakerStore) UpdateWhereSubscription(ctx context.Context, userID, subscriptionID string,
	u billing.Update) (int64, error) {
	var n int64
	err := s.execute(ctx, func() error {
		var e error
		n, e = s.store.UpdateWhereSubscription(ctx, userID, subscriptionID, u)
		return e
	})
	return n, err
}

func (s *CircuitBreakerStore) AtomicIncrement(ctx context.Context, userID string,
	incs ...billing.CounterIncrement) error {
	return s.execute(ctx, func() error {
		return s.store.AtomicIncrement(ctx, userID, incs...)
	})
}
