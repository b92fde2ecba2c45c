package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mihaimyh/paddlequota/pkg/billing"
	"github.com/mihaimyh/paddlequota/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyStore fails the selected operations.
type flakyStore struct {
	*memory.Storage
	findErr      error
	upsertErr    error
	incrementErr error
}

func (s *flakyStore) FindByUserID(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.Storage.FindByUserID(ctx, userID)
}

func (s *flakyStore) UpsertByUserID(ctx context.Context, userID string, u billing.Update) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.Storage.UpsertByUserID(ctx, userID, u)
}

func (s *flakyStore) AtomicIncrement(ctx context.Context, userID string, incs ...billing.CounterIncrement) error {
	if s.incrementErr != nil {
		return s.incrementErr
	}
	return s.Storage.AtomicIncrement(ctx, userID, incs...)
}

type recordingMetrics struct {
	NoopMetrics
	mu            sync.Mutex
	resets        []string
	limitsReached int
	increments    map[string]int
}

func (m *recordingMetrics) RecordDailyReset(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, status)
}

func (m *recordingMetrics) RecordLimitReached() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitsReached++
}

func (m *recordingMetrics) RecordIncrement(plan string, dailyCounted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.increments == nil {
		m.increments = make(map[string]int)
	}
	m.increments[plan]++
}

func (m *recordingMetrics) resetStatuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resets...)
}

var errBackend = errors.New("backend unavailable")

func timePtr(t time.Time) *time.Time { return &t }
