// Package quota enforces the per-user daily API-call cap.
//
// Premium (ACTIVE) users are uncapped. Everyone else may make Config.DailyLimit
// counted calls per local day. The daily counter is reset lazily: Increment
// treats a counter last reset before today's midnight as zero, and Profile
// persists the zeroed counter through a background ResetQueue.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

const (
	planPremium = "premium"
	planFree    = "free"
)

// IncrementResult describes the effect of one billable call.
type IncrementResult struct {
	// Premium is true when the user is not subject to the daily cap.
	Premium bool

	// DailyCounted is false when the cap was already reached and only the
	// total counter moved.
	DailyCounted bool

	// LimitReached is true when the call was made over the cap.
	LimitReached bool

	// EffectiveDaily is the logical daily count after this call, treating a
	// counter from a previous day as zero.
	EffectiveDaily int64
}

// Profile is the quota view of a user, with the day-boundary reset applied.
type Profile struct {
	UserID                string
	Premium               bool
	Status                billing.SubscriptionStatus
	PlanID                *string
	EndsAt                *time.Time
	CancellationScheduled bool
	MemberSince           time.Time

	DailyCount int64
	// DailyLimit is nil for premium users.
	DailyLimit *int64
	TotalCount int64

	// ResetScheduled is true when the counter was stale and a background reset was enqueued.
	ResetScheduled bool
}

// Tracker counts billable calls against UserStore counters.
type Tracker struct {
	store  billing.UserStore
	config Config
	resets *ResetQueue
}

// NewTracker creates a tracker over store and starts its reset worker.
// Call Close to stop the worker.
func NewTracker(store billing.UserStore, config Config) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	t := &Tracker{
		store:  store,
		config: config,
	}
	t.resets = NewResetQueue(config.ResetQueueSize, config.ResetTimeout, func(err error) {
		config.Logger.Error("failed to persist daily usage reset", billing.F("error", err))
		config.Metrics.RecordDailyReset("failed")
	})
	return t, nil
}

// DailyLimit returns the configured free-tier cap.
func (t *Tracker) DailyLimit() int64 {
	return t.config.DailyLimit
}

// TodayStart returns local midnight of the day containing now.
func (t *Tracker) TodayStart(now time.Time) time.Time {
	local := now.In(t.config.Location)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.config.Location)
}

// effectiveDaily returns the stored daily count, or zero when it was last reset before todayStart.
func (t *Tracker) effectiveDaily(rec *billing.UserBillingRecord, todayStart time.Time) int64 {
	if rec.LastAPICallReset == nil || rec.LastAPICallReset.Before(todayStart) {
		return 0
	}
	return rec.APICallCountDaily
}

func (t *Tracker) load(ctx context.Context, userID string) (*billing.UserBillingRecord, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	start := time.Now()
	rec, err := t.store.FindByUserID(ctx, userID)
	t.config.Metrics.RecordStorageOperation("find_user", time.Since(start), err)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to load user %s: %w", billing.ErrStorage, userID, err)
	}
	return rec, nil
}

// Increment records one billable call for userID.
//
// The total counter always moves. The daily counter moves for premium users,
// and for free users while the effective daily count is under the cap. Both are
// written in a single atomic increment; concurrent calls near the cap may
// overshoot it slightly.
func (t *Tracker) Increment(ctx context.Context, userID string) (*IncrementResult, error) {
	rec, err := t.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &IncrementResult{Premium: rec.IsPremium()}
	effective := t.effectiveDaily(rec, t.TodayStart(t.config.Clock.Now()))
	res.DailyCounted = res.Premium || effective < t.config.DailyLimit
	res.LimitReached = !res.DailyCounted
	res.EffectiveDaily = effective

	incs := []billing.CounterIncrement{billing.Inc(billing.CounterTotal, 1)}
	if res.DailyCounted {
		incs = append(incs, billing.Inc(billing.CounterDaily, 1))
		res.EffectiveDaily++
	}

	start := time.Now()
	err = t.store.AtomicIncrement(ctx, userID, incs...)
	t.config.Metrics.RecordStorageOperation("increment", time.Since(start), err)
	if err != nil {
		t.config.Logger.Error("failed to increment usage", billing.F("user_id", userID), billing.F("error", err))
		if errors.Is(err, billing.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to increment usage for user %s: %w", billing.ErrStorage, userID, err)
	}

	plan := planFree
	if res.Premium {
		plan = planPremium
	}
	t.config.Metrics.RecordIncrement(plan, res.DailyCounted)
	if res.LimitReached {
		t.config.Metrics.RecordLimitReached()
		t.config.Logger.Info("daily api limit reached",
			billing.F("user_id", userID),
			billing.F("daily_count", effective),
			billing.F("limit", t.config.DailyLimit))
	}
	return res, nil
}

// Profile returns the quota view of userID. A counter from a previous day is
// reported as zero immediately and its reset is persisted in the background;
// use Flush to wait for it.
func (t *Tracker) Profile(ctx context.Context, userID string) (*Profile, error) {
	rec, err := t.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := t.config.Clock.Now()
	p := &Profile{
		UserID:                rec.UserID,
		Premium:               rec.IsPremium(),
		Status:                rec.SubscriptionStatus,
		PlanID:                rec.PaddlePlanID,
		EndsAt:                rec.SubscriptionEndsAt,
		CancellationScheduled: rec.CancellationScheduled,
		MemberSince:           rec.CreatedAt,
		DailyCount:            rec.APICallCountDaily,
		TotalCount:            rec.APICallCountTotal,
	}
	if !p.Premium {
		limit := t.config.DailyLimit
		p.DailyLimit = &limit
	}

	if rec.LastAPICallReset == nil || rec.LastAPICallReset.Before(t.TodayStart(now)) {
		p.DailyCount = 0
		p.ResetScheduled = t.scheduleReset(userID, now)
	}
	return p, nil
}

func (t *Tracker) scheduleReset(userID string, now time.Time) bool {
	job := resetJob(t.store, userID, now)
	err := t.resets.Enqueue(func(ctx context.Context) error {
		if err := job(ctx); err != nil {
			return fmt.Errorf("reset daily usage for user %s: %w", userID, err)
		}
		t.config.Metrics.RecordDailyReset("persisted")
		return nil
	})
	if err != nil {
		t.config.Logger.Warn("daily usage reset not scheduled", billing.F("user_id", userID), billing.F("error", err))
		t.config.Metrics.RecordDailyReset("dropped")
		return false
	}
	t.config.Metrics.RecordDailyReset("scheduled")
	return true
}

// Flush waits for every background reset scheduled so far.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.resets.Flush(ctx)
}

// Close stops the reset worker after draining pending resets.
func (t *Tracker) Close() error {
	return t.resets.Close()
}
