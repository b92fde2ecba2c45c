package billing

import (
	"context"
	"errors"
	"fmt"
)

// Outcome is the result class of applying a BillingEvent.
type Outcome int

const (
	// OutcomeApplied means the event was written to the store.
	OutcomeApplied Outcome = iota
	// OutcomeIgnored means the event needed no write.
	OutcomeIgnored
	// OutcomeRejected means the event lacked the data required for its kind.
	// Rejected events are acknowledged to the provider and never retried.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "rejected"
	}
}

// Rejection reasons. They are returned verbatim to the provider.
const (
	ReasonMissingUserID     = "Missing userId"
	ReasonMissingUpdateData = "Missing subscription data for update"
	ReasonInvalidCancelData = "Missing/Invalid subscription data for cancel"
)

// Result describes what Apply did with an event.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Reconciler applies normalized provider events to persisted subscription state.
//
// Writes are keyed by user id and, for cancellations, guarded by the stored
// subscription id, so replays and out-of-order deliveries are safe: the last
// CREATED/UPDATED event wins, and a stale CANCELED event never clears a newer
// subscription.
type Reconciler struct {
	store   UserStore
	logger  Logger
	metrics Metrics
}

// NewReconciler creates a reconciler over store. Nil logger and metrics are no-ops.
func NewReconciler(store UserStore, logger Logger, metrics Metrics) *Reconciler {
	if logger == nil {
		logger = &NoopLogger{}
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Reconciler{store: store, logger: logger, metrics: metrics}
}

// Apply reconciles ev. A non-nil error always wraps ErrStorage and means the
// event was valid but could not be persisted; the delivery should be retried.
func (r *Reconciler) Apply(ctx context.Context, ev *BillingEvent) (Result, error) {
	if ev == nil || ev.UserID == "" {
		return Result{Outcome: OutcomeRejected, Reason: ReasonMissingUserID}, nil
	}

	var (
		res Result
		err error
	)
	switch ev.Kind {
	case EventCreated, EventUpdated:
		res, err = r.applySubscription(ctx, ev)
	case EventCanceled:
		res, err = r.applyCancellation(ctx, ev)
	default:
		r.logger.Info("billing event acknowledged without reconciliation",
			F("user_id", ev.UserID), F("event_type", ev.EventType))
		res = Result{Outcome: OutcomeIgnored, Reason: "unhandled event type"}
	}

	if err != nil {
		r.metrics.RecordReconciliation(ev.Kind.String(), "error")
		return Result{}, err
	}
	r.metrics.RecordReconciliation(ev.Kind.String(), res.Outcome.String())
	return res, nil
}

func (r *Reconciler) applySubscription(ctx context.Context, ev *BillingEvent) (Result, error) {
	if ev.SubscriptionID == "" || ev.CustomerID == "" || !ev.Status.Known() {
		r.logger.Warn("subscription event missing required data",
			F("user_id", ev.UserID),
			F("event_type", ev.EventType),
			F("subscription_id", ev.SubscriptionID),
			F("customer_id", ev.CustomerID),
			F("status", ev.Status.String()))
		return Result{Outcome: OutcomeRejected, Reason: ReasonMissingUpdateData}, nil
	}

	u := Update{
		PaddleCustomerID:     Set(ev.CustomerID),
		PaddleSubscriptionID: Set(ev.SubscriptionID),
		PaddlePlanID:         Null[string](),
		SubscriptionStatus:   Set(ev.Status),
		SubscriptionEndsAt:   SetPtr(ev.PeriodEndsAt),
	}
	if ev.PlanID != "" {
		u.PaddlePlanID = Set(ev.PlanID)
	}
	// A scheduled cancel keeps the flag as is; the final CANCELED event clears it.
	if ev.ScheduledChangeAction != ScheduledChangeCancel {
		u.CancellationScheduled = Set(false)
	}

	if err := r.store.UpsertByUserID(ctx, ev.UserID, u); err != nil {
		r.logger.Error("failed to persist subscription",
			F("user_id", ev.UserID), F("subscription_id", ev.SubscriptionID), F("error", err))
		return Result{}, fmt.Errorf("%w: upsert subscription for user %s: %w", ErrStorage, ev.UserID, err)
	}

	r.metrics.RecordStatusChange(ev.Status.String())
	r.logger.Info("subscription reconciled",
		F("user_id", ev.UserID),
		F("event_type", ev.EventType),
		F("subscription_id", ev.SubscriptionID),
		F("status", ev.Status.String()))
	return Result{Outcome: OutcomeApplied}, nil
}

func (r *Reconciler) applyCancellation(ctx context.Context, ev *BillingEvent) (Result, error) {
	if ev.SubscriptionID == "" || ev.Status != StatusCanceled {
		r.logger.Warn("cancellation event missing or invalid data",
			F("user_id", ev.UserID),
			F("subscription_id", ev.SubscriptionID),
			F("status", ev.Status.String()))
		return Result{Outcome: OutcomeRejected, Reason: ReasonInvalidCancelData}, nil
	}

	u := Update{
		SubscriptionStatus:    Set(StatusCanceled),
		SubscriptionEndsAt:    SetPtr(ev.PeriodEndsAt),
		CancellationScheduled: Set(false),
		PaddleSubscriptionID:  Null[string](),
		PaddlePlanID:          Null[string](),
	}

	matched, err := r.store.UpdateWhereSubscription(ctx, ev.UserID, ev.SubscriptionID, u)
	if err != nil {
		r.logger.Error("failed to persist cancellation",
			F("user_id", ev.UserID), F("subscription_id", ev.SubscriptionID), F("error", err))
		return Result{}, fmt.Errorf("%w: cancel subscription for user %s: %w", ErrStorage, ev.UserID, err)
	}

	if matched == 0 {
		r.logger.Info("cancellation does not match current subscription",
			F("user_id", ev.UserID), F("subscription_id", ev.SubscriptionID))
		return Result{Outcome: OutcomeIgnored, Reason: "subscription superseded"}, nil
	}

	r.metrics.RecordStatusChange(StatusCanceled.String())
	r.logger.Info("subscription canceled",
		F("user_id", ev.UserID), F("subscription_id", ev.SubscriptionID))
	return Result{Outcome: OutcomeApplied}, nil
}

// ScheduleCancellation marks the user's current subscription as ending at the
// close of its period. Only the local flag is written; the provider is not called.
// The next UPDATED event without a scheduled cancel clears the flag again.
func (r *Reconciler) ScheduleCancellation(ctx context.Context, userID string) error {
	rec, err := r.store.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("%w: load user %s: %w", ErrStorage, userID, err)
	}
	if rec.PaddleSubscriptionID == nil || *rec.PaddleSubscriptionID == "" {
		return ErrNoSubscription
	}
	if rec.SubscriptionStatus != StatusActive && rec.SubscriptionStatus != StatusTrialing {
		return fmt.Errorf("%w: status %s", ErrSubscriptionNotActive, rec.SubscriptionStatus)
	}

	if err := r.store.UpsertByUserID(ctx, userID, Update{CancellationScheduled: Set(true)}); err != nil {
		return fmt.Errorf("%w: schedule cancellation for user %s: %w", ErrStorage, userID, err)
	}
	r.logger.Info("subscription cancellation scheduled",
		F("user_id", userID), F("subscription_id", *rec.PaddleSubscriptionID))
	return nil
}
