package quota

import "time"

// Metrics defines the interface for tracking quota operations and performance.
type Metrics interface {
	// RecordIncrement records a billable call. plan is "premium" or "free";
	// dailyCounted is false when the free-tier limit dropped the daily increment.
	RecordIncrement(plan string, dailyCounted bool)

	// RecordLimitReached records a call made after the daily limit was reached.
	RecordLimitReached()

	// RecordDailyReset records a read-path reset. status is "scheduled",
	// "persisted", "failed" or "dropped".
	RecordDailyReset(status string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordIncrement(plan string, dailyCounted bool)                             {}
func (n *NoopMetrics) RecordLimitReached()                                                        {}
func (n *NoopMetrics) RecordDailyReset(status string)                                             {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
