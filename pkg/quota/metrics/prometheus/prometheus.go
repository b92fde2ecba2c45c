package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/paddlequota/pkg/quota"
)

// Metrics implements quota.Metrics using Prometheus.
type Metrics struct {
	incrementsTotal            *prometheus.CounterVec
	limitReachedTotal          prometheus.Counter
	dailyResetsTotal           *prometheus.CounterVec
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		incrementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "api_calls_total",
			Help:      "Total number of billable API calls.",
		}, []string{"plan", "daily_counted"}),

		limitReachedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "daily_limit_reached_total",
			Help:      "Total number of calls made after the daily limit was reached.",
		}),

		dailyResetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "daily_resets_total",
			Help:      "Total number of read-path daily usage resets, by status.",
		}, []string{"status"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordIncrement(plan string, dailyCounted bool) {
	m.incrementsTotal.WithLabelValues(plan, strconv.FormatBool(dailyCounted)).Inc()
}

func (m *Metrics) RecordLimitReached() {
	m.limitReachedTotal.Inc()
}

func (m *Metrics) RecordDailyReset(status string) {
	m.dailyResetsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) quota.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
