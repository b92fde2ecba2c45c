package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing a probe (default: 30s)
	ResetTimeout time.Duration

	// IsFailure classifies errors. Errors for which it returns false, such as
	// billing.ErrUserNotFound by default, do not count towards opening the circuit.
	IsFailure func(error) bool

	// OnStateChange is called after every transition.
	OnStateChange func(state CircuitBreakerState)

	// Clock overrides time.Now.
	Clock billing.Clock
}

// CircuitBreaker defines the interface for a circuit breaker.
type CircuitBreaker interface {
	// Execute executes the given function within the circuit breaker.
	Execute(ctx context.Context, fn func() error) error
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker opens after FailureThreshold consecutive failures and
// lets a single probe through once ResetTimeout has elapsed.
type DefaultCircuitBreaker struct {
	mu sync.Mutex

	config              CircuitBreakerConfig
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewDefaultCircuitBreaker creates a new default circuit breaker.
func NewDefaultCircuitBreaker(config CircuitBreakerConfig) *DefaultCircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = isInfrastructureError
	}
	if config.Clock == nil {
		config.Clock = billing.SystemClock{}
	}
	return &DefaultCircuitBreaker{config: config, state: StateClosed}
}

func isInfrastructureError(err error) bool {
	return !errors.Is(err, billing.ErrUserNotFound) &&
		!errors.Is(err, billing.ErrUserExists) &&
		!errors.Is(err, context.Canceled)
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *DefaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && cb.config.Clock.Now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *DefaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	if !cb.acquire() {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err != nil && cb.config.IsFailure(err) {
		cb.recordFailure()
		return err
	}
	cb.consecutiveFailures = 0
	cb.changeState(StateClosed)
	return err
}

// acquire reports whether a call may proceed. In half-open state only one probe runs at a time.
func (cb *DefaultCircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		cb.changeState(StateHalfOpen)
	}
	return true
}

func (cb *DefaultCircuitBreaker) recordFailure() {
	cb.consecutiveFailures++
	if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.openedAt = cb.config.Clock.Now()
		cb.changeState(StateOpen)
	}
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(newState)
		}
	}
}
