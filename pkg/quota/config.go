package quota

import (
	"fmt"
	"time"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// DefaultDailyLimit is the free-tier daily cap used when none is configured.
const DefaultDailyLimit = 100

// Config holds the quota tracker configuration.
type Config struct {
	// DailyLimit is the number of calls a non-premium user may make per day.
	// Zero is a valid cap; start from DefaultConfig to get DefaultDailyLimit.
	DailyLimit int64

	// Location defines "today" for the daily reset (default: time.Local)
	Location *time.Location

	// Logger is used for structured logging (default: NoopLogger)
	Logger billing.Logger

	// Metrics is used for tracking quota operations (default: NoopMetrics)
	Metrics Metrics

	// Clock overrides time.Now
	Clock billing.Clock

	// ResetQueueSize is the buffer of pending background resets (default: 1000)
	ResetQueueSize int

	// ResetTimeout bounds each background reset write (default: 5s)
	ResetTimeout time.Duration
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{DailyLimit: DefaultDailyLimit}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Logger == nil {
		c.Logger = &billing.NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	if c.Clock == nil {
		c.Clock = billing.SystemClock{}
	}
	if c.ResetQueueSize <= 0 {
		c.ResetQueueSize = 1000
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 5 * time.Second
	}
	return c
}

// Validate reports an unusable configuration.
func (c Config) Validate() error {
	if c.DailyLimit < 0 {
		return fmt.Errorf("%w: daily limit must not be negative, got %d", ErrInvalidConfig, c.DailyLimit)
	}
	return nil
}
