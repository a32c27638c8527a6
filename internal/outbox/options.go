package outbox

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = time.Second
	defaultWorkers         = 1
	defaultLeaseDuration   = 30 * time.Second
	defaultMaxAttempts     = 10
	defaultRetryBackoff    = time.Second
	defaultMaxRetryDelay   = 5 * time.Minute
	defaultDeliveryTimeout = 10 * time.Second
	defaultPendingCheck    = 0
)

// RelayConfig defines how the Relay polls, claims, and delivers events.
type RelayConfig struct {
	BatchSize       int
	PollInterval    time.Duration
	Workers         int
	LeaseDuration   time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	MaxRetryDelay   time.Duration
	DeliveryTimeout time.Duration
	PendingInterval time.Duration
	Clock           clockwork.Clock
	Logger          zerolog.Logger
	Metrics         Metrics
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = defaultMaxRetryDelay
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = defaultDeliveryTimeout
	}
	if c.PendingInterval <= 0 {
		c.PendingInterval = defaultPendingCheck
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// RelayOption configures Relay behavior.
type RelayOption func(*RelayConfig)

// WithBatchSize sets the number of events claimed per cycle.
func WithBatchSize(size int) RelayOption {
	return func(c *RelayConfig) {
		c.BatchSize = size
	}
}

// WithPollInterval sets the delay between empty polls.
func WithPollInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.PollInterval = interval
	}
}

// WithWorkers sets the number of concurrent polling workers.
func WithWorkers(count int) RelayOption {
	return func(c *RelayConfig) {
		c.Workers = count
	}
}

// WithLeaseDuration sets how long a claim stays exclusive before other
// workers may reclaim the event.
func WithLeaseDuration(lease time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.LeaseDuration = lease
	}
}

// WithMaxAttempts sets the attempt ceiling before an event is surfaced as a
// permanent failure.
func WithMaxAttempts(attempts int) RelayOption {
	return func(c *RelayConfig) {
		c.MaxAttempts = attempts
	}
}

// WithRetryBackoff sets the base delay for exponential retry backoff.
func WithRetryBackoff(base time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.RetryBackoff = base
	}
}

// WithMaxRetryDelay caps the exponential retry delay.
func WithMaxRetryDelay(maxDelay time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.MaxRetryDelay = maxDelay
	}
}

// WithDeliveryTimeout bounds each per-endpoint network call.
func WithDeliveryTimeout(timeout time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.DeliveryTimeout = timeout
	}
}

// WithPendingInterval sets the minimum interval between pending backlog
// samples. Zero keeps sampling disabled, which is the default.
func WithPendingInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.PendingInterval = interval
	}
}

// WithClock sets the relay clock.
func WithClock(clock clockwork.Clock) RelayOption {
	return func(c *RelayConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the relay logger.
func WithLogger(logger zerolog.Logger) RelayOption {
	return func(c *RelayConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the relay metrics recorder.
func WithMetrics(metrics Metrics) RelayOption {
	return func(c *RelayConfig) {
		c.Metrics = metrics
	}
}
