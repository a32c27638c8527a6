package outbox

import "time"

// Metrics captures relay-level telemetry.
type Metrics interface {
	// ObserveCycleDuration records the time to process one claimed batch.
	ObserveCycleDuration(duration time.Duration)
	// AddDelivered increments the count of fully delivered events.
	AddDelivered(count int)
	// AddRetried increments the count of events scheduled for another attempt.
	AddRetried(count int)
	// AddPermanentFailures increments the count of events past the attempt ceiling.
	AddPermanentFailures(count int)
	// SetPending updates the current undelivered event backlog.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveCycleDuration implements Metrics.
func (NopMetrics) ObserveCycleDuration(time.Duration) {}

// AddDelivered implements Metrics.
func (NopMetrics) AddDelivered(int) {}

// AddRetried implements Metrics.
func (NopMetrics) AddRetried(int) {}

// AddPermanentFailures implements Metrics.
func (NopMetrics) AddPermanentFailures(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
