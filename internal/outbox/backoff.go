package outbox

import (
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt with overflow protection. Negative
// attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(int64(base) * multiplier)
}

// RetryDelay returns the jittered exponential delay before the next delivery
// attempt. The result is in [delay/2, delay) where delay is the capped
// exponential value, so retries spread out without collapsing to zero.
func RetryDelay(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	delay := Exponential(base, attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if delay <= 1 {
		return delay
	}

	half := delay / 2

	return half + rand.N(delay-half)
}
