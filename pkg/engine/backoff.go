package engine

import "time"

// Backoff schedules are pure functions of the attempt number and error
// category so the policy stays independently testable and is never
// embedded in the control loop.

const (
	// baseDelay is the first-attempt delay for exponential categories.
	baseDelay = 1 * time.Second

	// maxDelay caps exponential growth.
	maxDelay = 60 * time.Second

	// resourceCooldown is the single-retry delay for resource errors.
	resourceCooldown = 10 * time.Second
)

// quotaLadder is the progressive fixed-delay schedule for rate limiting,
// independent of the generic backoff curve.
var quotaLadder = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}

// Delay returns the backoff delay before retry number attempt+1, given that
// attempt attempts have already failed with the given category. The result
// is deterministic; see WithJitter.
func Delay(category Category, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	switch category {
	case CategoryQuotaRateLimit:
		idx := attempt - 1
		if idx >= len(quotaLadder) {
			idx = len(quotaLadder) - 1
		}
		return quotaLadder[idx]
	case CategoryTimeout:
		// The retry runs under an enlarged timeout budget instead of
		// waiting; see Engine.migrateTable.
		return 0
	case CategoryResourceError:
		return resourceCooldown
	default:
		d := baseDelay << (attempt - 1)
		if d > maxDelay || d <= 0 {
			return maxDelay
		}
		return d
	}
}

// WithJitter spreads a delay across [50%, 150%) using the provided random
// value in [0, 1). Only exponential categories are jittered; fixed ladders
// stay fixed.
func WithJitter(category Category, d time.Duration, random float64) time.Duration {
	switch category {
	case CategoryQuotaRateLimit, CategoryTimeout, CategoryResourceError:
		return d
	default:
		return time.Duration(float64(d) * (0.5 + random))
	}
}
