package graph

import (
	"math/rand"
	"time"
)

// RetryBackoff delays re-invocation of a failed attempt. The zero value
// retries immediately.
//
// Delay for retry n (1-based) is BaseDelay * 2^(n-1), capped at MaxDelay,
// plus up to BaseDelay of jitter.
type RetryBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Validate checks the backoff configuration.
func (b RetryBackoff) Validate() error {
	if b.BaseDelay < 0 || b.MaxDelay < 0 {
		return newEngineError(nil, "INVALID_RETRY_BACKOFF", "delays must not be negative")
	}
	if b.MaxDelay > 0 && b.MaxDelay < b.BaseDelay {
		return newEngineError(nil, "INVALID_RETRY_BACKOFF", "max delay %v is below base delay %v", b.MaxDelay, b.BaseDelay)
	}
	return nil
}

// delay returns the wait before retry number retry. retry 0 is the first
// attempt and never waits.
func (b RetryBackoff) delay(retry int, rng *rand.Rand) time.Duration {
	if retry <= 0 || b.BaseDelay <= 0 {
		return 0
	}
	return computeBackoff(retry-1, b.BaseDelay, b.MaxDelay, rng)
}

func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	exponentialDelay := base * (1 << attempt)
	if maxDelay > 0 && exponentialDelay > maxDelay {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}
	return exponentialDelay + jitter
}
