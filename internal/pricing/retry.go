package pricing

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newRateLimitBackOff returns the exponential sequence base, 2*base, 4*base...
// capped at max, without randomization. Jitter is added separately.
func newRateLimitBackOff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// linearBackOff waits step, 2*step, 3*step... between transient failures
type linearBackOff struct {
	step    time.Duration
	retries int
}

func newLinearBackOff(step time.Duration) *linearBackOff {
	return &linearBackOff{step: step}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.retries++
	return time.Duration(b.retries) * b.step
}

func (b *linearBackOff) Reset() {
	b.retries = 0
}

var _ backoff.BackOff = (*linearBackOff)(nil)

// rateLimitWait combines the exponential step with the server's Retry-After
// hint, both capped at max, then adds jitter
func rateLimitWait(step, retryAfter, max, jitter time.Duration) time.Duration {
	wait := step
	if retryAfter > wait {
		wait = retryAfter
	}
	if max > 0 && wait > max {
		wait = max
	}
	return wait + jitter
}

// uniformJitter returns a random duration in [0, max)
func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
