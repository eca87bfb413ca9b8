package pulsar

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes the wait before the next retry attempt. It receives
// the 1-based attempt number and the previous wait, allowing jitter or
// server-hinted strategies.
type BackoffPolicy func(attempt int, previous time.Duration) time.Duration

// DefaultBackoffPolicy doubles the wait on every attempt, starting at
// initial and capped at max, with up to 20% random jitter.
func DefaultBackoffPolicy(initial, max time.Duration) BackoffPolicy {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return func(attempt int, previous time.Duration) time.Duration {
		next := initial
		if attempt > 1 {
			next = previous * 2
		}
		if next > max {
			next = max
		}
		jitter := time.Duration(rand.Int63n(int64(next)/5 + 1))
		return next + jitter
	}
}

// backoff tracks retry attempts against a BackoffPolicy.
type backoff struct {
	policy   BackoffPolicy
	attempt  int
	previous time.Duration
}

func newBackoff(policy BackoffPolicy) *backoff {
	if policy == nil {
		policy = DefaultBackoffPolicy(0, 0)
	}
	return &backoff{policy: policy}
}

// next returns the wait before the upcoming attempt.
func (b *backoff) next() time.Duration {
	b.attempt++
	b.previous = b.policy(b.attempt, b.previous)
	return b.previous
}

// reset clears the attempt counter after a success.
func (b *backoff) reset() {
	b.attempt = 0
	b.previous = 0
}
