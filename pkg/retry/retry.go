// Package retry provides bounded retries with exponential backoff for the
// worker's optional sinks. Mining itself never retries through this package;
// the pool protocol has its own fixed reconnect cadence.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/bardlex/gosw/pkg/errors"
)

// Policy bounds one retried operation. The delay starts at Base, doubles
// every round, and never exceeds Cap; each sleep gets up to 10% jitter so a
// swarm of workers does not hammer a recovering endpoint in lockstep.
type Policy struct {
	Attempts int           // total tries, including the first
	Base     time.Duration // delay before the second try
	Cap      time.Duration // upper bound on any single delay
}

// Network is the policy for short network writes (Kafka publishes)
func Network() Policy {
	return Policy{Attempts: 5, Base: 50 * time.Millisecond, Cap: 2 * time.Second}
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts the
// policy's attempts, or the context ends. Retryability is decided by
// errors.IsRetryable.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Base
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.IsRetryable(err) {
			return err
		}

		if attempt == attempts {
			return errors.Wrap(err, errors.ErrorTypeInternal, "retry",
				"gave up after repeated failures").
				WithContext("attempts", attempts)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}

		delay *= 2
		if delay > p.Cap {
			delay = p.Cap
		}
	}
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(d)/10+1))
}
