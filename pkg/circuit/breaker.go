// Package circuit provides a circuit breaker for the worker's optional
// sinks, so a dead broker or telemetry endpoint can never back-pressure the
// mining loop. Failure counting is consecutive: any success while closed
// clears the streak, and opening requires an unbroken run of failures.
package circuit

import (
	"sync"
	"time"

	"github.com/bardlex/gosw/pkg/errors"
)

// probeQuorum is how many consecutive probe successes close a half-open
// breaker again.
const probeQuorum = 2

// State represents the breaker state
type State int

const (
	// StateClosed - calls pass through
	StateClosed State = iota
	// StateOpen - calls are rejected without running
	StateOpen
	// StateHalfOpen - probe calls are allowed to test recovery
	StateHalfOpen
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips open after a run of consecutive failures and probes again
// once the cooldown has passed.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	state    State
	streak   int // consecutive failures while closed, probe successes while half-open
	openedAt time.Time
}

// New creates a breaker that opens after maxFailures consecutive failures
// and allows a probe after cooldown.
func New(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// Execute runs fn unless the breaker is open, and feeds the result back into
// the state machine.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return errors.New(errors.ErrorTypeInternal, "circuit_breaker",
			"circuit breaker is open").
			WithContext("state", b.State().String())
	}

	err := fn()
	b.observe(err)
	return err
}

// allow reports whether a call may proceed, moving an expired open breaker
// to half-open on the way.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) <= b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.streak = 0
	}
	return true
}

// observe advances the state machine with one call result
func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err == nil {
			b.streak = 0
			return
		}
		b.streak++
		if b.streak >= b.maxFailures {
			b.trip()
		}

	case StateHalfOpen:
		if err != nil {
			b.trip()
			return
		}
		b.streak++
		if b.streak >= probeQuorum {
			b.state = StateClosed
			b.streak = 0
		}

	case StateOpen:
		// A call that started before the trip finished late; nothing to do.
	}
}

// trip opens the breaker and restarts the cooldown clock
func (b *Breaker) trip() {
	b.state = StateOpen
	b.streak = 0
	b.openedAt = time.Now()
}

// State returns the current breaker state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
