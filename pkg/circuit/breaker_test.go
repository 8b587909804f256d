package circuit

import (
	"testing"
	"time"

	"github.com/bardlex/gosw/pkg/errors"
)

func failing() error {
	return errors.New(errors.ErrorTypeKafka, "publish", "broker down")
}

func succeeding() error {
	return nil
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(3, 20*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(failing); err == nil {
			t.Fatal("expected failure")
		}
	}

	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open", cb.State())
	}

	// While open, calls are rejected without running.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if err == nil {
		t.Error("expected rejection while open")
	}
	if called {
		t.Error("function must not run while circuit is open")
	}
}

func TestBreaker_SuccessClearsTheStreak(t *testing.T) {
	cb := New(3, 20*time.Millisecond)

	// Two failures, a success, two more failures: never an unbroken run of
	// three, so the breaker stays closed.
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)
	_ = cb.Execute(succeeding)
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed: the success broke the streak", cb.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cb := New(3, 20*time.Millisecond)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(failing)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	// First probe moves to half-open; quorum of successes closes it.
	for i := 0; i < probeQuorum; i++ {
		if err := cb.Execute(succeeding); err != nil {
			t.Fatalf("probe %d unexpected error: %v", i, err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after recovery", cb.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(3, 20*time.Millisecond)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(failing)
	}

	time.Sleep(30 * time.Millisecond)

	// The probe fails: straight back to open, cooldown restarted.
	_ = cb.Execute(failing)

	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open after failed probe", cb.State())
	}

	called := false
	_ = cb.Execute(func() error { called = true; return nil })
	if called {
		t.Error("cooldown must restart after a failed probe")
	}
}

func TestBreaker_MinimumThreshold(t *testing.T) {
	cb := New(0, 20*time.Millisecond)

	// A zero threshold clamps to one: the first failure trips it.
	_ = cb.Execute(failing)
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open after one failure with clamped threshold", cb.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
