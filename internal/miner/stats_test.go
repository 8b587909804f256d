package miner

import (
	"sync"
	"testing"
	"time"
)

func TestRegistry_CountersAccumulate(t *testing.T) {
	r := NewRegistry()

	r.AddTemplate()
	r.AddTemplate()
	r.AddBatch(350000, 5, 1)
	r.AddBatch(150000, 2, 0)
	r.AddDroppedShare()

	snap := r.Snapshot()
	if snap.Templates != 2 {
		t.Errorf("Templates = %d, want 2", snap.Templates)
	}
	if snap.Hashes != 500000 {
		t.Errorf("Hashes = %d, want 500000", snap.Hashes)
	}
	if snap.HalfShares != 7 {
		t.Errorf("HalfShares = %d, want 7", snap.HalfShares)
	}
	if snap.Shares != 1 {
		t.Errorf("Shares = %d, want 1", snap.Shares)
	}
	if snap.DroppedShares != 1 {
		t.Errorf("DroppedShares = %d, want 1", snap.DroppedShares)
	}
	if snap.BlockFound {
		t.Error("BlockFound = true with no valid recorded")
	}
}

func TestRegistry_MonotonicBetweenSnapshots(t *testing.T) {
	r := NewRegistry()

	prev := r.Snapshot()
	for i := 0; i < 50; i++ {
		r.AddBatch(1000, 1, 0)
		snap := r.Snapshot()
		if snap.Hashes < prev.Hashes || snap.HalfShares < prev.HalfShares {
			t.Fatalf("counters regressed without a reset: %+v -> %+v", prev, snap)
		}
		prev = snap
	}
}

func TestRegistry_OverflowReset(t *testing.T) {
	r := NewRegistry()

	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	r.sessionStart = base

	r.AddBatch(overflowSentinel, 10, 3)

	snap := r.Snapshot()
	if snap.Hashes != 0 {
		t.Errorf("Hashes after overflow = %d, want 0", snap.Hashes)
	}
	if snap.HalfShares != 0 || snap.Shares != 0 || snap.Templates != 0 {
		t.Errorf("all counters must reset together: %+v", snap)
	}
	if !snap.SessionStart.Equal(base) {
		t.Errorf("SessionStart = %v, want rebased to %v", snap.SessionStart, base)
	}
	if !snap.At.Equal(snap.SessionStart) {
		t.Error("snapshot time must equal the rebased session start")
	}
}

func TestRegistry_HourlyReset(t *testing.T) {
	r := NewRegistry()

	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	current := base
	r.now = func() time.Time { return current }
	r.sessionStart = base

	r.AddBatch(12345, 1, 0)

	// Under an hour: counters hold.
	current = base.Add(59 * time.Minute)
	if snap := r.Snapshot(); snap.Hashes != 12345 {
		t.Errorf("Hashes before the hour = %d, want 12345", snap.Hashes)
	}

	// Past an hour: reset and rebase.
	current = base.Add(61 * time.Minute)
	snap := r.Snapshot()
	if snap.Hashes != 0 {
		t.Errorf("Hashes past the hour = %d, want 0", snap.Hashes)
	}
	if !snap.SessionStart.Equal(current) {
		t.Errorf("SessionStart = %v, want %v", snap.SessionStart, current)
	}
}

func TestRegistry_BlockFoundSurvivesReset(t *testing.T) {
	r := NewRegistry()

	r.RecordBlockFound()
	first := r.Snapshot()
	if !first.BlockFound || first.Valids != 1 {
		t.Fatalf("block not recorded: %+v", first)
	}
	if first.BlockFoundTime.IsZero() {
		t.Error("BlockFoundTime must be set")
	}

	r.AddBatch(overflowSentinel, 0, 0)
	snap := r.Snapshot()
	if snap.Valids != 0 {
		t.Errorf("Valids after reset = %d, want 0", snap.Valids)
	}
	if !snap.BlockFound {
		t.Error("BlockFound flag must survive the counter reset")
	}
}

func TestRegistry_ContainmentInvariant(t *testing.T) {
	r := NewRegistry()

	// Flushes always carry hashes >= halfshares >= shares; valids arrive via
	// RecordBlockFound alongside a share flush.
	r.AddBatch(100000, 4, 1)
	r.RecordBlockFound()
	r.AddBatch(50000, 1, 1)

	snap := r.Snapshot()
	if !(snap.Valids <= snap.Shares && snap.Shares <= snap.HalfShares && snap.HalfShares <= snap.Hashes) {
		t.Errorf("containment violated: valids=%d shares=%d half=%d hashes=%d",
			snap.Valids, snap.Shares, snap.HalfShares, snap.Hashes)
	}
}

func TestRegistry_ConcurrentFlushes(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.AddBatch(10, 1, 0)
			}
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	if snap.Hashes != 80000 {
		t.Errorf("Hashes = %d, want 80000", snap.Hashes)
	}
	if snap.HalfShares != 8000 {
		t.Errorf("HalfShares = %d, want 8000", snap.HalfShares)
	}
}
