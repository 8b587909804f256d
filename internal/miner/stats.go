// Package miner drives the nonce scan: it pulls jobs from the pool client,
// builds headers, runs the hash kernel over the nonce space, classifies hits,
// and hands shares to a submitter goroutine. Half and 32-bit shares never
// block the scan; only a full-target (Valid) candidate waits for queue space.
package miner

import (
	"sync"
	"time"
)

// overflowSentinel caps the mining counters; reaching it triggers a
// bookkeeping reset so derived rates stay meaningful over very long sessions.
const overflowSentinel = 65_536_000

// maxSessionAge rebases the counters and session start after an hour
const maxSessionAge = time.Hour

// Snapshot is a point-in-time copy of the shared counters
type Snapshot struct {
	Templates     int64
	Hashes        int64
	HalfShares    int64
	Shares        int64
	Valids        int64
	DroppedShares int64

	BlockFound     bool
	BlockFoundTime time.Time

	SessionStart time.Time
	At           time.Time
}

// Registry is the process-wide statistics block. Miner goroutines flush
// batched local counters into it; the telemetry reporter and any dashboard
// read it through Snapshot. All mutation happens under one mutex.
type Registry struct {
	mu sync.Mutex

	templates     int64
	hashes        int64
	halfShares    int64
	shares        int64
	valids        int64
	droppedShares int64

	blockFound     bool
	blockFoundTime time.Time

	sessionStart time.Time

	now func() time.Time
}

// NewRegistry creates a registry with the session clock started
func NewRegistry() *Registry {
	r := &Registry{now: time.Now}
	r.sessionStart = r.now()
	return r
}

// AddTemplate counts one received job template
func (r *Registry) AddTemplate() {
	r.mu.Lock()
	r.templates++
	r.mu.Unlock()
}

// AddBatch flushes one scan batch of local counters
func (r *Registry) AddBatch(hashes, halfShares, shares int64) {
	r.mu.Lock()
	r.hashes += hashes
	r.halfShares += halfShares
	r.shares += shares
	r.mu.Unlock()
}

// AddDroppedShare counts a share lost to a full queue
func (r *Registry) AddDroppedShare() {
	r.mu.Lock()
	r.droppedShares++
	r.mu.Unlock()
}

// RecordBlockFound latches the block celebration state and counts the valid.
// The flag survives counter resets; finding a block is worth remembering.
func (r *Registry) RecordBlockFound() {
	r.mu.Lock()
	r.valids++
	r.blockFound = true
	r.blockFoundTime = r.now()
	r.mu.Unlock()
}

// Snapshot copies the counters, applying the overflow reset first: when any
// of templates, hashes, half-shares, shares or valids reaches the sentinel,
// or the session exceeds an hour, all counters (dropped shares included)
// zero and the session start rebases to now.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.overflowedLocked() || now.Sub(r.sessionStart) > maxSessionAge {
		r.templates = 0
		r.hashes = 0
		r.halfShares = 0
		r.shares = 0
		r.valids = 0
		r.droppedShares = 0
		r.sessionStart = now
	}

	return Snapshot{
		Templates:      r.templates,
		Hashes:         r.hashes,
		HalfShares:     r.halfShares,
		Shares:         r.shares,
		Valids:         r.valids,
		DroppedShares:  r.droppedShares,
		BlockFound:     r.blockFound,
		BlockFoundTime: r.blockFoundTime,
		SessionStart:   r.sessionStart,
		At:             now,
	}
}

func (r *Registry) overflowedLocked() bool {
	for _, c := range []int64{r.templates, r.hashes, r.halfShares, r.shares, r.valids} {
		if c >= overflowSentinel {
			return true
		}
	}
	return false
}
