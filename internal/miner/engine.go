package miner

import (
	"bytes"
	"context"
	"runtime"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gosw/internal/bitcoin"
	"github.com/bardlex/gosw/internal/messaging"
	"github.com/bardlex/gosw/internal/stratum"
	"github.com/bardlex/gosw/pkg/log"
)

const (
	// scanBatch is how many nonces the scan runs between checks of whether a
	// flush is due
	scanBatch = 100_000
	// statsFlushInterval is the minimum number of nonces between flushing
	// local counters into the registry and probing connection liveness. The
	// check runs at batch boundaries, so with the default batch a flush
	// happens every 400_000 nonces.
	statsFlushInterval = 350_000
	// shareQueueCapacity bounds the miner-to-submitter queue
	shareQueueCapacity = 10
	// reconnectDelay is the pause between sessions after a failure
	reconnectDelay = 3 * time.Second
)

// Engine owns one pool connection and drives the scan loop for it. The miner
// goroutine is the only reader of the socket; the submitter it spawns is the
// only writer. Between the two sits a bounded queue of owned ShareCandidates.
type Engine struct {
	id     int
	client *stratum.Client
	stats  *Registry
	events *messaging.Publisher
	logger *log.Logger

	pinOSThread bool

	// scan cadence and reconnect pacing, overridable in tests
	batch      uint64
	flushEvery uint64
	retryDelay time.Duration
}

// New creates an engine bound to one pool client
func New(id int, client *stratum.Client, stats *Registry, events *messaging.Publisher, logger *log.Logger, pinOSThread bool) *Engine {
	return &Engine{
		id:          id,
		client:      client,
		stats:       stats,
		events:      events,
		logger:      logger.WithWorker(id),
		pinOSThread: pinOSThread,
		batch:       scanBatch,
		flushEvery:  statsFlushInterval,
		retryDelay:  reconnectDelay,
	}
}

// Run mines until the context is canceled, reconnecting with a fixed delay
// whenever a session dies.
func (e *Engine) Run(ctx context.Context) {
	if e.pinOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	for ctx.Err() == nil {
		e.session(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.retryDelay):
		}
	}
}

// session runs one connection lifetime: connect, handshake, spawn the
// submitter, then alternate job reads and scans until something breaks.
// Teardown order is fixed: the submitter drains and stops before the socket
// closes.
func (e *Engine) session(ctx context.Context) {
	if err := e.client.Connect(ctx); err != nil {
		e.logger.WithError(err).Warn("connect failed")
		return
	}
	defer e.client.Close()

	if err := e.client.Handshake(); err != nil {
		e.logger.WithError(err).Warn("handshake failed")
		return
	}

	shareQueue := make(chan *bitcoin.ShareCandidate, shareQueueCapacity)
	sub := &submitter{
		id:     e.id,
		sink:   e.client,
		events: e.events,
		logger: e.logger.WithComponent("submitter"),
	}
	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		sub.run(ctx, shareQueue)
	}()
	defer func() {
		close(shareQueue)
		<-subDone
	}()

	for ctx.Err() == nil {
		job, err := e.client.NextJob()
		if err != nil {
			e.logger.WithError(err).Warn("job read failed, ending session")
			return
		}
		if job == nil {
			continue
		}

		e.stats.AddTemplate()

		extranonce2, err := bitcoin.RandomExtranonce2(e.client.Extranonce2Size)
		if err != nil {
			e.logger.WithError(err).Warn("extranonce2 draw failed, skipping job")
			continue
		}

		work, err := bitcoin.BuildHeader(job, e.client.Extranonce1, extranonce2)
		if err != nil {
			e.logger.WithJob(job.ID).WithError(err).Warn("header build failed, skipping job")
			continue
		}

		target, err := bitcoin.DecodeTarget(job.NBits)
		if err != nil {
			e.logger.WithJob(job.ID).WithError(err).Warn("target decode failed, skipping job")
			continue
		}

		e.scan(ctx, work, target, shareQueue)
	}
}

// scan walks the 32-bit nonce space for one job. Local counters batch into
// the registry at the first batch boundary after at least flushEvery nonces,
// where connection liveness is also probed. A full-target hit ends the scan so the session loop re-reads the
// job stream; nonce exhaustion just returns to wait for the next notify.
func (e *Engine) scan(ctx context.Context, work *bitcoin.HeaderWork, target *bitcoin.Target, shareQueue chan<- *bitcoin.ShareCandidate) {
	var localHashes, localHalf, localShares int64
	defer func() {
		if localHashes > 0 {
			e.stats.AddBatch(localHashes, localHalf, localShares)
		}
	}()

	var sinceFlush uint64

	for nonce := uint64(0); nonce <= 0xFFFFFFFF; {
		batchEnd := nonce + e.batch
		if batchEnd > 0x100000000 {
			batchEnd = 0x100000000
		}

		for ; nonce < batchEnd; nonce++ {
			pass, hash := bitcoin.FinalRounds(&work.Mid, work.Tail, uint32(nonce))
			localHashes++
			if !pass {
				continue
			}

			// The prefilter passing means the last 16 digest bits are zero:
			// at least a half-share.
			localHalf++

			if hash[28]|hash[29]|hash[30]|hash[31] != 0 {
				continue
			}

			// 32-bit share or better
			localShares++
			share := &bitcoin.ShareCandidate{
				JobID:       work.JobID,
				Extranonce2: work.Extranonce2,
				NTime:       work.NTime,
				Nonce:       uint32(nonce),
				Class:       bitcoin.ClassShare,
				Hash:        hash,
			}

			if target.MeetsTarget(&hash) {
				share.Class = bitcoin.ClassValid
				e.stats.RecordBlockFound()
				e.stats.AddBatch(localHashes, localHalf, localShares)
				localHashes, localHalf, localShares = 0, 0, 0

				e.logBlockFound(work, share)
				e.enqueueShare(ctx, shareQueue, share)
				return
			}

			e.enqueueShare(ctx, shareQueue, share)
		}

		sinceFlush += e.batch
		if sinceFlush >= e.flushEvery {
			sinceFlush = 0
			e.stats.AddBatch(localHashes, localHalf, localShares)
			localHashes, localHalf, localShares = 0, 0, 0

			if ctx.Err() != nil || !e.client.Alive() {
				return
			}
			runtime.Gosched()
		}
	}

	e.logger.WithJob(work.JobID).Debug("nonce space exhausted, waiting for next job")
}

// enqueueShare hands a candidate to the submitter. Half and 32-bit shares
// drop when the queue is full - mining never blocks for them - but a Valid
// candidate waits: a block solution must not be lost to a busy queue.
func (e *Engine) enqueueShare(ctx context.Context, shareQueue chan<- *bitcoin.ShareCandidate, share *bitcoin.ShareCandidate) {
	if share.Class == bitcoin.ClassValid {
		select {
		case shareQueue <- share:
		case <-ctx.Done():
		}
		return
	}

	select {
	case shareQueue <- share:
	default:
		e.stats.AddDroppedShare()
		e.logger.WithJob(share.JobID).Warn("share queue full, dropping share",
			"nonce", share.NonceHex())
	}
}

// logBlockFound reports the canonical block hash of a full-target solution.
// The swapped scan header is rebuilt into wire form with the winning nonce so
// the logged hash matches what explorers will show.
func (e *Engine) logBlockFound(work *bitcoin.HeaderWork, share *bitcoin.ShareCandidate) {
	serialized := work.Header
	serialized[76] = byte(share.Nonce)
	serialized[77] = byte(share.Nonce >> 8)
	serialized[78] = byte(share.Nonce >> 16)
	serialized[79] = byte(share.Nonce >> 24)

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(serialized[:])); err != nil {
		e.logger.WithError(err).Error("failed to decode winning header")
		return
	}

	e.logger.LogBlockFound(header.BlockHash().String(), share.JobID, share.NonceHex())
}
