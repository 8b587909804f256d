package telemetry

import (
	"context"
	"time"

	"github.com/bardlex/gosw/internal/messaging"
	"github.com/bardlex/gosw/internal/miner"
	"github.com/bardlex/gosw/pkg/log"
)

// Reporter periodically snapshots the stats registry, derives the hashrate
// from consecutive snapshots, and fans the result out to every configured
// sink. It is the only reader the registry needs.
type Reporter struct {
	instance string
	stats    *miner.Registry
	influx   *InfluxSink
	redis    *RedisSink
	events   *messaging.Publisher
	logger   *log.Logger
	interval time.Duration

	prev    miner.Snapshot
	hasPrev bool
}

// NewReporter wires the reporter to its sinks; any sink may be nil
func NewReporter(instance string, stats *miner.Registry, influx *InfluxSink, redis *RedisSink, events *messaging.Publisher, logger *log.Logger, interval time.Duration) *Reporter {
	return &Reporter{
		instance: instance,
		stats:    stats,
		influx:   influx,
		redis:    redis,
		events:   events,
		logger:   logger.WithComponent("telemetry"),
		interval: interval,
	}
}

// Run reports until the context is canceled
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	snap := r.stats.Snapshot()
	hashrate := r.hashrate(snap)

	r.influx.WriteSnapshot(r.instance, snap, hashrate)

	if err := r.redis.PublishHeartbeat(ctx, r.instance, snap, hashrate); err != nil {
		r.logger.WithError(err).Warn("redis heartbeat failed")
	}

	event := &messaging.WorkerStatsEvent{
		Instance:   r.instance,
		Templates:  snap.Templates,
		Hashes:     snap.Hashes,
		HalfShares: snap.HalfShares,
		Shares:     snap.Shares,
		Valids:     snap.Valids,
		Hashrate:   hashrate,
		Uptime:     snap.At.Sub(snap.SessionStart).Seconds(),
		SnappedAt:  snap.At,
	}
	if err := r.events.PublishWorkerStats(ctx, event); err != nil {
		r.logger.WithError(err).Warn("stats event publish failed")
	}

	r.logger.Debug("stats reported",
		"hashrate", hashrate,
		"hashes", snap.Hashes,
		"half_shares", snap.HalfShares,
		"shares", snap.Shares,
		"valids", snap.Valids,
	)

	r.prev = snap
	r.hasPrev = true
}

// hashrate derives hashes per second between consecutive snapshots. Across a
// counter reset the delta goes negative, so the session average since the
// rebased start is used instead.
func (r *Reporter) hashrate(snap miner.Snapshot) float64 {
	if r.hasPrev && snap.Hashes >= r.prev.Hashes {
		elapsed := snap.At.Sub(r.prev.At).Seconds()
		if elapsed > 0 {
			return float64(snap.Hashes-r.prev.Hashes) / elapsed
		}
	}

	elapsed := snap.At.Sub(snap.SessionStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(snap.Hashes) / elapsed
}
