// Package telemetry exports the worker's statistics to optional sinks: an
// InfluxDB bucket for dashboards, a Redis heartbeat for swarm aggregation,
// and the Kafka stats topic. Every sink is optional and nil-safe; mining
// never depends on any of them.
package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/gosw/internal/miner"
)

// InfluxConfig holds InfluxDB connection configuration
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes counter snapshots as time-series points
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewInfluxSink connects and health-checks InfluxDB. Returns nil when no URL
// is configured; all InfluxSink methods are nil-safe.
func NewInfluxSink(cfg *InfluxConfig) (*InfluxSink, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, nil
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}, nil
}

// WriteSnapshot records one counter snapshot with its derived hashrate.
// Writes batch asynchronously inside the client; errors surface on the
// client's error channel and are dropped - telemetry is best-effort.
func (s *InfluxSink) WriteSnapshot(instance string, snap miner.Snapshot, hashrate float64) {
	if s == nil {
		return
	}

	tags := map[string]string{
		"instance": instance,
	}
	fields := map[string]any{
		"templates":      snap.Templates,
		"hashes":         snap.Hashes,
		"half_shares":    snap.HalfShares,
		"shares":         snap.Shares,
		"valids":         snap.Valids,
		"dropped_shares": snap.DroppedShares,
		"hashrate":       hashrate,
		"uptime_seconds": snap.At.Sub(snap.SessionStart).Seconds(),
	}

	point := write.NewPoint("miner_stats", tags, fields, snap.At)
	s.writeAPI.WritePoint(point)

	if snap.BlockFound {
		blockFields := map[string]any{
			"found_unix": snap.BlockFoundTime.Unix(),
		}
		s.writeAPI.WritePoint(write.NewPoint("block_found", tags, blockFields, snap.At))
	}
}

// Close flushes pending points and shuts the client down
func (s *InfluxSink) Close() {
	if s == nil {
		return
	}
	s.writeAPI.Flush()
	s.client.Close()
}
