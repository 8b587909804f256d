package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/gosw/internal/miner"
)

// heartbeatTTL is how long a worker's entry outlives its last heartbeat.
// Aggregators treat an expired key as an offline worker.
const heartbeatTTL = 30 * time.Second

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisSink publishes per-worker heartbeats so a dashboard can aggregate a
// swarm of workers without talking to each one.
type RedisSink struct {
	rdb *redis.Client
}

// NewRedisSink connects and pings Redis. Returns nil when no address is
// configured; all RedisSink methods are nil-safe.
func NewRedisSink(cfg *RedisConfig) (*RedisSink, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisSink{rdb: rdb}, nil
}

// PublishHeartbeat writes this worker's snapshot under gosw:worker:<instance>
// with a TTL, the swarm equivalent of the old one-datagram-per-device model.
func (s *RedisSink) PublishHeartbeat(ctx context.Context, instance string, snap miner.Snapshot, hashrate float64) error {
	if s == nil {
		return nil
	}

	key := fmt.Sprintf("gosw:worker:%s", instance)
	fields := map[string]any{
		"hashrate":    hashrate,
		"templates":   snap.Templates,
		"hashes":      snap.Hashes,
		"half_shares": snap.HalfShares,
		"shares":      snap.Shares,
		"valids":      snap.Valids,
		"block_found": snap.BlockFound,
		"updated_at":  snap.At.Unix(),
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, heartbeatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish heartbeat: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisSink) Close() error {
	if s == nil {
		return nil
	}
	return s.rdb.Close()
}
