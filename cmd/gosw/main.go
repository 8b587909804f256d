// Package main implements gosw, a Stratum V1 solo Bitcoin mining worker.
// It runs a swarm of miner engines against one pool, shares a single stats
// registry between them, and exports telemetry to optional sinks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bardlex/gosw/internal/config"
	"github.com/bardlex/gosw/internal/messaging"
	"github.com/bardlex/gosw/internal/miner"
	"github.com/bardlex/gosw/internal/stratum"
	"github.com/bardlex/gosw/internal/telemetry"
	"github.com/bardlex/gosw/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting gosw",
		"version", cfg.Version,
		"pool", fmt.Sprintf("%s:%d", cfg.PoolHost, cfg.PoolPort),
		"payout_address", cfg.PayoutAddress,
		"workers", cfg.WorkerCount,
		"pin_os_threads", cfg.PinOSThreads,
	)

	events := messaging.NewPublisher(cfg.KafkaBrokers, logger)
	defer func() {
		if err := events.Close(); err != nil {
			logger.WithError(err).Warn("kafka close failed")
		}
	}()

	influx, err := telemetry.NewInfluxSink(&telemetry.InfluxConfig{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	})
	if err != nil {
		logger.WithError(err).Warn("influx sink unavailable, continuing without it")
	}
	defer influx.Close()

	redisSink, err := telemetry.NewRedisSink(&telemetry.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.WithError(err).Warn("redis sink unavailable, continuing without it")
	}
	defer func() {
		if err := redisSink.Close(); err != nil {
			logger.WithError(err).Warn("redis close failed")
		}
	}()

	stats := miner.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	reporter := telemetry.NewReporter(instanceID(), stats, influx, redisSink, events, logger, cfg.TelemetryInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reporter.Run(ctx)
	}()

	for i := 0; i < cfg.WorkerCount; i++ {
		client := stratum.NewClient(cfg.PoolHost, cfg.PoolPort, cfg.PayoutAddress,
			cfg.PoolPassword, 0, logger.WithWorker(i))
		engine := miner.New(i, client, stats, events, logger, cfg.PinOSThreads)

		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.Run(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	wg.Wait()

	snap := stats.Snapshot()
	logger.Info("gosw stopped",
		"templates", snap.Templates,
		"hashes", snap.Hashes,
		"half_shares", snap.HalfShares,
		"shares", snap.Shares,
		"valids", snap.Valids,
		"block_found", snap.BlockFound,
	)
}

// instanceID names this worker process in swarm telemetry
func instanceID() string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "gosw"
}
