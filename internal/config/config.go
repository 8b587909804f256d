// Package config provides configuration management for the GOSW solo worker.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Config holds the worker configuration
type Config struct {
	// Service identification
	ServiceName string
	Version     string

	// Pool connection
	PoolHost     string
	PoolPort     int
	PoolPassword string

	// Mining
	PayoutAddress string
	Chain         string
	WorkerCount   int
	PinOSThreads  bool

	// Telemetry sinks, each optional: empty endpoint disables the sink
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string

	TelemetryInterval time.Duration

	// Logging
	Debug     bool
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "gosw"),
		Version:     getEnv("VERSION", "dev"),

		PoolHost:     getEnv("POOL_HOST", "solo.ckpool.org"),
		PoolPort:     getEnvInt("POOL_PORT", 3333),
		PoolPassword: getEnv("POOL_PASSWORD", "x"),

		PayoutAddress: getEnv("PAYOUT_ADDRESS", ""),
		Chain:         getEnv("CHAIN", "mainnet"),
		WorkerCount:   getEnvInt("WORKER_COUNT", 1),
		PinOSThreads:  getEnvBool("PIN_OS_THREADS", false),

		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "gosw"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "mining"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),

		TelemetryInterval: getEnvDuration("TELEMETRY_INTERVAL", 10*time.Second),

		Debug:     getEnvBool("DEBUG", false),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ChainParams resolves the configured chain name to btcd network parameters
func (c *Config) ChainParams() (*chaincfg.Params, error) {
	switch strings.ToLower(c.Chain) {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown chain %q", c.Chain)
	}
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.PoolHost == "" {
		return fmt.Errorf("POOL_HOST cannot be empty")
	}

	if c.PoolPort <= 0 || c.PoolPort > 65535 {
		return fmt.Errorf("POOL_PORT must be between 1 and 65535")
	}

	if c.WorkerCount < 1 || c.WorkerCount > 64 {
		return fmt.Errorf("WORKER_COUNT must be between 1 and 64")
	}

	if c.PayoutAddress == "" {
		return fmt.Errorf("PAYOUT_ADDRESS is required")
	}

	params, err := c.ChainParams()
	if err != nil {
		return err
	}
	if _, err := btcutil.DecodeAddress(c.PayoutAddress, params); err != nil {
		return fmt.Errorf("PAYOUT_ADDRESS is not a valid %s address: %w", c.Chain, err)
	}

	if c.TelemetryInterval < time.Second {
		return fmt.Errorf("TELEMETRY_INTERVAL must be at least 1s")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
