// Package config provides configuration management for the nanowork services.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bardlex/nanowork/internal/work"
)

// Config holds the global configuration for nanowork services
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Search tuning
	WorkerCount        int // 0 means one worker per CPU
	PollBatch          int
	MaxAttempts        uint64 // 0 means unbounded
	DefaultDifficulty  uint64
	GenerateTimeout    time.Duration
	defaultDifficultyS string

	// Request processing
	RequestQueueSize   int
	RequestWorkers     int
	RateLimitPerMinute int     // 0 disables rate limiting
	MaxMultiplier      float64 // generation ceiling relative to DefaultDifficulty, 0 disables
	RequestMaxAge      time.Duration
	StatusTTL          time.Duration

	// Kafka configuration
	KafkaBrokers []string
	KafkaGroupID string

	// Stores. An empty Postgres URL or Influx token disables that store.
	PostgresURL  string
	RedisURL     string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Node notifications, empty disables the subscriber
	NodeZMQAddr string

	// Prometheus endpoint, empty disables the listener
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "nanowork"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Search defaults
		WorkerCount:        getEnvInt("WORKER_COUNT", 0),
		PollBatch:          getEnvInt("POLL_BATCH", 1024),
		MaxAttempts:        getEnvUint64("MAX_ATTEMPTS", 0),
		GenerateTimeout:    getEnvDuration("GENERATE_TIMEOUT", 5*time.Minute),
		defaultDifficultyS: getEnv("DEFAULT_DIFFICULTY", work.FormatThreshold(work.ThresholdSend)),

		// Request processing defaults
		RequestQueueSize:   getEnvInt("REQUEST_QUEUE_SIZE", 1000),
		RequestWorkers:     getEnvInt("REQUEST_WORKERS", 4),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		MaxMultiplier:      getEnvFloat("MAX_MULTIPLIER", 64),
		RequestMaxAge:      getEnvDuration("REQUEST_MAX_AGE", 10*time.Minute),
		StatusTTL:          getEnvDuration("STATUS_TTL", time.Hour),

		// Kafka defaults
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "nanowork"),

		// Store defaults
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		InfluxURL:    getEnv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "nanowork"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "work"),

		NodeZMQAddr: getEnv("NODE_ZMQ_ADDR", ""),
		MetricsAddr: getEnv("METRICS_ADDR", ":9464"),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if c.WorkerCount < 0 {
		return fmt.Errorf("WORKER_COUNT cannot be negative")
	}

	if c.PollBatch <= 0 {
		return fmt.Errorf("POLL_BATCH must be positive")
	}

	difficulty, err := work.ParseThresholdHex(c.defaultDifficultyS)
	if err != nil {
		return fmt.Errorf("DEFAULT_DIFFICULTY: %w", err)
	}
	c.DefaultDifficulty = difficulty

	if c.GenerateTimeout <= 0 {
		return fmt.Errorf("GENERATE_TIMEOUT must be positive")
	}

	if c.RequestQueueSize <= 0 {
		return fmt.Errorf("REQUEST_QUEUE_SIZE must be positive")
	}

	if c.RequestWorkers <= 0 {
		return fmt.Errorf("REQUEST_WORKERS must be positive")
	}

	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE cannot be negative")
	}

	if c.MaxMultiplier < 0 {
		return fmt.Errorf("MAX_MULTIPLIER cannot be negative")
	}

	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS cannot be empty")
	}

	return nil
}

// PostgresEnabled reports whether the audit store is configured
func (c *Config) PostgresEnabled() bool { return c.PostgresURL != "" }

// InfluxEnabled reports whether the metrics time-series store is configured
func (c *Config) InfluxEnabled() bool { return c.InfluxToken != "" }

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

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
