// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// Risk aggregation
	RiskTurnWindow  int // scored turns averaged per snapshot
	RiskEventWindow int // recent events scanned per snapshot, 0 = all

	// Browser origins allowed for CORS and websocket upgrades (empty = any)
	CORSAllowedOrigins []string

	// Capacity and rate limiting
	MaxActiveCalls int
	RateLimitRPS   int
	RateLimitBurst int

	// Audit recorder
	RecorderBatchSize     int
	RecorderFlushInterval time.Duration
}

const (
	DefaultPort                  = "8080"
	DefaultEnv                   = "development"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "json"
	DefaultRiskTurnWindow        = 5
	DefaultRiskEventWindow       = 5
	DefaultMaxActiveCalls        = 1000
	DefaultRateLimitRPS          = 20
	DefaultRateLimitBurst        = 40
	DefaultRecorderBatchSize     = 100
	DefaultRecorderFlushInterval = 500 * time.Millisecond
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RiskTurnWindow:        getEnvInt("RISK_TURN_WINDOW", DefaultRiskTurnWindow),
		RiskEventWindow:       getEnvInt("RISK_EVENT_WINDOW", DefaultRiskEventWindow),
		CORSAllowedOrigins:    getEnvList("CORS_ALLOWED_ORIGINS"),
		MaxActiveCalls:        getEnvInt("MAX_ACTIVE_CALLS", DefaultMaxActiveCalls),
		RateLimitRPS:          getEnvInt("RATE_LIMIT_RPS", DefaultRateLimitRPS),
		RateLimitBurst:        getEnvInt("RATE_LIMIT_BURST", DefaultRateLimitBurst),
		RecorderBatchSize:     getEnvInt("RECORDER_BATCH_SIZE", DefaultRecorderBatchSize),
		RecorderFlushInterval: getEnvDuration("RECORDER_FLUSH_INTERVAL", DefaultRecorderFlushInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}
	if c.RiskTurnWindow < 1 {
		return fmt.Errorf("RISK_TURN_WINDOW must be at least 1")
	}
	if c.RiskEventWindow < 0 {
		return fmt.Errorf("RISK_EVENT_WINDOW must not be negative")
	}
	if c.MaxActiveCalls < 1 {
		return fmt.Errorf("MAX_ACTIVE_CALLS must be at least 1")
	}
	if c.RateLimitRPS < 1 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be at least 1")
	}
	if c.RecorderBatchSize < 1 {
		return fmt.Errorf("RECORDER_BATCH_SIZE must be at least 1")
	}
	if c.RecorderFlushInterval <= 0 {
		return fmt.Errorf("RECORDER_FLUSH_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
