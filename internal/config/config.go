// Package config handles application configuration. The core reads a
// deliberately small environment surface: nothing here authenticates
// callers or bills tenants, so the config layer has no coupling to auth,
// payment, or routing concerns.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the engine's runtime configuration.
type Config struct {
	// StateDir is where the pattern registry (patterns.json) and the
	// change tracker (content-changes.json) are persisted as JSON.
	StateDir string

	// DefaultDailyLimit is the per-tenant daily unit budget applied
	// when a tenant record does not specify its own limit.
	DefaultDailyLimit int64

	// MaxWebhookEndpointsPerTenant bounds how many webhook endpoints a
	// single tenant may register.
	MaxWebhookEndpointsPerTenant int

	// SessionKey encrypts persisted session blobs (cookies, storage
	// state) handed to the playwright tier, via a PBKDF2-derived
	// per-blob key. Empty disables session blob persistence.
	SessionKey string

	// RedisAddr, if set, backs the usage counter with a remote atomic
	// counter store instead of the in-memory default.
	RedisAddr string
	RedisDB   int

	// CircuitBreakerResetMs is how long a webhook endpoint stays
	// unhealthy before being demoted back to degraded for a retry.
	CircuitBreakerResetMs int64

	// LogFormat/LogLevel mirror the env vars read directly by the
	// logging package; kept here too so callers can inspect effective
	// configuration without re-reading the environment.
	LogFormat string
	LogLevel  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		StateDir:                     getEnv("STATE_DIR", "./state"),
		DefaultDailyLimit:            getEnvInt64("DEFAULT_DAILY_LIMIT", 10000),
		MaxWebhookEndpointsPerTenant: getEnvInt("MAX_WEBHOOK_ENDPOINTS_PER_TENANT", 10),
		SessionKey:                   getEnv("SESSION_KEY", ""),

		RedisAddr: getEnv("REDIS_ADDR", ""),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		CircuitBreakerResetMs: getEnvInt64("CIRCUIT_BREAKER_RESET_MS", 5*60*1000),

		LogFormat: getEnv("LOG_FORMAT", ""),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}

	if cfg.DefaultDailyLimit <= 0 {
		return nil, fmt.Errorf("DEFAULT_DAILY_LIMIT must be positive, got %d", cfg.DefaultDailyLimit)
	}
	if cfg.MaxWebhookEndpointsPerTenant <= 0 {
		return nil, fmt.Errorf("MAX_WEBHOOK_ENDPOINTS_PER_TENANT must be positive, got %d", cfg.MaxWebhookEndpointsPerTenant)
	}

	return cfg, nil
}

// UsesRemoteCounter reports whether the usage counter should use the
// Redis-backed implementation instead of the in-memory default.
func (c *Config) UsesRemoteCounter() bool {
	return c.RedisAddr != ""
}

// SessionEncryptionEnabled reports whether session blob persistence is
// configured.
func (c *Config) SessionEncryptionEnabled() bool {
	return c.SessionKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

