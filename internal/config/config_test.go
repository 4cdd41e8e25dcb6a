package config

import (
	"os"
	"testing"
)

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_GET_ENV", "test_value")
	defer os.Unsetenv("TEST_GET_ENV")

	t.Run("existing env var", func(t *testing.T) {
		result := getEnv("TEST_GET_ENV", "default")
		if result != "test_value" {
			t.Errorf("getEnv() = %q, want %q", result, "test_value")
		}
	})

	t.Run("missing env var", func(t *testing.T) {
		result := getEnv("TEST_MISSING_VAR", "default_value")
		if result != "default_value" {
			t.Errorf("getEnv() = %q, want %q", result, "default_value")
		}
	})

	t.Run("empty env var", func(t *testing.T) {
		os.Setenv("TEST_EMPTY_VAR", "")
		defer os.Unsetenv("TEST_EMPTY_VAR")

		result := getEnv("TEST_EMPTY_VAR", "default")
		if result != "default" {
			t.Errorf("getEnv() = %q, want %q (empty should use default)", result, "default")
		}
	})
}

func TestGetEnvInt(t *testing.T) {
	t.Run("valid integer", func(t *testing.T) {
		os.Setenv("TEST_INT", "42")
		defer os.Unsetenv("TEST_INT")

		result := getEnvInt("TEST_INT", 0)
		if result != 42 {
			t.Errorf("getEnvInt() = %d, want 42", result)
		}
	})

	t.Run("invalid integer", func(t *testing.T) {
		os.Setenv("TEST_INT_INVALID", "not-a-number")
		defer os.Unsetenv("TEST_INT_INVALID")

		result := getEnvInt("TEST_INT_INVALID", 99)
		if result != 99 {
			t.Errorf("getEnvInt() = %d, want 99 (default)", result)
		}
	})

	t.Run("missing env var", func(t *testing.T) {
		result := getEnvInt("TEST_INT_MISSING", 100)
		if result != 100 {
			t.Errorf("getEnvInt() = %d, want 100 (default)", result)
		}
	})
}

func TestGetEnvInt64(t *testing.T) {
	t.Run("valid integer", func(t *testing.T) {
		os.Setenv("TEST_INT64", "9000000000")
		defer os.Unsetenv("TEST_INT64")

		result := getEnvInt64("TEST_INT64", 0)
		if result != 9000000000 {
			t.Errorf("getEnvInt64() = %d, want 9000000000", result)
		}
	})

	t.Run("invalid integer", func(t *testing.T) {
		os.Setenv("TEST_INT64_INVALID", "not-a-number")
		defer os.Unsetenv("TEST_INT64_INVALID")

		result := getEnvInt64("TEST_INT64_INVALID", 42)
		if result != 42 {
			t.Errorf("getEnvInt64() = %d, want 42 (default)", result)
		}
	})

	t.Run("missing env var", func(t *testing.T) {
		result := getEnvInt64("TEST_INT64_MISSING", 7)
		if result != 7 {
			t.Errorf("getEnvInt64() = %d, want 7 (default)", result)
		}
	})
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STATE_DIR", "DEFAULT_DAILY_LIMIT", "MAX_WEBHOOK_ENDPOINTS_PER_TENANT",
		"SESSION_KEY", "REDIS_ADDR", "REDIS_DB", "CIRCUIT_BREAKER_RESET_MS",
		"LOG_FORMAT", "LOG_LEVEL",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.StateDir != "./state" {
		t.Errorf("StateDir = %q, want %q", cfg.StateDir, "./state")
	}
	if cfg.DefaultDailyLimit != 10000 {
		t.Errorf("DefaultDailyLimit = %d, want 10000", cfg.DefaultDailyLimit)
	}
	if cfg.MaxWebhookEndpointsPerTenant != 10 {
		t.Errorf("MaxWebhookEndpointsPerTenant = %d, want 10", cfg.MaxWebhookEndpointsPerTenant)
	}
	if cfg.SessionKey != "" {
		t.Errorf("SessionKey = %q, want empty", cfg.SessionKey)
	}
	if cfg.UsesRemoteCounter() {
		t.Error("UsesRemoteCounter() should be false without REDIS_ADDR")
	}
	if cfg.SessionEncryptionEnabled() {
		t.Error("SessionEncryptionEnabled() should be false without SESSION_KEY")
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	os.Setenv("STATE_DIR", "/var/lib/wayfarer")
	os.Setenv("DEFAULT_DAILY_LIMIT", "5000")
	os.Setenv("MAX_WEBHOOK_ENDPOINTS_PER_TENANT", "3")
	os.Setenv("SESSION_KEY", "a-session-secret")
	os.Setenv("REDIS_ADDR", "localhost:6379")
	defer clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.StateDir != "/var/lib/wayfarer" {
		t.Errorf("StateDir = %q, want override", cfg.StateDir)
	}
	if cfg.DefaultDailyLimit != 5000 {
		t.Errorf("DefaultDailyLimit = %d, want 5000", cfg.DefaultDailyLimit)
	}
	if cfg.MaxWebhookEndpointsPerTenant != 3 {
		t.Errorf("MaxWebhookEndpointsPerTenant = %d, want 3", cfg.MaxWebhookEndpointsPerTenant)
	}
	if !cfg.SessionEncryptionEnabled() {
		t.Error("SessionEncryptionEnabled() should be true once SESSION_KEY is set")
	}
	if !cfg.UsesRemoteCounter() {
		t.Error("UsesRemoteCounter() should be true once REDIS_ADDR is set")
	}
}

func TestLoad_RejectsNonPositiveDailyLimit(t *testing.T) {
	clearConfigEnv(t)
	os.Setenv("DEFAULT_DAILY_LIMIT", "0")
	defer clearConfigEnv(t)

	if _, err := Load(); err == nil {
		t.Error("Load() should reject a non-positive DEFAULT_DAILY_LIMIT")
	}
}

func TestLoad_RejectsNonPositiveWebhookLimit(t *testing.T) {
	clearConfigEnv(t)
	os.Setenv("MAX_WEBHOOK_ENDPOINTS_PER_TENANT", "-1")
	defer clearConfigEnv(t)

	if _, err := Load(); err == nil {
		t.Error("Load() should reject a non-positive MAX_WEBHOOK_ENDPOINTS_PER_TENANT")
	}
}
