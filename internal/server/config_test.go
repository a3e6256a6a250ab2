package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfigDefaults tests the default configuration.
// It verifies the history and rate limit settings the relay depends on.
func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8000", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(16384), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 100, cfg.HistoryCap)
	assert.Equal(t, 50, cfg.DefaultHistoryLimit)
	assert.Equal(t, OrderNewestFirst, cfg.HistoryOrder)
	assert.Equal(t, []string{"general"}, cfg.DefaultChannels)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.NoError(t, cfg.Validate())
}

// TestNewConfigFromEnv tests environment overrides.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , ,http://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "20000")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("HISTORY_CAP", "20")
	t.Setenv("DEFAULT_HISTORY_LIMIT", "10")
	t.Setenv("HISTORY_ORDER", "OLDEST")
	t.Setenv("DEFAULT_CHANNELS", "general,random")
	t.Setenv("SHUTDOWN_TIMEOUT", "4")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(20000), cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 3, RefillInterval: 2 * time.Second}, cfg.RateLimit)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, 20, cfg.HistoryCap)
	assert.Equal(t, 10, cfg.DefaultHistoryLimit)
	assert.Equal(t, OrderOldestFirst, cfg.HistoryOrder)
	assert.Equal(t, []string{"general", "random"}, cfg.DefaultChannels)
	assert.Equal(t, 4*time.Second, cfg.ShutdownTimeout)
}

// TestNewConfigFromEnvInvalidValues verifies unparseable numbers keep defaults.
func TestNewConfigFromEnvInvalidValues(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "huge")
	t.Setenv("RATE_LIMIT_BURST", "-1")
	t.Setenv("HISTORY_CAP", "0")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")

	cfg := NewConfigFromEnv()

	assert.Equal(t, int64(16384), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, 100, cfg.HistoryCap)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

// TestNewConfigFromEnvEmptyChannels verifies an empty DEFAULT_CHANNELS
// disables seeding.
func TestNewConfigFromEnvEmptyChannels(t *testing.T) {
	t.Setenv("DEFAULT_CHANNELS", "")

	assert.Empty(t, NewConfigFromEnv().DefaultChannels)
}

// TestSanitizeConfig tests defaulting and clamping of zero values.
func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		HistoryCap:          10,
		DefaultHistoryLimit: 40,
		HistoryOrder:        "  Newest ",
		AllowedOrigins:      []string{" * "},
	})

	assert.Equal(t, ":8000", cfg.Port)
	assert.Equal(t, 10, cfg.HistoryCap)
	assert.Equal(t, 10, cfg.DefaultHistoryLimit)
	assert.Equal(t, OrderNewestFirst, cfg.HistoryOrder)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, "redis://127.0.0.1:6379/0", cfg.RedisURL)
}

// TestSanitizeConfigFrameSize tests that the frame limit always fits a
// message at the content and sender limits.
func TestSanitizeConfigFrameSize(t *testing.T) {
	small := *NewConfig()
	small.MaxMessageSize = 1024
	cfg := sanitizeConfig(small)
	assert.Equal(t, int64(6*(2000+64)+frameOverhead), cfg.MaxMessageSize)

	large := *NewConfig()
	large.MaxMessageSize = 1 << 20
	assert.Equal(t, int64(1<<20), sanitizeConfig(large).MaxMessageSize)

	wide := *NewConfig()
	wide.MaxContentLength = 5000
	assert.GreaterOrEqual(t, sanitizeConfig(wide).MaxMessageSize, int64(6*5000))
}

// TestConfigValidate tests the settings that cannot be defaulted.
func TestConfigValidate(t *testing.T) {
	cfg := *NewConfig()
	cfg.HistoryOrder = "sideways"
	assert.Error(t, cfg.Validate())

	cfg = *NewConfig()
	cfg.AllowedOrigins = nil
	assert.Error(t, cfg.Validate())
}

// TestLoadConfig tests loading a YAML file with environment overrides on top.
func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cipherchat.yaml")
	content := `
port: ":7000"
allowed_origins:
  - http://chat.example
history_cap: 30
default_history_limit: 15
history_order: oldest
rate_limit:
  burst: 8
  refill_interval: 3s
log_format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SERVER_PORT", ":7100")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7100", cfg.Port)
	assert.Equal(t, []string{"http://chat.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 30, cfg.HistoryCap)
	assert.Equal(t, 15, cfg.DefaultHistoryLimit)
	assert.Equal(t, OrderOldestFirst, cfg.HistoryOrder)
	assert.Equal(t, RateLimitConfig{Burst: 8, RefillInterval: 3 * time.Second}, cfg.RateLimit)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

// TestLoadConfigErrors tests unreadable, malformed, and invalid files.
func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [unterminated"), 0o600))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("history_order: random\n"), 0o600))
	_, err = LoadConfig(invalid)
	assert.Error(t, err)
}

// TestLoadConfigWithoutFile verifies an empty path uses defaults and the
// environment, and still validates.
func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("HISTORY_CAP", "40")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.HistoryCap)
	assert.Equal(t, NewConfig().Port, cfg.Port)

	t.Setenv("HISTORY_ORDER", "sideways")
	_, err = LoadConfig("")
	assert.Error(t, err)
}
