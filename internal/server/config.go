// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the CipherChat service.
package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// frameOverhead covers the JSON keys and quoting around a live frame's
// sender and content.
const frameOverhead = 256

// History orderings accepted by Config.HistoryOrder.
const (
	OrderNewestFirst = "newest"
	OrderOldestFirst = "oldest"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// MaxMessageSize bounds inbound WebSocket frames, in bytes. It is raised
	// to minFrameSize so any message within the content limits fits a frame.
	MaxMessageSize   int64           `yaml:"max_message_size"`
	MaxContentLength int             `yaml:"max_content_length"`
	MaxSenderLength  int             `yaml:"max_sender_length"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`

	RedisURL            string   `yaml:"redis_url"`
	HistoryCap          int      `yaml:"history_cap"`
	DefaultHistoryLimit int      `yaml:"default_history_limit"`
	HistoryOrder        string   `yaml:"history_order"`
	DefaultChannels     []string `yaml:"default_channels"`

	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func defaultConfig() Config {
	return Config{
		Port:             ":8000",
		AllowedOrigins:   []string{"*"},
		MaxMessageSize:   16384,
		MaxContentLength: 2000,
		MaxSenderLength:  64,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		RedisURL:            "redis://127.0.0.1:6379/0",
		HistoryCap:          100,
		DefaultHistoryLimit: 50,
		HistoryOrder:        OrderNewestFirst,
		DefaultChannels:     []string{"general"},
		LogLevel:            "info",
		LogFormat:           "text",
		ShutdownTimeout:     10 * time.Second,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = def.MaxContentLength
	}
	if cfg.MaxSenderLength <= 0 {
		cfg.MaxSenderLength = def.MaxSenderLength
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = def.RedisURL
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = def.HistoryCap
	}
	if cfg.DefaultHistoryLimit <= 0 {
		cfg.DefaultHistoryLimit = def.DefaultHistoryLimit
	}
	if cfg.DefaultHistoryLimit > cfg.HistoryCap {
		cfg.DefaultHistoryLimit = cfg.HistoryCap
	}
	if floor := minFrameSize(cfg); cfg.MaxMessageSize < floor {
		cfg.MaxMessageSize = floor
	}
	cfg.HistoryOrder = strings.ToLower(strings.TrimSpace(cfg.HistoryOrder))
	if cfg.HistoryOrder == "" {
		cfg.HistoryOrder = def.HistoryOrder
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	cfg.DefaultChannels = trimAll(cfg.DefaultChannels)
	return cfg
}

// minFrameSize is the largest JSON frame a valid live message can need: a
// character takes at most six bytes once JSON-escaped.
func minFrameSize(cfg Config) int64 {
	return int64(6*(cfg.MaxContentLength+cfg.MaxSenderLength) + frameOverhead)
}

// Validate reports settings that cannot be defaulted.
func (c Config) Validate() error {
	if c.HistoryOrder != OrderNewestFirst && c.HistoryOrder != OrderOldestFirst {
		return fmt.Errorf("history order %q: want %q or %q", c.HistoryOrder, OrderNewestFirst, OrderOldestFirst)
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("at least one allowed origin is required")
	}
	return nil
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	cfg = sanitizeConfig(cfg)
	return &cfg
}

// LoadConfig builds the configuration from defaults, then the YAML file at
// path if path is not empty, then environment variables.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		cfg := NewConfigFromEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	applyEnv(&cfg)
	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if v := os.Getenv("MAX_CONTENT_LENGTH"); v != "" {
		cfg.MaxContentLength = parseIntValue(v, cfg.MaxContentLength)
	}
	if v := os.Getenv("MAX_SENDER_LENGTH"); v != "" {
		cfg.MaxSenderLength = parseIntValue(v, cfg.MaxSenderLength)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}
	if v := os.Getenv("HISTORY_CAP"); v != "" {
		cfg.HistoryCap = parseIntValue(v, cfg.HistoryCap)
	}
	if v := os.Getenv("DEFAULT_HISTORY_LIMIT"); v != "" {
		cfg.DefaultHistoryLimit = parseIntValue(v, cfg.DefaultHistoryLimit)
	}
	if v := os.Getenv("HISTORY_ORDER"); v != "" {
		cfg.HistoryOrder = v
	}
	if v, ok := os.LookupEnv("DEFAULT_CHANNELS"); ok {
		cfg.DefaultChannels = parseList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		cfg.ShutdownTimeout = parseSeconds(v, cfg.ShutdownTimeout)
	}
}

func parseList(value string) []string {
	return trimAll(strings.Split(value, ","))
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
