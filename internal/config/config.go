// Package config loads the relay's configuration from the environment and
// validates it at startup.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	// WebhookURL is the workflow-automation endpoint. Required; must be
	// an absolute URL.
	WebhookURL string
	// GatewayURL is the WebSocket endpoint of the WhatsApp gateway.
	GatewayURL string
	// AuthDir is the directory holding persisted session credentials.
	AuthDir string
	// ReconnectDelay is the fixed (non-exponential) delay between
	// reconnection attempts.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds reconnection after an unintentional
	// disconnect.
	MaxReconnectAttempts int
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Default returns the built-in defaults, before environment overrides.
func Default() *Config {
	return &Config{
		GatewayURL:           "ws://127.0.0.1:3441/ws",
		AuthDir:              "./auth_state",
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 10,
		LogLevel:             "info",
	}
}

// FromEnv builds the configuration from environment variables on top of the
// defaults. Unset variables keep their defaults; malformed numeric or
// duration values are reported as errors rather than silently ignored.
func FromEnv() (*Config, error) {
	cfg := Default()

	stringVars := map[string]*string{
		"WEBHOOK_URL": &cfg.WebhookURL,
		"GATEWAY_URL": &cfg.GatewayURL,
		"AUTH_DIR":    &cfg.AuthDir,
		"LOG_LEVEL":   &cfg.LogLevel,
	}
	for env, ptr := range stringVars {
		if val := os.Getenv(env); val != "" {
			*ptr = val
		}
	}

	if val := os.Getenv("RECONNECT_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid RECONNECT_INTERVAL %q: %w", val, err)
		}
		cfg.ReconnectDelay = d
	}
	if val := os.Getenv("MAX_RECONNECT_ATTEMPTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_RECONNECT_ATTEMPTS %q: %w", val, err)
		}
		cfg.MaxReconnectAttempts = n
	}

	return cfg, nil
}

// Validate checks the configuration. A missing or malformed webhook URL is
// fatal before any connection attempt is made.
func (c *Config) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("WEBHOOK_URL is required")
	}
	if u, err := url.Parse(c.WebhookURL); err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("invalid WEBHOOK_URL: %s", c.WebhookURL)
	}
	if u, err := url.Parse(c.GatewayURL); err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("invalid GATEWAY_URL: %s", c.GatewayURL)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_INTERVAL must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must not be negative")
	}
	return nil
}

// SlogLevel maps the configured log level onto a slog level, defaulting to
// info for anything unrecognized.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
