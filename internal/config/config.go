// Package config defines client configuration and its loading hooks.
//
// Conventions:
//   - New() returns a Config holding the defaults.
//   - Load(ctx) layers defaults, .env, an optional YAML file and env vars.
//   - Errors returned from this package wrap ErrInvalidConfig or ErrLoadConfig.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the local read API listen address, e.g. ":9090".
	Addr string `koanf:"addr"`

	// APIBaseURL is the goal service base URL, e.g. "http://localhost:8000".
	APIBaseURL string `koanf:"api_base_url"`

	// WSPath is the streaming endpoint path relative to APIBaseURL.
	WSPath string `koanf:"ws_path"`

	// RequestTimeoutMS bounds every request made to the goal service.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// ReconnectDelayMS is the fixed delay between reconnect attempts.
	ReconnectDelayMS int `koanf:"reconnect_delay_ms"`

	// SnapshotRetryDelayMS is the delay between initial snapshot attempts.
	SnapshotRetryDelayMS int `koanf:"snapshot_retry_delay_ms"`

	// QueueSize bounds the inbound queue between connection and dispatcher.
	QueueSize int `koanf:"queue_size"`

	// MaxReplayEvents bounds the events recorded while a snapshot is in flight.
	MaxReplayEvents int `koanf:"max_replay_events"`

	// CORSOrigins is a comma separated list of origins allowed on the local API.
	CORSOrigins string `koanf:"cors_origins"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9090",
		APIBaseURL:           "http://localhost:8000",
		WSPath:               "/ws",
		RequestTimeoutMS:     10_000,
		ReconnectDelayMS:     3_000,
		SnapshotRetryDelayMS: 3_000,
		QueueSize:            1_024,
		MaxReplayEvents:      10_000,
	}
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// ReconnectDelay returns ReconnectDelayMS as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// SnapshotRetryDelay returns SnapshotRetryDelayMS as a duration.
func (c *Config) SnapshotRetryDelay() time.Duration {
	return time.Duration(c.SnapshotRetryDelayMS) * time.Millisecond
}

// Origins splits CORSOrigins into a trimmed list.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// WebSocketURL derives the streaming URL from APIBaseURL: the scheme mirrors
// the base URL transport (http -> ws, https -> wss) and WSPath is appended.
func (c *Config) WebSocketURL() (string, error) {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: api_base_url: %w", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: api_base_url scheme %q", ErrInvalidConfig, u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(c.WSPath, "/")
	return u.String(), nil
}

// Validate checks the fields the client cannot run without.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.RequestTimeoutMS <= 0:
		return fmt.Errorf("%w: request_timeout_ms must be positive", ErrInvalidConfig)
	case c.ReconnectDelayMS <= 0:
		return fmt.Errorf("%w: reconnect_delay_ms must be positive", ErrInvalidConfig)
	case c.SnapshotRetryDelayMS <= 0:
		return fmt.Errorf("%w: snapshot_retry_delay_ms must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.MaxReplayEvents <= 0:
		return fmt.Errorf("%w: max_replay_events must be positive", ErrInvalidConfig)
	}
	if _, err := c.WebSocketURL(); err != nil {
		return err
	}
	return nil
}
