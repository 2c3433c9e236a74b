package service

import (
	"time"

	"github.com/okian/goalboard/internal/adapters/ws"
	"github.com/okian/goalboard/internal/config"
	"github.com/okian/goalboard/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig applies every setting from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg == nil {
			return
		}
		s.apiBaseURL = cfg.APIBaseURL
		if u, err := cfg.WebSocketURL(); err == nil {
			s.wsURL = u
		}
		s.requestTimeout = cfg.RequestTimeout()
		s.reconnectDelay = cfg.ReconnectDelay()
		s.snapshotRetry = cfg.SnapshotRetryDelay()
		if cfg.QueueSize > 0 {
			s.queueSize = cfg.QueueSize
		}
		if cfg.MaxReplayEvents > 0 {
			s.maxReplay = cfg.MaxReplayEvents
		}
	}
}

// WithAPIBaseURL sets the goal service base URL.
func WithAPIBaseURL(u string) Option {
	return func(s *Service) {
		if u != "" {
			s.apiBaseURL = u
		}
	}
}

// WithWebSocketURL sets the stream URL. When unset it is derived from the
// base URL.
func WithWebSocketURL(u string) Option {
	return func(s *Service) {
		if u != "" {
			s.wsURL = u
		}
	}
}

// WithRequestTimeout sets the per-request timeout of the API client.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithReconnectDelay sets the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reconnectDelay = d
		}
	}
}

// WithSnapshotRetryDelay sets how often a failed initial load is retried.
func WithSnapshotRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.snapshotRetry = d
		}
	}
}

// WithQueueSize sets the capacity of the inbound queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithMaxReplayEvents bounds the events recorded during a snapshot fetch.
func WithMaxReplayEvents(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxReplay = n
		}
	}
}

// WithAPI replaces the REST client.
func WithAPI(api API) Option {
	return func(s *Service) {
		if api != nil {
			s.api = api
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d ws.Dialer) Option {
	return func(s *Service) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
