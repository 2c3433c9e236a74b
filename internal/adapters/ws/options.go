package ws

import (
	"time"

	"github.com/okian/goalboard/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithDialer replaces the gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithReconnectDelay sets the fixed reconnect delay.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.delay = d
		}
	}
}

// WithTimerFunc replaces the timer used to schedule reconnects.
func WithTimerFunc(f TimerFunc) Option {
	return func(m *Manager) {
		if f != nil {
			m.newTimer = f
		}
	}
}

// WithWriteTimeout bounds each outbound write.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// WithHeader adds a header sent with every handshake.
func WithHeader(key, value string) Option {
	return func(m *Manager) {
		m.header.Set(key, value)
	}
}

// WithLogger sets a custom logger for the manager.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
