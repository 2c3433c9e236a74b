package dispatcher

import (
	"context"
	"time"

	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/pkg/logger"
)

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithMaxReplay bounds the events recorded while a snapshot is in flight.
func WithMaxReplay(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxReplay = n
		}
	}
}

// WithSnapshotRetry retries failed fetches after delay until the first
// snapshot has been applied.
func WithSnapshotRetry(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay > 0 {
			d.retryDelay = delay
		}
	}
}

// WithErrorHandler receives decode and snapshot errors.
func WithErrorHandler(fn func(ctx context.Context, err error)) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.onError = fn
		}
	}
}

// WithSnapshotHook is called on the dispatcher goroutine after a snapshot
// and its replay have been applied.
func WithSnapshotHook(fn func(ctx context.Context, snap model.Snapshot)) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.onSnapshot = fn
		}
	}
}

// WithStateHook is called for every connection state item.
func WithStateHook(fn func(ctx context.Context, s model.ConnState)) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.onState = fn
		}
	}
}

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}
