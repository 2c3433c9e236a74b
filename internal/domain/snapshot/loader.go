// Package snapshot fetches the full dashboard and loads it into the store.
// It is the only path by which statistics are refreshed.
package snapshot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/pkg/logger"
	"github.com/okian/goalboard/pkg/metrics"
)

// Source returns the server's current dashboard.
type Source interface {
	Dashboard(ctx context.Context) (model.Snapshot, error)
}

// Store is the subset of the goal store the loader writes to.
type Store interface {
	BulkLoad(ctx context.Context, goals []model.Goal)
}

// Loader fetches snapshots and applies them. Fetch may run on any goroutine;
// Apply must run on the store's writer goroutine.
type Loader struct {
	source Source
	store  Store
	logger logger.Logger

	stats    atomic.Pointer[model.DashboardStats]
	lastSync atomic.Int64
}

// Option applies a configuration option to the Loader.
type Option func(*Loader)

// WithLogger sets a custom logger for the loader.
func WithLogger(l logger.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// NewLoader creates a Loader reading from source into store.
func NewLoader(source Source, store Store, opts ...Option) *Loader {
	ld := &Loader{source: source, store: store, logger: logger.Nop()}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Fetch requests the full goal list and statistics.
func (l *Loader) Fetch(ctx context.Context) (model.Snapshot, error) {
	start := time.Now()
	snap, err := l.source.Dashboard(ctx)
	metrics.RecordSnapshotLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordSnapshotFailure()
		return model.Snapshot{}, fmt.Errorf("fetch dashboard: %w", err)
	}
	return snap, nil
}

// Apply bulk-loads the goals and keeps the statistics.
func (l *Loader) Apply(ctx context.Context, snap model.Snapshot) { //nolint:gocritic // hugeParam: snapshot is consumed whole
	l.store.BulkLoad(ctx, snap.Goals)
	if snap.Statistics != nil {
		stats := *snap.Statistics
		l.stats.Store(&stats)
	}

	now := time.Now()
	l.lastSync.Store(now.UnixNano())
	metrics.RecordSnapshotLoad(now.Unix())
	l.logger.Debug(ctx, "snapshot loaded", logger.Int("goals", len(snap.Goals)))
}

// Load fetches and applies in one step. Only for callers that own the store
// outright, such as one-shot CLI commands.
func (l *Loader) Load(ctx context.Context) (model.Snapshot, error) {
	snap, err := l.Fetch(ctx)
	if err != nil {
		return snap, err
	}
	l.Apply(ctx, snap)
	return snap, nil
}

// Stats returns a copy of the last applied statistics, or nil before the
// first load.
func (l *Loader) Stats() *model.DashboardStats {
	s := l.stats.Load()
	if s == nil {
		return nil
	}
	out := *s
	if s.GoalsByCategory != nil {
		out.GoalsByCategory = make(map[string]int, len(s.GoalsByCategory))
		for k, v := range s.GoalsByCategory {
			out.GoalsByCategory[k] = v
		}
	}
	return &out
}

// LastSync returns when a snapshot was last applied; zero before the first.
func (l *Loader) LastSync() time.Time {
	n := l.lastSync.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
