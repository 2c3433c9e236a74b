// Package service is the dashboard controller. It owns the goal store, the
// streaming connection and the dispatcher, and exposes the reconciled view
// plus the mutations a dashboard offers.
//
// Lifecycle: New -> Start (initial load + event loop) -> Stop.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/goalboard/internal/adapters/http/client"
	"github.com/okian/goalboard/internal/adapters/mq/dispatcher"
	"github.com/okian/goalboard/internal/adapters/mq/queue"
	"github.com/okian/goalboard/internal/adapters/repository"
	"github.com/okian/goalboard/internal/adapters/ws"
	"github.com/okian/goalboard/internal/config"
	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/internal/domain/snapshot"
	"github.com/okian/goalboard/pkg/logger"
)

// API is the goal service REST surface the controller uses.
type API interface {
	Dashboard(ctx context.Context) (model.Snapshot, error)
	CreateGoal(ctx context.Context, in model.GoalCreate) (model.Goal, error)
	DeleteGoal(ctx context.Context, id int) error
	UpdateProgress(ctx context.Context, id int, text string) (model.ProgressResult, error)
}

// Status is what a dashboard shows next to the goals.
type Status struct {
	Connection model.ConnState `json:"connection"`
	Loading    bool            `json:"loading"`
	LastError  string          `json:"last_error,omitempty"`
	LastSync   *time.Time      `json:"last_sync,omitempty"`
	Goals      int             `json:"goals"`
}

// Service is the dashboard controller.
type Service struct {
	mu sync.Mutex // guards lifecycle

	// Configuration
	apiBaseURL     string
	wsURL          string
	requestTimeout time.Duration
	reconnectDelay time.Duration
	snapshotRetry  time.Duration
	queueSize      int
	maxReplay      int
	api            API
	dialer         ws.Dialer

	// Components, built by Start
	store      *repository.GoalStore
	queue      *queue.InMemoryQueue
	loader     *snapshot.Loader
	conn       *ws.Manager
	dispatcher *dispatcher.Dispatcher
	cancel     context.CancelFunc

	started bool
	stopped bool

	statusMu   sync.RWMutex
	connState  model.ConnState
	loading    bool
	lastErr    string
	loaded     chan struct{}
	loadedOnce sync.Once

	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	cfg := config.New()
	s := &Service{
		apiBaseURL:     cfg.APIBaseURL,
		requestTimeout: cfg.RequestTimeout(),
		reconnectDelay: cfg.ReconnectDelay(),
		snapshotRetry:  cfg.SnapshotRetryDelay(),
		queueSize:      cfg.QueueSize,
		maxReplay:      cfg.MaxReplayEvents,
		loaded:         make(chan struct{}),
		logger:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components, starts the event loop and the connection and
// requests the initial snapshot. It does not wait for the snapshot.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	wsURL := s.wsURL
	if wsURL == "" {
		u, err := (&config.Config{APIBaseURL: s.apiBaseURL, WSPath: "/ws"}).WebSocketURL()
		if err != nil {
			return fmt.Errorf("derive stream url: %w", err)
		}
		wsURL = u
	}
	if s.api == nil {
		s.api = client.New(s.apiBaseURL,
			client.WithTimeout(s.requestTimeout),
			client.WithLogger(s.logger.Named("client")),
		)
	}

	s.logger.Info(ctx, "starting dashboard",
		logger.String("api", s.apiBaseURL),
		logger.String("stream", wsURL),
	)

	s.store = repository.NewGoalStore(repository.WithLogger(s.logger.Named("store")))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.loader = snapshot.NewLoader(s.api, s.store, snapshot.WithLogger(s.logger.Named("snapshot")))
	s.dispatcher = dispatcher.New(s.queue, s.store, s.loader,
		dispatcher.WithMaxReplay(s.maxReplay),
		dispatcher.WithSnapshotRetry(s.snapshotRetry),
		dispatcher.WithErrorHandler(s.recordError),
		dispatcher.WithSnapshotHook(s.snapshotApplied),
		dispatcher.WithStateHook(s.connStateChanged),
		dispatcher.WithLogger(s.logger.Named("dispatcher")),
	)
	connOpts := []ws.Option{
		ws.WithReconnectDelay(s.reconnectDelay),
		ws.WithLogger(s.logger.Named("ws")),
	}
	if s.dialer != nil {
		connOpts = append(connOpts, ws.WithDialer(s.dialer))
	}
	s.conn = ws.NewManager(wsURL, s.queue, connOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.setLoading(true)
	go s.dispatcher.Run(runCtx)
	s.dispatcher.Reload()
	s.conn.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "dashboard started",
		logger.Int("queue_size", s.queueSize),
		logger.Int("max_replay_events", s.maxReplay),
	)
	return nil
}

// Stop closes the connection (cancelling any pending reconnect), stops the
// event loop and closes the queue. It is idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		s.stopped = true
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping dashboard")

	_ = s.conn.Close()
	if err := s.dispatcher.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "dispatcher shutdown", logger.Error(err))
	}
	s.cancel()
	_ = s.queue.Close()

	s.stopped = true
	s.logger.Info(ctx, "dashboard stopped")
}

func (s *Service) running() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.stopped:
		return ErrStopped
	case !s.started:
		return ErrNotStarted
	}
	return nil
}

func (s *Service) components() (*repository.GoalStore, *snapshot.Loader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store, s.loader
}

// Goals returns the reconciled goals in display order.
func (s *Service) Goals(ctx context.Context) []model.Goal {
	store, _ := s.components()
	if store == nil {
		return nil
	}
	return store.List(ctx)
}

// Goal returns one goal from the local view.
func (s *Service) Goal(ctx context.Context, id int) (model.Goal, error) {
	store, _ := s.components()
	if store == nil {
		return model.Goal{}, ErrNotStarted
	}
	return store.Get(ctx, id)
}

// Stats returns the last statistics snapshot, or nil before the first load.
func (s *Service) Stats() *model.DashboardStats {
	_, loader := s.components()
	if loader == nil {
		return nil
	}
	return loader.Stats()
}

// Status reports connection state, loading flag and the last error. The
// connection state is the last one the dispatcher consumed, so it is ordered
// with the events already applied to the goals.
func (s *Service) Status(ctx context.Context) Status {
	s.statusMu.RLock()
	st := Status{Connection: s.connState, Loading: s.loading, LastError: s.lastErr}
	s.statusMu.RUnlock()

	store, loader := s.components()
	if loader != nil {
		if t := loader.LastSync(); !t.IsZero() {
			st.LastSync = &t
		}
	}
	if store != nil {
		st.Goals = store.Len(ctx)
	}
	return st
}

// Loaded is closed once the first snapshot has been applied.
func (s *Service) Loaded() <-chan struct{} { return s.loaded }

// Reload requests a fresh snapshot.
func (s *Service) Reload() error {
	if err := s.running(); err != nil {
		return err
	}
	s.dispatcher.Reload()
	return nil
}

// CreateGoal validates and creates a goal. The created goal is inserted
// locally unless the stream has already delivered it.
func (s *Service) CreateGoal(ctx context.Context, in model.GoalCreate) (model.Goal, error) {
	if err := in.Validate(); err != nil {
		return model.Goal{}, err
	}
	if err := s.running(); err != nil {
		return model.Goal{}, err
	}

	g, err := s.api.CreateGoal(ctx, in)
	if err != nil {
		s.recordError(ctx, err)
		return model.Goal{}, fmt.Errorf("create goal: %w", err)
	}
	created := g.Clone()
	if err := s.dispatcher.Submit(ctx, model.Event{Type: model.EventGoalCreated, GoalID: g.ID, Goal: &created}); err != nil {
		s.logger.Warn(ctx, "local insert skipped", logger.Int("goal_id", g.ID), logger.Error(err))
	}
	return g, nil
}

// DeleteGoal deletes a goal, removes it locally and reloads the snapshot so
// statistics catch up.
func (s *Service) DeleteGoal(ctx context.Context, id int) error {
	if err := s.running(); err != nil {
		return err
	}
	if err := s.api.DeleteGoal(ctx, id); err != nil {
		s.recordError(ctx, err)
		return fmt.Errorf("delete goal %d: %w", id, err)
	}
	if err := s.dispatcher.Submit(ctx, model.Event{Type: model.EventGoalDeleted, GoalID: id}); err != nil {
		s.logger.Warn(ctx, "local remove skipped", logger.Int("goal_id", id), logger.Error(err))
	}
	s.dispatcher.Reload()
	return nil
}

// UpdateProgress posts a narrative update and returns the server's
// feedback. The goal itself is refreshed by the stream.
func (s *Service) UpdateProgress(ctx context.Context, id int, text string) (model.ProgressResult, error) {
	if err := (model.ProgressUpdate{Text: text}).Validate(); err != nil {
		return model.ProgressResult{}, err
	}
	if err := s.running(); err != nil {
		return model.ProgressResult{}, err
	}
	res, err := s.api.UpdateProgress(ctx, id, text)
	if err != nil {
		s.recordError(ctx, err)
		return model.ProgressResult{}, fmt.Errorf("update goal %d: %w", id, err)
	}
	return res, nil
}

// Send writes payload on the stream while connected; otherwise it is dropped.
func (s *Service) Send(ctx context.Context, payload []byte) bool {
	if s.running() != nil {
		return false
	}
	return s.conn.Send(ctx, payload)
}

func (s *Service) setLoading(v bool) {
	s.statusMu.Lock()
	s.loading = v
	s.statusMu.Unlock()
}

func (s *Service) recordError(ctx context.Context, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.statusMu.Lock()
	s.lastErr = err.Error()
	s.statusMu.Unlock()
	s.logger.Debug(ctx, "recorded error", logger.Error(err))
}

func (s *Service) connStateChanged(_ context.Context, st model.ConnState) {
	s.statusMu.Lock()
	s.connState = st
	s.statusMu.Unlock()
}

func (s *Service) snapshotApplied(ctx context.Context, snap model.Snapshot) { //nolint:gocritic // hugeParam: hook signature
	s.statusMu.Lock()
	s.loading = false
	s.lastErr = ""
	s.statusMu.Unlock()
	s.loadedOnce.Do(func() { close(s.loaded) })
	s.logger.Debug(ctx, "dashboard synced", logger.Int("goals", len(snap.Goals)))
}
