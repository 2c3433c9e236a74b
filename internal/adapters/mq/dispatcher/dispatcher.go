// Package dispatcher is the single consumer of the inbound queue. It decodes
// frames, applies events to the goal store and owns snapshot windows.
//
// Every store mutation happens on the Run goroutine: stream events, local
// confirmations, snapshot bulk loads and replays. While a snapshot fetch is
// in flight, events are applied live and also recorded; when the fetch
// resolves the snapshot is bulk loaded and the recorded events are replayed
// in order, so an event that raced the fetch is never lost.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/pkg/logger"
	"github.com/okian/goalboard/pkg/metrics"
)

const (
	defaultMaxReplay = 10000
	shutdownTimeout  = 5 * time.Second
)

// Queue is the inbound side the dispatcher consumes and local events are
// submitted to.
type Queue interface {
	Enqueue(ctx context.Context, it model.Inbound) bool
	Dequeue(ctx context.Context) <-chan model.Inbound
}

// Store is the subset of the goal store the dispatcher writes to.
type Store interface {
	Upsert(ctx context.Context, goal model.Goal)
	InsertIfAbsent(ctx context.Context, goal model.Goal) bool
	Remove(ctx context.Context, id int)
}

// Snapshotter fetches a snapshot off the dispatcher goroutine and applies it
// on it.
type Snapshotter interface {
	Fetch(ctx context.Context) (model.Snapshot, error)
	Apply(ctx context.Context, snap model.Snapshot)
}

type fetchResult struct {
	gen  uint64
	snap model.Snapshot
	err  error
}

// window records events applied while a snapshot fetch is in flight.
type window struct {
	gen   uint64
	log   []model.Event
	rerun bool
}

// Dispatcher applies inbound items to the store one at a time.
type Dispatcher struct {
	queue     Queue
	store     Store
	snapshots Snapshotter

	maxReplay  int
	retryDelay time.Duration
	onError    func(ctx context.Context, err error)
	onSnapshot func(ctx context.Context, snap model.Snapshot)
	onState    func(ctx context.Context, s model.ConnState)
	logger     logger.Logger

	reloads chan struct{}
	results chan fetchResult

	// owned by Run
	win       *window
	gen       uint64
	loaded    bool
	connected bool
	retry     *time.Timer
	fetches   sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}
	done         chan struct{}
}

// New creates a Dispatcher. Call Run to start consuming.
func New(q Queue, store Store, snapshots Snapshotter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:      q,
		store:      store,
		snapshots:  snapshots,
		maxReplay:  defaultMaxReplay,
		onError:    func(context.Context, error) {},
		onSnapshot: func(context.Context, model.Snapshot) {},
		onState:    func(context.Context, model.ConnState) {},
		logger:     logger.Nop(),
		reloads:    make(chan struct{}, 1),
		results:    make(chan fetchResult),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reload asks for a snapshot fetch. Requests made while one is already in
// flight are coalesced into a single follow-up fetch.
func (d *Dispatcher) Reload() {
	select {
	case d.reloads <- struct{}{}:
	default:
	}
}

// Submit puts a locally confirmed event on the queue so it is applied in
// order with the stream.
func (d *Dispatcher) Submit(ctx context.Context, ev model.Event) error { //nolint:gocritic // hugeParam: copied onto the queue
	ev.Origin = model.OriginLocal
	if !d.queue.Enqueue(ctx, model.Inbound{Kind: model.InboundLocal, Event: &ev, ReceivedAt: time.Now()}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrShutdown
	}
	return nil
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Run consumes the queue until ctx is cancelled, the queue is closed or
// Shutdown is called.
func (d *Dispatcher) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		if d.retry != nil {
			d.retry.Stop()
		}
		d.fetches.Wait()
		close(d.done)
	}()

	items := d.queue.Dequeue(ctx)
	for {
		var retryC <-chan time.Time
		if d.retry != nil {
			retryC = d.retry.C
		}

		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case it, ok := <-items:
			if !ok {
				return
			}
			d.handle(ctx, it)
		case <-d.reloads:
			d.requestSnapshot(ctx)
		case res := <-d.results:
			d.finishSnapshot(ctx, res)
		case <-retryC:
			d.retry = nil
			d.requestSnapshot(ctx)
		}
	}
}

// Shutdown stops Run and waits for it to return.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() { close(d.shutdown) })

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (d *Dispatcher) handle(ctx context.Context, it model.Inbound) { //nolint:gocritic // hugeParam: received by value from the channel
	switch it.Kind {
	case model.InboundFrame:
		ev, err := Decode(it.Frame)
		switch {
		case errors.Is(err, ErrUnknownEvent):
			metrics.RecordEventUnknown()
			d.logger.Debug(ctx, "ignoring event", logger.String("type", string(ev.Type)))
			return
		case err != nil:
			metrics.RecordDecodeError()
			metrics.RecordErrorByComponent("dispatcher", "decode_error")
			d.logger.Warn(ctx, "dropping frame", logger.Error(err))
			d.onError(ctx, err)
			return
		}
		d.applyLive(ctx, ev)

	case model.InboundLocal:
		if it.Event != nil {
			d.applyLive(ctx, *it.Event)
		}

	case model.InboundState:
		d.handleState(ctx, it.State)
	}
}

func (d *Dispatcher) handleState(ctx context.Context, s model.ConnState) {
	d.onState(ctx, s)
	if s != model.Connected {
		return
	}
	if d.connected {
		// events emitted while we were away are never replayed by the server
		d.logger.Info(ctx, "reconnected; resyncing")
		d.requestSnapshot(ctx)
	}
	d.connected = true
}

func (d *Dispatcher) applyLive(ctx context.Context, ev model.Event) { //nolint:gocritic // hugeParam: events are small
	d.apply(ctx, ev)
	metrics.RecordEventApplied(string(ev.Type))

	if d.win == nil {
		return
	}
	if len(d.win.log) >= d.maxReplay {
		metrics.RecordReplayOverflow()
		d.logger.Warn(ctx, "replay log full; refetching snapshot", logger.Int("max_replay_events", d.maxReplay))
		rerun := d.win.rerun
		d.win = nil
		d.requestSnapshot(ctx)
		d.win.rerun = rerun
		return
	}
	d.win.log = append(d.win.log, ev)
}

func (d *Dispatcher) apply(ctx context.Context, ev model.Event) { //nolint:gocritic // hugeParam: events are small
	switch ev.Type {
	case model.EventGoalCreated, model.EventGoalUpdated, model.EventProgressUpdated:
		if ev.Goal == nil {
			return
		}
		if ev.Origin == model.OriginLocal {
			d.store.InsertIfAbsent(ctx, *ev.Goal)
			return
		}
		d.store.Upsert(ctx, *ev.Goal)
	case model.EventGoalDeleted:
		d.store.Remove(ctx, ev.GoalID)
	}
}

func (d *Dispatcher) requestSnapshot(ctx context.Context) {
	if d.win != nil {
		d.win.rerun = true
		return
	}
	if d.retry != nil {
		d.retry.Stop()
		d.retry = nil
	}

	d.gen++
	d.win = &window{gen: d.gen}
	gen := d.gen

	d.fetches.Add(1)
	go func() {
		defer d.fetches.Done()
		snap, err := d.snapshots.Fetch(ctx)
		select {
		case d.results <- fetchResult{gen: gen, snap: snap, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (d *Dispatcher) finishSnapshot(ctx context.Context, res fetchResult) { //nolint:gocritic // hugeParam: received by value from the channel
	if d.win == nil || res.gen != d.win.gen {
		d.logger.Debug(ctx, "discarding stale snapshot")
		return
	}
	win := d.win
	d.win = nil

	if res.err != nil {
		metrics.RecordErrorByComponent("dispatcher", "snapshot_error")
		d.logger.Error(ctx, "snapshot fetch failed", logger.Error(res.err))
		d.onError(ctx, fmt.Errorf("%w: %w", ErrSnapshot, res.err))
		if win.rerun {
			d.requestSnapshot(ctx)
		} else if !d.loaded && d.retryDelay > 0 {
			d.retry = time.NewTimer(d.retryDelay)
		}
		return
	}

	d.snapshots.Apply(ctx, res.snap)
	for _, ev := range win.log {
		d.apply(ctx, ev)
	}
	metrics.RecordEventsReplayed(len(win.log))
	d.loaded = true
	d.logger.Info(ctx, "snapshot applied",
		logger.Int("goals", len(res.snap.Goals)),
		logger.Int("replayed", len(win.log)),
	)
	d.onSnapshot(ctx, res.snap)

	if win.rerun {
		d.requestSnapshot(ctx)
	}
}
