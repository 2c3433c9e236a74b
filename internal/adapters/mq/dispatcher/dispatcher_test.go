package dispatcher_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/goalboard/internal/adapters/mq/dispatcher"
	"github.com/okian/goalboard/internal/adapters/mq/queue"
	"github.com/okian/goalboard/internal/adapters/repository"
	"github.com/okian/goalboard/internal/domain/model"
)

const waitFor = 2 * time.Second

type fetchReply struct {
	snap model.Snapshot
	err  error
}

// scriptedSnapshots hands every Fetch to the test, which answers it.
type scriptedSnapshots struct {
	store   *repository.GoalStore
	pending chan chan fetchReply
	calls   atomic.Int32
}

func newScriptedSnapshots(store *repository.GoalStore) *scriptedSnapshots {
	return &scriptedSnapshots{store: store, pending: make(chan chan fetchReply, 8)}
}

func (s *scriptedSnapshots) Fetch(ctx context.Context) (model.Snapshot, error) {
	s.calls.Add(1)
	reply := make(chan fetchReply, 1)
	s.pending <- reply
	select {
	case r := <-reply:
		return r.snap, r.err
	case <-ctx.Done():
		return model.Snapshot{}, ctx.Err()
	}
}

func (s *scriptedSnapshots) Apply(ctx context.Context, snap model.Snapshot) {
	s.store.BulkLoad(ctx, snap.Goals)
}

func (s *scriptedSnapshots) next() chan fetchReply {
	select {
	case r := <-s.pending:
		return r
	case <-time.After(waitFor):
		return nil
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func goal(id int, title string) model.Goal {
	return model.Goal{ID: id, Title: title, Status: model.StatusActive}
}

func frame(s string) model.Inbound {
	return model.Inbound{Kind: model.InboundFrame, Frame: []byte(s), ReceivedAt: time.Now()}
}

func created(id int, title string) model.Inbound {
	return frame(fmt.Sprintf(`{"type":"goal_created","data":{"id":%d,"title":%q,"status":"active"}}`, id, title))
}

func ids(goals []model.Goal) []int {
	out := make([]int, 0, len(goals))
	for _, g := range goals {
		out = append(out, g.ID)
	}
	return out
}

type harness struct {
	ctx       context.Context
	queue     *queue.InMemoryQueue
	store     *repository.GoalStore
	snapshots *scriptedSnapshots
	d         *dispatcher.Dispatcher

	mu     sync.Mutex
	errs   []error
	loaded chan model.Snapshot
}

func newHarness(t *testing.T, opts ...dispatcher.Option) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		ctx:    ctx,
		queue:  queue.NewInMemoryQueue(queue.WithCapacity(64)),
		store:  repository.NewGoalStore(),
		loaded: make(chan model.Snapshot, 8),
	}
	h.snapshots = newScriptedSnapshots(h.store)
	opts = append([]dispatcher.Option{
		dispatcher.WithErrorHandler(func(_ context.Context, err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		}),
		dispatcher.WithSnapshotHook(func(_ context.Context, snap model.Snapshot) { h.loaded <- snap }),
	}, opts...)
	h.d = dispatcher.New(h.queue, h.store, h.snapshots, opts...)
	go h.d.Run(ctx)

	t.Cleanup(func() {
		_ = h.d.Shutdown(context.Background())
		cancel()
		_ = h.queue.Close()
	})
	return h
}

func (h *harness) send(items ...model.Inbound) {
	for _, it := range items {
		h.queue.Enqueue(h.ctx, it)
	}
}

func (h *harness) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

// load runs one full snapshot cycle with goals.
func (h *harness) load(goals ...model.Goal) bool {
	h.d.Reload()
	reply := h.snapshots.next()
	if reply == nil {
		return false
	}
	reply <- fetchReply{snap: model.Snapshot{Goals: goals}}
	select {
	case <-h.loaded:
		return true
	case <-time.After(waitFor):
		return false
	}
}

func (h *harness) has(id int) func() bool {
	return func() bool {
		_, err := h.store.Get(h.ctx, id)
		return err == nil
	}
}

func TestDispatcher_Scenarios(t *testing.T) {
	Convey("Given a running dispatcher", t, func() {
		h := newHarness(t)

		Convey("Scenario A: an empty snapshot leaves the store empty", func() {
			So(h.load(), ShouldBeTrue)
			So(h.store.Len(h.ctx), ShouldEqual, 0)
		})

		Convey("Scenario B: a created event after the snapshot adds the goal", func() {
			So(h.load(goal(1, "Run")), ShouldBeTrue)
			h.send(created(2, "Read"))
			So(eventually(h.has(2)), ShouldBeTrue)
			So(ids(h.store.List(h.ctx)), ShouldResemble, []int{1, 2})
		})

		Convey("Scenario C: progress_updated replaces the goal", func() {
			So(h.load(goal(1, "Run")), ShouldBeTrue)
			h.send(frame(`{"type":"progress_updated","data":{"goal_id":1,"feedback":"nice",
				"updated_goal":{"id":1,"title":"Run","status":"active","progress_percentage":75}}}`))
			So(eventually(func() bool {
				g, err := h.store.Get(h.ctx, 1)
				return err == nil && g.ProgressPercentage == 75
			}), ShouldBeTrue)
		})

		Convey("Scenario D: goal_deleted removes only that goal", func() {
			So(h.load(goal(1, "Run"), goal(2, "Read")), ShouldBeTrue)
			h.send(frame(`{"type":"goal_deleted","data":{"goal_id":1}}`))
			So(eventually(func() bool { return !h.has(1)() }), ShouldBeTrue)
			So(ids(h.store.List(h.ctx)), ShouldResemble, []int{2})
		})

		Convey("goal_updated replaces every field", func() {
			So(h.load(model.Goal{ID: 1, Title: "Run", Description: "5k", Category: "health"}), ShouldBeTrue)
			h.send(frame(`{"type":"goal_updated","data":{"id":1,"title":"Run far","status":"paused"}}`))
			So(eventually(func() bool {
				g, _ := h.store.Get(h.ctx, 1)
				return g.Title == "Run far"
			}), ShouldBeTrue)
			g, _ := h.store.Get(h.ctx, 1)
			So(g.Description, ShouldBeEmpty)
			So(g.Category, ShouldBeEmpty)
			So(g.Status, ShouldEqual, model.StatusPaused)
		})

		Convey("Unknown and malformed frames", func() {
			So(h.load(goal(1, "Run")), ShouldBeTrue)
			h.send(
				frame(`{"type":"unknown","data":{}}`),
				frame(`{not json`),
				frame(`{"type":"goal_created","data":{"title":"no id"}}`),
				created(3, "after"),
			)

			Convey("Then the store is untouched by them and the loop keeps going", func() {
				So(eventually(h.has(3)), ShouldBeTrue)
				So(ids(h.store.List(h.ctx)), ShouldResemble, []int{1, 3})

				errs := h.errors()
				So(len(errs), ShouldEqual, 2)
				for _, err := range errs {
					var de *dispatcher.DecodeError
					So(errors.As(err, &de), ShouldBeTrue)
					So(errors.Is(err, dispatcher.ErrMalformedEvent), ShouldBeTrue)
				}
			})
		})
	})
}

func TestDispatcher_ReplayWindow(t *testing.T) {
	Convey("Given a snapshot fetch in flight", t, func() {
		h := newHarness(t)
		h.d.Reload()
		reply := h.snapshots.next()
		So(reply, ShouldNotBeNil)

		Convey("When a goal is created before the stale snapshot lands", func() {
			h.send(created(2, "Read"))
			So(eventually(h.has(2)), ShouldBeTrue)

			reply <- fetchReply{snap: model.Snapshot{Goals: []model.Goal{goal(1, "Run")}}}
			<-h.loaded

			Convey("Then the bulk load does not drop it", func() {
				So(ids(h.store.List(h.ctx)), ShouldResemble, []int{1, 2})
			})
		})

		Convey("When a goal in the snapshot is deleted during the fetch", func() {
			h.send(frame(`{"type":"goal_deleted","data":{"goal_id":1}}`), created(9, "marker"))
			So(eventually(h.has(9)), ShouldBeTrue)

			reply <- fetchReply{snap: model.Snapshot{Goals: []model.Goal{goal(1, "Run"), goal(2, "Read")}}}
			<-h.loaded

			Convey("Then it stays deleted", func() {
				So(ids(h.store.List(h.ctx)), ShouldResemble, []int{2, 9})
			})
		})

		Convey("When the fetch fails", func() {
			reply <- fetchReply{err: errors.New("boom")}

			Convey("Then the error is reported and the store is left alone", func() {
				So(eventually(func() bool { return len(h.errors()) == 1 }), ShouldBeTrue)
				So(errors.Is(h.errors()[0], dispatcher.ErrSnapshot), ShouldBeTrue)
				So(h.store.Len(h.ctx), ShouldEqual, 0)
			})
		})

		Convey("When another reload is requested meanwhile", func() {
			h.d.Reload()
			reply <- fetchReply{snap: model.Snapshot{Goals: []model.Goal{goal(1, "Run")}}}
			<-h.loaded

			Convey("Then exactly one follow-up fetch runs", func() {
				second := h.snapshots.next()
				So(second, ShouldNotBeNil)
				second <- fetchReply{snap: model.Snapshot{Goals: []model.Goal{goal(1, "Run"), goal(2, "Read")}}}
				<-h.loaded
				So(h.snapshots.calls.Load(), ShouldEqual, 2)
				So(h.store.Len(h.ctx), ShouldEqual, 2)
			})
		})
	})
}

func TestDispatcher_ReplayOverflow(t *testing.T) {
	Convey("Given a replay log of one event", t, func() {
		h := newHarness(t, dispatcher.WithMaxReplay(1))
		h.d.Reload()
		first := h.snapshots.next()
		So(first, ShouldNotBeNil)

		Convey("When two events arrive during the fetch", func() {
			h.send(created(2, "a"), created(3, "b"))

			Convey("Then the fetch is re-issued and the stale result discarded", func() {
				second := h.snapshots.next()
				So(second, ShouldNotBeNil)
				So(h.snapshots.calls.Load(), ShouldEqual, 2)

				first <- fetchReply{snap: model.Snapshot{Goals: []model.Goal{goal(1, "stale")}}}
				second <- fetchReply{snap: model.Snapshot{Goals: []model.Goal{goal(1, "Run"), goal(2, "a"), goal(3, "b")}}}
				snap := <-h.loaded
				So(len(snap.Goals), ShouldEqual, 3)
				So(ids(h.store.List(h.ctx)), ShouldResemble, []int{1, 2, 3})
			})
		})
	})
}

func TestDispatcher_Connection(t *testing.T) {
	Convey("Given a dispatcher tracking connection state", t, func() {
		var states []model.ConnState
		var mu sync.Mutex
		h := newHarness(t, dispatcher.WithStateHook(func(_ context.Context, s model.ConnState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}))
		state := func(s model.ConnState) model.Inbound {
			return model.Inbound{Kind: model.InboundState, State: s}
		}

		Convey("When the first connect happens", func() {
			h.send(state(model.Connected))
			So(eventually(func() bool { mu.Lock(); defer mu.Unlock(); return len(states) == 1 }), ShouldBeTrue)

			Convey("Then no resync is issued", func() {
				time.Sleep(20 * time.Millisecond)
				So(h.snapshots.calls.Load(), ShouldEqual, 0)
			})

			Convey("And when the connection comes back after a drop", func() {
				h.send(state(model.Disconnected), state(model.Connecting), state(model.Connected))

				Convey("Then a snapshot is fetched again", func() {
					reply := h.snapshots.next()
					So(reply, ShouldNotBeNil)
					reply <- fetchReply{snap: model.Snapshot{Goals: []model.Goal{goal(4, "missed")}}}
					<-h.loaded
					So(h.has(4)(), ShouldBeTrue)

					mu.Lock()
					So(states, ShouldResemble, []model.ConnState{
						model.Connected, model.Disconnected, model.Connecting, model.Connected,
					})
					mu.Unlock()
				})
			})
		})
	})
}

func TestDispatcher_LocalEvents(t *testing.T) {
	Convey("Given a goal already streamed in", t, func() {
		h := newHarness(t)
		So(h.load(goal(1, "streamed")), ShouldBeTrue)

		Convey("When a local confirmation for the same id is submitted", func() {
			g := goal(1, "stale local")
			So(h.d.Submit(h.ctx, model.Event{Type: model.EventGoalCreated, GoalID: 1, Goal: &g}), ShouldBeNil)
			g2 := goal(5, "new")
			So(h.d.Submit(h.ctx, model.Event{Type: model.EventGoalCreated, GoalID: 5, Goal: &g2}), ShouldBeNil)

			Convey("Then it never overwrites the streamed value", func() {
				So(eventually(h.has(5)), ShouldBeTrue)
				got, _ := h.store.Get(h.ctx, 1)
				So(got.Title, ShouldEqual, "streamed")
			})
		})

		Convey("When a local delete is submitted", func() {
			So(h.d.Submit(h.ctx, model.Event{Type: model.EventGoalDeleted, GoalID: 1}), ShouldBeNil)
			So(eventually(func() bool { return h.store.Len(h.ctx) == 0 }), ShouldBeTrue)
		})
	})
}

func TestDispatcher_InitialRetry(t *testing.T) {
	Convey("Given the first snapshot fetch fails", t, func() {
		h := newHarness(t, dispatcher.WithSnapshotRetry(10*time.Millisecond))
		h.d.Reload()
		first := h.snapshots.next()
		So(first, ShouldNotBeNil)
		first <- fetchReply{err: errors.New("service down")}

		Convey("Then it is retried until it succeeds", func() {
			second := h.snapshots.next()
			So(second, ShouldNotBeNil)
			second <- fetchReply{snap: model.Snapshot{Goals: []model.Goal{goal(1, "Run")}}}
			<-h.loaded
			So(h.store.Len(h.ctx), ShouldEqual, 1)
		})

		Convey("And later failures are not retried once loaded", func() {
			second := h.snapshots.next()
			second <- fetchReply{snap: model.Snapshot{}}
			<-h.loaded

			h.d.Reload()
			third := h.snapshots.next()
			third <- fetchReply{err: errors.New("again")}
			time.Sleep(50 * time.Millisecond)
			So(h.snapshots.calls.Load(), ShouldEqual, 3)
		})
	})
}

func TestDispatcher_Shutdown(t *testing.T) {
	Convey("Given a dispatcher with a fetch in flight", t, func() {
		h := newHarness(t)
		h.d.Reload()
		So(h.snapshots.next(), ShouldNotBeNil)

		Convey("Then Shutdown returns and Done is closed", func() {
			So(h.d.Shutdown(context.Background()), ShouldBeNil)
			select {
			case <-h.d.Done():
			case <-time.After(waitFor):
				So("not done", ShouldBeEmpty)
			}
		})
	})
}
