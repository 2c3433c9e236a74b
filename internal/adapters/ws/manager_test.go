package ws_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/goalboard/internal/adapters/ws"
	"github.com/okian/goalboard/internal/domain/model"
)

const waitFor = 2 * time.Second

type recordingSink struct {
	items chan model.Inbound
}

func newRecordingSink() *recordingSink {
	return &recordingSink{items: make(chan model.Inbound, 256)}
}

func (s *recordingSink) Enqueue(ctx context.Context, it model.Inbound) bool {
	select {
	case s.items <- it:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *recordingSink) next() (model.Inbound, bool) {
	select {
	case it := <-s.items:
		return it, true
	case <-time.After(waitFor):
		return model.Inbound{}, false
	}
}

func (s *recordingSink) nextState() model.ConnState {
	for {
		it, ok := s.next()
		if !ok {
			return model.ConnState(-1)
		}
		if it.Kind == model.InboundState {
			return it.State
		}
	}
}

type fakeConn struct {
	in       chan []byte
	closed   chan struct{}
	once     sync.Once
	mu       sync.Mutex
	written  []string
	deadline time.Time

	// when set, WriteMessage blocks until the connection is closed
	stall   bool
	writing chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{}), writing: make(chan struct{}, 1)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		if strings.HasPrefix(string(b), "bin:") {
			return websocket.BinaryMessage, b, nil
		}
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.stall {
		c.writing <- struct{}{}
		<-c.closed
		return errors.New("use of closed connection")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *fakeConn) writeDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

type fakeDialer struct {
	attempts atomic.Int32
	next     func(n int) (ws.Conn, error)
}

func (d *fakeDialer) DialContext(ctx context.Context, _ string, _ http.Header) (ws.Conn, *http.Response, error) {
	n := int(d.attempts.Add(1))
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	conn, err := d.next(n)
	return conn, nil, err
}

type fakeTimer struct {
	d       time.Duration
	c       chan time.Time
	stopped atomic.Bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }
func (t *fakeTimer) Stop() bool          { return !t.stopped.Swap(true) }
func (t *fakeTimer) fire()               { t.c <- time.Now() }

type timerFactory struct {
	timers chan *fakeTimer
}

func newTimerFactory() *timerFactory {
	return &timerFactory{timers: make(chan *fakeTimer, 16)}
}

func (f *timerFactory) new(d time.Duration) ws.Timer {
	t := &fakeTimer{d: d, c: make(chan time.Time, 1)}
	f.timers <- t
	return t
}

func (f *timerFactory) next() *fakeTimer {
	select {
	case t := <-f.timers:
		return t
	case <-time.After(waitFor):
		return nil
	}
}

func (f *timerFactory) none(within time.Duration) bool {
	select {
	case <-f.timers:
		return false
	case <-time.After(within):
		return true
	}
}

var errRefused = errors.New("connection refused")

func TestManager_ReconnectCadence(t *testing.T) {
	Convey("Given a manager whose dials always fail", t, func() {
		sink := newRecordingSink()
		timers := newTimerFactory()
		dialer := &fakeDialer{next: func(int) (ws.Conn, error) { return nil, errRefused }}
		m := ws.NewManager("ws://goals.test/ws", sink,
			ws.WithDialer(dialer),
			ws.WithTimerFunc(timers.new),
		)
		So(m.State(), ShouldEqual, model.Connecting)

		m.Start(context.Background())
		defer m.Close()

		Convey("Then each failure schedules exactly one attempt after the fixed delay", func() {
			for round := 1; round <= 3; round++ {
				So(sink.nextState(), ShouldEqual, model.Disconnected)

				timer := timers.next()
				So(timer, ShouldNotBeNil)
				So(timer.d, ShouldEqual, ws.DefaultReconnectDelay)
				So(timers.none(50*time.Millisecond), ShouldBeTrue)
				So(dialer.attempts.Load(), ShouldEqual, round)

				timer.fire()
				So(sink.nextState(), ShouldEqual, model.Connecting)
			}
		})
	})
}

func TestManager_Close(t *testing.T) {
	Convey("Given a manager waiting to reconnect", t, func() {
		sink := newRecordingSink()
		timers := newTimerFactory()
		dialer := &fakeDialer{next: func(int) (ws.Conn, error) { return nil, errRefused }}
		m := ws.NewManager("ws://goals.test/ws", sink,
			ws.WithDialer(dialer),
			ws.WithTimerFunc(timers.new),
			ws.WithReconnectDelay(time.Hour),
		)
		m.Start(context.Background())

		timer := timers.next()
		So(timer, ShouldNotBeNil)
		So(timer.d, ShouldEqual, time.Hour)

		Convey("When the manager is closed", func() {
			So(m.Close(), ShouldBeNil)

			Convey("Then the pending timer is stopped and no further dial happens", func() {
				So(timer.stopped.Load(), ShouldBeTrue)
				So(dialer.attempts.Load(), ShouldEqual, 1)
				So(timers.none(50*time.Millisecond), ShouldBeTrue)
				So(m.Close(), ShouldBeNil)
			})
		})
	})

	Convey("Given a manager that was never started", t, func() {
		m := ws.NewManager("ws://goals.test/ws", newRecordingSink())

		Convey("Then Close returns immediately", func() {
			So(m.Close(), ShouldBeNil)
		})
	})
}

func TestManager_Frames(t *testing.T) {
	Convey("Given a manager with a working connection", t, func() {
		sink := newRecordingSink()
		timers := newTimerFactory()
		conns := make(chan *fakeConn, 4)
		dialer := &fakeDialer{next: func(int) (ws.Conn, error) {
			c := newFakeConn()
			conns <- c
			return c, nil
		}}
		m := ws.NewManager("ws://goals.test/ws", sink, ws.WithDialer(dialer), ws.WithTimerFunc(timers.new))

		Convey("When sending before the handshake", func() {
			So(m.Send(context.Background(), []byte("early")), ShouldBeFalse)
		})

		m.Start(context.Background())
		defer m.Close()

		So(sink.nextState(), ShouldEqual, model.Connected)
		conn := <-conns

		Convey("When frames arrive", func() {
			conn.in <- []byte(`{"type":"a"}`)
			conn.in <- []byte("bin:ignored")
			conn.in <- []byte(`{"type":"b"}`)

			Convey("Then text frames are delivered once, in order", func() {
				first, ok := sink.next()
				So(ok, ShouldBeTrue)
				So(first.Kind, ShouldEqual, model.InboundFrame)
				So(string(first.Frame), ShouldEqual, `{"type":"a"}`)
				second, ok := sink.next()
				So(ok, ShouldBeTrue)
				So(string(second.Frame), ShouldEqual, `{"type":"b"}`)
			})
		})

		Convey("When sending while connected", func() {
			before := time.Now()
			So(m.Send(context.Background(), []byte("ping")), ShouldBeTrue)
			So(conn.sent(), ShouldResemble, []string{"ping"})

			Convey("Then the write carries a deadline", func() {
				d := conn.writeDeadline()
				So(d, ShouldHappenOnOrAfter, before.Add(ws.DefaultWriteTimeout))
				So(d, ShouldHappenOnOrBefore, time.Now().Add(ws.DefaultWriteTimeout))
			})
		})

		Convey("When the connection drops", func() {
			close(conn.in)

			Convey("Then the manager goes Disconnected, drops sends and reconnects after the delay", func() {
				So(sink.nextState(), ShouldEqual, model.Disconnected)
				timer := timers.next()
				So(timer, ShouldNotBeNil)
				So(m.Send(context.Background(), []byte("lost")), ShouldBeFalse)

				timer.fire()
				So(sink.nextState(), ShouldEqual, model.Connecting)
				So(sink.nextState(), ShouldEqual, model.Connected)
				So(dialer.attempts.Load(), ShouldEqual, 2)
			})
		})
	})
}

func TestManager_CloseDuringSend(t *testing.T) {
	Convey("Given a manager whose peer has stopped reading", t, func() {
		sink := newRecordingSink()
		conn := newFakeConn()
		conn.stall = true
		dialer := &fakeDialer{next: func(int) (ws.Conn, error) { return conn, nil }}
		m := ws.NewManager("ws://goals.test/ws", sink,
			ws.WithDialer(dialer),
			ws.WithTimerFunc(newTimerFactory().new),
		)
		m.Start(context.Background())
		So(sink.nextState(), ShouldEqual, model.Connected)

		sent := make(chan bool, 1)
		go func() { sent <- m.Send(context.Background(), []byte("stuck")) }()
		<-conn.writing

		Convey("When the manager is closed", func() {
			closed := make(chan error, 1)
			go func() { closed <- m.Close() }()

			Convey("Then Close returns and the blocked send fails", func() {
				select {
				case err := <-closed:
					So(err, ShouldBeNil)
				case <-time.After(waitFor):
					So("Close blocked behind Send", ShouldBeEmpty)
				}
				select {
				case ok := <-sent:
					So(ok, ShouldBeFalse)
				case <-time.After(waitFor):
					So("Send never returned", ShouldBeEmpty)
				}
			})
		})
	})

	Convey("Given a real endpoint that upgrades and never reads", t, func() {
		upgrader := websocket.Upgrader{}
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer c.Close()
			<-release
		}))
		defer srv.Close()
		defer close(release)

		sink := newRecordingSink()
		m := ws.NewManager("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", sink, ws.WithWriteTimeout(time.Minute))
		m.Start(context.Background())
		So(sink.nextState(), ShouldEqual, model.Connected)

		sent := make(chan bool, 1)
		go func() { sent <- m.Send(context.Background(), make([]byte, 64<<20)) }()
		time.Sleep(100 * time.Millisecond)

		Convey("Then Close tears the socket down without waiting for the write", func() {
			closed := make(chan error, 1)
			go func() { closed <- m.Close() }()
			select {
			case err := <-closed:
				So(err, ShouldBeNil)
			case <-time.After(3 * time.Second):
				So("Close blocked behind Send", ShouldBeEmpty)
			}
			select {
			case ok := <-sent:
				So(ok, ShouldBeFalse)
			case <-time.After(waitFor):
				So("Send never returned", ShouldBeEmpty)
			}
		})
	})

	Convey("Given a real endpoint that never reads and a short write timeout", t, func() {
		upgrader := websocket.Upgrader{}
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer c.Close()
			<-release
		}))
		defer srv.Close()
		defer close(release)

		sink := newRecordingSink()
		m := ws.NewManager("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", sink, ws.WithWriteTimeout(200*time.Millisecond))
		m.Start(context.Background())
		defer m.Close()
		So(sink.nextState(), ShouldEqual, model.Connected)

		Convey("Then an oversized send fails once the deadline passes", func() {
			start := time.Now()
			So(m.Send(context.Background(), make([]byte, 64<<20)), ShouldBeFalse)
			So(time.Since(start), ShouldBeLessThan, waitFor)
		})
	})
}

func TestManager_Gorilla(t *testing.T) {
	Convey("Given a real WebSocket endpoint", t, func() {
		upgrader := websocket.Upgrader{}
		received := make(chan string, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer c.Close()
			_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"goal_deleted","data":{"goal_id":1}}`))
			if _, msg, err := c.ReadMessage(); err == nil {
				received <- string(msg) + "|" + r.Header.Get("X-Client-ID")
			}
			_, _, _ = c.ReadMessage()
		}))
		defer srv.Close()

		sink := newRecordingSink()
		m := ws.NewManager("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", sink, ws.WithHeader("X-Client-ID", "c-1"))
		m.Start(context.Background())
		defer m.Close()

		Convey("Then the frame is delivered and sends reach the server", func() {
			So(sink.nextState(), ShouldEqual, model.Connected)
			it, ok := sink.next()
			So(ok, ShouldBeTrue)
			So(string(it.Frame), ShouldContainSubstring, "goal_deleted")

			So(m.Send(context.Background(), []byte("hello")), ShouldBeTrue)
			select {
			case got := <-received:
				So(got, ShouldEqual, "hello|c-1")
			case <-time.After(waitFor):
				So("timeout", ShouldBeEmpty)
			}
		})
	})
}
