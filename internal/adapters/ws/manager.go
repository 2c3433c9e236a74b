// Package ws owns the single reconnecting WebSocket to the goal service.
//
// The Manager runs a small state machine:
//
//	Connecting -> Connected     handshake succeeded
//	Connecting -> Disconnected  dial failed
//	Connected  -> Disconnected  read error or close
//	Disconnected -> Connecting  after a fixed delay, forever
//
// Every inbound text frame and every state transition is put, in order, on
// the sink the Manager was built with.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/pkg/logger"
	"github.com/okian/goalboard/pkg/metrics"
)

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
const DefaultReconnectDelay = 3 * time.Second

// DefaultWriteTimeout bounds a single Send.
const DefaultWriteTimeout = 10 * time.Second

const closeWriteTimeout = time.Second

// Sink receives inbound items. queue.InMemoryQueue satisfies it.
type Sink interface {
	Enqueue(ctx context.Context, it model.Inbound) bool
}

// Manager owns one persistent connection and its reconnect loop.
type Manager struct {
	url    string
	header http.Header
	sink   Sink

	dialer       Dialer
	delay        time.Duration
	writeTimeout time.Duration
	newTimer     TimerFunc
	logger       logger.Logger

	state atomic.Int32

	mu   sync.Mutex // guards conn; never held across I/O
	conn Conn

	writeMu sync.Mutex // serializes data frames

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a Manager for url. Call Start to begin connecting.
func NewManager(url string, sink Sink, opts ...Option) *Manager {
	m := &Manager{
		url:          url,
		sink:         sink,
		header:       http.Header{},
		dialer:       NewGorillaDialer(websocket.DefaultDialer),
		delay:        DefaultReconnectDelay,
		writeTimeout: DefaultWriteTimeout,
		newTimer:     newRealTimer,
		logger:       logger.Nop(),
		cancel:       func() {},
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Store(int32(model.Connecting))
	return m
}

// Start launches the connection loop. It is safe to call more than once.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		m.cancel = cancel
		m.mu.Unlock()
		go m.run(ctx)
	})
}

// State returns the current connection state.
func (m *Manager) State() model.ConnState {
	return model.ConnState(m.state.Load())
}

// Send writes payload as a text frame while Connected. Otherwise the payload
// is dropped without error; the return value only reports whether it was written.
// A write that cannot finish within the write timeout fails, and Close never
// waits for an in-flight Send.
func (m *Manager) Send(ctx context.Context, payload []byte) bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if m.State() != model.Connected || conn == nil {
		metrics.RecordSendDropped()
		m.logger.Debug(ctx, "send dropped; not connected", logger.String("state", m.State().String()))
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	deadline := time.Now().Add(m.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		metrics.RecordSendDropped()
		m.logger.Warn(ctx, "send failed", logger.Error(err))
		return false
	}
	metrics.RecordFrameSent()
	return true
}

// Close tears the connection down: the active socket is closed, a pending
// reconnect timer is cancelled and the loop has exited when Close returns.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.startOnce.Do(func() { close(m.done) }) // never started: nothing to wait for

		m.mu.Lock()
		cancel := m.cancel
		m.mu.Unlock()

		cancel()
		m.closeConn()
		<-m.done
	})
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for {
		m.setState(ctx, model.Connecting)

		conn, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn(ctx, "connect failed", logger.String("url", m.url), logger.Error(err))
			m.setState(ctx, model.Disconnected)
			if !m.wait(ctx) {
				return
			}
			continue
		}

		m.setState(ctx, model.Connected)
		err = m.readLoop(ctx, conn)
		m.dropConn(conn)
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn(ctx, "connection lost", logger.Error(err))
		m.setState(ctx, model.Disconnected)
		if !m.wait(ctx) {
			return
		}
	}
}

// connect dials once. Calling it again after a failure re-establishes the
// connection; an existing healthy connection is never replaced.
func (m *Manager) connect(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	if m.conn != nil {
		conn := m.conn
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	conn, resp, err := m.dialer.DialContext(ctx, m.url, m.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
		return nil, ctx.Err()
	}
	m.conn = conn
	m.logger.Info(ctx, "connected", logger.String("url", m.url))
	return conn, nil
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			m.logger.Debug(ctx, "ignoring non-text frame", logger.Int("type", mt))
			continue
		}
		metrics.RecordFrameReceived()
		if !m.sink.Enqueue(ctx, model.Inbound{Kind: model.InboundFrame, Frame: data, ReceivedAt: time.Now()}) {
			return errSinkClosed
		}
	}
}

var errSinkClosed = errors.New("inbound sink closed")

// wait blocks for one reconnect delay. It returns false when ctx ends first,
// in which case the timer is stopped and no attempt follows.
func (m *Manager) wait(ctx context.Context) bool {
	metrics.RecordReconnectAttempt()
	m.logger.Info(ctx, "reconnect scheduled", logger.Duration("delay", m.delay))

	t := m.newTimer(m.delay)
	defer t.Stop()

	select {
	case <-t.C():
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) setState(ctx context.Context, s model.ConnState) {
	if model.ConnState(m.state.Swap(int32(s))) == s {
		return
	}
	metrics.UpdateConnectionState(int(s))
	m.logger.Debug(ctx, "connection state", logger.String("state", s.String()))
	if ctx.Err() != nil {
		return
	}
	m.sink.Enqueue(ctx, model.Inbound{Kind: model.InboundState, State: s, ReceivedAt: time.Now()})
}

func (m *Manager) dropConn(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == conn {
		m.conn = nil
	}
	_ = conn.Close()
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return
	}
	// WriteControl may run concurrently with a blocked WriteMessage; Close
	// then unblocks that writer.
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout))
	_ = conn.Close()
}
