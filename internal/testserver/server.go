// Package testserver is an in-process goal service: the REST endpoints and
// the /ws change stream the dashboard client consumes. Tests use it through
// NewHTTPTest; the fake-server command serves it on a real port.
package testserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/pkg/logger"
)

// Server holds the goal service state.
type Server struct {
	mu          sync.Mutex
	goals       []model.Goal
	nextGoalID  int
	nextEntryID int
	now         func() time.Time

	hub    *hub
	router chi.Router
	logger logger.Logger

	dashboardFailures atomic.Int32
	dashboardCalls    atomic.Int32
	dashboardGate     atomic.Pointer[chan struct{}]
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithLogger sets a custom logger for the server.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Server with no goals.
func New(opts ...Option) *Server {
	s := &Server{
		nextGoalID:  1,
		nextEntryID: 1,
		now:         time.Now,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.logger)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Get("/dashboard", s.dashboard)
	r.Get("/ws", s.hub.serve)

	r.Route("/goals", func(r chi.Router) {
		r.Get("/", s.listGoals)
		r.Post("/", s.createGoal)
		r.Get("/{id}", s.getGoal)
		r.Delete("/{id}", s.deleteGoal)
		r.Post("/{id}/update", s.updateProgress)
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Seed adds goals as if they had been created, without broadcasting.
// Goals with no id get the next free one.
func (s *Server) Seed(goals ...model.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range goals {
		if g.ID == 0 {
			g.ID = s.nextGoalID
		}
		if g.ID >= s.nextGoalID {
			s.nextGoalID = g.ID + 1
		}
		if g.Status == "" {
			g.Status = model.StatusActive
		}
		if g.CreatedAt.IsZero() {
			g.CreatedAt = model.Timestamp{Time: s.now().UTC()}
			g.UpdatedAt = g.CreatedAt
		}
		s.goals = append(s.goals, g.Clone())
	}
}

// Goals returns the server-side goals.
func (s *Server) Goals() []model.Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Goal, len(s.goals))
	for i, g := range s.goals {
		out[i] = g.Clone()
	}
	return out
}

// Broadcast sends one {type, data} frame to every stream client.
func (s *Server) Broadcast(t model.EventType, data any) {
	s.hub.broadcast(t, data)
}

// BroadcastRaw sends frame verbatim to every stream client.
func (s *Server) BroadcastRaw(frame []byte) {
	s.hub.send(frame)
}

// Clients returns the number of connected stream clients.
func (s *Server) Clients() int { return s.hub.len() }

// DropClients closes every stream connection.
func (s *Server) DropClients() { s.hub.closeAll() }

// FailDashboard makes the next n /dashboard requests return 500.
func (s *Server) FailDashboard(n int) { s.dashboardFailures.Store(int32(n)) }

// DashboardCalls returns how many /dashboard requests were served.
func (s *Server) DashboardCalls() int { return int(s.dashboardCalls.Load()) }

// HoldDashboard makes /dashboard wait until the returned func is called.
// The snapshot is taken before waiting.
func (s *Server) HoldDashboard() (release func()) {
	gate := make(chan struct{})
	s.dashboardGate.Store(&gate)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.dashboardGate.CompareAndSwap(&gate, nil)
			close(gate)
		})
	}
}

// Test wraps a Server running on an httptest listener.
type Test struct {
	*Server
	HTTP *httptest.Server
}

// NewHTTPTest starts a Server on a local port.
func NewHTTPTest(opts ...Option) *Test {
	s := New(opts...)
	return &Test{Server: s, HTTP: httptest.NewServer(s.Handler())}
}

// URL is the base URL, e.g. http://127.0.0.1:port.
func (t *Test) URL() string { return t.HTTP.URL }

// WSURL is the stream URL.
func (t *Test) WSURL() string { return "ws" + strings.TrimPrefix(t.HTTP.URL, "http") + "/ws" }

// Close drops stream clients and stops the listener.
func (t *Test) Close() {
	t.DropClients()
	t.HTTP.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}
