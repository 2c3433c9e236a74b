// Package api serves the local read API over the reconciled dashboard: goals,
// statistics, status and the mutations proxied through the controller.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/cors"

	service "github.com/okian/goalboard/internal/app"
	"github.com/okian/goalboard/internal/domain/model"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	Goals(ctx context.Context) []model.Goal
	Goal(ctx context.Context, id int) (model.Goal, error)
	CreateGoal(ctx context.Context, in model.GoalCreate) (model.Goal, error)
	DeleteGoal(ctx context.Context, id int) error
	UpdateProgress(ctx context.Context, id int, text string) (model.ProgressResult, error)

	Stats() *model.DashboardStats
	Status(ctx context.Context) service.Status
}

// Server wires HTTP routes for the local API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	goalsHandler  *GoalsHandler
	origins       []string
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithCORSOrigins allows browser clients from origins. "*" allows any.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(deps),
		goalsHandler:  NewGoalsHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /status", MetricsMiddleware(s.statsHandler.HandleStatus, "status"))

	mux.HandleFunc("GET /goals", MetricsMiddleware(s.goalsHandler.HandleList, "goals"))
	mux.HandleFunc("POST /goals", MetricsMiddleware(s.goalsHandler.HandleCreate, "goals"))
	mux.HandleFunc("GET /goals/{id}", MetricsMiddleware(s.goalsHandler.HandleGet, "goal"))
	mux.HandleFunc("DELETE /goals/{id}", MetricsMiddleware(s.goalsHandler.HandleDelete, "goal"))
	mux.HandleFunc("POST /goals/{id}/update", MetricsMiddleware(s.goalsHandler.HandleUpdate, "goal_update"))
}

// Handler returns every route behind the CORS policy.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	if len(s.origins) == 0 {
		return mux
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code, err := statusFor(err)
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}
