package api

import (
	"context"
	"net/http"

	service "github.com/okian/goalboard/internal/app"
	"github.com/okian/goalboard/internal/domain/model"
)

// StatsProvider exposes statistics and sync status.
type StatsProvider interface {
	Stats() *model.DashboardStats
	Status(ctx context.Context) service.Status
}

// StatsHandler handles stats and status requests.
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// HandleStats handles GET /stats. Before the first snapshot there is
// nothing to show and the reply is 204.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	stats := h.provider.Stats()
	if stats == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleStatus handles GET /status.
func (h *StatsHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Status(r.Context()))
}
