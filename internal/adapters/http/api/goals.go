package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/goalboard/internal/domain/model"
)

// GoalsDependencies defines the goal operations the handlers need.
type GoalsDependencies interface {
	Goals(ctx context.Context) []model.Goal
	Goal(ctx context.Context, id int) (model.Goal, error)
	CreateGoal(ctx context.Context, in model.GoalCreate) (model.Goal, error)
	DeleteGoal(ctx context.Context, id int) error
	UpdateProgress(ctx context.Context, id int, text string) (model.ProgressResult, error)
}

// GoalsHandler handles /goals requests.
type GoalsHandler struct {
	deps GoalsDependencies
}

// NewGoalsHandler creates a new goals handler.
func NewGoalsHandler(deps GoalsDependencies) *GoalsHandler {
	return &GoalsHandler{deps: deps}
}

// HandleList handles GET /goals.
func (h *GoalsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	goals := h.deps.Goals(r.Context())
	if goals == nil {
		goals = []model.Goal{}
	}
	writeJSON(w, http.StatusOK, goals)
}

// HandleGet handles GET /goals/{id}.
func (h *GoalsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	g, err := h.deps.Goal(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleCreate handles POST /goals.
func (h *GoalsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in model.GoalCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	g, err := h.deps.CreateGoal(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// HandleDelete handles DELETE /goals/{id}.
func (h *GoalsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.DeleteGoal(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpdate handles POST /goals/{id}/update.
func (h *GoalsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in model.ProgressUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	res, err := h.deps.UpdateProgress(r.Context(), id, in.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func pathID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: goal id must be a positive integer", ErrBadRequest)
	}
	return id, nil
}
