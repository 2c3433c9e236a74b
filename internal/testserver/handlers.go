package testserver

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/okian/goalboard/internal/domain/model"
)

const defaultStep = 10.0

var percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func (s *Server) dashboard(w http.ResponseWriter, _ *http.Request) {
	s.dashboardCalls.Add(1)
	if n := s.dashboardFailures.Load(); n > 0 && s.dashboardFailures.CompareAndSwap(n, n-1) {
		writeDetail(w, http.StatusInternalServerError, "dashboard unavailable")
		return
	}

	snap := s.snapshot()
	if gate := s.dashboardGate.Load(); gate != nil {
		<-*gate
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := model.DashboardStats{GoalsByCategory: map[string]int{}}
	var sum float64
	goals := make([]model.Goal, len(s.goals))
	for i, g := range s.goals {
		goals[i] = g.Clone()
		stats.TotalGoals++
		switch g.Status {
		case model.StatusCompleted:
			stats.CompletedGoals++
		case model.StatusActive:
			stats.ActiveGoals++
		}
		sum += g.ProgressPercentage
		cat := g.Category
		if cat == "" {
			cat = "Uncategorized"
		}
		stats.GoalsByCategory[cat]++
	}
	if stats.TotalGoals > 0 {
		stats.AverageProgress = math.Round(sum/float64(stats.TotalGoals)*100) / 100
	}
	return model.Snapshot{Goals: goals, Statistics: &stats, LastUpdated: "now"}
}

func (s *Server) listGoals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Goals())
}

func (s *Server) getGoal(w http.ResponseWriter, r *http.Request) {
	id, ok := goalID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	i := s.indexLocked(id)
	var g model.Goal
	if i >= 0 {
		g = s.goals[i].Clone()
	}
	s.mu.Unlock()

	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Goal not found")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) createGoal(w http.ResponseWriter, r *http.Request) {
	var in model.GoalCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "title is required")
		return
	}

	s.mu.Lock()
	now := model.Timestamp{Time: s.now().UTC()}
	g := model.Goal{
		ID:          s.nextGoalID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		TargetDate:  in.TargetDate,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      model.StatusActive,
	}
	s.nextGoalID++
	s.goals = append(s.goals, g.Clone())
	s.mu.Unlock()

	s.Broadcast(model.EventGoalCreated, g)
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) deleteGoal(w http.ResponseWriter, r *http.Request) {
	id, ok := goalID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	i := s.indexLocked(id)
	var deleted model.Goal
	if i >= 0 {
		deleted = s.goals[i]
		s.goals = append(s.goals[:i], s.goals[i+1:]...)
	}
	s.mu.Unlock()

	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Goal not found")
		return
	}
	s.Broadcast(model.EventGoalDeleted, model.GoalDeletedData{GoalID: id, DeletedGoal: &deleted})
	writeJSON(w, http.StatusOK, map[string]any{"message": "Goal deleted successfully", "goal_id": id})
}

func (s *Server) updateProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := goalID(w, r)
	if !ok {
		return
	}
	var in model.ProgressUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body: "+err.Error())
		return
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Goal not found")
		return
	}
	g := &s.goals[i]
	a := analyze(in.Text, g.ProgressPercentage)
	now := model.Timestamp{Time: s.now().UTC()}
	pct := a.progress
	entry := model.ProgressEntry{
		ID:                 s.nextEntryID,
		GoalID:             id,
		Text:               in.Text,
		ProgressPercentage: &pct,
		Sentiment:          a.sentiment,
		KeyInsights:        a.insights,
		CreatedAt:          now,
	}
	s.nextEntryID++
	g.ProgressEntries = append(g.ProgressEntries, entry)
	g.ProgressPercentage = math.Min(100, math.Max(0, a.progress))
	if g.ProgressPercentage >= 100 {
		g.Status = model.StatusCompleted
	}
	g.UpdatedAt = now
	updated := g.Clone()
	s.mu.Unlock()

	feedback := fmt.Sprintf("You are %.0f%% of the way to %q.", updated.ProgressPercentage, updated.Title)
	s.Broadcast(model.EventProgressUpdated, model.ProgressUpdatedData{
		GoalID:      id,
		UpdatedGoal: &updated,
		Progress:    &entry,
		Feedback:    feedback,
	})
	writeJSON(w, http.StatusOK, model.ProgressResult{
		Progress: entry,
		Feedback: feedback,
		Analysis: map[string]any{
			"progress_percentage": a.progress,
			"sentiment":           a.sentiment,
			"insights":            a.insights,
		},
	})
}

func (s *Server) indexLocked(id int) int {
	for i := range s.goals {
		if s.goals[i].ID == id {
			return i
		}
	}
	return -1
}

func goalID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "goal id must be an integer")
		return 0, false
	}
	return id, true
}

type analysis struct {
	progress  float64
	sentiment string
	insights  []string
}

// analyze reads an explicit percentage from text, otherwise advances the
// current progress by a fixed step.
func analyze(text string, current float64) analysis {
	a := analysis{progress: math.Min(100, current+defaultStep), sentiment: "neutral", insights: []string{}}
	if m := percentRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			a.progress = v
		}
	}

	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "great", "good", "happy", "done", "finished"):
		a.sentiment = "positive"
	case containsAny(lower, "stuck", "bad", "behind", "difficult"):
		a.sentiment = "negative"
	}
	if containsAny(lower, "challenge", "difficult", "problem") {
		a.insights = append(a.insights, "Facing challenges that may need attention")
	}
	if containsAny(lower, "milestone", "achievement", "completed") {
		a.insights = append(a.insights, "Reached an important milestone")
	}
	return a
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
