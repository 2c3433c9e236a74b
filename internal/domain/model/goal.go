// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Status is a goal lifecycle status. Values other than the known ones are
// tolerated and carried through unchanged.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Known reports whether s is one of the statuses the dashboard renders specially.
func (s Status) Known() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// Goal is one tracked objective. Fields mirror the goal service schema.
type Goal struct {
	ID                 int             `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	Category           string          `json:"category,omitempty"`
	TargetDate         string          `json:"target_date,omitempty"`
	CreatedAt          Timestamp       `json:"created_at"`
	UpdatedAt          Timestamp       `json:"updated_at"`
	ProgressPercentage float64         `json:"progress_percentage"` // not range-checked
	Status             Status          `json:"status"`
	ProgressEntries    []ProgressEntry `json:"progress_entries"`
}

// Clone returns a deep copy so callers cannot reach into store-owned slices.
func (g Goal) Clone() Goal { //nolint:gocritic // value receiver keeps call sites simple
	out := g
	if g.ProgressEntries != nil {
		out.ProgressEntries = make([]ProgressEntry, len(g.ProgressEntries))
		for i, e := range g.ProgressEntries {
			out.ProgressEntries[i] = e.Clone()
		}
	}
	return out
}

// LatestEntry returns the most recent progress entry by CreatedAt. Entries
// are kept in arrival order, so this sorts a copy.
func (g Goal) LatestEntry() (ProgressEntry, bool) { //nolint:gocritic // see Clone
	if len(g.ProgressEntries) == 0 {
		return ProgressEntry{}, false
	}
	entries := slices.Clone(g.ProgressEntries)
	slices.SortStableFunc(entries, func(a, b ProgressEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt.Time)
	})
	return entries[0], true
}

// ProgressEntry is one update logged against a goal. Sentiment and
// KeyInsights are produced server side and treated as opaque.
type ProgressEntry struct {
	ID                 int       `json:"id"`
	GoalID             int       `json:"goal_id"`
	Text               string    `json:"text"`
	ProgressPercentage *float64  `json:"progress_percentage,omitempty"`
	Sentiment          string    `json:"sentiment,omitempty"`
	KeyInsights        []string  `json:"key_insights,omitempty"`
	CreatedAt          Timestamp `json:"created_at"`
}

// Clone returns a deep copy of the entry.
func (e ProgressEntry) Clone() ProgressEntry { //nolint:gocritic // see Goal.Clone
	out := e
	if e.ProgressPercentage != nil {
		p := *e.ProgressPercentage
		out.ProgressPercentage = &p
	}
	out.KeyInsights = slices.Clone(e.KeyInsights)
	return out
}

// DashboardStats is the server computed aggregate. It is never derived from
// the local goal collection.
type DashboardStats struct {
	TotalGoals      int            `json:"total_goals"`
	CompletedGoals  int            `json:"completed_goals"`
	ActiveGoals     int            `json:"active_goals"`
	AverageProgress float64        `json:"average_progress"`
	GoalsByCategory map[string]int `json:"goals_by_category"`
}

// Snapshot is the GET /dashboard payload.
type Snapshot struct {
	Goals       []Goal          `json:"goals"`
	Statistics  *DashboardStats `json:"statistics"`
	LastUpdated string          `json:"last_updated,omitempty"`
}

// Sentinel validation errors.
var (
	ErrInvalidGoal   = errors.New("invalid goal")
	ErrInvalidUpdate = errors.New("invalid progress update")
)

// GoalCreate is the POST /goals body.
type GoalCreate struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	TargetDate  string `json:"target_date,omitempty"`
}

// Validate rejects blank titles before anything is sent.
func (c GoalCreate) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidGoal)
	}
	return nil
}

// ProgressUpdate is the POST /goals/{id}/update body.
type ProgressUpdate struct {
	Text string `json:"text"`
}

// Validate rejects blank narratives.
func (u ProgressUpdate) Validate() error {
	if strings.TrimSpace(u.Text) == "" {
		return fmt.Errorf("%w: text must not be empty", ErrInvalidUpdate)
	}
	return nil
}

// ProgressResult is the POST /goals/{id}/update response. Feedback is
// server generated and never stored on the goal.
type ProgressResult struct {
	Progress ProgressEntry  `json:"progress"`
	Feedback string         `json:"feedback"`
	Analysis map[string]any `json:"analysis,omitempty"`
}
