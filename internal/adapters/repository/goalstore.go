package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/pkg/logger"
	"github.com/okian/goalboard/pkg/metrics"
)

// GoalStore is an in-memory Store backed by an ordered slice plus an id index.
//
// Goals with id 0 carry no identity and are never stored.
type GoalStore struct {
	mu    sync.RWMutex
	goals []model.Goal
	index map[int]int // id -> position in goals

	logger logger.Logger
}

// Option applies a configuration option to the GoalStore.
type Option func(*GoalStore)

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *GoalStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewGoalStore creates an empty store.
func NewGoalStore(opts ...Option) *GoalStore {
	s := &GoalStore{
		index:  make(map[int]int),
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics.UpdateStoreGoals(0)
	return s
}

// Upsert replaces an existing goal wholesale, keeping its position, or appends.
func (s *GoalStore) Upsert(ctx context.Context, goal model.Goal) { //nolint:gocritic // hugeParam: stored by value
	if goal.ID == 0 {
		s.logger.Warn(ctx, "ignoring goal without id", logger.String("title", goal.Title))
		return
	}
	goal = goal.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, ok := s.index[goal.ID]; ok {
		s.goals[pos] = goal
		s.logger.Debug(ctx, "goal replaced", logger.Int("goal_id", goal.ID))
		return
	}
	s.appendLocked(goal)
	s.logger.Debug(ctx, "goal appended", logger.Int("goal_id", goal.ID))
}

// InsertIfAbsent appends goal unless the id is already present.
func (s *GoalStore) InsertIfAbsent(ctx context.Context, goal model.Goal) bool { //nolint:gocritic // hugeParam: stored by value
	if goal.ID == 0 {
		s.logger.Warn(ctx, "ignoring goal without id", logger.String("title", goal.Title))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[goal.ID]; ok {
		return false
	}
	s.appendLocked(goal.Clone())
	return true
}

func (s *GoalStore) appendLocked(goal model.Goal) { //nolint:gocritic // hugeParam: stored by value
	s.index[goal.ID] = len(s.goals)
	s.goals = append(s.goals, goal)
	metrics.UpdateStoreGoals(len(s.goals))
}

// Remove deletes the goal with id if present.
func (s *GoalStore) Remove(ctx context.Context, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[id]
	if !ok {
		return
	}
	s.goals = slices.Delete(s.goals, pos, pos+1)
	delete(s.index, id)
	for i := pos; i < len(s.goals); i++ {
		s.index[s.goals[i].ID] = i
	}
	metrics.UpdateStoreGoals(len(s.goals))
	s.logger.Debug(ctx, "goal removed", logger.Int("goal_id", id))
}

// BulkLoad replaces the collection. For duplicate ids the last value wins
// and sits where the id first appeared.
func (s *GoalStore) BulkLoad(ctx context.Context, goals []model.Goal) {
	next := make([]model.Goal, 0, len(goals))
	index := make(map[int]int, len(goals))
	duplicates := 0
	for i := range goals {
		g := goals[i]
		if g.ID == 0 {
			s.logger.Warn(ctx, "ignoring goal without id", logger.String("title", g.Title))
			continue
		}
		if pos, ok := index[g.ID]; ok {
			next[pos] = g.Clone()
			duplicates++
			continue
		}
		index[g.ID] = len(next)
		next = append(next, g.Clone())
	}

	s.mu.Lock()
	s.goals = next
	s.index = index
	s.mu.Unlock()

	metrics.UpdateStoreGoals(len(next))
	if duplicates > 0 {
		s.logger.Warn(ctx, "snapshot contained duplicate goal ids", logger.Int("duplicates", duplicates))
	}
	s.logger.Debug(ctx, "store bulk loaded", logger.Int("goals", len(next)))
}

// Clear empties the collection.
func (s *GoalStore) Clear(_ context.Context) {
	s.mu.Lock()
	s.goals = nil
	s.index = make(map[int]int)
	s.mu.Unlock()
	metrics.UpdateStoreGoals(0)
}

// List returns a deep copy of the goals in iteration order.
func (s *GoalStore) List(_ context.Context) []model.Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Goal, len(s.goals))
	for i := range s.goals {
		out[i] = s.goals[i].Clone()
	}
	return out
}

// Get returns a copy of one goal.
func (s *GoalStore) Get(_ context.Context, id int) (model.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		return model.Goal{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s.goals[pos].Clone(), nil
}

// Len returns the number of goals.
func (s *GoalStore) Len(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.goals)
}
