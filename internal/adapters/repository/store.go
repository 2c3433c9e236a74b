// Package repository holds the local goal store.
package repository

import (
	"context"

	"github.com/okian/goalboard/internal/domain/model"
)

// Store is the authoritative local collection of goals keyed by id.
//
// Mutations are expected from a single writer goroutine. Reads may happen
// from any goroutine.
type Store interface {
	// Upsert replaces the goal with the same id in place, or appends it.
	Upsert(ctx context.Context, goal model.Goal)
	// InsertIfAbsent appends goal unless its id is already present.
	// It reports whether the goal was inserted.
	InsertIfAbsent(ctx context.Context, goal model.Goal) bool
	// Remove deletes the goal with id; absent ids are a no-op.
	Remove(ctx context.Context, id int)
	// BulkLoad replaces the whole collection. Duplicate ids keep the last
	// value at the position of their first occurrence.
	BulkLoad(ctx context.Context, goals []model.Goal)
	// Clear empties the collection.
	Clear(ctx context.Context)

	// List returns a deep copy of the collection in iteration order.
	List(ctx context.Context) []model.Goal
	// Get returns one goal or ErrNotFound.
	Get(ctx context.Context, id int) (model.Goal, error)
	// Len returns the number of goals.
	Len(ctx context.Context) int
}
