package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/stockroom/apiserver/internal/clock"
	"github.com/stockroom/apiserver/types"
)

// Column names shared by every table.
const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
	ColumnDeletedAt = "deleted_at"
)

// Entity is any persisted type embedding types.Model. Repositories are
// instantiated with pointer types such as *types.User.
type Entity interface {
	comparable
	Base() *types.Model
}

// Backend is the persistence adapter a Repository runs on. Implementations
// return ErrAlreadyExists for uniqueness violations and ErrNotFound when an
// update or removal matches no row.
type Backend[T Entity] interface {
	Find(ctx context.Context, q Query) ([]T, error)
	Insert(ctx context.Context, entity T) error
	Update(ctx context.Context, entity T) error
	Remove(ctx context.Context, entity T) error
}

// DeleteMode selects between soft and hard deletion.
type DeleteMode int

const (
	// SoftDelete sets deleted_at and keeps the row.
	SoftDelete DeleteMode = iota
	// HardDelete removes the row.
	HardDelete
)

// Repository provides CRUD with soft-delete semantics over a Backend.
type Repository[T Entity] struct {
	backend Backend[T]
	clock   clock.Clock
}

func NewRepository[T Entity](backend Backend[T], clk clock.Clock) *Repository[T] {
	if clk == nil {
		clk = clock.System{}
	}
	return &Repository[T]{backend: backend, clock: clk}
}

// FindOne returns the first matching entity, or the zero value when none matches.
func (r *Repository[T]) FindOne(ctx context.Context, q Query) (T, error) {
	var zero T
	items, err := r.backend.Find(ctx, r.scope(q).Limit(1))
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, nil
	}
	return items[0], nil
}

// FindMany returns every matching entity. No match yields an empty slice.
func (r *Repository[T]) FindMany(ctx context.Context, q Query) ([]T, error) {
	items, err := r.backend.Find(ctx, r.scope(q))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Get is FindOne for callers that treat absence as an error.
func (r *Repository[T]) Get(ctx context.Context, q Query) (T, error) {
	var zero T
	item, err := r.FindOne(ctx, q)
	if err != nil {
		return zero, err
	}
	if item == zero {
		return zero, ErrNotFound
	}
	return item, nil
}

// Save inserts entities without an id and updates the rest. Saving the same
// entity twice leaves the row in the same state. On failure the entity's
// timestamps are left as they were.
func (r *Repository[T]) Save(ctx context.Context, entity T) (T, error) {
	var zero T
	if entity == zero {
		return zero, errors.New("store: save of nil entity")
	}
	m := entity.Base()
	prev := *m
	now := r.clock.Now()
	m.UpdatedAt = now

	var err error
	if m.ID == 0 {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		err = r.backend.Insert(ctx, entity)
	} else {
		err = r.backend.Update(ctx, entity)
	}
	if err != nil {
		m.CreatedAt, m.UpdatedAt = prev.CreatedAt, prev.UpdatedAt
		return zero, err
	}
	return entity, nil
}

// Delete soft-deletes or removes entity depending on mode.
func (r *Repository[T]) Delete(ctx context.Context, entity T, mode DeleteMode) (T, error) {
	var zero T
	if entity == zero {
		return zero, errors.New("store: delete of nil entity")
	}
	m := entity.Base()
	if m.ID == 0 {
		return zero, fmt.Errorf("store: delete of unsaved entity: %w", ErrNotFound)
	}
	if mode == HardDelete {
		if err := r.backend.Remove(ctx, entity); err != nil {
			return zero, err
		}
		return entity, nil
	}
	prev := *m
	now := r.clock.Now()
	m.DeletedAt = &now
	m.UpdatedAt = now
	if err := r.backend.Update(ctx, entity); err != nil {
		m.DeletedAt, m.UpdatedAt = prev.DeletedAt, prev.UpdatedAt
		return zero, err
	}
	return entity, nil
}

// DeleteMany applies Delete to each entity in order and stops at the first error.
func (r *Repository[T]) DeleteMany(ctx context.Context, entities []T, mode DeleteMode) ([]T, error) {
	deleted := make([]T, 0, len(entities))
	for _, entity := range entities {
		item, err := r.Delete(ctx, entity, mode)
		if err != nil {
			return deleted, err
		}
		deleted = append(deleted, item)
	}
	return deleted, nil
}

func (r *Repository[T]) scope(q Query) Query {
	if q.IncludesDeleted() {
		return q
	}
	return q.And(IsNull(ColumnDeletedAt))
}
