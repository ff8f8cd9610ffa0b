package services

import (
	"context"

	"github.com/stockroom/apiserver/internal/store"
)

// Repository defines the persistence operations the services use.
// *store.Repository satisfies it.
type Repository[T store.Entity] interface {
	FindOne(ctx context.Context, q store.Query) (T, error)
	FindMany(ctx context.Context, q store.Query) ([]T, error)
	Get(ctx context.Context, q store.Query) (T, error)
	Save(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, entity T, mode store.DeleteMode) (T, error)
	DeleteMany(ctx context.Context, entities []T, mode store.DeleteMode) ([]T, error)
}
