package store

import (
	"context"
	"time"

	"faultline/internal/domain"
)

// GroupRepository defines the interface for durable error group storage.
// This is typically backed by PostgreSQL for production use.
type GroupRepository interface {
	// FindByHash retrieves the group for a fingerprint hash.
	// Returns domain.ErrGroupNotFound if no group exists yet.
	FindByHash(ctx context.Context, hash string) (*domain.ErrorGroup, error)

	// Create stores a new group.
	// Returns domain.ErrGroupAlreadyExists if a group with the same hash exists.
	Create(ctx context.Context, group *domain.ErrorGroup) error

	// Update applies a patch to the group with the given ID and returns the
	// updated group. The occurrence delta is added atomically.
	Update(ctx context.Context, id string, patch domain.GroupPatch) (*domain.ErrorGroup, error)

	// GetByID retrieves a group by its ID.
	GetByID(ctx context.Context, id string) (*domain.ErrorGroup, error)

	// List retrieves groups matching the filter, newest last-seen first.
	List(ctx context.Context, filter domain.GroupFilter) ([]*domain.ErrorGroup, error)

	// Delete removes a group by ID.
	Delete(ctx context.Context, id string) error

	// DeleteOlderThan removes groups last seen before cutoff and returns how
	// many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
