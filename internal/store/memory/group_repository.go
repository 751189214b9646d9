package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"faultline/internal/domain"
)

// GroupRepository is an in-memory implementation of store.GroupRepository.
// It stores groups in a map, indexed by both ID and hash for fast lookups.
type GroupRepository struct {
	mu sync.RWMutex

	// groups stores all groups by their ID
	groups map[string]*domain.ErrorGroup

	// byHash provides fast lookup by fingerprint hash
	byHash map[string]*domain.ErrorGroup

	now func() time.Time
}

// NewGroupRepository creates a new in-memory group repository.
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{
		groups: make(map[string]*domain.ErrorGroup),
		byHash: make(map[string]*domain.ErrorGroup),
		now:    time.Now,
	}
}

// copyGroup returns a copy that shares no mutable state with g.
func copyGroup(g *domain.ErrorGroup) *domain.ErrorGroup {
	c := *g
	if g.Details.RecentContexts != nil {
		c.Details.RecentContexts = append([]domain.RecentContext(nil), g.Details.RecentContexts...)
	}
	return &c
}

// FindByHash retrieves the group for a fingerprint hash.
func (r *GroupRepository) FindByHash(ctx context.Context, hash string) (*domain.ErrorGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, exists := r.byHash[hash]
	if !exists {
		return nil, domain.ErrGroupNotFound
	}
	return copyGroup(group), nil
}

// Create stores a new group.
func (r *GroupRepository) Create(ctx context.Context, group *domain.ErrorGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byHash[group.Hash]; exists {
		return domain.ErrGroupAlreadyExists
	}

	// Store a copy to prevent external modification
	groupCopy := copyGroup(group)
	r.groups[group.ID] = groupCopy
	r.byHash[group.Hash] = groupCopy
	return nil
}

// Update applies a patch to an existing group.
func (r *GroupRepository) Update(ctx context.Context, id string, patch domain.GroupPatch) (*domain.ErrorGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, exists := r.groups[id]
	if !exists {
		return nil, domain.ErrGroupNotFound
	}

	patch.Apply(group, r.now())
	return copyGroup(group), nil
}

// GetByID retrieves a group by its ID.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*domain.ErrorGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, exists := r.groups[id]
	if !exists {
		return nil, domain.ErrGroupNotFound
	}
	return copyGroup(group), nil
}

// List retrieves groups matching the filter criteria, newest last-seen first.
func (r *GroupRepository) List(ctx context.Context, filter domain.GroupFilter) ([]*domain.ErrorGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*domain.ErrorGroup
	for _, group := range r.groups {
		// Apply filters
		if !filter.Since.IsZero() && group.Details.LastSeen.Before(filter.Since) {
			continue
		}
		if filter.Status != "" && group.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && group.Severity != filter.Severity {
			continue
		}
		results = append(results, copyGroup(group))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Details.LastSeen.Equal(results[j].Details.LastSeen) {
			return results[i].ID < results[j].ID
		}
		return results[i].Details.LastSeen.After(results[j].Details.LastSeen)
	})

	// Apply offset and limit
	start := filter.Offset
	if start > len(results) {
		start = len(results)
	}

	end := len(results)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	return results[start:end], nil
}

// Delete removes a group by ID.
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, exists := r.groups[id]
	if !exists {
		return domain.ErrGroupNotFound
	}
	delete(r.groups, id)
	delete(r.byHash, group.Hash)
	return nil
}

// DeleteOlderThan removes groups last seen before cutoff.
func (r *GroupRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, group := range r.groups {
		if group.Details.LastSeen.Before(cutoff) {
			delete(r.groups, id)
			delete(r.byHash, group.Hash)
			removed++
		}
	}
	return removed, nil
}

// Clear removes all data from the repository. Useful for test cleanup.
func (r *GroupRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.groups = make(map[string]*domain.ErrorGroup)
	r.byHash = make(map[string]*domain.ErrorGroup)
}
