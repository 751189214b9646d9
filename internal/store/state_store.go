// Package store defines interfaces for data persistence and counters.
// These abstractions allow swapping implementations (Redis, PostgreSQL, in-memory)
// without changing business logic.
package store

import (
	"context"
	"time"
)

// CounterStore defines the interface for fast counter operations.
// This is typically backed by Redis for production use.
// Every method is a single atomic operation; callers never read-modify-write.
// All methods must be safe for concurrent use.
type CounterStore interface {
	// Increment adds one to the counter at key and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)

	// IncrementBy adds delta to the counter at key and returns the new value.
	IncrementBy(ctx context.Context, key string, delta int64) (int64, error)

	// Get returns the counter value, or 0 if the key does not exist.
	Get(ctx context.Context, key string) (int64, error)

	// Expire sets a time-to-live on key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// AddToSet adds member to the set at key.
	AddToSet(ctx context.Context, key, member string) error

	// SetMembers returns every member of the set at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// KeysMatching returns the keys matching a glob pattern where "*" matches
	// any run of characters.
	KeysMatching(ctx context.Context, pattern string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
