// Package redis provides Redis-based implementations of the store interfaces.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"faultline/internal/config"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 500

// CounterStore implements store.CounterStore using Redis.
// Every key is namespaced with a configurable prefix so several deployments
// can share one Redis.
type CounterStore struct {
	client *redis.Client
	prefix string
}

// NewCounterStore creates a new Redis-backed counter store.
func NewCounterStore(cfg *config.RedisConfig) (*CounterStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewCounterStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewCounterStoreWithClient wraps an existing client.
func NewCounterStoreWithClient(client *redis.Client, prefix string) *CounterStore {
	return &CounterStore{client: client, prefix: prefix}
}

func (s *CounterStore) key(k string) string {
	return s.prefix + k
}

// Increment adds one to the counter at key.
func (s *CounterStore) Increment(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return v, nil
}

// IncrementBy adds delta to the counter at key.
func (s *CounterStore) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, s.key(key), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return v, nil
}

// Get returns the counter value, or 0 if the key does not exist.
func (s *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, s.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return v, nil
}

// Expire sets a time-to-live on key.
func (s *CounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set expiry: %w", err)
	}
	return nil
}

// AddToSet adds member to the set at key.
func (s *CounterStore) AddToSet(ctx context.Context, key, member string) error {
	if err := s.client.SAdd(ctx, s.key(key), member).Err(); err != nil {
		return fmt.Errorf("failed to add set member: %w", err)
	}
	return nil
}

// SetMembers returns every member of the set at key.
func (s *CounterStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get set members: %w", err)
	}
	return members, nil
}

// KeysMatching walks the keyspace with SCAN and returns the unprefixed keys
// matching pattern. SCAN may return a key more than once, so results are
// deduplicated.
func (s *CounterStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	seen := make(map[string]struct{})
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.key(pattern), scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		for _, k := range batch {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, strings.TrimPrefix(k, s.prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Ping checks the connection, for health checks.
func (s *CounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *CounterStore) Close() error {
	return s.client.Close()
}
