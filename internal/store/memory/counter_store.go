// Package memory provides in-memory implementations of store interfaces.
// These are useful for testing and development without external dependencies.
package memory

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// CounterStore is an in-memory implementation of the store.CounterStore interface.
// It uses maps with mutex protection for thread-safe access.
// TTL expiration is checked on access (lazy expiration).
type CounterStore struct {
	mu sync.Mutex

	// counters stores integer counters by key
	counters map[string]int64

	// sets stores string sets by key
	sets map[string]map[string]struct{}

	// expiresAt stores the deadline of keys that have a TTL
	expiresAt map[string]time.Time

	now func() time.Time
}

// NewCounterStore creates a new in-memory counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{
		counters:  make(map[string]int64),
		sets:      make(map[string]map[string]struct{}),
		expiresAt: make(map[string]time.Time),
		now:       time.Now,
	}
}

// evictIfExpired drops key if its TTL has passed. Caller must hold mu.
func (s *CounterStore) evictIfExpired(key string) {
	deadline, ok := s.expiresAt[key]
	if !ok || s.now().Before(deadline) {
		return
	}
	delete(s.counters, key)
	delete(s.sets, key)
	delete(s.expiresAt, key)
}

// Increment adds one to the counter at key.
func (s *CounterStore) Increment(ctx context.Context, key string) (int64, error) {
	return s.IncrementBy(ctx, key, 1)
}

// IncrementBy adds delta to the counter at key.
func (s *CounterStore) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictIfExpired(key)
	s.counters[key] += delta
	return s.counters[key], nil
}

// Get returns the counter value, or 0 if the key does not exist.
func (s *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictIfExpired(key)
	return s.counters[key], nil
}

// Expire sets a time-to-live on key. Missing keys are ignored, as in Redis.
func (s *CounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictIfExpired(key)
	_, isCounter := s.counters[key]
	_, isSet := s.sets[key]
	if !isCounter && !isSet {
		return nil
	}
	s.expiresAt[key] = s.now().Add(ttl)
	return nil
}

// AddToSet adds member to the set at key.
func (s *CounterStore) AddToSet(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictIfExpired(key)
	if s.sets[key] == nil {
		s.sets[key] = make(map[string]struct{})
	}
	s.sets[key][member] = struct{}{}
	return nil
}

// SetMembers returns every member of the set at key, sorted.
func (s *CounterStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictIfExpired(key)
	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

// KeysMatching returns the live keys matching a glob pattern, sorted.
func (s *CounterStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	collect := func(key string) {
		s.evictIfExpired(key)
		_, isCounter := s.counters[key]
		_, isSet := s.sets[key]
		if (isCounter || isSet) && re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	for key := range s.counters {
		collect(key)
	}
	for key := range s.sets {
		if _, dup := s.counters[key]; !dup {
			collect(key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for in-memory store.
func (s *CounterStore) Close() error {
	return nil
}

// Clear removes all data from the store. Useful for test cleanup.
func (s *CounterStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = make(map[string]int64)
	s.sets = make(map[string]map[string]struct{})
	s.expiresAt = make(map[string]time.Time)
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	return regexp.Compile("^" + strings.ReplaceAll(quoted, `\*`, ".*") + "$")
}
