package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCounterStore_Counters(t *testing.T) {
	s := NewCounterStore()
	ctx := context.Background()

	// Test Get on empty store
	v, err := s.Get(ctx, "errors:daily:2026-03-01")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if v != 0 {
		t.Errorf("Get on missing key = %d, want 0", v)
	}

	if v, _ = s.Increment(ctx, "errors:daily:2026-03-01"); v != 1 {
		t.Errorf("Increment = %d, want 1", v)
	}
	if v, _ = s.IncrementBy(ctx, "errors:daily:2026-03-01", 4); v != 5 {
		t.Errorf("IncrementBy = %d, want 5", v)
	}
	if v, _ = s.Get(ctx, "errors:daily:2026-03-01"); v != 5 {
		t.Errorf("Get = %d, want 5", v)
	}
}

func TestCounterStore_Expiration(t *testing.T) {
	s := NewCounterStore()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, _ = s.Increment(ctx, "errors:recent:abc")
	_ = s.AddToSet(ctx, "errors:unique:2026-03-01", "abc")
	if err := s.Expire(ctx, "errors:recent:abc", time.Hour); err != nil {
		t.Fatalf("Expire error: %v", err)
	}
	_ = s.Expire(ctx, "errors:unique:2026-03-01", time.Hour)

	// Expire on a missing key is a no-op
	if err := s.Expire(ctx, "missing", time.Hour); err != nil {
		t.Fatalf("Expire missing error: %v", err)
	}

	now = now.Add(59 * time.Minute)
	if v, _ := s.Get(ctx, "errors:recent:abc"); v != 1 {
		t.Errorf("Get before expiry = %d, want 1", v)
	}

	now = now.Add(2 * time.Minute)
	if v, _ := s.Get(ctx, "errors:recent:abc"); v != 0 {
		t.Errorf("Get after expiry = %d, want 0", v)
	}
	if members, _ := s.SetMembers(ctx, "errors:unique:2026-03-01"); len(members) != 0 {
		t.Errorf("SetMembers after expiry = %v, want empty", members)
	}

	// A fresh increment after expiry starts from scratch
	if v, _ := s.Increment(ctx, "errors:recent:abc"); v != 1 {
		t.Errorf("Increment after expiry = %d, want 1", v)
	}
}

func TestCounterStore_Sets(t *testing.T) {
	s := NewCounterStore()
	ctx := context.Background()

	for _, m := range []string{"b", "a", "b", "c"} {
		if err := s.AddToSet(ctx, "errors:unique:2026-03-01", m); err != nil {
			t.Fatalf("AddToSet error: %v", err)
		}
	}

	members, err := s.SetMembers(ctx, "errors:unique:2026-03-01")
	if err != nil {
		t.Fatalf("SetMembers error: %v", err)
	}
	if fmt.Sprint(members) != "[a b c]" {
		t.Errorf("SetMembers = %v, want [a b c]", members)
	}
}

func TestCounterStore_KeysMatching(t *testing.T) {
	s := NewCounterStore()
	ctx := context.Background()

	_, _ = s.Increment(ctx, "errors:type:TypeError:2026-03-01")
	_, _ = s.Increment(ctx, "errors:type:DatabaseError:2026-03-01")
	_, _ = s.Increment(ctx, "errors:type:TypeError:2026-03-02")
	_, _ = s.Increment(ctx, "errors:component:orders:2026-03-01")
	_ = s.AddToSet(ctx, "errors:type:set.like[key]:2026-03-01", "x")

	keys, err := s.KeysMatching(ctx, "errors:type:*:2026-03-01")
	if err != nil {
		t.Fatalf("KeysMatching error: %v", err)
	}

	want := "[errors:type:DatabaseError:2026-03-01 errors:type:TypeError:2026-03-01 errors:type:set.like[key]:2026-03-01]"
	if fmt.Sprint(keys) != want {
		t.Errorf("KeysMatching = %v, want %v", keys, want)
	}
}

func TestCounterStore_ConcurrentIncrement(t *testing.T) {
	s := NewCounterStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = s.Increment(ctx, "errors:daily:2026-03-01")
			}
		}()
	}
	wg.Wait()

	if v, _ := s.Get(ctx, "errors:daily:2026-03-01"); v != 1000 {
		t.Errorf("Get = %d, want 1000", v)
	}
}

func TestCounterStore_Clear(t *testing.T) {
	s := NewCounterStore()
	ctx := context.Background()

	_, _ = s.Increment(ctx, "a")
	_ = s.AddToSet(ctx, "b", "x")
	s.Clear()

	keys, _ := s.KeysMatching(ctx, "*")
	if len(keys) != 0 {
		t.Errorf("keys after Clear = %v", keys)
	}
}
