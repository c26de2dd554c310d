package helper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type countingChecker struct {
	mu      sync.Mutex
	granted bool
	err     error
	calls   int
}

func (c *countingChecker) CheckPermission(ctx context.Context, p Permission) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.granted, c.err
}

func (c *countingChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestPermissionCacheServesFromCache(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{granted: true}
	cache := NewPermissionCache(checker, PermissionAccessibility, time.Hour)

	for i := 0; i < 3; i++ {
		granted, err := cache.Granted(context.Background())
		if err != nil {
			t.Fatalf("Granted failed: %v", err)
		}
		if !granted {
			t.Fatal("expected granted")
		}
	}
	if n := checker.callCount(); n != 1 {
		t.Errorf("expected a single helper round trip, got %d", n)
	}
}

func TestPermissionCacheExpires(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{granted: true}
	cache := NewPermissionCache(checker, PermissionAccessibility, 10*time.Millisecond)

	if _, err := cache.Granted(context.Background()); err != nil {
		t.Fatalf("Granted failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := cache.Granted(context.Background()); err != nil {
		t.Fatalf("Granted failed: %v", err)
	}
	if n := checker.callCount(); n != 2 {
		t.Errorf("expected refresh after TTL, got %d round trips", n)
	}
}

func TestPermissionCacheInvalidate(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{granted: false}
	cache := NewPermissionCache(checker, PermissionMicrophone, time.Hour)

	if _, err := cache.Granted(context.Background()); err != nil {
		t.Fatalf("Granted failed: %v", err)
	}
	checker.mu.Lock()
	checker.granted = true
	checker.mu.Unlock()

	// Still cached.
	granted, err := cache.Granted(context.Background())
	if err != nil {
		t.Fatalf("Granted failed: %v", err)
	}
	if granted {
		t.Error("expected stale cached value before invalidation")
	}

	cache.Invalidate()
	granted, err = cache.Granted(context.Background())
	if err != nil {
		t.Fatalf("Granted failed: %v", err)
	}
	if !granted {
		t.Error("expected fresh value after invalidation")
	}
}

func TestPermissionCacheErrorNotCached(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{err: errors.New("helper down")}
	cache := NewPermissionCache(checker, PermissionAccessibility, time.Hour)

	if _, err := cache.Granted(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	checker.mu.Lock()
	checker.err = nil
	checker.granted = true
	checker.mu.Unlock()

	granted, err := cache.Granted(context.Background())
	if err != nil {
		t.Fatalf("Granted failed: %v", err)
	}
	if !granted {
		t.Error("expected success after transient failure")
	}
	if n := checker.callCount(); n != 2 {
		t.Errorf("expected 2 round trips, got %d", n)
	}
}
