package helper

import (
	"context"
	"sync"
	"time"
)

// PermissionChecker is implemented by [Bridge].
type PermissionChecker interface {
	CheckPermission(ctx context.Context, p Permission) (bool, error)
}

// PermissionCache memoizes the grant state of one OS permission so the hot
// dictation path does not round-trip to the helper on every session. Entries
// expire after the TTL; [PermissionCache.Invalidate] drops the entry early,
// e.g. when a [PermissionEvent] reports a grant change.
type PermissionCache struct {
	checker    PermissionChecker
	permission Permission
	ttl        time.Duration

	mu        sync.Mutex
	granted   bool
	fetchedAt time.Time
}

// NewPermissionCache creates a cache for one permission with the given TTL.
func NewPermissionCache(checker PermissionChecker, p Permission, ttl time.Duration) *PermissionCache {
	return &PermissionCache{checker: checker, permission: p, ttl: ttl}
}

// Granted returns the cached grant state, refreshing it from the helper when
// the entry is missing or expired. A failed refresh does not poison the
// cache; the next call retries.
func (c *PermissionCache) Granted(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl {
		granted := c.granted
		c.mu.Unlock()
		return granted, nil
	}
	c.mu.Unlock()

	granted, err := c.checker.CheckPermission(ctx, c.permission)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.granted = granted
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return granted, nil
}

// Invalidate drops the cached entry so the next Granted call refreshes.
func (c *PermissionCache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
