// Package persistence stores onboarding progress in a device-scoped local cache and an optional
// account-scoped remote store, and decides which copy wins on load.
package persistence

import (
	"context"
	"sync"
	"time"

	"nutrition-platform/backend/internal/onboarding/domain"
)

// LocalCache is the synchronous, device-scoped key/value cache. Keys come from domain.CacheKey.
type LocalCache interface {
	// Get returns the stored value and true, or false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// RemoteStore is the account-scoped store. Load returns nil, nil when nothing is stored.
type RemoteStore interface {
	Load(ctx context.Context, userID string, role domain.Role) (*domain.Progress, error)
	Save(ctx context.Context, p *domain.Progress) error
}

type cacheEntry struct {
	value     []byte
	updatedAt time.Time
}

// MemoryCache is an in-memory LocalCache. It is the default when no cache file is configured.
type MemoryCache struct {
	mu   sync.RWMutex
	m    map[string]cacheEntry
	nowF func() time.Time
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		m:    make(map[string]cacheEntry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a copy of the value stored under key.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Put stores a copy of value under key.
func (c *MemoryCache) Put(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = cacheEntry{value: append([]byte(nil), value...), updatedAt: c.nowF()}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

// Len returns the number of stored keys.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
