package entity

import (
	"sync"
	"time"

	"github.com/cortexd/runtime/pkg/models"
)

// cache is the on-demand entity cache the resolver consults before
// hitting the store: a small TTL cache, not a write-through one —
// writes invalidate rather than update.
type cache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]cacheEntry
}

type cacheEntry struct {
	entity    *models.Entity
	expiresAt time.Time
}

func newCache(ttl time.Duration) *cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &cache{ttl: ttl, items: make(map[string]cacheEntry)}
}

func (c *cache) get(key string) (*models.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.items[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.entity, true
}

func (c *cache) set(key string, e *models.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheEntry{entity: e, expiresAt: time.Now().Add(c.ttl)}
}

func (c *cache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
