package zulip

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ttlCache is a small in-memory cache with lazy expiry. Entries are evicted
// on access, never by a background sweep; the key space here is tiny
// (identities × a few listing flags).
type ttlCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    uint64
	misses  uint64
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

func newTTLCache() *ttlCache {
	return &ttlCache{entries: make(map[string]cacheEntry)}
}

func (c *ttlCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

func (c *ttlCache) put(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (c *ttlCache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}

func (c *ttlCache) stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// persistedGet reads a durable cache row into out. Misses, stale rows, and
// decode failures all report false; a broken row is never fatal.
func (c *Client) persistedGet(ctx context.Context, scope, key string, maxAge time.Duration, out any) bool {
	if c.persist == nil {
		return false
	}
	payload, ok := c.persist.CachedPayload(ctx, scope, key, maxAge)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		c.logger.Warn("discarding undecodable cached payload",
			zap.String("scope", scope), zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// persistedPut stores a fetched listing durably. Best-effort: failures log
// and the fresh result is still returned to the caller.
func (c *Client) persistedPut(ctx context.Context, scope, key string, v any) {
	if c.persist == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.persist.PutCachedPayload(ctx, scope, key, string(payload)); err != nil {
		c.logger.Warn("persisting cached payload failed",
			zap.String("scope", scope), zap.Error(err))
	}
}

// invalidateListings drops a scope from both cache tiers after a mutation
// that makes the cached listing stale.
func (c *Client) invalidateListings(ctx context.Context, scope string) {
	c.cache.invalidatePrefix(scope + ":")
	if c.persist == nil {
		return
	}
	if err := c.persist.InvalidateCacheScope(ctx, scope); err != nil {
		c.logger.Warn("invalidating cached payloads failed",
			zap.String("scope", scope), zap.Error(err))
	}
}
