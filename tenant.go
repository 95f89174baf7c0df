package synapse

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// queryCache is the C6 query-result cache: a TTL map guarded by a
// singleflight.Group so concurrent identical queries for the same user
// collapse into one underlying Search (grounded on the fan-out/dedup
// pattern used for candidate generation in MrWong99-glyphoxa and
// liliang-cn-sqvect). Every key embeds user_id, so a cache hit can never
// cross a tenant boundary; CacheEnabled=false disables storage but the
// singleflight collapse still applies (it's free coalescing, not a
// tenant-isolation knob).
type queryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	group   singleflight.Group
	enabled bool
}

type cacheEntry struct {
	results []SearchResult
	expiry  time.Time
}

func newQueryCache(ttl time.Duration, enabled bool) *queryCache {
	return &queryCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		enabled: enabled,
	}
}

// cacheKey builds a deterministic, user-scoped key. The user id is always
// the first segment so invalidateUser can match by prefix.
func cacheKey(userID, query string, sectors []Sector, limit int) string {
	var b strings.Builder
	b.WriteString(userID)
	b.WriteByte(0)
	b.WriteString(query)
	b.WriteByte(0)
	for _, s := range sectors {
		b.WriteString(string(s))
		b.WriteByte(',')
	}
	fmt.Fprintf(&b, "\x00%d", limit)
	return b.String()
}

// has reports whether key is present and fresh, for cache-hit metrics.
// Racy against a concurrent getOrCompute by design — it's advisory for
// observability, never a correctness gate.
func (c *queryCache) has(key string) bool {
	if !c.enabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && time.Now().Before(e.expiry)
}

// getOrCompute returns a cached result for key if present and fresh,
// otherwise computes it via compute, collapsing concurrent callers that
// race on the same key into a single underlying call.
func (c *queryCache) getOrCompute(key string, compute func() ([]SearchResult, error)) ([]SearchResult, error) {
	if c.enabled {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && time.Now().Before(e.expiry) {
			c.mu.Unlock()
			return e.results, nil
		}
		c.mu.Unlock()
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return compute()
	})
	if err != nil {
		return nil, err
	}
	results, _ := v.([]SearchResult)

	if c.enabled {
		c.mu.Lock()
		c.entries[key] = cacheEntry{results: results, expiry: time.Now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return results, nil
}

// invalidateUser drops every cached entry for userID, called after any
// write (Insert/Delete/Wipe/Reinforce) that could change that user's
// search results.
func (c *queryCache) invalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := userID + "\x00"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}
