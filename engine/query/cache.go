package query

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// requestCache memoizes shaped results per (path, normalized params) for a
// short TTL, absorbing bursts during live sessions.
type requestCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]cacheEntry
}

type cacheEntry struct {
	rows    []map[string]any
	savedAt time.Time
}

func newRequestCache(ttl time.Duration, maxSize int) *requestCache {
	return &requestCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(path string, params []Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = fmt.Sprintf("%s%s%v", p.Field, p.Op, p.Value)
	}
	sort.Strings(parts)
	return path + "," + strings.Join(parts, ",")
}

func (c *requestCache) get(key string) ([]map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Since(entry.savedAt) > c.ttl {
		return nil, false
	}
	return entry.rows, true
}

func (c *requestCache) put(key string, rows []map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		// Drop stale entries first; clear outright if everything is fresh.
		for k, e := range c.entries {
			if time.Since(e.savedAt) > c.ttl {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxSize {
			c.entries = make(map[string]cacheEntry)
		}
	}
	c.entries[key] = cacheEntry{rows: rows, savedAt: time.Now()}
}
