package ldap

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Cache stores search results keyed by request. Implementations shared
// between goroutines must be safe for concurrent use.
type Cache interface {
	Get(req *SearchRequest) (*SearchResult, bool)
	Put(req *SearchRequest, result *SearchResult)
}

// CacheStats provides statistics about cache usage.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int64
	HitRate float64 // Percentage of lookups that hit
}

type cachedResult struct {
	result  *SearchResult
	expires time.Time
}

// singleFlighter is implemented by caches that collapse concurrent misses
// for the same key into one search.
type singleFlighter interface {
	do(key string, fn func() (any, error)) (any, error, bool)
}

// SearchCache is an in-memory Cache keyed by SearchRequest.CacheKey. It is
// safe for concurrent use and stores private copies of results. Concurrent
// searches that miss on the same key execute once.
type SearchCache struct {
	entries sync.Map // map[string]*cachedResult
	ttl     time.Duration
	clock   clockwork.Clock
	flight  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewSearchCache creates a cache whose entries expire after ttl. A zero ttl
// keeps entries until Clear.
func NewSearchCache(ttl time.Duration) *SearchCache {
	return &SearchCache{ttl: ttl, clock: clockwork.NewRealClock()}
}

// SetClock replaces the clock used for expiry.
func (c *SearchCache) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

// Get returns a copy of the cached result for req.
func (c *SearchCache) Get(req *SearchRequest) (*SearchResult, bool) {
	key := req.CacheKey()
	v, ok := c.entries.Load(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	cached := v.(*cachedResult)
	if !cached.expires.IsZero() && !c.clock.Now().Before(cached.expires) {
		c.entries.CompareAndDelete(key, v)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return cached.result.Clone(), true
}

// Put stores a copy of result for req.
func (c *SearchCache) Put(req *SearchRequest, result *SearchResult) {
	if result == nil {
		return
	}
	cached := &cachedResult{result: result.Clone()}
	if c.ttl > 0 {
		cached.expires = c.clock.Now().Add(c.ttl)
	}
	c.entries.Store(req.CacheKey(), cached)
}

func (c *SearchCache) do(key string, fn func() (any, error)) (any, error, bool) {
	return c.flight.Do(key, fn)
}

// Clear removes all entries. Hit and miss counters are kept.
func (c *SearchCache) Clear() {
	c.entries.Clear()
}

// Stats returns current cache statistics.
func (c *SearchCache) Stats() CacheStats {
	stats := CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	c.entries.Range(func(_, _ any) bool {
		stats.Entries++
		return true
	})
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}
