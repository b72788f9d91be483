package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/arborvale/valicore/pkg/valcore"
)

// l1Entry pairs a cached result with its expiry; the LRU's own recency
// bookkeeping handles eviction order, so this struct only needs to answer
// "has this entry gone stale".
type l1Entry struct {
	value     *valcore.ValidationResult
	expiresAt time.Time
}

// L1Cache is the in-memory tier. Grounded on pkg/history/cache/l1_cache.go,
// whose own `// TODO: Replace with Ristretto for production` flagged its
// hand-rolled evictOldest() linear scan as a placeholder; golang-lru/v2 (a
// direct teacher dependency used elsewhere in the stack) is the pack's
// answer to exactly that gap, so eviction here is delegated to it instead
// of re-implementing LRU by hand.
type L1Cache struct {
	lru        *lru.Cache[string, l1Entry]
	ttl        time.Duration
	maxEntries int
}

// NewL1Cache creates an in-memory cache capped at maxEntries with a fixed TTL.
func NewL1Cache(maxEntries int, ttl time.Duration) (*L1Cache, error) {
	l, err := lru.New[string, l1Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &L1Cache{lru: l, ttl: ttl, maxEntries: maxEntries}, nil
}

// Get retrieves a value, treating an expired entry as a miss without
// evicting it early — cleanup of expired entries is left to eventual
// overwrite or LRU pressure, matching spec §4.5 ("eviction never observes a
// still-in-flight entry": expiry is a read-time concern, not a background
// sweep that could race a single-flight build).
func (c *L1Cache) Get(key string) (*valcore.ValidationResult, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set stores a value, overwriting any prior entry for key.
func (c *L1Cache) Set(key string, value *valcore.ValidationResult) {
	c.lru.Add(key, l1Entry{value: value, expiresAt: time.Now().Add(c.ttl)})
}

// Delete removes key.
func (c *L1Cache) Delete(key string) {
	c.lru.Remove(key)
}

// Clear empties the cache.
func (c *L1Cache) Clear() {
	c.lru.Purge()
}

// Stats reports basic occupancy for /metrics and diagnostics endpoints.
func (c *L1Cache) Stats() map[string]any {
	return map[string]any{
		"entries":     c.lru.Len(),
		"max_entries": c.maxEntries,
	}
}
