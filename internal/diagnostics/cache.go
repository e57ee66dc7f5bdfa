// Result cache: TTL-bounded, size-bounded store for component results.
//
// Eviction is strictly FIFO by insertion order, not LRU: reads never touch
// an entry's position, so eviction order is deterministic and independent of
// access patterns. Callers rely on that. Expired entries are dropped lazily
// on read; capacity eviction happens eagerly on write.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"
)

const (
	// DefaultCacheTTL is the lifetime of an entry when Set is called
	// without an explicit TTL.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheMaxSize bounds the number of entries.
	DefaultCacheMaxSize = 100
)

// CacheConfig tunes the result cache.
type CacheConfig struct {
	DefaultTTL time.Duration
	MaxSize    int
}

// CacheStats is a snapshot of cache occupancy. Keys are reported in
// insertion order, oldest first.
type CacheStats struct {
	Size    int      `json:"size"`
	MaxSize int      `json:"max_size"`
	Keys    []string `json:"keys"`
}

type cacheEntry struct {
	value      *ComponentResult
	insertedAt time.Time
	expiresAt  time.Time
}

// Cache stores component results keyed by (component, options). It is safe
// for concurrent use.
type Cache struct {
	cfg     CacheConfig
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string // insertion order, oldest first
}

// NewCache builds a cache with defaults applied.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultCacheTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultCacheMaxSize
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*cacheEntry),
	}
}

// GenerateKey derives a deterministic cache key from a component name and
// options. Option serialization is canonical (JSON object keys are emitted
// sorted), so identical option sets always produce identical keys and
// differing values produce different keys.
func (c *Cache) GenerateKey(component string, opts Options) string {
	if len(opts) == 0 {
		return component
	}
	b, err := json.Marshal(opts)
	if err != nil {
		// Unserializable option values still need a stable-enough key.
		return fmt.Sprintf("%s:%v", component, opts)
	}
	return component + ":" + string(b)
}

// Get returns the cached value for key, or nil for missing or expired
// entries. Expiry is checked lazily here; the entry is removed on the spot.
func (c *Cache) Get(key string) *ComponentResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(key)
		return nil
	}
	return entry.value
}

// Set stores value under key with the given TTL (zero means the configured
// default). At capacity the single oldest-inserted entry is evicted first.
// Overwriting an existing key re-inserts it at the back of the order.
func (c *Cache) Set(key string, value *ComponentResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}
	if len(c.entries) >= c.cfg.MaxSize && len(c.order) > 0 {
		c.removeLocked(c.order[0])
	}

	now := time.Now()
	c.entries[key] = &cacheEntry{
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	}
	c.order = append(c.order, key)
}

// Invalidate removes every entry whose full key matches the regular
// expression pattern and returns the number removed.
func (c *Cache) Invalidate(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range append([]string(nil), c.order...) {
		if re.MatchString(key) {
			c.removeLocked(key)
			removed++
		}
	}
	return removed, nil
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order = nil
}

// Stats returns current occupancy.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:    len(c.entries),
		MaxSize: c.cfg.MaxSize,
		Keys:    append([]string(nil), c.order...),
	}
}

// removeLocked deletes key from both the entry map and the order slice.
// Caller must hold the lock.
func (c *Cache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
