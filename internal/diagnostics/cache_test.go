package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func componentResult(component string) *ComponentResult {
	return &ComponentResult{
		Component: component,
		Status:    ComponentHealthy,
		Timestamp: time.Now(),
	}
}

func TestGenerateKeyDeterministic(t *testing.T) {
	c := NewCache(CacheConfig{})

	a := c.GenerateKey("storage", Options{"deep": true, "limit": 10})
	b := c.GenerateKey("storage", Options{"limit": 10, "deep": true})
	assert.Equal(t, a, b, "identical option sets must produce identical keys")

	different := c.GenerateKey("storage", Options{"deep": false, "limit": 10})
	assert.NotEqual(t, a, different, "differing option values must produce different keys")

	otherComponent := c.GenerateKey("search", Options{"deep": true, "limit": 10})
	assert.NotEqual(t, a, otherComponent)

	assert.Equal(t, "storage", c.GenerateKey("storage", nil))
}

func TestCacheGetSetRoundTrip(t *testing.T) {
	c := NewCache(CacheConfig{})
	cr := componentResult("storage")

	c.Set("storage", cr, 0)
	got := c.Get("storage")
	require.NotNil(t, got)
	assert.Same(t, cr, got, "cache returns the stored value, not a copy")

	assert.Nil(t, c.Get("missing"))
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(CacheConfig{})
	c.Set("short", componentResult("storage"), 20*time.Millisecond)

	require.NotNil(t, c.Get("short"))
	time.Sleep(40 * time.Millisecond)
	assert.Nil(t, c.Get("short"), "expired entries are dropped on read")
	assert.Equal(t, 0, c.Stats().Size, "lazy expiry removes the entry")
}

func TestCacheFIFOEviction(t *testing.T) {
	c := NewCache(CacheConfig{MaxSize: 2})

	c.Set("first", componentResult("a"), 0)
	c.Set("second", componentResult("b"), 0)

	// Reading "first" must NOT protect it: eviction is insertion-ordered,
	// not recency-ordered.
	require.NotNil(t, c.Get("first"))

	c.Set("third", componentResult("c"), 0)

	assert.Nil(t, c.Get("first"), "oldest-inserted entry is evicted regardless of reads")
	assert.NotNil(t, c.Get("second"))
	assert.NotNil(t, c.Get("third"))
}

func TestCacheOverwriteMovesToBack(t *testing.T) {
	c := NewCache(CacheConfig{MaxSize: 2})

	c.Set("first", componentResult("a"), 0)
	c.Set("second", componentResult("b"), 0)
	c.Set("first", componentResult("a2"), 0) // re-insert at back

	c.Set("third", componentResult("c"), 0)

	assert.Nil(t, c.Get("second"), "second is now the oldest insertion")
	assert.NotNil(t, c.Get("first"))
	assert.NotNil(t, c.Get("third"))
}

func TestCacheInvalidatePattern(t *testing.T) {
	c := NewCache(CacheConfig{})
	c.Set("storage", componentResult("storage"), 0)
	c.Set(`storage:{"deep":true}`, componentResult("storage"), 0)
	c.Set("search", componentResult("search"), 0)

	removed, err := c.Invalidate("^storage")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Nil(t, c.Get("storage"))
	assert.NotNil(t, c.Get("search"))

	_, err = c.Invalidate("[invalid")
	assert.Error(t, err)
}

func TestCacheClearAndStats(t *testing.T) {
	c := NewCache(CacheConfig{MaxSize: 5})
	c.Set("a", componentResult("a"), 0)
	c.Set("b", componentResult("b"), 0)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 5, stats.MaxSize)
	assert.Equal(t, []string{"a", "b"}, stats.Keys, "keys reported oldest first")

	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
	assert.Empty(t, c.Stats().Keys)
}
