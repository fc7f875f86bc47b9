package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_PutGet(t *testing.T) {
	c := NewCache(4, time.Minute)

	c.Put("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Put("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache(4, 30*time.Second)
	current := time.Now()
	c.now = func() time.Time { return current }

	c.Put("a", 1)

	current = current.Add(29 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)

	current = current.Add(2 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is purged on access")
}

func TestCache_PutRefreshesExisting(t *testing.T) {
	c := NewCache(4, 30*time.Second)
	current := time.Now()
	c.now = func() time.Time { return current }

	c.Put("a", 1)
	current = current.Add(25 * time.Second)
	c.Put("a", 2)
	current = current.Add(10 * time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
