package resilience

import (
	"container/list"
	"sync"
	"time"
)

// CacheStats tracks cache performance counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

type cacheEntry struct {
	key        string
	value      interface{}
	insertedAt time.Time
}

// Cache is a bounded in-memory cache with TTL expiry and LRU eviction.
// Safe for concurrent use. An expired entry is treated as a miss and purged
// lazily on access.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List // front = most recently used
	entries map[string]*list.Element
	stats   CacheStats
	now     func() time.Time
}

// NewCache creates a cache holding at most maxSize entries, each valid for ttl.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Get returns the cached value for key, or false on a miss. Accessing an
// entry refreshes its LRU position.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.removeLocked(elem)
		c.stats.Misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.stats.Hits++
	return entry.value, true
}

// Put stores a value, evicting the least-recently-used entry when at capacity.
func (c *Cache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.insertedAt = c.now()
		c.order.MoveToFront(elem)
		c.stats.Sets++
		return
	}

	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
			c.stats.Evictions++
		}
	}

	elem := c.order.PushFront(&cacheEntry{key: key, value: value, insertedAt: c.now()})
	c.entries[key] = elem
	c.stats.Sets++
}

// Delete removes a key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	return s
}

func (c *Cache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
}
