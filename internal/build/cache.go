package build

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/assetforge/internal/transform"
)

// TransformCache holds transform outputs keyed by source content, module
// ID, chain and mode, with LRU eviction bounded by total content size and an
// optional TTL. Entries are never mutated once stored.
type TransformCache struct {
	entries     map[string]*cacheEntry
	mutex       sync.Mutex
	maxSize     int64
	currentSize int64
	ttl         time.Duration
	// LRU list with sentinel head and tail
	head *cacheEntry
	tail *cacheEntry

	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	key       string
	value     *transform.Output
	size      int64
	createdAt time.Time
	prev      *cacheEntry
	next      *cacheEntry
}

// NewTransformCache creates a cache. A zero ttl disables expiry.
func NewTransformCache(maxSize int64, ttl time.Duration) *TransformCache {
	c := &TransformCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		head:    &cacheEntry{},
		tail:    &cacheEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

func outputSize(out *transform.Output) int64 {
	size := int64(len(out.Content))
	for _, a := range out.Artifacts {
		size += int64(len(a.Content))
	}
	for k, v := range out.Exports {
		size += int64(len(k) + len(v))
	}
	return size
}

// Get returns the cached output for key.
func (c *TransformCache) Get(key string) (*transform.Output, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		c.remove(entry)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.moveToFront(entry)
	atomic.AddInt64(&c.hits, 1)
	return entry.value, true
}

// Set stores out under key, evicting least recently used entries as needed.
// Outputs larger than the whole cache are not stored.
func (c *TransformCache) Set(key string, out *transform.Output) {
	size := outputSize(out)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if size > c.maxSize {
		return
	}

	if existing, ok := c.entries[key]; ok {
		c.remove(existing)
	}

	for c.currentSize+size > c.maxSize && c.tail.prev != c.head {
		c.remove(c.tail.prev)
		atomic.AddInt64(&c.evictions, 1)
	}

	entry := &cacheEntry{key: key, value: out, size: size, createdAt: time.Now()}
	c.entries[key] = entry
	c.currentSize += size
	c.addToFront(entry)
}

// Clear drops every entry and resets the statistics.
func (c *TransformCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.currentSize = 0
	c.head.next = c.tail
	c.tail.prev = c.head

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.evictions, 0)
}

// CacheStats is a point-in-time view of the cache.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Size      int64 `json:"size"`
	MaxSize   int64 `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Stats returns the current statistics.
func (c *TransformCache) Stats() CacheStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return CacheStats{
		Entries:   len(c.entries),
		Size:      c.currentSize,
		MaxSize:   c.maxSize,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

// HitRate returns hits as a percentage of lookups.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

func (c *TransformCache) remove(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.entries, entry.key)
	c.currentSize -= entry.size
}

func (c *TransformCache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *TransformCache) moveToFront(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}
