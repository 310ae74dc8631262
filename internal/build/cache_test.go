package build

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/transform"
)

func output(s string) *transform.Output {
	return &transform.Output{Content: []byte(s)}
}

func TestTransformCacheLRU(t *testing.T) {
	t.Run("evicts least recently used", func(t *testing.T) {
		cache := NewTransformCache(30, time.Hour)

		for i := 1; i <= 5; i++ {
			cache.Set(fmt.Sprintf("key%d", i), output(fmt.Sprintf("value%d", i)))
		}
		for i := 1; i <= 5; i++ {
			_, found := cache.Get(fmt.Sprintf("key%d", i))
			assert.True(t, found, "key%d should be present", i)
		}

		cache.Set("key6", output("value6"))

		_, found := cache.Get("key1")
		assert.False(t, found, "key1 should be evicted")
		for i := 2; i <= 6; i++ {
			_, found := cache.Get(fmt.Sprintf("key%d", i))
			assert.True(t, found, "key%d should still be present", i)
		}
	})

	t.Run("access refreshes recency", func(t *testing.T) {
		cache := NewTransformCache(24, time.Hour)
		for i := 1; i <= 4; i++ {
			cache.Set(fmt.Sprintf("key%d", i), output(fmt.Sprintf("value%d", i)))
		}

		cache.Get("key1")
		cache.Set("key5", output("value5"))

		_, found := cache.Get("key1")
		assert.True(t, found)
		_, found = cache.Get("key2")
		assert.False(t, found)
	})

	t.Run("artifacts count towards size", func(t *testing.T) {
		cache := NewTransformCache(10, time.Hour)
		cache.Set("big", &transform.Output{
			Content:   []byte("abc"),
			Artifacts: []transform.Artifact{{Kind: transform.ArtifactCSS, Content: []byte("0123456789")}},
		})

		_, found := cache.Get("big")
		assert.False(t, found, "outputs larger than the cache are not stored")
	})
}

func TestTransformCacheReplaceAndStats(t *testing.T) {
	cache := NewTransformCache(100, 0)

	cache.Set("a", output("12345"))
	cache.Set("a", output("123"))
	stats := cache.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(3), stats.Size)

	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, "123", string(got.Content))
	_, ok = cache.Get("missing")
	assert.False(t, ok)

	stats = cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate(), 0.001)

	cache.Clear()
	stats = cache.Stats()
	assert.Zero(t, stats.Entries)
	assert.Zero(t, stats.Size)
	assert.Zero(t, stats.Hits)
}

func TestTransformCacheTTL(t *testing.T) {
	cache := NewTransformCache(100, time.Millisecond)
	cache.Set("a", output("x"))

	time.Sleep(5 * time.Millisecond)

	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Zero(t, cache.Stats().Entries)
}

func TestTransformCacheConcurrentAccess(t *testing.T) {
	cache := NewTransformCache(1024, time.Hour)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", (g*100+i)%50)
				cache.Set(key, output("value"))
				cache.Get(key)
			}
		}(g)
	}
	wg.Wait()

	stats := cache.Stats()
	assert.LessOrEqual(t, stats.Size, int64(1024))
	assert.Equal(t, int64(800), stats.Hits+stats.Misses)
}
