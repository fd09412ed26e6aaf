package spatial

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock drives the cache's time source without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache() (*QueryCache, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := NewQueryCache()
	cache.now = clock.Now
	return cache, clock
}

func TestCacheRadiusQueryRoundtrip(t *testing.T) {
	cache, _ := newTestCache()
	center := Vector3f{1, 2, 3}
	results := []EntityID{10, 20, 30}

	_, ok := cache.TryGetRadiusQuery(center, 5, LayerAll)
	require.False(t, ok)

	cache.CacheRadiusQuery(center, 5, LayerAll, results)

	got, ok := cache.TryGetRadiusQuery(center, 5, LayerAll)
	require.True(t, ok)
	require.Equal(t, results, got)

	t.Run("different layer mask misses", func(t *testing.T) {
		_, ok := cache.TryGetRadiusQuery(center, 5, LayerCreatures)
		require.False(t, ok)
	})

	t.Run("different radius misses", func(t *testing.T) {
		_, ok := cache.TryGetRadiusQuery(center, 6, LayerAll)
		require.False(t, ok)
	})

	t.Run("hit rate reflects lookups", func(t *testing.T) {
		require.Greater(t, cache.HitRate(), (float32)(0))
		require.Less(t, cache.HitRate(), (float32)(1))
	})
}

func TestCacheTTLExpiry(t *testing.T) {
	cache, clock := newTestCache()
	cache.CacheRadiusQuery(Vector3f{0, 0, 0}, 10, LayerAll, []EntityID{1})

	_, ok := cache.TryGetRadiusQuery(Vector3f{0, 0, 0}, 10, LayerAll)
	require.True(t, ok)

	clock.Advance(cacheTTL + time.Millisecond)

	_, ok = cache.TryGetRadiusQuery(Vector3f{0, 0, 0}, 10, LayerAll)
	require.False(t, ok)
}

func TestCacheRegionQueryRoundtrip(t *testing.T) {
	cache, _ := newTestCache()
	region := NewBoundingBox(Vector3f{-5, -5, -5}, Vector3f{5, 5, 5})

	cache.CacheRegionQuery(region, LayerCreatures, []EntityID{7})

	got, ok := cache.TryGetRegionQuery(region, LayerCreatures)
	require.True(t, ok)
	require.Equal(t, []EntityID{7}, got)

	other := NewBoundingBox(Vector3f{-5, -5, -5}, Vector3f{6, 5, 5})
	_, ok = cache.TryGetRegionQuery(other, LayerCreatures)
	require.False(t, ok)
}

func TestCacheFrustumQueryRoundtrip(t *testing.T) {
	cache, _ := newTestCache()
	frustum := NewFrustumFromMatrix(identityMatrix())
	world := NewBoundingBox(Vector3f{-100, -100, -100}, Vector3f{100, 100, 100})

	cache.CacheFrustumQuery(&frustum, LayerAll, world, []EntityID{1, 2})

	got, ok := cache.TryGetFrustumQuery(&frustum, LayerAll)
	require.True(t, ok)
	require.Equal(t, []EntityID{1, 2}, got)

	// nudge one plane: different frustum, different hash
	tilted := frustum
	tilted.Planes[0].Distance += 1
	_, ok = cache.TryGetFrustumQuery(&tilted, LayerAll)
	require.False(t, ok)
}

func TestCacheStoresCopies(t *testing.T) {
	cache, _ := newTestCache()
	results := []EntityID{1, 2, 3}

	cache.CacheRadiusQuery(Vector3f{0, 0, 0}, 1, LayerAll, results)
	results[0] = 99

	got, ok := cache.TryGetRadiusQuery(Vector3f{0, 0, 0}, 1, LayerAll)
	require.True(t, ok)
	require.Equal(t, []EntityID{1, 2, 3}, got)
}

func TestCacheInvalidateRegion(t *testing.T) {
	cache, _ := newTestCache()

	cache.CacheRadiusQuery(Vector3f{0, 0, 0}, 5, LayerAll, []EntityID{1})
	cache.CacheRadiusQuery(Vector3f{80, 80, 80}, 5, LayerAll, []EntityID{2})
	require.Equal(t, 2, cache.Len())

	removed := cache.InvalidateRegion(Vector3f{-10, -10, -10}, Vector3f{10, 10, 10})
	require.Equal(t, 1, removed)
	require.Equal(t, 1, cache.Len())

	_, ok := cache.TryGetRadiusQuery(Vector3f{80, 80, 80}, 5, LayerAll)
	require.True(t, ok)
}

func TestCacheInvalidateEntityMovement(t *testing.T) {
	cache, _ := newTestCache()

	cache.CacheRadiusQuery(Vector3f{0, 0, 0}, 2, LayerAll, []EntityID{1})
	cache.CacheRadiusQuery(Vector3f{50, 0, 0}, 2, LayerAll, []EntityID{2})

	// movement near the origin with the default 5 unit halo
	removed := cache.InvalidateEntityMovement(Vector3f{1, 0, 0}, Vector3f{3, 0, 0}, 0)
	require.Equal(t, 1, removed)

	_, ok := cache.TryGetRadiusQuery(Vector3f{50, 0, 0}, 2, LayerAll)
	require.True(t, ok)
}

func TestCacheCapacityBound(t *testing.T) {
	cache, _ := newTestCache()

	for i := 0; i < maxCacheEntries+200; i++ {
		center := Vector3f{(float32)(i), 0, 0}
		cache.CacheRadiusQuery(center, 5, LayerAll, []EntityID{(EntityID)(i + 1)})
		require.LessOrEqual(t, cache.Len(), maxCacheEntries)
	}

	// capacity eviction trims, maintenance never wipes a healthy cache
	require.Greater(t, cache.Len(), maxCacheEntries/2)
}

func TestCacheLRUEvictionScoring(t *testing.T) {
	cache, clock := newTestCache()

	cache.CacheRadiusQuery(Vector3f{1, 0, 0}, 5, LayerAll, []EntityID{1})
	cache.CacheRadiusQuery(Vector3f{2, 0, 0}, 5, LayerAll, []EntityID{2})
	cache.CacheRadiusQuery(Vector3f{3, 0, 0}, 5, LayerAll, []EntityID{3})

	// keep the first entry hot
	clock.Advance(500 * time.Millisecond)
	for i := 0; i < 5; i++ {
		_, ok := cache.TryGetRadiusQuery(Vector3f{1, 0, 0}, 5, LayerAll)
		require.True(t, ok)
	}

	cache.evictLRU(1)
	require.Equal(t, 1, cache.Len())

	_, ok := cache.TryGetRadiusQuery(Vector3f{1, 0, 0}, 5, LayerAll)
	require.True(t, ok)
}

func TestCacheCleanupSweepsOnlyExpired(t *testing.T) {
	cache, clock := newTestCache()

	cache.CacheRadiusQuery(Vector3f{1, 0, 0}, 5, LayerAll, []EntityID{1})
	clock.Advance(cacheTTL + time.Millisecond)
	cache.CacheRadiusQuery(Vector3f{2, 0, 0}, 5, LayerAll, []EntityID{2})

	cache.Cleanup()
	require.Equal(t, 1, cache.Len())

	_, ok := cache.TryGetRadiusQuery(Vector3f{2, 0, 0}, 5, LayerAll)
	require.True(t, ok)
}

func TestCacheHealth(t *testing.T) {
	cache, _ := newTestCache()

	t.Run("healthy when empty", func(t *testing.T) {
		health := cache.CheckCacheHealth()
		require.True(t, health.Healthy)
		require.False(t, cache.ResetIfCorrupted())
	})

	t.Run("collision rate marks unhealthy", func(t *testing.T) {
		cache.CacheRadiusQuery(Vector3f{1, 0, 0}, 5, LayerAll, []EntityID{1})
		cache.collisions = 30
		cache.missCount = 70
		cache.hitCount = 30

		health := cache.CheckCacheHealth()
		require.False(t, health.Healthy)
		require.Greater(t, health.CollisionRate, (float32)(cacheMaxCollisionRate))

		require.True(t, cache.ResetIfCorrupted())
		require.Equal(t, 0, cache.Len())
	})

	t.Run("near-capacity occupancy stays healthy", func(t *testing.T) {
		cache, _ := newTestCache()

		// 900 distinct live entries cross several maintenance passes; dense
		// but uniform occupancy is normal load, not corruption
		for i := 0; i < 900; i++ {
			center := Vector3f{(float32)(i), (float32)(i % 7), 0}
			cache.CacheRadiusQuery(center, 5, LayerAll, []EntityID{(EntityID)(i + 1)})
		}

		require.Equal(t, 900, cache.Len())

		health := cache.CheckCacheHealth()
		require.True(t, health.Healthy)
		require.False(t, health.ChainPressure)
		require.False(t, cache.ResetIfCorrupted())
		require.Equal(t, 900, cache.Len())
	})

	t.Run("clustered buckets mark unhealthy", func(t *testing.T) {
		cache, clock := newTestCache()

		// keys crafted to fold into a single bucket
		for i := 0; i < 64; i++ {
			cache.entries[(uint64)(i)<<8] = &cacheEntry{
				kind:       queryKindRadius,
				createdAt:  clock.Now(),
				lastAccess: clock.Now(),
			}
		}

		health := cache.CheckCacheHealth()
		require.True(t, health.ChainPressure)
		require.False(t, health.Healthy)
	})
}

func TestCacheHashDistribution(t *testing.T) {
	cache, _ := newTestCache()

	for i := 0; i < 100; i++ {
		cache.CacheRadiusQuery(Vector3f{(float32)(i), 0, 0}, 5, LayerAll, nil)
	}

	dist := cache.AnalyzeHashDistribution()
	require.Equal(t, 100, dist.EntryCount)
	require.Greater(t, dist.OccupiedBuckets, 0)
	require.GreaterOrEqual(t, dist.AvgChainLength, (float32)(1))
	// xxhash spreads sequential keys; chains should stay short
	require.LessOrEqual(t, dist.AvgChainLength, (float32)(cacheMaxAvgChainLen))
}

func TestCacheClearResetsCounters(t *testing.T) {
	cache, _ := newTestCache()

	cache.CacheRadiusQuery(Vector3f{1, 0, 0}, 5, LayerAll, []EntityID{1})
	cache.TryGetRadiusQuery(Vector3f{1, 0, 0}, 5, LayerAll)
	cache.TryGetRadiusQuery(Vector3f{9, 9, 9}, 5, LayerAll)

	cache.Clear()
	require.Equal(t, 0, cache.Len())
	require.Equal(t, (float32)(0), cache.HitRate())
}

func TestCacheDistinctQueryKindsDoNotCollide(t *testing.T) {
	cache, _ := newTestCache()

	// identical coordinates under different query kinds
	region := NewBoundingBox(Vector3f{0, 0, 0}, Vector3f{1, 1, 1})
	cache.CacheRegionQuery(region, LayerAll, []EntityID{1})

	_, ok := cache.TryGetRadiusQuery(Vector3f{0, 0, 0}, 1, LayerAll)
	require.False(t, ok)
}

func BenchmarkCacheRadiusLookup(b *testing.B) {
	cache := NewQueryCache()
	for i := 0; i < 500; i++ {
		cache.CacheRadiusQuery(Vector3f{(float32)(i), 0, 0}, 5, LayerAll, []EntityID{1, 2, 3})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		center := Vector3f{(float32)(i % 500), 0, 0}
		cache.TryGetRadiusQuery(center, 5, LayerAll)
	}
}

func ExampleQueryCache() {
	cache := NewQueryCache()
	cache.CacheRadiusQuery(Vector3f{0, 0, 0}, 10, LayerCreatures, []EntityID{4, 8})

	results, ok := cache.TryGetRadiusQuery(Vector3f{0, 0, 0}, 10, LayerCreatures)
	fmt.Println(ok, results)
	// Output: true [4 8]
}
