package spatial

import (
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	cacheTTL            = time.Second
	maxCacheEntries     = 1000
	maxCacheMemoryBytes = 50 << 20

	// capacity eviction drains down to this share of maxCacheEntries
	cacheEvictionTarget = 0.8
	// health check cadence, in insertions
	cacheHealthCheckInterval = 100

	// exact-match tolerance for floating query parameters
	cacheMatchEpsilon = 0.01

	// health thresholds; chain length is a multiple of the uniform baseline
	cacheMaxCollisionRate = 0.2
	cacheMaxAvgChainLen   = 2.0

	// default half-extent for movement-based regional invalidation
	movementInvalidationRadius = (float32)(5.0)

	// rough per-entry bookkeeping cost, plus 4 bytes per result id
	cacheEntryBaseBytes = 128
)

type queryKind uint8

const (
	queryKindRadius queryKind = iota
	queryKindRegion
	queryKindFrustum
)

type cacheEntry struct {
	results     []EntityID
	createdAt   time.Time
	lastAccess  time.Time
	accessCount uint32
	layerMask   LayerMask
	// coverage is the spatial region the results were computed over, used
	// for regional invalidation.
	coverage BoundingBox

	kind queryKind
	// radius query descriptor
	center Vector3f
	radius float32
	// region query descriptor
	regionMin Vector3f
	regionMax Vector3f
	// frustum queries store their hash: plane data is too large to keep
	frustumHash uint64
}

// QueryCache memoizes filtered query results keyed by a hash of the
// quantized query parameters and layer mask. Entries expire after a TTL,
// are evicted LRU-style under capacity or memory pressure, and can be
// invalidated by spatial region. Hash collisions never produce wrong
// results: hits re-validate exact parameters.
//
// Single-threaded by design; all maintenance runs inline on the caller.
type QueryCache struct {
	entries map[uint64]*cacheEntry

	hitCount   uint64
	missCount  uint64
	collisions uint64
	insertions uint64

	now func() time.Time
}

func NewQueryCache() *QueryCache {
	return &QueryCache{
		entries: make(map[uint64]*cacheEntry),
		now:     time.Now,
	}
}

// --- lookups ---

// TryGetRadiusQuery returns the cached result for an identical radius query,
// if one is live. Identical means within 0.01 units on center and radius and
// the same layer mask.
func (c *QueryCache) TryGetRadiusQuery(center Vector3f, radius float32, layerMask LayerMask) ([]EntityID, bool) {
	hash := hashRadiusQuery(center, radius, layerMask)
	entry, ok := c.entries[hash]
	if !ok || !c.entryLive(entry) {
		c.missCount++
		return nil, false
	}

	if entry.kind != queryKindRadius ||
		entry.layerMask != layerMask ||
		!entry.center.EqualWithEpsilon(center, cacheMatchEpsilon) ||
		!EqualWithEpsilon(entry.radius, radius, cacheMatchEpsilon) {
		c.collisions++
		c.missCount++
		return nil, false
	}

	c.touch(entry)
	return entry.results, true
}

func (c *QueryCache) TryGetRegionQuery(region BoundingBox, layerMask LayerMask) ([]EntityID, bool) {
	hash := hashRegionQuery(region, layerMask)
	entry, ok := c.entries[hash]
	if !ok || !c.entryLive(entry) {
		c.missCount++
		return nil, false
	}

	if entry.kind != queryKindRegion ||
		entry.layerMask != layerMask ||
		!entry.regionMin.EqualWithEpsilon(region.Min, cacheMatchEpsilon) ||
		!entry.regionMax.EqualWithEpsilon(region.Max, cacheMatchEpsilon) {
		c.collisions++
		c.missCount++
		return nil, false
	}

	c.touch(entry)
	return entry.results, true
}

func (c *QueryCache) TryGetFrustumQuery(frustum *Frustum, layerMask LayerMask) ([]EntityID, bool) {
	hash := hashFrustumQuery(frustum, layerMask)
	entry, ok := c.entries[hash]
	if !ok || !c.entryLive(entry) {
		c.missCount++
		return nil, false
	}

	if entry.kind != queryKindFrustum ||
		entry.layerMask != layerMask ||
		entry.frustumHash != hash {
		c.collisions++
		c.missCount++
		return nil, false
	}

	c.touch(entry)
	return entry.results, true
}

// --- insertions ---

func (c *QueryCache) CacheRadiusQuery(center Vector3f, radius float32, layerMask LayerMask, results []EntityID) {
	entry := &cacheEntry{
		kind:     queryKindRadius,
		center:   center,
		radius:   radius,
		coverage: NewBoundingBoxAround(center, radius),
	}
	c.store(hashRadiusQuery(center, radius, layerMask), layerMask, results, entry)
}

func (c *QueryCache) CacheRegionQuery(region BoundingBox, layerMask LayerMask, results []EntityID) {
	entry := &cacheEntry{
		kind:      queryKindRegion,
		regionMin: region.Min,
		regionMax: region.Max,
		coverage:  region,
	}
	c.store(hashRegionQuery(region, layerMask), layerMask, results, entry)
}

// CacheFrustumQuery stores a frustum result. The covered region is
// approximated by the bounding box of the returned coverage argument, which
// the manager derives from the world bounds: a frustum can span the whole
// world, so any mutation inside it must be able to invalidate the entry.
func (c *QueryCache) CacheFrustumQuery(frustum *Frustum, layerMask LayerMask, coverage BoundingBox, results []EntityID) {
	hash := hashFrustumQuery(frustum, layerMask)
	entry := &cacheEntry{
		kind:        queryKindFrustum,
		frustumHash: hash,
		coverage:    coverage,
	}
	c.store(hash, layerMask, results, entry)
}

func (c *QueryCache) store(hash uint64, layerMask LayerMask, results []EntityID, entry *cacheEntry) {
	c.insertions++
	if c.insertions%cacheHealthCheckInterval == 0 {
		c.maintain()
	}

	if len(c.entries) >= maxCacheEntries || c.estimatedMemory() >= maxCacheMemoryBytes {
		c.evictLRU((int)(maxCacheEntries * cacheEvictionTarget))
	}

	now := c.now()
	entry.results = append([]EntityID(nil), results...)
	entry.createdAt = now
	entry.lastAccess = now
	entry.accessCount = 0
	entry.layerMask = layerMask

	c.entries[hash] = entry
}

// --- invalidation ---

// InvalidateRegion removes every entry whose covered region intersects
// [min,max] and returns the number of entries dropped.
func (c *QueryCache) InvalidateRegion(min, max Vector3f) int {
	region := BoundingBox{Min: min, Max: max}

	removed := 0
	for hash, entry := range c.entries {
		if entry.coverage.Intersects(region) {
			delete(c.entries, hash)
			removed++
		}
	}
	return removed
}

// InvalidateEntityMovement invalidates the union region of an entity's old
// and new positions, each expanded by radius. A radius <= 0 falls back to
// the default movement radius.
func (c *QueryCache) InvalidateEntityMovement(oldPos, newPos Vector3f, radius float32) int {
	if radius <= 0 {
		radius = movementInvalidationRadius
	}

	region := NewBoundingBoxAround(oldPos, radius)
	moved := NewBoundingBoxAround(newPos, radius)
	region.ExpandToFitPoint(moved.Min)
	region.ExpandToFitPoint(moved.Max)

	return c.InvalidateRegion(region.Min, region.Max)
}

func (c *QueryCache) Clear() {
	c.entries = make(map[uint64]*cacheEntry)
	c.hitCount = 0
	c.missCount = 0
	c.collisions = 0
}

// Cleanup sweeps expired entries only.
func (c *QueryCache) Cleanup() {
	now := c.now()
	for hash, entry := range c.entries {
		if now.Sub(entry.createdAt) >= cacheTTL {
			delete(c.entries, hash)
		}
	}
}

// --- statistics and health ---

func (c *QueryCache) Len() int {
	return len(c.entries)
}

func (c *QueryCache) HitRate() float32 {
	total := c.hitCount + c.missCount
	if total == 0 {
		return 0
	}
	return (float32)(c.hitCount) / (float32)(total)
}

// HashDistribution summarizes how cache keys spread over hash buckets.
type HashDistribution struct {
	EntryCount      int
	BucketCount     int
	OccupiedBuckets int
	MaxBucketLoad   int
	AvgChainLength  float32
}

// AnalyzeHashDistribution folds the key space into 256 buckets and measures
// occupancy. A healthy distribution keeps the average chain length near the
// uniform baseline for the current entry count.
func (c *QueryCache) AnalyzeHashDistribution() HashDistribution {
	const bucketCount = 256

	var buckets [bucketCount]int
	for hash := range c.entries {
		buckets[hash%bucketCount]++
	}

	dist := HashDistribution{
		EntryCount:  len(c.entries),
		BucketCount: bucketCount,
	}
	for _, load := range buckets {
		if load == 0 {
			continue
		}
		dist.OccupiedBuckets++
		if load > dist.MaxBucketLoad {
			dist.MaxBucketLoad = load
		}
	}
	if dist.OccupiedBuckets > 0 {
		dist.AvgChainLength = (float32)(dist.EntryCount) / (float32)(dist.OccupiedBuckets)
	}
	return dist
}

// CacheHealth reports the self-diagnosis state of the cache.
type CacheHealth struct {
	Healthy         bool
	CollisionRate   float32
	AvgChainLength  float32
	EntryCount      int
	EstimatedMemory int

	MemoryPressure bool
	ChainPressure  bool
}

func (c *QueryCache) CheckCacheHealth() CacheHealth {
	dist := c.AnalyzeHashDistribution()

	health := CacheHealth{
		EntryCount:      len(c.entries),
		EstimatedMemory: c.estimatedMemory(),
		AvgChainLength:  dist.AvgChainLength,
	}

	lookups := c.hitCount + c.missCount
	if lookups > 0 {
		health.CollisionRate = (float32)(c.collisions) / (float32)(lookups)
	}

	// folding the key space into bucketCount buckets packs
	// entries/bucketCount per bucket even for a perfect hash, so chain
	// length is judged against that uniform baseline: only chains well past
	// it indicate key clustering
	expectedChain := (float32)(dist.EntryCount) / (float32)(dist.BucketCount)
	if expectedChain < 1 {
		expectedChain = 1
	}

	health.MemoryPressure = health.EstimatedMemory >= maxCacheMemoryBytes
	health.ChainPressure = health.AvgChainLength > expectedChain*cacheMaxAvgChainLen

	health.Healthy = health.CollisionRate <= cacheMaxCollisionRate &&
		!health.ChainPressure &&
		!health.MemoryPressure &&
		health.EntryCount <= maxCacheEntries
	return health
}

// ResetIfCorrupted clears the whole cache when health checks fail, returning
// whether a reset happened. Invoked opportunistically during insertion.
func (c *QueryCache) ResetIfCorrupted() bool {
	if c.CheckCacheHealth().Healthy {
		return false
	}
	c.Clear()
	spatialCacheResets.Inc()
	return true
}

// maintain is the periodic inline maintenance pass: sweep expired entries,
// relieve memory and chain pressure through aggressive eviction, then reset
// outright if the cache still diagnoses itself corrupted.
func (c *QueryCache) maintain() {
	c.Cleanup()

	health := c.CheckCacheHealth()
	if health.MemoryPressure {
		c.evictLRU(maxCacheEntries / 2)
	} else if health.ChainPressure {
		c.evictLRU((int)(maxCacheEntries * cacheEvictionTarget))
	}

	c.ResetIfCorrupted()
}

// evictLRU drops the most evictable entries until at most target remain.
// Evictability is scored by time since last access dampened by access
// frequency, so a hot old entry outlives a cold recent one.
func (c *QueryCache) evictLRU(target int) {
	if len(c.entries) <= target {
		return
	}

	now := c.now()

	type scored struct {
		hash  uint64
		score float64
	}
	candidates := make([]scored, 0, len(c.entries))
	for hash, entry := range c.entries {
		score := now.Sub(entry.lastAccess).Seconds() / (float64)(1+entry.accessCount)
		candidates = append(candidates, scored{hash: hash, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	for _, candidate := range candidates[:len(c.entries)-target] {
		delete(c.entries, candidate.hash)
	}
}

func (c *QueryCache) estimatedMemory() int {
	total := 0
	for _, entry := range c.entries {
		total += cacheEntryBaseBytes + len(entry.results)*4
	}
	return total
}

func (c *QueryCache) entryLive(entry *cacheEntry) bool {
	return c.now().Sub(entry.createdAt) < cacheTTL
}

func (c *QueryCache) touch(entry *cacheEntry) {
	entry.lastAccess = c.now()
	entry.accessCount++
	c.hitCount++
}

// --- hashing ---

// quantize folds a float into an integer at adaptive precision: small
// magnitudes keep more decimal places so near-duplicate queries collide on
// purpose while distinct ones stay apart.
func quantize(v float32) int64 {
	magnitude := math.Abs((float64)(v))

	var scale float64
	switch {
	case magnitude < 0.01:
		scale = 1e5
	case magnitude < 1.0:
		scale = 1e4
	default:
		scale = 1e3
	}
	return (int64)(math.Round((float64)(v) * scale))
}

func hashFloat(d *xxhash.Digest, v float32) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], (uint64)(quantize(v)))
	d.Write(buf[:])
}

func hashVector(d *xxhash.Digest, v Vector3f) {
	hashFloat(d, v.X)
	hashFloat(d, v.Y)
	hashFloat(d, v.Z)
}

func hashTail(d *xxhash.Digest, kind queryKind, layerMask LayerMask) uint64 {
	var buf [8]byte
	buf[0] = (byte)(kind)
	binary.LittleEndian.PutUint32(buf[1:5], (uint32)(layerMask))
	d.Write(buf[:5])
	return d.Sum64()
}

func hashRadiusQuery(center Vector3f, radius float32, layerMask LayerMask) uint64 {
	var d xxhash.Digest
	d.Reset()
	hashVector(&d, center)
	hashFloat(&d, radius)
	return hashTail(&d, queryKindRadius, layerMask)
}

func hashRegionQuery(region BoundingBox, layerMask LayerMask) uint64 {
	var d xxhash.Digest
	d.Reset()
	hashVector(&d, region.Min)
	hashVector(&d, region.Max)
	return hashTail(&d, queryKindRegion, layerMask)
}

func hashFrustumQuery(frustum *Frustum, layerMask LayerMask) uint64 {
	var d xxhash.Digest
	d.Reset()
	for i := 0; i < 6; i++ {
		hashVector(&d, frustum.Planes[i].Normal)
		hashFloat(&d, frustum.Planes[i].Distance)
	}
	return hashTail(&d, queryKindFrustum, layerMask)
}
