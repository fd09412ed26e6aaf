package spatial

import (
	"sort"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/openmon/spatial/featureflag"
)

// statsSmoothing is the exponential-moving-average factor for the running
// query time.
const statsSmoothing = (float32)(0.1)

// Stats is a snapshot of the manager's running performance counters.
type Stats struct {
	TotalQueries          uint64
	TotalEntitiesReturned uint64
	LastQueryTimeMs       float32
	AverageQueryTimeMs    float32
	CacheHitRate          float32
	CacheSize             int
}

// RadiusQuery is one element of a batched radius query.
type RadiusQuery struct {
	Source    EntityID
	Center    Vector3f
	Radius    float32
	LayerMask LayerMask
}

// RadiusQueryResult pairs a batch element's source entity with the entities
// found around it.
type RadiusQueryResult struct {
	Source EntityID
	Nearby []EntityID
}

// Manager is the facade over the octree and the query cache. It owns the
// entity position and layer side tables, keeps them consistent with the
// tree, and exposes the public query API.
//
// All operations are synchronous and single-threaded by design; only the
// statistics snapshot is guarded so a debug overlay on another goroutine can
// read it.
type Manager struct {
	config      WorldConfig
	worldBounds BoundingBox
	octree      SpatialIndex
	cache       *QueryCache
	flags       featureflag.FeatureFlag

	positions map[EntityID]Vector3f
	layers    map[EntityID]LayerMask

	statsMu sync.Mutex
	stats   Stats
}

// NewManager builds a manager over the configured world. An invalid config
// is the only hard failure in the engine.
func NewManager(config WorldConfig, flags featureflag.FeatureFlag) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.New("building spatial manager failed").Wrap(err)
	}

	m := &Manager{
		config:      config,
		worldBounds: config.BoundingBox(),
		cache:       NewQueryCache(),
		flags:       flags,
		positions:   make(map[EntityID]Vector3f),
		layers:      make(map[EntityID]LayerMask),
	}
	m.octree = NewOctree(m.worldBounds, config.MaxDepth, config.MaxEntitiesPerNode, config.MinNodeSize, func(id EntityID) (Vector3f, bool) {
		position, ok := m.positions[id]
		return position, ok
	})

	logs.WithTag("world", config.Name).
		WithTag("min_bounds", config.MinBounds).
		WithTag("max_bounds", config.MaxBounds).
		Info("spatial manager initialized")
	return m, nil
}

// --- entity management ---

// AddEntity registers an entity at position with the given layers. Adding an
// already-tracked entity degrades to an update with a warning. Positions
// outside the world bounds reject the whole call, position and layers alike,
// so the side tables and the tree never disagree.
func (m *Manager) AddEntity(id EntityID, position Vector3f, layers LayerMask) {
	if !m.worldBounds.Contains(position) {
		logs.WithTag("entity", id).
			WithTag("position", position).
			WithTag("world", m.config.Name).
			Warn("position outside world bounds, add ignored")
		return
	}

	if _, ok := m.positions[id]; ok {
		logs.WithTag("entity", id).
			Warn("entity already tracked, degrading to update")
		m.UpdateEntity(id, position)
		m.UpdateEntityLayers(id, layers)
		return
	}

	m.positions[id] = position
	m.layers[id] = layers
	m.octree.Insert(id, position)

	m.invalidateMovement(position, position)
	m.instrumentIndex()
}

// RemoveEntity erases an entity from the tracking maps and the tree.
func (m *Manager) RemoveEntity(id EntityID) {
	position, ok := m.positions[id]
	if !ok {
		logs.WithTag("entity", id).
			Warn("removing entity that is not tracked")
		return
	}

	m.octree.Remove(id, position)
	delete(m.positions, id)
	delete(m.layers, id)

	m.invalidateMovement(position, position)
	m.instrumentIndex()
}

// UpdateEntity moves a tracked entity to newPosition. Updating an unknown
// entity degrades to an add.
func (m *Manager) UpdateEntity(id EntityID, newPosition Vector3f) {
	oldPosition, ok := m.positions[id]
	if !ok {
		logs.WithTag("entity", id).
			Warn("updating entity that is not tracked, degrading to add")
		m.AddEntity(id, newPosition, LayerNone)
		return
	}

	if !m.worldBounds.Contains(newPosition) {
		logs.WithTag("entity", id).
			WithTag("position", newPosition).
			WithTag("world", m.config.Name).
			Warn("new position outside world bounds, update ignored")
		return
	}

	m.positions[id] = newPosition
	m.octree.Update(id, oldPosition, newPosition)

	m.invalidateMovement(oldPosition, newPosition)
}

// UpdateEntityLayers replaces a tracked entity's layer mask.
func (m *Manager) UpdateEntityLayers(id EntityID, layers LayerMask) {
	if _, ok := m.positions[id]; !ok {
		logs.WithTag("entity", id).
			Warn("updating layers for entity that is not tracked")
		return
	}

	m.layers[id] = layers
	position := m.positions[id]
	m.invalidateMovement(position, position)
}

// --- queries ---

// QueryRegion returns the ids of tracked entities whose position lies inside
// region and whose layers pass layerMask.
func (m *Manager) QueryRegion(region BoundingBox, layerMask LayerMask) []EntityID {
	start := time.Now()

	if m.cacheEnabled() {
		if cached, ok := m.cache.TryGetRegionQuery(region, layerMask); ok {
			results := append([]EntityID(nil), cached...)
			m.updateStatistics(0, len(results))
			instrumentQuery("region", start, true, len(results))
			return results
		}
	}

	candidates := m.octree.QueryRegion(region, nil)

	results := make([]EntityID, 0, len(candidates))
	for _, id := range candidates {
		position, ok := m.positions[id]
		if !ok {
			continue
		}
		if region.Contains(position) && m.passesLayerFilter(id, layerMask) {
			results = append(results, id)
		}
	}

	m.updateStatistics(elapsedMs(start), len(results))
	if m.cacheEnabled() {
		m.cache.CacheRegionQuery(region, layerMask, results)
	}
	instrumentQuery("region", start, false, len(results))
	return results
}

// QueryRadius returns the ids of tracked entities within radius of center,
// filtered by layerMask. Distances are measured against tracked true
// positions, not octree cell membership.
func (m *Manager) QueryRadius(center Vector3f, radius float32, layerMask LayerMask) []EntityID {
	start := time.Now()

	results, hit := m.queryRadiusUntimed(center, radius, layerMask)
	if hit {
		m.updateStatistics(0, len(results))
	} else {
		m.updateStatistics(elapsedMs(start), len(results))
	}
	instrumentQuery("radius", start, hit, len(results))
	return results
}

func (m *Manager) queryRadiusUntimed(center Vector3f, radius float32, layerMask LayerMask) ([]EntityID, bool) {
	if m.cacheEnabled() {
		if cached, ok := m.cache.TryGetRadiusQuery(center, radius, layerMask); ok {
			return append([]EntityID(nil), cached...), true
		}
	}

	candidates := m.octree.QueryRadius(center, radius, nil)

	results := make([]EntityID, 0, len(candidates))
	for _, id := range candidates {
		position, ok := m.positions[id]
		if !ok {
			continue
		}
		if Distance(center, position) <= radius && m.passesLayerFilter(id, layerMask) {
			results = append(results, id)
		}
	}

	if m.cacheEnabled() {
		m.cache.CacheRadiusQuery(center, radius, layerMask, results)
	}
	return results, false
}

// QueryFrustum returns the ids of tracked entities inside the frustum,
// filtered by layerMask. A panic inside the query is caught at this boundary
// and reported as an empty result, so a single bad frustum cannot take down
// the calling frame loop.
func (m *Manager) QueryFrustum(frustum *Frustum, layerMask LayerMask) (results []EntityID) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logs.WithTag("world", m.config.Name).
				Error(errors.Newf("frustum query failed: %v", r))
			results = []EntityID{}
		}
	}()

	if m.cacheEnabled() {
		if cached, ok := m.cache.TryGetFrustumQuery(frustum, layerMask); ok {
			results = append([]EntityID(nil), cached...)
			m.updateStatistics(0, len(results))
			instrumentQuery("frustum", start, true, len(results))
			return results
		}
	}

	candidates := m.octree.QueryFrustum(frustum, nil)

	results = make([]EntityID, 0, len(candidates))
	for _, id := range candidates {
		position, ok := m.positions[id]
		if !ok {
			continue
		}
		if frustum.ContainsPoint(position) && m.passesLayerFilter(id, layerMask) {
			results = append(results, id)
		}
	}

	m.updateStatistics(elapsedMs(start), len(results))
	if m.cacheEnabled() {
		// a frustum can span the whole world, so its cached coverage must too
		m.cache.CacheFrustumQuery(frustum, layerMask, m.worldBounds, results)
	}
	instrumentQuery("frustum", start, false, len(results))
	return results
}

// QueryRadiusBatch runs each query independently but amortizes statistics
// bookkeeping into one pass. Results preserve input order.
func (m *Manager) QueryRadiusBatch(queries []RadiusQuery) []RadiusQueryResult {
	start := time.Now()

	results := make([]RadiusQueryResult, len(queries))
	returned := 0
	for i, q := range queries {
		queryStart := time.Now()
		nearby, hit := m.queryRadiusUntimed(q.Center, q.Radius, q.LayerMask)
		results[i] = RadiusQueryResult{Source: q.Source, Nearby: nearby}
		returned += len(nearby)
		instrumentQuery("radius", queryStart, hit, len(nearby))
	}

	m.statsMu.Lock()
	m.stats.TotalQueries += (uint64)(len(queries))
	m.stats.TotalEntitiesReturned += (uint64)(returned)
	if len(queries) > 0 {
		perQueryMs := elapsedMs(start) / (float32)(len(queries))
		m.stats.LastQueryTimeMs = perQueryMs
		m.stats.AverageQueryTimeMs = m.stats.AverageQueryTimeMs*(1-statsSmoothing) + perQueryMs*statsSmoothing
	}
	m.stats.CacheHitRate = m.cache.HitRate()
	m.stats.CacheSize = m.cache.Len()
	m.statsMu.Unlock()

	spatialCacheSize.Set((float64)(m.cache.Len()))
	return results
}

// FindNearestEntities returns up to count entity ids within maxDistance of
// position, sorted by true distance ascending.
func (m *Manager) FindNearestEntities(position Vector3f, count int, maxDistance float32, layerMask LayerMask) []EntityID {
	if count <= 0 {
		return nil
	}

	candidates := m.QueryRegion(NewBoundingBoxAround(position, maxDistance), layerMask)

	type candidate struct {
		id       EntityID
		distance float32
	}
	ranked := make([]candidate, 0, len(candidates))
	for _, id := range candidates {
		entityPos, ok := m.positions[id]
		if !ok {
			continue
		}
		distance := Distance(position, entityPos)
		if distance <= maxDistance {
			ranked = append(ranked, candidate{id: id, distance: distance})
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].distance != ranked[j].distance {
			return ranked[i].distance < ranked[j].distance
		}
		return ranked[i].id < ranked[j].id
	})

	if count > len(ranked) {
		count = len(ranked)
	}
	results := make([]EntityID, count)
	for i := 0; i < count; i++ {
		results[i] = ranked[i].id
	}
	return results
}

// FindNearestEntity returns the closest entity within maxDistance of
// position, and whether one was found.
func (m *Manager) FindNearestEntity(position Vector3f, maxDistance float32, layerMask LayerMask) (EntityID, bool) {
	nearest := m.FindNearestEntities(position, 1, maxDistance, layerMask)
	if len(nearest) == 0 {
		return InvalidEntity, false
	}
	return nearest[0], true
}

// --- maintenance and diagnostics ---

// Clear resets the octree, the tracking maps, the cache and the statistics
// together.
func (m *Manager) Clear() {
	m.octree.Clear()
	m.positions = make(map[EntityID]Vector3f)
	m.layers = make(map[EntityID]LayerMask)
	m.cache.Clear()

	m.statsMu.Lock()
	m.stats = Stats{}
	m.statsMu.Unlock()

	m.instrumentIndex()
}

// PerformanceStats returns a snapshot of the running statistics. Safe to
// call from another goroutine.
func (m *Manager) PerformanceStats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Statistics returns recursive octree diagnostics counters.
func (m *Manager) Statistics() IndexStatistics {
	return m.octree.Statistics()
}

func (m *Manager) GetDebugInfo() IndexDebugInfo {
	return m.octree.GetDebugInfo()
}

func (m *Manager) CacheHealth() CacheHealth {
	return m.cache.CheckCacheHealth()
}

func (m *Manager) WorldBounds() BoundingBox {
	return m.worldBounds
}

func (m *Manager) WorldName() string {
	return m.config.Name
}

func (m *Manager) EntityCount() int {
	return len(m.positions)
}

func (m *Manager) ClearCache() {
	m.cache.Clear()
}

// CleanupCache sweeps expired cache entries.
func (m *Manager) CleanupCache() {
	m.cache.Cleanup()
}

// --- internals ---

func (m *Manager) cacheEnabled() bool {
	return !m.flags.IsSet(featureflag.FlagDisableQueryCache)
}

// invalidateMovement drops the cache entries covering an entity mutation.
// Regional invalidation is the default; the FULL_CACHE_INVALIDATION flag
// restores clearing everything, which trades hit rate for simpler behavior.
func (m *Manager) invalidateMovement(oldPos, newPos Vector3f) {
	if !m.cacheEnabled() {
		return
	}
	if m.flags.IsSet(featureflag.FlagFullCacheInvalidation) {
		m.cache.Clear()
		return
	}
	m.cache.InvalidateEntityMovement(oldPos, newPos, 0)
}

func (m *Manager) passesLayerFilter(id EntityID, layerMask LayerMask) bool {
	if layerMask.IsAll() {
		return true
	}

	layers, ok := m.layers[id]
	if !ok || layers.IsEmpty() {
		// entities with no recorded layer only pass an All query
		return false
	}
	return layerMask.Contains(layers)
}

func (m *Manager) updateStatistics(queryTimeMs float32, returned int) {
	m.statsMu.Lock()
	m.stats.TotalQueries++
	m.stats.TotalEntitiesReturned += (uint64)(returned)
	m.stats.LastQueryTimeMs = queryTimeMs
	m.stats.AverageQueryTimeMs = m.stats.AverageQueryTimeMs*(1-statsSmoothing) + queryTimeMs*statsSmoothing
	m.stats.CacheHitRate = m.cache.HitRate()
	m.stats.CacheSize = m.cache.Len()
	m.statsMu.Unlock()

	spatialCacheSize.Set((float64)(m.cache.Len()))
}

func (m *Manager) instrumentIndex() {
	stats := m.octree.Statistics()
	instrumentIndexSize(m.config.Name, len(m.positions), stats.NodeCount)
}

func elapsedMs(start time.Time) float32 {
	return (float32)(time.Since(start).Seconds() * 1000)
}
