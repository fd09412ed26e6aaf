package spatial

// IndexStatistics are recursive diagnostics counters over an index.
type IndexStatistics struct {
	NodeCount     int
	MaxDepth      int
	TotalEntities int
}

// IndexDebugInfo is a point-in-time snapshot of an index for the diagnostics
// surface.
type IndexDebugInfo struct {
	Bounds        BoundingBox
	NodeCount     int
	MaxDepth      int
	TotalEntities int
	LeafOccupancy []int
}

// SpatialIndex is the structure the manager runs spatial queries against.
// Query methods append candidate entity ids to results and return the
// extended slice; exact containment filtering happens in the caller against
// true positions.
type SpatialIndex interface {
	Insert(id EntityID, position Vector3f)
	Remove(id EntityID, position Vector3f)
	Update(id EntityID, oldPos, newPos Vector3f)

	QueryRegion(region BoundingBox, results []EntityID) []EntityID
	QueryFrustum(frustum *Frustum, results []EntityID) []EntityID
	QueryRadius(center Vector3f, radius float32, results []EntityID) []EntityID

	Clear()
	Statistics() IndexStatistics

	// debug stuff:
	GetDebugInfo() IndexDebugInfo
}
