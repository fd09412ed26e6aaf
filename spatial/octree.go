package spatial

// Octree is an 8-way spatial partition over entity positions. Nodes live in
// a flat arena and address their children by index, which keeps traversal
// iterative and cleanup a single slice truncation.
//
// A leaf subdivides when its entity count exceeds maxEntitiesPerNode and its
// depth is below maxDepth; past the depth limit a leaf holds unbounded
// entities. Subdivision redistributes entities through the positionOf
// callback since the tree stores ids only, not positions.
//
// Not safe for concurrent use; the owning manager serializes all calls.
type Octree struct {
	nodes              []octreeNode
	maxDepth           int
	maxEntitiesPerNode int
	minNodeSize        float32
	positionOf         func(EntityID) (Vector3f, bool)
}

type octreeNode struct {
	bounds   BoundingBox
	depth    int
	leaf     bool
	entities []EntityID
	children [8]int32
}

const noChild int32 = -1

func noChildren() [8]int32 {
	return [8]int32{noChild, noChild, noChild, noChild, noChild, noChild, noChild, noChild}
}

// NewOctree builds an octree over bounds. Leaves stop subdividing at
// maxDepth or once a child node would shrink below minNodeSize on any axis;
// minNodeSize <= 0 disables the size limit. positionOf resolves an entity's
// current position during subdivision; with a nil callback leaves never
// subdivide.
func NewOctree(bounds BoundingBox, maxDepth, maxEntitiesPerNode int, minNodeSize float32, positionOf func(EntityID) (Vector3f, bool)) *Octree {
	return &Octree{
		nodes: []octreeNode{{
			bounds:   bounds,
			leaf:     true,
			children: noChildren(),
		}},
		maxDepth:           maxDepth,
		maxEntitiesPerNode: maxEntitiesPerNode,
		minNodeSize:        minNodeSize,
		positionOf:         positionOf,
	}
}

// Insert adds id at position. Positions outside the root bounds are dropped;
// the manager rejects them before they reach the tree.
func (t *Octree) Insert(id EntityID, position Vector3f) {
	t.insertAt(0, id, position)
}

func (t *Octree) insertAt(idx int32, id EntityID, position Vector3f) {
	for {
		node := &t.nodes[idx]
		if !node.bounds.Contains(position) {
			return
		}

		if node.leaf {
			node.entities = append(node.entities, id)
			if len(node.entities) > t.maxEntitiesPerNode && t.canSubdivide(node) {
				t.subdivide(idx)
			}
			return
		}

		idx = node.children[childOctant(node.bounds, position)]
	}
}

// Remove erases id from the leaf containing position; no-op if absent.
func (t *Octree) Remove(id EntityID, position Vector3f) {
	t.removeAt(0, id, position)
}

// Update reroutes id from oldPos to newPos, only touching the subtrees where
// the two positions diverge.
func (t *Octree) Update(id EntityID, oldPos, newPos Vector3f) {
	t.updateAt(0, id, oldPos, newPos)
}

func (t *Octree) updateAt(idx int32, id EntityID, oldPos, newPos Vector3f) {
	oldIn := t.nodes[idx].bounds.Contains(oldPos)
	newIn := t.nodes[idx].bounds.Contains(newPos)

	switch {
	case oldIn && !newIn:
		t.Remove(id, oldPos)

	case !oldIn && newIn:
		t.insertAt(idx, id, newPos)

	case oldIn && newIn:
		if t.nodes[idx].leaf {
			// same leaf holds both positions, nothing to reroute
			return
		}

		oldOctant := childOctant(t.nodes[idx].bounds, oldPos)
		newOctant := childOctant(t.nodes[idx].bounds, newPos)
		oldChild := t.nodes[idx].children[oldOctant]
		newChild := t.nodes[idx].children[newOctant]

		if oldOctant != newOctant {
			t.removeAt(oldChild, id, oldPos)
			t.insertAt(newChild, id, newPos)
		} else {
			t.updateAt(oldChild, id, oldPos, newPos)
		}
	}
}

func (t *Octree) removeAt(idx int32, id EntityID, position Vector3f) {
	for {
		node := &t.nodes[idx]
		if !node.bounds.Contains(position) {
			return
		}
		if node.leaf {
			for i, e := range node.entities {
				if e == id {
					last := len(node.entities) - 1
					node.entities[i] = node.entities[last]
					node.entities = node.entities[:last]
					return
				}
			}
			return
		}
		idx = node.children[childOctant(node.bounds, position)]
	}
}

// QueryRegion appends to results every entity id held by a leaf whose bounds
// intersect region. Results are candidates only; exact containment is
// checked by the manager against true positions.
func (t *Octree) QueryRegion(region BoundingBox, results []EntityID) []EntityID {
	return t.queryRegionAt(0, region, results)
}

func (t *Octree) queryRegionAt(idx int32, region BoundingBox, results []EntityID) []EntityID {
	node := &t.nodes[idx]
	if !node.bounds.Intersects(region) {
		return results
	}

	if node.leaf {
		return append(results, node.entities...)
	}

	for _, child := range node.children {
		results = t.queryRegionAt(child, region, results)
	}
	return results
}

// QueryFrustum appends candidate ids from every leaf intersecting frustum.
func (t *Octree) QueryFrustum(frustum *Frustum, results []EntityID) []EntityID {
	return t.queryFrustumAt(0, frustum, results)
}

func (t *Octree) queryFrustumAt(idx int32, frustum *Frustum, results []EntityID) []EntityID {
	node := &t.nodes[idx]
	if !frustum.IntersectsBox(node.bounds) {
		return results
	}

	if node.leaf {
		return append(results, node.entities...)
	}

	for _, child := range node.children {
		results = t.queryFrustumAt(child, frustum, results)
	}
	return results
}

// QueryRadius appends candidate ids from every leaf intersecting the
// bounding box of the sphere (center, radius).
func (t *Octree) QueryRadius(center Vector3f, radius float32, results []EntityID) []EntityID {
	return t.queryRegionAt(0, NewBoundingBoxAround(center, radius), results)
}

// Clear drops all entities and children, reverting to a single root leaf.
func (t *Octree) Clear() {
	bounds := t.nodes[0].bounds
	t.nodes = t.nodes[:1]
	t.nodes[0] = octreeNode{
		bounds:   bounds,
		leaf:     true,
		children: noChildren(),
	}
}

func (t *Octree) Bounds() BoundingBox {
	return t.nodes[0].bounds
}

// EntityCount returns the number of entity ids held across all leaves.
func (t *Octree) EntityCount() int {
	count := 0
	for i := range t.nodes {
		count += len(t.nodes[i].entities)
	}
	return count
}

func (t *Octree) Statistics() IndexStatistics {
	stats := IndexStatistics{NodeCount: len(t.nodes)}
	for i := range t.nodes {
		if t.nodes[i].depth > stats.MaxDepth {
			stats.MaxDepth = t.nodes[i].depth
		}
		stats.TotalEntities += len(t.nodes[i].entities)
	}
	return stats
}

func (t *Octree) GetDebugInfo() IndexDebugInfo {
	stats := t.Statistics()

	info := IndexDebugInfo{
		Bounds:        t.nodes[0].bounds,
		NodeCount:     stats.NodeCount,
		MaxDepth:      stats.MaxDepth,
		TotalEntities: stats.TotalEntities,
	}
	for i := range t.nodes {
		if t.nodes[i].leaf {
			info.LeafOccupancy = append(info.LeafOccupancy, len(t.nodes[i].entities))
		}
	}
	return info
}

func (t *Octree) canSubdivide(node *octreeNode) bool {
	if t.positionOf == nil || node.depth >= t.maxDepth {
		return false
	}
	if t.minNodeSize <= 0 {
		return true
	}

	half := Mul(node.bounds.Size(), 0.5)
	return half.X >= t.minNodeSize && half.Y >= t.minNodeSize && half.Z >= t.minNodeSize
}

// subdivide turns the leaf at idx into an internal node with eight children
// and redistributes its entities by octant.
func (t *Octree) subdivide(idx int32) {
	bounds := t.nodes[idx].bounds
	depth := t.nodes[idx].depth

	var children [8]int32
	for octant := 0; octant < 8; octant++ {
		children[octant] = (int32)(len(t.nodes))
		t.nodes = append(t.nodes, octreeNode{
			bounds:   childBounds(bounds, octant),
			depth:    depth + 1,
			leaf:     true,
			children: noChildren(),
		})
	}

	// re-fetch: appends above may have moved the arena
	node := &t.nodes[idx]
	entities := node.entities
	node.entities = nil
	node.leaf = false
	node.children = children

	for _, id := range entities {
		position, ok := t.positionOf(id)
		if !ok {
			continue
		}
		t.insertAt(children[childOctant(bounds, position)], id, position)
	}
}

// childOctant picks the octant index for position around the box center:
// bit 0 for x, bit 1 for y, bit 2 for z.
func childOctant(bounds BoundingBox, position Vector3f) int {
	center := bounds.Center()

	octant := 0
	if position.X > center.X {
		octant |= 1
	}
	if position.Y > center.Y {
		octant |= 2
	}
	if position.Z > center.Z {
		octant |= 4
	}
	return octant
}

func childBounds(bounds BoundingBox, octant int) BoundingBox {
	center := bounds.Center()

	child := BoundingBox{Min: bounds.Min, Max: center}
	if octant&1 != 0 {
		child.Min.X = center.X
		child.Max.X = bounds.Max.X
	}
	if octant&2 != 0 {
		child.Min.Y = center.Y
		child.Max.Y = bounds.Max.Y
	}
	if octant&4 != 0 {
		child.Min.Z = center.Z
		child.Max.Z = bounds.Max.Z
	}
	return child
}
