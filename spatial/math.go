package spatial

import (
	"math"
)

// EntityID identifies an entity tracked by the index. IDs are opaque handles
// into an external entity store; the zero value is reserved as "no entity".
type EntityID uint32

const InvalidEntity EntityID = 0

func EqualWithEpsilon(a float32, b float32, epsilon float64) bool {
	return math.Abs((float64)(a-b)) <= epsilon
}

type Vector3f struct {
	X float32
	Y float32
	Z float32
}

func NewVector3f(x, y, z float32) Vector3f {
	return Vector3f{x, y, z}
}

func (v1 Vector3f) EqualWithEpsilon(v2 Vector3f, epsilon float64) bool {
	return math.Abs((float64)(v1.X-v2.X)) <= epsilon &&
		math.Abs((float64)(v1.Y-v2.Y)) <= epsilon &&
		math.Abs((float64)(v1.Z-v2.Z)) <= epsilon
}

func (v1 Vector3f) Equal(v2 Vector3f) bool {
	return v1.X == v2.X && v1.Y == v2.Y && v1.Z == v2.Z
}

func Add(a Vector3f, b Vector3f) Vector3f {
	return Vector3f{a.X + b.X, a.Y + b.Y, a.Z + b.Z}
}

func Sub(a Vector3f, b Vector3f) Vector3f {
	return Vector3f{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

func Mul(a Vector3f, s float32) Vector3f {
	return Vector3f{a.X * s, a.Y * s, a.Z * s}
}

func (a Vector3f) Length() float64 {
	return math.Sqrt((float64)(a.X*a.X + a.Y*a.Y + a.Z*a.Z))
}

func (a Vector3f) Dot(b Vector3f) float32 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

func Distance(a Vector3f, b Vector3f) float32 {
	return (float32)(Sub(a, b).Length())
}

// BoundingBox is an axis-aligned box. A valid box has Min <= Max on every
// axis; the empty box is inverted (Min=+Inf, Max=-Inf) so that expanding it
// with any point yields that point.
type BoundingBox struct {
	Min Vector3f
	Max Vector3f
}

func NewBoundingBox(min, max Vector3f) BoundingBox {
	return BoundingBox{Min: min, Max: max}
}

// NewBoundingBoxAround returns the box of half-extent radius centered on
// center, the bounding box of the sphere (center, radius).
func NewBoundingBoxAround(center Vector3f, radius float32) BoundingBox {
	r := Vector3f{radius, radius, radius}
	return BoundingBox{Min: Sub(center, r), Max: Add(center, r)}
}

func NewEmptyBoundingBox() BoundingBox {
	inf := (float32)(math.Inf(1))
	return BoundingBox{
		Min: Vector3f{inf, inf, inf},
		Max: Vector3f{-inf, -inf, -inf},
	}
}

func (b BoundingBox) Contains(p Vector3f) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func (b BoundingBox) Intersects(other BoundingBox) bool {
	return b.Min.X <= other.Max.X && b.Max.X >= other.Min.X &&
		b.Min.Y <= other.Max.Y && b.Max.Y >= other.Min.Y &&
		b.Min.Z <= other.Max.Z && b.Max.Z >= other.Min.Z
}

func (b BoundingBox) Center() Vector3f {
	return Mul(Add(b.Min, b.Max), 0.5)
}

func (b BoundingBox) Size() Vector3f {
	return Sub(b.Max, b.Min)
}

func (b BoundingBox) Volume() float32 {
	size := b.Size()
	return size.X * size.Y * size.Z
}

func (b BoundingBox) IsValid() bool {
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z
}

// ExpandToFitPoint grows the box so it contains p.
func (b *BoundingBox) ExpandToFitPoint(p Vector3f) {
	b.Min.X = (float32)(math.Min((float64)(b.Min.X), (float64)(p.X)))
	b.Min.Y = (float32)(math.Min((float64)(b.Min.Y), (float64)(p.Y)))
	b.Min.Z = (float32)(math.Min((float64)(b.Min.Z), (float64)(p.Z)))
	b.Max.X = (float32)(math.Max((float64)(b.Max.X), (float64)(p.X)))
	b.Max.Y = (float32)(math.Max((float64)(b.Max.Y), (float64)(p.Y)))
	b.Max.Z = (float32)(math.Max((float64)(b.Max.Z), (float64)(p.Z)))
}

// Plane is a plane equation: Normal.Dot(p) + Distance = 0, with points on the
// positive side considered inside.
type Plane struct {
	Normal   Vector3f
	Distance float32
}

// Frustum is a camera view volume bounded by six planes in the order left,
// right, bottom, top, near, far. Planes are expected to be normalized; use
// NewFrustumFromMatrix to derive them from a view-projection transform.
type Frustum struct {
	Planes [6]Plane
}

// NewFrustumFromMatrix extracts the six frustum planes from a column-major
// 4x4 view-projection matrix and normalizes them.
func NewFrustumFromMatrix(m [16]float32) Frustum {
	// row i of the matrix, as a plane candidate
	row := func(i int) [4]float32 {
		return [4]float32{m[0*4+i], m[1*4+i], m[2*4+i], m[3*4+i]}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	combine := func(a [4]float32, sign float32) Plane {
		p := Plane{
			Normal:   Vector3f{r3[0] + sign*a[0], r3[1] + sign*a[1], r3[2] + sign*a[2]},
			Distance: r3[3] + sign*a[3],
		}
		length := (float32)(p.Normal.Length())
		if length != 0 {
			p.Normal = Mul(p.Normal, 1/length)
			p.Distance /= length
		}
		return p
	}

	var f Frustum
	f.Planes[0] = combine(r0, 1)  // left
	f.Planes[1] = combine(r0, -1) // right
	f.Planes[2] = combine(r1, 1)  // bottom
	f.Planes[3] = combine(r1, -1) // top
	f.Planes[4] = combine(r2, 1)  // near
	f.Planes[5] = combine(r2, -1) // far
	return f
}

// IntersectsBox reports whether the box is at least partially inside the
// frustum, using the positive-vertex test: for each plane, the box vertex
// farthest along the plane normal must not be strictly behind the plane.
func (f *Frustum) IntersectsBox(box BoundingBox) bool {
	for i := 0; i < 6; i++ {
		plane := f.Planes[i]

		positive := box.Min
		if plane.Normal.X >= 0 {
			positive.X = box.Max.X
		}
		if plane.Normal.Y >= 0 {
			positive.Y = box.Max.Y
		}
		if plane.Normal.Z >= 0 {
			positive.Z = box.Max.Z
		}

		if plane.Normal.Dot(positive)+plane.Distance < 0 {
			return false
		}
	}
	return true
}

func (f *Frustum) ContainsPoint(p Vector3f) bool {
	for i := 0; i < 6; i++ {
		if f.Planes[i].Normal.Dot(p)+f.Planes[i].Distance < 0 {
			return false
		}
	}
	return true
}
