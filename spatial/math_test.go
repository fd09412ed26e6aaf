package spatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVector3f(t *testing.T) {
	a := NewVector3f(1, 2, 3)
	b := NewVector3f(4, 6, 3)

	require.True(t, Add(a, b).Equal(Vector3f{5, 8, 6}))
	require.True(t, Sub(b, a).Equal(Vector3f{3, 4, 0}))
	require.True(t, Mul(a, 2).Equal(Vector3f{2, 4, 6}))
	require.Equal(t, (float32)(5), Distance(a, b))
	require.True(t, a.EqualWithEpsilon(Vector3f{1.004, 2, 3}, 0.01))
	require.False(t, a.EqualWithEpsilon(Vector3f{1.02, 2, 3}, 0.01))
}

func TestBoundingBoxContains(t *testing.T) {
	box := NewBoundingBox(Vector3f{-1, -1, -1}, Vector3f{1, 1, 1})

	require.True(t, box.Contains(Vector3f{0, 0, 0}))
	require.True(t, box.Contains(Vector3f{1, 1, 1}))
	require.True(t, box.Contains(Vector3f{-1, -1, -1}))
	require.False(t, box.Contains(Vector3f{1.01, 0, 0}))
	require.False(t, box.Contains(Vector3f{0, -2, 0}))
}

func TestBoundingBoxIntersects(t *testing.T) {
	box := NewBoundingBox(Vector3f{0, 0, 0}, Vector3f{10, 10, 10})

	t.Run("overlapping", func(t *testing.T) {
		other := NewBoundingBox(Vector3f{5, 5, 5}, Vector3f{15, 15, 15})
		require.True(t, box.Intersects(other))
		require.True(t, other.Intersects(box))
	})

	t.Run("touching edge", func(t *testing.T) {
		other := NewBoundingBox(Vector3f{10, 0, 0}, Vector3f{20, 10, 10})
		require.True(t, box.Intersects(other))
	})

	t.Run("disjoint on one axis", func(t *testing.T) {
		other := NewBoundingBox(Vector3f{0, 11, 0}, Vector3f{10, 20, 10})
		require.False(t, box.Intersects(other))
	})
}

func TestBoundingBoxDerived(t *testing.T) {
	box := NewBoundingBox(Vector3f{0, 0, 0}, Vector3f{2, 4, 8})

	require.True(t, box.Center().Equal(Vector3f{1, 2, 4}))
	require.True(t, box.Size().Equal(Vector3f{2, 4, 8}))
	require.Equal(t, (float32)(64), box.Volume())
	require.True(t, box.IsValid())
}

func TestEmptyBoundingBox(t *testing.T) {
	box := NewEmptyBoundingBox()
	require.False(t, box.IsValid())
	require.False(t, box.Contains(Vector3f{0, 0, 0}))

	box.ExpandToFitPoint(Vector3f{1, 2, 3})
	require.True(t, box.IsValid())
	require.True(t, box.Min.Equal(Vector3f{1, 2, 3}))
	require.True(t, box.Max.Equal(Vector3f{1, 2, 3}))
}

func TestBoundingBoxAround(t *testing.T) {
	box := NewBoundingBoxAround(Vector3f{1, 1, 1}, 2)
	require.True(t, box.Min.Equal(Vector3f{-1, -1, -1}))
	require.True(t, box.Max.Equal(Vector3f{3, 3, 3}))
}

// identityMatrix returns a column-major identity, whose frustum is the
// [-1,1]^3 clip cube.
func identityMatrix() [16]float32 {
	var m [16]float32
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
	return m
}

func TestFrustumFromMatrix(t *testing.T) {
	frustum := NewFrustumFromMatrix(identityMatrix())

	for i := 0; i < 6; i++ {
		length := frustum.Planes[i].Normal.Length()
		require.InDelta(t, 1.0, length, 1e-6)
	}

	t.Run("contains point", func(t *testing.T) {
		require.True(t, frustum.ContainsPoint(Vector3f{0, 0, 0}))
		require.True(t, frustum.ContainsPoint(Vector3f{0.99, -0.99, 0.5}))
		require.False(t, frustum.ContainsPoint(Vector3f{1.5, 0, 0}))
		require.False(t, frustum.ContainsPoint(Vector3f{0, 0, -2}))
	})

	t.Run("intersects box", func(t *testing.T) {
		inside := NewBoundingBox(Vector3f{-0.5, -0.5, -0.5}, Vector3f{0.5, 0.5, 0.5})
		require.True(t, frustum.IntersectsBox(inside))

		straddling := NewBoundingBox(Vector3f{0.5, 0.5, 0.5}, Vector3f{2, 2, 2})
		require.True(t, frustum.IntersectsBox(straddling))

		outside := NewBoundingBox(Vector3f{2, 2, 2}, Vector3f{3, 3, 3})
		require.False(t, frustum.IntersectsBox(outside))
	})

	t.Run("enclosing box intersects", func(t *testing.T) {
		enclosing := NewBoundingBox(Vector3f{-10, -10, -10}, Vector3f{10, 10, 10})
		require.True(t, frustum.IntersectsBox(enclosing))
	})
}

func TestQuantizeAdaptivePrecision(t *testing.T) {
	// below 0.01: five decimal places survive
	require.NotEqual(t, quantize(0.00001), quantize(0.00002))
	// below 1.0: four decimal places
	require.NotEqual(t, quantize(0.1234), quantize(0.1235))
	require.Equal(t, quantize(0.12341), quantize(0.12339))
	// at or above 1.0: three decimal places
	require.NotEqual(t, quantize(12.345), quantize(12.346))
	require.Equal(t, quantize(12.3451), quantize(12.3449))
	// sign preserved
	require.Equal(t, -quantize(5.5), quantize(-5.5))
}

func TestDistanceMatchesEuclidean(t *testing.T) {
	a := Vector3f{1, 2, 3}
	b := Vector3f{-2, 4, 1}
	want := math.Sqrt(9 + 4 + 4)
	require.InDelta(t, want, (float64)(Distance(a, b)), 1e-5)
}
