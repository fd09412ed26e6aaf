package spatial

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestWorldConfigDefaults(t *testing.T) {
	config := NewWorldConfig("plains", Vector3f{-50, -5, -50}, Vector3f{50, 20, 50})

	require.NoError(t, config.Validate())
	require.Equal(t, "plains", config.Name)
	require.Equal(t, defaultMaxDepth, config.MaxDepth)
	require.Equal(t, defaultMaxEntitiesPerNode, config.MaxEntitiesPerNode)

	box := config.BoundingBox()
	require.True(t, box.Min.Equal(Vector3f{-50, -5, -50}))
	require.True(t, box.Max.Equal(Vector3f{50, 20, 50}))
}

func TestWorldConfigPresets(t *testing.T) {
	require.NoError(t, DefaultWorldConfig().Validate())
	require.NoError(t, TestWorldConfig().Validate())
}

func TestWorldConfigValidation(t *testing.T) {
	t.Run("degenerate bounds on one axis", func(t *testing.T) {
		config := NewWorldConfig("broken", Vector3f{5, 0, 0}, Vector3f{5, 10, 10})

		err := config.Validate()
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidWorldConfig, errors.Type(err))
	})

	t.Run("inverted bounds", func(t *testing.T) {
		config := NewWorldConfig("broken", Vector3f{10, 0, 0}, Vector3f{-10, 10, 10})
		require.Error(t, config.Validate())
	})

	t.Run("depth out of range", func(t *testing.T) {
		config := TestWorldConfig()
		config.MaxDepth = 0
		require.Error(t, config.Validate())

		config.MaxDepth = 21
		require.Error(t, config.Validate())

		config.MaxDepth = 20
		require.NoError(t, config.Validate())
	})

	t.Run("entities per node", func(t *testing.T) {
		config := TestWorldConfig()
		config.MaxEntitiesPerNode = 0
		require.Error(t, config.Validate())
	})

	t.Run("node size", func(t *testing.T) {
		config := TestWorldConfig()
		config.MinNodeSize = 0
		require.Error(t, config.Validate())
	})
}
