package spatial

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// ErrTypeInvalidWorldConfig is the error type returned when a world
// configuration fails validation. Construction is the only place the engine
// is allowed to fail hard.
const ErrTypeInvalidWorldConfig = "invalid_world_config"

const (
	defaultMaxDepth           = 8
	defaultMaxEntitiesPerNode = 16
	defaultMinNodeSize        = (float32)(1.0)
)

// WorldConfig describes the world an index is built over. Bounds are fixed
// at construction; resizing requires discarding and rebuilding the index.
type WorldConfig struct {
	Name               string
	MinBounds          Vector3f
	MaxBounds          Vector3f
	MaxDepth           int
	MaxEntitiesPerNode int
	MinNodeSize        float32
}

// NewWorldConfig returns a config over the given bounds with default
// subdivision limits.
func NewWorldConfig(name string, min, max Vector3f) WorldConfig {
	return WorldConfig{
		Name:               name,
		MinBounds:          min,
		MaxBounds:          max,
		MaxDepth:           defaultMaxDepth,
		MaxEntitiesPerNode: defaultMaxEntitiesPerNode,
		MinNodeSize:        defaultMinNodeSize,
	}
}

func DefaultWorldConfig() WorldConfig {
	return NewWorldConfig("default",
		Vector3f{-100, -10, -100},
		Vector3f{100, 50, 100},
	)
}

func TestWorldConfig() WorldConfig {
	return NewWorldConfig("test",
		Vector3f{-30, -5, -30},
		Vector3f{30, 35, 30},
	)
}

func (c WorldConfig) Validate() error {
	if c.MinBounds.X >= c.MaxBounds.X ||
		c.MinBounds.Y >= c.MaxBounds.Y ||
		c.MinBounds.Z >= c.MaxBounds.Z {
		return errors.New("world min bounds must be less than max bounds on every axis").
			WithType(ErrTypeInvalidWorldConfig).
			WithTag("name", c.Name)
	}

	if c.MaxDepth < 1 || c.MaxDepth > 20 {
		return errors.New("max octree depth out of range").
			WithType(ErrTypeInvalidWorldConfig).
			WithTag("name", c.Name).
			WithTag("max_depth", c.MaxDepth)
	}

	if c.MaxEntitiesPerNode < 1 {
		return errors.New("max entities per node must be positive").
			WithType(ErrTypeInvalidWorldConfig).
			WithTag("name", c.Name).
			WithTag("max_entities_per_node", c.MaxEntitiesPerNode)
	}

	if c.MinNodeSize <= 0 {
		return errors.New("min node size must be positive").
			WithType(ErrTypeInvalidWorldConfig).
			WithTag("name", c.Name).
			WithTag("min_node_size", c.MinNodeSize)
	}

	return nil
}

func (c WorldConfig) BoundingBox() BoundingBox {
	return BoundingBox{Min: c.MinBounds, Max: c.MaxBounds}
}
