package stresstest

import (
	"context"
	"math/rand"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/openmon/spatial/featureflag"
	"github.com/openmon/spatial/spatial"
)

// ErrTypeInvalidStressConfig tags configuration validation failures.
const ErrTypeInvalidStressConfig = "invalid_stress_config"

// Config shapes a stress run: how big the world is, how many entities get
// packed into it and how hard it is queried.
type Config struct {
	EntityCount int     `json:"entity_count"`
	WorldExtent float32 `json:"world_extent"`
	QueryRadius float32 `json:"query_radius"`
	QueryRounds int     `json:"query_rounds"`
	BatchSize   int     `json:"batch_size"`
	MoveRatio   float32 `json:"move_ratio"`
	Seed        int64   `json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		EntityCount: 2000,
		WorldExtent: 400,
		QueryRadius: 50,
		QueryRounds: 32,
		BatchSize:   64,
		MoveRatio:   0.25,
		Seed:        1,
	}
}

func (c Config) Validate() error {
	if c.EntityCount <= 0 {
		return errors.New("entity count must be positive").
			WithType(ErrTypeInvalidStressConfig).
			WithTag("entity_count", c.EntityCount)
	}
	if c.WorldExtent <= 0 {
		return errors.New("world extent must be positive").
			WithType(ErrTypeInvalidStressConfig).
			WithTag("world_extent", c.WorldExtent)
	}
	if c.QueryRadius <= 0 {
		return errors.New("query radius must be positive").
			WithType(ErrTypeInvalidStressConfig).
			WithTag("query_radius", c.QueryRadius)
	}
	if c.QueryRounds <= 0 {
		return errors.New("query rounds must be positive").
			WithType(ErrTypeInvalidStressConfig).
			WithTag("query_rounds", c.QueryRounds)
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive").
			WithType(ErrTypeInvalidStressConfig).
			WithTag("batch_size", c.BatchSize)
	}
	if c.MoveRatio < 0 || c.MoveRatio > 1 {
		return errors.New("move ratio must be within [0,1]").
			WithType(ErrTypeInvalidStressConfig).
			WithTag("move_ratio", c.MoveRatio)
	}
	return nil
}

// Report summarizes a completed stress run.
type Report struct {
	RunID          string        `json:"run_id"`
	Config         Config        `json:"config"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	EntitiesAdded  int           `json:"entities_added"`
	MovesApplied   int           `json:"moves_applied"`
	QueriesRun     int           `json:"queries_run"`
	EntitiesFound  int           `json:"entities_found"`
	AvgQueryTimeMs float32       `json:"avg_query_time_ms"`
	CacheHitRate   float32       `json:"cache_hit_rate"`
	IndexNodes     int           `json:"index_nodes"`
}

var stressLayers = []spatial.LayerMask{
	spatial.LayerPlayer,
	spatial.LayerCreatures,
	spatial.LayerTerrain,
	spatial.LayerItems,
	spatial.LayerParticles,
}

// Run populates a dedicated world, then alternates movement churn with mixed
// query rounds. It honors ctx between rounds, so a canceled run returns
// early with the context error.
func Run(ctx context.Context, cfg Config) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}

	report := Report{
		RunID:     uuid.NewString(),
		Config:    cfg,
		StartedAt: time.Now(),
	}

	extent := cfg.WorldExtent
	config := spatial.NewWorldConfig("stress-"+report.RunID,
		spatial.Vector3f{X: -extent, Y: -extent, Z: -extent},
		spatial.Vector3f{X: extent, Y: extent, Z: extent},
	)
	manager, err := spatial.NewManager(config, featureflag.New(nil))
	if err != nil {
		return Report{}, errors.New("building stress world failed").Wrap(err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	coord := func() float32 { return (rng.Float32()*2 - 1) * extent * 0.99 }
	position := func() spatial.Vector3f { return spatial.Vector3f{X: coord(), Y: coord(), Z: coord()} }

	entities := make([]spatial.EntityID, cfg.EntityCount)
	for i := range entities {
		id := (spatial.EntityID)(i + 1)
		entities[i] = id
		manager.AddEntity(id, position(), stressLayers[i%len(stressLayers)])
		report.EntitiesAdded++
	}

	moveCount := (int)((float32)(cfg.EntityCount) * cfg.MoveRatio)

	for round := 0; round < cfg.QueryRounds; round++ {
		select {
		case <-ctx.Done():
			report.Duration = time.Since(report.StartedAt)
			return report, ctx.Err()
		default:
		}

		for i := 0; i < moveCount; i++ {
			id := entities[rng.Intn(len(entities))]
			manager.UpdateEntity(id, position())
			report.MovesApplied++
		}

		batch := make([]spatial.RadiusQuery, cfg.BatchSize)
		for i := range batch {
			batch[i] = spatial.RadiusQuery{
				Source:    entities[rng.Intn(len(entities))],
				Center:    position(),
				Radius:    cfg.QueryRadius,
				LayerMask: stressLayers[rng.Intn(len(stressLayers))],
			}
		}
		for _, result := range manager.QueryRadiusBatch(batch) {
			report.EntitiesFound += len(result.Nearby)
		}
		report.QueriesRun += len(batch)

		region := spatial.NewBoundingBoxAround(position(), cfg.QueryRadius*2)
		report.EntitiesFound += len(manager.QueryRegion(region, spatial.LayerAll))
		report.QueriesRun++
	}

	stats := manager.PerformanceStats()
	report.Duration = time.Since(report.StartedAt)
	report.AvgQueryTimeMs = stats.AverageQueryTimeMs
	report.CacheHitRate = stats.CacheHitRate
	report.IndexNodes = manager.Statistics().NodeCount

	logs.WithTag("run_id", report.RunID).
		WithTag("queries", report.QueriesRun).
		WithTag("avg_query_time_ms", report.AvgQueryTimeMs).
		WithTag("cache_hit_rate", report.CacheHitRate).
		Info("stress run completed")
	return report, nil
}
