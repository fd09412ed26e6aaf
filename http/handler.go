package http

import (
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/openmon/spatial/spatial"
	"github.com/segmentio/encoding/json"
)

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func HandleReadyCheck(readinessCheck func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readinessCheck() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

// StatsProvider is the slice of the spatial manager the diagnostics
// endpoints read from. All methods must be safe to call from the serving
// goroutine.
type StatsProvider interface {
	WorldName() string
	WorldBounds() spatial.BoundingBox
	EntityCount() int
	PerformanceStats() spatial.Stats
	Statistics() spatial.IndexStatistics
	GetDebugInfo() spatial.IndexDebugInfo
	CacheHealth() spatial.CacheHealth
}

// StatsPayload is the JSON document served by the stats endpoint and pushed
// over the live stats stream.
type StatsPayload struct {
	World       string                  `json:"world"`
	WorldBounds spatial.BoundingBox     `json:"world_bounds"`
	EntityCount int                     `json:"entity_count"`
	Performance spatial.Stats           `json:"performance"`
	Index       spatial.IndexStatistics `json:"index"`
	Cache       spatial.CacheHealth     `json:"cache"`
}

func snapshotStats(provider StatsProvider) StatsPayload {
	return StatsPayload{
		World:       provider.WorldName(),
		WorldBounds: provider.WorldBounds(),
		EntityCount: provider.EntityCount(),
		Performance: provider.PerformanceStats(),
		Index:       provider.Statistics(),
		Cache:       provider.CacheHealth(),
	}
}

// HandleStats serves a point-in-time snapshot of the engine statistics.
func HandleStats(provider StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, snapshotStats(provider))
	}
}

// HandleDebugInfo serves the recursive index diagnostics, including leaf
// occupancy. More expensive than the stats snapshot.
func HandleDebugInfo(provider StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, provider.GetDebugInfo())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logs.Error(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
