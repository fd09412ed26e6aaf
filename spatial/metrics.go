package spatial

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	queryKindLabel = "kind"
	worldLabel     = "world"
)

var (
	spatialQueryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_query_count_total",
		Help: "The total number of spatial queries, by query kind.",
	}, []string{queryKindLabel})

	spatialQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spatial_query_latency_seconds",
		Help:    "The time to execute a spatial query.",
		Buckets: []float64{1e-6, 1e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2},
	}, []string{queryKindLabel})

	spatialQueryResultCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_query_result_count_total",
		Help: "The total number of entities returned by spatial queries.",
	}, []string{queryKindLabel})

	spatialCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spatial_cache_hits_total",
		Help: "The number of query cache hits.",
	})

	spatialCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spatial_cache_misses_total",
		Help: "The number of query cache misses.",
	})

	spatialCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_cache_size",
		Help: "The number of entries in the query cache.",
	})

	spatialCacheResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spatial_cache_resets_total",
		Help: "The number of full cache resets triggered by health checks.",
	})

	spatialEntityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spatial_entity_count",
		Help: "The number of entities tracked by the index.",
	}, []string{worldLabel})

	spatialNodeCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spatial_octree_node_count",
		Help: "The number of octree nodes.",
	}, []string{worldLabel})
)

func instrumentQuery(kind string, start time.Time, cacheHit bool, resultCount int) {
	spatialQueryCount.With(prometheus.Labels{queryKindLabel: kind}).Inc()
	spatialQueryLatency.With(prometheus.Labels{queryKindLabel: kind}).
		Observe(time.Since(start).Seconds())
	spatialQueryResultCount.With(prometheus.Labels{queryKindLabel: kind}).
		Add((float64)(resultCount))

	if cacheHit {
		spatialCacheHits.Inc()
	} else {
		spatialCacheMisses.Inc()
	}
}

func instrumentIndexSize(world string, entityCount, nodeCount int) {
	spatialEntityCount.With(prometheus.Labels{worldLabel: world}).
		Set((float64)(entityCount))
	spatialNodeCount.With(prometheus.Labels{worldLabel: world}).
		Set((float64)(nodeCount))
}
