package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/openmon/spatial/featureflag"
	spatialhttp "github.com/openmon/spatial/http"
	"github.com/openmon/spatial/spatial"
	"github.com/openmon/spatial/stresstest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The Spatiald version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "spatiald_info",
		Help:        "Spatiald information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"SPATIALD_ADDR"                 help:"Listening address for diagnostics clients."`
	AdminAddr          string        `cli:""        env:"SPATIALD_ADMIN_ADDR"           help:"Admin listening address."`
	LogLevel           string        `cli:""        env:"SPATIALD_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"SPATIALD_LOG_INDENT"           help:"Indent logs."`
	World              worldConfig   `cli:",hidden" env:"-"                             help:"World configuration."`
	Sim                simConfig     `cli:",hidden" env:"-"                             help:"Background simulation configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                             help:"Event pusher configuration."`
	LiveStatsInterval  time.Duration `cli:",hidden" env:"SPATIALD_LIVE_STATS_INTERVAL"  help:"The duration between live stats pushes."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"SPATIALD_LOG_SUMMARY_INTERVAL" help:"The duration between each stats log summary."`
	FeatureFlags       []string      `cli:",hidden" env:"SPATIALD_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                             help:"Show version."`
	Help               bool          `cli:""        env:"-"                             help:"Show help."`
}

type worldConfig struct {
	Name   string  `cli:",hidden" env:"SPATIALD_WORLD_NAME"   help:"The world name."`
	Extent float32 `cli:",hidden" env:"SPATIALD_WORLD_EXTENT" help:"The world half-extent on each axis."`
}

type simConfig struct {
	Entities int           `cli:",hidden" env:"SPATIALD_SIM_ENTITIES" help:"The number of simulated entities. Zero disables the simulation."`
	Interval time.Duration `cli:",hidden" env:"SPATIALD_SIM_INTERVAL" help:"The duration between simulation ticks."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"SPATIALD_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"SPATIALD_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"SPATIALD_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"SPATIALD_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:      ":4600",
		AdminAddr: ":18290",
		LogLevel:  logs.InfoLevel.String(),
		World: worldConfig{
			Name:   "overworld",
			Extent: 400,
		},
		Sim: simConfig{
			Entities: 500,
			Interval: time.Millisecond * 250,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
		LiveStatsInterval:  time.Second,
		LogSummaryInterval: time.Minute,
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the spatial diagnostics server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "spatiald",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	extent := conf.World.Extent
	worldCfg := spatial.NewWorldConfig(conf.World.Name,
		spatial.Vector3f{X: -extent, Y: -extent, Z: -extent},
		spatial.Vector3f{X: extent, Y: extent, Z: extent},
	)
	manager, err := spatial.NewManager(worldCfg, featureflag.New(conf.FeatureFlags))
	if err != nil {
		logs.Fatal(errors.New("building spatial world failed").Wrap(err))
	}

	// the engine is single-threaded: every access from the simulation and
	// the diagnostics handlers goes through the same lock
	world := &guardedWorld{manager: manager}

	if conf.Sim.Entities > 0 {
		go runSimulation(ctx, world, conf.Sim, extent)
	}
	go logSummaries(ctx, world, conf.LogSummaryInterval)

	readinessCheck := func() bool {
		return world.EntityCount() >= 0
	}

	var service http.ServeMux
	service.Handle("/health", spatialhttp.HandleWithCORS(http.HandlerFunc(spatialhttp.HandleHealthCheck)))
	service.Handle("/ready", spatialhttp.HandleWithCORS(http.HandlerFunc(spatialhttp.HandleReadyCheck(readinessCheck))))
	service.Handle("/version", spatialhttp.HandleWithCORS(http.HandlerFunc(spatialhttp.HandleVersion(version))))
	service.Handle("/stats", spatialhttp.HandleWithCORS(spatialhttp.HandleStats(world)))
	service.Handle("/stats/debug", spatialhttp.HandleWithCORS(spatialhttp.HandleDebugInfo(world)))
	service.Handle("/stats/live", spatialhttp.HandleLiveStats(ctx, world, conf.LiveStatsInterval))
	service.HandleFunc("/stress-test", stresstest.HandleStressTest(ctx, stresstest.Options{}))

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", spatialhttp.HandleHealthCheck)
	admin.HandleFunc("/ready", spatialhttp.HandleReadyCheck(readinessCheck))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("world", conf.World.Name).
		WithTag("world_extent", conf.World.Extent).
		Info("starting spatial diagnostics server")

	spatialhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			spatialhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

// guardedWorld serializes manager access between the simulation goroutine
// and the diagnostics handlers.
type guardedWorld struct {
	mu      sync.Mutex
	manager *spatial.Manager
}

func (w *guardedWorld) WorldName() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manager.WorldName()
}

func (w *guardedWorld) WorldBounds() spatial.BoundingBox {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manager.WorldBounds()
}

func (w *guardedWorld) EntityCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manager.EntityCount()
}

func (w *guardedWorld) PerformanceStats() spatial.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manager.PerformanceStats()
}

func (w *guardedWorld) Statistics() spatial.IndexStatistics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manager.Statistics()
}

func (w *guardedWorld) GetDebugInfo() spatial.IndexDebugInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manager.GetDebugInfo()
}

func (w *guardedWorld) CacheHealth() spatial.CacheHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manager.CacheHealth()
}

func (w *guardedWorld) AddEntity(id spatial.EntityID, position spatial.Vector3f, layers spatial.LayerMask) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.manager.AddEntity(id, position, layers)
}

func (w *guardedWorld) UpdateEntity(id spatial.EntityID, position spatial.Vector3f) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.manager.UpdateEntity(id, position)
}

func (w *guardedWorld) QueryRadius(center spatial.Vector3f, radius float32, layerMask spatial.LayerMask) []spatial.EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manager.QueryRadius(center, radius, layerMask)
}

// runSimulation keeps a synthetic population churning through the world so
// the diagnostics surface has live data: each tick moves a slice of entities
// and runs a handful of queries around them.
func runSimulation(ctx context.Context, world *guardedWorld, conf simConfig, extent float32) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	coord := func() float32 { return (rng.Float32()*2 - 1) * extent * 0.99 }
	position := func() spatial.Vector3f { return spatial.Vector3f{X: coord(), Y: coord(), Z: coord()} }

	layers := []spatial.LayerMask{
		spatial.LayerPlayer,
		spatial.LayerCreatures,
		spatial.LayerItems,
		spatial.LayerVegetation,
	}

	ids := make([]spatial.EntityID, conf.Entities)
	for i := range ids {
		ids[i] = (spatial.EntityID)(i + 1)
		world.AddEntity(ids[i], position(), layers[i%len(layers)])
	}
	logs.WithTag("entities", conf.Entities).Info("simulation populated")

	interval := conf.Interval
	if interval <= 0 {
		interval = time.Millisecond * 250
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for i := 0; i < len(ids)/10; i++ {
			world.UpdateEntity(ids[rng.Intn(len(ids))], position())
		}
		for i := 0; i < 4; i++ {
			world.QueryRadius(position(), extent/10, spatial.LayerAll)
		}
	}
}

func logSummaries(ctx context.Context, world *guardedWorld, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := world.PerformanceStats()
		index := world.Statistics()
		logs.WithTag("entities", world.EntityCount()).
			WithTag("octree_nodes", index.NodeCount).
			WithTag("total_queries", stats.TotalQueries).
			WithTag("avg_query_time_ms", stats.AverageQueryTimeMs).
			WithTag("cache_hit_rate", stats.CacheHitRate).
			WithTag("cache_size", stats.CacheSize).
			Info("spatial summary")
	}
}
