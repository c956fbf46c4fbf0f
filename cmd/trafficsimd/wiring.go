package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/citygrid/trafficsim/internal/api"
	"github.com/citygrid/trafficsim/internal/bus"
	"github.com/citygrid/trafficsim/internal/cache"
	"github.com/citygrid/trafficsim/internal/config"
	"github.com/citygrid/trafficsim/internal/dispatcher"
	"github.com/citygrid/trafficsim/internal/influx"
	"github.com/citygrid/trafficsim/internal/logging"
	"github.com/citygrid/trafficsim/internal/mcp"
	"github.com/citygrid/trafficsim/internal/metrics"
	"github.com/citygrid/trafficsim/internal/monitor"
	"github.com/citygrid/trafficsim/internal/orchestrator"
	intOtel "github.com/citygrid/trafficsim/internal/otel"
	"github.com/citygrid/trafficsim/internal/run"
	"github.com/citygrid/trafficsim/internal/storage"
	wsstorage "github.com/citygrid/trafficsim/internal/storage/websocket"
	"github.com/citygrid/trafficsim/internal/worker"
	"github.com/citygrid/trafficsim/pkg/core"

	"github.com/urfave/cli/v3"
)

// daemon holds everything a running simulation wires together.
type daemon struct {
	slogManager  *logging.SlogManager
	logger       *slog.Logger
	logFile      *os.File
	otelProvider *intOtel.Provider

	runContext     *run.Context
	index          *cache.CityIndex
	flux           *influx.Manager
	aggregator     *metrics.Aggregator
	backend        storage.Backend
	workerManager  *worker.Manager
	monitorService *monitor.Service
	orch           *orchestrator.Orchestrator
	migrationBus   bus.Bus

	sessionStart time.Time
}

// runAction boots the daemon, runs the simulation until the process is
// interrupted, then shuts everything down in dependency order.
func runAction(ctx context.Context, cmd *cli.Command) error {
	d := &daemon{
		sessionStart: time.Now(),
		runContext:   run.NewContext(),
		index:        cache.NewCityIndex(),
	}

	d.setupLogging(cmd.String("config"))

	// Leave headroom for the OS and any co-located viewer process.
	numCPUs := runtime.NumCPU()
	runtime.GOMAXPROCS(int(math.Max(float64(numCPUs-2), 1)))
	d.logger.Debug("Number of CPUs", "numCPUs", numCPUs)

	if err := d.build(); err != nil {
		return err
	}

	if err := d.orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start simulation: %w", err)
	}
	d.logger.Info("Simulation started",
		"run", d.runContext.GetRun().RunID,
		"city", d.runContext.GetCity().Name,
		"zones", len(d.orch.ZoneIDs()))

	if cmd.Bool("mcp") {
		// Stdio transport shares stdout with console logging; pair
		// with logLevel=error when driving from an agent.
		mcpServer := mcp.NewServer(d.orch)
		go func() {
			if err := mcpServer.ServeStdio(); err != nil {
				d.logger.Error("MCP server stopped", "error", err)
			}
		}()
		d.logger.Info("MCP control surface serving on stdio")
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	d.logger.Info("Shutdown signal received")
	d.shutdown()
	return nil
}

// setupLogging brings the logging stack up in two stages: console only
// until the config is read, then again with the session log file and the
// optional GELF and OTel outputs.
func (d *daemon) setupLogging(configDir string) {
	d.slogManager = logging.NewSlogManager()
	d.slogManager.Setup(logging.SetupOptions{Level: config.GetString("logLevel")})
	d.logger = d.slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		d.logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		d.logger.Info("Loaded config")
	}

	logsDir := config.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.MkdirAll(logsDir, 0755)
	}

	logFilePath := logging.LogFilePath(logsDir, AppName, d.sessionStart)
	if _, err := os.Stat(logFilePath); err == nil {
		os.Rename(logFilePath, logFilePath+".old")
	}

	var err error
	d.logFile, err = os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		d.logger.Error("Failed to create/open log file!", "error", err, "path", logFilePath)
	}

	var gelfWriter *gelf.Writer
	if config.GetBool("graylog.enabled") {
		gelfWriter, err = gelf.NewWriter(config.GetString("graylog.address"))
		if err != nil {
			d.logger.Error("Failed to connect GELF writer", "error", err)
		}
	}

	if config.GetBool("otel.enabled") {
		d.otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  AppName,
			BatchTimeout: time.Duration(config.GetInt("otel.batchTimeoutSec")) * time.Second,
			LogWriter:    d.logFile,
			Endpoint:     config.GetString("otel.endpoint"),
			Insecure:     config.GetBool("otel.insecure"),
		})
		if err != nil {
			d.logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if d.otelProvider != nil {
		otelLogProvider = d.otelProvider.LoggerProvider()
	}

	opts := logging.SetupOptions{
		Level:        config.GetString("logLevel"),
		File:         d.logFile,
		OtelProvider: otelLogProvider,
		Context: func() []slog.Attr {
			r := d.runContext.GetRun()
			if r.RunID == "" {
				return nil
			}
			return []slog.Attr{
				slog.String("run", r.RunID),
				slog.String("city", r.CityName),
			}
		},
	}
	if gelfWriter != nil {
		opts.Gelf = gelfWriter
	}
	d.slogManager.Setup(opts)
	d.logger = d.slogManager.Logger()
	d.logger.Info("Logging to file", "path", logFilePath)
}

// build constructs the full pipeline: layout, journal backend, event
// dispatcher, zone actors and the status monitor. The order matters; the
// worker must be registered before any actor can tick.
func (d *daemon) build() error {
	city, err := config.LoadCityLayout(config.GetString("layoutPath"))
	if err != nil {
		return fmt.Errorf("failed to load city layout: %w", err)
	}

	tuning := config.DefaultTuning()
	if path := config.GetString("tuningPath"); path != "" {
		tuning, err = config.LoadTuning(path)
		if err != nil {
			return fmt.Errorf("failed to load tuning: %w", err)
		}
	}

	simCfg := config.GetSimConfig()
	if simCfg.Seed == 0 {
		simCfg.Seed = d.sessionStart.UnixNano()
	}

	activeRun := &core.Run{
		RunID:     uuid.NewString(),
		CityName:  city.Name,
		Seed:      simCfg.Seed,
		StartTime: d.sessionStart,
	}
	d.runContext.SetRun(activeRun, city)

	if config.GetBool("influx.enabled") {
		zlog := zerolog.New(os.Stderr).With().Timestamp().Str("component", "influx").Logger()
		backupPath := filepath.Join(config.GetString("logsDir"), "influx_backup.gz")
		d.flux = influx.NewManager(zlog, backupPath)
		if err := d.flux.Connect(); err != nil {
			d.logger.Warn("InfluxDB unavailable, metrics mirroring disabled", "error", err)
			d.flux = nil
		}
	}

	d.backend, err = storage.NewBackend(config.GetStorageConfig(), d.logger)
	if err != nil {
		return fmt.Errorf("failed to create journal backend: %w", err)
	}
	if err := d.backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize journal backend: %w", err)
	}
	if err := d.backend.StartRun(activeRun, city); err != nil {
		return fmt.Errorf("failed to register run: %w", err)
	}
	if tr, ok := d.backend.(interface{ SetTickRate(int) }); ok {
		tr.SetTickRate(simCfg.TickRate)
	}

	d.aggregator = metrics.NewAggregator(activeRun.RunID, simCfg.TickRate, d.flux, d.logger)

	zlog := zerolog.New(os.Stderr).With().Timestamp().Str("component", "dispatcher").Logger()
	eventDispatcher, err := dispatcher.New(logging.NewDispatcherLogger(zlog))
	if err != nil {
		return fmt.Errorf("failed to create event dispatcher: %w", err)
	}

	d.workerManager = worker.NewManager(worker.Dependencies{
		Index:   d.index,
		Metrics: d.aggregator,
		Logger:  d.logger,
	}, d.backend)
	d.workerManager.RegisterHandlers(eventDispatcher)

	d.migrationBus, err = bus.New(busConfigFor(config.GetBusConfig(), city))
	if err != nil {
		return fmt.Errorf("failed to create migration channel: %w", err)
	}

	d.orch, err = orchestrator.New(city, simCfg, tuning, orchestrator.Dependencies{
		Bus:      d.migrationBus,
		Observer: d.workerManager,
		Logger:   d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build zones: %w", err)
	}

	// Streaming viewers can ask for spawns; route them to the owning
	// zone actor.
	if ws, ok := d.backend.(*wsstorage.Backend); ok {
		ws.OnTriggerSpawn(func(zoneID string) {
			if err := d.orch.TriggerSpawn(zoneID); err != nil {
				d.logger.Warn("Dropped remote spawn request", "zone", zoneID, "error", err)
			}
		})
	}

	d.monitorService = monitor.NewService(monitor.Dependencies{
		RunContext:    d.runContext,
		Index:         d.index,
		WorkerManager: d.workerManager,
		Bus:           d.migrationBus,
		Flux:          d.flux,
		Logger:        d.logger,
		StatusPath:    filepath.Join(config.GetString("statusDir"), "trafficsim_status.json"),
	})
	if err := d.monitorService.Start(); err != nil {
		d.logger.Error("Failed to start status monitor", "error", err)
	}

	return nil
}

// shutdown stops the pipeline in reverse dependency order: actors first
// so no new events are produced, then the journal, then metrics and logs.
func (d *daemon) shutdown() {
	d.orch.Stop()
	d.monitorService.Stop()

	activeRun := d.runContext.GetRun()
	activeRun.EndTime = time.Now()

	if err := d.backend.EndRun(); err != nil {
		d.logger.Error("Failed to finalize run", "error", err)
	}
	if err := d.backend.Close(); err != nil {
		d.logger.Error("Failed to close journal backend", "error", err)
	}

	summaryPath := filepath.Join(config.GetString("statusDir"), "run_summary.json")
	if err := d.aggregator.WriteSummary(summaryPath); err != nil {
		d.logger.Error("Failed to write run summary", "error", err)
	} else {
		d.logger.Info("Run summary written", "path", summaryPath)
	}

	d.uploadReplay()

	if d.flux != nil {
		d.flux.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.slogManager.Flush(ctx); err != nil {
		d.logger.Error("Failed to flush logs", "error", err)
	}
	if d.otelProvider != nil {
		if err := d.otelProvider.Shutdown(ctx); err != nil {
			d.logger.Error("Failed to shut down OTel provider", "error", err)
		}
	}

	d.logger.Info("Shutdown complete", "uptime", time.Since(d.sessionStart).String())
}

// uploadReplay pushes the finished replay export to the viewer frontend
// when one is configured and the backend produced a file.
func (d *daemon) uploadReplay() {
	serverURL := config.GetString("api.serverUrl")
	if serverURL == "" {
		return
	}

	up, ok := d.backend.(storage.Uploadable)
	if !ok {
		d.logger.Debug("Journal backend does not produce replay files, skipping upload")
		return
	}
	path := up.GetExportedFilePath()
	if path == "" {
		d.logger.Warn("No replay export produced, skipping upload")
		return
	}

	client := api.New(serverURL, config.GetString("api.apiKey"))
	if err := client.Healthcheck(); err != nil {
		d.logger.Warn("Viewer frontend unreachable, skipping upload", "error", err)
		return
	}

	meta := up.GetExportMetadata()
	if meta.Tag == "" {
		meta.Tag = config.GetString("defaultTag")
	}

	if err := client.Upload(path, meta); err != nil {
		d.logger.Error("Replay upload failed", "error", err)
		return
	}
	d.logger.Info("Replay uploaded", "path", path, "run", meta.RunID)
}

// busConfigFor applies the layout's exchange name over the configured one.
// The city document owns the exchange so every process simulating the same
// city meets on the same broker resource; the config value is the fallback
// for layouts that omit it.
func busConfigFor(cfg config.BusConfig, city *core.City) config.BusConfig {
	if city != nil && city.Exchange != "" {
		cfg.Exchange = city.Exchange
	}
	return cfg
}

// validateAction loads the layout and tuning files and reports what a run
// would use, without touching the bus or the journal.
func validateAction(ctx context.Context, cmd *cli.Command) error {
	if err := config.Load(cmd.String("config")); err != nil {
		fmt.Printf("config: using defaults (%v)\n", err)
	}

	city, err := config.LoadCityLayout(config.GetString("layoutPath"))
	if err != nil {
		return fmt.Errorf("layout invalid: %w", err)
	}

	tuning := config.DefaultTuning()
	if path := config.GetString("tuningPath"); path != "" {
		if tuning, err = config.LoadTuning(path); err != nil {
			return fmt.Errorf("tuning invalid: %w", err)
		}
	}

	simCfg := config.GetSimConfig()
	fmt.Printf("layout OK: city %q, %gx%g, %d zones\n",
		city.Name, city.MapWidth, city.MapHeight, len(city.Zones))
	for _, z := range city.Zones {
		fmt.Printf("  %s: bounds (%g,%g) %gx%g, adjacent %v\n",
			z.ID, z.Bounds.X, z.Bounds.Y, z.Bounds.Width, z.Bounds.Height, z.Adjacent)
	}
	if city.GeoAnchor != nil {
		fmt.Printf("  geo anchor: lon %g lat %g, %g m/unit\n",
			city.GeoAnchor.OriginLon, city.GeoAnchor.OriginLat, city.GeoAnchor.MetersPerUnit)
	}
	fmt.Printf("tuning OK: speed %g-%g, spawn every %d-%d ticks\n",
		tuning.SpeedMin, tuning.SpeedMax, tuning.SpawnIntervalMin, tuning.SpawnIntervalMax)
	fmt.Printf("sim: %d ticks/s, seed %d, bus driver %q\n",
		simCfg.TickRate, simCfg.Seed, config.GetBusConfig().Driver)
	return nil
}
