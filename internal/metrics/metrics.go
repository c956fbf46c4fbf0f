// Package metrics aggregates per-run statistics from the recorded event
// stream: population, average speed, wait times at red lights, light
// cycles and tick throughput. A summary is written as JSON at the end of
// the run and optionally mirrored to InfluxDB.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/citygrid/trafficsim/internal/influx"
	"github.com/citygrid/trafficsim/pkg/core"
)

// Summary is the end-of-run statistics snapshot.
type Summary struct {
	RunID          string  `json:"run_id"`
	Spawned        int64   `json:"spawned"`
	Despawned      int64   `json:"despawned"`
	Current        int64   `json:"current"`
	Migrations     int64   `json:"migrations"`
	LightChanges   int64   `json:"light_changes"`
	TotalTicks     uint64  `json:"total_ticks"`
	AvgSpeed       float64 `json:"avg_speed"`
	AvgWaitTicks   float64 `json:"avg_wait_ticks"`
	AvgWaitSeconds float64 `json:"avg_wait_seconds"`
}

// Aggregator accumulates run statistics. All Observe methods are safe for
// concurrent use; they sit behind the worker's buffered pipelines so they
// must stay cheap.
type Aggregator struct {
	mu sync.Mutex

	runID    string
	tickRate int
	flux     *influx.Manager
	logger   *slog.Logger

	spawned      int64
	despawned    int64
	migrations   int64
	lightChanges int64
	maxTick      uint64

	speedSum     float64
	speedSamples int64

	// stoppedAt maps a waiting vehicle to the tick it stopped on.
	stoppedAt map[string]uint64
	waitTicks uint64
	waitCount int64
}

// NewAggregator creates an aggregator for one run. flux may be nil, in
// which case nothing is mirrored to InfluxDB.
func NewAggregator(runID string, tickRate int, flux *influx.Manager, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if tickRate <= 0 {
		tickRate = 1
	}
	return &Aggregator{
		runID:     runID,
		tickRate:  tickRate,
		flux:      flux,
		logger:    logger,
		stoppedAt: make(map[string]uint64),
	}
}

// ObserveSpawn records a vehicle entering the simulation.
func (a *Aggregator) ObserveSpawn(ev core.SpawnEvent) {
	a.mu.Lock()
	a.spawned++
	spawned, despawned := a.spawned, a.despawned
	a.mu.Unlock()

	a.mirrorPopulation(spawned, despawned)
}

// ObserveDespawn records a vehicle permanently leaving the simulation.
func (a *Aggregator) ObserveDespawn(ev core.DespawnEvent) {
	a.mu.Lock()
	a.despawned++
	delete(a.stoppedAt, ev.VehicleID)
	spawned, despawned := a.spawned, a.despawned
	a.mu.Unlock()

	a.mirrorPopulation(spawned, despawned)
}

// ObserveState records one vehicle state change, tracking stop/resume
// transitions to measure wait time.
func (a *Aggregator) ObserveState(st core.VehicleState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.speedSum += st.Speed
	a.speedSamples++

	if st.Stopped {
		if _, waiting := a.stoppedAt[st.VehicleID]; !waiting {
			a.stoppedAt[st.VehicleID] = st.Tick
		}
		return
	}

	if stopTick, waiting := a.stoppedAt[st.VehicleID]; waiting {
		delete(a.stoppedAt, st.VehicleID)
		if st.Tick > stopTick {
			a.waitTicks += st.Tick - stopTick
		}
		a.waitCount++
	}
}

// ObserveMigration records a zone handover.
func (a *Aggregator) ObserveMigration(ev core.MigrationEvent) {
	a.mu.Lock()
	a.migrations++
	a.mu.Unlock()

	if a.flux != nil {
		if err := a.flux.WritePoint(context.Background(), influx.BucketRunData,
			influx.MigrationPoint(a.runID, &ev)); err != nil {
			a.logger.Debug("Influx migration write failed", "error", err)
		}
	}
}

// ObserveLightChange records a traffic light transition.
func (a *Aggregator) ObserveLightChange(ch core.LightChange) {
	a.mu.Lock()
	a.lightChanges++
	a.mu.Unlock()
}

// ObserveTick records a per-zone tick sample.
func (a *Aggregator) ObserveTick(s core.TickSample) {
	a.mu.Lock()
	if s.Tick > a.maxTick {
		a.maxTick = s.Tick
	}
	a.mu.Unlock()

	if a.flux != nil {
		if err := a.flux.WritePoint(context.Background(), influx.BucketZonePerf,
			influx.TickSamplePoint(a.runID, &s)); err != nil {
			a.logger.Debug("Influx tick sample write failed", "error", err)
		}
	}
}

func (a *Aggregator) mirrorPopulation(spawned, despawned int64) {
	if a.flux == nil {
		return
	}
	if err := a.flux.WritePoint(context.Background(), influx.BucketRunData,
		influx.PopulationPoint(a.runID, spawned, despawned, spawned-despawned)); err != nil {
		a.logger.Debug("Influx population write failed", "error", err)
	}
}

// Snapshot returns the current run statistics.
func (a *Aggregator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		RunID:        a.runID,
		Spawned:      a.spawned,
		Despawned:    a.despawned,
		Current:      a.spawned - a.despawned,
		Migrations:   a.migrations,
		LightChanges: a.lightChanges,
		TotalTicks:   a.maxTick,
	}
	if a.speedSamples > 0 {
		s.AvgSpeed = a.speedSum / float64(a.speedSamples)
	}
	if a.waitCount > 0 {
		s.AvgWaitTicks = float64(a.waitTicks) / float64(a.waitCount)
		s.AvgWaitSeconds = s.AvgWaitTicks / float64(a.tickRate)
	}
	return s
}

// WriteSummary writes the end-of-run summary to a JSON file and mirrors
// it to InfluxDB when configured.
func (a *Aggregator) WriteSummary(path string) error {
	s := a.Snapshot()

	if a.flux != nil {
		if err := a.flux.WritePoint(context.Background(), influx.BucketSimPerformance,
			influx.RunSummaryPoint(s.RunID, s.TotalTicks, s.AvgSpeed, s.AvgWaitSeconds, s.LightChanges)); err != nil {
			a.logger.Debug("Influx run summary write failed", "error", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
