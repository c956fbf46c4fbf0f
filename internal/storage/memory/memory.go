// Package memory stores the run journal in memory and writes a replay
// export when the run ends. It is the default backend: no external
// services, one file per run.
package memory

import (
	"sync"
	"time"

	"github.com/citygrid/trafficsim/internal/config"
	"github.com/citygrid/trafficsim/pkg/core"
)

// VehicleRecord groups a vehicle with all its time-series data.
type VehicleRecord struct {
	Vehicle   core.VehicleSnapshot
	ZoneID    string
	SpawnTick uint64
	States    []core.VehicleState
}

// Backend stores run data in memory and exports to JSON.
type Backend struct {
	cfg  config.MemoryConfig
	run  *core.Run
	city *core.City

	vehicles map[string]*VehicleRecord // keyed by vehicle id
	order    []string                  // insertion order, keeps exports deterministic

	lightChanges []core.LightChange
	migrations   []core.MigrationEvent
	spawns       []core.SpawnEvent
	despawns     []core.DespawnEvent
	samples      []core.TickSample

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend.
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		vehicles: make(map[string]*VehicleRecord),
	}
}

// Init initializes the backend.
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources.
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run.
func (b *Backend) StartRun(run *core.Run, city *core.City) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.run = run
	b.city = city

	// Reset all collections
	b.vehicles = make(map[string]*VehicleRecord)
	b.order = nil
	b.lightChanges = nil
	b.migrations = nil
	b.spawns = nil
	b.despawns = nil
	b.samples = nil

	return nil
}

// EndRun finalizes and exports the run data.
func (b *Backend) EndRun() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run != nil && b.run.EndTime.IsZero() {
		b.run.EndTime = time.Now()
	}

	if err := b.exportJSON(); err != nil {
		return err
	}
	if b.cfg.SnapshotPath != "" {
		return b.exportSnapshot()
	}
	return nil
}

// AddVehicle registers a new vehicle. Re-registration after a migration
// keeps the original record.
func (b *Backend) AddVehicle(zoneID string, tick uint64, v *core.VehicleSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.vehicles[v.ID]; ok {
		return nil
	}
	b.vehicles[v.ID] = &VehicleRecord{
		Vehicle:   *v,
		ZoneID:    zoneID,
		SpawnTick: tick,
		States:    make([]core.VehicleState, 0),
	}
	b.order = append(b.order, v.ID)
	return nil
}

// RecordVehicleState records a vehicle state update. States for unknown
// vehicles are silently dropped.
func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if record, ok := b.vehicles[s.VehicleID]; ok {
		record.States = append(record.States, *s)
	}
	return nil
}

// RecordLightState records a light transition.
func (b *Backend) RecordLightState(c *core.LightChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lightChanges = append(b.lightChanges, *c)
	return nil
}

// RecordMigrationEvent records a zone ownership transfer.
func (b *Backend) RecordMigrationEvent(e *core.MigrationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.migrations = append(b.migrations, *e)
	return nil
}

// RecordSpawnEvent records a vehicle entering the simulation.
func (b *Backend) RecordSpawnEvent(e *core.SpawnEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spawns = append(b.spawns, *e)
	return nil
}

// RecordDespawnEvent records a vehicle leaving the simulation.
func (b *Backend) RecordDespawnEvent(e *core.DespawnEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.despawns = append(b.despawns, *e)
	return nil
}

// RecordTickSample records a per-zone tick sample.
func (b *Backend) RecordTickSample(s *core.TickSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, *s)
	return nil
}

// VehicleCount reports how many vehicles the journal has registered.
func (b *Backend) VehicleCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vehicles)
}

// GetVehicle looks up a registered vehicle record.
func (b *Backend) GetVehicle(id string) (*VehicleRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	record, ok := b.vehicles[id]
	return record, ok
}

// GetExportedFilePath returns the path of the last replay export.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata describes the last export for the upload client.
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	meta := core.UploadMetadata{}
	if b.run != nil {
		meta.CityName = b.run.CityName
		meta.RunID = b.run.RunID
		if !b.run.EndTime.IsZero() {
			meta.RunDuration = b.run.EndTime.Sub(b.run.StartTime).Seconds()
		}
	}
	return meta
}
