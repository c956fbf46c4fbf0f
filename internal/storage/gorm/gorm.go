// Package gormstorage is the shared GORM implementation of the journal:
// zone events are pushed onto internal queues and a background writer
// drains them into the database in batches, so recording never blocks a
// zone tick on the database. The postgres and sqlite backends compose it.
package gormstorage

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/citygrid/trafficsim/internal/model"
	"github.com/citygrid/trafficsim/internal/model/convert"
	"github.com/citygrid/trafficsim/internal/queue"
	"github.com/citygrid/trafficsim/pkg/core"
)

// writeInterval is how often the background writer drains the queues.
const writeInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM journal backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Vehicles        *queue.Queue[model.Vehicle]
	VehicleStates   *queue.Queue[model.VehicleState]
	LightChanges    *queue.Queue[model.LightChange]
	MigrationEvents *queue.Queue[model.MigrationEvent]
	SpawnEvents     *queue.Queue[model.SpawnEvent]
	DespawnEvents   *queue.Queue[model.DespawnEvent]
	TickSamples     *queue.Queue[model.TickSample]
}

func newQueues() *queues {
	return &queues{
		Vehicles:        queue.New[model.Vehicle](),
		VehicleStates:   queue.New[model.VehicleState](),
		LightChanges:    queue.New[model.LightChange](),
		MigrationEvents: queue.New[model.MigrationEvent](),
		SpawnEvents:     queue.New[model.SpawnEvent](),
		DespawnEvents:   queue.New[model.DespawnEvent](),
		TickSamples:     queue.New[model.TickSample](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch
// writes. Rows are stamped with the run's primary key at write time, so
// events recorded before StartRun completes are not lost.
type Backend struct {
	deps     Dependencies
	queues   *queues
	runID    atomic.Uint64
	stopChan chan struct{}
	dbReady  bool

	lastWriteNanos atomic.Int64
}

// New creates a new GORM journal backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// Init creates the internal queues and starts the writer goroutine.
// Without a DB the backend runs in queue-only mode; composing backends
// inject the connection before Init.
func (b *Backend) Init() error {
	b.queues = newQueues()
	b.stopChan = make(chan struct{})

	if b.deps.DB != nil {
		if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
			return fmt.Errorf("failed to migrate journal schema: %w", err)
		}
		b.dbReady = true
	}

	go b.writeLoop()
	return nil
}

// Close drains the queues one final time and stops the writer.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
	}
	b.writeAll()
	return nil
}

// StartRun inserts the run registration row and remembers its primary key
// for the writer goroutine.
func (b *Backend) StartRun(run *core.Run, city *core.City) error {
	if b.deps.DB == nil {
		return nil
	}

	row := convert.ToRunRow(run, city, 0)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	b.runID.Store(uint64(row.ID))
	return nil
}

// SetTickRate stamps the tick rate onto the run row. Called by the
// orchestrator once the simulation config is resolved.
func (b *Backend) SetTickRate(tickRate int) {
	if b.deps.DB == nil || b.runID.Load() == 0 {
		return
	}
	err := b.deps.DB.Model(&model.Run{}).Where("id = ?", b.runID.Load()).Update("tick_rate", tickRate).Error
	if err != nil {
		b.deps.Logger.Error("Failed to stamp tick rate on run", "error", err)
	}
}

// EndRun flushes the queues and stamps the run's end time.
func (b *Backend) EndRun() error {
	b.writeAll()

	if b.deps.DB == nil || b.runID.Load() == 0 {
		return nil
	}
	now := time.Now()
	if err := b.deps.DB.Model(&model.Run{}).
		Where("id = ?", b.runID.Load()).
		Update("end_time", &now).Error; err != nil {
		return fmt.Errorf("failed to stamp run end time: %w", err)
	}
	return nil
}

// AddVehicle converts a vehicle registration and pushes it to the write
// queue.
func (b *Backend) AddVehicle(zoneID string, tick uint64, v *core.VehicleSnapshot) error {
	b.queues.Vehicles.Push(convert.ToVehicleRow(0, zoneID, tick, v))
	return nil
}

// RecordVehicleState converts and queues a vehicle state.
func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	b.queues.VehicleStates.Push(convert.ToVehicleStateRow(0, s))
	return nil
}

// RecordLightState converts and queues a light transition.
func (b *Backend) RecordLightState(c *core.LightChange) error {
	b.queues.LightChanges.Push(convert.ToLightChangeRow(0, c))
	return nil
}

// RecordMigrationEvent converts and queues a migration.
func (b *Backend) RecordMigrationEvent(e *core.MigrationEvent) error {
	b.queues.MigrationEvents.Push(convert.ToMigrationEventRow(0, e))
	return nil
}

// RecordSpawnEvent converts and queues a spawn.
func (b *Backend) RecordSpawnEvent(e *core.SpawnEvent) error {
	b.queues.SpawnEvents.Push(convert.ToSpawnEventRow(0, e))
	return nil
}

// RecordDespawnEvent converts and queues a despawn.
func (b *Backend) RecordDespawnEvent(e *core.DespawnEvent) error {
	b.queues.DespawnEvents.Push(convert.ToDespawnEventRow(0, e))
	return nil
}

// RecordTickSample converts and queues a tick sample.
func (b *Backend) RecordTickSample(s *core.TickSample) error {
	b.queues.TickSamples.Push(convert.ToTickSampleRow(0, s))
	return nil
}

// QueueDepth reports the total number of rows waiting for the writer.
func (b *Backend) QueueDepth() int {
	if b.queues == nil {
		return 0
	}
	return b.queues.Vehicles.Len() +
		b.queues.VehicleStates.Len() +
		b.queues.LightChanges.Len() +
		b.queues.MigrationEvents.Len() +
		b.queues.SpawnEvents.Len() +
		b.queues.DespawnEvents.Len() +
		b.queues.TickSamples.Len()
}

// GetLastDBWriteDuration reports how long the last queue drain took.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWriteNanos.Load())
}

// writeQueue writes all items from a queue to the database in a
// transaction. Failed batches are pushed back for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, logger *slog.Logger, prepare func([]T)) {
	if q.Empty() {
		return
	}

	tx := db.Begin()
	items := q.GetAndEmpty()
	if prepare != nil {
		prepare(items)
	}
	if err := tx.Create(&items).Error; err != nil {
		logger.Error("Error writing journal rows", "table", name, "error", err)
		tx.Rollback()
		q.Push(items...)
		return
	}

	tx.Commit()
}

// writeLoop periodically drains queues into the DB.
func (b *Backend) writeLoop() {
	for {
		select {
		case <-b.stopChan:
			return
		default:
		}

		if !b.dbReady {
			time.Sleep(time.Second)
			continue
		}

		b.writeAll()
		time.Sleep(writeInterval)
	}
}

// writeAll drains every queue once, stamping the run primary key.
func (b *Backend) writeAll() {
	if !b.dbReady {
		return
	}

	start := time.Now()
	runID := uint(b.runID.Load())
	logger := b.deps.Logger

	writeQueue(b.deps.DB, b.queues.Vehicles, "vehicles", logger, func(items []model.Vehicle) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	writeQueue(b.deps.DB, b.queues.VehicleStates, "vehicle_states", logger, func(items []model.VehicleState) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	writeQueue(b.deps.DB, b.queues.LightChanges, "light_changes", logger, func(items []model.LightChange) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	writeQueue(b.deps.DB, b.queues.MigrationEvents, "migration_events", logger, func(items []model.MigrationEvent) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	writeQueue(b.deps.DB, b.queues.SpawnEvents, "spawn_events", logger, func(items []model.SpawnEvent) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	writeQueue(b.deps.DB, b.queues.DespawnEvents, "despawn_events", logger, func(items []model.DespawnEvent) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	writeQueue(b.deps.DB, b.queues.TickSamples, "tick_samples", logger, func(items []model.TickSample) {
		for i := range items {
			items[i].RunID = runID
		}
	})

	b.lastWriteNanos.Store(int64(time.Since(start)))
}
