package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid/trafficsim/internal/cache"
	"github.com/citygrid/trafficsim/internal/dispatcher"
	"github.com/citygrid/trafficsim/internal/logging"
	"github.com/citygrid/trafficsim/internal/metrics"
	"github.com/citygrid/trafficsim/internal/sim/zone"
	"github.com/citygrid/trafficsim/pkg/core"
)

// Manager must satisfy the actor notification interface.
var _ zone.Observer = (*Manager)(nil)

// recordingBackend captures journal calls for assertions.
type recordingBackend struct {
	mu         sync.Mutex
	vehicles   []string
	states     []core.VehicleState
	lights     []core.LightChange
	migrations []core.MigrationEvent
	spawns     []core.SpawnEvent
	despawns   []core.DespawnEvent
	samples    []core.TickSample
}

func (b *recordingBackend) Init() error                                   { return nil }
func (b *recordingBackend) Close() error                                  { return nil }
func (b *recordingBackend) StartRun(run *core.Run, city *core.City) error { return nil }
func (b *recordingBackend) EndRun() error                                 { return nil }

func (b *recordingBackend) AddVehicle(zoneID string, tick uint64, v *core.VehicleSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vehicles = append(b.vehicles, v.ID)
	return nil
}

func (b *recordingBackend) RecordVehicleState(s *core.VehicleState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, *s)
	return nil
}

func (b *recordingBackend) RecordLightState(c *core.LightChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lights = append(b.lights, *c)
	return nil
}

func (b *recordingBackend) RecordMigrationEvent(e *core.MigrationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.migrations = append(b.migrations, *e)
	return nil
}

func (b *recordingBackend) RecordSpawnEvent(e *core.SpawnEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spawns = append(b.spawns, *e)
	return nil
}

func (b *recordingBackend) RecordDespawnEvent(e *core.DespawnEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.despawns = append(b.despawns, *e)
	return nil
}

func (b *recordingBackend) RecordTickSample(s *core.TickSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, *s)
	return nil
}

func (b *recordingBackend) stateCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.states)
}

type fixture struct {
	manager *Manager
	backend *recordingBackend
	index   *cache.CityIndex
	agg     *metrics.Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	d, err := dispatcher.New(logging.NewDispatcherLogger(zerolog.Nop()))
	require.NoError(t, err)

	f := &fixture{
		backend: &recordingBackend{},
		index:   cache.NewCityIndex(),
		agg:     metrics.NewAggregator("run_1", 30, nil, nil),
	}
	f.manager = NewManager(Dependencies{Index: f.index, Metrics: f.agg}, f.backend)
	f.manager.RegisterHandlers(d)
	return f
}

func TestVehicleSpawned_RegistersAndRecords(t *testing.T) {
	f := newFixture(t)

	f.manager.VehicleSpawned(core.SpawnEvent{
		ZoneID:   "zone_a",
		Tick:     5,
		Snapshot: core.VehicleSnapshot{ID: "veh_1"},
	})

	// Spawn handling is synchronous.
	zoneID, ok := f.index.Owner("veh_1")
	require.True(t, ok)
	assert.Equal(t, "zone_a", zoneID)

	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	assert.Equal(t, []string{"veh_1"}, f.backend.vehicles)
	require.Len(t, f.backend.spawns, 1)
	assert.Equal(t, int64(1), f.agg.Snapshot().Spawned)
}

func TestVehicleStateChanged_FillsZoneFromIndex(t *testing.T) {
	f := newFixture(t)

	f.manager.VehicleSpawned(core.SpawnEvent{
		ZoneID:   "zone_a",
		Tick:     1,
		Snapshot: core.VehicleSnapshot{ID: "veh_1"},
	})
	f.manager.VehicleStateChanged(core.VehicleState{VehicleID: "veh_1", Tick: 2, Speed: 3})

	require.Eventually(t, func() bool { return f.backend.stateCount() == 1 },
		time.Second, 5*time.Millisecond)

	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	assert.Equal(t, "zone_a", f.backend.states[0].ZoneID)
}

func TestHandleVehicleState_UnknownVehicleTooEarly(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.handleVehicleState(dispatcher.Event{
		Command: CmdVehicleState,
		Payload: core.VehicleState{VehicleID: "veh_ghost", Tick: 1},
	})
	assert.ErrorIs(t, err, ErrTooEarlyForStateAssociation)
	assert.Zero(t, f.backend.stateCount())
}

func TestVehicleMigrated_MovesOwnership(t *testing.T) {
	f := newFixture(t)

	f.manager.VehicleSpawned(core.SpawnEvent{
		ZoneID:   "zone_a",
		Tick:     1,
		Snapshot: core.VehicleSnapshot{ID: "veh_1"},
	})
	f.manager.VehicleMigrated(core.MigrationEvent{
		VehicleID: "veh_1",
		FromZone:  "zone_a",
		ToZone:    "zone_b",
		Tick:      10,
		Snapshot:  core.VehicleSnapshot{ID: "veh_1"},
	})

	zoneID, ok := f.index.Owner("veh_1")
	require.True(t, ok)
	assert.Equal(t, "zone_b", zoneID)
	assert.Equal(t, 0, f.index.Count("zone_a"))
	assert.Equal(t, 1, f.index.Count("zone_b"))

	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	require.Len(t, f.backend.migrations, 1)
	assert.Equal(t, "zone_b", f.backend.migrations[0].ToZone)
}

func TestVehicleDespawned_RemovesFromIndex(t *testing.T) {
	f := newFixture(t)

	f.manager.VehicleSpawned(core.SpawnEvent{
		ZoneID:   "zone_a",
		Tick:     1,
		Snapshot: core.VehicleSnapshot{ID: "veh_1"},
	})
	f.manager.VehicleDespawned(core.DespawnEvent{
		VehicleID: "veh_1",
		ZoneID:    "zone_a",
		Tick:      20,
		Reason:    core.DespawnLeftCity,
	})

	require.Eventually(t, func() bool {
		_, ok := f.index.Owner("veh_1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		f.backend.mu.Lock()
		defer f.backend.mu.Unlock()
		return len(f.backend.despawns) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTickCompleted_UpdatesIndexTicks(t *testing.T) {
	f := newFixture(t)

	f.manager.TickCompleted(core.TickSample{ZoneID: "zone_a", Tick: 42, VehicleCount: 3})

	require.Eventually(t, func() bool {
		return f.index.Ticks()["zone_a"] == 42
	}, time.Second, 5*time.Millisecond)
}

func TestLightChanged_Records(t *testing.T) {
	f := newFixture(t)

	f.manager.LightChanged(core.LightChange{LightID: "light_1", ZoneID: "zone_a", Tick: 7, State: core.LightYellow})

	require.Eventually(t, func() bool {
		f.backend.mu.Lock()
		defer f.backend.mu.Unlock()
		return len(f.backend.lights) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), f.agg.Snapshot().LightChanges)
}

func TestGetLastDBWriteDuration_UnsupportedBackend(t *testing.T) {
	m := NewManager(Dependencies{Index: cache.NewCityIndex()}, &recordingBackend{})
	assert.Equal(t, time.Duration(0), m.GetLastDBWriteDuration())
	assert.Equal(t, 0, m.GetQueueDepth())
}
