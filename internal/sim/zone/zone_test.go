package zone

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid/trafficsim/internal/bus"
	"github.com/citygrid/trafficsim/internal/config"
	"github.com/citygrid/trafficsim/internal/protocol"
	"github.com/citygrid/trafficsim/internal/sim/vehicle"
	"github.com/citygrid/trafficsim/pkg/core"
)

// recordingObserver captures actor notifications for assertions.
type recordingObserver struct {
	mu         sync.Mutex
	spawns     []core.SpawnEvent
	despawns   []core.DespawnEvent
	states     []core.VehicleState
	migrations []core.MigrationEvent
	lights     []core.LightChange
	samples    []core.TickSample
}

func (o *recordingObserver) VehicleSpawned(ev core.SpawnEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spawns = append(o.spawns, ev)
}

func (o *recordingObserver) VehicleDespawned(ev core.DespawnEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.despawns = append(o.despawns, ev)
}

func (o *recordingObserver) VehicleStateChanged(st core.VehicleState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, st)
}

func (o *recordingObserver) VehicleMigrated(ev core.MigrationEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.migrations = append(o.migrations, ev)
}

func (o *recordingObserver) LightChanged(ch core.LightChange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lights = append(o.lights, ch)
}

func (o *recordingObserver) TickCompleted(s core.TickSample) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples = append(o.samples, s)
}

var (
	defA = core.ZoneDef{
		ID:       "zone_a",
		Bounds:   core.Rect{X: 0, Y: 0, Width: 200, Height: 300},
		Adjacent: []string{"zone_b"},
	}
	defB = core.ZoneDef{
		ID:       "zone_b",
		Bounds:   core.Rect{X: 200, Y: 0, Width: 200, Height: 300},
		Adjacent: []string{"zone_a"},
	}
)

type fixture struct {
	bus  *bus.Inproc
	a, b *Actor
	obsA *recordingObserver
	obsB *recordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	b := bus.NewInproc()
	require.NoError(t, b.Connect(ctx))

	f := &fixture{bus: b, obsA: &recordingObserver{}, obsB: &recordingObserver{}}

	var err error
	f.a, err = New(Config{
		Def:       defA,
		Neighbors: []core.ZoneDef{defB},
		Tuning:    config.DefaultTuning(),
		Seed:      7,
		Bus:       b,
		Observer:  f.obsA,
	})
	require.NoError(t, err)
	require.NoError(t, f.a.Connect(ctx))

	f.b, err = New(Config{
		Def:       defB,
		Neighbors: []core.ZoneDef{defA},
		Tuning:    config.DefaultTuning(),
		Seed:      7,
		Bus:       b,
		Observer:  f.obsB,
	})
	require.NoError(t, err)
	require.NoError(t, f.b.Connect(ctx))

	return f
}

func TestTick_MigratesVehicleToAdjacentZone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Right-moving at speed 5 from x=196: one tick crosses the shared
	// boundary at x=200.
	v := vehicle.New("veh_zone_a_0001", "zone_a", core.Position{X: 196, Y: 165}, core.DirRight, 5, "#fff")
	f.a.insert(v)

	f.a.runTick(ctx)
	require.Zero(t, f.a.VehicleCount(), "vehicle must leave zone_a")

	f.b.runTick(ctx)
	require.Equal(t, 1, f.b.VehicleCount(), "vehicle must arrive in zone_b")

	got := f.b.byID["veh_zone_a_0001"]
	require.NotNil(t, got, "vehicle id must survive the migration")
	assert.GreaterOrEqual(t, got.Position.X, 200.0)
	assert.Equal(t, "zone_b", got.ZoneID)
	assert.Equal(t, 5.0, got.BaseSpeed)

	require.Len(t, f.obsB.migrations, 1)
	m := f.obsB.migrations[0]
	assert.Equal(t, "zone_a", m.FromZone)
	assert.Equal(t, "zone_b", m.ToZone)
	assert.Equal(t, "veh_zone_a_0001", m.VehicleID)
	assert.NotEmpty(t, m.MessageID)
}

func TestTick_MigrationIdempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := protocol.NewMigration("zone_a", "zone_b", 1, core.VehicleSnapshot{
		ID:            "veh_dup",
		Position:      core.Position{X: 201, Y: 165},
		Speed:         3,
		OriginalSpeed: 3,
		Direction:     core.DirRight,
		Width:         30,
		Height:        20,
	})
	body, err := protocol.EncodeMigration(m)
	require.NoError(t, err)

	require.NoError(t, f.bus.Publish(ctx, "zone_b", body))
	require.NoError(t, f.bus.Publish(ctx, "zone_b", body))

	f.b.runTick(ctx)
	assert.Equal(t, 1, f.b.VehicleCount(), "duplicate delivery must not duplicate the vehicle")
	assert.Len(t, f.obsB.migrations, 1)
}

func TestTick_MigrationDroppedAtCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < f.b.capacity; i++ {
		f.b.insert(vehicle.New(
			"veh_fill_"+string(rune('a'+i)), "zone_b",
			core.Position{X: 210 + float64(i), Y: 165}, core.DirRight, 0, "#fff"))
	}

	m := protocol.NewMigration("zone_a", "zone_b", 1, core.VehicleSnapshot{
		ID:        "veh_late",
		Position:  core.Position{X: 201, Y: 165},
		Direction: core.DirRight,
	})
	body, err := protocol.EncodeMigration(m)
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(ctx, "zone_b", body))

	before := f.b.VehicleCount()
	f.b.runTick(ctx)

	assert.Nil(t, f.b.byID["veh_late"])
	require.NotEmpty(t, f.obsB.despawns)
	last := f.obsB.despawns[len(f.obsB.despawns)-1]
	assert.Equal(t, "veh_late", last.VehicleID)
	assert.Equal(t, core.DespawnCapacity, last.Reason)
	assert.LessOrEqual(t, f.b.VehicleCount(), before)
}

func TestTick_MisroutedMigrationDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := protocol.NewMigration("zone_a", "zone_c", 1, core.VehicleSnapshot{
		ID:        "veh_lost",
		Position:  core.Position{X: 201, Y: 165},
		Direction: core.DirRight,
	})
	body, err := protocol.EncodeMigration(m)
	require.NoError(t, err)

	// Delivered to zone_b's queue but addressed to zone_c.
	require.NoError(t, f.bus.Publish(ctx, "zone_b", body))
	f.b.runTick(ctx)
	assert.Zero(t, f.b.VehicleCount())
}

func TestTick_DespawnsVehicleLeavingCity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Left-moving at the western map edge: no neighbor owns x<0.
	v := vehicle.New("veh_exit", "zone_a", core.Position{X: 2, Y: 135}, core.DirLeft, 5, "#fff")
	f.a.insert(v)

	f.a.runTick(ctx)

	assert.Zero(t, f.a.VehicleCount())
	require.Len(t, f.obsA.despawns, 1)
	assert.Equal(t, "veh_exit", f.obsA.despawns[0].VehicleID)
	assert.Equal(t, core.DespawnLeftCity, f.obsA.despawns[0].Reason)
	assert.True(t, v.DespawnedGlobal)
}

func TestManualSpawn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.a.TriggerManualSpawn()
	f.a.TriggerManualSpawn()
	assert.Equal(t, 2, f.a.PendingSpawnCount())

	f.a.runTick(ctx)

	assert.Zero(t, f.a.PendingSpawnCount(), "pending spawns apply at tick start")
	assert.NotZero(t, f.a.VehicleCount())
	require.NotEmpty(t, f.obsA.spawns)
	assert.True(t, f.obsA.spawns[0].Manual)
	assert.Contains(t, f.obsA.spawns[0].Snapshot.ID, "veh_zone_a_")
}

func TestManualSpawn_SkippedAtCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < f.a.capacity; i++ {
		f.a.insert(vehicle.New(
			"veh_fill_"+string(rune('a'+i)), "zone_a",
			core.Position{X: 10 + float64(i*5), Y: 20}, core.DirRight, 0, "#fff"))
	}

	f.a.TriggerManualSpawn()
	f.a.runTick(ctx)

	assert.Equal(t, f.a.capacity, f.a.VehicleCount())
	assert.Empty(t, f.obsA.spawns)
}

func TestAutoSpawn_FiresOnInterval(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.SpawnIntervalMin = 2
	tuning.SpawnIntervalMax = 2

	b := bus.NewInproc()
	require.NoError(t, b.Connect(context.Background()))
	obs := &recordingObserver{}
	a, err := New(Config{
		Def:      defA,
		Tuning:   tuning,
		Seed:     7,
		Bus:      b,
		Observer: obs,
	})
	require.NoError(t, err)

	ctx := context.Background()
	a.runTick(ctx)
	assert.Empty(t, obs.spawns, "countdown not yet elapsed")
	a.runTick(ctx)
	require.Len(t, obs.spawns, 1)
	assert.False(t, obs.spawns[0].Manual)

	sp := obs.spawns[0].Snapshot
	assert.GreaterOrEqual(t, sp.OriginalSpeed, tuning.SpeedMin)
	assert.LessOrEqual(t, sp.OriginalSpeed, tuning.SpeedMax)
}

func TestTick_EmitsSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.a.insert(vehicle.New("veh_s", "zone_a", core.Position{X: 20, Y: 165}, core.DirRight, 2, "#fff"))
	f.a.runTick(ctx)

	require.Len(t, f.obsA.samples, 1)
	s := f.obsA.samples[0]
	assert.Equal(t, uint64(1), s.Tick)
	assert.Equal(t, 1, s.VehicleCount)
	assert.Equal(t, 2.0, s.AvgSpeed)
}

func TestView(t *testing.T) {
	f := newFixture(t)

	f.a.insert(vehicle.New("veh_v", "zone_a", core.Position{X: 20, Y: 165}, core.DirRight, 2, "#abc"))
	f.a.TriggerManualSpawn()

	view := f.a.View()
	assert.Equal(t, "zone_a", view.ZoneID)
	assert.Equal(t, defA.Bounds, view.Bounds)
	assert.Len(t, view.Lights, 4)
	assert.Equal(t, 1, view.PendingSpawns)
	require.Len(t, view.Vehicles, 1)
	assert.Equal(t, "veh_v", view.Vehicles[0].ID)
	assert.Equal(t, "#abc", view.Vehicles[0].Color)
}

func TestRunStop_Lifecycle(t *testing.T) {
	f := newFixture(t)

	f.a.tickRate = 200
	assert.Equal(t, Stopped, f.a.State())

	done := make(chan error, 1)
	go func() { done <- f.a.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return f.a.State() == Running
	}, time.Second, 5*time.Millisecond)

	f.a.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not stop")
	}
	assert.Equal(t, Stopped, f.a.State())

	// Stop is safe to call again.
	f.a.Stop()
}

func TestRun_HonorsContextCancel(t *testing.T) {
	f := newFixture(t)
	f.a.tickRate = 200

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.a.State() == Running
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not stop on cancellation")
	}
}

func TestTick_StateChangesReachObserverByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The fixture leaves NotifyStates unset: journal recording must not
	// depend on the outward publication flag.
	v := vehicle.New("veh_obs", "zone_a", core.Position{X: 20, Y: 165}, core.DirRight, 2, "#fff")
	f.a.insert(v)

	for i := 0; i < 3; i++ {
		f.a.runTick(ctx)
	}

	require.NotEmpty(t, f.obsA.states, "committed updates must reach the observer")
	st := f.obsA.states[0]
	assert.Equal(t, "veh_obs", st.VehicleID)
	assert.Equal(t, "zone_a", st.ZoneID)
	assert.Equal(t, st.Stopped, st.Speed == 0)
}

func TestTick_LightStatusPublishIsStructured(t *testing.T) {
	ctx := context.Background()
	b := bus.NewInproc()
	require.NoError(t, b.Connect(ctx))

	sub, err := b.Subscribe(ctx, "viewer.light_status", "traffic.light.status.#")
	require.NoError(t, err)

	obs := &recordingObserver{}
	a, err := New(Config{
		Def:          defA,
		Tuning:       config.DefaultTuning(),
		Seed:         7,
		NotifyStates: true,
		Bus:          b,
		Observer:     obs,
	})
	require.NoError(t, err)

	for i := 0; i < 500 && len(obs.lights) == 0; i++ {
		a.runTick(ctx)
	}
	require.NotEmpty(t, obs.lights, "no light transition within 500 ticks")

	select {
	case d := <-sub.Receive():
		var status protocol.LightStatus
		require.NoError(t, json.Unmarshal(d.Body, &status))
		assert.Equal(t, protocol.TypeLightStatus, status.Type)
		assert.Equal(t, obs.lights[0].LightID, status.LightID)
		assert.Equal(t, "zone_a", status.ZoneID)
		assert.Equal(t, obs.lights[0].Tick, status.Tick)
		assert.Equal(t, obs.lights[0].State, status.State)
		assert.Equal(t, protocol.LightStatusKey(status.LightID), d.Key)
	default:
		t.Fatal("light status was not published")
	}
}

func TestRun_RejectsDoubleStart(t *testing.T) {
	f := newFixture(t)
	f.a.tickRate = 200

	go f.a.Run(context.Background())
	require.Eventually(t, func() bool {
		return f.a.State() == Running
	}, time.Second, 5*time.Millisecond)
	defer f.a.Stop()

	assert.Error(t, f.a.Run(context.Background()))
}
