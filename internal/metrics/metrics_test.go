package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid/trafficsim/pkg/core"
)

func TestPopulationCounts(t *testing.T) {
	a := NewAggregator("run_1", 30, nil, nil)

	a.ObserveSpawn(core.SpawnEvent{ZoneID: "zone_a", Tick: 1})
	a.ObserveSpawn(core.SpawnEvent{ZoneID: "zone_a", Tick: 2})
	a.ObserveSpawn(core.SpawnEvent{ZoneID: "zone_b", Tick: 3})
	a.ObserveDespawn(core.DespawnEvent{VehicleID: "veh_1", Tick: 10, Reason: core.DespawnLeftCity})

	s := a.Snapshot()
	assert.Equal(t, int64(3), s.Spawned)
	assert.Equal(t, int64(1), s.Despawned)
	assert.Equal(t, int64(2), s.Current)
}

func TestAvgSpeed(t *testing.T) {
	a := NewAggregator("run_1", 30, nil, nil)

	a.ObserveState(core.VehicleState{VehicleID: "veh_1", Tick: 1, Speed: 2})
	a.ObserveState(core.VehicleState{VehicleID: "veh_1", Tick: 2, Speed: 4})

	assert.InDelta(t, 3.0, a.Snapshot().AvgSpeed, 1e-9)
}

func TestWaitTime_StopResume(t *testing.T) {
	a := NewAggregator("run_1", 30, nil, nil)

	a.ObserveState(core.VehicleState{VehicleID: "veh_1", Tick: 10, Stopped: true, StopReason: core.StopReasonTrafficLight})
	// Repeated stopped states do not restart the clock.
	a.ObserveState(core.VehicleState{VehicleID: "veh_1", Tick: 20, Stopped: true, StopReason: core.StopReasonTrafficLight})
	a.ObserveState(core.VehicleState{VehicleID: "veh_1", Tick: 70, Speed: 3})

	s := a.Snapshot()
	assert.InDelta(t, 60.0, s.AvgWaitTicks, 1e-9)
	assert.InDelta(t, 2.0, s.AvgWaitSeconds, 1e-9) // 60 ticks at 30 tps
}

func TestWaitTime_DespawnWhileWaitingDiscards(t *testing.T) {
	a := NewAggregator("run_1", 30, nil, nil)

	a.ObserveState(core.VehicleState{VehicleID: "veh_1", Tick: 10, Stopped: true})
	a.ObserveDespawn(core.DespawnEvent{VehicleID: "veh_1", Tick: 15, Reason: core.DespawnManual})

	assert.Zero(t, a.Snapshot().AvgWaitTicks)
}

func TestTotalTicksTracksMax(t *testing.T) {
	a := NewAggregator("run_1", 30, nil, nil)

	a.ObserveTick(core.TickSample{ZoneID: "zone_a", Tick: 100})
	a.ObserveTick(core.TickSample{ZoneID: "zone_b", Tick: 90})

	assert.Equal(t, uint64(100), a.Snapshot().TotalTicks)
}

func TestWriteSummary(t *testing.T) {
	a := NewAggregator("run_1", 30, nil, nil)
	a.ObserveSpawn(core.SpawnEvent{Tick: 1})
	a.ObserveLightChange(core.LightChange{LightID: "light_1", Tick: 2, State: core.LightYellow})
	a.ObserveMigration(core.MigrationEvent{VehicleID: "veh_1", Tick: 3})

	path := filepath.Join(t.TempDir(), "summaries", "run_1.json")
	require.NoError(t, a.WriteSummary(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var s Summary
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, "run_1", s.RunID)
	assert.Equal(t, int64(1), s.Spawned)
	assert.Equal(t, int64(1), s.LightChanges)
	assert.Equal(t, int64(1), s.Migrations)
}
