package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid/trafficsim/internal/config"
	"github.com/citygrid/trafficsim/pkg/core"
)

// Compile-time interface checks live in the storage package tests; here
// we exercise the record keeping.

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	return New(config.MemoryConfig{
		OutputDir:      t.TempDir(),
		CompressOutput: false,
	})
}

func startRun(t *testing.T, b *Backend) *core.Run {
	t.Helper()
	run := &core.Run{
		RunID:     "run_1",
		CityName:  "testville",
		Seed:      7,
		StartTime: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	city := &core.City{Name: "testville", MapWidth: 400, MapHeight: 300}
	require.NoError(t, b.StartRun(run, city))
	return run
}

func TestAddVehicle_Registers(t *testing.T) {
	b := newTestBackend(t)
	startRun(t, b)

	v := &core.VehicleSnapshot{ID: "veh_zone_a_1a2b", Direction: core.DirRight}
	require.NoError(t, b.AddVehicle("zone_a", 5, v))

	record, ok := b.GetVehicle("veh_zone_a_1a2b")
	require.True(t, ok)
	assert.Equal(t, "zone_a", record.ZoneID)
	assert.Equal(t, uint64(5), record.SpawnTick)
	assert.Equal(t, 1, b.VehicleCount())
}

func TestAddVehicle_KeepsOriginalOnReRegistration(t *testing.T) {
	b := newTestBackend(t)
	startRun(t, b)

	v := &core.VehicleSnapshot{ID: "veh_zone_a_1a2b"}
	require.NoError(t, b.AddVehicle("zone_a", 5, v))
	// Migration into zone_b re-registers the same vehicle.
	require.NoError(t, b.AddVehicle("zone_b", 40, v))

	record, ok := b.GetVehicle("veh_zone_a_1a2b")
	require.True(t, ok)
	assert.Equal(t, "zone_a", record.ZoneID)
	assert.Equal(t, uint64(5), record.SpawnTick)
	assert.Equal(t, 1, b.VehicleCount())
}

func TestRecordVehicleState_AppendsToRecord(t *testing.T) {
	b := newTestBackend(t)
	startRun(t, b)

	v := &core.VehicleSnapshot{ID: "veh_zone_a_1a2b"}
	require.NoError(t, b.AddVehicle("zone_a", 5, v))

	require.NoError(t, b.RecordVehicleState(&core.VehicleState{
		VehicleID: "veh_zone_a_1a2b",
		ZoneID:    "zone_a",
		Tick:      6,
		Position:  core.Position{X: 52, Y: 165},
		Speed:     2.5,
	}))

	record, _ := b.GetVehicle("veh_zone_a_1a2b")
	require.Len(t, record.States, 1)
	assert.Equal(t, uint64(6), record.States[0].Tick)
}

func TestRecordVehicleState_UnknownVehicleIgnored(t *testing.T) {
	b := newTestBackend(t)
	startRun(t, b)

	require.NoError(t, b.RecordVehicleState(&core.VehicleState{VehicleID: "veh_ghost"}))
	assert.Equal(t, 0, b.VehicleCount())
}

func TestStartRun_ResetsCollections(t *testing.T) {
	b := newTestBackend(t)
	startRun(t, b)

	b.AddVehicle("zone_a", 1, &core.VehicleSnapshot{ID: "veh_1"})
	b.RecordLightState(&core.LightChange{LightID: "light_1"})
	b.RecordTickSample(&core.TickSample{ZoneID: "zone_a"})

	startRun(t, b)

	assert.Equal(t, 0, b.VehicleCount())
	assert.Empty(t, b.lightChanges)
	assert.Empty(t, b.samples)
}

func TestEndRun_WritesExport(t *testing.T) {
	b := newTestBackend(t)
	startRun(t, b)

	require.NoError(t, b.EndRun())

	path := b.GetExportedFilePath()
	require.NotEmpty(t, path)
	assert.FileExists(t, path)
	assert.Contains(t, path, "testville_20260314_093000.json")
}

func TestGetExportMetadata(t *testing.T) {
	b := newTestBackend(t)
	run := startRun(t, b)

	require.NoError(t, b.EndRun())

	meta := b.GetExportMetadata()
	assert.Equal(t, "testville", meta.CityName)
	assert.Equal(t, "run_1", meta.RunID)
	assert.Greater(t, meta.RunDuration, 0.0)
	assert.False(t, run.EndTime.IsZero())
}
