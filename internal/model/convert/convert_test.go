package convert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid/trafficsim/pkg/core"
)

func TestToRunRow(t *testing.T) {
	run := &core.Run{
		RunID:     "run_1",
		CityName:  "testville",
		Seed:      42,
		StartTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	city := &core.City{Name: "testville", MapWidth: 400, MapHeight: 300}

	row := ToRunRow(run, city, 30)
	assert.Equal(t, "run_1", row.RunID)
	assert.Equal(t, int64(42), row.Seed)
	assert.Equal(t, 30, row.TickRate)
	require.NotEmpty(t, row.Layout)

	var got core.City
	require.NoError(t, json.Unmarshal(row.Layout, &got))
	assert.Equal(t, "testville", got.Name)

	// Nil city still produces a valid row.
	row = ToRunRow(run, nil, 30)
	assert.Empty(t, row.Layout)
}

func TestToVehicleStateRow(t *testing.T) {
	row := ToVehicleStateRow(3, &core.VehicleState{
		VehicleID:  "veh_a_1",
		ZoneID:     "zone_a",
		Tick:       9,
		Position:   core.Position{X: 1.5, Y: 2.5},
		Speed:      3,
		Stopped:    true,
		StopReason: core.StopReasonTrafficLight,
	})
	assert.Equal(t, uint(3), row.RunID)
	assert.Equal(t, 1.5, row.X)
	assert.Equal(t, 2.5, row.Y)
	assert.True(t, row.Stopped)
	assert.Equal(t, "traffic_light", row.StopReason)
}

func TestToMigrationEventRow_EmbedsSnapshot(t *testing.T) {
	snap := core.VehicleSnapshot{
		ID:        "veh_m",
		Position:  core.Position{X: 201, Y: 165},
		Direction: core.DirRight,
	}
	row := ToMigrationEventRow(1, &core.MigrationEvent{
		MessageID: "msg_1",
		VehicleID: "veh_m",
		FromZone:  "zone_a",
		ToZone:    "zone_b",
		Tick:      12,
		Snapshot:  snap,
	})

	var got core.VehicleSnapshot
	require.NoError(t, json.Unmarshal(row.Snapshot, &got))
	assert.Equal(t, snap, got)
	assert.Equal(t, "zone_b", row.ToZone)
}

func TestToTickSampleRow_DurationMicros(t *testing.T) {
	row := ToTickSampleRow(1, &core.TickSample{
		ZoneID:       "zone_a",
		Tick:         5,
		VehicleCount: 7,
		AvgSpeed:     2.25,
		Duration:     1500 * time.Microsecond,
	})
	assert.Equal(t, int64(1500), row.DurationUs)
	assert.Equal(t, 2.25, row.AvgSpeed)
}
