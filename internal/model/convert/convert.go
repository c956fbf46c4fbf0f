// Package convert maps simulation types onto journal rows.
package convert

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/citygrid/trafficsim/internal/model"
	"github.com/citygrid/trafficsim/pkg/core"
)

// ToRunRow builds the run registration row. The layout document is
// embedded as JSON; marshal failures leave it empty rather than losing
// the row.
func ToRunRow(run *core.Run, city *core.City, tickRate int) model.Run {
	row := model.Run{
		RunID:     run.RunID,
		CityName:  run.CityName,
		Seed:      run.Seed,
		TickRate:  tickRate,
		StartTime: run.StartTime,
	}
	if city != nil {
		if raw, err := json.Marshal(city); err == nil {
			row.Layout = datatypes.JSON(raw)
		}
	}
	return row
}

// ToVehicleRow builds a vehicle registration row.
func ToVehicleRow(runID uint, zoneID string, tick uint64, v *core.VehicleSnapshot) model.Vehicle {
	return model.Vehicle{
		RunID:     runID,
		VehicleID: v.ID,
		ZoneID:    zoneID,
		SpawnTick: tick,
		BaseSpeed: v.OriginalSpeed,
		Direction: string(v.Direction),
		Width:     v.Width,
		Height:    v.Height,
		Color:     v.Color,
	}
}

// ToVehicleStateRow builds a per-tick vehicle state row.
func ToVehicleStateRow(runID uint, s *core.VehicleState) model.VehicleState {
	return model.VehicleState{
		RunID:      runID,
		VehicleID:  s.VehicleID,
		ZoneID:     s.ZoneID,
		Tick:       s.Tick,
		X:          s.Position.X,
		Y:          s.Position.Y,
		Speed:      s.Speed,
		Stopped:    s.Stopped,
		StopReason: s.StopReason,
	}
}

// ToLightChangeRow builds a light transition row.
func ToLightChangeRow(runID uint, c *core.LightChange) model.LightChange {
	return model.LightChange{
		RunID:   runID,
		LightID: c.LightID,
		ZoneID:  c.ZoneID,
		Tick:    c.Tick,
		State:   string(c.State),
	}
}

// ToMigrationEventRow builds a migration row with the wire snapshot
// embedded as JSON.
func ToMigrationEventRow(runID uint, e *core.MigrationEvent) model.MigrationEvent {
	row := model.MigrationEvent{
		RunID:     runID,
		MessageID: e.MessageID,
		VehicleID: e.VehicleID,
		FromZone:  e.FromZone,
		ToZone:    e.ToZone,
		Tick:      e.Tick,
	}
	if raw, err := json.Marshal(e.Snapshot); err == nil {
		row.Snapshot = datatypes.JSON(raw)
	}
	return row
}

// ToSpawnEventRow builds a spawn row.
func ToSpawnEventRow(runID uint, e *core.SpawnEvent) model.SpawnEvent {
	row := model.SpawnEvent{
		RunID:     runID,
		VehicleID: e.Snapshot.ID,
		ZoneID:    e.ZoneID,
		Tick:      e.Tick,
		Manual:    e.Manual,
	}
	if raw, err := json.Marshal(e.Snapshot); err == nil {
		row.Snapshot = datatypes.JSON(raw)
	}
	return row
}

// ToDespawnEventRow builds a despawn row.
func ToDespawnEventRow(runID uint, e *core.DespawnEvent) model.DespawnEvent {
	return model.DespawnEvent{
		RunID:     runID,
		VehicleID: e.VehicleID,
		ZoneID:    e.ZoneID,
		Tick:      e.Tick,
		Reason:    e.Reason,
	}
}

// ToTickSampleRow builds a tick sample row. Durations are stored in
// microseconds.
func ToTickSampleRow(runID uint, s *core.TickSample) model.TickSample {
	return model.TickSample{
		RunID:        runID,
		ZoneID:       s.ZoneID,
		Tick:         s.Tick,
		VehicleCount: s.VehicleCount,
		AvgSpeed:     s.AvgSpeed,
		DurationUs:   s.Duration.Microseconds(),
	}
}
