// Package model defines the database rows of the run journal. All
// time-series tables carry the owning run's primary key so several runs
// can share one database.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// DatabaseModels lists every table in the journal schema, in migration
// order.
var DatabaseModels = []interface{}{
	&Run{},
	&Vehicle{},
	&VehicleState{},
	&LightChange{},
	&MigrationEvent{},
	&SpawnEvent{},
	&DespawnEvent{},
	&TickSample{},
}

// Run is one simulation run.
type Run struct {
	ID        uint   `json:"id" gorm:"primarykey"`
	RunID     string `json:"runId" gorm:"size:64;uniqueIndex"`
	CityName  string `json:"cityName" gorm:"size:127"`
	Seed      int64  `json:"seed"`
	TickRate  int    `json:"tickRate"`
	StartTime time.Time
	EndTime   *time.Time
	// Layout is the resolved city layout document, kept verbatim so a
	// replay can be rebuilt without the original file.
	Layout datatypes.JSON `json:"layout"`
}

func (*Run) TableName() string {
	return "runs"
}

// Vehicle is one vehicle's registration row, written at spawn or first
// migration into a recorded zone.
type Vehicle struct {
	ID        uint   `json:"id" gorm:"primarykey"`
	RunID     uint   `json:"runId" gorm:"index:idx_vehicles_run_id"`
	VehicleID string `json:"vehicleId" gorm:"size:64;index:idx_vehicles_vehicle_id"`
	ZoneID    string `json:"zoneId" gorm:"size:64"`
	SpawnTick uint64 `json:"spawnTick"`
	BaseSpeed float64 `json:"baseSpeed"`
	Direction string  `json:"direction" gorm:"size:8"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Color     string  `json:"color" gorm:"size:16"`
}

func (*Vehicle) TableName() string {
	return "vehicles"
}

// VehicleState is one committed per-tick vehicle state change.
type VehicleState struct {
	ID         uint    `json:"id" gorm:"primarykey"`
	RunID      uint    `json:"runId" gorm:"index:idx_vehicle_states_run_id"`
	VehicleID  string  `json:"vehicleId" gorm:"size:64;index:idx_vehicle_states_vehicle_id"`
	ZoneID     string  `json:"zoneId" gorm:"size:64"`
	Tick       uint64  `json:"tick" gorm:"index:idx_vehicle_states_tick"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Speed      float64 `json:"speed"`
	Stopped    bool    `json:"stopped"`
	StopReason string  `json:"stopReason" gorm:"size:32"`
}

func (*VehicleState) TableName() string {
	return "vehicle_states"
}

// LightChange is one traffic light transition.
type LightChange struct {
	ID      uint   `json:"id" gorm:"primarykey"`
	RunID   uint   `json:"runId" gorm:"index:idx_light_changes_run_id"`
	LightID string `json:"lightId" gorm:"size:64"`
	ZoneID  string `json:"zoneId" gorm:"size:64"`
	Tick    uint64 `json:"tick"`
	State   string `json:"state" gorm:"size:8"`
}

func (*LightChange) TableName() string {
	return "light_changes"
}

// MigrationEvent is one vehicle ownership transfer, recorded by the
// receiving zone. Snapshot carries the full vehicle state on the wire.
type MigrationEvent struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	RunID     uint           `json:"runId" gorm:"index:idx_migration_events_run_id"`
	MessageID string         `json:"messageId" gorm:"size:64"`
	VehicleID string         `json:"vehicleId" gorm:"size:64;index:idx_migration_events_vehicle_id"`
	FromZone  string         `json:"fromZone" gorm:"size:64"`
	ToZone    string         `json:"toZone" gorm:"size:64"`
	Tick      uint64         `json:"tick"`
	Snapshot  datatypes.JSON `json:"snapshot"`
}

func (*MigrationEvent) TableName() string {
	return "migration_events"
}

// SpawnEvent is one vehicle entering the simulation.
type SpawnEvent struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	RunID     uint           `json:"runId" gorm:"index:idx_spawn_events_run_id"`
	VehicleID string         `json:"vehicleId" gorm:"size:64"`
	ZoneID    string         `json:"zoneId" gorm:"size:64"`
	Tick      uint64         `json:"tick"`
	Manual    bool           `json:"manual"`
	Snapshot  datatypes.JSON `json:"snapshot"`
}

func (*SpawnEvent) TableName() string {
	return "spawn_events"
}

// DespawnEvent is one vehicle permanently leaving the simulation.
type DespawnEvent struct {
	ID        uint   `json:"id" gorm:"primarykey"`
	RunID     uint   `json:"runId" gorm:"index:idx_despawn_events_run_id"`
	VehicleID string `json:"vehicleId" gorm:"size:64"`
	ZoneID    string `json:"zoneId" gorm:"size:64"`
	Tick      uint64 `json:"tick"`
	Reason    string `json:"reason" gorm:"size:32"`
}

func (*DespawnEvent) TableName() string {
	return "despawn_events"
}

// TickSample is one per-zone per-tick performance sample.
type TickSample struct {
	ID           uint    `json:"id" gorm:"primarykey"`
	RunID        uint    `json:"runId" gorm:"index:idx_tick_samples_run_id"`
	ZoneID       string  `json:"zoneId" gorm:"size:64"`
	Tick         uint64  `json:"tick"`
	VehicleCount int     `json:"vehicleCount"`
	AvgSpeed     float64 `json:"avgSpeed"`
	DurationUs   int64   `json:"durationUs"`
}

func (*TickSample) TableName() string {
	return "tick_samples"
}
