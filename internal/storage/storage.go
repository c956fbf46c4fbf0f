// Package storage defines the run journal interface: every backend
// records the lifecycle of one simulation run and the per-tick event
// stream produced by the zone actors.
package storage

import "github.com/citygrid/trafficsim/pkg/core"

// Backend is the interface all journal implementations must satisfy.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run *core.Run, city *core.City) error
	EndRun() error

	// Vehicle registration, written at spawn or first migration into a
	// recorded zone.
	AddVehicle(zoneID string, tick uint64, v *core.VehicleSnapshot) error

	// Event stream
	RecordVehicleState(s *core.VehicleState) error
	RecordLightState(c *core.LightChange) error
	RecordMigrationEvent(e *core.MigrationEvent) error
	RecordSpawnEvent(e *core.SpawnEvent) error
	RecordDespawnEvent(e *core.DespawnEvent) error
	RecordTickSample(s *core.TickSample) error
}

// Uploadable is an optional interface for backends that produce a replay
// file suitable for upload to the viewer frontend.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}
