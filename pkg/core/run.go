package core

import "time"

// Run identifies one simulation run.
type Run struct {
	RunID     string    `json:"run_id"`
	CityName  string    `json:"city_name"`
	Seed      int64     `json:"seed"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// StopReason classifies why a vehicle stopped.
const (
	StopReasonTrafficLight = "traffic_light"
	StopReasonAvoidance    = "collision_avoidance"
)

// DespawnReason classifies why a vehicle left the simulation.
const (
	DespawnLeftCity = "left_city"
	DespawnManual   = "manual"
	DespawnCapacity = "capacity_exceeded"
)

// VehicleState is one committed per-tick vehicle state change.
type VehicleState struct {
	VehicleID  string   `json:"vehicle_id"`
	ZoneID     string   `json:"zone_id"`
	Tick       uint64   `json:"tick"`
	Position   Position `json:"position"`
	Speed      float64  `json:"speed"`
	Stopped    bool     `json:"stopped"`
	StopReason string   `json:"stop_reason,omitempty"`
}

// LightChange is one traffic light state transition.
type LightChange struct {
	LightID string     `json:"light_id"`
	ZoneID  string     `json:"zone_id"`
	Tick    uint64     `json:"tick"`
	State   LightState `json:"state"`
}

// MigrationEvent records a vehicle ownership transfer between zones.
type MigrationEvent struct {
	MessageID string          `json:"message_id"`
	VehicleID string          `json:"vehicle_id"`
	FromZone  string          `json:"from_zone"`
	ToZone    string          `json:"to_zone"`
	Tick      uint64          `json:"tick"`
	Snapshot  VehicleSnapshot `json:"snapshot"`
}

// SpawnEvent records a vehicle entering the simulation.
type SpawnEvent struct {
	ZoneID   string          `json:"zone_id"`
	Tick     uint64          `json:"tick"`
	Manual   bool            `json:"manual"`
	Snapshot VehicleSnapshot `json:"snapshot"`
}

// DespawnEvent records a vehicle permanently leaving the simulation.
type DespawnEvent struct {
	VehicleID string `json:"vehicle_id"`
	ZoneID    string `json:"zone_id"`
	Tick      uint64 `json:"tick"`
	Reason    string `json:"reason"`
}

// TickSample is a per-zone per-tick performance sample.
type TickSample struct {
	ZoneID       string        `json:"zone_id"`
	Tick         uint64        `json:"tick"`
	VehicleCount int           `json:"vehicle_count"`
	AvgSpeed     float64       `json:"avg_speed"`
	Duration     time.Duration `json:"duration"`
}

// UploadMetadata describes a finished replay export for the viewer frontend.
type UploadMetadata struct {
	CityName    string
	RunID       string
	RunDuration float64
	Tag         string
}
