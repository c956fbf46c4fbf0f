package streaming

import (
	"encoding/json"

	"github.com/citygrid/trafficsim/pkg/core"
)

// Message type constants matching the viewer streaming protocol.
const (
	TypeStartRun       = "start_run"
	TypeEndRun         = "end_run"
	TypeAddVehicle     = "add_vehicle"
	TypeVehicleState   = "vehicle_state"
	TypeLightChange    = "light_change"
	TypeMigrationEvent = "migration_event"
	TypeSpawnEvent     = "spawn_event"
	TypeDespawnEvent   = "despawn_event"
	TypeTickSample     = "tick_sample"
	TypeTriggerSpawn   = "trigger_spawn"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartRunPayload carries run and city data.
type StartRunPayload struct {
	Run  *core.Run  `json:"run"`
	City *core.City `json:"city"`
}

// AddVehiclePayload registers a vehicle with the zone and tick it first
// appeared in.
type AddVehiclePayload struct {
	ZoneID  string               `json:"zone_id"`
	Tick    uint64               `json:"tick"`
	Vehicle core.VehicleSnapshot `json:"vehicle"`
}

// TriggerSpawnPayload is an inbound viewer command requesting a manual
// spawn in the named zone.
type TriggerSpawnPayload struct {
	ZoneID string `json:"zone_id"`
}
