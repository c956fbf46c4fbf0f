// Package protocol defines the wire format of inter-zone messages and the
// routing conventions of the migration channel. Inbound messages are
// validated against an embedded JSON Schema before a zone acts on them.
package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/citygrid/trafficsim/pkg/core"
)

// TypeVehicleMigration identifies a vehicle ownership transfer message.
const TypeVehicleMigration = "vehicle_migration"

//go:embed migration.schema.json
var migrationSchemaJSON string

var migrationSchema = jsonschema.MustCompileString("migration.schema.json", migrationSchemaJSON)

// Migration is one vehicle ownership transfer. The sender removes the
// vehicle before publishing; the receiver deduplicates by vehicle id, so
// redelivery of the same message is harmless.
type Migration struct {
	Type        string               `json:"type"`
	MessageID   string               `json:"message_id"`
	CurrentZone string               `json:"current_zone"`
	TargetZone  string               `json:"target_zone"`
	Tick        uint64               `json:"tick"`
	Vehicle     core.VehicleSnapshot `json:"vehicle"`
}

// NewMigration builds a migration message with a fresh message id.
func NewMigration(fromZone, toZone string, tick uint64, v core.VehicleSnapshot) Migration {
	return Migration{
		Type:        TypeVehicleMigration,
		MessageID:   uuid.NewString(),
		CurrentZone: fromZone,
		TargetZone:  toZone,
		Tick:        tick,
		Vehicle:     v,
	}
}

// EncodeMigration serializes a migration message for publishing.
func EncodeMigration(m Migration) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode migration %s: %w", m.MessageID, err)
	}
	return body, nil
}

// DecodeMigration parses and schema-validates an inbound migration message.
func DecodeMigration(body []byte) (Migration, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Migration{}, fmt.Errorf("failed to parse migration message: %w", err)
	}
	if err := migrationSchema.Validate(doc); err != nil {
		return Migration{}, fmt.Errorf("migration message failed schema validation: %w", err)
	}

	var m Migration
	if err := json.Unmarshal(body, &m); err != nil {
		return Migration{}, fmt.Errorf("failed to decode migration message: %w", err)
	}
	if !m.Vehicle.Direction.Valid() {
		return Migration{}, fmt.Errorf("migration %s: invalid direction %q", m.MessageID, m.Vehicle.Direction)
	}
	return m, nil
}

// MigrationKey is the routing key for migrations into the given zone.
func MigrationKey(zoneID string) string {
	return zoneID
}

// MigrationQueue is the durable queue a zone consumes its migrations from.
func MigrationQueue(zoneID string) string {
	return "zone." + zoneID + ".migrations"
}

// TypeLightStatus identifies an outward light state notification.
const TypeLightStatus = "light_status"

// LightStatus is the outward notification body for a light transition.
// Fire-and-forget; delivery loss is tolerated and there is no schema
// handshake with consumers.
type LightStatus struct {
	Type    string          `json:"type"`
	LightID string          `json:"light_id"`
	ZoneID  string          `json:"zone_id"`
	Tick    uint64          `json:"tick"`
	State   core.LightState `json:"state"`
}

// NewLightStatus builds a light status notification.
func NewLightStatus(lightID, zoneID string, tick uint64, state core.LightState) LightStatus {
	return LightStatus{
		Type:    TypeLightStatus,
		LightID: lightID,
		ZoneID:  zoneID,
		Tick:    tick,
		State:   state,
	}
}

// EncodeLightStatus serializes a light status notification for publishing.
func EncodeLightStatus(s LightStatus) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode light status for %s: %w", s.LightID, err)
	}
	return body, nil
}

// LightStatusKey is the routing key for outward light change notifications.
func LightStatusKey(lightID string) string {
	return "traffic.light.status." + lightID
}
