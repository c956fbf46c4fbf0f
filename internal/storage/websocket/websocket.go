// Package websocket streams the run journal to a viewer server over a
// WebSocket. Lifecycle messages wait for a server ack; the event stream
// is fire-and-forget. The server can push trigger_spawn commands back,
// which are routed to the registered spawn handler.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/citygrid/trafficsim/pkg/core"
	"github.com/citygrid/trafficsim/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// SpawnHandler receives trigger_spawn commands from the viewer.
type SpawnHandler func(zoneID string)

// Backend streams run data over WebSocket to the viewer server.
// It implements storage.Backend but not storage.Uploadable.
type Backend struct {
	conn   *connection
	cfg    Config
	logger *slog.Logger
}

// New creates a new WebSocket journal backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		conn:   newConnection(logger),
		cfg:    cfg,
		logger: logger,
	}
	return b
}

// OnTriggerSpawn registers the handler for inbound trigger_spawn
// commands. Must be called before Init.
func (b *Backend) OnTriggerSpawn(h SpawnHandler) {
	b.conn.onInbound = func(env streaming.Envelope) {
		if env.Type != streaming.TypeTriggerSpawn {
			b.logger.Debug("Unhandled viewer message", "type", env.Type)
			return
		}
		var payload streaming.TriggerSpawnPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			b.logger.Warn("Bad trigger_spawn payload", "error", err)
			return
		}
		if payload.ZoneID == "" {
			b.logger.Warn("trigger_spawn without zone id")
			return
		}
		h(payload.ZoneID)
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// sendEnvelopeAndWait marshals the payload and waits for a server ack.
func (b *Backend) sendEnvelopeAndWait(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return b.conn.sendAndWait(data, msgType, ackTimeout)
}

// StartRun sends run and city data and waits for server ack.
func (b *Backend) StartRun(run *core.Run, city *core.City) error {
	data, err := marshalEnvelope(streaming.TypeStartRun, streaming.StartRunPayload{Run: run, City: city})
	if err != nil {
		return err
	}

	// Cache for reconnect replay.
	b.conn.mu.Lock()
	b.conn.cachedStartMsg = data
	b.conn.mu.Unlock()

	return b.conn.sendAndWait(data, streaming.TypeStartRun, ackTimeout)
}

// EndRun sends end_run and waits for server ack.
func (b *Backend) EndRun() error {
	err := b.sendEnvelopeAndWait(streaming.TypeEndRun, nil)

	// Clear cached state regardless of error.
	b.conn.mu.Lock()
	b.conn.cachedStartMsg = nil
	b.conn.mu.Unlock()

	return err
}

func (b *Backend) AddVehicle(zoneID string, tick uint64, v *core.VehicleSnapshot) error {
	return b.sendEnvelope(streaming.TypeAddVehicle, streaming.AddVehiclePayload{
		ZoneID:  zoneID,
		Tick:    tick,
		Vehicle: *v,
	})
}

func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	return b.sendEnvelope(streaming.TypeVehicleState, s)
}

func (b *Backend) RecordLightState(c *core.LightChange) error {
	return b.sendEnvelope(streaming.TypeLightChange, c)
}

func (b *Backend) RecordMigrationEvent(e *core.MigrationEvent) error {
	return b.sendEnvelope(streaming.TypeMigrationEvent, e)
}

func (b *Backend) RecordSpawnEvent(e *core.SpawnEvent) error {
	return b.sendEnvelope(streaming.TypeSpawnEvent, e)
}

func (b *Backend) RecordDespawnEvent(e *core.DespawnEvent) error {
	return b.sendEnvelope(streaming.TypeDespawnEvent, e)
}

func (b *Backend) RecordTickSample(s *core.TickSample) error {
	return b.sendEnvelope(streaming.TypeTickSample, s)
}
