package worker

import (
	"fmt"
	"time"

	"github.com/citygrid/trafficsim/internal/dispatcher"
	"github.com/citygrid/trafficsim/pkg/core"
)

// Pipeline commands. Registration events run synchronously so the city
// index is populated before buffered state updates look vehicles up.
const (
	CmdSpawn        = ":SPAWN:"
	CmdDespawn      = ":DESPAWN:"
	CmdVehicleState = ":VEHICLE:STATE:"
	CmdLightChange  = ":LIGHT:CHANGE:"
	CmdMigrate      = ":MIGRATE:"
	CmdTickSample   = ":TICK:SAMPLE:"
)

// RegisterHandlers registers all event handlers with the dispatcher and
// binds it as the manager's event sink.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Vehicle registration - sync (index before states arrive)
	d.Register(CmdSpawn, m.handleSpawn, dispatcher.Logged())
	d.Register(CmdMigrate, m.handleMigration, dispatcher.Logged())

	// High-volume state updates - buffered
	d.Register(CmdVehicleState, m.handleVehicleState, dispatcher.Buffered(10000), dispatcher.Logged())

	// Lifecycle and signal events - buffered
	d.Register(CmdDespawn, m.handleDespawn, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(CmdLightChange, m.handleLightChange, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(CmdTickSample, m.handleTickSample, dispatcher.Buffered(1000), dispatcher.Logged())

	m.dispatcher = d
}

// dispatch pushes an event into its pipeline. Called from the actor
// goroutines; buffered commands return immediately.
func (m *Manager) dispatch(command string, payload any) {
	if m.dispatcher == nil {
		return
	}
	_, err := m.dispatcher.Dispatch(dispatcher.Event{
		Command:   command,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		m.deps.Logger.Warn("Event dropped", "command", command, "error", err)
	}
}

// VehicleSpawned implements zone.Observer.
func (m *Manager) VehicleSpawned(ev core.SpawnEvent) { m.dispatch(CmdSpawn, ev) }

// VehicleDespawned implements zone.Observer.
func (m *Manager) VehicleDespawned(ev core.DespawnEvent) { m.dispatch(CmdDespawn, ev) }

// VehicleStateChanged implements zone.Observer.
func (m *Manager) VehicleStateChanged(st core.VehicleState) { m.dispatch(CmdVehicleState, st) }

// VehicleMigrated implements zone.Observer.
func (m *Manager) VehicleMigrated(ev core.MigrationEvent) { m.dispatch(CmdMigrate, ev) }

// LightChanged implements zone.Observer.
func (m *Manager) LightChanged(ch core.LightChange) { m.dispatch(CmdLightChange, ch) }

// TickCompleted implements zone.Observer.
func (m *Manager) TickCompleted(sample core.TickSample) { m.dispatch(CmdTickSample, sample) }

func (m *Manager) handleSpawn(e dispatcher.Event) (any, error) {
	ev, ok := e.Payload.(core.SpawnEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for %s", e.Payload, CmdSpawn)
	}

	// Index before recording so state updates can associate.
	m.deps.Index.SetOwner(ev.Snapshot.ID, ev.ZoneID)

	if err := m.backend.AddVehicle(ev.ZoneID, ev.Tick, &ev.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to register vehicle %s: %w", ev.Snapshot.ID, err)
	}
	if err := m.backend.RecordSpawnEvent(&ev); err != nil {
		return nil, fmt.Errorf("failed to record spawn: %w", err)
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveSpawn(ev)
	}
	return nil, nil
}

func (m *Manager) handleDespawn(e dispatcher.Event) (any, error) {
	ev, ok := e.Payload.(core.DespawnEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for %s", e.Payload, CmdDespawn)
	}

	m.deps.Index.Remove(ev.VehicleID)

	if err := m.backend.RecordDespawnEvent(&ev); err != nil {
		return nil, fmt.Errorf("failed to record despawn: %w", err)
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveDespawn(ev)
	}
	return nil, nil
}

func (m *Manager) handleVehicleState(e dispatcher.Event) (any, error) {
	st, ok := e.Payload.(core.VehicleState)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for %s", e.Payload, CmdVehicleState)
	}

	// Validate vehicle exists in the index; fill ZoneID if empty
	zoneID, found := m.deps.Index.Owner(st.VehicleID)
	if !found {
		return nil, ErrTooEarlyForStateAssociation
	}
	if st.ZoneID == "" {
		st.ZoneID = zoneID
	}

	if err := m.backend.RecordVehicleState(&st); err != nil {
		return nil, fmt.Errorf("failed to record vehicle state: %w", err)
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveState(st)
	}
	return nil, nil
}

func (m *Manager) handleMigration(e dispatcher.Event) (any, error) {
	ev, ok := e.Payload.(core.MigrationEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for %s", e.Payload, CmdMigrate)
	}

	// Ownership moves before the destination zone emits states.
	m.deps.Index.SetOwner(ev.VehicleID, ev.ToZone)

	// Re-register with the destination zone; backends that already know
	// the vehicle keep the original record.
	if err := m.backend.AddVehicle(ev.ToZone, ev.Tick, &ev.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to re-register vehicle %s: %w", ev.VehicleID, err)
	}
	if err := m.backend.RecordMigrationEvent(&ev); err != nil {
		return nil, fmt.Errorf("failed to record migration: %w", err)
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveMigration(ev)
	}
	return nil, nil
}

func (m *Manager) handleLightChange(e dispatcher.Event) (any, error) {
	ch, ok := e.Payload.(core.LightChange)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for %s", e.Payload, CmdLightChange)
	}

	if err := m.backend.RecordLightState(&ch); err != nil {
		return nil, fmt.Errorf("failed to record light change: %w", err)
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveLightChange(ch)
	}
	return nil, nil
}

func (m *Manager) handleTickSample(e dispatcher.Event) (any, error) {
	s, ok := e.Payload.(core.TickSample)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for %s", e.Payload, CmdTickSample)
	}

	m.deps.Index.SetTick(s.ZoneID, s.Tick)

	if err := m.backend.RecordTickSample(&s); err != nil {
		return nil, fmt.Errorf("failed to record tick sample: %w", err)
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveTick(s)
	}
	return nil, nil
}
