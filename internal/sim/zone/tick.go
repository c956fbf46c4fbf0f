package zone

import (
	"context"
	"errors"
	"time"

	"github.com/citygrid/trafficsim/internal/geo"
	"github.com/citygrid/trafficsim/internal/protocol"
	"github.com/citygrid/trafficsim/internal/sim/vehicle"
	"github.com/citygrid/trafficsim/internal/util"
	"github.com/citygrid/trafficsim/pkg/core"
)

// runTick executes one full tick. Caller holds the actor mutex.
func (a *Actor) runTick(ctx context.Context) {
	start := time.Now()
	a.tick++

	// 1. Pending manual spawns.
	for a.pendingSpawns > 0 {
		a.pendingSpawns--
		a.spawn(true)
	}

	// 2. Lights.
	for _, l := range a.lights {
		state, changed := l.Advance()
		if !changed {
			continue
		}
		a.observer.LightChanged(core.LightChange{
			LightID: l.ID,
			ZoneID:  a.def.ID,
			Tick:    a.tick,
			State:   state,
		})
		a.publishLightStatus(ctx, l.ID, state)
	}

	// 3. Auto-spawn timer.
	a.spawnCountdown--
	if a.spawnCountdown <= 0 {
		a.rollSpawnCountdown()
		a.spawn(false)
	}

	// 4. Vehicle updates. Iterate over a copy: migrations later this tick
	// mutate the live slice, updates do not.
	env := vehicle.Env{
		Lights:     a.lights,
		Vehicles:   a.vehicles,
		ZoneOffset: a.offset,
		Tuning:     a.tuning,
	}
	for _, v := range append([]*vehicle.Vehicle(nil), a.vehicles...) {
		if v.DespawnedGlobal {
			continue
		}
		a.updateVehicle(v, env)
	}

	// 5. Migrate-out scan.
	a.migrateOut(ctx)

	// 6. Drain inbound migrations.
	a.drainInbound()

	var speedSum float64
	for _, v := range a.vehicles {
		speedSum += v.Speed
	}
	sample := core.TickSample{
		ZoneID:       a.def.ID,
		Tick:         a.tick,
		VehicleCount: len(a.vehicles),
		Duration:     time.Since(start),
	}
	if sample.VehicleCount > 0 {
		sample.AvgSpeed = speedSum / float64(sample.VehicleCount)
	}
	a.observer.TickCompleted(sample)
}

// updateVehicle runs one vehicle's decision step. A panicking vehicle is
// logged and skipped; the tick continues for the rest of the zone.
func (a *Actor) updateVehicle(v *vehicle.Vehicle, env vehicle.Env) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Vehicle update panicked", "vehicle", v.ID, "panic", r)
		}
	}()

	out := v.Update(env)
	if !out.Changed() {
		return
	}
	a.observer.VehicleStateChanged(core.VehicleState{
		VehicleID:  v.ID,
		ZoneID:     a.def.ID,
		Tick:       a.tick,
		Position:   v.Position,
		Speed:      v.Speed,
		Stopped:    v.Stopped,
		StopReason: v.StopReason,
	})
}

func (a *Actor) publishLightStatus(ctx context.Context, lightID string, state core.LightState) {
	if !a.notify {
		return
	}
	body, err := protocol.EncodeLightStatus(protocol.NewLightStatus(lightID, a.def.ID, a.tick, state))
	if err != nil {
		a.logger.Error("Failed to encode light status", "light", lightID, "error", err)
		return
	}
	if err := a.bus.Publish(ctx, protocol.LightStatusKey(lightID), body); err != nil {
		a.logger.Warn("Light status publish failed", "light", lightID, "error", err)
	}
}

func (a *Actor) rollSpawnCountdown() {
	a.spawnCountdown = a.tuning.SpawnIntervalMin
	if a.tuning.SpawnIntervalMax > a.tuning.SpawnIntervalMin {
		a.spawnCountdown += a.rng.Intn(a.tuning.SpawnIntervalMax - a.tuning.SpawnIntervalMin + 1)
	}
}

// spawn places a new vehicle at a random entry point. Skips silently when
// the zone is at capacity or the entry point is occupied.
func (a *Actor) spawn(manual bool) {
	if len(a.vehicles) >= a.capacity {
		if manual {
			a.logger.Warn("Manual spawn skipped, zone at capacity", "capacity", a.capacity)
		}
		return
	}

	sp := a.geom.SpawnPoints[a.rng.Intn(len(a.geom.SpawnPoints))]
	pos := core.Position{X: a.offset.X + sp.Position.X, Y: a.offset.Y + sp.Position.Y}
	if a.spawnBlocked(pos) {
		return
	}

	id := util.VehicleID(a.def.ID, a.rng)
	for i := 0; i < 3 && a.byID[id] != nil; i++ {
		id = util.VehicleID(a.def.ID, a.rng)
	}
	if a.byID[id] != nil {
		return
	}

	speed := a.tuning.SpeedMin + a.rng.Float64()*(a.tuning.SpeedMax-a.tuning.SpeedMin)
	color := a.palette[a.rng.Intn(len(a.palette))]

	v := vehicle.New(id, a.def.ID, pos, sp.Direction, speed, color)
	a.insert(v)
	a.observer.VehicleSpawned(core.SpawnEvent{
		ZoneID:   a.def.ID,
		Tick:     a.tick,
		Manual:   manual,
		Snapshot: v.Snapshot(),
	})
	a.logger.Debug("Vehicle spawned",
		"vehicle", id, "direction", sp.Direction, "manual", manual)
}

// spawnBlocked reports whether another vehicle sits on the entry point.
func (a *Actor) spawnBlocked(pos core.Position) bool {
	for _, v := range a.vehicles {
		dx, dy := v.Position.X-pos.X, v.Position.Y-pos.Y
		if dx < 0 {
			dx = -dx
		}
		if dy < 0 {
			dy = -dy
		}
		if dx < geo.CarLength && dy < geo.CarLength {
			return true
		}
	}
	return false
}

func (a *Actor) insert(v *vehicle.Vehicle) {
	a.vehicles = append(a.vehicles, v)
	a.byID[v.ID] = v
}

func (a *Actor) remove(id string) {
	delete(a.byID, id)
	for i, v := range a.vehicles {
		if v.ID == id {
			a.vehicles = append(a.vehicles[:i], a.vehicles[i+1:]...)
			return
		}
	}
}

// migrateOut hands vehicles whose center left the bounds to the adjacent
// zone that contains them. The local copy is removed before publishing;
// a failed publish loses the vehicle rather than duplicating it.
func (a *Actor) migrateOut(ctx context.Context) {
	for _, v := range append([]*vehicle.Vehicle(nil), a.vehicles...) {
		if a.def.Bounds.Contains(v.Position) {
			continue
		}

		var target string
		for _, n := range a.neighbors {
			if n.Bounds.Contains(v.Position) {
				target = n.ID
				break
			}
		}

		if target == "" {
			// Off the map entirely.
			v.DespawnedGlobal = true
			a.remove(v.ID)
			a.observer.VehicleDespawned(core.DespawnEvent{
				VehicleID: v.ID,
				ZoneID:    a.def.ID,
				Tick:      a.tick,
				Reason:    core.DespawnLeftCity,
			})
			a.logger.Debug("Vehicle left the city", "vehicle", v.ID)
			continue
		}

		m := protocol.NewMigration(a.def.ID, target, a.tick, v.Snapshot())
		body, err := protocol.EncodeMigration(m)
		if err != nil {
			a.logger.Error("Failed to encode migration", "vehicle", v.ID, "error", err)
			continue
		}

		a.remove(v.ID)
		if err := a.bus.Publish(ctx, protocol.MigrationKey(target), body); err != nil {
			a.logger.Warn("Migration publish failed, vehicle lost",
				"vehicle", v.ID, "target", target, "error", err)
			continue
		}
		a.logger.Debug("Vehicle migrated out", "vehicle", v.ID, "target", target)
	}
}

// drainInbound empties the migration queue accumulated since the last tick.
func (a *Actor) drainInbound() {
	if a.inbound == nil {
		return
	}
	for {
		select {
		case d, ok := <-a.inbound.Receive():
			if !ok {
				a.inbound = nil
				return
			}
			a.handleMigration(d.Body)
		default:
			return
		}
	}
}

func (a *Actor) handleMigration(body []byte) {
	m, err := protocol.DecodeMigration(body)
	if err != nil {
		a.logger.Warn("Discarding malformed migration", "error", err)
		return
	}
	if m.TargetZone != a.def.ID {
		a.logger.Warn("Discarding misrouted migration",
			"message", m.MessageID, "target", m.TargetZone)
		return
	}

	switch err := a.acceptMigration(m); {
	case errors.Is(err, ErrDuplicateVehicle):
		a.logger.Debug("Discarding duplicate migration",
			"message", m.MessageID, "vehicle", m.Vehicle.ID)
	case errors.Is(err, ErrZoneAtCapacity):
		// Dropping loses the vehicle; record it as a despawn so the
		// journal stays consistent.
		a.logger.Warn("Dropping migration, zone at capacity",
			"message", m.MessageID, "vehicle", m.Vehicle.ID)
		a.observer.VehicleDespawned(core.DespawnEvent{
			VehicleID: m.Vehicle.ID,
			ZoneID:    a.def.ID,
			Tick:      a.tick,
			Reason:    core.DespawnCapacity,
		})
	}
}

func (a *Actor) acceptMigration(m protocol.Migration) error {
	if _, ok := a.byID[m.Vehicle.ID]; ok {
		return ErrDuplicateVehicle
	}
	if len(a.vehicles) >= a.capacity {
		return ErrZoneAtCapacity
	}

	v := vehicle.FromSnapshot(m.Vehicle, a.def.ID)
	a.insert(v)
	a.observer.VehicleMigrated(core.MigrationEvent{
		MessageID: m.MessageID,
		VehicleID: v.ID,
		FromZone:  m.CurrentZone,
		ToZone:    a.def.ID,
		Tick:      a.tick,
		Snapshot:  m.Vehicle,
	})
	a.logger.Debug("Vehicle migrated in", "vehicle", v.ID, "from", m.CurrentZone)
	return nil
}
