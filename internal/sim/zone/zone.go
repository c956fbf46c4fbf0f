// Package zone implements the zone actor: the exclusive owner of one
// bounded map region, its traffic lights, and its vehicles. Each actor
// runs one tick loop on its own goroutine; zones share nothing and all
// cross-zone effects travel over the migration bus.
package zone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/citygrid/trafficsim/internal/bus"
	"github.com/citygrid/trafficsim/internal/channel"
	"github.com/citygrid/trafficsim/internal/config"
	"github.com/citygrid/trafficsim/internal/geo"
	"github.com/citygrid/trafficsim/internal/protocol"
	"github.com/citygrid/trafficsim/internal/sim/light"
	"github.com/citygrid/trafficsim/internal/sim/vehicle"
	"github.com/citygrid/trafficsim/internal/util"
	"github.com/citygrid/trafficsim/pkg/core"
)

// DefaultCapacity bounds a zone's vehicle count when the layout does not
// set one.
const DefaultCapacity = 20

// Sentinel errors for inbound migration handling.
var (
	ErrDuplicateVehicle = errors.New("vehicle already present in zone")
	ErrZoneAtCapacity   = errors.New("zone at vehicle capacity")
)

var defaultPalette = []string{
	"#e63946", "#f4a261", "#2a9d8f", "#457b9d", "#8338ec", "#ffb703",
}

// State is the actor lifecycle state.
type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Observer receives the actor's committed state changes. Calls are made
// from the actor goroutine and must not block; implementations hand off
// to buffered pipelines.
type Observer interface {
	VehicleSpawned(ev core.SpawnEvent)
	VehicleDespawned(ev core.DespawnEvent)
	VehicleStateChanged(st core.VehicleState)
	VehicleMigrated(ev core.MigrationEvent)
	LightChanged(ch core.LightChange)
	TickCompleted(sample core.TickSample)
}

// Config assembles one zone actor.
type Config struct {
	Def       core.ZoneDef
	Neighbors []core.ZoneDef // resolved adjacency, candidate bounds for migrate-out
	Palette   []string
	Tuning    config.Tuning

	TickRate     int   // ticks per second
	Seed         int64 // global run seed, mixed with the zone id
	NotifyStates bool  // outward bus publication of light status changes

	Bus      bus.Bus
	Observer Observer
}

// Actor owns one zone. All collections are owned by the actor goroutine;
// the mutex only serializes ticks against renderer snapshots.
type Actor struct {
	def       core.ZoneDef
	neighbors []core.ZoneDef
	geom      geo.ZoneGeometry
	offset    core.Position
	capacity  int
	tuning    config.Tuning
	tickRate  int
	notify    bool
	palette   []string

	bus      bus.Bus
	observer Observer
	inbound  channel.Receiver[bus.Delivery]
	rng      *rand.Rand
	logger   *slog.Logger

	mutex    sync.Mutex
	state    State
	stopChan chan struct{}

	tick           uint64
	lights         []*light.Light
	vehicles       []*vehicle.Vehicle
	byID           map[string]*vehicle.Vehicle
	pendingSpawns  int
	spawnCountdown int
}

// New builds a zone actor from its configuration. The bus subscription is
// established separately by Connect.
func New(cfg Config) (*Actor, error) {
	capacity := cfg.Def.MaxVehicles
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	palette := cfg.Palette
	if len(palette) == 0 {
		palette = defaultPalette
	}
	tickRate := cfg.TickRate
	if tickRate <= 0 {
		tickRate = 30
	}

	a := &Actor{
		def:       cfg.Def,
		neighbors: cfg.Neighbors,
		geom:      geo.Derive(cfg.Def.ID, cfg.Def.Bounds),
		offset:    core.Position{X: cfg.Def.Bounds.X, Y: cfg.Def.Bounds.Y},
		capacity:  capacity,
		tuning:    cfg.Tuning,
		tickRate:  tickRate,
		notify:    cfg.NotifyStates,
		palette:   palette,
		bus:       cfg.Bus,
		observer:  cfg.Observer,
		rng:       rand.New(rand.NewSource(util.ZoneSeed(cfg.Seed, cfg.Def.ID))),
		logger:    slog.With("zone", cfg.Def.ID),
		stopChan:  make(chan struct{}),
		byID:      make(map[string]*vehicle.Vehicle),
	}

	// All four lights in a zone share one randomized cycle; the phase
	// offsets keep the perpendicular pair out of step.
	cycle := a.tuning.CycleMin
	if a.tuning.CycleMax > a.tuning.CycleMin {
		cycle += a.rng.Intn(a.tuning.CycleMax - a.tuning.CycleMin + 1)
	}
	for _, p := range a.geom.Lights {
		l, err := light.New(light.Config{
			ID:           p.ID,
			ZoneID:       cfg.Def.ID,
			Position:     p.Position,
			Orientation:  p.Orientation,
			Width:        p.Width,
			Height:       p.Height,
			CycleLength:  cycle,
			OffsetFactor: p.Offset,
		})
		if err != nil {
			return nil, fmt.Errorf("zone %s: %w", cfg.Def.ID, err)
		}
		a.lights = append(a.lights, l)
	}

	a.rollSpawnCountdown()
	return a, nil
}

// ID returns the zone identifier.
func (a *Actor) ID() string {
	return a.def.ID
}

// State returns the actor lifecycle state.
func (a *Actor) State() State {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.state
}

// Connect declares and binds this zone's migration queue.
func (a *Actor) Connect(ctx context.Context) error {
	rx, err := a.bus.Subscribe(ctx, protocol.MigrationQueue(a.def.ID), protocol.MigrationKey(a.def.ID))
	if err != nil {
		return fmt.Errorf("zone %s: failed to subscribe to migrations: %w", a.def.ID, err)
	}
	a.inbound = rx
	return nil
}

// Run executes the tick loop until Stop is called or the context is
// cancelled. An in-flight tick always completes before the loop exits.
func (a *Actor) Run(ctx context.Context) error {
	a.mutex.Lock()
	if a.state != Stopped {
		a.mutex.Unlock()
		return fmt.Errorf("zone %s: actor already %s", a.def.ID, a.state)
	}
	a.state = Running
	a.stopChan = make(chan struct{})
	a.mutex.Unlock()

	defer func() {
		a.mutex.Lock()
		a.state = Stopped
		a.mutex.Unlock()
	}()

	a.logger.Info("Zone actor started",
		"bounds", a.def.Bounds, "capacity", a.capacity, "tickRate", a.tickRate)

	ticker := time.NewTicker(time.Second / time.Duration(a.tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Zone actor cancelled", "tick", a.tick)
			return nil
		case <-a.stopChan:
			a.logger.Info("Zone actor stopped", "tick", a.tick)
			return nil
		case <-ticker.C:
			a.mutex.Lock()
			a.runTick(ctx)
			a.mutex.Unlock()
		}
	}
}

// Stop asks the actor to finish its current tick and exit. Safe to call
// more than once.
func (a *Actor) Stop() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.state == Running {
		a.state = Stopping
		close(a.stopChan)
	}
}

// TriggerManualSpawn queues one externally requested spawn, applied at the
// start of the next tick.
func (a *Actor) TriggerManualSpawn() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.pendingSpawns++
}

// PendingSpawnCount returns the number of queued manual spawns.
func (a *Actor) PendingSpawnCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.pendingSpawns
}

// VehicleCount returns the number of vehicles currently owned by the zone.
func (a *Actor) VehicleCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return len(a.vehicles)
}

// View returns a renderer-facing snapshot of the zone.
func (a *Actor) View() core.ZoneView {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	view := core.ZoneView{
		ZoneID:        a.def.ID,
		Bounds:        a.def.Bounds,
		Tick:          a.tick,
		PendingSpawns: a.pendingSpawns,
	}
	for _, v := range a.vehicles {
		if v.DespawnedGlobal {
			continue
		}
		view.Vehicles = append(view.Vehicles, v.Snapshot())
	}
	for _, l := range a.lights {
		view.Lights = append(view.Lights, l.Snapshot(a.offset))
	}
	return view
}
