// Package orchestrator assembles the city: it builds one actor per zone
// from the layout, connects them to the migration channel, runs them until
// asked to stop, and routes external control (manual spawns, status) to
// the right actor.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/citygrid/trafficsim/internal/bus"
	"github.com/citygrid/trafficsim/internal/config"
	"github.com/citygrid/trafficsim/internal/sim/zone"
	"github.com/citygrid/trafficsim/pkg/core"
)

// stopTimeout bounds the wait for in-flight ticks during shutdown; past
// the deadline actors are cancelled.
const stopTimeout = 5 * time.Second

// Dependencies holds the orchestrator's collaborators.
type Dependencies struct {
	Bus      bus.Bus
	Observer zone.Observer
	Logger   *slog.Logger
}

// ZoneStatus is one zone's slice of the city status.
type ZoneStatus struct {
	ZoneID        string `json:"zone_id"`
	State         string `json:"state"`
	Tick          uint64 `json:"tick"`
	Vehicles      int    `json:"vehicles"`
	PendingSpawns int    `json:"pending_spawns"`
}

// Status is a point-in-time view of the whole city.
type Status struct {
	Running  bool         `json:"running"`
	BusState string       `json:"bus_state"`
	Zones    []ZoneStatus `json:"zones"`
}

// Orchestrator owns the zone actors of one city.
type Orchestrator struct {
	deps Dependencies
	city *core.City

	zones map[string]*zone.Actor
	order []string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the zone actors from the city layout. Adjacency references
// have already been validated by the layout loader.
func New(city *core.City, sim config.SimConfig, tuning config.Tuning, deps Dependencies) (*Orchestrator, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	o := &Orchestrator{
		deps:  deps,
		city:  city,
		zones: make(map[string]*zone.Actor, len(city.Zones)),
	}

	for _, def := range city.Zones {
		neighbors := make([]core.ZoneDef, 0, len(def.Adjacent))
		for _, id := range def.Adjacent {
			n, ok := city.Zone(id)
			if !ok {
				return nil, fmt.Errorf("zone %s: unknown adjacent zone %s", def.ID, id)
			}
			neighbors = append(neighbors, n)
		}

		a, err := zone.New(zone.Config{
			Def:          def,
			Neighbors:    neighbors,
			Palette:      city.Palette,
			Tuning:       tuning,
			TickRate:     sim.TickRate,
			Seed:         sim.Seed,
			NotifyStates: sim.NotifyStateChanges,
			Bus:          deps.Bus,
			Observer:     deps.Observer,
		})
		if err != nil {
			return nil, err
		}
		o.zones[def.ID] = a
		o.order = append(o.order, def.ID)
	}

	return o, nil
}

// Start connects the migration channel and launches every zone actor.
// A broker that is unreachable at startup is fatal; transient failures
// after startup are the drivers' problem.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("orchestrator already running")
	}

	if err := o.deps.Bus.Connect(ctx); err != nil {
		return fmt.Errorf("migration channel unreachable: %w", err)
	}

	for _, id := range o.order {
		if err := o.zones[id].Connect(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	for _, id := range o.order {
		a := o.zones[id]
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := a.Run(runCtx); err != nil {
				o.deps.Logger.Error("Zone actor exited with error", "zone", a.ID(), "error", err)
			}
		}()
	}

	o.running = true
	o.deps.Logger.Info("City started", "city", o.city.Name, "zones", len(o.order))
	return nil
}

// Stop signals all actors, waits up to stopTimeout for in-flight ticks,
// then force-cancels stragglers. The bus is closed last so final
// migrations can still flush.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	for _, id := range o.order {
		o.zones[id].Stop()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		o.deps.Logger.Warn("Shutdown deadline exceeded, cancelling actors")
		cancel()
		<-done
	}
	cancel()

	if err := o.deps.Bus.Close(); err != nil {
		o.deps.Logger.Error("Error closing migration channel", "error", err)
	}
	o.deps.Logger.Info("City stopped", "city", o.city.Name)
}

// IsRunning reports whether the city is running.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// ZoneIDs returns the zone ids in layout order.
func (o *Orchestrator) ZoneIDs() []string {
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

// TriggerSpawn queues one manual spawn on the named zone.
func (o *Orchestrator) TriggerSpawn(zoneID string) error {
	a, ok := o.zones[zoneID]
	if !ok {
		return fmt.Errorf("unknown zone: %s", zoneID)
	}
	a.TriggerManualSpawn()
	return nil
}

// View returns the renderer snapshot of one zone.
func (o *Orchestrator) View(zoneID string) (core.ZoneView, error) {
	a, ok := o.zones[zoneID]
	if !ok {
		return core.ZoneView{}, fmt.Errorf("unknown zone: %s", zoneID)
	}
	return a.View(), nil
}

// Status returns a point-in-time view of every zone.
func (o *Orchestrator) Status() Status {
	s := Status{
		Running:  o.IsRunning(),
		BusState: o.deps.Bus.State().String(),
	}
	for _, id := range o.order {
		a := o.zones[id]
		view := a.View()
		s.Zones = append(s.Zones, ZoneStatus{
			ZoneID:        id,
			State:         a.State().String(),
			Tick:          view.Tick,
			Vehicles:      len(view.Vehicles),
			PendingSpawns: view.PendingSpawns,
		})
	}
	return s
}
