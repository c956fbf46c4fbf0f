// Package light implements the timed three-state traffic light device.
//
// A light's state is a pure function of the ticks elapsed since the run
// started plus its phase offset, so it can always be recomputed; Advance
// only exists to detect transitions for notification purposes.
package light

import (
	"fmt"

	"github.com/citygrid/trafficsim/internal/util"
	"github.com/citygrid/trafficsim/pkg/core"
)

// Cycle ratios. Red absorbs the rounding remainder so the three phases
// always sum to exactly one cycle.
const (
	GreenRatio  = 0.45
	YellowRatio = 0.10
)

// Config describes one traffic light at an intersection approach.
type Config struct {
	ID          string
	ZoneID      string
	Position    core.Position // housing center, zone-local
	Orientation core.Orientation
	Width       float64
	Height      float64

	// CycleLength is the full green+yellow+red period in ticks.
	CycleLength int

	// OffsetFactor is the fraction of the cycle this light starts into,
	// used to desynchronize perpendicular approach pairs.
	OffsetFactor float64
}

// Light is a traffic light instance. Not safe for concurrent use; it is
// owned by a single zone actor.
type Light struct {
	ID          string
	ZoneID      string
	Position    core.Position
	Orientation core.Orientation
	Width       float64
	Height      float64

	cycle     int
	greenLen  int
	yellowLen int
	redLen    int
	offset    int

	ticks uint64
	state core.LightState
}

// New creates a light from its configuration.
func New(cfg Config) (*Light, error) {
	if cfg.CycleLength <= 0 {
		return nil, fmt.Errorf("light %s: cycle length must be positive, got %d", cfg.ID, cfg.CycleLength)
	}

	green := util.RoundTiming(cfg.CycleLength, GreenRatio)
	yellow := util.RoundTiming(cfg.CycleLength, YellowRatio)
	red := cfg.CycleLength - green - yellow
	if red < 0 {
		return nil, fmt.Errorf("light %s: cycle length %d too short for phase ratios", cfg.ID, cfg.CycleLength)
	}

	l := &Light{
		ID:          cfg.ID,
		ZoneID:      cfg.ZoneID,
		Position:    cfg.Position,
		Orientation: cfg.Orientation,
		Width:       cfg.Width,
		Height:      cfg.Height,
		cycle:       cfg.CycleLength,
		greenLen:    green,
		yellowLen:   yellow,
		redLen:      red,
		offset:      int(cfg.OffsetFactor*float64(cfg.CycleLength)) % cfg.CycleLength,
	}
	l.state = l.StateAt(0)
	return l, nil
}

// StateAt computes the state after the given number of ticks, independent
// of any Advance calls.
func (l *Light) StateAt(tick uint64) core.LightState {
	t := int((tick + uint64(l.offset)) % uint64(l.cycle))
	switch {
	case t < l.greenLen:
		return core.LightGreen
	case t < l.greenLen+l.yellowLen:
		return core.LightYellow
	default:
		return core.LightRed
	}
}

// Advance moves the light one tick forward and returns the new state and
// whether it changed on this tick.
func (l *Light) Advance() (core.LightState, bool) {
	l.ticks++
	next := l.StateAt(l.ticks)
	changed := next != l.state
	l.state = next
	return next, changed
}

// State returns the current state.
func (l *Light) State() core.LightState {
	return l.state
}

// Timings returns the green, yellow, and red phase lengths in ticks.
func (l *Light) Timings() (green, yellow, red int) {
	return l.greenLen, l.yellowLen, l.redLen
}

// Snapshot returns the drawable state with the position shifted by the
// zone's global offset.
func (l *Light) Snapshot(offset core.Position) core.LightSnapshot {
	return core.LightSnapshot{
		ID:     l.ID,
		ZoneID: l.ZoneID,
		Position: core.Position{
			X: offset.X + l.Position.X,
			Y: offset.Y + l.Position.Y,
		},
		Orientation: l.Orientation,
		Width:       l.Width,
		Height:      l.Height,
		State:       l.state,
	}
}
