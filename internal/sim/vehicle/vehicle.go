// Package vehicle implements the per-tick vehicle decision and movement
// logic: tentative move, traffic light check, collision avoidance, commit
// or revert.
package vehicle

import (
	"github.com/citygrid/trafficsim/internal/config"
	"github.com/citygrid/trafficsim/internal/sim/light"
	"github.com/citygrid/trafficsim/pkg/core"
)

// Body dimensions. The footprint is stored oriented: length runs along
// the travel axis, width across it.
const (
	BodyLength = 30.0
	BodyWidth  = 20.0
)

// Vehicle is a simulated vehicle. Owned by exactly one zone actor at a
// time; never shared across goroutines.
type Vehicle struct {
	ID        string
	Position  core.Position // body center, global coordinates
	Direction core.Direction
	Speed     float64
	BaseSpeed float64 // restored when a stopped vehicle resumes

	Stopped    bool
	StopReason string

	ZoneID          string
	DespawnedGlobal bool

	Width  float64 // oriented footprint
	Height float64
	Color  string
}

// New creates a vehicle at the given position with the footprint oriented
// by its direction.
func New(id, zoneID string, pos core.Position, dir core.Direction, baseSpeed float64, color string) *Vehicle {
	w, h := BodyLength, BodyWidth
	if dir.Axis() == core.AxisVertical {
		w, h = BodyWidth, BodyLength
	}
	return &Vehicle{
		ID:        id,
		Position:  pos,
		Direction: dir,
		Speed:     baseSpeed,
		BaseSpeed: baseSpeed,
		ZoneID:    zoneID,
		Width:     w,
		Height:    h,
		Color:     color,
	}
}

// FromSnapshot reconstructs a vehicle from a migration snapshot, assigning
// it to the receiving zone.
func FromSnapshot(s core.VehicleSnapshot, zoneID string) *Vehicle {
	v := &Vehicle{
		ID:        s.ID,
		Position:  s.Position,
		Direction: s.Direction,
		Speed:     s.Speed,
		BaseSpeed: s.OriginalSpeed,
		Stopped:   s.Stopped,
		ZoneID:    zoneID,
		Width:     s.Width,
		Height:    s.Height,
		Color:     s.Color,
	}
	if v.Stopped {
		v.Speed = 0
	}
	return v
}

// Snapshot returns the full serializable vehicle state.
func (v *Vehicle) Snapshot() core.VehicleSnapshot {
	return core.VehicleSnapshot{
		ID:            v.ID,
		Position:      v.Position,
		Speed:         v.Speed,
		OriginalSpeed: v.BaseSpeed,
		Direction:     v.Direction,
		Stopped:       v.Stopped,
		Width:         v.Width,
		Height:        v.Height,
		Color:         v.Color,
	}
}

// Length is the footprint dimension along the travel axis.
func (v *Vehicle) Length() float64 {
	if v.Direction.Axis() == core.AxisHorizontal {
		return v.Width
	}
	return v.Height
}

// lateralHalf is half the footprint dimension across the travel axis.
func (v *Vehicle) lateralHalf() float64 {
	if v.Direction.Axis() == core.AxisHorizontal {
		return v.Height / 2
	}
	return v.Width / 2
}

// along projects a position onto the travel axis.
func (v *Vehicle) along(p core.Position) float64 {
	if v.Direction.Axis() == core.AxisHorizontal {
		return p.X
	}
	return p.Y
}

// lateral projects a position onto the cross axis.
func (v *Vehicle) lateral(p core.Position) float64 {
	if v.Direction.Axis() == core.AxisHorizontal {
		return p.Y
	}
	return p.X
}

// forwardSign is +1 when travel increases the along coordinate.
func (v *Vehicle) forwardSign() float64 {
	switch v.Direction {
	case core.DirRight, core.DirDown:
		return 1
	default:
		return -1
	}
}

// Env is everything a vehicle reads during one update: the owning zone's
// lights and vehicles and the zone's global offset for converting
// zone-local light positions.
type Env struct {
	Lights     []*light.Light
	Vehicles   []*Vehicle
	ZoneOffset core.Position
	Tuning     config.Tuning
}

// Outcome reports what one update did.
type Outcome struct {
	Moved      bool
	StoppedNow bool
	Resumed    bool
	StopReason string
}

// Changed reports whether the update committed any state change worth
// notifying collaborators about.
func (o Outcome) Changed() bool {
	return o.Moved || o.StoppedNow || o.Resumed
}

// Update runs one decision/movement tick.
//
// A stopped vehicle re-evaluates only the traffic light condition to
// decide whether to resume; a vehicle stopped behind another vehicle
// resumes and is re-stopped by the next tick's collision check if the
// blocker has not moved.
func (v *Vehicle) Update(env Env) Outcome {
	if v.Stopped {
		if l, d := v.relevantLight(env); l != nil && v.mustStopForLight(l.State(), d, env.Tuning) {
			return Outcome{}
		}
		v.Stopped = false
		v.Speed = v.BaseSpeed
		v.StopReason = ""
		return Outcome{Resumed: true}
	}

	// Tentative move.
	prev := v.Position
	dx, dy := v.Direction.Delta()
	v.Position.X += dx * v.Speed
	v.Position.Y += dy * v.Speed

	if l, d := v.relevantLight(env); l != nil && v.mustStopForLight(l.State(), d, env.Tuning) {
		v.Position = prev
		v.stop(core.StopReasonTrafficLight)
		return Outcome{StoppedNow: true, StopReason: core.StopReasonTrafficLight}
	}

	if v.blockedByVehicle(env.Vehicles, env.Tuning) {
		v.Position = prev
		v.stop(core.StopReasonAvoidance)
		return Outcome{StoppedNow: true, StopReason: core.StopReasonAvoidance}
	}

	return Outcome{Moved: true}
}

func (v *Vehicle) stop(reason string) {
	v.Stopped = true
	v.Speed = 0
	v.StopReason = reason
}

// relevantLight selects the nearest light governing this vehicle's travel
// axis that is ahead (allowing a short past-the-line margin), laterally
// aligned, and within the lookahead distance. Returns the light and the
// edge distance from the vehicle's front to the light's stop line.
func (v *Vehicle) relevantLight(env Env) (*light.Light, float64) {
	length := v.Length()
	lookahead := v.BaseSpeed*env.Tuning.LookaheadFactor + length
	pastLine := -length * env.Tuning.PastLineFactor

	var best *light.Light
	bestDist := 0.0

	for _, l := range env.Lights {
		if l.Orientation.Governs() != v.Direction.Axis() {
			continue
		}

		pos := core.Position{
			X: env.ZoneOffset.X + l.Position.X,
			Y: env.ZoneOffset.Y + l.Position.Y,
		}

		alongSpan, lateralSpan := l.Width, l.Height
		if v.Direction.Axis() == core.AxisVertical {
			alongSpan, lateralSpan = l.Height, l.Width
		}

		latGap := v.lateral(v.Position) - v.lateral(pos)
		if latGap < 0 {
			latGap = -latGap
		}
		if latGap > lateralSpan/2+v.lateralHalf() {
			continue
		}

		sign := v.forwardSign()
		front := v.along(v.Position) + sign*length/2
		stopLine := v.along(pos) - sign*alongSpan/2
		d := sign * (stopLine - front)

		if d < pastLine || d > lookahead {
			continue
		}
		if best == nil || d < bestDist {
			best = l
			bestDist = d
		}
	}
	return best, bestDist
}

// mustStopForLight applies the red and yellow stopping thresholds to the
// edge distance d.
func (v *Vehicle) mustStopForLight(state core.LightState, d float64, t config.Tuning) bool {
	length := v.Length()
	switch state {
	case core.LightRed:
		return d <= v.BaseSpeed*t.RedStopFactor+length*t.RedStopLengthFactor
	case core.LightYellow:
		// Stop only if the intersection cannot be cleared in time.
		return d <= v.BaseSpeed*t.YellowStopFactor+length*t.YellowStopLengthFactor
	default:
		return false
	}
}

// blockedByVehicle reports whether another vehicle sits directly ahead
// within the following buffer.
func (v *Vehicle) blockedByVehicle(others []*Vehicle, t config.Tuning) bool {
	length := v.Length()
	buffer := length * t.FollowBufferFactor
	sign := v.forwardSign()
	front := v.along(v.Position) + sign*length/2

	for _, o := range others {
		if o.ID == v.ID || o.DespawnedGlobal {
			continue
		}

		// Lateral centers within half the combined widths.
		latGap := v.lateral(v.Position) - v.lateral(o.Position)
		if latGap < 0 {
			latGap = -latGap
		}
		if latGap >= v.lateralHalf()+o.halfAcross(v.Direction.Axis()) {
			continue
		}

		// Strictly ahead along the travel axis, within the buffer.
		ahead := sign * (v.along(o.Position) - v.along(v.Position))
		if ahead <= 0 {
			continue
		}
		gap := sign * ((v.along(o.Position) - sign*o.halfAlong(v.Direction.Axis())) - front)
		if gap <= buffer {
			return true
		}
	}
	return false
}

// halfAlong is half of o's footprint measured along the given axis.
func (o *Vehicle) halfAlong(axis core.Axis) float64 {
	if axis == core.AxisHorizontal {
		return o.Width / 2
	}
	return o.Height / 2
}

// halfAcross is half of o's footprint measured across the given axis.
func (o *Vehicle) halfAcross(axis core.Axis) float64 {
	if axis == core.AxisHorizontal {
		return o.Height / 2
	}
	return o.Width / 2
}
