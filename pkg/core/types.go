// Package core holds the plain data types shared between the simulation,
// its storage backends, and external collaborators (renderers, viewers).
package core

// Position is a point in global map coordinates. Y grows downward.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle in global map coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the X coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the Y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Center returns the center point of the rectangle.
func (r Rect) Center() Position {
	return Position{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Contains reports whether the point lies within the rectangle.
// The left/top edges are inclusive, the right/bottom edges exclusive,
// so adjacent zone bounds partition the map without overlap.
func (r Rect) Contains(p Position) bool {
	return p.X >= r.X && p.X < r.X+r.Width &&
		p.Y >= r.Y && p.Y < r.Y+r.Height
}

// Direction is a cardinal travel direction.
type Direction string

const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// Axis names the travel axis a direction moves along.
type Axis string

const (
	AxisHorizontal Axis = "horizontal"
	AxisVertical   Axis = "vertical"
)

// Axis returns the travel axis of the direction.
func (d Direction) Axis() Axis {
	switch d {
	case DirLeft, DirRight:
		return AxisHorizontal
	default:
		return AxisVertical
	}
}

// Delta returns the unit step of the direction.
func (d Direction) Delta() (dx, dy float64) {
	switch d {
	case DirUp:
		return 0, -1
	case DirDown:
		return 0, 1
	case DirLeft:
		return -1, 0
	case DirRight:
		return 1, 0
	}
	return 0, 0
}

// Valid reports whether d is one of the four cardinal directions.
func (d Direction) Valid() bool {
	switch d {
	case DirUp, DirDown, DirLeft, DirRight:
		return true
	}
	return false
}

// Orientation names the traffic stream a light faces: a "vertical" light
// governs horizontal travel, a "horizontal" light governs vertical travel.
type Orientation string

const (
	OrientVertical   Orientation = "vertical"
	OrientHorizontal Orientation = "horizontal"
)

// Governs returns the travel axis the light's signal applies to.
func (o Orientation) Governs() Axis {
	if o == OrientVertical {
		return AxisHorizontal
	}
	return AxisVertical
}

// LightState is a traffic light signal state.
type LightState string

const (
	LightGreen  LightState = "green"
	LightYellow LightState = "yellow"
	LightRed    LightState = "red"
)

// VehicleSnapshot is the full serializable state of a vehicle. It is the
// payload of migration messages and the unit of vehicle registration in
// storage backends.
type VehicleSnapshot struct {
	ID            string    `json:"id"`
	Position      Position  `json:"position"`
	Speed         float64   `json:"speed"`
	OriginalSpeed float64   `json:"original_speed"`
	Direction     Direction `json:"direction"`
	Stopped       bool      `json:"stopped"`
	Width         float64   `json:"width"`
	Height        float64   `json:"height"`
	Color         string    `json:"color"`
}

// LightSnapshot is the drawable state of a traffic light.
type LightSnapshot struct {
	ID          string      `json:"id"`
	ZoneID      string      `json:"zone_id"`
	Position    Position    `json:"position"`
	Orientation Orientation `json:"orientation"`
	Width       float64     `json:"width"`
	Height      float64     `json:"height"`
	State       LightState  `json:"state"`
}

// ZoneView is a renderer-facing snapshot of one zone: everything needed to
// draw it without touching simulation internals.
type ZoneView struct {
	ZoneID        string            `json:"zone_id"`
	Bounds        Rect              `json:"bounds"`
	Tick          uint64            `json:"tick"`
	Vehicles      []VehicleSnapshot `json:"vehicles"`
	Lights        []LightSnapshot   `json:"lights"`
	PendingSpawns int               `json:"pending_spawns"`
}
