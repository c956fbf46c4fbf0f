// Package geo derives per-zone road geometry from zone bounds and anchors
// the city plane to real-world coordinates for georeferenced exports.
//
// All derived geometry is zone-local: (0,0) is the zone's top-left corner
// and Y grows downward. The zone actor adds its global offset when it needs
// map coordinates.
package geo

import (
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/citygrid/trafficsim/pkg/core"
)

const (
	// RoadWidth is the full width of every road, two lanes each way.
	RoadWidth = 60.0

	// Lane center offsets within a road, as fractions of RoadWidth.
	laneNear = 0.25
	laneFar  = 0.75

	// VehicleBuffer insets spawn points from the zone edge.
	VehicleBuffer = 20.0

	// CarLength approximates a vehicle footprint along its travel axis.
	CarLength = 30.0

	// Light housing dimensions: 12 across the road, 36 along it.
	LightShort = 12.0
	LightLong  = 36.0

	// Gap between the intersection edge and a light housing.
	lightNearGap = 5.0
	lightFarGap  = 17.0

	// Phase offsets for the two perpendicular light pairs. 0.55 keeps the
	// crossing pair out of green while the first pair holds it.
	OffsetEastWest   = 0.0
	OffsetNorthSouth = 0.55
)

// LightPlacement positions one traffic light at an intersection approach.
type LightPlacement struct {
	ID          string
	Position    core.Position // housing center, zone-local
	Orientation core.Orientation
	Width       float64
	Height      float64
	Offset      float64 // phase offset factor within the cycle
}

// SpawnPoint is an edge entry point for new vehicles.
type SpawnPoint struct {
	Position  core.Position // zone-local
	Direction core.Direction
}

// ZoneGeometry is the derived road layout of one zone: one horizontal and
// one vertical road crossing at a central intersection, four lights at the
// approaches, and four edge spawn points. Pure function of the bounds.
type ZoneGeometry struct {
	HRoad        core.Rect
	VRoad        core.Rect
	Intersection core.Rect
	Lights       []LightPlacement
	SpawnPoints  []SpawnPoint
}

// Derive computes the road geometry for a zone with the given bounds.
// zoneID namespaces the light identifiers.
func Derive(zoneID string, bounds core.Rect) ZoneGeometry {
	w, h := bounds.Width, bounds.Height

	hRoad := core.Rect{X: 0, Y: h/2 - RoadWidth/2, Width: w, Height: RoadWidth}
	vRoad := core.Rect{X: w/2 - RoadWidth/2, Y: 0, Width: RoadWidth, Height: h}
	ix := core.Rect{X: vRoad.X, Y: hRoad.Y, Width: RoadWidth, Height: RoadWidth}

	// Lane centers. Right-hand traffic with Y growing down: eastbound
	// takes the far (lower) lane, westbound the near one; southbound the
	// near (left) lane, northbound the far one.
	eastLaneY := hRoad.Y + RoadWidth*laneFar
	westLaneY := hRoad.Y + RoadWidth*laneNear
	southLaneX := vRoad.X + RoadWidth*laneNear
	northLaneX := vRoad.X + RoadWidth*laneFar

	lights := []LightPlacement{
		{
			// Governs eastbound traffic; sits just before the intersection.
			ID:          fmt.Sprintf("light_%s_w", zoneID),
			Position:    core.Position{X: ix.X - lightFarGap, Y: eastLaneY},
			Orientation: core.OrientVertical,
			Width:       LightShort,
			Height:      LightLong,
			Offset:      OffsetEastWest,
		},
		{
			// Governs westbound traffic.
			ID:          fmt.Sprintf("light_%s_e", zoneID),
			Position:    core.Position{X: ix.Right() + lightNearGap, Y: westLaneY},
			Orientation: core.OrientVertical,
			Width:       LightShort,
			Height:      LightLong,
			Offset:      OffsetEastWest,
		},
		{
			// Governs southbound traffic.
			ID:          fmt.Sprintf("light_%s_n", zoneID),
			Position:    core.Position{X: southLaneX, Y: ix.Y - lightFarGap},
			Orientation: core.OrientHorizontal,
			Width:       LightLong,
			Height:      LightShort,
			Offset:      OffsetNorthSouth,
		},
		{
			// Governs northbound traffic.
			ID:          fmt.Sprintf("light_%s_s", zoneID),
			Position:    core.Position{X: northLaneX, Y: ix.Bottom() + lightNearGap},
			Orientation: core.OrientHorizontal,
			Width:       LightLong,
			Height:      LightShort,
			Offset:      OffsetNorthSouth,
		},
	}

	inset := VehicleBuffer + CarLength/2
	spawns := []SpawnPoint{
		{Position: core.Position{X: inset, Y: eastLaneY}, Direction: core.DirRight},
		{Position: core.Position{X: w - inset, Y: westLaneY}, Direction: core.DirLeft},
		{Position: core.Position{X: southLaneX, Y: inset}, Direction: core.DirDown},
		{Position: core.Position{X: northLaneX, Y: h - inset}, Direction: core.DirUp},
	}

	return ZoneGeometry{
		HRoad:        hRoad,
		VRoad:        vRoad,
		Intersection: ix,
		Lights:       lights,
		SpawnPoints:  spawns,
	}
}

// OnRoad reports whether a zone-local point lies on either road.
func (g ZoneGeometry) OnRoad(p core.Position) bool {
	xy := geom.XY{X: p.X, Y: p.Y}
	return envelopeOf(g.HRoad).Contains(xy) || envelopeOf(g.VRoad).Contains(xy)
}

// envelopeOf converts a rect to a simplefeatures envelope.
func envelopeOf(r core.Rect) geom.Envelope {
	env, _ := geom.NewEnvelope([]geom.XY{
		{X: r.X, Y: r.Y},
		{X: r.Right(), Y: r.Bottom()},
	})
	return env
}
