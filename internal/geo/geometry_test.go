package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid/trafficsim/pkg/core"
)

func TestDerive_Roads(t *testing.T) {
	g := Derive("zone_a", core.Rect{X: 0, Y: 0, Width: 400, Height: 300})

	assert.Equal(t, core.Rect{X: 0, Y: 120, Width: 400, Height: 60}, g.HRoad)
	assert.Equal(t, core.Rect{X: 170, Y: 0, Width: 60, Height: 300}, g.VRoad)
	assert.Equal(t, core.Rect{X: 170, Y: 120, Width: 60, Height: 60}, g.Intersection)
}

func TestDerive_Lights(t *testing.T) {
	g := Derive("zone_a", core.Rect{X: 0, Y: 0, Width: 400, Height: 300})
	require.Len(t, g.Lights, 4)

	byID := map[string]LightPlacement{}
	for _, l := range g.Lights {
		byID[l.ID] = l
	}

	west := byID["light_zone_a_w"]
	assert.Equal(t, core.OrientVertical, west.Orientation)
	assert.Equal(t, OffsetEastWest, west.Offset)
	assert.Equal(t, 153.0, west.Position.X) // intersection left - 17
	assert.Equal(t, 165.0, west.Position.Y) // eastbound lane center

	east := byID["light_zone_a_e"]
	assert.Equal(t, 235.0, east.Position.X) // intersection right + 5
	assert.Equal(t, 135.0, east.Position.Y) // westbound lane center

	north := byID["light_zone_a_n"]
	assert.Equal(t, core.OrientHorizontal, north.Orientation)
	assert.Equal(t, OffsetNorthSouth, north.Offset)
	assert.Equal(t, 103.0, north.Position.Y) // intersection top - 17

	south := byID["light_zone_a_s"]
	assert.Equal(t, 185.0, south.Position.Y) // intersection bottom + 5

	// Housing dimensions follow orientation.
	assert.Equal(t, LightShort, west.Width)
	assert.Equal(t, LightLong, west.Height)
	assert.Equal(t, LightLong, north.Width)
	assert.Equal(t, LightShort, north.Height)
}

func TestDerive_SpawnPoints(t *testing.T) {
	g := Derive("zone_a", core.Rect{X: 0, Y: 0, Width: 400, Height: 300})
	require.Len(t, g.SpawnPoints, 4)

	byDir := map[core.Direction]SpawnPoint{}
	for _, sp := range g.SpawnPoints {
		byDir[sp.Direction] = sp
	}

	right := byDir[core.DirRight]
	assert.Equal(t, 35.0, right.Position.X) // buffer 20 + half car length
	assert.Equal(t, 165.0, right.Position.Y)

	left := byDir[core.DirLeft]
	assert.Equal(t, 365.0, left.Position.X)

	down := byDir[core.DirDown]
	assert.Equal(t, 35.0, down.Position.Y)

	up := byDir[core.DirUp]
	assert.Equal(t, 265.0, up.Position.Y)

	// Every spawn point sits on a road.
	for dir, sp := range byDir {
		assert.True(t, g.OnRoad(sp.Position), "spawn point for %s off road", dir)
	}
}

func TestOnRoad(t *testing.T) {
	g := Derive("z", core.Rect{X: 0, Y: 0, Width: 400, Height: 300})

	assert.True(t, g.OnRoad(core.Position{X: 10, Y: 150}))  // horizontal road
	assert.True(t, g.OnRoad(core.Position{X: 200, Y: 10}))  // vertical road
	assert.True(t, g.OnRoad(core.Position{X: 200, Y: 150})) // intersection
	assert.False(t, g.OnRoad(core.Position{X: 10, Y: 10}))  // block corner
}

func TestNewGeoref(t *testing.T) {
	assert.Nil(t, NewGeoref(nil))

	g := NewGeoref(&core.Anchor{OriginLon: 0, OriginLat: 0, MetersPerUnit: 2})
	require.NotNil(t, g)

	// At the null island anchor, 3857 coordinates scale linearly from the
	// plane; Y is flipped because the plane grows downward.
	x, y := g.To3857(core.Position{X: 100, Y: 50})
	assert.InDelta(t, 200, x, 0.001)
	assert.InDelta(t, -100, y, 0.001)

	lon, lat := g.To4326(core.Position{X: 0, Y: 0})
	assert.InDelta(t, 0, lon, 0.0001)
	assert.InDelta(t, 0, lat, 0.0001)
}
