package geo

import (
	"github.com/wroge/wgs84"

	"github.com/citygrid/trafficsim/pkg/core"
)

// Georef converts city plane coordinates to projected real-world
// coordinates using a configured anchor. The plane's Y axis grows
// downward; north is negative Y.
type Georef struct {
	anchor  core.Anchor
	originX float64 // anchor origin in EPSG:3857
	originY float64
}

// NewGeoref builds a converter for the given anchor. Returns nil when no
// anchor is configured, which disables georeferencing.
func NewGeoref(anchor *core.Anchor) *Georef {
	if anchor == nil {
		return nil
	}
	to3857 := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := to3857(anchor.OriginLon, anchor.OriginLat, 0)
	return &Georef{anchor: *anchor, originX: x, originY: y}
}

// To3857 projects a plane position to EPSG:3857 (web mercator) meters.
func (g *Georef) To3857(p core.Position) (x, y float64) {
	return g.originX + p.X*g.anchor.MetersPerUnit,
		g.originY - p.Y*g.anchor.MetersPerUnit
}

// To4326 projects a plane position to longitude/latitude.
func (g *Georef) To4326(p core.Position) (lon, lat float64) {
	x, y := g.To3857(p)
	to4326 := wgs84.EPSG().Transform(3857, 4326)
	lon, lat, _ = to4326(x, y, 0)
	return lon, lat
}
