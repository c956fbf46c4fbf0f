package core

// ZoneDef describes one zone of the city layout document.
type ZoneDef struct {
	ID          string   `json:"id" yaml:"id"`
	Bounds      Rect     `json:"bounds" yaml:"bounds"`
	Adjacent    []string `json:"adjacent" yaml:"adjacent"`
	MaxVehicles int      `json:"max_vehicles,omitempty" yaml:"max_vehicles"`
}

// City is the parsed city layout document.
type City struct {
	Name      string    `json:"name" yaml:"name"`
	MapWidth  float64   `json:"map_width" yaml:"map_width"`
	MapHeight float64   `json:"map_height" yaml:"map_height"`
	Exchange  string    `json:"exchange" yaml:"exchange"`
	Palette   []string  `json:"palette,omitempty" yaml:"palette"`
	GeoAnchor *Anchor   `json:"geo_anchor,omitempty" yaml:"geo_anchor"`
	Zones     []ZoneDef `json:"zones" yaml:"zones"`
}

// Anchor ties the city plane to real-world coordinates for georeferenced
// replay exports. Optional; plane coordinates stay authoritative.
type Anchor struct {
	OriginLon     float64 `json:"origin_lon" yaml:"origin_lon"`
	OriginLat     float64 `json:"origin_lat" yaml:"origin_lat"`
	MetersPerUnit float64 `json:"meters_per_unit" yaml:"meters_per_unit"`
}

// Zone returns the zone definition with the given id.
func (c *City) Zone(id string) (ZoneDef, bool) {
	for _, z := range c.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return ZoneDef{}, false
}
