// Package cache holds the observer-side city index: which zone owns each
// vehicle right now, per-zone counts and tick progress. Latency here is
// critical because the worker handlers consult it on every recorded event.
package cache

import "sync"

// CityIndex tracks vehicle ownership across zones as recorded events
// arrive. It is the recorder's view; zone actors keep their own state.
type CityIndex struct {
	mu     sync.RWMutex
	owners map[string]string // vehicle id → owning zone
	counts map[string]int    // zone id → vehicle count
	ticks  map[string]uint64 // zone id → last tick seen
}

// NewCityIndex creates an empty index.
func NewCityIndex() *CityIndex {
	return &CityIndex{
		owners: make(map[string]string),
		counts: make(map[string]int),
		ticks:  make(map[string]uint64),
	}
}

// Reset clears the index for a new run.
func (c *CityIndex) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners = make(map[string]string)
	c.counts = make(map[string]int)
	c.ticks = make(map[string]uint64)
}

// SetOwner records the zone owning a vehicle, adjusting zone counts when
// the vehicle moves between zones.
func (c *CityIndex) SetOwner(vehicleID, zoneID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.owners[vehicleID]; ok {
		if prev == zoneID {
			return
		}
		c.counts[prev]--
	}
	c.owners[vehicleID] = zoneID
	c.counts[zoneID]++
}

// Remove drops a despawned vehicle from the index.
func (c *CityIndex) Remove(vehicleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if zoneID, ok := c.owners[vehicleID]; ok {
		c.counts[zoneID]--
		delete(c.owners, vehicleID)
	}
}

// Owner returns the zone owning a vehicle.
func (c *CityIndex) Owner(vehicleID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	zoneID, ok := c.owners[vehicleID]
	return zoneID, ok
}

// Count returns the number of vehicles owned by a zone.
func (c *CityIndex) Count(zoneID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[zoneID]
}

// Counts returns a copy of the per-zone vehicle counts.
func (c *CityIndex) Counts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int, len(c.counts))
	for zoneID, n := range c.counts {
		out[zoneID] = n
	}
	return out
}

// Total returns how many vehicles the index currently tracks.
func (c *CityIndex) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.owners)
}

// SetTick records a zone's tick progress.
func (c *CityIndex) SetTick(zoneID string, tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks[zoneID] = tick
}

// Ticks returns a copy of the per-zone tick counters.
func (c *CityIndex) Ticks() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]uint64, len(c.ticks))
	for zoneID, tick := range c.ticks {
		out[zoneID] = tick
	}
	return out
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}
