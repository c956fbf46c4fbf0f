// Package util provides small helpers shared across the simulator.
package util

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// VehicleID builds a vehicle identifier in the form veh_<zone>_<4 hex>.
// Uniqueness within a run is good enough; the zone prefix keeps collisions
// across zones impossible and ids readable in logs.
func VehicleID(zoneID string, r *rand.Rand) string {
	return fmt.Sprintf("veh_%s_%04x", zoneID, r.Intn(0x10000))
}

// ZoneSeed derives a per-zone RNG seed from the global run seed, so two
// runs with the same seed produce identical per-zone streams regardless of
// zone start order.
func ZoneSeed(seed int64, zoneID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(zoneID))
	return seed ^ int64(h.Sum64())
}

// RoundTiming converts a cycle-length ratio to a whole tick count.
func RoundTiming(cycle int, ratio float64) int {
	return int(float64(cycle)*ratio + 0.5)
}

// SanitizeFileName replaces characters that are unsafe in file names.
func SanitizeFileName(s string) string {
	out := []rune(s)
	for i, c := range out {
		switch c {
		case ' ', ':', '/', '\\':
			out[i] = '_'
		}
	}
	return string(out)
}
