package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/citygrid/trafficsim/internal/geo"
	"github.com/citygrid/trafficsim/pkg/core"
)

// ReplayExport is the root JSON structure read by the viewer frontend.
type ReplayExport struct {
	FormatVersion int        `json:"formatVersion"`
	RunID         string     `json:"runId"`
	CityName      string     `json:"cityName"`
	Seed          int64      `json:"seed"`
	EndTick       uint64     `json:"endTick"`
	Layout        *core.City `json:"layout,omitempty"`
	// Origin3857 is the geo anchor projected to web mercator, set when
	// the layout carries one so the viewer can overlay real map tiles.
	Origin3857 []float64     `json:"origin3857,omitempty"`
	Vehicles   []VehicleJSON `json:"vehicles"`
	Lights     []LightJSON   `json:"lights"`
	Events     [][]any       `json:"events"`
}

// VehicleJSON is one vehicle's replay track.
type VehicleJSON struct {
	ID        string  `json:"id"`
	ZoneID    string  `json:"zoneId"`
	StartTick uint64  `json:"startTick"`
	Direction string  `json:"direction"`
	Color     string  `json:"color"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Positions [][]any `json:"positions"`
}

// LightJSON is one light's transition track.
type LightJSON struct {
	ID      string  `json:"id"`
	ZoneID  string  `json:"zoneId"`
	Changes [][]any `json:"changes"`
}

// exportJSON writes the run data to a (optionally gzipped) JSON file.
// Caller holds the mutex.
func (b *Backend) exportJSON() error {
	if b.run == nil {
		return fmt.Errorf("no run to export")
	}

	export := b.buildExport()

	cityName := strings.ReplaceAll(b.run.CityName, " ", "_")
	cityName = strings.ReplaceAll(cityName, ":", "_")
	timestamp := b.run.StartTime.Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", cityName, timestamp)
	} else {
		filename = fmt.Sprintf("%s_%s.json", cityName, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() ReplayExport {
	export := ReplayExport{
		FormatVersion: 1,
		RunID:         b.run.RunID,
		CityName:      b.run.CityName,
		Seed:          b.run.Seed,
		Layout:        b.city,
		Vehicles:      make([]VehicleJSON, 0, len(b.order)),
		Lights:        make([]LightJSON, 0),
		Events:        make([][]any, 0),
	}

	if b.city != nil {
		if ref := geo.NewGeoref(b.city.GeoAnchor); ref != nil {
			x, y := ref.To3857(core.Position{})
			export.Origin3857 = []float64{x, y}
		}
	}

	var maxTick uint64

	// Vehicle tracks, in registration order
	for _, id := range b.order {
		record := b.vehicles[id]
		track := VehicleJSON{
			ID:        record.Vehicle.ID,
			ZoneID:    record.ZoneID,
			StartTick: record.SpawnTick,
			Direction: string(record.Vehicle.Direction),
			Color:     record.Vehicle.Color,
			Width:     record.Vehicle.Width,
			Height:    record.Vehicle.Height,
			Positions: make([][]any, 0, len(record.States)),
		}

		for _, state := range record.States {
			pos := []any{
				state.Tick,
				[]float64{state.Position.X, state.Position.Y},
				state.Speed,
				boolToInt(state.Stopped),
				state.ZoneID,
			}
			track.Positions = append(track.Positions, pos)
			if state.Tick > maxTick {
				maxTick = state.Tick
			}
		}

		export.Vehicles = append(export.Vehicles, track)
	}

	// Light tracks, grouped by light id in first-seen order
	lightIndex := make(map[string]int)
	for _, change := range b.lightChanges {
		idx, ok := lightIndex[change.LightID]
		if !ok {
			idx = len(export.Lights)
			lightIndex[change.LightID] = idx
			export.Lights = append(export.Lights, LightJSON{
				ID:      change.LightID,
				ZoneID:  change.ZoneID,
				Changes: make([][]any, 0),
			})
		}
		export.Lights[idx].Changes = append(export.Lights[idx].Changes,
			[]any{change.Tick, string(change.State)})
		if change.Tick > maxTick {
			maxTick = change.Tick
		}
	}

	// Events
	// Format: [tick, "spawned", vehicleId, zone, manual]
	for _, evt := range b.spawns {
		export.Events = append(export.Events, []any{
			evt.Tick,
			"spawned",
			evt.Snapshot.ID,
			evt.ZoneID,
			boolToInt(evt.Manual),
		})
		if evt.Tick > maxTick {
			maxTick = evt.Tick
		}
	}

	// Format: [tick, "migrated", vehicleId, fromZone, toZone]
	for _, evt := range b.migrations {
		export.Events = append(export.Events, []any{
			evt.Tick,
			"migrated",
			evt.VehicleID,
			evt.FromZone,
			evt.ToZone,
		})
		if evt.Tick > maxTick {
			maxTick = evt.Tick
		}
	}

	// Format: [tick, "despawned", vehicleId, zone, reason]
	for _, evt := range b.despawns {
		export.Events = append(export.Events, []any{
			evt.Tick,
			"despawned",
			evt.VehicleID,
			evt.ZoneID,
			evt.Reason,
		})
		if evt.Tick > maxTick {
			maxTick = evt.Tick
		}
	}

	export.EndTick = maxTick
	return export
}

// Snapshot is the full journal state written by exportSnapshot. It
// keeps everything the replay export drops (tick samples, raw migration
// snapshots) for offline analysis.
type Snapshot struct {
	Run          *core.Run                 `json:"run"`
	City         *core.City                `json:"city"`
	Vehicles     map[string]*VehicleRecord `json:"vehicles"`
	LightChanges []core.LightChange        `json:"light_changes"`
	Migrations   []core.MigrationEvent     `json:"migrations"`
	Spawns       []core.SpawnEvent         `json:"spawns"`
	Despawns     []core.DespawnEvent       `json:"despawns"`
	Samples      []core.TickSample         `json:"samples"`
}

// exportSnapshot writes the full journal state as zstd-compressed JSON.
// Caller holds the mutex.
func (b *Backend) exportSnapshot() error {
	state := Snapshot{
		Run:          b.run,
		City:         b.city,
		Vehicles:     b.vehicles,
		LightChanges: b.lightChanges,
		Migrations:   b.migrations,
		Spawns:       b.spawns,
		Despawns:     b.despawns,
		Samples:      b.samples,
	}

	if dir := filepath.Dir(b.cfg.SnapshotPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	f, err := os.Create(b.cfg.SnapshotPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer zw.Close()

	return json.NewEncoder(zw).Encode(state)
}

// ReadSnapshot loads a zstd snapshot written by exportSnapshot.
func ReadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var state Snapshot
	if err := json.NewDecoder(zr.IOReadCloser()).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &state, nil
}

func writeJSON(path string, data ReplayExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data ReplayExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	return json.NewEncoder(gzWriter).Encode(data)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
