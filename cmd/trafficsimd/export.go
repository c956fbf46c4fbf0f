package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"

	"github.com/citygrid/trafficsim/internal/config"
	"github.com/citygrid/trafficsim/internal/database"
	"github.com/citygrid/trafficsim/internal/geo"
	"github.com/citygrid/trafficsim/internal/model"
	"github.com/citygrid/trafficsim/internal/storage/memory"
	"github.com/citygrid/trafficsim/pkg/core"
)

// exportAction rebuilds a replay file from the journal database. This is
// the offline path for runs recorded with the postgres or sqlite backends;
// the memory backend writes its replay directly at run end.
func exportAction(ctx context.Context, cmd *cli.Command) error {
	if err := config.Load(cmd.String("config")); err != nil {
		fmt.Printf("config: using defaults (%v)\n", err)
	}

	zlog := zerolog.New(os.Stderr).With().Timestamp().Str("component", "database").Logger()
	manager := database.NewManager(zlog)
	if err := manager.Connect(); err != nil {
		return fmt.Errorf("failed to connect to journal database: %w", err)
	}

	runRow, err := findRun(manager.DB, cmd.String("run-id"))
	if err != nil {
		return err
	}

	export, err := buildReplay(manager.DB, runRow)
	if err != nil {
		return err
	}

	path, err := writeReplay(cmd.String("output"), runRow, export)
	if err != nil {
		return err
	}

	fmt.Printf("exported run %s: %d vehicles, %d lights, %d events -> %s\n",
		runRow.RunID, len(export.Vehicles), len(export.Lights), len(export.Events), path)
	return nil
}

func findRun(db *gorm.DB, runID string) (model.Run, error) {
	var row model.Run
	var err error

	if runID != "" {
		err = db.Where("run_id = ?", runID).First(&row).Error
	} else {
		err = db.Order("start_time desc").First(&row).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, fmt.Errorf("no matching run in journal")
	}
	if err != nil {
		return row, fmt.Errorf("failed to look up run: %w", err)
	}
	return row, nil
}

// buildReplay assembles the viewer JSON document from the journal rows,
// in the same shape the memory backend writes at run end.
func buildReplay(db *gorm.DB, runRow model.Run) (memory.ReplayExport, error) {
	export := memory.ReplayExport{
		FormatVersion: 1,
		RunID:         runRow.RunID,
		CityName:      runRow.CityName,
		Seed:          runRow.Seed,
		Vehicles:      make([]memory.VehicleJSON, 0),
		Lights:        make([]memory.LightJSON, 0),
		Events:        make([][]any, 0),
	}

	if len(runRow.Layout) > 0 {
		city := &core.City{}
		if err := json.Unmarshal(runRow.Layout, city); err == nil {
			export.Layout = city
			if ref := geo.NewGeoref(city.GeoAnchor); ref != nil {
				x, y := ref.To3857(core.Position{})
				export.Origin3857 = []float64{x, y}
			}
		}
	}

	var maxTick uint64

	var vehicles []model.Vehicle
	if err := db.Where("run_id = ?", runRow.ID).Order("id").Find(&vehicles).Error; err != nil {
		return export, fmt.Errorf("failed to load vehicles: %w", err)
	}

	var states []model.VehicleState
	if err := db.Where("run_id = ?", runRow.ID).Order("tick").Find(&states).Error; err != nil {
		return export, fmt.Errorf("failed to load vehicle states: %w", err)
	}
	positions := make(map[string][][]any, len(vehicles))
	for _, s := range states {
		positions[s.VehicleID] = append(positions[s.VehicleID], []any{
			s.Tick,
			[]float64{s.X, s.Y},
			s.Speed,
			boolToInt(s.Stopped),
			s.ZoneID,
		})
		if s.Tick > maxTick {
			maxTick = s.Tick
		}
	}

	for _, v := range vehicles {
		track := memory.VehicleJSON{
			ID:        v.VehicleID,
			ZoneID:    v.ZoneID,
			StartTick: v.SpawnTick,
			Direction: v.Direction,
			Color:     v.Color,
			Width:     v.Width,
			Height:    v.Height,
			Positions: positions[v.VehicleID],
		}
		if track.Positions == nil {
			track.Positions = make([][]any, 0)
		}
		export.Vehicles = append(export.Vehicles, track)
	}

	var lightChanges []model.LightChange
	if err := db.Where("run_id = ?", runRow.ID).Order("tick").Find(&lightChanges).Error; err != nil {
		return export, fmt.Errorf("failed to load light changes: %w", err)
	}
	lightIndex := make(map[string]int)
	for _, c := range lightChanges {
		idx, ok := lightIndex[c.LightID]
		if !ok {
			idx = len(export.Lights)
			lightIndex[c.LightID] = idx
			export.Lights = append(export.Lights, memory.LightJSON{
				ID:      c.LightID,
				ZoneID:  c.ZoneID,
				Changes: make([][]any, 0),
			})
		}
		export.Lights[idx].Changes = append(export.Lights[idx].Changes, []any{c.Tick, c.State})
		if c.Tick > maxTick {
			maxTick = c.Tick
		}
	}

	var spawns []model.SpawnEvent
	if err := db.Where("run_id = ?", runRow.ID).Order("tick").Find(&spawns).Error; err != nil {
		return export, fmt.Errorf("failed to load spawn events: %w", err)
	}
	for _, e := range spawns {
		export.Events = append(export.Events, []any{e.Tick, "spawned", e.VehicleID, e.ZoneID, boolToInt(e.Manual)})
		if e.Tick > maxTick {
			maxTick = e.Tick
		}
	}

	var migrations []model.MigrationEvent
	if err := db.Where("run_id = ?", runRow.ID).Order("tick").Find(&migrations).Error; err != nil {
		return export, fmt.Errorf("failed to load migration events: %w", err)
	}
	for _, e := range migrations {
		export.Events = append(export.Events, []any{e.Tick, "migrated", e.VehicleID, e.FromZone, e.ToZone})
		if e.Tick > maxTick {
			maxTick = e.Tick
		}
	}

	var despawns []model.DespawnEvent
	if err := db.Where("run_id = ?", runRow.ID).Order("tick").Find(&despawns).Error; err != nil {
		return export, fmt.Errorf("failed to load despawn events: %w", err)
	}
	for _, e := range despawns {
		export.Events = append(export.Events, []any{e.Tick, "despawned", e.VehicleID, e.ZoneID, e.Reason})
		if e.Tick > maxTick {
			maxTick = e.Tick
		}
	}

	export.EndTick = maxTick
	return export, nil
}

func writeReplay(outputDir string, runRow model.Run, export memory.ReplayExport) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	cityName := strings.ReplaceAll(runRow.CityName, " ", "_")
	cityName = strings.ReplaceAll(cityName, ":", "_")
	filename := fmt.Sprintf("%s_%s.json.gz", cityName, runRow.StartTime.Format("20060102_150405"))
	path := filepath.Join(outputDir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create replay file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	if err := json.NewEncoder(gzWriter).Encode(export); err != nil {
		return "", fmt.Errorf("failed to encode replay: %w", err)
	}
	return path, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
