package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid/trafficsim/internal/bus"
	"github.com/citygrid/trafficsim/internal/config"
	"github.com/citygrid/trafficsim/internal/orchestrator"
	"github.com/citygrid/trafficsim/pkg/core"
)

type nopObserver struct{}

func (nopObserver) VehicleSpawned(core.SpawnEvent)        {}
func (nopObserver) VehicleDespawned(core.DespawnEvent)    {}
func (nopObserver) VehicleStateChanged(core.VehicleState) {}
func (nopObserver) VehicleMigrated(core.MigrationEvent)   {}
func (nopObserver) LightChanged(core.LightChange)         {}
func (nopObserver) TickCompleted(core.TickSample)         {}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	city := &core.City{
		Name:      "testville",
		MapWidth:  400,
		MapHeight: 300,
		Zones: []core.ZoneDef{
			{ID: "zone_a", Bounds: core.Rect{X: 0, Y: 0, Width: 200, Height: 300}, Adjacent: []string{"zone_b"}},
			{ID: "zone_b", Bounds: core.Rect{X: 200, Y: 0, Width: 200, Height: 300}, Adjacent: []string{"zone_a"}},
		},
	}
	orch, err := orchestrator.New(city, config.SimConfig{TickRate: 60, Seed: 7}, config.DefaultTuning(), orchestrator.Dependencies{
		Bus:      bus.NewInproc(),
		Observer: nopObserver{},
	})
	require.NoError(t, err)
	return NewServer(orch)
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestListZones(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleListZones(context.Background(), callRequest("list_zones", nil))
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "zone_a")
	assert.Contains(t, text, "zone_b")
}

func TestZoneSnapshot(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleZoneSnapshot(context.Background(),
		callRequest("zone_snapshot", map[string]interface{}{"zone_id": "zone_a"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var view core.ZoneView
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &view))
	assert.Equal(t, "zone_a", view.ZoneID)
	assert.Len(t, view.Lights, 4)
}

func TestZoneSnapshot_UnknownZone(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleZoneSnapshot(context.Background(),
		callRequest("zone_snapshot", map[string]interface{}{"zone_id": "zone_ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTriggerSpawn(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleTriggerSpawn(context.Background(),
		callRequest("trigger_spawn", map[string]interface{}{"zone_id": "zone_b"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	view, err := s.orch.View("zone_b")
	require.NoError(t, err)
	assert.Equal(t, 1, view.PendingSpawns)
}

func TestSimStatus(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleSimStatus(context.Background(), callRequest("sim_status", nil))
	require.NoError(t, err)

	var status orchestrator.Status
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &status))
	assert.False(t, status.Running)
	assert.Len(t, status.Zones, 2)
}
