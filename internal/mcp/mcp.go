// Package mcp exposes the running city over the Model Context Protocol so
// agent tooling can inspect zones and trigger spawns while a run is live.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/citygrid/trafficsim/internal/orchestrator"
)

// Server wraps an MCP server backed by the orchestrator.
type Server struct {
	orch      *orchestrator.Orchestrator
	mcpServer *server.MCPServer
}

// NewServer creates the MCP control surface for a running city.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	s := &Server{orch: orch}
	s.initMCPServer()
	return s
}

func (s *Server) initMCPServer() {
	s.mcpServer = server.NewMCPServer(
		"TrafficSim",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`TrafficSim - sharded traffic simulation control surface

AVAILABLE TOOLS:
- list_zones: List the zone ids of the running city
- zone_snapshot: Full renderer snapshot of one zone (vehicles, lights, tick)
- trigger_spawn: Queue one manual vehicle spawn in a zone
- sim_status: Per-zone population, tick progress and bus state`),
	)

	s.registerTools()
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_zones",
		Description: "List the zone ids of the running city",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListZones)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "zone_snapshot",
		Description: "Get the full snapshot of one zone: vehicles, lights and tick counter",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"zone_id": map[string]interface{}{
					"type":        "string",
					"description": "Zone id from list_zones",
				},
			},
			Required: []string{"zone_id"},
		},
	}, s.handleZoneSnapshot)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "trigger_spawn",
		Description: "Queue one manual vehicle spawn in a zone, applied at the next tick",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"zone_id": map[string]interface{}{
					"type":        "string",
					"description": "Zone id from list_zones",
				},
			},
			Required: []string{"zone_id"},
		},
	}, s.handleTriggerSpawn)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "sim_status",
		Description: "Get per-zone population, tick progress and migration channel state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleSimStatus)
}

// GetMCPServer returns the underlying MCP server for serving.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleListZones(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := s.orch.ZoneIDs()
	return mcp.NewToolResultText(fmt.Sprintf("Zones (%d):\n%s", len(ids), strings.Join(ids, "\n"))), nil
}

func (s *Server) handleZoneSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	zoneID, _ := args["zone_id"].(string)

	view, err := s.orch.View(zoneID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleTriggerSpawn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	zoneID, _ := args["zone_id"].(string)

	if err := s.orch.TriggerSpawn(zoneID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Spawn queued in %s", zoneID)), nil
}

func (s *Server) handleSimStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := s.orch.Status()

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
