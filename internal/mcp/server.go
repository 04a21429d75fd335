// Package mcp exposes the season-planning workflows as MCP tools so that
// agent hosts can create plans, check status, feed actuals, and resolve
// approval gates.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"season-planner/backend/internal/orchestrator"
	"season-planner/backend/internal/repository"
	"season-planner/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	orch      *orchestrator.Orchestrator
	store     repository.WorkflowStore
}

func NewServer(orch *orchestrator.Orchestrator, store repository.WorkflowStore) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Season Planner",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		orch:  orch,
		store: store,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_season_plan",
			mcp.WithDescription("Create a season-planning workflow from a parameter context"),
			mcp.WithString("parameters", mcp.Required(), mcp.Description("JSON-encoded parameter context for the season")),
		),
		s.handleCreateSeasonPlan,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_plan_status",
			mcp.WithDescription("Get the current phase and progress of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleGetPlanStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"record_weekly_actuals",
			mcp.WithDescription("Report observed demand for one monitoring week"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithNumber("week_number", mcp.Required(), mcp.Description("The 1-based monitoring week")),
			mcp.WithNumber("actual_units", mcp.Required(), mcp.Description("Observed demand for the week")),
		),
		s.handleRecordWeeklyActuals,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"resolve_approval",
			mcp.WithDescription("Resolve a pending approval gate"),
			mcp.WithString("approval_id", mcp.Required(), mcp.Description("The ID of the pending approval request")),
			mcp.WithString("action", mcp.Required(), mcp.Description("One of accept, modify, reject")),
			mcp.WithString("modifications", mcp.Description("JSON-encoded modifications, required for modify")),
			mcp.WithString("reason", mcp.Description("Free-text reason, used for reject")),
		),
		s.handleResolveApproval,
	)
}

func (s *Server) handleCreateSeasonPlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	raw, ok := args["parameters"].(string)
	if !ok || raw == "" {
		return mcp.NewToolResultError("Missing required parameter: parameters"), nil
	}

	var params models.ParameterContext
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid parameters JSON: %v", err)), nil
	}

	wf, err := s.orch.CreateWorkflow(ctx, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create workflow: %v", err)), nil
	}

	go func() {
		_ = s.orch.Advance(context.Background(), wf.ID)
	}()

	jsonBytes, _ := json.Marshal(map[string]any{
		"workflow_id":   wf.ID,
		"status":        wf.Status,
		"current_phase": wf.CurrentPhase,
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetPlanStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["workflow_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	wf, err := s.store.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workflow: %v", err)), nil
	}

	status := map[string]any{
		"workflow_id":   wf.ID,
		"status":        wf.Status,
		"current_phase": wf.CurrentPhase,
		"progress_pct":  wf.ProgressPct,
	}
	if pending := wf.PendingApproval(); pending != nil {
		status["pending_approval_id"] = pending.ID
		status["pending_approval_kind"] = pending.Kind
	}
	if wf.Error != "" {
		status["error"] = wf.Error
	}

	jsonBytes, _ := json.Marshal(status)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRecordWeeklyActuals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["workflow_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	week, ok := args["week_number"].(float64)
	if !ok || week < 1 {
		return mcp.NewToolResultError("Missing required parameter: week_number"), nil
	}
	actual, ok := args["actual_units"].(float64)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: actual_units"), nil
	}

	record, err := s.orch.RecordActuals(ctx, id, int(week), actual, false)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record actuals: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(record)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleResolveApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["approval_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: approval_id"), nil
	}
	action, ok := args["action"].(string)
	if !ok || action == "" {
		return mcp.NewToolResultError("Missing required parameter: action"), nil
	}

	var modifications json.RawMessage
	if raw, ok := args["modifications"].(string); ok && raw != "" {
		if !json.Valid([]byte(raw)) {
			return mcp.NewToolResultError("modifications must be valid JSON"), nil
		}
		modifications = json.RawMessage(raw)
	}
	reason, _ := args["reason"].(string)

	resolved, err := s.orch.ResolveApproval(ctx, id, models.ApprovalAction(action), modifications, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve approval: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(resolved)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
