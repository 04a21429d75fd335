package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"season-planner/backend/internal/logging"
	"season-planner/backend/internal/orchestrator"
	"season-planner/backend/internal/repository"
	"season-planner/backend/internal/services"
	"season-planner/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Orch        *orchestrator.Orchestrator
	Store       repository.WorkflowStore
	Broadcaster *services.Broadcaster
	Extractor   services.ParameterExtractor
	Logger      *logging.Logger
}

// NewServer creates a new Server.
func NewServer(orch *orchestrator.Orchestrator, store repository.WorkflowStore,
	broadcaster *services.Broadcaster, extractor services.ParameterExtractor, logger *logging.Logger) *Server {
	return &Server{Orch: orch, Store: store, Broadcaster: broadcaster, Extractor: extractor, Logger: logger}
}

// RegisterRoutes mounts all Control API routes on the group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/workflows", s.CreateWorkflow)
	g.POST("/workflows/extract", s.CreateWorkflowFromText)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.GET("/workflows/:id/results", s.GetWorkflowResults)
	g.POST("/workflows/:id/actuals", s.RecordActuals)
	g.POST("/workflows/:id/cancel", s.CancelWorkflow)
	g.GET("/workflows/:id/events", s.StreamEvents)
	g.POST("/approvals/:id/resolve", s.ResolveApproval)
}

// CreateWorkflow creates a workflow from a confirmed ParameterContext.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var params models.ParameterContext
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	wf, err := s.Orch.CreateWorkflow(c.Request().Context(), params)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.startWorkflow(wf.ID)

	return c.JSON(http.StatusCreated, statusResponse(wf))
}

// ExtractRequest is a free-text season description.
type ExtractRequest struct {
	Text string `json:"text"`
}

// CreateWorkflowFromText extracts parameters from a free-text description and
// creates a workflow from the validated candidate.
// (POST /api/v1/workflows/extract)
func (s *Server) CreateWorkflowFromText(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	candidate, err := s.Extractor.Extract(c.Request().Context(), req.Text)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "parameter extraction failed: "+err.Error())
	}

	wf, err := s.Orch.CreateWorkflow(c.Request().Context(), *candidate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.startWorkflow(wf.ID)

	return c.JSON(http.StatusCreated, statusResponse(wf))
}

// ListWorkflows returns all workflows.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.Store.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, workflows)
}

// WorkflowStatusResponse is the status view of a workflow.
type WorkflowStatusResponse struct {
	ID           string                `json:"id"`
	Status       models.WorkflowStatus `json:"status"`
	CurrentPhase models.Phase          `json:"current_phase"`
	ProgressPct  int                   `json:"progress_pct"`
	Error        string                `json:"error,omitempty"`
}

func statusResponse(wf *models.Workflow) WorkflowStatusResponse {
	return WorkflowStatusResponse{
		ID:           wf.ID,
		Status:       wf.Status,
		CurrentPhase: wf.CurrentPhase,
		ProgressPct:  wf.ProgressPct,
		Error:        wf.Error,
	}
}

// GetWorkflow returns the current status of one workflow.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, statusResponse(wf))
}

// GetWorkflowResults returns the phase outputs once the workflow completed.
// (GET /api/v1/workflows/:id/results)
func (s *Server) GetWorkflowResults(c echo.Context) error {
	wf, err := s.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if wf.Status != models.WorkflowStatusCompleted {
		return echo.NewHTTPError(http.StatusConflict,
			"workflow has not completed; status is "+string(wf.Status))
	}
	return c.JSON(http.StatusOK, models.Results{
		Forecast:   wf.Forecast,
		Allocation: wf.Allocation,
		Markdown:   wf.Markdown,
		Variance:   wf.VarianceHistory,
	})
}

// ActualsRequest reports observed demand for one monitoring week.
type ActualsRequest struct {
	WeekNumber  int     `json:"week_number"`
	ActualUnits float64 `json:"actual_units"`
	// Correction replaces an already-recorded week instead of rejecting it.
	Correction bool `json:"correction"`
}

// RecordActuals ingests weekly actuals and advances monitoring.
// (POST /api/v1/workflows/:id/actuals)
func (s *Server) RecordActuals(c echo.Context) error {
	var req ActualsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	record, err := s.Orch.RecordActuals(c.Request().Context(), c.Param("id"),
		req.WeekNumber, req.ActualUnits, req.Correction)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, record)
}

// CancelWorkflow cancels a workflow at the next transition boundary.
// (POST /api/v1/workflows/:id/cancel)
func (s *Server) CancelWorkflow(c echo.Context) error {
	if err := s.Orch.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return mapError(err)
	}
	wf, err := s.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, statusResponse(wf))
}

// ResolveRequest is a human decision on a pending approval request.
type ResolveRequest struct {
	Action        models.ApprovalAction `json:"action"`
	Modifications json.RawMessage       `json:"modifications,omitempty"`
	Reason        string                `json:"reason,omitempty"`
}

// ResolveApproval applies an approval decision and resumes the workflow.
// (POST /api/v1/approvals/:id/resolve)
func (s *Server) ResolveApproval(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	request, err := s.Orch.ResolveApproval(c.Request().Context(), c.Param("id"),
		req.Action, req.Modifications, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, request)
}

// startWorkflow drives the state machine in the background; the HTTP request
// returns as soon as the record is durable.
func (s *Server) startWorkflow(id string) {
	go func() {
		if err := s.Orch.Advance(context.Background(), id); err != nil {
			s.Logger.Error("workflow advance failed", "workflow_id", id, "error", err)
		}
	}()
}

// mapError translates domain errors to HTTP status codes.
func mapError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrDuplicateWeek),
		errors.Is(err, services.ErrPendingApproval),
		errors.Is(err, services.ErrApprovalResolved),
		errors.Is(err, orchestrator.ErrNotMonitoring),
		errors.Is(err, orchestrator.ErrTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
