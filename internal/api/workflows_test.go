package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"season-planner/backend/internal/logging"
	"season-planner/backend/internal/orchestrator"
	"season-planner/backend/internal/repository"
	"season-planner/backend/internal/services"
	"season-planner/backend/pkg/models"
)

type stubAgents struct{}

func (stubAgents) Forecast(ctx context.Context, s services.ContextSnapshot) (*models.ForecastResult, error) {
	weeks := s.Parameters.ForecastHorizonWeeks
	byWeek := make([]float64, weeks)
	for i := range byWeek {
		byWeek[i] = 1000
	}
	return &models.ForecastResult{TotalDemand: 1000 * float64(weeks), ForecastByWeek: byWeek}, nil
}

func (stubAgents) Allocate(ctx context.Context, s services.ContextSnapshot) (*models.AllocationResult, error) {
	return &models.AllocationResult{ManufacturingOrder: json.RawMessage(`{"total_units":12000}`)}, nil
}

func (stubAgents) EvaluateMarkdown(ctx context.Context, s services.ContextSnapshot) (*models.MarkdownResult, error) {
	return &models.MarkdownResult{Decision: "hold"}, nil
}

func (stubAgents) Extract(ctx context.Context, text string) (*models.ParameterContext, error) {
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	return &models.ParameterContext{
		ForecastHorizonWeeks:  12,
		SeasonStartDate:       start,
		SeasonEndDate:         start.AddDate(0, 0, 12*7),
		ReplenishmentStrategy: models.ReplenishmentNone,
		DCHoldbackPercentage:  0.2,
	}, nil
}

func newTestServer(t *testing.T) (*Server, *echo.Echo, repository.WorkflowStore) {
	t.Helper()
	store := repository.NewMemoryWorkflowStore()
	broadcaster := services.NewBroadcaster(64)
	t.Cleanup(broadcaster.Close)
	logger := logging.NewLogger()
	agents := stubAgents{}
	handoffs := services.NewHandoffManager(services.HandoffConfig{BaseDelay: time.Millisecond}, broadcaster, logger)
	orch := orchestrator.New(store, services.AgentClients{
		Forecaster: agents,
		Allocator:  agents,
		Pricing:    agents,
		Extractor:  agents,
	}, handoffs, services.NewVarianceMonitor(20), broadcaster, logger)

	server := NewServer(orch, store, broadcaster, agents, logger)
	e := echo.New()
	e.GET("/healthz", server.HandleHealth)
	server.RegisterRoutes(e.Group("/api/v1"))
	return server, e, store
}

const validCreateBody = `{
	"forecast_horizon_weeks": 12,
	"season_start_date": "2026-03-01T00:00:00Z",
	"season_end_date": "2026-05-24T00:00:00Z",
	"replenishment_strategy": "none",
	"dc_holdback_percentage": 0.2
}`

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// waitForPhase polls until the workflow reaches the phase; creation handlers
// advance the machine in the background.
func waitForPhase(t *testing.T, store repository.WorkflowStore, id string, phase models.Phase) *models.Workflow {
	t.Helper()
	var wf *models.Workflow
	require.Eventually(t, func() bool {
		var err error
		wf, err = store.Get(context.Background(), id)
		return err == nil && wf.CurrentPhase == phase
	}, 2*time.Second, 5*time.Millisecond)
	return wf
}

func TestCreateWorkflowEndpoint(t *testing.T) {
	t.Run("valid parameters", func(t *testing.T) {
		_, e, store := newTestServer(t)
		rec := doJSON(e, http.MethodPost, "/api/v1/workflows", validCreateBody)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp WorkflowStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ID)

		wf := waitForPhase(t, store, resp.ID, models.PhaseWaitingMfgApproval)
		assert.NotNil(t, wf.PendingApproval())
	})

	t.Run("invalid parameters are rejected", func(t *testing.T) {
		_, e, _ := newTestServer(t)
		rec := doJSON(e, http.MethodPost, "/api/v1/workflows", `{"forecast_horizon_weeks": 0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, e, _ := newTestServer(t)
		rec := doJSON(e, http.MethodPost, "/api/v1/workflows", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExtractEndpoint(t *testing.T) {
	_, e, store := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/workflows/extract",
		`{"text":"Plan a 12-week spring season starting March 1 with 20% holdback"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp WorkflowStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	waitForPhase(t, store, resp.ID, models.PhaseWaitingMfgApproval)

	rec = doJSON(e, http.MethodPost, "/api/v1/workflows/extract", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWorkflowEndpoint(t *testing.T) {
	_, e, store := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/workflows", validCreateBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created WorkflowStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	waitForPhase(t, store, created.ID, models.PhaseWaitingMfgApproval)

	rec = doJSON(e, http.MethodGet, "/api/v1/workflows/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status WorkflowStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.PhaseWaitingMfgApproval, status.CurrentPhase)
	assert.Equal(t, models.WorkflowStatusWaiting, status.Status)

	rec = doJSON(e, http.MethodGet, "/api/v1/workflows/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultsEndpointRequiresCompletion(t *testing.T) {
	_, e, store := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/workflows", validCreateBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created WorkflowStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	waitForPhase(t, store, created.ID, models.PhaseWaitingMfgApproval)

	rec = doJSON(e, http.MethodGet, "/api/v1/workflows/"+created.ID+"/results", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApprovalAndActualsFlow(t *testing.T) {
	_, e, store := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/workflows", validCreateBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created WorkflowStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	wf := waitForPhase(t, store, created.ID, models.PhaseWaitingMfgApproval)

	// Actuals before monitoring conflict with the current phase.
	rec = doJSON(e, http.MethodPost, "/api/v1/workflows/"+created.ID+"/actuals",
		`{"week_number":1,"actual_units":1000}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	approvalID := wf.PendingApproval().ID
	rec = doJSON(e, http.MethodPost, "/api/v1/approvals/"+approvalID+"/resolve", `{"action":"accept"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	waitForPhase(t, store, created.ID, models.PhaseMonitoring)

	rec = doJSON(e, http.MethodPost, "/api/v1/workflows/"+created.ID+"/actuals",
		`{"week_number":1,"actual_units":1100}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var record models.VarianceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.InDelta(t, 10.0, record.VariancePct, 0.001)

	// Duplicate week conflicts unless flagged as a correction.
	rec = doJSON(e, http.MethodPost, "/api/v1/workflows/"+created.ID+"/actuals",
		`{"week_number":1,"actual_units":1200}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doJSON(e, http.MethodPost, "/api/v1/workflows/"+created.ID+"/actuals",
		`{"week_number":1,"actual_units":1200,"correction":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Resolving the same approval twice conflicts.
	rec = doJSON(e, http.MethodPost, "/api/v1/approvals/"+approvalID+"/resolve", `{"action":"reject"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/approvals/unknown/resolve", `{"action":"accept"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	_, e, store := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/workflows", validCreateBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created WorkflowStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	waitForPhase(t, store, created.ID, models.PhaseWaitingMfgApproval)

	rec = doJSON(e, http.MethodPost, "/api/v1/workflows/"+created.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status WorkflowStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.WorkflowStatusCancelled, status.Status)

	// A second cancel hits a terminal workflow.
	rec = doJSON(e, http.MethodPost, "/api/v1/workflows/"+created.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	_, e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "season-planner", status.Service)
}
