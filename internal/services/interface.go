package services

import (
	"context"
	"encoding/json"

	"season-planner/backend/pkg/models"
)

// Collaborator agent names, used for handoff records and status events.
const (
	AgentForecaster = "demand_forecaster"
	AgentAllocator  = "allocation_planner"
	AgentPricing    = "pricing_engine"
	AgentExtractor  = "parameter_extractor"
)

// ContextSnapshot is the full, self-contained context handed to a
// collaborator. Agents never query the store for data the orchestrator
// already knows; everything they need travels in the snapshot.
type ContextSnapshot struct {
	WorkflowID      string                   `json:"workflow_id"`
	Parameters      models.ParameterContext  `json:"parameters"`
	Forecast        *models.ForecastResult   `json:"forecast,omitempty"`
	Allocation      *models.AllocationResult `json:"allocation,omitempty"`
	VarianceHistory []models.VarianceRecord  `json:"variance_history,omitempty"`
	CurrentWeek     int                      `json:"current_week,omitempty"`
	// Modifications carries approval-gate edits merged into a phase re-run.
	Modifications json.RawMessage `json:"modifications,omitempty"`
}

// Forecaster is the demand-estimation collaborator.
type Forecaster interface {
	Forecast(ctx context.Context, snapshot ContextSnapshot) (*models.ForecastResult, error)
}

// Allocator is the store-clustering/allocation collaborator.
type Allocator interface {
	Allocate(ctx context.Context, snapshot ContextSnapshot) (*models.AllocationResult, error)
}

// PricingEngine is the markdown-elasticity collaborator.
type PricingEngine interface {
	EvaluateMarkdown(ctx context.Context, snapshot ContextSnapshot) (*models.MarkdownResult, error)
}

// ParameterExtractor turns free-text season descriptions into a candidate
// ParameterContext. The candidate is validated before a workflow is created.
type ParameterExtractor interface {
	Extract(ctx context.Context, text string) (*models.ParameterContext, error)
}

// AgentClients bundles the collaborator contracts the orchestrator depends on.
type AgentClients struct {
	Forecaster Forecaster
	Allocator  Allocator
	Pricing    PricingEngine
	Extractor  ParameterExtractor
}
