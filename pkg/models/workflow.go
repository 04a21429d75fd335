// Package models defines the domain models for the season-planning service.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowType identifies the kind of planning workflow.
type WorkflowType string

const (
	WorkflowTypeSeasonPlan WorkflowType = "season_plan"
)

// WorkflowStatus is the coarse lifecycle status exposed to callers.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusWaiting   WorkflowStatus = "waiting_approval"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusError     WorkflowStatus = "error"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// Phase is a state of the season-planning state machine.
type Phase string

const (
	PhaseParametersExtracted     Phase = "PARAMETERS_EXTRACTED"
	PhaseForecasting             Phase = "PHASE_1_FORECASTING"
	PhaseWaitingMfgApproval      Phase = "WAITING_MFG_APPROVAL"
	PhaseAllocation              Phase = "PHASE_2_ALLOCATION"
	PhaseMonitoring              Phase = "PHASE_3_MONITORING"
	PhaseReplenishment           Phase = "PHASE_3_REPLENISHMENT"
	PhaseMarkdownCheck           Phase = "PHASE_4_MARKDOWN_CHECK"
	PhaseWaitingMarkdownApproval Phase = "WAITING_MARKDOWN_APPROVAL"
	PhaseReforecast              Phase = "PHASE_5_REFORECAST"
	PhaseCompleted               Phase = "COMPLETED"
	PhaseError                   Phase = "ERROR"
	PhaseCancelled               Phase = "CANCELLED"
)

var terminalPhases = map[Phase]bool{
	PhaseCompleted: true,
	PhaseError:     true,
	PhaseCancelled: true,
}

// Forward transitions. ERROR and CANCELLED are reachable from every
// non-terminal phase and are special-cased in ValidateTransition.
var validPhaseTransitions = map[Phase]map[Phase]bool{
	PhaseParametersExtracted: {
		PhaseForecasting: true,
	},
	PhaseForecasting: {
		PhaseWaitingMfgApproval: true,
	},
	PhaseWaitingMfgApproval: {
		PhaseAllocation:  true,
		PhaseForecasting: true, // modify re-runs the preceding phase
	},
	PhaseAllocation: {
		PhaseMonitoring: true,
	},
	PhaseMonitoring: {
		PhaseReplenishment: true,
		PhaseMarkdownCheck: true,
		PhaseReforecast:    true,
		PhaseCompleted:     true,
	},
	PhaseReplenishment: {
		PhaseMonitoring: true,
	},
	PhaseMarkdownCheck: {
		PhaseWaitingMarkdownApproval: true,
	},
	PhaseWaitingMarkdownApproval: {
		PhaseMonitoring:    true,
		PhaseMarkdownCheck: true, // modify re-runs the preceding phase
	},
	PhaseReforecast: {
		PhaseMonitoring: true,
	},
}

// IsTerminalPhase reports whether no further transitions are allowed from p.
func IsTerminalPhase(p Phase) bool {
	return terminalPhases[p]
}

// ValidateTransition returns an error if from -> to is not a legal move in the
// season-planning state machine.
func ValidateTransition(from, to Phase) error {
	if IsTerminalPhase(from) {
		return fmt.Errorf("cannot transition from terminal phase %q", from)
	}
	if to == PhaseError || to == PhaseCancelled {
		return nil
	}
	allowed, ok := validPhaseTransitions[from]
	if !ok {
		return fmt.Errorf("unknown phase %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid phase transition: %q -> %q", from, to)
	}
	return nil
}

// StatusForPhase maps a phase to the coarse workflow status.
func StatusForPhase(p Phase) WorkflowStatus {
	switch p {
	case PhaseWaitingMfgApproval, PhaseWaitingMarkdownApproval:
		return WorkflowStatusWaiting
	case PhaseCompleted:
		return WorkflowStatusCompleted
	case PhaseError:
		return WorkflowStatusError
	case PhaseCancelled:
		return WorkflowStatusCancelled
	default:
		return WorkflowStatusRunning
	}
}

// Workflow is one end-to-end run of the season-planning process. It is the
// single persisted record per plan; the orchestrator is its only writer.
type Workflow struct {
	ID           string           `json:"id"`
	Type         WorkflowType     `json:"type"`
	Status       WorkflowStatus   `json:"status"`
	CurrentPhase Phase            `json:"current_phase"`
	ProgressPct  int              `json:"progress_pct"`
	Parameters   ParameterContext `json:"parameters"`

	// Latest collaborator outputs. Forecast is replaced by a re-forecast and
	// becomes the new baseline for subsequent monitoring weeks.
	Forecast   *ForecastResult   `json:"forecast,omitempty"`
	Allocation *AllocationResult `json:"allocation,omitempty"`
	Markdown   *MarkdownResult   `json:"markdown,omitempty"`

	// Append-only history.
	PhaseDecisions   []PhaseDecision      `json:"phase_decisions"`
	VarianceHistory  []VarianceRecord     `json:"variance_history"`
	ApprovalRequests []ApprovalRequest    `json:"approval_requests"`
	HandoffRecords   []AgentHandoffRecord `json:"handoff_records"`

	Error string `json:"error,omitempty"`

	// Highest monitoring week whose re-forecast or replenishment already ran.
	// Re-entering the monitoring phase re-evaluates the last recorded week
	// against these, so a trigger fires exactly once even across a restart.
	LastReforecastWeek  int `json:"last_reforecast_week,omitempty"`
	LastReplenishedWeek int `json:"last_replenished_week,omitempty"`

	// Version is a monotonic counter for optimistic concurrency. A stale
	// writer must re-read and retry, never overwrite.
	Version int `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the workflow record is immutable.
func (w *Workflow) IsTerminal() bool {
	return IsTerminalPhase(w.CurrentPhase)
}

// PendingApproval returns the single pending approval request, if any.
func (w *Workflow) PendingApproval() *ApprovalRequest {
	for i := range w.ApprovalRequests {
		if w.ApprovalRequests[i].Status == ApprovalStatusPending {
			return &w.ApprovalRequests[i]
		}
	}
	return nil
}

// LastRecordedWeek returns the highest week number with a variance record,
// or 0 when monitoring has not started.
func (w *Workflow) LastRecordedWeek() int {
	week := 0
	for _, r := range w.VarianceHistory {
		if r.WeekNumber > week {
			week = r.WeekNumber
		}
	}
	return week
}

// Progress returns the percentage complete for the given phase. Monitoring
// progress advances with the recorded week relative to the forecast horizon.
func (w *Workflow) Progress(phase Phase) int {
	switch phase {
	case PhaseParametersExtracted:
		return 5
	case PhaseForecasting:
		return 15
	case PhaseWaitingMfgApproval:
		return 25
	case PhaseAllocation:
		return 40
	case PhaseCompleted:
		return 100
	case PhaseError, PhaseCancelled:
		return w.ProgressPct
	default:
		// Monitoring and its sub-phases scale from 50 to 95 across the horizon.
		horizon := w.Parameters.ForecastHorizonWeeks
		if horizon <= 0 {
			return 50
		}
		pct := 50 + (45*w.LastRecordedWeek())/horizon
		if pct > 95 {
			pct = 95
		}
		return pct
	}
}

// Results bundles the phase outputs returned once a workflow has completed.
type Results struct {
	Forecast   *ForecastResult   `json:"forecast,omitempty"`
	Allocation *AllocationResult `json:"allocation,omitempty"`
	Markdown   *MarkdownResult   `json:"markdown,omitempty"`
	Variance   []VarianceRecord  `json:"variance_history"`
}

// ForecastResult is the demand-estimation collaborator output.
type ForecastResult struct {
	TotalDemand    float64   `json:"total_demand"`
	ForecastByWeek []float64 `json:"forecast_by_week"`
	Confidence     float64   `json:"confidence"`
	ModelUsed      string    `json:"model_used"`
}

// UnitsForWeek returns the forecast baseline for a 1-based week number.
func (f *ForecastResult) UnitsForWeek(week int) (float64, bool) {
	if f == nil || week < 1 || week > len(f.ForecastByWeek) {
		return 0, false
	}
	return f.ForecastByWeek[week-1], true
}

// AllocationResult is the store-clustering/allocation collaborator output.
type AllocationResult struct {
	ManufacturingOrder json.RawMessage   `json:"manufacturing_order"`
	StoreAllocations   []json.RawMessage `json:"store_allocations"`
	ReplenishmentPlan  []json.RawMessage `json:"replenishment_plan"`
}

// MarkdownResult is the markdown-elasticity collaborator output.
type MarkdownResult struct {
	RecommendedMarkdownPct float64 `json:"recommended_markdown_pct"`
	Decision               string  `json:"decision"`
	Justification          string  `json:"justification"`
}
