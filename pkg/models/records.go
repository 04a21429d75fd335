package models

import (
	"encoding/json"
	"time"
)

// PhaseDecision records an execute-or-skip decision for an optional phase.
// Produced once per optional phase per workflow run; never mutated.
type PhaseDecision struct {
	PhaseID   Phase     `json:"phase_id"`
	Execute   bool      `json:"execute"`
	Reasoning string    `json:"reasoning"`
	DecidedAt time.Time `json:"decided_at"`
}

// VarianceDirection indicates whether actual demand ran over or under forecast.
type VarianceDirection string

const (
	VarianceOver  VarianceDirection = "over"
	VarianceUnder VarianceDirection = "under"
)

// VarianceRecord is the forecast-vs-actual deviation for one monitoring week.
// At most one record exists per (workflow_id, week_number).
type VarianceRecord struct {
	WorkflowID          string            `json:"workflow_id"`
	WeekNumber          int               `json:"week_number"`
	ForecastUnits       float64           `json:"forecast_units"`
	ActualUnits         float64           `json:"actual_units"`
	VariancePct         float64           `json:"variance_pct"`
	Direction           VarianceDirection `json:"direction"`
	ReforecastTriggered bool              `json:"reforecast_triggered"`
	Correction          bool              `json:"correction,omitempty"`
	Timestamp           time.Time         `json:"timestamp"`
}

// ApprovalKind distinguishes the two human decision gates.
type ApprovalKind string

const (
	ApprovalKindManufacturing ApprovalKind = "manufacturing"
	ApprovalKindMarkdown      ApprovalKind = "markdown"
)

// ApprovalStatus is the lifecycle of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusAccepted ApprovalStatus = "accepted"
	ApprovalStatusModified ApprovalStatus = "modified"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	// ApprovalStatusVoid marks requests invalidated by workflow cancellation.
	ApprovalStatusVoid ApprovalStatus = "void"
	// ApprovalStatusExpired marks requests swept by the optional approval TTL.
	ApprovalStatusExpired ApprovalStatus = "expired"
)

// ApprovalAction is a human resolution of a pending request.
type ApprovalAction string

const (
	ApprovalActionAccept ApprovalAction = "accept"
	ApprovalActionModify ApprovalAction = "modify"
	ApprovalActionReject ApprovalAction = "reject"
)

// ApprovalRequest is a durable pause point requiring an external human
// decision. At most one pending request exists per workflow at any time;
// resolution is the only way out of the corresponding waiting phase.
type ApprovalRequest struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	Kind          ApprovalKind    `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        ApprovalStatus  `json:"status"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// HandoffStatus is the outcome of a single collaborator call attempt.
type HandoffStatus string

const (
	HandoffSucceeded HandoffStatus = "succeeded"
	HandoffFailed    HandoffStatus = "failed"
	// HandoffExhausted marks the final attempt after retries ran out.
	HandoffExhausted HandoffStatus = "exhausted"
)

// AgentHandoffRecord is the audit trail for one attempt of one collaborator
// call. One record per attempt, append-only.
type AgentHandoffRecord struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	AgentName       string          `json:"agent_name"`
	ContextSnapshot json.RawMessage `json:"context_snapshot,omitempty"`
	Attempt         int             `json:"attempt"`
	Status          HandoffStatus   `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
}
