package models

import (
	"encoding/json"
	"time"
)

// EventType identifies a status event pushed to live observers.
type EventType string

const (
	EventAgentStarted       EventType = "agent_started"
	EventAgentProgress      EventType = "agent_progress"
	EventAgentCompleted     EventType = "agent_completed"
	EventHumanInputRequired EventType = "human_input_required"
	EventWorkflowComplete   EventType = "workflow_complete"
	EventError              EventType = "error"
)

// StatusEvent is a progress event for one workflow. Delivery is best-effort;
// the workflow record in the store remains the system of record.
type StatusEvent struct {
	Type            EventType       `json:"type"`
	WorkflowID      string          `json:"workflow_id,omitempty"`
	Agent           string          `json:"agent,omitempty"`
	Message         string          `json:"message,omitempty"`
	ProgressPct     int             `json:"progress_pct,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Action          string          `json:"action,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Options         []string        `json:"options,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// NewAgentStarted builds an agent_started event.
func NewAgentStarted(agent string) StatusEvent {
	return StatusEvent{Type: EventAgentStarted, Agent: agent, Timestamp: time.Now().UTC()}
}

// NewAgentProgress builds an agent_progress event.
func NewAgentProgress(agent, message string, progressPct int) StatusEvent {
	return StatusEvent{
		Type:        EventAgentProgress,
		Agent:       agent,
		Message:     message,
		ProgressPct: progressPct,
		Timestamp:   time.Now().UTC(),
	}
}

// NewAgentCompleted builds an agent_completed event.
func NewAgentCompleted(agent string, duration time.Duration, result json.RawMessage) StatusEvent {
	return StatusEvent{
		Type:            EventAgentCompleted,
		Agent:           agent,
		DurationSeconds: duration.Seconds(),
		Result:          result,
		Timestamp:       time.Now().UTC(),
	}
}

// NewHumanInputRequired builds a human_input_required event for an approval gate.
func NewHumanInputRequired(agent, action string, data json.RawMessage) StatusEvent {
	return StatusEvent{
		Type:      EventHumanInputRequired,
		Agent:     agent,
		Action:    action,
		Data:      data,
		Options:   []string{"accept", "modify", "reject"},
		Timestamp: time.Now().UTC(),
	}
}

// NewWorkflowComplete builds a workflow_complete event.
func NewWorkflowComplete(workflowID string, duration time.Duration, result json.RawMessage) StatusEvent {
	return StatusEvent{
		Type:            EventWorkflowComplete,
		WorkflowID:      workflowID,
		DurationSeconds: duration.Seconds(),
		Result:          result,
		Timestamp:       time.Now().UTC(),
	}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(agent, message string) StatusEvent {
	return StatusEvent{
		Type:         EventError,
		Agent:        agent,
		ErrorMessage: message,
		Timestamp:    time.Now().UTC(),
	}
}
