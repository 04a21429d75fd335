package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"season-planner/backend/pkg/models"
)

// ErrPendingApproval is returned when opening a second approval request for a
// workflow that already has one pending.
var ErrPendingApproval = errors.New("workflow already has a pending approval request")

// ErrApprovalResolved is returned when resolving a request that is no longer
// pending; resolution happens exactly once.
var ErrApprovalResolved = errors.New("approval request already resolved")

// ApprovalGateway suspends a workflow pending an external human decision.
// It mutates the in-memory workflow record only; the orchestrator persists
// the change atomically with the accompanying phase transition.
type ApprovalGateway struct{}

// NewApprovalGateway creates a gateway.
func NewApprovalGateway() *ApprovalGateway {
	return &ApprovalGateway{}
}

// Open creates a pending approval request for the workflow. It fails when a
// pending request already exists; at most one approval can be in flight per
// workflow at any time.
func (g *ApprovalGateway) Open(wf *models.Workflow, kind models.ApprovalKind, payload json.RawMessage) (*models.ApprovalRequest, error) {
	if pending := wf.PendingApproval(); pending != nil {
		return nil, fmt.Errorf("request %s is pending: %w", pending.ID, ErrPendingApproval)
	}
	request := models.ApprovalRequest{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Kind:       kind,
		Payload:    payload,
		Status:     models.ApprovalStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	wf.ApprovalRequests = append(wf.ApprovalRequests, request)
	return &wf.ApprovalRequests[len(wf.ApprovalRequests)-1], nil
}

// Resolve applies a human decision to a pending request. Resolution is the
// sole trigger for leaving the corresponding waiting phase.
func (g *ApprovalGateway) Resolve(wf *models.Workflow, requestID string, action models.ApprovalAction, modifications json.RawMessage, reason string) (*models.ApprovalRequest, error) {
	request := findApproval(wf, requestID)
	if request == nil {
		return nil, fmt.Errorf("approval request %s not found on workflow %s", requestID, wf.ID)
	}
	if request.Status != models.ApprovalStatusPending {
		return nil, fmt.Errorf("request %s has status %s: %w", requestID, request.Status, ErrApprovalResolved)
	}

	now := time.Now().UTC()
	switch action {
	case models.ApprovalActionAccept:
		request.Status = models.ApprovalStatusAccepted
	case models.ApprovalActionModify:
		if len(modifications) == 0 {
			return nil, fmt.Errorf("modify action requires modifications")
		}
		request.Status = models.ApprovalStatusModified
		request.Modifications = modifications
	case models.ApprovalActionReject:
		request.Status = models.ApprovalStatusRejected
		request.Reason = reason
	default:
		return nil, fmt.Errorf("unknown approval action %q", action)
	}
	request.ResolvedAt = &now
	return request, nil
}

// VoidPending marks any pending request void, used when the owning workflow
// is cancelled. Returns the voided request, if there was one.
func (g *ApprovalGateway) VoidPending(wf *models.Workflow) *models.ApprovalRequest {
	pending := wf.PendingApproval()
	if pending == nil {
		return nil
	}
	now := time.Now().UTC()
	pending.Status = models.ApprovalStatusVoid
	pending.ResolvedAt = &now
	return pending
}

// ExpirePending marks the pending request expired when it has outlived ttl.
// A zero ttl disables expiry; approval waits are unbounded by default.
func (g *ApprovalGateway) ExpirePending(wf *models.Workflow, ttl time.Duration, now time.Time) *models.ApprovalRequest {
	if ttl <= 0 {
		return nil
	}
	pending := wf.PendingApproval()
	if pending == nil || now.Sub(pending.CreatedAt) < ttl {
		return nil
	}
	resolved := now.UTC()
	pending.Status = models.ApprovalStatusExpired
	pending.Reason = fmt.Sprintf("approval not resolved within %s", ttl)
	pending.ResolvedAt = &resolved
	return pending
}

func findApproval(wf *models.Workflow, requestID string) *models.ApprovalRequest {
	for i := range wf.ApprovalRequests {
		if wf.ApprovalRequests[i].ID == requestID {
			return &wf.ApprovalRequests[i]
		}
	}
	return nil
}
