package repository

import (
	"context"
	"errors"

	"season-planner/backend/pkg/models"
)

// ErrNotFound is returned when no workflow exists for the requested key.
var ErrNotFound = errors.New("workflow not found")

// ErrVersionConflict is returned when an optimistic-concurrency write loses
// the race. Callers must re-read the record and retry, never overwrite.
var ErrVersionConflict = errors.New("workflow version conflict")

// WorkflowStore is the durable keyed storage for workflow records and their
// full history. It is the single source of truth for resumption after a
// process restart.
type WorkflowStore interface {
	// Create persists a new workflow record.
	Create(ctx context.Context, wf *models.Workflow) error
	// Get retrieves a workflow by ID.
	Get(ctx context.Context, id string) (*models.Workflow, error)
	// Update persists a workflow guarded by its version field. The stored
	// version must equal wf.Version; on success the version is incremented.
	// Returns ErrVersionConflict when a concurrent writer got there first.
	Update(ctx context.Context, wf *models.Workflow) error
	// List returns all workflow records.
	List(ctx context.Context) ([]*models.Workflow, error)
	// ListActive returns workflows in a non-terminal phase, used to resume
	// execution on startup.
	ListActive(ctx context.Context) ([]*models.Workflow, error)
	// GetByApprovalID finds the workflow holding the given approval request.
	GetByApprovalID(ctx context.Context, approvalID string) (*models.Workflow, error)
	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error
}
