package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"season-planner/backend/pkg/models"
)

// MemoryWorkflowStore is an in-memory WorkflowStore used by dev mode and
// tests. It honors the same version check-and-set contract as the Postgres
// implementation.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
}

// NewMemoryWorkflowStore creates an empty in-memory store.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[string]*models.Workflow)}
}

// Create persists a new workflow record.
func (s *MemoryWorkflowStore) Create(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %s already exists", wf.ID)
	}
	stored, err := cloneWorkflow(wf)
	if err != nil {
		return err
	}
	s.workflows[wf.ID] = stored
	return nil
}

// Get retrieves a workflow by ID.
func (s *MemoryWorkflowStore) Get(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWorkflow(wf)
}

// Update performs a version check-and-set write.
func (s *MemoryWorkflowStore) Update(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.workflows[wf.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != wf.Version {
		return ErrVersionConflict
	}
	stored, err := cloneWorkflow(wf)
	if err != nil {
		return err
	}
	stored.Version++
	s.workflows[wf.ID] = stored
	wf.Version++
	return nil
}

// List returns all workflow records, newest first.
func (s *MemoryWorkflowStore) List(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workflows := make([]*models.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		copied, err := cloneWorkflow(wf)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, copied)
	}
	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})
	return workflows, nil
}

// ListActive returns workflows in a non-terminal phase.
func (s *MemoryWorkflowStore) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, wf := range all {
		if !wf.IsTerminal() {
			active = append(active, wf)
		}
	}
	return active, nil
}

// GetByApprovalID finds the workflow holding the given approval request.
func (s *MemoryWorkflowStore) GetByApprovalID(ctx context.Context, approvalID string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, wf := range s.workflows {
		for _, req := range wf.ApprovalRequests {
			if req.ID == approvalID {
				return cloneWorkflow(wf)
			}
		}
	}
	return nil, ErrNotFound
}

// Ping always succeeds for the in-memory store.
func (s *MemoryWorkflowStore) Ping(ctx context.Context) error {
	return nil
}

// cloneWorkflow deep-copies through JSON so callers never share mutable state
// with the stored record.
func cloneWorkflow(wf *models.Workflow) (*models.Workflow, error) {
	data, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("clone workflow %s: %w", wf.ID, err)
	}
	var copied models.Workflow
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("clone workflow %s: %w", wf.ID, err)
	}
	return &copied, nil
}
