package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"season-planner/backend/pkg/models"
)

func newTestWorkflow() *models.Workflow {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Workflow{
		ID:           uuid.New().String(),
		Type:         models.WorkflowTypeSeasonPlan,
		Status:       models.WorkflowStatusRunning,
		CurrentPhase: models.PhaseParametersExtracted,
		ProgressPct:  5,
		Parameters: models.ParameterContext{
			ForecastHorizonWeeks:  12,
			SeasonStartDate:       now,
			SeasonEndDate:         now.AddDate(0, 0, 12*7),
			ReplenishmentStrategy: models.ReplenishmentNone,
			DCHoldbackPercentage:  0.2,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryWorkflowStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()

	t.Run("Create and Get", func(t *testing.T) {
		wf := newTestWorkflow()
		assert.NoError(t, store.Create(ctx, wf))

		retrieved, err := store.Get(ctx, wf.ID)
		assert.NoError(t, err)
		assert.Equal(t, wf.ID, retrieved.ID)
		assert.Equal(t, wf.CurrentPhase, retrieved.CurrentPhase)
		assert.Equal(t, 1, retrieved.Version)

		assert.Error(t, store.Create(ctx, wf), "duplicate create is rejected")
	})

	t.Run("Get unknown", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Update bumps version", func(t *testing.T) {
		wf := newTestWorkflow()
		assert.NoError(t, store.Create(ctx, wf))

		wf.CurrentPhase = models.PhaseForecasting
		wf.Status = models.WorkflowStatusRunning
		assert.NoError(t, store.Update(ctx, wf))
		assert.Equal(t, 2, wf.Version)

		retrieved, err := store.Get(ctx, wf.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.PhaseForecasting, retrieved.CurrentPhase)
		assert.Equal(t, 2, retrieved.Version)
	})

	t.Run("stale writer loses the version race", func(t *testing.T) {
		wf := newTestWorkflow()
		assert.NoError(t, store.Create(ctx, wf))

		first, err := store.Get(ctx, wf.ID)
		assert.NoError(t, err)
		second, err := store.Get(ctx, wf.ID)
		assert.NoError(t, err)

		first.ProgressPct = 15
		assert.NoError(t, store.Update(ctx, first))

		second.ProgressPct = 40
		assert.ErrorIs(t, store.Update(ctx, second), ErrVersionConflict)

		retrieved, err := store.Get(ctx, wf.ID)
		assert.NoError(t, err)
		assert.Equal(t, 15, retrieved.ProgressPct, "the stale write never lands")
	})

	t.Run("Get returns an isolated copy", func(t *testing.T) {
		wf := newTestWorkflow()
		assert.NoError(t, store.Create(ctx, wf))

		copy1, _ := store.Get(ctx, wf.ID)
		copy1.ProgressPct = 99

		copy2, _ := store.Get(ctx, wf.ID)
		assert.Equal(t, 5, copy2.ProgressPct, "mutating a copy must not leak into the store")
	})

	t.Run("ListActive filters terminal workflows", func(t *testing.T) {
		store := NewMemoryWorkflowStore()
		active := newTestWorkflow()
		done := newTestWorkflow()
		done.CurrentPhase = models.PhaseCompleted
		done.Status = models.WorkflowStatusCompleted
		assert.NoError(t, store.Create(ctx, active))
		assert.NoError(t, store.Create(ctx, done))

		workflows, err := store.ListActive(ctx)
		assert.NoError(t, err)
		if assert.Len(t, workflows, 1) {
			assert.Equal(t, active.ID, workflows[0].ID)
		}
	})

	t.Run("GetByApprovalID", func(t *testing.T) {
		wf := newTestWorkflow()
		wf.ApprovalRequests = []models.ApprovalRequest{{
			ID:         "approval-1",
			WorkflowID: wf.ID,
			Kind:       models.ApprovalKindManufacturing,
			Status:     models.ApprovalStatusPending,
			CreatedAt:  time.Now().UTC(),
		}}
		assert.NoError(t, store.Create(ctx, wf))

		found, err := store.GetByApprovalID(ctx, "approval-1")
		assert.NoError(t, err)
		assert.Equal(t, wf.ID, found.ID)

		_, err = store.GetByApprovalID(ctx, "approval-unknown")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
