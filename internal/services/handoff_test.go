package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"season-planner/backend/internal/logging"
	"season-planner/backend/pkg/models"
)

func testHandoffManager(t *testing.T) (*HandoffManager, *Broadcaster) {
	t.Helper()
	broadcaster := NewBroadcaster(64)
	t.Cleanup(broadcaster.Close)
	manager := NewHandoffManager(HandoffConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Timeout:     time.Second,
	}, broadcaster, logging.NewLogger())
	return manager, broadcaster
}

func TestExecuteHandoffSuccess(t *testing.T) {
	manager, broadcaster := testHandoffManager(t)
	wf := &models.Workflow{ID: "wf-1"}

	events, cancel := broadcaster.Subscribe("wf-1")
	defer cancel()

	want := &models.ForecastResult{TotalDemand: 5000, ForecastByWeek: []float64{500}}
	got, err := ExecuteHandoff(context.Background(), manager, wf, AgentForecaster, ContextSnapshot{WorkflowID: "wf-1"},
		func(ctx context.Context, s ContextSnapshot) (*models.ForecastResult, error) {
			return want, nil
		})
	assert.NoError(t, err)
	assert.Equal(t, want, got)

	if assert.Len(t, wf.HandoffRecords, 1) {
		record := wf.HandoffRecords[0]
		assert.Equal(t, models.HandoffSucceeded, record.Status)
		assert.Equal(t, 1, record.Attempt)
		assert.Equal(t, AgentForecaster, record.AgentName)
		assert.NotEmpty(t, record.ContextSnapshot)
		assert.NotEmpty(t, record.Result)
	}

	first := <-events
	assert.Equal(t, models.EventAgentStarted, first.Type)
	last := <-events
	assert.Equal(t, models.EventAgentCompleted, last.Type)
}

func TestExecuteHandoffRetriesTransientFailures(t *testing.T) {
	manager, _ := testHandoffManager(t)
	wf := &models.Workflow{ID: "wf-1"}

	calls := 0
	want := &models.ForecastResult{TotalDemand: 100}
	got, err := ExecuteHandoff(context.Background(), manager, wf, AgentForecaster, ContextSnapshot{},
		func(ctx context.Context, s ContextSnapshot) (*models.ForecastResult, error) {
			calls++
			if calls < 3 {
				return nil, TransientFailure(AgentForecaster, errors.New("status code 503"))
			}
			return want, nil
		})
	assert.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 3, calls)

	if assert.Len(t, wf.HandoffRecords, 3) {
		assert.Equal(t, models.HandoffFailed, wf.HandoffRecords[0].Status)
		assert.Equal(t, models.HandoffFailed, wf.HandoffRecords[1].Status)
		assert.Equal(t, models.HandoffSucceeded, wf.HandoffRecords[2].Status)
		assert.Equal(t, 2, wf.HandoffRecords[1].Attempt)
	}
}

func TestExecuteHandoffExhaustsRetryBudget(t *testing.T) {
	manager, _ := testHandoffManager(t)
	wf := &models.Workflow{ID: "wf-1"}

	calls := 0
	_, err := ExecuteHandoff(context.Background(), manager, wf, AgentForecaster, ContextSnapshot{},
		func(ctx context.Context, s ContextSnapshot) (*models.ForecastResult, error) {
			calls++
			return nil, TransientFailure(AgentForecaster, errors.New("status code 503"))
		})
	assert.Error(t, err)
	assert.Equal(t, 3, calls, "budget is three attempts")

	if assert.Len(t, wf.HandoffRecords, 3) {
		assert.Equal(t, models.HandoffFailed, wf.HandoffRecords[0].Status)
		assert.Equal(t, models.HandoffFailed, wf.HandoffRecords[1].Status)
		assert.Equal(t, models.HandoffExhausted, wf.HandoffRecords[2].Status)
	}
}

func TestExecuteHandoffPermanentFailureShortCircuits(t *testing.T) {
	manager, _ := testHandoffManager(t)
	wf := &models.Workflow{ID: "wf-1"}

	calls := 0
	_, err := ExecuteHandoff(context.Background(), manager, wf, AgentAllocator, ContextSnapshot{},
		func(ctx context.Context, s ContextSnapshot) (*models.AllocationResult, error) {
			calls++
			return nil, PermanentFailure(AgentAllocator, errors.New("status code 422"))
		})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "permanent failures are not retried")

	if assert.Len(t, wf.HandoffRecords, 1) {
		assert.Equal(t, models.HandoffFailed, wf.HandoffRecords[0].Status)
		assert.Contains(t, wf.HandoffRecords[0].Error, "422")
	}
}

func TestExecuteHandoffCancelledContext(t *testing.T) {
	manager, _ := testHandoffManager(t)
	wf := &models.Workflow{ID: "wf-1"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExecuteHandoff(ctx, manager, wf, AgentPricing, ContextSnapshot{},
		func(ctx context.Context, s ContextSnapshot) (*models.MarkdownResult, error) {
			return nil, TransientFailure(AgentPricing, errors.New("status code 503"))
		})
	assert.Error(t, err)
	assert.LessOrEqual(t, len(wf.HandoffRecords), 1, "cancelled context stops further attempts")
}

func TestFailureClassification(t *testing.T) {
	assert.True(t, IsTransient(TransientFailure("a", errors.New("boom"))))
	assert.False(t, IsTransient(PermanentFailure("a", errors.New("boom"))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("plain error")))

	wrapped := TransientFailure("demand_forecaster", errors.New("status code 503"))
	assert.Contains(t, wrapped.Error(), "demand_forecaster")
	var failure *AgentFailure
	assert.True(t, errors.As(wrapped, &failure))
}
