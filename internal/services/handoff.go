package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"season-planner/backend/internal/logging"
	"season-planner/backend/pkg/models"
)

// HandoffManager executes collaborator calls with a single, reusable
// retry/backoff policy. Every attempt, success or failure, is recorded on the
// workflow for audit and idempotent replay detection.
type HandoffManager struct {
	maxAttempts uint64
	baseDelay   time.Duration
	timeout     time.Duration
	broadcaster *Broadcaster
	logger      *logging.Logger
	tracer      trace.Tracer
}

// HandoffConfig carries the deployment-level retry tunables.
type HandoffConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

// NewHandoffManager creates a manager with the given retry policy. Zero
// values fall back to 3 attempts, 500ms base delay and a 60s call timeout.
func NewHandoffManager(cfg HandoffConfig, broadcaster *Broadcaster, logger *logging.Logger) *HandoffManager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HandoffManager{
		maxAttempts: uint64(cfg.MaxAttempts),
		baseDelay:   cfg.BaseDelay,
		timeout:     cfg.Timeout,
		broadcaster: broadcaster,
		logger:      logger,
		tracer:      otel.Tracer("season-planner/handoff"),
	}
}

// ExecuteHandoff calls a collaborator with the manager's retry policy.
// Transient failures are retried with exponential backoff up to the attempt
// budget; the final failed attempt is marked exhausted. Permanent failures
// short-circuit without retry. Attempt records are appended to the workflow;
// the caller persists them with the surrounding phase transition.
func ExecuteHandoff[T any](ctx context.Context, m *HandoffManager, wf *models.Workflow, agentName string, snapshot ContextSnapshot, call func(context.Context, ContextSnapshot) (T, error)) (T, error) {
	var result T

	ctx, span := m.tracer.Start(ctx, "agent.handoff",
		trace.WithAttributes(
			attribute.String("agent.name", agentName),
			attribute.String("workflow.id", wf.ID),
		))
	defer span.End()

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return result, PermanentFailure(agentName, fmt.Errorf("marshal context snapshot: %w", err))
	}

	m.broadcaster.Publish(wf.ID, models.NewAgentStarted(agentName))
	started := time.Now()

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			m.broadcaster.Publish(wf.ID, models.NewAgentProgress(agentName,
				fmt.Sprintf("retrying after transient failure (attempt %d of %d)", attempt, m.maxAttempts),
				wf.ProgressPct))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		record := models.AgentHandoffRecord{
			ID:              uuid.New().String(),
			WorkflowID:      wf.ID,
			AgentName:       agentName,
			ContextSnapshot: snapshotJSON,
			Attempt:         attempt,
			StartedAt:       time.Now().UTC(),
		}

		callResult, callErr := call(attemptCtx, snapshot)
		record.FinishedAt = time.Now().UTC()

		if callErr != nil {
			record.Status = models.HandoffFailed
			record.Error = callErr.Error()
			wf.HandoffRecords = append(wf.HandoffRecords, record)
			m.logger.Warn("agent handoff attempt failed",
				"agent", agentName, "workflow_id", wf.ID, "attempt", attempt, "error", callErr)
			if !IsTransient(callErr) {
				return backoff.Permanent(callErr)
			}
			return callErr
		}

		if record.Result, err = json.Marshal(callResult); err != nil {
			record.Status = models.HandoffFailed
			record.Error = err.Error()
			wf.HandoffRecords = append(wf.HandoffRecords, record)
			return backoff.Permanent(PermanentFailure(agentName, fmt.Errorf("marshal result: %w", err)))
		}
		record.Status = models.HandoffSucceeded
		wf.HandoffRecords = append(wf.HandoffRecords, record)
		result = callResult
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.baseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	err = backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, m.maxAttempts-1), ctx))
	if err != nil {
		// Retries ran out on a transient failure: mark the final attempt.
		if IsTransient(err) && len(wf.HandoffRecords) > 0 {
			last := &wf.HandoffRecords[len(wf.HandoffRecords)-1]
			if last.AgentName == agentName && last.Status == models.HandoffFailed {
				last.Status = models.HandoffExhausted
			}
		}
		return result, fmt.Errorf("agent %s handoff: %w", agentName, err)
	}

	lastRecord := wf.HandoffRecords[len(wf.HandoffRecords)-1]
	m.broadcaster.Publish(wf.ID, models.NewAgentCompleted(agentName, time.Since(started), lastRecord.Result))
	m.logger.Info("agent handoff succeeded",
		"agent", agentName, "workflow_id", wf.ID, "attempts", attempt)
	return result, nil
}
