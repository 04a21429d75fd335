// Package orchestrator drives the season-planning state machine. One logical,
// sequential machine runs per workflow; many workflows advance concurrently.
// The orchestrator is the only writer of a workflow record, every transition
// is a single version-guarded store write, and waiting states are durable:
// a process restart resumes from the persisted current_phase.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"season-planner/backend/internal/logging"
	"season-planner/backend/internal/repository"
	"season-planner/backend/internal/services"
	"season-planner/backend/pkg/models"
)

// ErrNotMonitoring is returned when weekly actuals arrive for a workflow that
// is not sitting in the monitoring phase.
var ErrNotMonitoring = errors.New("workflow is not in the monitoring phase")

// ErrTerminal is returned for operations on a completed, failed or cancelled
// workflow.
var ErrTerminal = errors.New("workflow is in a terminal state")

// conflictRetries bounds re-reads after an optimistic-lock loss. Conflicts
// are recoverable locally and never surfaced to the caller.
const conflictRetries = 5

// Orchestrator sequences the planning phases: it consults the phase gate,
// executes collaborator handoffs, feeds actuals to the variance monitor,
// opens approval pauses and emits status events throughout.
type Orchestrator struct {
	store       repository.WorkflowStore
	agents      services.AgentClients
	handoffs    *services.HandoffManager
	variance    *services.VarianceMonitor
	approvals   *services.ApprovalGateway
	broadcaster *services.Broadcaster
	logger      *logging.Logger
}

// New creates an orchestrator over the given store and collaborators.
func New(store repository.WorkflowStore, agents services.AgentClients, handoffs *services.HandoffManager,
	variance *services.VarianceMonitor, broadcaster *services.Broadcaster, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		store:       store,
		agents:      agents,
		handoffs:    handoffs,
		variance:    variance,
		approvals:   services.NewApprovalGateway(),
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// CreateWorkflow validates the parameters and persists a new workflow in the
// initial phase. Validation failures never enter the state machine. The
// caller drives execution with Advance.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, params models.ParameterContext) (*models.Workflow, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	for _, warning := range params.Warnings() {
		o.logger.Warn("parameter warning", "warning", warning)
	}

	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:               uuid.New().String(),
		Type:             models.WorkflowTypeSeasonPlan,
		Status:           models.WorkflowStatusRunning,
		CurrentPhase:     models.PhaseParametersExtracted,
		ProgressPct:      5,
		Parameters:       params,
		PhaseDecisions:   []models.PhaseDecision{},
		VarianceHistory:  []models.VarianceRecord{},
		ApprovalRequests: []models.ApprovalRequest{},
		HandoffRecords:   []models.AgentHandoffRecord{},
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	o.logger.Info("workflow created", "workflow_id", wf.ID, "horizon_weeks", params.ForecastHorizonWeeks)
	return wf, nil
}

// Advance runs the state machine until it reaches a durable suspension
// (a waiting phase or monitoring, which waits for reported actuals) or a
// terminal phase. It is safe to call on a freshly loaded workflow after a
// restart; execution re-enters at the persisted current_phase.
func (o *Orchestrator) Advance(ctx context.Context, workflowID string) error {
	for {
		wf, err := o.store.Get(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.IsTerminal() {
			return nil
		}

		switch wf.CurrentPhase {
		case models.PhaseParametersExtracted:
			err = o.recordGateDecisions(ctx, wf)
		case models.PhaseForecasting:
			err = o.runForecasting(ctx, wf)
		case models.PhaseAllocation:
			err = o.runAllocation(ctx, wf)
		case models.PhaseReplenishment:
			err = o.runReplenishment(ctx, wf)
		case models.PhaseMarkdownCheck:
			err = o.runMarkdownCheck(ctx, wf)
		case models.PhaseReforecast:
			err = o.runReforecast(ctx, wf)
		case models.PhaseMonitoring:
			// Re-entry evaluates the last recorded week, so a trigger whose
			// transition never committed still fires after a restart.
			next := o.pendingAfterWeek(wf)
			if next == "" {
				// Durable suspension: reported actuals resume the machine.
				return nil
			}
			err = o.transition(ctx, wf.ID, next, nil)
		case models.PhaseWaitingMfgApproval,
			models.PhaseWaitingMarkdownApproval:
			// Durable suspension: approval resolution resumes the machine.
			return nil
		default:
			return fmt.Errorf("unknown phase %q for workflow %s", wf.CurrentPhase, workflowID)
		}
		if err != nil {
			return err
		}
	}
}

// recordGateDecisions appends the execute-or-skip decisions for both optional
// phases and moves on to forecasting.
func (o *Orchestrator) recordGateDecisions(ctx context.Context, wf *models.Workflow) error {
	replenishment := services.DecidePhase(models.PhaseReplenishment, wf.Parameters)
	markdown := services.DecidePhase(models.PhaseMarkdownCheck, wf.Parameters)
	o.logger.Info("phase gate decided", "workflow_id", wf.ID,
		"replenishment", replenishment.Execute, "markdown", markdown.Execute)

	return o.transition(ctx, wf.ID, models.PhaseForecasting, func(wf *models.Workflow) error {
		wf.PhaseDecisions = append(wf.PhaseDecisions, replenishment, markdown)
		return nil
	})
}

// runForecasting executes the demand-estimation handoff and opens the
// manufacturing approval gate.
func (o *Orchestrator) runForecasting(ctx context.Context, wf *models.Workflow) error {
	snapshot := o.buildSnapshot(wf, models.ApprovalKindManufacturing)
	forecast, err := services.ExecuteHandoff(ctx, o.handoffs, wf, services.AgentForecaster, snapshot, o.agents.Forecaster.Forecast)
	if err != nil {
		return o.failWorkflow(ctx, wf, services.AgentForecaster, err)
	}

	payload, err := json.Marshal(forecast)
	if err != nil {
		return o.failWorkflow(ctx, wf, services.AgentForecaster, err)
	}
	records := wf.HandoffRecords

	err = o.transition(ctx, wf.ID, models.PhaseWaitingMfgApproval, func(wf *models.Workflow) error {
		wf.HandoffRecords = records
		wf.Forecast = forecast
		if _, openErr := o.approvals.Open(wf, models.ApprovalKindManufacturing, payload); openErr != nil {
			return openErr
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.broadcaster.Publish(wf.ID,
		models.NewHumanInputRequired(services.AgentForecaster, "approve_manufacturing_order", payload))
	return nil
}

// runAllocation executes the allocation handoff and enters monitoring.
func (o *Orchestrator) runAllocation(ctx context.Context, wf *models.Workflow) error {
	snapshot := o.buildSnapshot(wf, models.ApprovalKindManufacturing)
	allocation, err := services.ExecuteHandoff(ctx, o.handoffs, wf, services.AgentAllocator, snapshot, o.agents.Allocator.Allocate)
	if err != nil {
		return o.failWorkflow(ctx, wf, services.AgentAllocator, err)
	}
	records := wf.HandoffRecords

	return o.transition(ctx, wf.ID, models.PhaseMonitoring, func(wf *models.Workflow) error {
		wf.HandoffRecords = records
		wf.Allocation = allocation
		return nil
	})
}

// runReplenishment re-invokes the allocation collaborator to release the next
// tranche of the DC holdback, then returns control to monitoring.
func (o *Orchestrator) runReplenishment(ctx context.Context, wf *models.Workflow) error {
	snapshot := o.buildSnapshot(wf, models.ApprovalKindManufacturing)
	snapshot.CurrentWeek = wf.LastRecordedWeek()
	allocation, err := services.ExecuteHandoff(ctx, o.handoffs, wf, services.AgentAllocator, snapshot, o.agents.Allocator.Allocate)
	if err != nil {
		return o.failWorkflow(ctx, wf, services.AgentAllocator, err)
	}
	records := wf.HandoffRecords

	return o.transition(ctx, wf.ID, models.PhaseMonitoring, func(wf *models.Workflow) error {
		wf.HandoffRecords = records
		wf.Allocation = allocation
		wf.LastReplenishedWeek = wf.LastRecordedWeek()
		return nil
	})
}

// runMarkdownCheck executes the markdown-elasticity handoff and opens the
// markdown approval gate.
func (o *Orchestrator) runMarkdownCheck(ctx context.Context, wf *models.Workflow) error {
	snapshot := o.buildSnapshot(wf, models.ApprovalKindMarkdown)
	snapshot.CurrentWeek = wf.LastRecordedWeek()
	markdown, err := services.ExecuteHandoff(ctx, o.handoffs, wf, services.AgentPricing, snapshot, o.agents.Pricing.EvaluateMarkdown)
	if err != nil {
		return o.failWorkflow(ctx, wf, services.AgentPricing, err)
	}

	payload, err := json.Marshal(markdown)
	if err != nil {
		return o.failWorkflow(ctx, wf, services.AgentPricing, err)
	}
	records := wf.HandoffRecords

	err = o.transition(ctx, wf.ID, models.PhaseWaitingMarkdownApproval, func(wf *models.Workflow) error {
		wf.HandoffRecords = records
		wf.Markdown = markdown
		if _, openErr := o.approvals.Open(wf, models.ApprovalKindMarkdown, payload); openErr != nil {
			return openErr
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.broadcaster.Publish(wf.ID,
		models.NewHumanInputRequired(services.AgentPricing, "approve_markdown", payload))
	return nil
}

// runReforecast replaces the forecast baseline and returns to monitoring.
// Control resumes the same season; it never restarts planning from scratch.
func (o *Orchestrator) runReforecast(ctx context.Context, wf *models.Workflow) error {
	snapshot := o.buildSnapshot(wf, models.ApprovalKindManufacturing)
	snapshot.CurrentWeek = wf.LastRecordedWeek()
	forecast, err := services.ExecuteHandoff(ctx, o.handoffs, wf, services.AgentForecaster, snapshot, o.agents.Forecaster.Forecast)
	if err != nil {
		return o.failWorkflow(ctx, wf, services.AgentForecaster, err)
	}
	records := wf.HandoffRecords

	return o.transition(ctx, wf.ID, models.PhaseMonitoring, func(wf *models.Workflow) error {
		wf.HandoffRecords = records
		wf.Forecast = forecast
		wf.LastReforecastWeek = wf.LastRecordedWeek()
		return nil
	})
}

// RecordActuals ingests observed demand for one monitoring week, records the
// variance, and advances the machine through any phase the week triggers:
// re-forecast first, then the markdown checkpoint, then replenishment, then
// season completion.
func (o *Orchestrator) RecordActuals(ctx context.Context, workflowID string, week int, actualUnits float64, correction bool) (models.VarianceRecord, error) {
	wf, err := o.store.Get(ctx, workflowID)
	if err != nil {
		return models.VarianceRecord{}, err
	}
	if wf.IsTerminal() {
		return models.VarianceRecord{}, ErrTerminal
	}
	if wf.CurrentPhase != models.PhaseMonitoring {
		return models.VarianceRecord{}, fmt.Errorf("phase is %s: %w", wf.CurrentPhase, ErrNotMonitoring)
	}

	forecastUnits, ok := wf.Forecast.UnitsForWeek(week)
	if !ok {
		return models.VarianceRecord{}, fmt.Errorf("no forecast baseline for week %d", week)
	}

	var record models.VarianceRecord
	err = o.mutate(ctx, workflowID, func(wf *models.Workflow) error {
		record, err = o.variance.Record(wf, week, forecastUnits, actualUnits, correction)
		return err
	})
	if err != nil {
		return models.VarianceRecord{}, err
	}
	o.logger.Info("variance recorded", "workflow_id", workflowID, "week", week,
		"variance_pct", record.VariancePct, "reforecast", record.ReforecastTriggered)

	// The variance record is durable on its own; Advance picks up whatever
	// phase the week triggers, and a restart re-evaluates the same state.
	if err := o.Advance(ctx, workflowID); err != nil {
		return record, err
	}
	return record, nil
}

// pendingAfterWeek picks the phase triggered by the last recorded monitoring
// week, or "" to stay suspended. Evaluation order: unconsumed re-forecast
// trigger, then the markdown checkpoint, then season completion, then
// replenishment cadence. The checkpoint precedes completion so a checkpoint
// set on the final week still runs before the season closes.
func (o *Orchestrator) pendingAfterWeek(wf *models.Workflow) models.Phase {
	week := wf.LastRecordedWeek()
	if week == 0 {
		return ""
	}

	for i := range wf.VarianceHistory {
		record := &wf.VarianceHistory[i]
		if record.ReforecastTriggered && record.WeekNumber > wf.LastReforecastWeek {
			return models.PhaseReforecast
		}
	}
	if markdownGate := o.gateDecision(wf, models.PhaseMarkdownCheck); markdownGate != nil && markdownGate.Execute {
		if wf.Parameters.MarkdownCheckpointWeek != nil && week == *wf.Parameters.MarkdownCheckpointWeek && wf.Markdown == nil {
			return models.PhaseMarkdownCheck
		}
	}
	if week >= wf.Parameters.ForecastHorizonWeeks {
		return models.PhaseCompleted
	}
	if replenishmentGate := o.gateDecision(wf, models.PhaseReplenishment); replenishmentGate != nil && replenishmentGate.Execute {
		if cadence := wf.Parameters.ReplenishmentStrategy.CadenceWeeks(); cadence > 0 && week%cadence == 0 && wf.LastReplenishedWeek < week {
			return models.PhaseReplenishment
		}
	}
	return ""
}

func (o *Orchestrator) gateDecision(wf *models.Workflow, phase models.Phase) *models.PhaseDecision {
	for i := range wf.PhaseDecisions {
		if wf.PhaseDecisions[i].PhaseID == phase {
			return &wf.PhaseDecisions[i]
		}
	}
	return nil
}

// ResolveApproval applies a human decision and moves the workflow out of the
// waiting phase: accept advances, modify re-runs the preceding phase with the
// modifications merged into its context, reject fails the workflow with a
// user-attributable reason.
func (o *Orchestrator) ResolveApproval(ctx context.Context, requestID string, action models.ApprovalAction, modifications json.RawMessage, reason string) (*models.ApprovalRequest, error) {
	wf, err := o.store.GetByApprovalID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var resolved models.ApprovalRequest
	var next models.Phase
	err = o.mutate(ctx, wf.ID, func(wf *models.Workflow) error {
		request, resolveErr := o.approvals.Resolve(wf, requestID, action, modifications, reason)
		if resolveErr != nil {
			return resolveErr
		}
		resolved = *request

		switch action {
		case models.ApprovalActionAccept:
			if request.Kind == models.ApprovalKindManufacturing {
				next = models.PhaseAllocation
			} else {
				next = models.PhaseMonitoring
			}
		case models.ApprovalActionModify:
			if request.Kind == models.ApprovalKindManufacturing {
				next = models.PhaseForecasting
			} else {
				next = models.PhaseMarkdownCheck
				wf.Markdown = nil
			}
		case models.ApprovalActionReject:
			next = models.PhaseError
			kind := "manufacturing order"
			if request.Kind == models.ApprovalKindMarkdown {
				kind = "markdown recommendation"
			}
			wf.Error = fmt.Sprintf("%s rejected by approver", kind)
			if reason != "" {
				wf.Error += ": " + reason
			}
		}
		return applyTransition(wf, next)
	})
	if err != nil {
		return nil, err
	}

	if next == models.PhaseError {
		o.broadcaster.Publish(wf.ID, models.NewErrorEvent(string(resolved.Kind)+"_approval", resolved.Reason))
		o.logger.Info("workflow rejected by approver", "workflow_id", wf.ID, "request_id", requestID)
		return &resolved, nil
	}
	if err := o.Advance(ctx, wf.ID); err != nil {
		o.logger.Error("advance after approval failed", "workflow_id", wf.ID, "error", err)
	}
	return &resolved, nil
}

// Cancel stops a workflow at the next transition boundary. Any pending
// approval request is voided.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	err := o.mutate(ctx, workflowID, func(wf *models.Workflow) error {
		if wf.IsTerminal() {
			return ErrTerminal
		}
		o.approvals.VoidPending(wf)
		return applyTransition(wf, models.PhaseCancelled)
	})
	if err != nil {
		return err
	}
	o.logger.Info("workflow cancelled", "workflow_id", workflowID)
	return nil
}

// Resume re-enters the state machine for every non-terminal workflow. Called
// once at startup; workflows parked in waiting or monitoring phases stay
// suspended until external input arrives.
func (o *Orchestrator) Resume(ctx context.Context) error {
	active, err := o.store.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, wf := range active {
		o.logger.Info("resuming workflow", "workflow_id", wf.ID, "phase", wf.CurrentPhase)
		if err := o.Advance(ctx, wf.ID); err != nil {
			o.logger.Error("resume failed", "workflow_id", wf.ID, "error", err)
		}
	}
	return nil
}

// SweepExpiredApprovals fails workflows whose pending approval outlived the
// configured TTL. A zero TTL disables the sweep; approval waits are unbounded
// by default.
func (o *Orchestrator) SweepExpiredApprovals(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	active, err := o.store.ListActive(ctx)
	if err != nil {
		o.logger.Error("approval sweep failed", "error", err)
		return
	}
	now := time.Now()
	for _, wf := range active {
		id := wf.ID
		err := o.mutate(ctx, id, func(wf *models.Workflow) error {
			expired := o.approvals.ExpirePending(wf, ttl, now)
			if expired == nil {
				return errNothingExpired
			}
			wf.Error = expired.Reason
			return applyTransition(wf, models.PhaseError)
		})
		if err != nil && !errors.Is(err, errNothingExpired) {
			o.logger.Error("approval expiry failed", "workflow_id", id, "error", err)
			continue
		}
		if err == nil {
			o.broadcaster.Publish(id, models.NewErrorEvent("approval_gate", "approval request expired"))
			o.logger.Warn("approval request expired", "workflow_id", id)
		}
	}
}

var errNothingExpired = errors.New("no expired approval")

// buildSnapshot assembles the self-contained context for a handoff, including
// modifications from the most recent modified approval of the matching kind.
func (o *Orchestrator) buildSnapshot(wf *models.Workflow, kind models.ApprovalKind) services.ContextSnapshot {
	snapshot := services.ContextSnapshot{
		WorkflowID:      wf.ID,
		Parameters:      wf.Parameters,
		Forecast:        wf.Forecast,
		Allocation:      wf.Allocation,
		VarianceHistory: wf.VarianceHistory,
	}
	for i := len(wf.ApprovalRequests) - 1; i >= 0; i-- {
		request := wf.ApprovalRequests[i]
		if request.Kind == kind && request.Status == models.ApprovalStatusModified {
			snapshot.Modifications = request.Modifications
			break
		}
	}
	return snapshot
}

// failWorkflow moves the workflow to ERROR with a human-readable message and
// emits an error event. The original handoff error is returned to the caller.
func (o *Orchestrator) failWorkflow(ctx context.Context, wf *models.Workflow, agent string, cause error) error {
	records := wf.HandoffRecords
	err := o.mutate(ctx, wf.ID, func(wf *models.Workflow) error {
		wf.HandoffRecords = records
		wf.Error = fmt.Sprintf("agent %s failed: %v", agent, cause)
		return applyTransition(wf, models.PhaseError)
	})
	if err != nil {
		return err
	}
	o.broadcaster.Publish(wf.ID, models.NewErrorEvent(agent, cause.Error()))
	o.logger.Error("workflow failed", "workflow_id", wf.ID, "agent", agent, "error", cause)
	return cause
}

// transition validates and applies a single phase transition, running apply
// (which may append history or open approvals) under the same guarded write.
func (o *Orchestrator) transition(ctx context.Context, workflowID string, next models.Phase, apply func(*models.Workflow) error) error {
	err := o.mutate(ctx, workflowID, func(wf *models.Workflow) error {
		if apply != nil {
			if err := apply(wf); err != nil {
				return err
			}
		}
		return applyTransition(wf, next)
	})
	if err != nil {
		return err
	}
	if next == models.PhaseCompleted {
		o.announceCompletion(ctx, workflowID)
	}
	return nil
}

// applyTransition mutates phase, status, progress and timestamps in memory
// after validating the move. The caller persists the result.
func applyTransition(wf *models.Workflow, next models.Phase) error {
	if err := models.ValidateTransition(wf.CurrentPhase, next); err != nil {
		return err
	}
	wf.ProgressPct = wf.Progress(next)
	wf.CurrentPhase = next
	wf.Status = models.StatusForPhase(next)
	wf.UpdatedAt = time.Now().UTC()
	if wf.IsTerminal() {
		completed := wf.UpdatedAt
		wf.CompletedAt = &completed
	}
	return nil
}

func (o *Orchestrator) announceCompletion(ctx context.Context, workflowID string) {
	wf, err := o.store.Get(ctx, workflowID)
	if err != nil {
		return
	}
	results, err := json.Marshal(models.Results{
		Forecast:   wf.Forecast,
		Allocation: wf.Allocation,
		Markdown:   wf.Markdown,
		Variance:   wf.VarianceHistory,
	})
	if err != nil {
		return
	}
	o.broadcaster.Publish(workflowID,
		models.NewWorkflowComplete(workflowID, wf.UpdatedAt.Sub(wf.CreatedAt), results))
	o.logger.Info("workflow completed", "workflow_id", workflowID)
}

// mutate loads the workflow, applies fn and writes it back, retrying with a
// fresh read when a concurrent writer wins the version race. The conflict is
// recovered here and never surfaced to the caller.
func (o *Orchestrator) mutate(ctx context.Context, workflowID string, fn func(*models.Workflow) error) error {
	for attempt := 0; ; attempt++ {
		wf, err := o.store.Get(ctx, workflowID)
		if err != nil {
			return err
		}
		if err := fn(wf); err != nil {
			return err
		}
		err = o.store.Update(ctx, wf)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= conflictRetries {
			return err
		}
		o.logger.Debug("version conflict, retrying", "workflow_id", workflowID, "attempt", attempt+1)
	}
}
