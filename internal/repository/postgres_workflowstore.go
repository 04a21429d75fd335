package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"season-planner/backend/pkg/models"
)

// PostgresWorkflowStore is a PostgreSQL implementation of the WorkflowStore
// interface. Each workflow is one row; the history collections are stored as
// JSONB and written atomically with the phase transition that produced them.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

// Migrate creates the workflow table if it does not exist.
func (s *PostgresWorkflowStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS season_workflows (
		id                TEXT PRIMARY KEY,
		type              TEXT NOT NULL,
		status            TEXT NOT NULL,
		current_phase     TEXT NOT NULL,
		progress_pct      INT NOT NULL DEFAULT 0,
		version           INT NOT NULL DEFAULT 1,
		parameters        JSONB NOT NULL,
		forecast          JSONB,
		allocation        JSONB,
		markdown          JSONB,
		phase_decisions   JSONB NOT NULL DEFAULT '[]',
		variance_history  JSONB NOT NULL DEFAULT '[]',
		approval_requests JSONB NOT NULL DEFAULT '[]',
		handoff_records   JSONB NOT NULL DEFAULT '[]',
		error             TEXT NOT NULL DEFAULT '',
		last_reforecast_week   INT NOT NULL DEFAULT 0,
		last_replenished_week  INT NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		completed_at      TIMESTAMPTZ
	)`)
	if err != nil {
		return fmt.Errorf("create season_workflows table: %w", err)
	}
	return nil
}

const workflowColumns = `id, type, status, current_phase, progress_pct, version,
	parameters, forecast, allocation, markdown,
	phase_decisions, variance_history, approval_requests, handoff_records,
	error, last_reforecast_week, last_replenished_week, created_at, updated_at, completed_at`

// Create persists a new workflow record.
func (s *PostgresWorkflowStore) Create(ctx context.Context, wf *models.Workflow) error {
	params, histories, err := marshalWorkflow(wf)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO season_workflows (`+workflowColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		wf.ID, wf.Type, wf.Status, wf.CurrentPhase, wf.ProgressPct, wf.Version,
		params.parameters, params.forecast, params.allocation, params.markdown,
		histories.decisions, histories.variance, histories.approvals, histories.handoffs,
		wf.Error, wf.LastReforecastWeek, wf.LastReplenishedWeek, wf.CreatedAt, wf.UpdatedAt, wf.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert workflow %s: %w", wf.ID, err)
	}
	return nil
}

// Get retrieves a workflow by its ID.
func (s *PostgresWorkflowStore) Get(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM season_workflows WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return wf, err
}

// Update writes the workflow guarded by its version field. The row is only
// updated when the stored version matches wf.Version; the write bumps the
// version so a stale writer fails with ErrVersionConflict.
func (s *PostgresWorkflowStore) Update(ctx context.Context, wf *models.Workflow) error {
	params, histories, err := marshalWorkflow(wf)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE season_workflows SET
		status = $2, current_phase = $3, progress_pct = $4, version = version + 1,
		parameters = $5, forecast = $6, allocation = $7, markdown = $8,
		phase_decisions = $9, variance_history = $10, approval_requests = $11, handoff_records = $12,
		error = $13, last_reforecast_week = $14, last_replenished_week = $15,
		updated_at = $16, completed_at = $17
		WHERE id = $1 AND version = $18`,
		wf.ID, wf.Status, wf.CurrentPhase, wf.ProgressPct,
		params.parameters, params.forecast, params.allocation, params.markdown,
		histories.decisions, histories.variance, histories.approvals, histories.handoffs,
		wf.Error, wf.LastReforecastWeek, wf.LastReplenishedWeek, wf.UpdatedAt, wf.CompletedAt, wf.Version)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", wf.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM season_workflows WHERE id = $1)`, wf.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check workflow %s: %w", wf.ID, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	wf.Version++
	return nil
}

// List returns all workflow records, newest first.
func (s *PostgresWorkflowStore) List(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+workflowColumns+` FROM season_workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

// ListActive returns workflows in a non-terminal phase.
func (s *PostgresWorkflowStore) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx, `SELECT `+workflowColumns+` FROM season_workflows
		WHERE current_phase NOT IN ($1, $2, $3) ORDER BY created_at`,
		models.PhaseCompleted, models.PhaseError, models.PhaseCancelled)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

// GetByApprovalID finds the workflow whose approval history contains the
// request with the given ID.
func (s *PostgresWorkflowStore) GetByApprovalID(ctx context.Context, approvalID string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM season_workflows
		WHERE approval_requests @> jsonb_build_array(jsonb_build_object('id', $1::text))`, approvalID)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return wf, err
}

// Ping verifies database connectivity.
func (s *PostgresWorkflowStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type jsonColumns struct {
	parameters []byte
	forecast   []byte
	allocation []byte
	markdown   []byte
}

type historyColumns struct {
	decisions []byte
	variance  []byte
	approvals []byte
	handoffs  []byte
}

func marshalWorkflow(wf *models.Workflow) (jsonColumns, historyColumns, error) {
	var cols jsonColumns
	var hist historyColumns
	var err error

	if cols.parameters, err = json.Marshal(wf.Parameters); err != nil {
		return cols, hist, fmt.Errorf("marshal parameters: %w", err)
	}
	if cols.forecast, err = marshalNullable(wf.Forecast); err != nil {
		return cols, hist, err
	}
	if cols.allocation, err = marshalNullable(wf.Allocation); err != nil {
		return cols, hist, err
	}
	if cols.markdown, err = marshalNullable(wf.Markdown); err != nil {
		return cols, hist, err
	}
	if hist.decisions, err = marshalHistory(wf.PhaseDecisions); err != nil {
		return cols, hist, err
	}
	if hist.variance, err = marshalHistory(wf.VarianceHistory); err != nil {
		return cols, hist, err
	}
	if hist.approvals, err = marshalHistory(wf.ApprovalRequests); err != nil {
		return cols, hist, err
	}
	if hist.handoffs, err = marshalHistory(wf.HandoffRecords); err != nil {
		return cols, hist, err
	}
	return cols, hist, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case *models.ForecastResult:
		if t == nil {
			return nil, nil
		}
	case *models.AllocationResult:
		if t == nil {
			return nil, nil
		}
	case *models.MarkdownResult:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow column: %w", err)
	}
	return b, nil
}

func marshalHistory[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow history: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var wf models.Workflow
	var parameters, forecast, allocation, markdown []byte
	var decisions, variance, approvals, handoffs []byte
	var completedAt *time.Time

	err := row.Scan(&wf.ID, &wf.Type, &wf.Status, &wf.CurrentPhase, &wf.ProgressPct, &wf.Version,
		&parameters, &forecast, &allocation, &markdown,
		&decisions, &variance, &approvals, &handoffs,
		&wf.Error, &wf.LastReforecastWeek, &wf.LastReplenishedWeek, &wf.CreatedAt, &wf.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	wf.CompletedAt = completedAt

	if err := json.Unmarshal(parameters, &wf.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters for %s: %w", wf.ID, err)
	}
	if err := unmarshalNullable(forecast, &wf.Forecast); err != nil {
		return nil, fmt.Errorf("unmarshal forecast for %s: %w", wf.ID, err)
	}
	if err := unmarshalNullable(allocation, &wf.Allocation); err != nil {
		return nil, fmt.Errorf("unmarshal allocation for %s: %w", wf.ID, err)
	}
	if err := unmarshalNullable(markdown, &wf.Markdown); err != nil {
		return nil, fmt.Errorf("unmarshal markdown for %s: %w", wf.ID, err)
	}
	if err := json.Unmarshal(decisions, &wf.PhaseDecisions); err != nil {
		return nil, fmt.Errorf("unmarshal phase decisions for %s: %w", wf.ID, err)
	}
	if err := json.Unmarshal(variance, &wf.VarianceHistory); err != nil {
		return nil, fmt.Errorf("unmarshal variance history for %s: %w", wf.ID, err)
	}
	if err := json.Unmarshal(approvals, &wf.ApprovalRequests); err != nil {
		return nil, fmt.Errorf("unmarshal approval requests for %s: %w", wf.ID, err)
	}
	if err := json.Unmarshal(handoffs, &wf.HandoffRecords); err != nil {
		return nil, fmt.Errorf("unmarshal handoff records for %s: %w", wf.ID, err)
	}
	return &wf, nil
}

func unmarshalNullable[T any](data []byte, dst **T) error {
	if len(data) == 0 {
		*dst = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

func scanWorkflows(rows pgx.Rows) ([]*models.Workflow, error) {
	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}
