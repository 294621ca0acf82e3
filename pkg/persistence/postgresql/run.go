package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RunRepository handles run state. The status swap in TransitionRun is a
// single conditional UPDATE checked by affected-row count, never a
// read-then-write pair.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
	id
  , flow_id
  , version_id
  , tenant_id
  , status
  , input
  , context
  , started_at
  , updated_at
`

// CreateRun inserts a new run row.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.FlowRun) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewRunError("CreateRun", "", err)
		}

		run.ID = id.String()
	}

	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}

	run.UpdatedAt = now

	inputJSON, contextJSON, err := marshalRunDocs(run)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO flow_runs (id, flow_id, version_id, tenant_id, status, input, context, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.FlowID, run.VersionID, run.TenantID, run.Status, inputJSON, contextJSON, run.StartedAt, run.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	return nil
}

// GetRun loads a run by id.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.FlowRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM flow_runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetRun", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetRun", id, err)
	}

	return run, nil
}

// ListRunsByFlow returns a flow's runs, newest-first.
func (r *RunRepository) ListRunsByFlow(ctx context.Context, flowID string) ([]*models.FlowRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM flow_runs WHERE flow_id = $1 ORDER BY started_at DESC`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	return collectRuns(rows)
}

// TransitionRun performs the compare-and-swap: the UPDATE only matches when
// the current status is one of the expected ones, and the affected-row count
// tells the caller whether it won the claim.
func (r *RunRepository) TransitionRun(ctx context.Context, runID string, from []models.RunStatus, to models.RunStatus, contextPatch *models.RunContext) (bool, error) {
	fromStatuses := make([]string, len(from))
	for i, status := range from {
		fromStatuses[i] = string(status)
	}

	var (
		contextJSON []byte
		waitUntil   *time.Time
		err         error
	)

	if contextPatch != nil {
		contextJSON, err = json.Marshal(contextPatch)
		if err != nil {
			return false, persistence.NewRunError("TransitionRun", runID, err)
		}

		waitUntil = contextPatch.WaitUntil
	}

	// wait_until is denormalized from the context so the due-run index works.
	result, err := r.db.ExecContext(ctx,
		`UPDATE flow_runs
		 SET status = $1
		   , context = COALESCE($2, context)
		   , wait_until = CASE WHEN $2 IS NULL THEN wait_until ELSE $3 END
		   , updated_at = NOW()
		 WHERE id = $4 AND status = ANY ($5)`,
		to, contextJSON, waitUntil, runID, pq.Array(fromStatuses),
	)
	if err != nil {
		return false, persistence.NewRunError("TransitionRun", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewRunError("TransitionRun", runID, err)
	}

	return affected == 1, nil
}

// MergeRunInput overlays patch keys onto the stored input document.
func (r *RunRepository) MergeRunInput(ctx context.Context, runID string, patch map[string]any) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return persistence.NewRunError("MergeRunInput", runID, err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE flow_runs SET input = COALESCE(input, '{}'::jsonb) || $1::jsonb, updated_at = NOW() WHERE id = $2`,
		patchJSON, runID,
	)
	if err != nil {
		return persistence.NewRunError("MergeRunInput", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("MergeRunInput", runID, err)
	}

	if affected == 0 {
		return persistence.NewRunError("MergeRunInput", runID, persistence.ErrRunNotFound)
	}

	return nil
}

// ListDueWaitingRuns returns waiting runs whose wait_until has passed.
func (r *RunRepository) ListDueWaitingRuns(ctx context.Context, due time.Time) ([]*models.FlowRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM flow_runs WHERE status = 'waiting' AND wait_until IS NOT NULL AND wait_until <= $1`, due)
	if err != nil {
		return nil, fmt.Errorf("failed to query due runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	return collectRuns(rows)
}

func collectRuns(rows *sql.Rows) ([]*models.FlowRun, error) {
	runs := make([]*models.FlowRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(row rowScanner) (*models.FlowRun, error) {
	var (
		run         models.FlowRun
		inputJSON   []byte
		contextJSON []byte
	)

	err := row.Scan(
		&run.ID, &run.FlowID, &run.VersionID, &run.TenantID, &run.Status,
		&inputJSON, &contextJSON, &run.StartedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(inputJSON) > 0 {
		err = json.Unmarshal(inputJSON, &run.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal run input: %w", err)
		}
	}

	if len(contextJSON) > 0 {
		err = json.Unmarshal(contextJSON, &run.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
		}
	}

	return &run, nil
}

func marshalRunDocs(run *models.FlowRun) (inputJSON, contextJSON []byte, err error) {
	if run.Input != nil {
		inputJSON, err = json.Marshal(run.Input)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal run input: %w", err)
		}
	}

	if run.Context != nil {
		contextJSON, err = json.Marshal(run.Context)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal run context: %w", err)
		}
	}

	return inputJSON, contextJSON, nil
}
