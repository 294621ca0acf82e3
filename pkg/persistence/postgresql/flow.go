package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/google/uuid"
)

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

const flowColumns = `
	id
  , tenant_id
  , name
  , description
  , status
  , current_version_id
  , created_at
  , updated_at
  , deleted_at
`

// Save inserts or updates a flow.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	if flow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewFlowError("Save", "", err)
		}

		flow.ID = id.String()
	}

	query := `
		INSERT INTO flows (id, tenant_id, name, description, status, current_version_id, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , status = EXCLUDED.status
		  , current_version_id = EXCLUDED.current_version_id
		  , updated_at = EXCLUDED.updated_at
		  , deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.db.ExecContext(ctx, query,
		flow.ID, flow.TenantID, flow.Name, flow.Description, flow.Status,
		flow.CurrentVersionID, flow.CreatedAt, flow.UpdatedAt, flow.DeletedAt,
	)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	return nil
}

// GetByID loads a flow by id.
func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE id = $1 AND deleted_at IS NULL`

	flow, err := scanFlow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
		}

		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return flow, nil
}

// ListByTenant returns a tenant's flows, newest-first.
func (r *FlowRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

// Delete soft-deletes a flow. Versions and runs keep their snapshots.
func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE flows SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*models.Flow, error) {
	var (
		flow             models.Flow
		currentVersionID sql.NullString
		deletedAt        sql.NullTime
	)

	err := row.Scan(
		&flow.ID, &flow.TenantID, &flow.Name, &flow.Description, &flow.Status,
		&currentVersionID, &flow.CreatedAt, &flow.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if currentVersionID.Valid {
		flow.CurrentVersionID = currentVersionID.String
	}

	if deletedAt.Valid {
		flow.DeletedAt = &deletedAt.Time
	}

	return &flow, nil
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
