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
)

// VersionRepository handles version snapshot operations.
type VersionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(db *sql.DB, logger *slog.Logger) *VersionRepository {
	return &VersionRepository{db: db, logger: logger}
}

// CreateVersion assigns the next version number and repoints the flow, all in
// one transaction. The flow row is locked for the duration, so concurrent
// calls serialize and the UNIQUE (flow_id, version) constraint never fires
// under normal operation.
func (r *VersionRepository) CreateVersion(ctx context.Context, flowID string, graph *models.Graph, publish bool) (*models.FlowVersion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewFlowError("CreateVersion", flowID, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var flowStatus string

	err = tx.QueryRowContext(ctx,
		`SELECT status FROM flows WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, flowID,
	).Scan(&flowStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewFlowError("CreateVersion", flowID, persistence.ErrFlowNotFound)
		}

		return nil, persistence.NewFlowError("CreateVersion", flowID, err)
	}

	var next int

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM flow_versions WHERE flow_id = $1`, flowID,
	).Scan(&next)
	if err != nil {
		return nil, persistence.NewFlowError("CreateVersion", flowID, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, persistence.NewFlowError("CreateVersion", flowID, err)
	}

	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return nil, persistence.NewFlowError("CreateVersion", flowID, fmt.Errorf("failed to marshal graph: %w", err))
	}

	version := &models.FlowVersion{
		ID:          id.String(),
		FlowID:      flowID,
		Version:     next,
		IsPublished: publish,
		Graph:       graph.Clone(),
		CreatedAt:   time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO flow_versions (id, flow_id, version, is_published, graph, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		version.ID, version.FlowID, version.Version, version.IsPublished, graphJSON, version.CreatedAt,
	)
	if err != nil {
		return nil, persistence.NewFlowError("CreateVersion", flowID, err)
	}

	status := models.FlowStatusDraft
	if publish {
		status = models.FlowStatusPublished
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE flows SET current_version_id = $1, status = $2, updated_at = NOW() WHERE id = $3`,
		version.ID, status, flowID,
	)
	if err != nil {
		return nil, persistence.NewFlowError("CreateVersion", flowID, err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, persistence.NewFlowError("CreateVersion", flowID, err)
	}

	return version, nil
}

// GetVersion loads a version snapshot by id.
func (r *VersionRepository) GetVersion(ctx context.Context, id string) (*models.FlowVersion, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, flow_id, version, is_published, graph, created_at FROM flow_versions WHERE id = $1`, id)

	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrVersionNotFound
		}

		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	return version, nil
}

// ListVersions returns a flow's versions newest-first.
func (r *VersionRepository) ListVersions(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, flow_id, version, is_published, graph, created_at
		 FROM flow_versions WHERE flow_id = $1 ORDER BY version DESC`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	versions := make([]*models.FlowVersion, 0)

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		versions = append(versions, version)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

func scanVersion(row rowScanner) (*models.FlowVersion, error) {
	var (
		version   models.FlowVersion
		graphJSON []byte
	)

	err := row.Scan(&version.ID, &version.FlowID, &version.Version, &version.IsPublished, &graphJSON, &version.CreatedAt)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(graphJSON, &version.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}

	return &version, nil
}
