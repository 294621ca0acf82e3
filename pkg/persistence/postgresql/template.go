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

// TemplateRepository stores reusable graph blueprints.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

// SaveTemplate inserts or updates a template.
func (r *TemplateRepository) SaveTemplate(ctx context.Context, template *models.FlowTemplate) error {
	if template.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate template ID: %w", err)
		}

		template.ID = id.String()
	}

	if template.CreatedAt.IsZero() {
		template.CreatedAt = time.Now().UTC()
	}

	graphJSON, err := json.Marshal(template.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal template graph: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO flow_templates (id, tenant_id, name, description, graph, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , graph = EXCLUDED.graph`,
		template.ID, template.TenantID, template.Name, template.Description, graphJSON, template.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template %s: %w", template.ID, err)
	}

	return nil
}

// GetTemplate loads a template by id.
func (r *TemplateRepository) GetTemplate(ctx context.Context, id string) (*models.FlowTemplate, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, description, graph, created_at FROM flow_templates WHERE id = $1`, id)

	template, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTemplateNotFound
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

// ListTemplates returns global templates plus the tenant's own, newest-first.
func (r *TemplateRepository) ListTemplates(ctx context.Context, tenantID string) ([]*models.FlowTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, description, graph, created_at
		 FROM flow_templates WHERE tenant_id = '' OR tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.FlowTemplate, 0)

	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

func scanTemplate(row rowScanner) (*models.FlowTemplate, error) {
	var (
		template  models.FlowTemplate
		graphJSON []byte
	)

	err := row.Scan(&template.ID, &template.TenantID, &template.Name, &template.Description, &graphJSON, &template.CreatedAt)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(graphJSON, &template.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal template graph: %w", err)
	}

	return &template, nil
}
