package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/google/uuid"
)

// TemplateRepository stores templates as templates/<id>.json.
type TemplateRepository struct {
	root string
	mu   sync.Mutex
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(root string) *TemplateRepository {
	return &TemplateRepository{root: root}
}

func (tr *TemplateRepository) dir() string {
	return filepath.Join(tr.root, "templates")
}

// SaveTemplate persists a template blueprint.
func (tr *TemplateRepository) SaveTemplate(_ context.Context, template *models.FlowTemplate) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

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

	err := os.MkdirAll(tr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create templates directory: %w", err)
	}

	data, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal template %s: %w", template.ID, err)
	}

	err = os.WriteFile(filepath.Join(tr.dir(), template.ID+".json"), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write template %s: %w", template.ID, err)
	}

	return nil
}

// GetTemplate loads a template by id.
func (tr *TemplateRepository) GetTemplate(_ context.Context, id string) (*models.FlowTemplate, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.ErrTemplateNotFound
	}

	data, err := os.ReadFile(filepath.Join(tr.dir(), id+".json")) // #nosec G304 -- id is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrTemplateNotFound
		}

		return nil, fmt.Errorf("failed to read template %s: %w", id, err)
	}

	var template models.FlowTemplate

	err = json.Unmarshal(data, &template)
	if err != nil {
		return nil, fmt.Errorf("corrupt template file %s: %w", id, err)
	}

	return &template, nil
}

// ListTemplates returns global templates plus the tenant's own, newest-first.
func (tr *TemplateRepository) ListTemplates(ctx context.Context, tenantID string) ([]*models.FlowTemplate, error) {
	files, err := fs.Glob(os.DirFS(tr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list template files: %w", err)
	}

	templates := make([]*models.FlowTemplate, 0, len(files))

	for _, file := range files {
		template, err := tr.GetTemplate(ctx, file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		if template.TenantID != "" && template.TenantID != tenantID {
			continue
		}

		templates = append(templates, template)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].CreatedAt.After(templates[j].CreatedAt)
	})

	return templates, nil
}
