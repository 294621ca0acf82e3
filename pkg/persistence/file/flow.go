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

// FlowRepository stores flows as flows/<id>.json under the root.
type FlowRepository struct {
	root string
	mu   sync.Mutex
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
}

func (fr *FlowRepository) dir() string {
	return filepath.Join(fr.root, "flows")
}

// Save persists a flow, assigning an id and timestamps on first write.
func (fr *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	return fr.saveLocked(flow)
}

func (fr *FlowRepository) saveLocked(flow *models.Flow) error {
	now := time.Now().UTC()

	if flow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewFlowError("Save", "", err)
		}

		flow.ID = id.String()
	}

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	err := os.MkdirAll(fr.dir(), 0750)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	data, err := json.Marshal(flow)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	err = os.WriteFile(filepath.Join(fr.dir(), flow.ID+".json"), data, 0600)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	return nil
}

// GetByID loads a flow by id.
func (fr *FlowRepository) GetByID(_ context.Context, id string) (*models.Flow, error) {
	return fr.getByID(id)
}

func (fr *FlowRepository) getByID(id string) (*models.Flow, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	data, err := os.ReadFile(filepath.Join(fr.dir(), id+".json")) // #nosec G304 -- id is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
		}

		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	var flow models.Flow

	err = json.Unmarshal(data, &flow)
	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, fmt.Errorf("corrupt flow file: %w", err))
	}

	return &flow, nil
}

// ListByTenant returns a tenant's flows, newest-first.
func (fr *FlowRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.Flow, error) {
	files, err := fs.Glob(os.DirFS(fr.dir()), "*.json")
	if err != nil {
		return nil, persistence.NewFlowError("ListByTenant", "", err)
	}

	flows := make([]*models.Flow, 0, len(files))

	for _, file := range files {
		flow, err := fr.getByID(file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		if flow.TenantID != tenantID || flow.DeletedAt != nil {
			continue
		}

		flows = append(flows, flow)
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})

	return flows, nil
}

// Delete removes a flow file. Versions and runs are kept; they still carry
// the immutable graph snapshots referenced by history.
func (fr *FlowRepository) Delete(_ context.Context, id string) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if err := validateID(id); err != nil {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	err := os.Remove(filepath.Join(fr.dir(), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
		}

		return persistence.NewFlowError("Delete", id, err)
	}

	return nil
}
