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

// VersionRepository stores version snapshots as versions/<id>.json.
// Version-number assignment and the flow repoint happen under one lock, so
// concurrent CreateVersion calls for the same flow serialize and the numbers
// stay gap-free.
type VersionRepository struct {
	root     string
	flowRepo *FlowRepository
	mu       sync.Mutex
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(root string, flowRepo *FlowRepository) *VersionRepository {
	return &VersionRepository{root: root, flowRepo: flowRepo}
}

func (vr *VersionRepository) dir() string {
	return filepath.Join(vr.root, "versions")
}

// CreateVersion assigns max(existing)+1, persists the snapshot, and repoints
// the owning flow's CurrentVersionID at it.
func (vr *VersionRepository) CreateVersion(ctx context.Context, flowID string, graph *models.Graph, publish bool) (*models.FlowVersion, error) {
	vr.mu.Lock()
	defer vr.mu.Unlock()

	flow, err := vr.flowRepo.getByID(flowID)
	if err != nil {
		return nil, err
	}

	existing, err := vr.listByFlow(flowID)
	if err != nil {
		return nil, err
	}

	next := 1
	if len(existing) > 0 {
		next = existing[0].Version + 1
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, persistence.NewFlowError("CreateVersion", flowID, err)
	}

	version := &models.FlowVersion{
		ID:          id.String(),
		FlowID:      flowID,
		Version:     next,
		IsPublished: publish,
		Graph:       graph.Clone(),
		CreatedAt:   time.Now().UTC(),
	}

	err = vr.write(version)
	if err != nil {
		return nil, err
	}

	flow.CurrentVersionID = version.ID
	if publish {
		flow.Status = models.FlowStatusPublished
	} else {
		flow.Status = models.FlowStatusDraft
	}

	vr.flowRepo.mu.Lock()
	err = vr.flowRepo.saveLocked(flow)
	vr.flowRepo.mu.Unlock()

	if err != nil {
		// Roll the snapshot back so the flow never points at a half-created
		// version after a failed repoint.
		_ = os.Remove(filepath.Join(vr.dir(), version.ID+".json"))

		return nil, err
	}

	return version, nil
}

func (vr *VersionRepository) write(version *models.FlowVersion) error {
	err := os.MkdirAll(vr.dir(), 0750)
	if err != nil {
		return persistence.NewFlowError("CreateVersion", version.FlowID, err)
	}

	data, err := json.Marshal(version)
	if err != nil {
		return persistence.NewFlowError("CreateVersion", version.FlowID, err)
	}

	err = os.WriteFile(filepath.Join(vr.dir(), version.ID+".json"), data, 0600)
	if err != nil {
		return persistence.NewFlowError("CreateVersion", version.FlowID, err)
	}

	return nil
}

// GetVersion loads a version snapshot by id.
func (vr *VersionRepository) GetVersion(_ context.Context, id string) (*models.FlowVersion, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.ErrVersionNotFound
	}

	data, err := os.ReadFile(filepath.Join(vr.dir(), id+".json")) // #nosec G304 -- id is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrVersionNotFound
		}

		return nil, fmt.Errorf("failed to read version %s: %w", id, err)
	}

	var version models.FlowVersion

	err = json.Unmarshal(data, &version)
	if err != nil {
		return nil, fmt.Errorf("corrupt version file %s: %w", id, err)
	}

	return &version, nil
}

// ListVersions returns a flow's versions newest-first.
func (vr *VersionRepository) ListVersions(_ context.Context, flowID string) ([]*models.FlowVersion, error) {
	return vr.listByFlow(flowID)
}

func (vr *VersionRepository) listByFlow(flowID string) ([]*models.FlowVersion, error) {
	files, err := fs.Glob(os.DirFS(vr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list version files: %w", err)
	}

	versions := make([]*models.FlowVersion, 0)

	for _, file := range files {
		version, err := vr.GetVersion(context.Background(), file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		if version.FlowID == flowID {
			versions = append(versions, version)
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version > versions[j].Version
	})

	return versions, nil
}
