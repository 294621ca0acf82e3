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

// RunRepository stores runs as runs/<id>.json. TransitionRun holds the
// repository lock across the read-check-write, which makes the status swap
// atomic within the process, sufficient for a dev/test backend where all
// executors share this repository instance.
type RunRepository struct {
	root string
	mu   sync.Mutex
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) dir() string {
	return filepath.Join(rr.root, "runs")
}

// CreateRun persists a new run, assigning an id and timestamps.
func (rr *RunRepository) CreateRun(_ context.Context, run *models.FlowRun) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

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

	return rr.write(run)
}

func (rr *RunRepository) write(run *models.FlowRun) error {
	err := os.MkdirAll(rr.dir(), 0750)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	err = os.WriteFile(filepath.Join(rr.dir(), run.ID+".json"), data, 0600)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

func (rr *RunRepository) read(id string) (*models.FlowRun, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewRunError("GetRun", id, persistence.ErrRunNotFound)
	}

	data, err := os.ReadFile(filepath.Join(rr.dir(), id+".json")) // #nosec G304 -- id is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewRunError("GetRun", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetRun", id, err)
	}

	var run models.FlowRun

	err = json.Unmarshal(data, &run)
	if err != nil {
		return nil, persistence.NewRunError("GetRun", id, fmt.Errorf("corrupt run file: %w", err))
	}

	return &run, nil
}

// GetRun loads a run by id.
func (rr *RunRepository) GetRun(_ context.Context, id string) (*models.FlowRun, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	return rr.read(id)
}

// ListRunsByFlow returns a flow's runs, newest-first.
func (rr *RunRepository) ListRunsByFlow(_ context.Context, flowID string) ([]*models.FlowRun, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	runs, err := rr.scan(func(run *models.FlowRun) bool {
		return run.FlowID == flowID
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}

// TransitionRun performs the conditional status swap under the repository
// lock. Returns false without writing when the current status matches none
// of the from statuses.
func (rr *RunRepository) TransitionRun(_ context.Context, runID string, from []models.RunStatus, to models.RunStatus, contextPatch *models.RunContext) (bool, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	run, err := rr.read(runID)
	if err != nil {
		return false, err
	}

	matched := false

	for _, status := range from {
		if run.Status == status {
			matched = true

			break
		}
	}

	if !matched {
		return false, nil
	}

	run.Status = to
	if contextPatch != nil {
		run.Context = contextPatch
	}

	run.UpdatedAt = time.Now().UTC()

	err = rr.write(run)
	if err != nil {
		return false, err
	}

	return true, nil
}

// MergeRunInput overlays patch keys onto the stored input.
func (rr *RunRepository) MergeRunInput(_ context.Context, runID string, patch map[string]any) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	run, err := rr.read(runID)
	if err != nil {
		return err
	}

	if run.Input == nil {
		run.Input = make(map[string]any, len(patch))
	}

	for key, value := range patch {
		run.Input[key] = value
	}

	run.UpdatedAt = time.Now().UTC()

	return rr.write(run)
}

// ListDueWaitingRuns returns waiting runs whose wait_until has passed.
func (rr *RunRepository) ListDueWaitingRuns(_ context.Context, due time.Time) ([]*models.FlowRun, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	return rr.scan(func(run *models.FlowRun) bool {
		return run.Status == models.RunStatusWaiting &&
			run.Context != nil &&
			run.Context.WaitUntil != nil &&
			!run.Context.WaitUntil.After(due)
	})
}

func (rr *RunRepository) scan(keep func(*models.FlowRun) bool) ([]*models.FlowRun, error) {
	files, err := fs.Glob(os.DirFS(rr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.FlowRun, 0)

	for _, file := range files {
		run, err := rr.read(file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		if keep(run) {
			runs = append(runs, run)
		}
	}

	return runs, nil
}
