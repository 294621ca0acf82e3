package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/google/uuid"
)

// EventRepository stores a run's audit trail as one JSON array per run at
// events/<run_id>.json. Appends rewrite the file; the engine is the only
// writer for a claimed run, so the lock only guards against concurrent runs
// sharing the repository.
type EventRepository struct {
	root string
	mu   sync.Mutex
}

// NewEventRepository creates a new event repository.
func NewEventRepository(root string) *EventRepository {
	return &EventRepository{root: root}
}

func (er *EventRepository) dir() string {
	return filepath.Join(er.root, "events")
}

// AppendEvent appends an immutable event record to the run's trail.
func (er *EventRepository) AppendEvent(_ context.Context, event *models.FlowEvent) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	if err := validateID(event.RunID); err != nil {
		return persistence.NewRunError("AppendEvent", event.RunID, persistence.ErrRunNotFound)
	}

	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewRunError("AppendEvent", event.RunID, err)
		}

		event.ID = id.String()
	}

	events, err := er.read(event.RunID)
	if err != nil {
		return err
	}

	events = append(events, event)

	err = os.MkdirAll(er.dir(), 0750)
	if err != nil {
		return persistence.NewRunError("AppendEvent", event.RunID, err)
	}

	data, err := json.Marshal(events)
	if err != nil {
		return persistence.NewRunError("AppendEvent", event.RunID, err)
	}

	err = os.WriteFile(er.path(event.RunID), data, 0600)
	if err != nil {
		return persistence.NewRunError("AppendEvent", event.RunID, err)
	}

	return nil
}

// ListEvents returns the run's events ordered by timestamp ascending.
func (er *EventRepository) ListEvents(_ context.Context, runID string) ([]*models.FlowEvent, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	if err := validateID(runID); err != nil {
		return nil, persistence.NewRunError("ListEvents", runID, persistence.ErrRunNotFound)
	}

	events, err := er.read(runID)
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return events, nil
}

func (er *EventRepository) path(runID string) string {
	return filepath.Join(er.dir(), runID+".json")
}

func (er *EventRepository) read(runID string) ([]*models.FlowEvent, error) {
	data, err := os.ReadFile(er.path(runID)) // #nosec G304 -- runID is validated
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.FlowEvent{}, nil
		}

		return nil, persistence.NewRunError("ListEvents", runID, err)
	}

	var events []*models.FlowEvent

	err = json.Unmarshal(data, &events)
	if err != nil {
		return nil, persistence.NewRunError("ListEvents", runID, fmt.Errorf("corrupt event file: %w", err))
	}

	return events, nil
}
