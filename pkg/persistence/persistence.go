// Package persistence provides the storage abstraction for flows, versions,
// runs, and run events.
package persistence

import (
	"context"
	"time"

	"github.com/engageflow/flows/pkg/models"
)

// Persistence aggregates the repositories of one backing store.
type Persistence interface {
	FlowRepository() FlowRepository
	VersionRepository() VersionRepository
	RunRepository() RunRepository
	EventRepository() EventRepository
	TemplateRepository() TemplateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores flow definition containers.
type FlowRepository interface {
	Save(ctx context.Context, flow *models.Flow) error
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Flow, error)
	Delete(ctx context.Context, id string) error
}

// VersionRepository stores immutable graph snapshots.
type VersionRepository interface {
	// CreateVersion atomically assigns the next version number for the flow
	// (starting at 1), persists the snapshot, repoints the flow's
	// CurrentVersionID at it, and sets the flow's status to published or
	// draft according to the publish flag. Exactly one writer wins per
	// increment; version numbers have no gaps and are never reused.
	CreateVersion(ctx context.Context, flowID string, graph *models.Graph, publish bool) (*models.FlowVersion, error)

	GetVersion(ctx context.Context, id string) (*models.FlowVersion, error)

	// ListVersions returns a flow's versions newest-first.
	ListVersions(ctx context.Context, flowID string) ([]*models.FlowVersion, error)
}

// RunRepository stores run state. TransitionRun is the only mutation of a
// run's status; it is a single atomic compare-and-swap, never a
// read-then-write pair.
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.FlowRun) error
	GetRun(ctx context.Context, id string) (*models.FlowRun, error)
	ListRunsByFlow(ctx context.Context, flowID string) ([]*models.FlowRun, error)

	// TransitionRun moves a run from one of the given statuses to the target
	// status, optionally replacing its context in the same write. It returns
	// false when the run's current status matched none of the from statuses,
	// which is how a second concurrent executor loses the claim.
	TransitionRun(ctx context.Context, runID string, from []models.RunStatus, to models.RunStatus, contextPatch *models.RunContext) (bool, error)

	// MergeRunInput overlays patch onto the run's stored input. Patch keys
	// override existing keys; no key is removed.
	MergeRunInput(ctx context.Context, runID string, patch map[string]any) error

	// ListDueWaitingRuns returns waiting runs whose wait_until is at or
	// before the given time.
	ListDueWaitingRuns(ctx context.Context, due time.Time) ([]*models.FlowRun, error)
}

// EventRepository stores the append-only audit trail of runs.
type EventRepository interface {
	AppendEvent(ctx context.Context, event *models.FlowEvent) error

	// ListEvents returns a run's events ordered by timestamp ascending.
	ListEvents(ctx context.Context, runID string) ([]*models.FlowEvent, error)
}

// TemplateRepository stores reusable graph blueprints. Read-only from the
// engine's perspective.
type TemplateRepository interface {
	SaveTemplate(ctx context.Context, template *models.FlowTemplate) error
	GetTemplate(ctx context.Context, id string) (*models.FlowTemplate, error)
	ListTemplates(ctx context.Context, tenantID string) ([]*models.FlowTemplate, error)
}
