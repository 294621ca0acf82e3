// Package file provides file-based persistence for local development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/engageflow/flows/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
// Writes within one process are serialized per repository; this store is a
// development and test backend, not a multi-process one.
type Persistence struct {
	root         string
	flowRepo     *FlowRepository
	versionRepo  *VersionRepository
	runRepo      *RunRepository
	eventRepo    *EventRepository
	templateRepo *TemplateRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	flowRepo := NewFlowRepository(cleanRoot)

	return &Persistence{
		root:         cleanRoot,
		flowRepo:     flowRepo,
		versionRepo:  NewVersionRepository(cleanRoot, flowRepo),
		runRepo:      NewRunRepository(cleanRoot),
		eventRepo:    NewEventRepository(cleanRoot),
		templateRepo: NewTemplateRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. Nothing to release for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) FlowRepository() persistence.FlowRepository {
	return fp.flowRepo
}

func (fp *Persistence) VersionRepository() persistence.VersionRepository {
	return fp.versionRepo
}

func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runRepo
}

func (fp *Persistence) EventRepository() persistence.EventRepository {
	return fp.eventRepo
}

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository {
	return fp.templateRepo
}

// validateID guards file names built from caller-supplied identifiers.
func validateID(id string) error {
	if id == "" {
		return os.ErrInvalid
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\") {
		return os.ErrInvalid
	}

	return nil
}
