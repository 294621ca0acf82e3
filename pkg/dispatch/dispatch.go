// Package dispatch hands accepted runs to executors without blocking the
// caller. The gateway acknowledges triggers before execution starts; a
// dispatcher only has to get the run id somewhere an executor will see it.
package dispatch

import (
	"context"

	"github.com/engageflow/flows/pkg/models"
)

// Dispatcher queues a run for execution. Dispatch must return quickly; the
// actual graph walk happens elsewhere.
type Dispatcher interface {
	Dispatch(ctx context.Context, run *models.FlowRun, resumed bool) error
	Close() error
}
