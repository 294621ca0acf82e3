package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/engageflow/flows/pkg/engine"
	"github.com/engageflow/flows/pkg/models"
)

const defaultPoolSize = 8

// Local executes dispatched runs on an in-process worker pool. It backs
// single-binary deployments and tests; clustered deployments use Bus instead.
type Local struct {
	engine *engine.Engine
	logger *slog.Logger
	jobs   chan string
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func NewLocal(engine *engine.Engine, logger *slog.Logger, poolSize int) *Local {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	d := &Local{
		engine: engine,
		logger: logger,
		jobs:   make(chan string, poolSize*4),
	}

	for range poolSize {
		d.wg.Add(1)

		go d.work()
	}

	return d
}

// Dispatch enqueues the run. When the pool is saturated the run is executed
// on a fresh goroutine instead; a dispatched run must never be dropped, since
// nothing would ever pick it up again before its wait deadline.
func (d *Local) Dispatch(ctx context.Context, run *models.FlowRun, resumed bool) error {
	select {
	case d.jobs <- run.ID:
	default:
		d.logger.Warn("Dispatch pool saturated, executing inline", "run_id", run.ID)

		go d.execute(run.ID)
	}

	return nil
}

func (d *Local) Close() error {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})

	d.wg.Wait()

	return nil
}

func (d *Local) work() {
	defer d.wg.Done()

	for runID := range d.jobs {
		d.execute(runID)
	}
}

func (d *Local) execute(runID string) {
	// Deliberately not the request context: the trigger response has long
	// been sent by the time the run executes.
	err := d.engine.Execute(context.Background(), runID)
	if err != nil {
		d.logger.Error("Run execution failed", "run_id", runID, "error", err)
	}
}
