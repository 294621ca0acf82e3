// Package worker consumes dispatched runs from the event bus and executes
// them. Any number of workers may consume the same dispatch; the run store
// claim guarantees only one of them walks the graph.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/engageflow/flows/pkg/engine"
	"github.com/engageflow/flows/pkg/eventbus"
	"github.com/engageflow/flows/pkg/events"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/google/uuid"
)

type Worker struct {
	id          string
	engine      *engine.Engine
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	logger      *slog.Logger
}

func NewWorker(engine *engine.Engine, persistence persistence.Persistence, eventBus eventbus.EventBus, logger *slog.Logger) *Worker {
	id := "worker-" + uuid.New().String()[:8]

	return &Worker{
		id:          id,
		engine:      engine,
		persistence: persistence,
		eventBus:    eventBus,
		logger:      logger.With("worker_id", id),
	}
}

func (w *Worker) ID() string {
	return w.id
}

// Start registers the dispatch handler and begins consuming. It returns once
// the subscription is established; message handling continues until the
// context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	err := w.eventBus.Handle(events.RunDispatchedEvent, w.handleDispatch)
	if err != nil {
		return fmt.Errorf("failed to register dispatch handler: %w", err)
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	w.logger.Info("Worker started")

	return nil
}

func (w *Worker) handleDispatch(ctx context.Context, event any) error {
	dispatched, ok := event.(*events.RunDispatched)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	logger := w.logger.With("run_id", dispatched.RunID, "flow_id", dispatched.FlowID)
	logger.Info("Executing dispatched run", "resumed", dispatched.Resumed)

	err := w.engine.Execute(ctx, dispatched.RunID)
	if err != nil {
		logger.Error("Execution failed", "error", err)

		return w.publishFailed(ctx, dispatched, err)
	}

	return w.publishFinished(ctx, dispatched)
}

func (w *Worker) publishFinished(ctx context.Context, dispatched *events.RunDispatched) error {
	run, err := w.persistence.RunRepository().GetRun(ctx, dispatched.RunID)
	if err != nil {
		return fmt.Errorf("failed to reload run %s: %w", dispatched.RunID, err)
	}

	finished := events.RunFinished{
		BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, dispatched.FlowID),
		RunID:     run.ID,
		Status:    string(run.Status),
	}
	finished.WorkerID = w.id

	return w.eventBus.Publish(ctx, run.ID, finished)
}

func (w *Worker) publishFailed(ctx context.Context, dispatched *events.RunDispatched, execErr error) error {
	failed := events.RunFailed{
		BaseEvent: events.NewBaseEvent(events.RunFailedEvent, dispatched.FlowID),
		RunID:     dispatched.RunID,
		Error:     execErr.Error(),
	}
	failed.WorkerID = w.id

	return w.eventBus.Publish(ctx, dispatched.RunID, failed)
}
