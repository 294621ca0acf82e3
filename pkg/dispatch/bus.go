package dispatch

import (
	"context"
	"log/slog"

	"github.com/engageflow/flows/pkg/eventbus"
	"github.com/engageflow/flows/pkg/events"
	"github.com/engageflow/flows/pkg/models"
)

// Bus publishes dispatched runs to the event bus for the worker fleet. The
// message key is the run id, so all dispatches of one run land in the same
// partition and arrive in order.
type Bus struct {
	bus    eventbus.EventPublisher
	logger *slog.Logger
}

func NewBus(bus eventbus.EventPublisher, logger *slog.Logger) *Bus {
	return &Bus{bus: bus, logger: logger}
}

func (d *Bus) Dispatch(ctx context.Context, run *models.FlowRun, resumed bool) error {
	event := events.RunDispatched{
		BaseEvent: events.NewBaseEvent(events.RunDispatchedEvent, run.FlowID),
		RunID:     run.ID,
		TenantID:  run.TenantID,
		Resumed:   resumed,
	}

	err := d.bus.Publish(ctx, run.ID, event)
	if err != nil {
		return err
	}

	d.logger.Debug("Dispatched run to event bus", "run_id", run.ID, "resumed", resumed)

	return nil
}

// Close is a no-op; the underlying bus is owned by the caller.
func (d *Bus) Close() error {
	return nil
}
