// Package gateway accepts trigger and resume requests. It validates, creates
// or patches the run record, hands the run to a dispatcher, and returns
// immediately; callers observe progress through the run's event trail.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/engageflow/flows/pkg/dispatch"
	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/otelhelper"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/engageflow/flows/pkg/services"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Gateway struct {
	persistence persistence.Persistence
	dispatcher  dispatch.Dispatcher
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewGateway(persistence persistence.Persistence, dispatcher dispatch.Dispatcher, logger *slog.Logger) *Gateway {
	return &Gateway{
		persistence: persistence,
		dispatcher:  dispatcher,
		logger:      logger,
		tracer:      otel.Tracer("flows.gateway"),
	}
}

// Run creates a pending run of the flow's current version and dispatches it.
// The version id is pinned here; republishing the flow afterwards does not
// affect the run. The returned run is still pending; execution is
// fire-and-forget.
func (g *Gateway) Run(ctx context.Context, flowID, tenantID string, input map[string]any) (*models.FlowRun, error) {
	ctx, span := otelhelper.StartSpan(ctx, g.tracer, "gateway.run",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.TenantIDKey, tenantID),
	)
	defer span.End()

	flow, err := g.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	// Tenants only see their own flows; a foreign flow id reads as absent.
	if tenantID != "" && flow.TenantID != tenantID {
		return nil, persistence.NewFlowError("Run", flowID, persistence.ErrFlowNotFound)
	}

	if flow.CurrentVersionID == "" {
		return nil, &services.ServiceError{Op: "Run", Message: "flow " + flowID + " has no version", Err: services.ErrNoPublishableVersion}
	}

	run := &models.FlowRun{
		FlowID:    flow.ID,
		VersionID: flow.CurrentVersionID,
		TenantID:  flow.TenantID,
		Status:    models.RunStatusPending,
		Input:     input,
	}

	err = g.persistence.RunRepository().CreateRun(ctx, run)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create run for flow %s: %w", flowID, err)
	}

	span.SetAttributes(attribute.String(otelhelper.RunIDKey, run.ID))

	err = g.dispatcher.Dispatch(ctx, run, false)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to dispatch run %s: %w", run.ID, err)
	}

	g.logger.Info("Run accepted", "run_id", run.ID, "flow_id", flow.ID, "version_id", run.VersionID)

	return run, nil
}

// Resume merges an optional input patch into a suspended run and dispatches
// it again. The executor's claim decides whether this resume wins; resuming a
// run that is already running simply loses the claim later. Terminal runs are
// rejected here.
func (g *Gateway) Resume(ctx context.Context, runID string, inputPatch map[string]any) (*models.FlowRun, error) {
	ctx, span := otelhelper.StartSpan(ctx, g.tracer, "gateway.resume",
		attribute.String(otelhelper.RunIDKey, runID),
	)
	defer span.End()

	run, err := g.persistence.RunRepository().GetRun(ctx, runID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if run.Status.IsTerminal() {
		return nil, &services.ServiceError{Op: "Resume", Message: "run " + runID + " is " + string(run.Status), Err: services.ErrRunTerminal}
	}

	if len(inputPatch) > 0 {
		err = g.persistence.RunRepository().MergeRunInput(ctx, runID, inputPatch)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		run, err = g.persistence.RunRepository().GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
	}

	err = g.dispatcher.Dispatch(ctx, run, true)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to dispatch resume of run %s: %w", runID, err)
	}

	g.logger.Info("Resume accepted", "run_id", run.ID, "status", run.Status)

	return run, nil
}
