// Package engine executes flow runs against their pinned version graphs.
//
// Every execution starts with an optimistic claim: a conditional status swap
// from pending or waiting to running. Losing the swap means another executor
// already owns the run, and the loser backs off without touching anything.
// The winner walks the graph node by node, appending audit events as it goes,
// until the run completes, fails, or suspends on a wait node.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/otelhelper"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/engageflow/flows/pkg/protocol"
	"github.com/engageflow/flows/pkg/registry"
	"github.com/engageflow/flows/pkg/template"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStepBudget bounds how many nodes a single execution may visit.
// Graphs are not required to be acyclic, so the budget is what turns an
// accidental cycle into a failed run instead of a spinning executor.
const DefaultStepBudget = 256

// Failure codes recorded on run.failed events.
const (
	FailureNoMatchingBranch   = "NoMatchingBranch"
	FailureActionFailed       = "ActionFailed"
	FailureStepBudgetExceeded = "StepBudgetExceeded"
	FailureGraphInvalid       = "GraphInvalid"
)

// Engine drives a single run to its next resting state (completed, failed,
// or waiting). It is stateless; all run state lives in the run store.
type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	logger      *slog.Logger
	tracer      trace.Tracer
	stepBudget  int
}

// NewEngine creates an execution engine with the default step budget.
func NewEngine(persistence persistence.Persistence, registry *registry.Registry, logger *slog.Logger) *Engine {
	return &Engine{
		persistence: persistence,
		registry:    registry,
		logger:      logger,
		tracer:      otel.Tracer("flows.engine"),
		stepBudget:  DefaultStepBudget,
	}
}

// SetStepBudget overrides the per-execution node visit limit.
func (e *Engine) SetStepBudget(budget int) {
	e.stepBudget = budget
}

// Execute claims the run and walks its graph until a resting state. A lost
// claim is not an error: the run was already picked up elsewhere, and Execute
// returns nil without side effects. Returned errors are infrastructure
// failures only; domain failures end up as failed runs with a run.failed
// event, and Execute reports success.
func (e *Engine) Execute(ctx context.Context, runID string) error {
	run, err := e.persistence.RunRepository().GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	logger := e.logger.With("run_id", run.ID, "flow_id", run.FlowID, "version_id", run.VersionID)

	version, err := e.persistence.VersionRepository().GetVersion(ctx, run.VersionID)
	if err != nil {
		return fmt.Errorf("failed to load version %s for run %s: %w", run.VersionID, runID, err)
	}

	claimed, err := e.persistence.RunRepository().TransitionRun(ctx, run.ID,
		[]models.RunStatus{models.RunStatusPending, models.RunStatusWaiting},
		models.RunStatusRunning, nil)
	if err != nil {
		return fmt.Errorf("failed to claim run %s: %w", runID, err)
	}

	if !claimed {
		logger.Debug("Run already claimed or terminal, skipping")

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.FlowIDKey, run.FlowID),
		attribute.String(otelhelper.VersionIDKey, run.VersionID),
		attribute.String(otelhelper.TenantIDKey, run.TenantID),
	)
	defer span.End()

	logger.Info("Claimed run for execution")

	err = e.run(ctx, logger, run, version.Graph)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

// execution carries the mutable state of one graph walk.
type execution struct {
	run      *models.FlowRun
	graph    *models.Graph
	bindings map[string]any
	clock    *eventClock
	logger   *slog.Logger
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, run *models.FlowRun, graph *models.Graph) error {
	exec := &execution{
		run:      run,
		graph:    graph,
		bindings: seedBindings(run),
		clock:    newEventClock(),
		logger:   logger,
	}

	node, resumed, err := e.startNode(exec)
	if err != nil {
		return e.fail(ctx, exec, nil, FailureGraphInvalid, err)
	}

	if resumed {
		err = e.appendEvent(ctx, exec, models.FlowEventRunResumed, node.ID, nil)
		if err != nil {
			return err
		}
	}

	var entryPayload map[string]any

	for steps := 0; ; steps++ {
		if steps >= e.stepBudget {
			return e.fail(ctx, exec, node, FailureStepBudgetExceeded,
				fmt.Errorf("step budget of %d exceeded", e.stepBudget))
		}

		err = e.appendEvent(ctx, exec, models.FlowEventNodeEntered, node.ID, enteredPayload(node, entryPayload))
		if err != nil {
			return err
		}

		entryPayload = nil

		next, done, err := e.dispatch(ctx, exec, node, &entryPayload)
		if done || err != nil {
			return err
		}

		node = next
	}
}

// startNode resolves where this execution begins: the stored resume position
// for a suspended run, or the graph entry for a fresh one.
func (e *Engine) startNode(exec *execution) (node *models.Node, resumed bool, err error) {
	if exec.run.Context != nil && exec.run.Context.CurrentNodeID != "" {
		node, ok := exec.graph.NodeByID(exec.run.Context.CurrentNodeID)
		if !ok {
			return nil, false, fmt.Errorf("resume node %s not present in graph", exec.run.Context.CurrentNodeID)
		}

		return node, true, nil
	}

	entry := exec.graph.Entry()
	if entry == nil {
		return nil, false, errors.New("graph has no entry node")
	}

	return entry, false, nil
}

// dispatch executes one node. It returns the successor to visit next, or
// done=true when the run reached a resting state (completed, failed, or
// waiting). entryPayload receives extra fields for the successor's
// node.entered event, such as the branch taken by a condition node.
func (e *Engine) dispatch(ctx context.Context, exec *execution, node *models.Node, entryPayload *map[string]any) (*models.Node, bool, error) {
	switch {
	case node.IsTrigger():
		next, err := e.successor(exec, node)
		if err != nil {
			return nil, true, e.fail(ctx, exec, node, FailureGraphInvalid, err)
		}

		return next, false, nil

	case node.IsCondition():
		return e.dispatchCondition(ctx, exec, node, entryPayload)

	case node.IsWait():
		return nil, true, e.suspend(ctx, exec, node)

	case node.IsEnd():
		return nil, true, e.complete(ctx, exec, node)

	default:
		return e.dispatchAction(ctx, exec, node)
	}
}

func (e *Engine) dispatchCondition(ctx context.Context, exec *execution, node *models.Node, entryPayload *map[string]any) (*models.Node, bool, error) {
	expression, _ := node.Config["expression"].(string)

	rendered, err := template.Render(expression, exec.bindings)
	if err != nil {
		return nil, true, e.fail(ctx, exec, node, FailureActionFailed,
			fmt.Errorf("condition %s: %w", node.ID, err))
	}

	result, err := models.ConditionInterpreter{}.Evaluate(rendered)
	if err != nil {
		return nil, true, e.fail(ctx, exec, node, FailureActionFailed,
			fmt.Errorf("condition %s: %w", node.ID, err))
	}

	edge := exec.graph.BranchEdge(node.ID, result)
	if edge == nil {
		return nil, true, e.fail(ctx, exec, node, FailureNoMatchingBranch,
			fmt.Errorf("condition %s evaluated to %t but no edge carries that branch", node.ID, result))
	}

	next, ok := exec.graph.NodeByID(edge.Target)
	if !ok {
		return nil, true, e.fail(ctx, exec, node, FailureGraphInvalid,
			fmt.Errorf("edge %s targets unknown node %s", edge.ID, edge.Target))
	}

	*entryPayload = map[string]any{"branch": result}

	return next, false, nil
}

func (e *Engine) dispatchAction(ctx context.Context, exec *execution, node *models.Node) (*models.Node, bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.action",
		attribute.String(otelhelper.RunIDKey, exec.run.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
	)
	defer span.End()

	output, execErr := e.executeCapability(ctx, exec, node)
	if execErr != nil {
		otelhelper.SetError(span, execErr)

		if !bestEffort(node) {
			return nil, true, e.fail(ctx, exec, node, FailureActionFailed, execErr)
		}

		exec.logger.Warn("Best-effort node failed, continuing", "node_id", node.ID, "error", execErr)

		err := e.appendEvent(ctx, exec, models.FlowEventNodeError, node.ID, map[string]any{
			"error": execErr.Error(),
		})
		if err != nil {
			return nil, true, err
		}
	} else {
		if output != nil {
			exec.bindings[node.ID] = output
		}

		err := e.appendEvent(ctx, exec, models.FlowEventNodeCompleted, node.ID, map[string]any{
			"output": output,
		})
		if err != nil {
			return nil, true, err
		}
	}

	next, err := e.successor(exec, node)
	if err != nil {
		return nil, true, e.fail(ctx, exec, node, FailureGraphInvalid, err)
	}

	// Checkpoint progress so a crash resumes from the successor rather
	// than replaying completed side effects.
	_, err = e.persistence.RunRepository().TransitionRun(ctx, exec.run.ID,
		[]models.RunStatus{models.RunStatusRunning}, models.RunStatusRunning,
		&models.RunContext{CurrentNodeID: next.ID, Bindings: exec.bindings})
	if err != nil {
		return nil, true, fmt.Errorf("failed to checkpoint run %s: %w", exec.run.ID, err)
	}

	return next, false, nil
}

func (e *Engine) executeCapability(ctx context.Context, exec *execution, node *models.Node) (map[string]any, error) {
	config, err := template.RenderConfig(node.Config, exec.bindings)
	if err != nil {
		return nil, fmt.Errorf("failed to render config of node %s: %w", node.ID, err)
	}

	capability, err := e.registry.CreateCapability(node.Type, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create capability for node %s: %w", node.ID, err)
	}

	scope := protocol.ExecutionScope{
		RunID:    exec.run.ID,
		FlowID:   exec.run.FlowID,
		TenantID: exec.run.TenantID,
		NodeID:   node.ID,
		Bindings: exec.bindings,
	}

	return capability.Execute(ctx, scope, exec.logger.With("node_id", node.ID, "node_type", node.Type))
}

// suspend parks the run on a wait node. The stored resume position is the
// wait node's successor, so resumption continues past the wait instead of
// re-entering it.
func (e *Engine) suspend(ctx context.Context, exec *execution, node *models.Node) error {
	next, err := e.successor(exec, node)
	if err != nil {
		return e.fail(ctx, exec, node, FailureGraphInvalid, err)
	}

	waitUntil, waitEvent, err := waitTerms(node)
	if err != nil {
		return e.fail(ctx, exec, node, FailureGraphInvalid, err)
	}

	patch := &models.RunContext{
		CurrentNodeID: next.ID,
		Bindings:      exec.bindings,
		WaitUntil:     waitUntil,
		WaitEvent:     waitEvent,
	}

	swapped, err := e.persistence.RunRepository().TransitionRun(ctx, exec.run.ID,
		[]models.RunStatus{models.RunStatusRunning}, models.RunStatusWaiting, patch)
	if err != nil {
		return fmt.Errorf("failed to suspend run %s: %w", exec.run.ID, err)
	}

	if !swapped {
		return fmt.Errorf("run %s left running state during execution", exec.run.ID)
	}

	payload := map[string]any{}
	if waitUntil != nil {
		payload["wait_until"] = waitUntil.Format(time.RFC3339Nano)
	}

	if waitEvent != "" {
		payload["wait_event"] = waitEvent
	}

	exec.logger.Info("Run suspended", "node_id", node.ID, "resume_node_id", next.ID)

	return e.appendEvent(ctx, exec, models.FlowEventRunSuspended, node.ID, payload)
}

func (e *Engine) complete(ctx context.Context, exec *execution, node *models.Node) error {
	patch := &models.RunContext{CurrentNodeID: node.ID, Bindings: exec.bindings}

	swapped, err := e.persistence.RunRepository().TransitionRun(ctx, exec.run.ID,
		[]models.RunStatus{models.RunStatusRunning}, models.RunStatusCompleted, patch)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", exec.run.ID, err)
	}

	if !swapped {
		return fmt.Errorf("run %s left running state during execution", exec.run.ID)
	}

	exec.logger.Info("Run completed", "node_id", node.ID)

	return e.appendEvent(ctx, exec, models.FlowEventRunCompleted, node.ID, nil)
}

// fail transitions the run to failed and records the failure code. The
// returned error is nil: a failed run is a recorded outcome, not an
// infrastructure problem the caller should retry.
func (e *Engine) fail(ctx context.Context, exec *execution, node *models.Node, code string, cause error) error {
	var patch *models.RunContext
	if node != nil {
		patch = &models.RunContext{CurrentNodeID: node.ID, Bindings: exec.bindings}
	}

	_, err := e.persistence.RunRepository().TransitionRun(ctx, exec.run.ID,
		[]models.RunStatus{models.RunStatusRunning}, models.RunStatusFailed, patch)
	if err != nil {
		return fmt.Errorf("failed to mark run %s failed: %w", exec.run.ID, err)
	}

	nodeID := ""
	if node != nil {
		nodeID = node.ID
	}

	exec.logger.Error("Run failed", "node_id", nodeID, "code", code, "error", cause)

	return e.appendEvent(ctx, exec, models.FlowEventRunFailed, nodeID, map[string]any{
		"code":  code,
		"error": cause.Error(),
	})
}

// successor resolves the single unconditioned outgoing edge of a node.
func (e *Engine) successor(exec *execution, node *models.Node) (*models.Node, error) {
	edges := exec.graph.OutgoingEdges(node.ID)
	if len(edges) != 1 {
		return nil, fmt.Errorf("node %s has %d outgoing edges, expected exactly one", node.ID, len(edges))
	}

	next, ok := exec.graph.NodeByID(edges[0].Target)
	if !ok {
		return nil, fmt.Errorf("edge %s targets unknown node %s", edges[0].ID, edges[0].Target)
	}

	return next, nil
}

func (e *Engine) appendEvent(ctx context.Context, exec *execution, eventType models.FlowEventType, nodeID string, payload map[string]any) error {
	event := &models.FlowEvent{
		RunID:     exec.run.ID,
		Type:      eventType,
		NodeID:    nodeID,
		Timestamp: exec.clock.Next(),
		Payload:   payload,
	}

	err := e.persistence.EventRepository().AppendEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to append %s event for run %s: %w", eventType, exec.run.ID, err)
	}

	return nil
}

// seedBindings builds the template data for a fresh or resumed execution.
// Stored bindings from a suspension carry over; the input key is always
// re-seeded from the run document so resume-time input patches are visible.
func seedBindings(run *models.FlowRun) map[string]any {
	bindings := make(map[string]any)

	if run.Context != nil {
		for k, v := range run.Context.Bindings {
			bindings[k] = v
		}
	}

	bindings["input"] = run.Input

	return bindings
}

func enteredPayload(node *models.Node, extra map[string]any) map[string]any {
	payload := map[string]any{
		"node_type": node.Type,
		"node_name": node.Name,
	}

	for k, v := range extra {
		payload[k] = v
	}

	return payload
}

func bestEffort(node *models.Node) bool {
	flag, _ := node.Config["best_effort"].(bool)

	return flag
}

// waitTerms extracts the resume terms of a wait node: a relative duration,
// an absolute deadline, an external event key, or a combination.
func waitTerms(node *models.Node) (*time.Time, string, error) {
	var waitUntil *time.Time

	if raw, ok := node.Config["duration"].(string); ok && raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil {
			return nil, "", fmt.Errorf("wait node %s has invalid duration %q: %w", node.ID, raw, err)
		}

		due := time.Now().UTC().Add(duration)
		waitUntil = &due
	}

	if raw, ok := node.Config["until"].(string); ok && raw != "" {
		due, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, "", fmt.Errorf("wait node %s has invalid deadline %q: %w", node.ID, raw, err)
		}

		due = due.UTC()
		waitUntil = &due
	}

	waitEvent, _ := node.Config["event"].(string)

	if waitUntil == nil && waitEvent == "" {
		return nil, "", fmt.Errorf("wait node %s declares neither a duration nor an event", node.ID)
	}

	return waitUntil, waitEvent, nil
}
