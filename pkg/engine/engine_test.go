package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	logcap "github.com/engageflow/flows/pkg/capabilities/log"
	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence/file"
	"github.com/engageflow/flows/pkg/protocol"
	"github.com/engageflow/flows/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingFactory builds capabilities that always fail.
type failingFactory struct{}

func (*failingFactory) ID() string { return "test.fail" }

func (*failingFactory) Create(_ map[string]any) (protocol.Capability, error) {
	return &failingCapability{}, nil
}

func (*failingFactory) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

type failingCapability struct{}

func (*failingCapability) Execute(_ context.Context, _ protocol.ExecutionScope, _ *slog.Logger) (map[string]any, error) {
	return nil, errors.New("boom")
}

// echoFactory builds capabilities that return their config as output.
type echoFactory struct{}

func (*echoFactory) ID() string { return "test.echo" }

func (*echoFactory) Create(config map[string]any) (protocol.Capability, error) {
	return &echoCapability{config: config}, nil
}

func (*echoFactory) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

type echoCapability struct {
	config map[string]any
}

func (c *echoCapability) Execute(_ context.Context, _ protocol.ExecutionScope, _ *slog.Logger) (map[string]any, error) {
	return c.config, nil
}

type fixture struct {
	persistence *file.Persistence
	engine      *Engine
	flow        *models.Flow
}

func newFixture(t *testing.T, graph *models.Graph) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	p := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterCapability(logcap.NewFactory())
	reg.RegisterCapability(&failingFactory{})
	reg.RegisterCapability(&echoFactory{})

	flow := &models.Flow{TenantID: "acme", Name: "Test flow"}
	require.NoError(t, p.FlowRepository().Save(context.Background(), flow))

	_, err := p.VersionRepository().CreateVersion(context.Background(), flow.ID, graph, true)
	require.NoError(t, err)

	flow, err = p.FlowRepository().GetByID(context.Background(), flow.ID)
	require.NoError(t, err)

	return &fixture{
		persistence: p,
		engine:      NewEngine(p, reg, logger),
		flow:        flow,
	}
}

func (f *fixture) startRun(t *testing.T, input map[string]any) *models.FlowRun {
	t.Helper()

	run := &models.FlowRun{
		FlowID:    f.flow.ID,
		VersionID: f.flow.CurrentVersionID,
		TenantID:  f.flow.TenantID,
		Status:    models.RunStatusPending,
		Input:     input,
	}
	require.NoError(t, f.persistence.RunRepository().CreateRun(context.Background(), run))

	return run
}

func (f *fixture) loadRun(t *testing.T, id string) *models.FlowRun {
	t.Helper()

	run, err := f.persistence.RunRepository().GetRun(context.Background(), id)
	require.NoError(t, err)

	return run
}

func (f *fixture) eventTypes(t *testing.T, runID string) []models.FlowEventType {
	t.Helper()

	events, err := f.persistence.EventRepository().ListEvents(context.Background(), runID)
	require.NoError(t, err)

	types := make([]models.FlowEventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}

	return types
}

func TestExecuteHappyPath(t *testing.T) {
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "echo", Type: "test.echo", Name: "Echo", Config: map[string]any{"greeting": "hello {{.input.name}}"}},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "echo"},
			{ID: "e2", Source: "echo", Target: "done"},
		},
	}

	f := newFixture(t, graph)
	run := f.startRun(t, map[string]any{"name": "ada"})

	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	loaded := f.loadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, loaded.Status)

	// Node output was templated against the input and kept in the bindings.
	require.NotNil(t, loaded.Context)
	output, ok := loaded.Context.Bindings["echo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello ada", output["greeting"])

	assert.Equal(t, []models.FlowEventType{
		models.FlowEventNodeEntered,   // start
		models.FlowEventNodeEntered,   // echo
		models.FlowEventNodeCompleted, // echo
		models.FlowEventNodeEntered,   // done
		models.FlowEventRunCompleted,
	}, f.eventTypes(t, run.ID))
}

func TestExecuteEventTimestampsStrictlyIncrease(t *testing.T) {
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "a", Type: "test.echo", Name: "A"},
			{ID: "b", Type: "test.echo", Name: "B"},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "b", Target: "done"},
		},
	}

	f := newFixture(t, graph)
	run := f.startRun(t, nil)

	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	events, err := f.persistence.EventRepository().ListEvents(context.Background(), run.ID)
	require.NoError(t, err)
	require.Greater(t, len(events), 1)

	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].Timestamp.After(events[i-1].Timestamp),
			"event %d not after event %d", i, i-1)
	}
}

func TestExecuteConditionBranches(t *testing.T) {
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "check", Type: models.NodeTypeCondition, Name: "Check", Config: map[string]any{"expression": "{{.input.vip}}"}},
			{ID: "vip", Type: "test.echo", Name: "VIP", Config: map[string]any{"path": "vip"}},
			{ID: "std", Type: "test.echo", Name: "Standard", Config: map[string]any{"path": "std"}},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "check"},
			{ID: "e2", Source: "check", Target: "vip", Condition: models.EdgeConditionTrue},
			{ID: "e3", Source: "check", Target: "std", Condition: models.EdgeConditionFalse},
			{ID: "e4", Source: "vip", Target: "done"},
			{ID: "e5", Source: "std", Target: "done"},
		},
	}

	tests := []struct {
		name     string
		vip      any
		wantNode string
	}{
		{name: "true branch", vip: true, wantNode: "vip"},
		{name: "false branch", vip: false, wantNode: "std"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, graph)
			run := f.startRun(t, map[string]any{"vip": tt.vip})

			require.NoError(t, f.engine.Execute(context.Background(), run.ID))

			loaded := f.loadRun(t, run.ID)
			assert.Equal(t, models.RunStatusCompleted, loaded.Status)
			assert.Contains(t, loaded.Context.Bindings, tt.wantNode)
		})
	}
}

func TestExecuteNoMatchingBranch(t *testing.T) {
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "check", Type: models.NodeTypeCondition, Name: "Check", Config: map[string]any{"expression": "false"}},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "check"},
			// Only the true branch exists.
			{ID: "e2", Source: "check", Target: "done", Condition: models.EdgeConditionTrue},
		},
	}

	f := newFixture(t, graph)
	run := f.startRun(t, nil)

	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	loaded := f.loadRun(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, loaded.Status)

	events, err := f.persistence.EventRepository().ListEvents(context.Background(), run.ID)
	require.NoError(t, err)

	last := events[len(events)-1]
	assert.Equal(t, models.FlowEventRunFailed, last.Type)
	assert.Equal(t, FailureNoMatchingBranch, last.Payload["code"])
}

func TestExecuteActionFailure(t *testing.T) {
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "broken", Type: "test.fail", Name: "Broken"},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "broken"},
			{ID: "e2", Source: "broken", Target: "done"},
		},
	}

	f := newFixture(t, graph)
	run := f.startRun(t, nil)

	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	loaded := f.loadRun(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, loaded.Status)

	events, err := f.persistence.EventRepository().ListEvents(context.Background(), run.ID)
	require.NoError(t, err)

	last := events[len(events)-1]
	assert.Equal(t, models.FlowEventRunFailed, last.Type)
	assert.Equal(t, FailureActionFailed, last.Payload["code"])
}

func TestExecuteBestEffortActionContinues(t *testing.T) {
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "broken", Type: "test.fail", Name: "Broken", Config: map[string]any{"best_effort": true}},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "broken"},
			{ID: "e2", Source: "broken", Target: "done"},
		},
	}

	f := newFixture(t, graph)
	run := f.startRun(t, nil)

	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	loaded := f.loadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, loaded.Status)

	types := f.eventTypes(t, run.ID)
	assert.Contains(t, types, models.FlowEventNodeError)
	assert.Equal(t, models.FlowEventRunCompleted, types[len(types)-1])
}

func TestExecuteWaitSuspendsAndResumesFromSuccessor(t *testing.T) {
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "hold", Type: models.NodeTypeWait, Name: "Hold", Config: map[string]any{"duration": "1h"}},
			{ID: "after", Type: "test.echo", Name: "After", Config: map[string]any{"ran": "yes"}},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "hold"},
			{ID: "e2", Source: "hold", Target: "after"},
			{ID: "e3", Source: "after", Target: "done"},
		},
	}

	f := newFixture(t, graph)
	run := f.startRun(t, nil)

	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	suspended := f.loadRun(t, run.ID)
	require.Equal(t, models.RunStatusWaiting, suspended.Status)
	require.NotNil(t, suspended.Context)

	// The stored resume position is the wait node's successor.
	assert.Equal(t, "after", suspended.Context.CurrentNodeID)
	require.NotNil(t, suspended.Context.WaitUntil)
	assert.True(t, suspended.Context.WaitUntil.After(time.Now()))

	// Resume: the run continues past the wait node, not through it again.
	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	resumed := f.loadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, resumed.Status)
	assert.Contains(t, resumed.Context.Bindings, "after")

	types := f.eventTypes(t, run.ID)
	assert.Contains(t, types, models.FlowEventRunSuspended)
	assert.Contains(t, types, models.FlowEventRunResumed)
	assert.Equal(t, models.FlowEventRunCompleted, types[len(types)-1])

	// The wait node was entered exactly once.
	events, err := f.persistence.EventRepository().ListEvents(context.Background(), run.ID)
	require.NoError(t, err)

	holdEntries := 0

	for _, event := range events {
		if event.Type == models.FlowEventNodeEntered && event.NodeID == "hold" {
			holdEntries++
		}
	}

	assert.Equal(t, 1, holdEntries)
}

func TestExecuteConcurrentClaimsSingleWinner(t *testing.T) {
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "done"},
		},
	}

	f := newFixture(t, graph)
	run := f.startRun(t, nil)

	const executors = 6

	var wg sync.WaitGroup

	for range executors {
		wg.Add(1)

		go func() {
			defer wg.Done()
			assert.NoError(t, f.engine.Execute(context.Background(), run.ID))
		}()
	}

	wg.Wait()

	loaded := f.loadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, loaded.Status)

	// Only the claim winner appended events: exactly one completion trail.
	completions := 0

	for _, eventType := range f.eventTypes(t, run.ID) {
		if eventType == models.FlowEventRunCompleted {
			completions++
		}
	}

	assert.Equal(t, 1, completions)
}

func TestExecuteStepBudget(t *testing.T) {
	// a and b form a cycle with no end node.
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "a", Type: "test.echo", Name: "A"},
			{ID: "b", Type: "test.echo", Name: "B"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "b", Target: "a"},
		},
	}

	f := newFixture(t, graph)
	f.engine.SetStepBudget(10)

	run := f.startRun(t, nil)

	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	loaded := f.loadRun(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, loaded.Status)

	events, err := f.persistence.EventRepository().ListEvents(context.Background(), run.ID)
	require.NoError(t, err)

	last := events[len(events)-1]
	assert.Equal(t, models.FlowEventRunFailed, last.Type)
	assert.Equal(t, FailureStepBudgetExceeded, last.Payload["code"])
}

func TestExecuteEmptyGraphFails(t *testing.T) {
	f := newFixture(t, &models.Graph{})
	run := f.startRun(t, nil)

	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	loaded := f.loadRun(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, loaded.Status)

	events, err := f.persistence.EventRepository().ListEvents(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, FailureGraphInvalid, events[len(events)-1].Payload["code"])
}

func TestExecuteTerminalRunIsNotReclaimed(t *testing.T) {
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "done"},
		},
	}

	f := newFixture(t, graph)
	run := f.startRun(t, nil)

	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	before := f.eventTypes(t, run.ID)

	// A second execute loses the claim and leaves no trace.
	require.NoError(t, f.engine.Execute(context.Background(), run.ID))

	assert.Equal(t, before, f.eventTypes(t, run.ID))
}
