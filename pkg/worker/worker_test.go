package worker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/engageflow/flows/pkg/channels/gochannel"
	"github.com/engageflow/flows/pkg/engine"
	"github.com/engageflow/flows/pkg/eventbus"
	"github.com/engageflow/flows/pkg/events"
	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence/file"
	"github.com/engageflow/flows/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerExecutesDispatchedRun(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	p := file.NewPersistence(t.TempDir())
	eng := engine.NewEngine(p, registry.NewRegistry(logger), logger)

	// The non-blocking channel: the worker publishes the finished
	// announcement from inside the dispatch handler, which would deadlock a
	// publish that waits for its own ack.
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	flow := &models.Flow{TenantID: "acme", Name: "Quick"}
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "done"},
		},
	}

	version, err := p.VersionRepository().CreateVersion(ctx, flow.ID, graph, true)
	require.NoError(t, err)

	run := &models.FlowRun{
		FlowID:    flow.ID,
		VersionID: version.ID,
		TenantID:  "acme",
		Status:    models.RunStatusPending,
	}
	require.NoError(t, p.RunRepository().CreateRun(ctx, run))

	// Observe the finished announcement the worker publishes back.
	finished := make(chan *events.RunFinished, 1)

	w := NewWorker(eng, p, bus, logger)
	require.NoError(t, bus.Handle(events.RunFinishedEvent, func(_ context.Context, event any) error {
		announcement, ok := event.(*events.RunFinished)
		require.True(t, ok)
		finished <- announcement

		return nil
	}))
	require.NoError(t, w.Start(ctx))

	dispatched := events.RunDispatched{
		BaseEvent: events.NewBaseEvent(events.RunDispatchedEvent, flow.ID),
		RunID:     run.ID,
		TenantID:  "acme",
	}
	require.NoError(t, bus.Publish(ctx, run.ID, dispatched))

	select {
	case announcement := <-finished:
		assert.Equal(t, run.ID, announcement.RunID)
		assert.Equal(t, string(models.RunStatusCompleted), announcement.Status)
		assert.Equal(t, w.ID(), announcement.WorkerID)
	case <-time.After(3 * time.Second):
		t.Fatal("no finished announcement")
	}

	loaded, err := p.RunRepository().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, loaded.Status)
}

func TestWorkerID(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	p := file.NewPersistence(t.TempDir())
	eng := engine.NewEngine(p, registry.NewRegistry(logger), logger)

	a := NewWorker(eng, p, nil, logger)
	b := NewWorker(eng, p, nil, logger)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Contains(t, a.ID(), "worker-")
}
