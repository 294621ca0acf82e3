//go:build integration
// +build integration

package postgresql

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

func setupTestDB(t *testing.T) (*Persistence, context.Context) {
	ctx := context.Background()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error
		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flows_test"),
			postgres.WithUsername("flows"),
			postgres.WithPassword("flows"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(ctx) })

	cleanupDB(t, databaseURL)

	return p, ctx
}

func cleanupDB(t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("TRUNCATE TABLE flow_events, flow_runs, flow_versions, flow_templates, flows")
	require.NoError(t, err)
}

func createTestFlow(t *testing.T, p *Persistence, ctx context.Context) *models.Flow {
	t.Helper()

	flow := &models.Flow{
		TenantID: "acme",
		Name:     "Order followup",
		Status:   models.FlowStatusDraft,
	}
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	return flow
}

func createTestRun(t *testing.T, p *Persistence, ctx context.Context, status models.RunStatus) *models.FlowRun {
	t.Helper()

	flow := createTestFlow(t, p, ctx)

	version, err := p.VersionRepository().CreateVersion(ctx, flow.ID, &models.Graph{}, true)
	require.NoError(t, err)

	run := &models.FlowRun{
		FlowID:    flow.ID,
		VersionID: version.ID,
		TenantID:  flow.TenantID,
		Status:    status,
	}
	require.NoError(t, p.RunRepository().CreateRun(ctx, run))

	return run
}

func TestFlowRoundTrip(t *testing.T) {
	p, ctx := setupTestDB(t)

	flow := createTestFlow(t, p, ctx)

	loaded, err := p.FlowRepository().GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.Name, loaded.Name)
	assert.Equal(t, "acme", loaded.TenantID)

	flows, err := p.FlowRepository().ListByTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, flows, 1)

	_, err = p.FlowRepository().GetByID(ctx, "11111111-1111-1111-1111-111111111111")
	assert.True(t, persistence.IsFlowNotFound(err))

	require.NoError(t, p.FlowRepository().Delete(ctx, flow.ID))

	_, err = p.FlowRepository().GetByID(ctx, flow.ID)
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestVersionNumberingIsGapFree(t *testing.T) {
	p, ctx := setupTestDB(t)
	flow := createTestFlow(t, p, ctx)

	const writers = 10

	var wg sync.WaitGroup

	errs := make(chan error, writers)

	for range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := p.VersionRepository().CreateVersion(ctx, flow.ID, &models.Graph{}, false)
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := p.VersionRepository().ListVersions(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, versions, writers)

	for i, version := range versions {
		assert.Equal(t, writers-i, version.Version)
	}
}

func TestPublishRepointsFlow(t *testing.T) {
	p, ctx := setupTestDB(t)
	flow := createTestFlow(t, p, ctx)

	version, err := p.VersionRepository().CreateVersion(ctx, flow.ID, &models.Graph{}, true)
	require.NoError(t, err)
	assert.True(t, version.IsPublished)

	loaded, err := p.FlowRepository().GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, version.ID, loaded.CurrentVersionID)
	assert.Equal(t, models.FlowStatusPublished, loaded.Status)
}

func TestTransitionRunClaim(t *testing.T) {
	p, ctx := setupTestDB(t)
	run := createTestRun(t, p, ctx, models.RunStatusPending)

	claimed, err := p.RunRepository().TransitionRun(ctx, run.ID,
		[]models.RunStatus{models.RunStatusPending, models.RunStatusWaiting},
		models.RunStatusRunning, nil)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = p.RunRepository().TransitionRun(ctx, run.ID,
		[]models.RunStatus{models.RunStatusPending, models.RunStatusWaiting},
		models.RunStatusRunning, nil)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestTransitionRunConcurrentClaims(t *testing.T) {
	p, ctx := setupTestDB(t)
	run := createTestRun(t, p, ctx, models.RunStatusPending)

	const claimers = 8

	wins := make(chan bool, claimers)

	var wg sync.WaitGroup

	for range claimers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			claimed, err := p.RunRepository().TransitionRun(ctx, run.ID,
				[]models.RunStatus{models.RunStatusPending, models.RunStatusWaiting},
				models.RunStatusRunning, nil)
			assert.NoError(t, err)
			wins <- claimed
		}()
	}

	wg.Wait()
	close(wins)

	winners := 0

	for won := range wins {
		if won {
			winners++
		}
	}

	assert.Equal(t, 1, winners)
}

func TestTransitionRunContextPatch(t *testing.T) {
	p, ctx := setupTestDB(t)
	run := createTestRun(t, p, ctx, models.RunStatusRunning)

	due := time.Now().UTC().Add(time.Hour)
	patch := &models.RunContext{
		CurrentNodeID: "after-wait",
		Bindings:      map[string]any{"step": "checkout"},
		WaitUntil:     &due,
	}

	swapped, err := p.RunRepository().TransitionRun(ctx, run.ID,
		[]models.RunStatus{models.RunStatusRunning}, models.RunStatusWaiting, patch)
	require.NoError(t, err)
	assert.True(t, swapped)

	loaded, err := p.RunRepository().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusWaiting, loaded.Status)
	require.NotNil(t, loaded.Context)
	assert.Equal(t, "after-wait", loaded.Context.CurrentNodeID)
	assert.Equal(t, "checkout", loaded.Context.Bindings["step"])
	require.NotNil(t, loaded.Context.WaitUntil)
}

func TestListDueWaitingRuns(t *testing.T) {
	p, ctx := setupTestDB(t)

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	due := createTestRun(t, p, ctx, models.RunStatusRunning)
	_, err := p.RunRepository().TransitionRun(ctx, due.ID,
		[]models.RunStatus{models.RunStatusRunning}, models.RunStatusWaiting,
		&models.RunContext{CurrentNodeID: "n", WaitUntil: &past})
	require.NoError(t, err)

	undue := createTestRun(t, p, ctx, models.RunStatusRunning)
	_, err = p.RunRepository().TransitionRun(ctx, undue.ID,
		[]models.RunStatus{models.RunStatusRunning}, models.RunStatusWaiting,
		&models.RunContext{CurrentNodeID: "n", WaitUntil: &future})
	require.NoError(t, err)

	found, err := p.RunRepository().ListDueWaitingRuns(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, due.ID, found[0].ID)
}

func TestMergeRunInput(t *testing.T) {
	p, ctx := setupTestDB(t)
	run := createTestRun(t, p, ctx, models.RunStatusWaiting)

	require.NoError(t, p.RunRepository().MergeRunInput(ctx, run.ID, map[string]any{"payment": "ok"}))

	loaded, err := p.RunRepository().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "ok", loaded.Input["payment"])
}

func TestEventTrail(t *testing.T) {
	p, ctx := setupTestDB(t)
	run := createTestRun(t, p, ctx, models.RunStatusRunning)

	base := time.Now().UTC()
	for i, nodeID := range []string{"start", "act", "done"} {
		event := &models.FlowEvent{
			RunID:     run.ID,
			Type:      models.FlowEventNodeEntered,
			NodeID:    nodeID,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Payload:   map[string]any{"node_name": nodeID},
		}
		require.NoError(t, p.EventRepository().AppendEvent(ctx, event))
	}

	events, err := p.EventRepository().ListEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "start", events[0].NodeID)
	assert.Equal(t, "done", events[2].NodeID)
}

func TestTemplateVisibility(t *testing.T) {
	p, ctx := setupTestDB(t)

	global := &models.FlowTemplate{Name: "Welcome", Graph: &models.Graph{}}
	tenant := &models.FlowTemplate{TenantID: "acme", Name: "Acme special", Graph: &models.Graph{}}
	foreign := &models.FlowTemplate{TenantID: "globex", Name: "Globex only", Graph: &models.Graph{}}

	for _, template := range []*models.FlowTemplate{global, tenant, foreign} {
		require.NoError(t, p.TemplateRepository().SaveTemplate(ctx, template))
	}

	visible, err := p.TemplateRepository().ListTemplates(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, visible, 2)
}
