package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	logcap "github.com/engageflow/flows/pkg/capabilities/log"
	"github.com/engageflow/flows/pkg/gateway"
	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence/file"
	"github.com/engageflow/flows/pkg/registry"
	"github.com/engageflow/flows/pkg/services"
	"github.com/engageflow/flows/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopDispatcher accepts runs without executing them; handler tests only
// observe the stored state and response codes.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(_ context.Context, _ *models.FlowRun, _ bool) error { return nil }

func (noopDispatcher) Close() error { return nil }

type testEnv struct {
	app         *fiber.App
	persistence *file.Persistence
	flowService *services.FlowService
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	persistence := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterCapability(logcap.NewFactory())

	flowService := services.NewFlowService(persistence, reg)
	gw := gateway.NewGateway(persistence, noopDispatcher{}, logger)

	handlers := web.NewAPIHandlers(flowService, gw, persistence, validator.New(validator.WithRequiredStructEnabled()), reg)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return &testEnv{app: app, persistence: persistence, flowService: flowService}
}

func (e *testEnv) request(t *testing.T, method, path, tenant string, payload any) *http.Response {
	t.Helper()

	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if tenant != "" {
		req.Header.Set(web.TenantHeader, tenant)
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))

	return out
}

func seedPublishedFlow(t *testing.T, e *testEnv, tenant string) *models.Flow {
	t.Helper()

	ctx := context.Background()

	flow, err := e.flowService.CreateFlow(ctx, tenant, "Signup drip", "")
	require.NoError(t, err)

	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger.manual", Name: "Start"},
			{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "done"},
		},
	}

	_, err = e.flowService.CreateVersion(ctx, flow.ID, graph, true)
	require.NoError(t, err)

	flow, err = e.flowService.FetchByID(ctx, flow.ID)
	require.NoError(t, err)

	return flow
}

func TestCreateFlow(t *testing.T) {
	tests := []struct {
		name           string
		tenant         string
		payload        any
		expectedStatus int
	}{
		{
			name:           "successful creation",
			tenant:         "acme",
			payload:        web.CreateFlowRequest{Name: "Welcome series", Description: "Onboarding"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing name",
			tenant:         "acme",
			payload:        web.CreateFlowRequest{Description: "No name"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing tenant header",
			tenant:         "",
			payload:        web.CreateFlowRequest{Name: "Welcome"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupTestApp(t)

			resp := e.request(t, http.MethodPost, "/flows", tt.tenant, tt.payload)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				flow := decodeBody[models.Flow](t, resp)
				assert.NotEmpty(t, flow.ID)
				assert.Equal(t, tt.tenant, flow.TenantID)
				assert.Equal(t, models.FlowStatusDraft, flow.Status)
			}
		})
	}
}

func TestGetFlowTenantScoping(t *testing.T) {
	e := setupTestApp(t)
	flow := seedPublishedFlow(t, e, "acme")

	t.Run("own tenant sees the flow", func(t *testing.T) {
		resp := e.request(t, http.MethodGet, "/flows/"+flow.ID, "acme", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("foreign tenant reads 404", func(t *testing.T) {
		resp := e.request(t, http.MethodGet, "/flows/"+flow.ID, "globex", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown id reads 404", func(t *testing.T) {
		resp := e.request(t, http.MethodGet, "/flows/nope", "acme", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCreateVersionEndpoint(t *testing.T) {
	e := setupTestApp(t)
	flow := seedPublishedFlow(t, e, "acme")

	t.Run("valid graph", func(t *testing.T) {
		payload := web.CreateVersionRequest{
			Graph: &models.Graph{
				Nodes: []*models.Node{
					{ID: "start", Type: "trigger.manual", Name: "Start"},
					{ID: "say", Type: "log", Name: "Say", Config: map[string]any{"message": "hi"}},
					{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
				},
				Edges: []*models.Edge{
					{ID: "e1", Source: "start", Target: "say"},
					{ID: "e2", Source: "say", Target: "done"},
				},
			},
			IsPublished: true,
		}

		resp := e.request(t, http.MethodPost, "/flows/"+flow.ID+"/versions", "acme", payload)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		version := decodeBody[models.FlowVersion](t, resp)
		assert.Equal(t, 2, version.Version)
		assert.True(t, version.IsPublished)
	})

	t.Run("invalid graph rejected", func(t *testing.T) {
		payload := web.CreateVersionRequest{
			Graph: &models.Graph{
				Nodes: []*models.Node{
					{ID: "done", Type: models.NodeTypeEnd, Name: "Done"},
				},
			},
		}

		resp := e.request(t, http.MethodPost, "/flows/"+flow.ID+"/versions", "acme", payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing graph rejected", func(t *testing.T) {
		resp := e.request(t, http.MethodPost, "/flows/"+flow.ID+"/versions", "acme", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestPublishFlowEndpoint(t *testing.T) {
	e := setupTestApp(t)
	flow := seedPublishedFlow(t, e, "acme")

	resp := e.request(t, http.MethodPost, "/flows/"+flow.ID+"/publish", "acme", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	version := decodeBody[models.FlowVersion](t, resp)
	assert.Equal(t, 2, version.Version)
	assert.True(t, version.IsPublished)
}

func TestRunFlowEndpoint(t *testing.T) {
	e := setupTestApp(t)
	flow := seedPublishedFlow(t, e, "acme")

	t.Run("accepted", func(t *testing.T) {
		resp := e.request(t, http.MethodPost, "/flows/"+flow.ID+"/run", "acme",
			web.RunFlowRequest{Input: map[string]any{"email": "a@b.c"}})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		accepted := decodeBody[web.RunResponse](t, resp)
		assert.NotEmpty(t, accepted.RunID)
		assert.Equal(t, flow.ID, accepted.FlowID)
		assert.Equal(t, flow.CurrentVersionID, accepted.VersionID)
		assert.Equal(t, string(models.RunStatusPending), accepted.Status)

		// The stored run carries the input.
		run, err := e.persistence.RunRepository().GetRun(context.Background(), accepted.RunID)
		require.NoError(t, err)
		assert.Equal(t, "a@b.c", run.Input["email"])
	})

	t.Run("no body is allowed", func(t *testing.T) {
		resp := e.request(t, http.MethodPost, "/flows/"+flow.ID+"/run", "acme", nil)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("flow without version conflicts", func(t *testing.T) {
		bare, err := e.flowService.CreateFlow(context.Background(), "acme", "Bare", "")
		require.NoError(t, err)

		resp := e.request(t, http.MethodPost, "/flows/"+bare.ID+"/run", "acme", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("foreign tenant reads 404", func(t *testing.T) {
		resp := e.request(t, http.MethodPost, "/flows/"+flow.ID+"/run", "globex", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestResumeRunEndpoint(t *testing.T) {
	e := setupTestApp(t)
	ctx := context.Background()

	t.Run("waiting run resumes", func(t *testing.T) {
		run := &models.FlowRun{
			FlowID:    "f1",
			VersionID: "v1",
			TenantID:  "acme",
			Status:    models.RunStatusWaiting,
			Input:     map[string]any{"order": "42"},
		}
		require.NoError(t, e.persistence.RunRepository().CreateRun(ctx, run))

		resp := e.request(t, http.MethodPost, "/runs/"+run.ID+"/resume", "acme",
			web.ResumeRunRequest{Input: map[string]any{"payment": "ok"}})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		loaded, err := e.persistence.RunRepository().GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "ok", loaded.Input["payment"])
	})

	t.Run("terminal run conflicts", func(t *testing.T) {
		run := &models.FlowRun{
			FlowID:    "f1",
			VersionID: "v1",
			TenantID:  "acme",
			Status:    models.RunStatusCompleted,
		}
		require.NoError(t, e.persistence.RunRepository().CreateRun(ctx, run))

		resp := e.request(t, http.MethodPost, "/runs/"+run.ID+"/resume", "acme", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown run reads 404", func(t *testing.T) {
		resp := e.request(t, http.MethodPost, "/runs/nope/resume", "acme", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestRunEventsEndpoint(t *testing.T) {
	e := setupTestApp(t)
	ctx := context.Background()

	run := &models.FlowRun{
		FlowID:    "f1",
		VersionID: "v1",
		TenantID:  "acme",
		Status:    models.RunStatusCompleted,
	}
	require.NoError(t, e.persistence.RunRepository().CreateRun(ctx, run))

	event := &models.FlowEvent{
		RunID:  run.ID,
		Type:   models.FlowEventRunCompleted,
		NodeID: "done",
	}
	require.NoError(t, e.persistence.EventRepository().AppendEvent(ctx, event))

	t.Run("lists the trail", func(t *testing.T) {
		resp := e.request(t, http.MethodGet, "/runs/"+run.ID+"/events", "acme", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[map[string][]models.FlowEvent](t, resp)
		require.Len(t, body["events"], 1)
		assert.Equal(t, models.FlowEventRunCompleted, body["events"][0].Type)
	})

	t.Run("unknown run reads 404", func(t *testing.T) {
		resp := e.request(t, http.MethodGet, "/runs/nope/events", "acme", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestTemplateEndpoints(t *testing.T) {
	e := setupTestApp(t)
	ctx := context.Background()

	template := &models.FlowTemplate{
		Name:  "Abandoned cart",
		Graph: &models.Graph{},
	}
	require.NoError(t, e.persistence.TemplateRepository().SaveTemplate(ctx, template))

	t.Run("list", func(t *testing.T) {
		resp := e.request(t, http.MethodGet, "/templates", "acme", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[map[string][]models.FlowTemplate](t, resp)
		require.Len(t, body["templates"], 1)
	})

	t.Run("instantiate", func(t *testing.T) {
		resp := e.request(t, http.MethodPost, "/templates/"+template.ID+"/instantiate", "acme",
			web.InstantiateTemplateRequest{Name: "My cart flow"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		flow := decodeBody[models.Flow](t, resp)
		assert.Equal(t, "My cart flow", flow.Name)
		assert.Equal(t, "acme", flow.TenantID)
	})

	t.Run("instantiate unknown template", func(t *testing.T) {
		resp := e.request(t, http.MethodPost, "/templates/nope/instantiate", "acme", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCloneFlowEndpoint(t *testing.T) {
	e := setupTestApp(t)
	flow := seedPublishedFlow(t, e, "acme")

	resp := e.request(t, http.MethodPost, "/flows/"+flow.ID+"/clone", "acme",
		web.CloneFlowRequest{Name: "Signup drip v2"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	clone := decodeBody[models.Flow](t, resp)
	assert.Equal(t, "Signup drip v2", clone.Name)
	assert.NotEqual(t, flow.ID, clone.ID)
	assert.Empty(t, clone.CurrentVersionID)
}

func TestListFlowsEndpoint(t *testing.T) {
	e := setupTestApp(t)
	seedPublishedFlow(t, e, "acme")
	seedPublishedFlow(t, e, "globex")

	resp := e.request(t, http.MethodGet, "/flows", "acme", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string][]models.Flow](t, resp)
	require.Len(t, body["flows"], 1)
	assert.Equal(t, "acme", body["flows"][0].TenantID)
}
