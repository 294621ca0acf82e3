package web

import (
	"net/http"
	"time"

	"github.com/engageflow/flows/pkg/gateway"
	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/engageflow/flows/pkg/registry"
	"github.com/engageflow/flows/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flowService *services.FlowService
	gateway     *gateway.Gateway
	persistence persistence.Persistence
	validator   *validator.Validate
	registry    *registry.Registry
}

func NewAPIHandlers(
	flowService *services.FlowService,
	gateway *gateway.Gateway,
	persistence persistence.Persistence,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		flowService: flowService,
		gateway:     gateway,
		persistence: persistence,
		validator:   validator,
		registry:    registry,
	}
}

// RegisterRoutes mounts the API route table on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Post("/flows", h.CreateFlow)
	app.Get("/flows", h.ListFlows)
	app.Get("/flows/:id", h.GetFlow)
	app.Post("/flows/:id/versions", h.CreateVersion)
	app.Get("/flows/:id/versions", h.ListVersions)
	app.Post("/flows/:id/publish", h.PublishFlow)
	app.Post("/flows/:id/clone", h.CloneFlow)
	app.Post("/flows/:id/run", h.RunFlow)
	app.Get("/flows/:id/runs", h.ListRuns)

	app.Post("/runs/:id/resume", h.ResumeRun)
	app.Get("/runs/:id", h.GetRun)
	app.Get("/runs/:id/events", h.ListRunEvents)

	app.Get("/templates", h.ListTemplates)
	app.Post("/templates/:id/instantiate", h.InstantiateTemplate)
}

func tenantID(c fiber.Ctx) string {
	return c.Get(TenantHeader)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flowService.CreateFlow(c.Context(), tenantID(c), req.Name, req.Description)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	flows, err := h.flowService.ListByTenant(c.Context(), tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows})
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.fetchTenantFlow(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) CreateVersion(c fiber.Ctx) error {
	flow, err := h.fetchTenantFlow(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	var req CreateVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.Graph == nil {
		return badRequest(c, "graph is required")
	}

	version, err := h.flowService.CreateVersion(c.Context(), flow.ID, req.Graph, req.IsPublished)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) ListVersions(c fiber.Ctx) error {
	flow, err := h.fetchTenantFlow(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	versions, err := h.flowService.ListVersions(c.Context(), flow.ID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	flow, err := h.fetchTenantFlow(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	version, err := h.flowService.Publish(c.Context(), flow.ID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) CloneFlow(c fiber.Ctx) error {
	flow, err := h.fetchTenantFlow(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	var req CloneFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	clone, err := h.flowService.Clone(c.Context(), flow.ID, req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(clone)
}

// RunFlow accepts a trigger. The response acknowledges the pending run; the
// graph executes asynchronously.
func (h *APIHandlers) RunFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	var req RunFlowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	run, err := h.gateway.Run(c.Context(), id, tenantID(c), req.Input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toRunResponse(run))
}

func (h *APIHandlers) ListRuns(c fiber.Ctx) error {
	flow, err := h.fetchTenantFlow(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	runs, err := h.persistence.RunRepository().ListRunsByFlow(c.Context(), flow.ID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) ResumeRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req ResumeRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	run, err := h.gateway.Resume(c.Context(), id, req.Input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toRunResponse(run))
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.persistence.RunRepository().GetRun(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) ListRunEvents(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	// Confirm the run exists so an unknown id reads as 404, not an empty
	// trail.
	_, err := h.persistence.RunRepository().GetRun(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	events, err := h.persistence.EventRepository().ListEvents(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"events": events})
}

func (h *APIHandlers) ListTemplates(c fiber.Ctx) error {
	templates, err := h.flowService.ListTemplates(c.Context(), tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"templates": templates})
}

func (h *APIHandlers) InstantiateTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	var req InstantiateTemplateRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	flow, err := h.flowService.InstantiateFromTemplate(c.Context(), id, req.Name, tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

// fetchTenantFlow loads the flow in the id param and enforces tenant
// scoping: a flow belonging to another tenant reads as absent.
func (h *APIHandlers) fetchTenantFlow(c fiber.Ctx) (*models.Flow, error) {
	id := c.Params("id")
	if id == "" {
		return nil, services.NewValidationError("fetchFlow", "flow id missing", services.ErrInvalidRequest)
	}

	loaded, err := h.flowService.FetchByID(c.Context(), id)
	if err != nil {
		return nil, err
	}

	if tenant := tenantID(c); tenant != "" && loaded.TenantID != tenant {
		return nil, persistence.NewFlowError("fetchFlow", id, persistence.ErrFlowNotFound)
	}

	return loaded, nil
}
