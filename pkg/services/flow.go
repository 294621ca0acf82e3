package services

import (
	"context"
	"fmt"

	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/engageflow/flows/pkg/registry"
)

// FlowService owns the Flow/FlowVersion/FlowTemplate lifecycle: create,
// version, publish, clone, and template instantiation. Graph validation
// happens here, at version-creation time, so malformed graphs never become
// runnable snapshots.
type FlowService struct {
	persistence persistence.Persistence
	registry    *registry.Registry
}

// NewFlowService creates a new flow registry service.
func NewFlowService(persistence persistence.Persistence, registry *registry.Registry) *FlowService {
	return &FlowService{
		persistence: persistence,
		registry:    registry,
	}
}

// CreateFlow creates a draft flow with no version.
func (s *FlowService) CreateFlow(ctx context.Context, tenantID, name, description string) (*models.Flow, error) {
	if tenantID == "" {
		return nil, NewValidationError("CreateFlow", "tenant id missing", ErrTenantRequired)
	}

	if name == "" {
		return nil, NewValidationError("CreateFlow", "name missing", ErrNameRequired)
	}

	flow := &models.Flow{
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		Status:      models.FlowStatusDraft,
	}

	err := s.persistence.FlowRepository().Save(ctx, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow: %w", err)
	}

	return flow, nil
}

// FetchByID loads a flow.
func (s *FlowService) FetchByID(ctx context.Context, id string) (*models.Flow, error) {
	return s.persistence.FlowRepository().GetByID(ctx, id)
}

// ListByTenant lists a tenant's flows.
func (s *FlowService) ListByTenant(ctx context.Context, tenantID string) ([]*models.Flow, error) {
	if tenantID == "" {
		return nil, NewValidationError("ListByTenant", "tenant id missing", ErrTenantRequired)
	}

	return s.persistence.FlowRepository().ListByTenant(ctx, tenantID)
}

// CreateVersion validates the graph, snapshots it as the flow's next version,
// and repoints the flow at it. This is also the mechanism for "make this the
// editable draft": the repoint is unconditional.
func (s *FlowService) CreateVersion(ctx context.Context, flowID string, graph *models.Graph, publish bool) (*models.FlowVersion, error) {
	if graph == nil {
		return nil, NewValidationError("CreateVersion", "graph missing", ErrGraphRequired)
	}

	err := s.validateGraph(graph)
	if err != nil {
		return nil, err
	}

	version, err := s.persistence.VersionRepository().CreateVersion(ctx, flowID, graph, publish)
	if err != nil {
		return nil, fmt.Errorf("failed to create version for flow %s: %w", flowID, err)
	}

	return version, nil
}

// Publish snapshots the flow's current graph (or an empty graph when the
// flow has no version yet) as a new published version.
func (s *FlowService) Publish(ctx context.Context, flowID string) (*models.FlowVersion, error) {
	flow, err := s.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	graph := &models.Graph{}

	if flow.CurrentVersionID != "" {
		current, err := s.persistence.VersionRepository().GetVersion(ctx, flow.CurrentVersionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load current version of flow %s: %w", flowID, err)
		}

		graph = current.Graph
	}

	version, err := s.persistence.VersionRepository().CreateVersion(ctx, flowID, graph, true)
	if err != nil {
		return nil, fmt.Errorf("failed to publish flow %s: %w", flowID, err)
	}

	return version, nil
}

// Clone copies name, description, and tenant into a new draft flow with no
// version. The graph is not auto-copied.
func (s *FlowService) Clone(ctx context.Context, flowID, name string) (*models.Flow, error) {
	source, err := s.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = source.Name + " (copy)"
	}

	return s.CreateFlow(ctx, source.TenantID, name, source.Description)
}

// InstantiateFromTemplate creates a flow seeded with an initial unpublished
// version carrying the template's graph verbatim.
func (s *FlowService) InstantiateFromTemplate(ctx context.Context, templateID, name, tenantID string) (*models.Flow, error) {
	template, err := s.persistence.TemplateRepository().GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = template.Name
	}

	flow, err := s.CreateFlow(ctx, tenantID, name, template.Description)
	if err != nil {
		return nil, err
	}

	_, err = s.persistence.VersionRepository().CreateVersion(ctx, flow.ID, template.Graph, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create initial version from template %s: %w", templateID, err)
	}

	// Re-read so the returned flow carries the repointed version id.
	return s.persistence.FlowRepository().GetByID(ctx, flow.ID)
}

// ListVersions returns a flow's versions newest-first.
func (s *FlowService) ListVersions(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	_, err := s.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	return s.persistence.VersionRepository().ListVersions(ctx, flowID)
}

// ListTemplates lists templates visible to a tenant.
func (s *FlowService) ListTemplates(ctx context.Context, tenantID string) ([]*models.FlowTemplate, error) {
	return s.persistence.TemplateRepository().ListTemplates(ctx, tenantID)
}

// Delete removes a flow.
func (s *FlowService) Delete(ctx context.Context, flowID string) error {
	return s.persistence.FlowRepository().Delete(ctx, flowID)
}

// HealthCheck reports store health for the API health endpoint.
func (s *FlowService) HealthCheck(ctx context.Context) (string, bool) {
	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return err.Error(), false
	}

	return "connected", true
}

func (s *FlowService) validateGraph(graph *models.Graph) error {
	err := graph.Validate()
	if err != nil {
		return NewValidationError("CreateVersion", err.Error(), fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	if s.registry != nil {
		err = s.registry.ValidateNodeConfigs(graph)
		if err != nil {
			return NewValidationError("CreateVersion", err.Error(), fmt.Errorf("%w: %w", ErrInvalidRequest, err))
		}
	}

	return nil
}
