// Package registry maps node types to the capabilities that execute them.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/engageflow/flows/pkg/protocol"
)

// Registry resolves node types to capability factories. It is populated once
// at startup; the engine and the version validator only read from it.
type Registry struct {
	logger    *slog.Logger
	factories map[string]protocol.CapabilityFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[string]protocol.CapabilityFactory),
	}
}

func (r *Registry) RegisterCapability(factory protocol.CapabilityFactory) {
	r.factories[factory.ID()] = factory
}

// CreateCapability instantiates the capability registered for a node type.
func (r *Registry) CreateCapability(nodeType string, config map[string]any) (protocol.Capability, error) {
	factory, ok := r.factories[nodeType]
	if !ok {
		return nil, fmt.Errorf("capability type %q not registered", nodeType)
	}

	return factory.Create(config)
}

// IsRegistered reports whether a capability serves the given node type.
func (r *Registry) IsRegistered(nodeType string) bool {
	_, ok := r.factories[nodeType]

	return ok
}

// CapabilityTypes returns the registered node types.
func (r *Registry) CapabilityTypes() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}

	return types
}

// SchemaFor returns the config schema of the factory serving a node type.
func (r *Registry) SchemaFor(nodeType string) (map[string]any, bool) {
	factory, ok := r.factories[nodeType]
	if !ok {
		return nil, false
	}

	return factory.Schema(), true
}

// HealthCheck reports registry readiness for the API health endpoint.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.factories) == 0 {
		return "no capabilities registered", false
	}

	return fmt.Sprintf("%d capabilities: %s", len(r.factories), strings.Join(r.CapabilityTypes(), ", ")), true
}
