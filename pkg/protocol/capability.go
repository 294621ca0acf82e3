// Package protocol defines the interfaces the engine dispatches through.
package protocol

import (
	"context"
	"log/slog"
)

// ExecutionScope is the read view a capability gets of a run: its identity
// plus the accumulated variable bindings (input, context, prior node outputs).
type ExecutionScope struct {
	RunID    string
	FlowID   string
	TenantID string
	NodeID   string
	Bindings map[string]any
}

// Capability is a unit of node-type business logic invoked by the engine for
// action nodes. The returned output is merged into the run's bindings under
// the node id. Adding a node type means registering a capability, never
// touching engine internals.
type Capability interface {
	Execute(ctx context.Context, scope ExecutionScope, logger *slog.Logger) (map[string]any, error)
}

// CapabilityFactory creates capabilities from node config and describes the
// config shape so versions can be schema-checked at creation time.
type CapabilityFactory interface {
	// ID returns the node type this factory serves, e.g. "send.message".
	ID() string

	Create(config map[string]any) (Capability, error)

	// Schema returns the JSON schema for the node config, or nil when the
	// capability accepts any config.
	Schema() map[string]any
}
