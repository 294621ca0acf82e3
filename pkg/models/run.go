package models

import "time"

// RunStatus defines the execution engine state machine for a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"   // Created, not yet claimed by an executor
	RunStatusRunning   RunStatus = "running"   // Claimed, dispatch loop active
	RunStatusWaiting   RunStatus = "waiting"   // Suspended at a wait node
	RunStatusCompleted RunStatus = "completed" // Reached an end node; terminal
	RunStatusFailed    RunStatus = "failed"    // Unrecoverable error; terminal
)

// IsTerminal reports whether no further transition is accepted.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunContext is the mutable scratch state a run accumulates while executing:
// the resume position, variable bindings, and suspension metadata.
type RunContext struct {
	CurrentNodeID string         `json:"current_node_id,omitempty"`
	Bindings      map[string]any `json:"bindings,omitempty"`
	WaitUntil     *time.Time     `json:"wait_until,omitempty"`
	WaitEvent     string         `json:"wait_event,omitempty"`
}

// FlowRun is one execution instance of a specific flow version. VersionID is
// pinned at creation and never changes, even if the flow is republished while
// the run is in flight.
type FlowRun struct {
	ID        string         `json:"id"`
	FlowID    string         `json:"flow_id"    validate:"required"`
	VersionID string         `json:"version_id" validate:"required"`
	TenantID  string         `json:"tenant_id"  validate:"required"`
	Status    RunStatus      `json:"status"`
	Input     map[string]any `json:"input,omitempty"`
	Context   *RunContext    `json:"context,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
