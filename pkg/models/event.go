package models

import "time"

// FlowEventType classifies entries in a run's audit trail.
type FlowEventType string

const (
	FlowEventNodeEntered   FlowEventType = "node.entered"
	FlowEventNodeCompleted FlowEventType = "node.completed"
	FlowEventNodeError     FlowEventType = "node.error"
	FlowEventRunSuspended  FlowEventType = "run.suspended"
	FlowEventRunResumed    FlowEventType = "run.resumed"
	FlowEventRunCompleted  FlowEventType = "run.completed"
	FlowEventRunFailed     FlowEventType = "run.failed"
)

// FlowEvent is an append-only audit record for a run. Events are immutable
// once written and strictly timestamp-ordered; together they form the
// replayable trace of the run.
type FlowEvent struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"    validate:"required"`
	Type      FlowEventType  `json:"type"      validate:"required"`
	NodeID    string         `json:"node_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
