// Package events defines the wire events exchanged between the API gateway
// and the worker fleet over the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries all run lifecycle events.
const Topic = "flows.runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// RunDispatchedEvent asks a worker to execute a run. It is published on
	// trigger and again on every resume; execution ownership is decided by
	// the run store claim, not by message delivery.
	RunDispatchedEvent EventType = "run.dispatched"

	// RunFinishedEvent announces that a run reached a resting state.
	RunFinishedEvent EventType = "run.finished"

	// RunFailedEvent announces that a worker could not execute a run for
	// infrastructure reasons. Domain failures surface as RunFinishedEvent
	// with a failed status instead.
	RunFailedEvent EventType = "run.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	FlowID    string         `json:"flow_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type RunDispatched struct {
	BaseEvent

	RunID    string `json:"run_id"`
	TenantID string `json:"tenant_id"`
	Resumed  bool   `json:"resumed"`
}

func (e RunDispatched) GetType() EventType {
	return RunDispatchedEvent
}

type RunFinished struct {
	BaseEvent

	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

type RunFailed struct {
	BaseEvent

	RunID string `json:"run_id"`
	Error string `json:"error"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

func NewBaseEvent(eventType EventType, flowID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FlowID:    flowID,
		Metadata:  make(map[string]any),
	}
}
