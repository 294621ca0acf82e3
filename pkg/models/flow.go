// Package models defines the core domain models for versioned flow automation.
package models

import "time"

// FlowStatus represents the lifecycle state of a flow.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"     // Editable, current version not published
	FlowStatusPublished FlowStatus = "published" // Current version is live
)

// Flow represents a tenant-owned automation definition container.
// The graph itself lives in FlowVersion snapshots; CurrentVersionID points at
// the version edits and publishes operate on.
type Flow struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"          validate:"required"`
	Name             string     `json:"name"               validate:"required,min=3"`
	Description      string     `json:"description"`
	Status           FlowStatus `json:"status"             validate:"required"`
	CurrentVersionID string     `json:"current_version_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// FlowVersion is an immutable snapshot of a flow's graph. Version numbers
// form a gap-free increasing sequence per flow, starting at 1.
type FlowVersion struct {
	ID          string    `json:"id"`
	FlowID      string    `json:"flow_id"      validate:"required"`
	Version     int       `json:"version"      validate:"gte=1"`
	IsPublished bool      `json:"is_published"`
	Graph       *Graph    `json:"graph"        validate:"required"`
	CreatedAt   time.Time `json:"created_at"`
}

// FlowTemplate is a reusable graph blueprint used to seed new flows.
// A template with an empty TenantID is global.
type FlowTemplate struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Name        string    `json:"name"        validate:"required"`
	Description string    `json:"description"`
	Graph       *Graph    `json:"graph"       validate:"required"`
	CreatedAt   time.Time `json:"created_at"`
}
