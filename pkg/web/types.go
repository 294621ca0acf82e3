// Package web provides the HTTP surface: flow registry management, run
// triggering and resumption, and run introspection.
package web

import "github.com/engageflow/flows/pkg/models"

// TenantHeader carries the caller's tenant on every request.
const TenantHeader = "X-Tenant-ID"

// CreateFlowRequest is the request body for creating a flow.
type CreateFlowRequest struct {
	Name        string `json:"name"        validate:"required,min=1"`
	Description string `json:"description"`
}

// CreateVersionRequest is the request body for snapshotting a new version.
type CreateVersionRequest struct {
	Graph       *models.Graph `json:"graph"        validate:"required"`
	IsPublished bool          `json:"is_published"`
}

// CloneFlowRequest is the request body for cloning a flow.
type CloneFlowRequest struct {
	Name string `json:"name"`
}

// RunFlowRequest is the request body for triggering a run.
type RunFlowRequest struct {
	Input map[string]any `json:"input"`
}

// ResumeRunRequest is the request body for resuming a suspended run.
type ResumeRunRequest struct {
	Input map[string]any `json:"input"`
}

// InstantiateTemplateRequest is the request body for creating a flow from a
// template.
type InstantiateTemplateRequest struct {
	Name string `json:"name"`
}

// RunResponse is the acknowledgement returned by trigger and resume. The run
// executes asynchronously; callers poll the run or its events for progress.
type RunResponse struct {
	RunID     string `json:"run_id"`
	FlowID    string `json:"flow_id"`
	VersionID string `json:"version_id"`
	Status    string `json:"status"`
}

func toRunResponse(run *models.FlowRun) RunResponse {
	return RunResponse{
		RunID:     run.ID,
		FlowID:    run.FlowID,
		VersionID: run.VersionID,
		Status:    string(run.Status),
	}
}
