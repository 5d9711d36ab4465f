// Package models defines the domain models for the workflow orchestration service
package models

import "time"

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// CreateWorkflowResponse is returned after a workflow has been registered.
type CreateWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
}

// ControlResponse reports whether a control action was dispatched.
type ControlResponse struct {
	Success bool `json:"success"`
}

// PlanWorkflowRequest asks the planner to turn free text into a workflow.
type PlanWorkflowRequest struct {
	Request        string `json:"request"`
	Name           string `json:"name,omitempty"`
	SessionID      string `json:"session_id"`
	AutomationMode string `json:"automation_mode,omitempty"`
}
