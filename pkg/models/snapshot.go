package models

import "time"

// WorkflowState is the coarse state shown in workflow listings.
type WorkflowState string

const (
	WorkflowStatePending   WorkflowState = "pending"
	WorkflowStateRunning   WorkflowState = "running"
	WorkflowStatePaused    WorkflowState = "paused"
	WorkflowStateCompleted WorkflowState = "completed"
	WorkflowStateCancelled WorkflowState = "cancelled"
)

// WorkflowStatus is a serialisable, read-only view of a workflow.
type WorkflowStatus struct {
	WorkflowID        string         `json:"workflow_id"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	SessionID         string         `json:"session_id"`
	AutomationMode    AutomationMode `json:"automation_mode"`
	State             WorkflowState  `json:"status"`
	CurrentStep       int            `json:"current_step"` // 1-based
	TotalSteps        int            `json:"total_steps"`
	IsPaused          bool           `json:"is_paused"`
	IsCancelled       bool           `json:"is_cancelled"`
	TimeoutPerStep    Duration       `json:"timeout_per_step,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	Steps             []Step         `json:"steps"`
	UserInterventions []Intervention `json:"user_interventions"`
}

// Status derives the coarse workflow state.
func (w *Workflow) Status() WorkflowState {
	switch {
	case w.IsCancelled:
		return WorkflowStateCancelled
	case w.CompletedAt != nil:
		return WorkflowStateCompleted
	case w.IsPaused:
		return WorkflowStatePaused
	case w.StartedAt != nil:
		return WorkflowStateRunning
	default:
		return WorkflowStatePending
	}
}

// Snapshot copies the workflow into a WorkflowStatus.
func (w *Workflow) Snapshot() WorkflowStatus {
	c := w.Clone()
	return WorkflowStatus{
		WorkflowID:        c.WorkflowID,
		Name:              c.Name,
		Description:       c.Description,
		SessionID:         c.SessionID,
		AutomationMode:    c.AutomationMode,
		State:             c.Status(),
		CurrentStep:       c.CurrentStepIndex + 1,
		TotalSteps:        len(c.Steps),
		IsPaused:          c.IsPaused,
		IsCancelled:       c.IsCancelled,
		TimeoutPerStep:    c.TimeoutPerStep,
		CreatedAt:         c.CreatedAt,
		StartedAt:         c.StartedAt,
		CompletedAt:       c.CompletedAt,
		Steps:             c.Steps,
		UserInterventions: c.UserInterventions,
	}
}
