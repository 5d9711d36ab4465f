package models

import "time"

// EventType names a state change pushed to a session's listeners.
type EventType string

const (
	EventStartWorkflow            EventType = "start_workflow"
	EventStepConfirmationRequired EventType = "step_confirmation_required"
	EventStepRejectedByJudge      EventType = "step_rejected_by_judge"
	EventStepFailed               EventType = "step_failed"
	EventStepCompleted            EventType = "step_completed"
	EventStepSkipped              EventType = "step_skipped"
	EventWorkflowCompleted        EventType = "workflow_completed"
	EventWorkflowPaused           EventType = "workflow_paused"
	EventWorkflowResumed          EventType = "workflow_resumed"
	EventWorkflowCancelled        EventType = "workflow_cancelled"
)

// NeedsAttention reports whether a human has to act on the event.
func (t EventType) NeedsAttention() bool {
	switch t {
	case EventStepConfirmationRequired, EventStepRejectedByJudge, EventStepFailed:
		return true
	}
	return false
}

// CompletionSummary counts step outcomes of a finished workflow.
type CompletionSummary struct {
	TotalSteps     int `json:"total_steps"`
	CompletedSteps int `json:"completed_steps"`
	SkippedSteps   int `json:"skipped_steps"`
	FailedSteps    int `json:"failed_steps"`
}

// Event is the envelope sent to session listeners. Only the fields relevant
// to Type are populated.
type Event struct {
	Type         EventType          `json:"type"`
	WorkflowID   string             `json:"workflow_id"`
	WorkflowName string             `json:"workflow_name,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
	Step         *Step              `json:"step,omitempty"`
	Steps        []Step             `json:"steps,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	Suggestions  []string           `json:"suggestions,omitempty"`
	Error        string             `json:"error,omitempty"`
	Summary      *CompletionSummary `json:"summary,omitempty"`
}
