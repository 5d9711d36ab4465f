package engine

import (
	"context"

	"stepgate/backend/pkg/models"
)

// HandleWorkflowControl applies a control request. It reports whether the
// action was dispatched; unknown actions and step actions without a step id
// are refused without touching the workflow. Unknown and cancelled workflows
// yield models.ErrWorkflowNotFound.
func (e *Engine) HandleWorkflowControl(ctx context.Context, req models.ControlRequest) (bool, error) {
	entry, err := e.acquireActive(ctx, req.WorkflowID)
	if err != nil {
		return false, err
	}
	workflow := entry.Workflow()

	if req.Action == models.ControlUnknown {
		e.registry.Release(ctx, entry)
		e.logger.Warn("Unknown control action, ignoring", "workflow_id", req.WorkflowID)
		return false, nil
	}
	if req.Action.RequiresStep() && req.StepID == "" {
		e.registry.Release(ctx, entry)
		e.logger.Warn("Control action requires a step id, ignoring", "workflow_id", req.WorkflowID, "action", req.Action.String())
		return false, nil
	}

	workflow.UserInterventions = append(workflow.UserInterventions, models.Intervention{
		Timestamp: e.clock(),
		Action:    req.Action,
		StepID:    req.StepID,
		UserInput: req.UserInput,
		Actor:     req.Actor,
	})
	e.metrics.controlAction(ctx, req.Action)
	e.logger.Info("Control action", "workflow_id", req.WorkflowID, "action", req.Action.String(), "step_id", req.StepID, "actor", req.Actor)

	advanced := false
	switch req.Action {
	case models.ControlPause:
		workflow.IsPaused = true
		e.emit(ctx, workflow, models.Event{Type: models.EventWorkflowPaused})
	case models.ControlResume:
		workflow.IsPaused = false
		e.emit(ctx, workflow, models.Event{Type: models.EventWorkflowResumed})
		e.processLocked(ctx, entry)
	case models.ControlCancel:
		workflow.IsCancelled = true
		if workflow.CompletedAt == nil {
			now := e.clock()
			workflow.CompletedAt = &now
		}
		e.emit(ctx, workflow, models.Event{Type: models.EventWorkflowCancelled})
	case models.ControlApproveStep:
		advanced = e.approveLocked(ctx, entry, req.StepID)
	case models.ControlSkipStep:
		advanced = e.skipLocked(ctx, entry, req.StepID)
	}
	e.registry.Release(ctx, entry)

	if advanced {
		if err := e.continueAfterDelay(ctx, req.WorkflowID); err != nil {
			e.logger.Error("Failed to continue workflow", "workflow_id", req.WorkflowID, "error", err)
		}
	}
	return true, nil
}
