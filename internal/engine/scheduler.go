package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stepgate/backend/internal/registry"
	"stepgate/backend/pkg/models"
)

// StartWorkflowExecution marks the workflow started, announces its steps and
// processes the first step.
func (e *Engine) StartWorkflowExecution(ctx context.Context, workflowID string) error {
	entry, err := e.acquireActive(ctx, workflowID)
	if err != nil {
		return err
	}
	defer e.registry.Release(ctx, entry)

	workflow := entry.Workflow()
	if workflow.StartedAt == nil {
		now := e.clock()
		workflow.StartedAt = &now
	}
	e.logger.Info("Workflow started", "workflow_id", workflowID, "steps", len(workflow.Steps))
	e.emit(ctx, workflow, models.Event{Type: models.EventStartWorkflow, Steps: workflow.Clone().Steps})

	e.processLocked(ctx, entry)
	return nil
}

// ProcessNextStep advances the workflow to its next point of human decision.
// Paused and cancelled workflows are left untouched.
func (e *Engine) ProcessNextStep(ctx context.Context, workflowID string) error {
	entry, err := e.registry.Acquire(ctx, workflowID)
	if err != nil {
		return err
	}
	defer e.registry.Release(ctx, entry)

	e.processLocked(ctx, entry)
	return nil
}

// processLocked runs the scheduling loop on a held entry.
func (e *Engine) processLocked(ctx context.Context, entry *registry.Entry) {
	workflow := entry.Workflow()
	for {
		if workflow.IsPaused || workflow.IsCancelled {
			return
		}

		step := workflow.CurrentStep()
		if step == nil {
			e.finish(ctx, workflow)
			return
		}

		if !workflow.DependenciesSatisfied(step) {
			step.Status = models.StepSkipped
			step.MarkCompleted(e.clock())
			workflow.Advance()
			e.metrics.stepResolved(ctx, models.StepSkipped)
			e.logger.Info("Step skipped, dependencies not met", "workflow_id", workflow.WorkflowID, "step_id", step.StepID)
			e.emit(ctx, workflow, models.Event{
				Type:   models.EventStepSkipped,
				Step:   stepCopy(step),
				Reason: "Unmet dependencies: " + strings.Join(step.Dependencies, ", "),
			})
			continue
		}

		verdict := e.gate.Evaluate(context.WithoutCancel(ctx), workflow, step)
		e.metrics.gateVerdict(ctx, verdict.ShouldProceed)
		if !verdict.ShouldProceed {
			step.Status = models.StepFailed
			workflow.IsPaused = true
			e.metrics.stepResolved(ctx, models.StepFailed)
			e.logger.Warn("Step rejected by safety gate", "workflow_id", workflow.WorkflowID, "step_id", step.StepID, "reason", verdict.Reason)
			e.emit(ctx, workflow, models.Event{
				Type:        models.EventStepRejectedByJudge,
				Step:        stepCopy(step),
				Reason:      verdict.Reason,
				Suggestions: verdict.Suggestions,
			})
			return
		}

		step.Status = models.StepWaitingApproval
		step.MarkStarted(e.clock())
		e.emit(ctx, workflow, models.Event{
			Type:        models.EventStepConfirmationRequired,
			Step:        stepCopy(step),
			Reason:      verdict.Reason,
			Suggestions: verdict.Suggestions,
		})
		return
	}
}

func (e *Engine) finish(ctx context.Context, workflow *models.Workflow) {
	if workflow.CompletedAt != nil {
		return
	}
	now := e.clock()
	workflow.CompletedAt = &now
	summary := workflow.Summary()
	e.logger.Info("Workflow completed", "workflow_id", workflow.WorkflowID,
		"completed", summary.CompletedSteps, "skipped", summary.SkippedSteps, "failed", summary.FailedSteps)
	e.emit(ctx, workflow, models.Event{Type: models.EventWorkflowCompleted, Summary: &summary})
}

// ApproveAndExecuteStep runs the current step when stepID names it and it is
// waiting for a decision; otherwise it does nothing. After a successful run
// the next step is processed once the step delay has passed.
func (e *Engine) ApproveAndExecuteStep(ctx context.Context, workflowID, stepID string) error {
	entry, err := e.acquireActive(ctx, workflowID)
	if err != nil {
		return err
	}
	advanced := e.approveLocked(ctx, entry, stepID)
	e.registry.Release(ctx, entry)

	if !advanced {
		return nil
	}
	return e.continueAfterDelay(ctx, workflowID)
}

// SkipWorkflowStep skips the current step when stepID names it; otherwise it
// does nothing. The next step is processed once the step delay has passed.
func (e *Engine) SkipWorkflowStep(ctx context.Context, workflowID, stepID string) error {
	entry, err := e.acquireActive(ctx, workflowID)
	if err != nil {
		return err
	}
	advanced := e.skipLocked(ctx, entry, stepID)
	e.registry.Release(ctx, entry)

	if !advanced {
		return nil
	}
	return e.continueAfterDelay(ctx, workflowID)
}

// approveLocked reports whether the step pointer moved.
func (e *Engine) approveLocked(ctx context.Context, entry *registry.Entry, stepID string) bool {
	workflow := entry.Workflow()
	step := workflow.CurrentStep()
	if step == nil || step.StepID != stepID || !step.Status.AwaitingDecision() {
		e.logMismatch(workflow, step, stepID, "approve_step")
		return false
	}

	step.Status = models.StepApproved
	step.MarkStarted(e.clock())
	step.Status = models.StepExecuting
	e.registry.Checkpoint(ctx, entry)

	result, err := e.execute(ctx, workflow, step)
	if result != nil {
		step.ExecutionResult = result
	}
	if err != nil {
		step.Status = models.StepFailed
		workflow.IsPaused = true
		e.metrics.stepResolved(ctx, models.StepFailed)
		e.logger.Error("Step execution failed", "workflow_id", workflow.WorkflowID, "step_id", step.StepID, "error", err)
		e.emit(ctx, workflow, models.Event{Type: models.EventStepFailed, Step: stepCopy(step), Error: err.Error()})
		return false
	}

	step.Status = models.StepCompleted
	step.MarkCompleted(e.clock())
	workflow.Advance()
	e.metrics.stepResolved(ctx, models.StepCompleted)
	e.logger.Info("Step completed", "workflow_id", workflow.WorkflowID, "step_id", step.StepID,
		"exit_code", result.ExitCode, "duration", result.ExecutionTime)
	e.emit(ctx, workflow, models.Event{Type: models.EventStepCompleted, Step: stepCopy(step)})
	return true
}

func (e *Engine) skipLocked(ctx context.Context, entry *registry.Entry, stepID string) bool {
	workflow := entry.Workflow()
	step := workflow.CurrentStep()
	if step == nil || step.StepID != stepID || !skippable(step.Status) {
		e.logMismatch(workflow, step, stepID, "skip_step")
		return false
	}

	step.Status = models.StepSkipped
	step.MarkCompleted(e.clock())
	workflow.Advance()
	e.metrics.stepResolved(ctx, models.StepSkipped)
	e.logger.Info("Step skipped by operator", "workflow_id", workflow.WorkflowID, "step_id", step.StepID)
	e.emit(ctx, workflow, models.Event{Type: models.EventStepSkipped, Step: stepCopy(step), Reason: "Skipped by operator"})
	return true
}

// skippable reports whether an operator may skip a current step in status.
// A failed current step may be skipped to recover the workflow.
func skippable(status models.StepStatus) bool {
	return !status.Terminal() || status == models.StepFailed
}

// execute runs the step command. The call is detached from the caller's
// cancellation; with step deadlines enabled it is bounded by the workflow's
// timeout_per_step. A non-zero exit code is an error.
func (e *Engine) execute(ctx context.Context, workflow *models.Workflow, step *models.Step) (*models.ExecutionResult, error) {
	execCtx := context.WithoutCancel(ctx)
	if timeout := time.Duration(workflow.TimeoutPerStep); e.stepDeadlines && timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, timeout)
		defer cancel()
	}

	result, err := e.executor.Execute(execCtx, workflow.SessionID, step.Command)
	switch {
	case err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded):
		return result, fmt.Errorf("step timed out after %s: %w", time.Duration(workflow.TimeoutPerStep), err)
	case err != nil:
		return result, err
	case result == nil:
		return nil, errors.New("executor returned no result")
	case result.ExitCode != 0:
		return result, fmt.Errorf("command exited with code %d", result.ExitCode)
	}
	return result, nil
}

// continueAfterDelay waits the step delay and processes the next step. It
// gives up quietly when the engine shuts down or the workflow was cancelled
// meanwhile.
func (e *Engine) continueAfterDelay(ctx context.Context, workflowID string) error {
	if !e.track() {
		return nil
	}
	defer e.pending.Done()

	if e.stepDelay > 0 {
		timer := time.NewTimer(e.stepDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-e.done:
			return nil
		}
	}

	err := e.ProcessNextStep(context.WithoutCancel(ctx), workflowID)
	if errors.Is(err, models.ErrWorkflowNotFound) {
		return nil
	}
	return err
}

func (e *Engine) logMismatch(workflow *models.Workflow, current *models.Step, stepID, action string) {
	args := []any{"workflow_id", workflow.WorkflowID, "action", action, "step_id", stepID}
	if current != nil {
		args = append(args, "current_step_id", current.StepID, "current_status", current.Status.String())
	} else {
		args = append(args, "current_step_id", "")
	}
	e.logger.Warn("Step does not match current step, ignoring", args...)
}

func stepCopy(step *models.Step) *models.Step {
	c := step.Clone()
	return &c
}
