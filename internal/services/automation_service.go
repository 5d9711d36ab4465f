package services

import (
	"context"
	"fmt"
	"strings"

	"stepgate/backend/internal/engine"
	"stepgate/backend/internal/registry"
	"stepgate/backend/pkg/models"
)

const maxDerivedNameLength = 60

// AutomationService is the entry point every transport uses to create, drive
// and inspect workflows.
type AutomationService struct {
	registry *registry.Registry
	engine   *engine.Engine
	planner  Planner
	logger   Logger
}

// NewAutomationService creates a new AutomationService. planner may be nil.
func NewAutomationService(reg *registry.Registry, eng *engine.Engine, planner Planner, logger Logger) *AutomationService {
	if logger == nil {
		logger = nopLogger{}
	}
	return &AutomationService{
		registry: reg,
		engine:   eng,
		planner:  planner,
		logger:   logger,
	}
}

// CreateAutomatedWorkflow validates the request and registers a new workflow
// with every step pending.
func (s *AutomationService) CreateAutomatedWorkflow(ctx context.Context, req models.CreateWorkflowRequest) (string, error) {
	def, err := req.Definition()
	if err != nil {
		return "", err
	}
	return s.registry.Create(ctx, def).WorkflowID, nil
}

// CreateFromRequest plans a workflow from free text and registers it.
func (s *AutomationService) CreateFromRequest(ctx context.Context, req models.PlanWorkflowRequest) (string, error) {
	if s.planner == nil {
		return "", ErrPlannerUnavailable
	}
	text := strings.TrimSpace(req.Request)
	if text == "" {
		return "", &models.ValidationError{Field: "request", Message: "is required"}
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return "", &models.ValidationError{Field: "session_id", Message: "is required"}
	}
	if req.AutomationMode != "" {
		if _, err := models.ParseAutomationMode(req.AutomationMode); err != nil {
			return "", err
		}
	}

	complexity, err := s.planner.ClassifyRequestComplexity(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to classify request: %w", err)
	}
	steps, err := s.planner.PlanWorkflowSteps(ctx, text, complexity)
	if err != nil {
		return "", fmt.Errorf("failed to plan request: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = deriveName(text)
	}
	id, err := s.CreateAutomatedWorkflow(ctx, models.CreateWorkflowRequest{
		Name:           name,
		Description:    text,
		SessionID:      req.SessionID,
		AutomationMode: req.AutomationMode,
		Steps:          steps,
	})
	if err != nil {
		return "", fmt.Errorf("planner produced an invalid workflow: %w", err)
	}
	s.logger.Info("Workflow planned", "workflow_id", id, "complexity", string(complexity), "steps", len(steps))
	return id, nil
}

// StartWorkflowExecution starts a workflow.
func (s *AutomationService) StartWorkflowExecution(ctx context.Context, workflowID string) error {
	return s.engine.StartWorkflowExecution(ctx, workflowID)
}

// HandleWorkflowControl applies a control request.
func (s *AutomationService) HandleWorkflowControl(ctx context.Context, req models.ControlRequest) (bool, error) {
	return s.engine.HandleWorkflowControl(ctx, req)
}

// GetWorkflowStatus returns a snapshot of one workflow.
func (s *AutomationService) GetWorkflowStatus(workflowID string) (models.WorkflowStatus, error) {
	return s.registry.Status(workflowID)
}

// ListActiveWorkflows returns snapshots of workflows that have not completed
// or been cancelled, oldest first.
func (s *AutomationService) ListActiveWorkflows() []models.WorkflowStatus {
	all := s.registry.List()
	active := make([]models.WorkflowStatus, 0, len(all))
	for _, status := range all {
		if status.CompletedAt == nil {
			active = append(active, status)
		}
	}
	return active
}

func deriveName(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	runes := []rune(strings.TrimSpace(line))
	if len(runes) > maxDerivedNameLength {
		return strings.TrimSpace(string(runes[:maxDerivedNameLength])) + "…"
	}
	return string(runes)
}
