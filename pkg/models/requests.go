package models

import (
	"fmt"
	"strings"
	"time"
)

// StepSpec is a validated step definition.
type StepSpec struct {
	StepID               string
	Command              string
	Description          string
	Explanation          string
	RequiresConfirmation bool
	RiskLevel            RiskLevel
	EstimatedDuration    string
	Dependencies         []string
}

// WorkflowDefinition is a validated request to create a workflow.
type WorkflowDefinition struct {
	Name           string
	Description    string
	SessionID      string
	AutomationMode AutomationMode
	TimeoutPerStep Duration
	Steps          []StepSpec
}

// StepRequest is the wire shape of a step in a create request.
type StepRequest struct {
	StepID               string   `json:"step_id" yaml:"step_id"`
	Command              string   `json:"command" yaml:"command"`
	Description          string   `json:"description" yaml:"description"`
	Explanation          string   `json:"explanation" yaml:"explanation"`
	RequiresConfirmation *bool    `json:"requires_confirmation,omitempty" yaml:"requires_confirmation,omitempty"`
	RiskLevel            string   `json:"risk_level" yaml:"risk_level"`
	EstimatedDuration    string   `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	Dependencies         []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// CreateWorkflowRequest is the wire shape accepted by every transport and by
// plan files.
type CreateWorkflowRequest struct {
	Name           string        `json:"name" yaml:"name"`
	Description    string        `json:"description" yaml:"description"`
	SessionID      string        `json:"session_id" yaml:"session_id"`
	AutomationMode string        `json:"automation_mode" yaml:"automation_mode"`
	TimeoutPerStep string        `json:"timeout_per_step,omitempty" yaml:"timeout_per_step,omitempty"`
	Steps          []StepRequest `json:"steps" yaml:"steps"`
}

// DefaultAutomationMode applies when a request leaves automation_mode empty.
const DefaultAutomationMode = ModeSemiAutomatic

// Definition validates the request and converts wire strings into closed
// types. Dependencies naming unknown steps are accepted; such steps are
// skipped when reached.
func (r CreateWorkflowRequest) Definition() (WorkflowDefinition, error) {
	def := WorkflowDefinition{
		Name:        strings.TrimSpace(r.Name),
		Description: r.Description,
		SessionID:   strings.TrimSpace(r.SessionID),
	}
	if def.Name == "" {
		return WorkflowDefinition{}, &ValidationError{Field: "name", Message: "is required"}
	}
	if def.SessionID == "" {
		return WorkflowDefinition{}, &ValidationError{Field: "session_id", Message: "is required"}
	}

	def.AutomationMode = DefaultAutomationMode
	if strings.TrimSpace(r.AutomationMode) != "" {
		mode, err := ParseAutomationMode(r.AutomationMode)
		if err != nil {
			return WorkflowDefinition{}, err
		}
		def.AutomationMode = mode
	}

	if strings.TrimSpace(r.TimeoutPerStep) != "" {
		timeout, err := time.ParseDuration(strings.TrimSpace(r.TimeoutPerStep))
		if err != nil || timeout < 0 {
			return WorkflowDefinition{}, &ValidationError{Field: "timeout_per_step", Message: fmt.Sprintf("invalid duration %q", r.TimeoutPerStep)}
		}
		def.TimeoutPerStep = Duration(timeout)
	}

	if len(r.Steps) == 0 {
		return WorkflowDefinition{}, &ValidationError{Field: "steps", Message: "at least one step is required"}
	}
	seen := make(map[string]struct{}, len(r.Steps))
	def.Steps = make([]StepSpec, 0, len(r.Steps))
	for i, step := range r.Steps {
		spec, err := step.spec(i, def.AutomationMode)
		if err != nil {
			return WorkflowDefinition{}, err
		}
		if _, dup := seen[spec.StepID]; dup {
			return WorkflowDefinition{}, &ValidationError{Field: fmt.Sprintf("steps[%d].step_id", i), Message: fmt.Sprintf("duplicate step id %q", spec.StepID)}
		}
		seen[spec.StepID] = struct{}{}
		def.Steps = append(def.Steps, spec)
	}
	return def, nil
}

func (s StepRequest) spec(index int, mode AutomationMode) (StepSpec, error) {
	field := fmt.Sprintf("steps[%d]", index)
	id := strings.TrimSpace(s.StepID)
	if id == "" {
		return StepSpec{}, &ValidationError{Field: field + ".step_id", Message: "is required"}
	}
	if strings.TrimSpace(s.Command) == "" {
		return StepSpec{}, &ValidationError{Field: field + ".command", Message: "is required"}
	}
	risk, err := ParseRiskLevel(s.RiskLevel)
	if err != nil {
		return StepSpec{}, &ValidationError{Field: field + ".risk_level", Message: fmt.Sprintf("unknown risk level %q", s.RiskLevel)}
	}
	confirm := mode.DefaultRequiresConfirmation(risk)
	if s.RequiresConfirmation != nil {
		confirm = *s.RequiresConfirmation
	}
	deps := make([]string, 0, len(s.Dependencies))
	for _, dep := range s.Dependencies {
		if dep = strings.TrimSpace(dep); dep != "" {
			deps = append(deps, dep)
		}
	}
	return StepSpec{
		StepID:               id,
		Command:              s.Command,
		Description:          s.Description,
		Explanation:          s.Explanation,
		RequiresConfirmation: confirm,
		RiskLevel:            risk,
		EstimatedDuration:    s.EstimatedDuration,
		Dependencies:         deps,
	}, nil
}
