package models

import (
	"fmt"
	"strings"
	"time"
)

// StepStatus is the lifecycle state of a single workflow step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepWaitingApproval
	StepApproved
	StepExecuting
	StepCompleted
	StepFailed
	StepSkipped
)

var stepStatusNames = map[StepStatus]string{
	StepPending:         "pending",
	StepWaitingApproval: "waiting_approval",
	StepApproved:        "approved",
	StepExecuting:       "executing",
	StepCompleted:       "completed",
	StepFailed:          "failed",
	StepSkipped:         "skipped",
}

func (s StepStatus) String() string {
	if name, ok := stepStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StepStatus(%d)", int(s))
}

// Terminal reports whether no further automatic transition leaves s.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// AwaitingDecision reports whether a human approval may act on a step in s.
// FAILED is included so an operator can force a rejected or failed step.
func (s StepStatus) AwaitingDecision() bool {
	return s == StepWaitingApproval || s == StepApproved || s == StepFailed
}

// MarshalText implements encoding.TextMarshaler.
func (s StepStatus) MarshalText() ([]byte, error) {
	name, ok := stepStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown step status %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StepStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseStepStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStepStatus maps a wire string to a StepStatus.
func ParseStepStatus(value string) (StepStatus, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for status, name := range stepStatusNames {
		if name == v {
			return status, nil
		}
	}
	return StepPending, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown step status %q", value)}
}

// RiskLevel is the advisory risk classification of a step.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

var riskLevelNames = map[RiskLevel]string{
	RiskLow:    "low",
	RiskMedium: "medium",
	RiskHigh:   "high",
}

func (r RiskLevel) String() string {
	if name, ok := riskLevelNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RiskLevel(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r RiskLevel) MarshalText() ([]byte, error) {
	name, ok := riskLevelNames[r]
	if !ok {
		return nil, fmt.Errorf("unknown risk level %d", int(r))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRiskLevel maps a wire string to a RiskLevel. An empty value is low.
func ParseRiskLevel(value string) (RiskLevel, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return RiskLow, nil
	}
	for level, name := range riskLevelNames {
		if name == v {
			return level, nil
		}
	}
	return RiskLow, &ValidationError{Field: "risk_level", Message: fmt.Sprintf("unknown risk level %q", value)}
}

// AutomationMode is an advisory hint about default confirmation behaviour.
type AutomationMode int

const (
	ModeManual AutomationMode = iota
	ModeSemiAutomatic
	ModeAutomatic
)

var automationModeNames = map[AutomationMode]string{
	ModeManual:        "manual",
	ModeSemiAutomatic: "semi_automatic",
	ModeAutomatic:     "automatic",
}

func (m AutomationMode) String() string {
	if name, ok := automationModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("AutomationMode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m AutomationMode) MarshalText() ([]byte, error) {
	name, ok := automationModeNames[m]
	if !ok {
		return nil, fmt.Errorf("unknown automation mode %d", int(m))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *AutomationMode) UnmarshalText(text []byte) error {
	parsed, err := ParseAutomationMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseAutomationMode maps a wire string (any case) to an AutomationMode.
func ParseAutomationMode(value string) (AutomationMode, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for mode, name := range automationModeNames {
		if name == v {
			return mode, nil
		}
	}
	return ModeManual, &ValidationError{Field: "automation_mode", Message: fmt.Sprintf("unknown automation mode %q", value)}
}

// DefaultRequiresConfirmation is the confirmation default callers apply to a
// step of the given risk when none was specified.
func (m AutomationMode) DefaultRequiresConfirmation(risk RiskLevel) bool {
	switch m {
	case ModeAutomatic:
		return risk >= RiskHigh
	case ModeSemiAutomatic:
		return risk >= RiskMedium
	default:
		return true
	}
}

// ExecutionResult is what the execution layer reports for one command.
type ExecutionResult struct {
	Command       string  `json:"command"`
	ExitCode      int     `json:"exit_code"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	ExecutionTime float64 `json:"execution_time"` // seconds
}

// Step is one command of a workflow plus its lifecycle state.
type Step struct {
	StepID               string           `json:"step_id"`
	Command              string           `json:"command"`
	Description          string           `json:"description"`
	Explanation          string           `json:"explanation"`
	RequiresConfirmation bool             `json:"requires_confirmation"`
	RiskLevel            RiskLevel        `json:"risk_level"`
	EstimatedDuration    string           `json:"estimated_duration,omitempty"`
	Dependencies         []string         `json:"dependencies"`
	Status               StepStatus       `json:"status"`
	ExecutionResult      *ExecutionResult `json:"execution_result,omitempty"`
	StartedAt            *time.Time       `json:"started_at,omitempty"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
}

// MarkStarted records the start time unless it was already recorded.
func (s *Step) MarkStarted(now time.Time) {
	if s.StartedAt == nil {
		t := now
		s.StartedAt = &t
	}
}

// MarkCompleted records the completion time unless it was already recorded.
func (s *Step) MarkCompleted(now time.Time) {
	if s.CompletedAt == nil {
		t := now
		s.CompletedAt = &t
	}
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	out.Dependencies = append(make([]string, 0, len(s.Dependencies)), s.Dependencies...)
	if s.ExecutionResult != nil {
		res := *s.ExecutionResult
		out.ExecutionResult = &res
	}
	out.StartedAt = cloneTime(s.StartedAt)
	out.CompletedAt = cloneTime(s.CompletedAt)
	return out
}

// Intervention is one audit record of a human control action.
type Intervention struct {
	Timestamp time.Time     `json:"timestamp"`
	Action    ControlAction `json:"action"`
	StepID    string        `json:"step_id,omitempty"`
	UserInput string        `json:"user_input,omitempty"`
	Actor     string        `json:"actor,omitempty"`
}

// Workflow is a running instance of an ordered command plan bound to a session.
type Workflow struct {
	WorkflowID        string         `json:"workflow_id"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	SessionID         string         `json:"session_id"`
	Steps             []Step         `json:"steps"`
	CurrentStepIndex  int            `json:"current_step_index"`
	AutomationMode    AutomationMode `json:"automation_mode"`
	TimeoutPerStep    Duration       `json:"timeout_per_step,omitempty"`
	IsPaused          bool           `json:"is_paused"`
	IsCancelled       bool           `json:"is_cancelled"`
	CreatedAt         time.Time      `json:"created_at"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	UserInterventions []Intervention `json:"user_interventions"`
}

// NewWorkflow builds a workflow from a validated definition. Every step starts
// PENDING and the step pointer starts at zero.
func NewWorkflow(id string, def WorkflowDefinition, now time.Time) *Workflow {
	steps := make([]Step, len(def.Steps))
	for i, spec := range def.Steps {
		deps := make([]string, 0, len(spec.Dependencies))
		deps = append(deps, spec.Dependencies...)
		steps[i] = Step{
			StepID:               spec.StepID,
			Command:              spec.Command,
			Description:          spec.Description,
			Explanation:          spec.Explanation,
			RequiresConfirmation: spec.RequiresConfirmation,
			RiskLevel:            spec.RiskLevel,
			EstimatedDuration:    spec.EstimatedDuration,
			Dependencies:         deps,
			Status:               StepPending,
		}
	}
	return &Workflow{
		WorkflowID:        id,
		Name:              def.Name,
		Description:       def.Description,
		SessionID:         def.SessionID,
		Steps:             steps,
		AutomationMode:    def.AutomationMode,
		TimeoutPerStep:    def.TimeoutPerStep,
		CreatedAt:         now,
		UserInterventions: []Intervention{},
	}
}

// CurrentStep returns the step under the pointer, or nil once every step has
// been resolved.
func (w *Workflow) CurrentStep() *Step {
	if w.CurrentStepIndex < 0 || w.CurrentStepIndex >= len(w.Steps) {
		return nil
	}
	return &w.Steps[w.CurrentStepIndex]
}

// FindStep returns the step with the given id.
func (w *Workflow) FindStep(stepID string) *Step {
	for i := range w.Steps {
		if w.Steps[i].StepID == stepID {
			return &w.Steps[i]
		}
	}
	return nil
}

// DependenciesSatisfied reports whether every dependency of step is COMPLETED.
// A dependency that names no step of this workflow is never satisfied.
func (w *Workflow) DependenciesSatisfied(step *Step) bool {
	for _, dep := range step.Dependencies {
		target := w.FindStep(dep)
		if target == nil || target.Status != StepCompleted {
			return false
		}
	}
	return true
}

// Advance moves the step pointer forward by exactly one position.
func (w *Workflow) Advance() {
	if w.CurrentStepIndex < len(w.Steps) {
		w.CurrentStepIndex++
	}
}

// Summary counts steps by outcome.
func (w *Workflow) Summary() CompletionSummary {
	summary := CompletionSummary{TotalSteps: len(w.Steps)}
	for _, step := range w.Steps {
		switch step.Status {
		case StepCompleted:
			summary.CompletedSteps++
		case StepSkipped:
			summary.SkippedSteps++
		case StepFailed:
			summary.FailedSteps++
		}
	}
	return summary
}

// Clone returns a deep copy safe to hand outside the owning registry.
func (w *Workflow) Clone() *Workflow {
	out := *w
	out.Steps = make([]Step, len(w.Steps))
	for i, step := range w.Steps {
		out.Steps[i] = step.Clone()
	}
	out.UserInterventions = append(make([]Intervention, 0, len(w.UserInterventions)), w.UserInterventions...)
	out.StartedAt = cloneTime(w.StartedAt)
	out.CompletedAt = cloneTime(w.CompletedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Duration is a time.Duration that travels as a Go duration string ("5m").
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return &ValidationError{Field: "timeout_per_step", Message: err.Error()}
	}
	*d = Duration(parsed)
	return nil
}
