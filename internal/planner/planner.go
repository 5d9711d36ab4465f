// Package planner turns a natural-language request into workflow steps.
package planner

import (
	"context"
	"fmt"
	"strings"

	"stepgate/backend/internal/llm"
	"stepgate/backend/pkg/models"
)

// Complexity is a coarse size estimate of a request.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

// MaxSteps is the step budget a plan of this complexity may use.
func (c Complexity) MaxSteps() int {
	switch c {
	case Simple:
		return 3
	case Complex:
		return 12
	default:
		return 6
	}
}

// ParseComplexity maps a model answer to a Complexity; unknown values are
// treated as moderate.
func ParseComplexity(value string) Complexity {
	switch c := Complexity(strings.ToLower(strings.TrimSpace(value))); c {
	case Simple, Moderate, Complex:
		return c
	}
	return Moderate
}

// Planner classifies requests and plans their steps.
type Planner interface {
	ClassifyRequestComplexity(ctx context.Context, request string) (Complexity, error)
	PlanWorkflowSteps(ctx context.Context, request string, complexity Complexity) ([]models.StepRequest, error)
}

type completer interface {
	CompleteJSON(ctx context.Context, system, user string, out any) error
}

// OpenAIPlanner plans with a chat model.
type OpenAIPlanner struct {
	client completer
}

// NewOpenAIPlanner creates a new OpenAIPlanner.
func NewOpenAIPlanner(client *llm.Client) *OpenAIPlanner {
	return &OpenAIPlanner{client: client}
}

const classifyPrompt = `Classify how many shell steps the user's request needs.
simple: one to three commands. moderate: up to six. complex: more.
Answer with a JSON object: {"complexity": "simple|moderate|complex"}.`

const planPrompt = `You plan shell workflows for a Linux host. Break the user's request
into at most %d ordered steps. Each step runs one shell command.
Answer with a JSON object:
{"steps": [{"step_id": "step_1", "command": "...", "description": "...",
 "explanation": "...", "risk_level": "low|medium|high",
 "estimated_duration": "30s", "dependencies": ["<earlier step_id>"]}]}
Mark anything that deletes data, changes permissions or restarts services as high risk.`

// ClassifyRequestComplexity implements Planner.
func (p *OpenAIPlanner) ClassifyRequestComplexity(ctx context.Context, request string) (Complexity, error) {
	var answer struct {
		Complexity string `json:"complexity"`
	}
	if err := p.client.CompleteJSON(ctx, classifyPrompt, request, &answer); err != nil {
		return "", fmt.Errorf("failed to classify request: %w", err)
	}
	return ParseComplexity(answer.Complexity), nil
}

// PlanWorkflowSteps implements Planner.
func (p *OpenAIPlanner) PlanWorkflowSteps(ctx context.Context, request string, complexity Complexity) ([]models.StepRequest, error) {
	var answer struct {
		Steps []models.StepRequest `json:"steps"`
	}
	if err := p.client.CompleteJSON(ctx, fmt.Sprintf(planPrompt, complexity.MaxSteps()), request, &answer); err != nil {
		return nil, fmt.Errorf("failed to plan workflow: %w", err)
	}
	if len(answer.Steps) == 0 {
		return nil, fmt.Errorf("planner returned no steps")
	}
	if len(answer.Steps) > complexity.MaxSteps() {
		answer.Steps = answer.Steps[:complexity.MaxSteps()]
	}
	for i := range answer.Steps {
		if strings.TrimSpace(answer.Steps[i].StepID) == "" {
			answer.Steps[i].StepID = fmt.Sprintf("step_%d", i+1)
		}
	}
	return answer.Steps, nil
}
