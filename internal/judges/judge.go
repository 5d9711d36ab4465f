// Package judges implements the safety gate a step passes before it is
// offered for approval.
package judges

import (
	"context"
	"strings"

	"stepgate/backend/pkg/models"
)

// Recommendation is a judge's verdict on one step.
type Recommendation string

const (
	Approve     Recommendation = "APPROVE"
	Reject      Recommendation = "REJECT"
	Conditional Recommendation = "CONDITIONAL"
	Revise      Recommendation = "REVISE"
)

// Approves reports whether the recommendation lets a step through.
func (r Recommendation) Approves() bool {
	switch Recommendation(strings.ToUpper(string(r))) {
	case Approve, Conditional:
		return true
	}
	return false
}

// SafetyDimension is the criterion the gate thresholds on.
const SafetyDimension = "safety"

// DefaultSafetyScore is assumed when a judgment carries no safety criterion.
const DefaultSafetyScore = 0.8

// CriterionScore is the score of a single evaluation dimension, in [0,1].
type CriterionScore struct {
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
}

// Judgment is the answer of one judge.
type Judgment struct {
	Recommendation         Recommendation   `json:"recommendation"`
	OverallScore           float64          `json:"overall_score"`
	Reasoning              string           `json:"reasoning"`
	CriterionScores        []CriterionScore `json:"criterion_scores"`
	ImprovementSuggestions []string         `json:"improvement_suggestions"`
}

// SafetyScore returns the score of the safety dimension.
func (j *Judgment) SafetyScore() float64 {
	for _, c := range j.CriterionScores {
		if strings.EqualFold(c.Dimension, SafetyDimension) {
			return c.Score
		}
	}
	return DefaultSafetyScore
}

// Judge scores a single step in the context of its workflow.
type Judge interface {
	Evaluate(ctx context.Context, workflow *models.Workflow, step *models.Step) (*Judgment, error)
}
