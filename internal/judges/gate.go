package judges

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"stepgate/backend/pkg/models"
)

// SafetyThreshold is the combined safety score a step must exceed.
const SafetyThreshold = 0.7

const (
	reasonDisabled        = "Judges disabled"
	suggestionManualCheck = "Manual review recommended due to evaluation error"
)

// Policy decides what the gate does when a judge cannot be reached.
type Policy int

const (
	// FailOpen lets the step through.
	FailOpen Policy = iota
	// FailClosed blocks the step.
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(value string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "fail_open":
		return FailOpen, nil
	case "fail_closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("unknown gate policy %q", value)
}

// Verdict is the gate decision for one step.
type Verdict struct {
	ShouldProceed       bool
	Reason              string
	WorkflowJudgment    *Judgment
	SecurityJudgment    *Judgment
	CombinedSafetyScore float64
	Suggestions         []string
}

// Logger is the logging interface used by the gate.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Gate consults a workflow judge and a security judge and renders a verdict.
type Gate struct {
	workflow Judge
	security Judge
	timeout  time.Duration
	policy   Policy
	logger   Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout bounds each judge call.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gate) { g.timeout = timeout }
}

// WithPolicy sets the behaviour on judge errors.
func WithPolicy(policy Policy) Option {
	return func(g *Gate) { g.policy = policy }
}

// WithLogger sets the gate logger.
func WithLogger(logger Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// NewGate creates a Gate. Either judge may be nil, which disables the gate.
func NewGate(workflow, security Judge, opts ...Option) *Gate {
	g := &Gate{
		workflow: workflow,
		security: security,
		timeout:  30 * time.Second,
		policy:   FailOpen,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether both judges are configured.
func (g *Gate) Enabled() bool {
	return g != nil && g.workflow != nil && g.security != nil
}

// Evaluate asks both judges about step and combines their answers.
func (g *Gate) Evaluate(ctx context.Context, workflow *models.Workflow, step *models.Step) Verdict {
	if !g.Enabled() {
		return Verdict{ShouldProceed: true, Reason: reasonDisabled}
	}

	var workflowJudgment, securityJudgment *Judgment
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		j, err := g.call(groupCtx, g.workflow, workflow, step)
		if err != nil {
			return fmt.Errorf("workflow judge: %w", err)
		}
		workflowJudgment = j
		return nil
	})
	group.Go(func() error {
		j, err := g.call(groupCtx, g.security, workflow, step)
		if err != nil {
			return fmt.Errorf("security judge: %w", err)
		}
		securityJudgment = j
		return nil
	})
	if err := group.Wait(); err != nil {
		return g.evaluationError(workflow, step, err)
	}

	verdict := Decide(workflowJudgment, securityJudgment)
	g.logger.Debug("Gate verdict", "workflow_id", workflow.WorkflowID, "step_id", step.StepID,
		"proceed", verdict.ShouldProceed, "safety", verdict.CombinedSafetyScore)
	return verdict
}

func (g *Gate) call(ctx context.Context, judge Judge, workflow *models.Workflow, step *models.Step) (*Judgment, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	j, err := judge.Evaluate(ctx, workflow, step)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("empty judgment")
	}
	return j, nil
}

func (g *Gate) evaluationError(workflow *models.Workflow, step *models.Step, err error) Verdict {
	g.logger.Warn("Judge evaluation failed", "workflow_id", workflow.WorkflowID, "step_id", step.StepID,
		"policy", g.policy.String(), "error", err)
	return Verdict{
		ShouldProceed: g.policy == FailOpen,
		Reason:        "Evaluation error: " + err.Error(),
		Suggestions:   []string{suggestionManualCheck},
	}
}

// Decide applies the gate rule to two judgments: both must approve and the
// lower of the two safety scores must exceed SafetyThreshold.
func Decide(workflowJudgment, securityJudgment *Judgment) Verdict {
	workflowApproved := workflowJudgment.Recommendation.Approves()
	securityApproved := securityJudgment.Recommendation.Approves()
	combined := math.Min(workflowJudgment.SafetyScore(), securityJudgment.SafetyScore())

	verdict := Verdict{
		ShouldProceed:       workflowApproved && securityApproved && combined > SafetyThreshold,
		WorkflowJudgment:    workflowJudgment,
		SecurityJudgment:    securityJudgment,
		CombinedSafetyScore: combined,
		Suggestions:         make([]string, 0, len(workflowJudgment.ImprovementSuggestions)+len(securityJudgment.ImprovementSuggestions)),
	}
	verdict.Suggestions = append(verdict.Suggestions, workflowJudgment.ImprovementSuggestions...)
	verdict.Suggestions = append(verdict.Suggestions, securityJudgment.ImprovementSuggestions...)

	if verdict.ShouldProceed {
		return verdict
	}

	var clauses []string
	if !workflowApproved {
		clauses = append(clauses, fmt.Sprintf("Workflow evaluation: %s", workflowJudgment.Recommendation))
	}
	if !securityApproved {
		clauses = append(clauses, fmt.Sprintf("Security evaluation: %s", securityJudgment.Recommendation))
	}
	if combined <= SafetyThreshold {
		clauses = append(clauses, fmt.Sprintf("Safety score too low: %.2f", combined))
	}
	verdict.Reason = strings.Join(clauses, "; ")
	return verdict
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
