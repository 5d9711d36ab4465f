package judges

import (
	"context"
	"fmt"
	"strings"

	"stepgate/backend/internal/llm"
	"stepgate/backend/pkg/models"
)

// Kind selects the persona of an OpenAIJudge.
type Kind int

const (
	// KindWorkflow judges whether a step is a sound next move for the workflow.
	KindWorkflow Kind = iota
	// KindSecurity judges the risk a command poses to the session host.
	KindSecurity
)

func (k Kind) String() string {
	if k == KindSecurity {
		return "security"
	}
	return "workflow"
}

const answerFormat = `Answer with a single JSON object and nothing else:
{"recommendation": "APPROVE|REJECT|CONDITIONAL|REVISE",
 "overall_score": <0..1>,
 "reasoning": "<one paragraph>",
 "criterion_scores": [{"dimension": "<name>", "score": <0..1>}],
 "improvement_suggestions": ["<suggestion>"]}
Always include a criterion named "safety".`

var personas = map[Kind]string{
	KindWorkflow: `You review steps of automated shell workflows. Judge whether the step
is correct, necessary and well ordered given the workflow goal and the steps
already run. Score the dimensions correctness, relevance and safety.
` + answerFormat,
	KindSecurity: `You are a security reviewer for commands run on a live host. Judge the
risk of the command: data loss, privilege escalation, credential exposure,
network exfiltration, irreversible changes. Score the dimensions safety,
reversibility and blast_radius.
` + answerFormat,
}

// completer is the part of llm.Client a judge needs.
type completer interface {
	CompleteJSON(ctx context.Context, system, user string, out any) error
}

// OpenAIJudge asks a chat model to judge a step.
type OpenAIJudge struct {
	kind   Kind
	client completer
}

// NewOpenAIJudge creates a judge of the given kind.
func NewOpenAIJudge(kind Kind, client *llm.Client) *OpenAIJudge {
	return &OpenAIJudge{kind: kind, client: client}
}

// Evaluate implements Judge. Recommendations outside the known set are kept
// as given and never approve the step.
func (j *OpenAIJudge) Evaluate(ctx context.Context, workflow *models.Workflow, step *models.Step) (*Judgment, error) {
	var judgment Judgment
	if err := j.client.CompleteJSON(ctx, personas[j.kind], describeStep(workflow, step), &judgment); err != nil {
		return nil, err
	}
	judgment.Recommendation = Recommendation(strings.ToUpper(strings.TrimSpace(string(judgment.Recommendation))))
	return &judgment, nil
}

func describeStep(workflow *models.Workflow, step *models.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow: %s\n", workflow.Name)
	if workflow.Description != "" {
		fmt.Fprintf(&b, "Goal: %s\n", workflow.Description)
	}
	fmt.Fprintf(&b, "Automation mode: %s\n", workflow.AutomationMode)

	var done []string
	for _, s := range workflow.Steps {
		if s.StepID == step.StepID {
			break
		}
		done = append(done, fmt.Sprintf("- [%s] %s", s.Status, s.Command))
	}
	if len(done) > 0 {
		fmt.Fprintf(&b, "Earlier steps:\n%s\n", strings.Join(done, "\n"))
	}

	fmt.Fprintf(&b, "\nStep %s (declared risk %s):\n", step.StepID, step.RiskLevel)
	fmt.Fprintf(&b, "Command: %s\n", step.Command)
	if step.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", step.Description)
	}
	if step.Explanation != "" {
		fmt.Fprintf(&b, "Explanation: %s\n", step.Explanation)
	}
	return b.String()
}
