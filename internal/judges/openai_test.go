package judges

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgate/backend/internal/llm"
	"stepgate/backend/pkg/models"
)

func judgeServer(t *testing.T, answer string, prompts *[]string) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(body, &req)
		if prompts != nil && len(req.Messages) == 2 {
			*prompts = append(*prompts, req.Messages[1].Content)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":   0,
				"message": map[string]any{"role": "assistant", "content": answer},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	client, err := llm.NewClient(llm.Config{APIKey: "test-key", BaseURL: srv.URL, Model: "judge-model"})
	require.NoError(t, err)
	return client
}

func TestOpenAIJudge_Evaluate(t *testing.T) {
	var prompts []string
	client := judgeServer(t, `{"recommendation":"conditional","overall_score":0.75,"reasoning":"ok",
		"criterion_scores":[{"dimension":"safety","score":0.72}],"improvement_suggestions":["add a backup"]}`, &prompts)
	judge := NewOpenAIJudge(KindSecurity, client)

	wf := &models.Workflow{
		Name: "cleanup",
		Steps: []models.Step{
			{StepID: "s1", Command: "df -h", Status: models.StepCompleted},
			{StepID: "s2", Command: "rm -rf /tmp/cache", RiskLevel: models.RiskHigh},
		},
	}

	j, err := judge.Evaluate(context.Background(), wf, &wf.Steps[1])
	require.NoError(t, err)
	assert.Equal(t, Conditional, j.Recommendation)
	assert.InDelta(t, 0.72, j.SafetyScore(), 1e-9)
	assert.Equal(t, []string{"add a backup"}, j.ImprovementSuggestions)

	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "rm -rf /tmp/cache")
	assert.Contains(t, prompts[0], "[completed] df -h")
	assert.Contains(t, prompts[0], "declared risk high")
}

func TestOpenAIJudge_UnknownRecommendation(t *testing.T) {
	client := judgeServer(t, `{"recommendation":" maybe "}`, nil)
	judge := NewOpenAIJudge(KindWorkflow, client)
	wf, step := testStep()

	j, err := judge.Evaluate(context.Background(), wf, step)
	require.NoError(t, err)
	assert.Equal(t, Recommendation("MAYBE"), j.Recommendation)
	assert.False(t, j.Recommendation.Approves())
}

func TestOpenAIJudge_UnknownRecommendationBlocksStep(t *testing.T) {
	workflowJudge := NewOpenAIJudge(KindWorkflow, judgeServer(t,
		`{"recommendation":"APPROVE","criterion_scores":[{"dimension":"safety","score":0.9}]}`, nil))
	securityJudge := NewOpenAIJudge(KindSecurity, judgeServer(t,
		`{"recommendation":"REJECTED","criterion_scores":[{"dimension":"safety","score":0.05}]}`, nil))
	gate := NewGate(workflowJudge, securityJudge, WithPolicy(FailOpen))
	wf, step := testStep()

	verdict := gate.Evaluate(context.Background(), wf, step)
	assert.False(t, verdict.ShouldProceed)
	assert.Equal(t, "Security evaluation: REJECTED; Safety score too low: 0.05", verdict.Reason)
	require.NotNil(t, verdict.SecurityJudgment)
	assert.Equal(t, Recommendation("REJECTED"), verdict.SecurityJudgment.Recommendation)
}

func TestOpenAIJudge_MalformedAnswer(t *testing.T) {
	client := judgeServer(t, `not json`, nil)
	judge := NewOpenAIJudge(KindWorkflow, client)
	wf, step := testStep()

	_, err := judge.Evaluate(context.Background(), wf, step)
	require.Error(t, err)

	verdict := NewGate(judge, judge, WithPolicy(FailOpen)).Evaluate(context.Background(), wf, step)
	assert.True(t, verdict.ShouldProceed)
	assert.Equal(t, 1, strings.Count(verdict.Reason, "judge: "), verdict.Reason)
}
