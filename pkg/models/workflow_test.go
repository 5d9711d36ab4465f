package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() WorkflowDefinition {
	return WorkflowDefinition{
		Name:           "deploy",
		Description:    "ship it",
		SessionID:      "sess-1",
		AutomationMode: ModeSemiAutomatic,
		Steps: []StepSpec{
			{StepID: "a", Command: "make build"},
			{StepID: "b", Command: "make test", Dependencies: []string{"a"}},
		},
	}
}

func TestNewWorkflow_StartsPending(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	wf := NewWorkflow("wf-1", testDefinition(), now)

	assert.Equal(t, 0, wf.CurrentStepIndex)
	assert.Equal(t, now, wf.CreatedAt)
	require.Len(t, wf.Steps, 2)
	for _, step := range wf.Steps {
		assert.Equal(t, StepPending, step.Status)
		assert.NotNil(t, step.Dependencies)
		assert.Nil(t, step.StartedAt)
	}
	assert.NotNil(t, wf.UserInterventions)
}

func TestStep_DependenciesSerialiseAsEmptyList(t *testing.T) {
	wf := NewWorkflow("wf-1", testDefinition(), time.Now())

	data, err := json.Marshal(wf.Steps[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dependencies":[]`)
	assert.Contains(t, string(data), `"status":"pending"`)
	assert.Contains(t, string(data), `"risk_level":"low"`)
}

func TestWorkflow_DependenciesSatisfied(t *testing.T) {
	wf := NewWorkflow("wf-1", testDefinition(), time.Now())
	b := &wf.Steps[1]

	assert.False(t, wf.DependenciesSatisfied(b))
	wf.Steps[0].Status = StepCompleted
	assert.True(t, wf.DependenciesSatisfied(b))

	b.Dependencies = append(b.Dependencies, "missing")
	assert.False(t, wf.DependenciesSatisfied(b), "unknown dependency is never satisfied")
}

func TestStep_TimestampsSetOnce(t *testing.T) {
	var step Step
	first := time.Unix(100, 0)
	step.MarkStarted(first)
	step.MarkStarted(time.Unix(200, 0))
	step.MarkCompleted(first)
	step.MarkCompleted(time.Unix(300, 0))

	assert.Equal(t, first, *step.StartedAt)
	assert.Equal(t, first, *step.CompletedAt)
}

func TestWorkflow_CloneIsDeep(t *testing.T) {
	wf := NewWorkflow("wf-1", testDefinition(), time.Now())
	wf.Steps[0].ExecutionResult = &ExecutionResult{Stdout: "ok"}

	c := wf.Clone()
	c.Steps[0].Status = StepCompleted
	c.Steps[0].ExecutionResult.Stdout = "changed"
	c.Steps[1].Dependencies[0] = "z"

	assert.Equal(t, StepPending, wf.Steps[0].Status)
	assert.Equal(t, "ok", wf.Steps[0].ExecutionResult.Stdout)
	assert.Equal(t, "a", wf.Steps[1].Dependencies[0])
}

func TestWorkflow_SnapshotRoundTrip(t *testing.T) {
	wf := NewWorkflow("wf-1", testDefinition(), time.Now())
	snap := wf.Snapshot()

	assert.Equal(t, 2, snap.TotalSteps)
	assert.Equal(t, 1, snap.CurrentStep)
	assert.False(t, snap.IsPaused)
	assert.False(t, snap.IsCancelled)
	assert.Equal(t, WorkflowStatePending, snap.State)
}

func TestWorkflow_JSONRoundTripKeepsEnums(t *testing.T) {
	wf := NewWorkflow("wf-1", testDefinition(), time.Now().UTC())
	wf.Steps[0].Status = StepWaitingApproval
	wf.TimeoutPerStep = Duration(90 * time.Second)
	wf.UserInterventions = append(wf.UserInterventions, Intervention{Action: ControlPause})

	data, err := json.Marshal(wf)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"automation_mode":"semi_automatic"`)
	assert.Contains(t, string(data), `"timeout_per_step":"1m30s"`)

	var back Workflow
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, StepWaitingApproval, back.Steps[0].Status)
	assert.Equal(t, ModeSemiAutomatic, back.AutomationMode)
	assert.Equal(t, ControlPause, back.UserInterventions[0].Action)
	assert.Equal(t, wf.TimeoutPerStep, back.TimeoutPerStep)
}

func TestAutomationMode_DefaultRequiresConfirmation(t *testing.T) {
	assert.True(t, ModeManual.DefaultRequiresConfirmation(RiskLow))
	assert.False(t, ModeSemiAutomatic.DefaultRequiresConfirmation(RiskLow))
	assert.True(t, ModeSemiAutomatic.DefaultRequiresConfirmation(RiskMedium))
	assert.False(t, ModeAutomatic.DefaultRequiresConfirmation(RiskMedium))
	assert.True(t, ModeAutomatic.DefaultRequiresConfirmation(RiskHigh))
}

func TestParseControlAction(t *testing.T) {
	action, ok := ParseControlAction("APPROVE_STEP")
	assert.True(t, ok)
	assert.Equal(t, ControlApproveStep, action)

	action, ok = ParseControlAction("reboot")
	assert.False(t, ok)
	assert.Equal(t, ControlUnknown, action)
}
