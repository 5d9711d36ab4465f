package models

import (
	"fmt"
	"strings"
)

// ControlAction is a human control request against a running workflow.
type ControlAction int

const (
	ControlUnknown ControlAction = iota
	ControlPause
	ControlResume
	ControlCancel
	ControlApproveStep
	ControlSkipStep
)

var controlActionNames = map[ControlAction]string{
	ControlPause:       "pause",
	ControlResume:      "resume",
	ControlCancel:      "cancel",
	ControlApproveStep: "approve_step",
	ControlSkipStep:    "skip_step",
}

func (a ControlAction) String() string {
	if name, ok := controlActionNames[a]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (a ControlAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unrecognised actions
// decode to ControlUnknown rather than failing so they can be rejected by the
// control plane itself.
func (a *ControlAction) UnmarshalText(text []byte) error {
	*a, _ = ParseControlAction(string(text))
	return nil
}

// ParseControlAction maps a wire string to a ControlAction.
func ParseControlAction(value string) (ControlAction, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	for action, name := range controlActionNames {
		if name == v {
			return action, true
		}
	}
	return ControlUnknown, false
}

// RequiresStep reports whether the action must name a step.
func (a ControlAction) RequiresStep() bool {
	return a == ControlApproveStep || a == ControlSkipStep
}

// ControlRequest is one control message addressed to a workflow.
type ControlRequest struct {
	WorkflowID string        `json:"workflow_id"`
	Action     ControlAction `json:"action"`
	StepID     string        `json:"step_id,omitempty"`
	UserInput  string        `json:"user_input,omitempty"`
	Actor      string        `json:"-"`
}

func (r ControlRequest) String() string {
	return fmt.Sprintf("%s(%s step=%q)", r.Action, r.WorkflowID, r.StepID)
}
