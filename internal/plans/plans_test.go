package plans

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgate/backend/pkg/models"
)

const twoPlans = `
name: rotate logs
session_id: ops
automation_mode: automatic
timeout_per_step: 2m
steps:
  - step_id: compress
    command: gzip /var/log/app.log
    risk_level: low
  - step_id: prune
    command: find /var/log -name '*.gz' -mtime +7 -delete
    risk_level: high
    dependencies: [compress]
---
name: disk report
session_id: ops
steps:
  - step_id: df
    command: df -h
    requires_confirmation: false
`

func TestDecode(t *testing.T) {
	got, err := Decode("ops.yaml", strings.NewReader(twoPlans))
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "ops.yaml#1", first.Source)
	assert.Equal(t, "rotate logs", first.Definition.Name)
	assert.Equal(t, models.ModeAutomatic, first.Definition.AutomationMode)
	assert.Equal(t, models.Duration(2*time.Minute), first.Definition.TimeoutPerStep)
	require.Len(t, first.Definition.Steps, 2)
	assert.False(t, first.Definition.Steps[0].RequiresConfirmation, "low risk in automatic mode")
	assert.True(t, first.Definition.Steps[1].RequiresConfirmation, "high risk in automatic mode")
	assert.Equal(t, []string{"compress"}, first.Definition.Steps[1].Dependencies)

	second := got[1]
	assert.Equal(t, models.DefaultAutomationMode, second.Definition.AutomationMode)
	assert.False(t, second.Definition.Steps[0].RequiresConfirmation)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty stream", "", "no workflows found"},
		{"unknown key", "name: x\nsession_id: s\nstepz: []\n", "document 1"},
		{"invalid mode", "name: x\nsession_id: s\nautomation_mode: turbo\nsteps: [{step_id: a, command: ls}]\n", "automation_mode"},
		{"second document invalid", "name: x\nsession_id: s\nsteps: [{step_id: a, command: ls}]\n---\nname: y\nsession_id: s\nsteps: []\n", "document 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("plan.yaml", strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoPlans), 0o644))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to open plan file")
}
