// Package executor runs step commands against a session.
package executor

import (
	"context"

	"stepgate/backend/pkg/models"
)

// Executor runs one command for a session. A returned error means the
// command could not be run to completion; a non-zero exit code is reported
// in the result and left to the caller to judge.
type Executor interface {
	Execute(ctx context.Context, sessionID, command string) (*models.ExecutionResult, error)
}
