package repository

import (
	"context"

	"stepgate/backend/pkg/models"
)

// WorkflowStore is an interface for persisting workflows across restarts.
type WorkflowStore interface {
	// Save inserts or replaces the stored document of a workflow.
	Save(ctx context.Context, workflow *models.Workflow) error
	// ListUnfinished returns every workflow without a completion time,
	// oldest first.
	ListUnfinished(ctx context.Context) ([]*models.Workflow, error)
}
