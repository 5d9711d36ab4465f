package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"stepgate/backend/pkg/models"
)

const schema = `CREATE TABLE IF NOT EXISTS automation_workflows (
	workflow_id TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	finished    BOOLEAN NOT NULL DEFAULT FALSE,
	document    JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS automation_workflows_unfinished_idx
	ON automation_workflows (created_at) WHERE NOT finished;`

// PostgresWorkflowStore is a PostgreSQL implementation of the WorkflowStore
// interface. Each workflow is stored as one JSONB document.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

// EnsureSchema creates the workflow table if it does not exist.
func (s *PostgresWorkflowStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save inserts or replaces the stored document of a workflow.
func (s *PostgresWorkflowStore) Save(ctx context.Context, workflow *models.Workflow) error {
	document, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO automation_workflows (workflow_id, session_id, name, finished, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (workflow_id) DO UPDATE
		SET finished = EXCLUDED.finished, document = EXCLUDED.document, updated_at = now()`,
		workflow.WorkflowID, workflow.SessionID, workflow.Name, workflow.CompletedAt != nil, document, workflow.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.WorkflowID, err)
	}
	return nil
}

// ListUnfinished returns every workflow without a completion time, oldest first.
func (s *PostgresWorkflowStore) ListUnfinished(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx, "SELECT document FROM automation_workflows WHERE NOT finished ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, err
		}
		workflow, err := decode(document)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, workflow)
	}
	return workflows, rows.Err()
}

func decode(document []byte) (*models.Workflow, error) {
	var workflow models.Workflow
	if err := json.Unmarshal(document, &workflow); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	return &workflow, nil
}
