package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"stepgate/backend/pkg/models"
)

func TestPostgresWorkflowStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresWorkflowStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))

	newWorkflow := func(created time.Time) *models.Workflow {
		return models.NewWorkflow(uuid.New().String(), models.WorkflowDefinition{
			Name:      "backup",
			SessionID: "session-1",
			Steps: []models.StepSpec{
				{StepID: "s1", Command: "tar czf /tmp/b.tgz /etc", RiskLevel: models.RiskMedium},
				{StepID: "s2", Command: "ls -l /tmp/b.tgz", Dependencies: []string{"s1"}},
			},
		}, created)
	}

	t.Run("Save round trips the document", func(t *testing.T) {
		wf := newWorkflow(time.Now().UTC().Truncate(time.Microsecond))
		wf.Steps[0].Status = models.StepWaitingApproval

		require.NoError(t, store.Save(ctx, wf))
		wf.Steps[0].Status = models.StepCompleted
		require.NoError(t, store.Save(ctx, wf))

		retrieved := findWorkflow(t, store, wf.WorkflowID)
		assert.Equal(t, models.StepCompleted, retrieved.Steps[0].Status)
		assert.Equal(t, []string{"s1"}, retrieved.Steps[1].Dependencies)
		assert.True(t, wf.CreatedAt.Equal(retrieved.CreatedAt))
	})

	t.Run("ListUnfinished skips completed and orders by creation", func(t *testing.T) {
		base := time.Now().UTC().Add(time.Hour)
		later := newWorkflow(base.Add(time.Minute))
		earlier := newWorkflow(base)
		done := newWorkflow(base.Add(-time.Minute))
		completed := base
		done.CompletedAt = &completed

		for _, wf := range []*models.Workflow{later, earlier, done} {
			require.NoError(t, store.Save(ctx, wf))
		}

		workflows, err := store.ListUnfinished(ctx)
		require.NoError(t, err)

		var ids []string
		for _, wf := range workflows {
			ids = append(ids, wf.WorkflowID)
		}
		assert.NotContains(t, ids, done.WorkflowID)
		require.NotEqual(t, -1, indexOf(ids, earlier.WorkflowID))
		assert.Less(t, indexOf(ids, earlier.WorkflowID), indexOf(ids, later.WorkflowID))
	})
}

func findWorkflow(t *testing.T, store *PostgresWorkflowStore, id string) *models.Workflow {
	t.Helper()
	workflows, err := store.ListUnfinished(context.Background())
	require.NoError(t, err)
	for _, wf := range workflows {
		if wf.WorkflowID == id {
			return wf
		}
	}
	t.Fatalf("workflow %s not stored", id)
	return nil
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
