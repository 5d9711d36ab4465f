package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"stepgate/backend/internal/config"
	"stepgate/backend/internal/logging"
	"stepgate/backend/internal/plans"
	"stepgate/backend/internal/repository"
	"stepgate/backend/pkg/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:          "stepgate-seed [flags] plan.yaml...",
		Short:        "Store workflow plan files as pending workflows",
		Long:         "Reads YAML plan files and stores each workflow as pending. The server restores them on its next start.",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd.Context(), configPath, args, dryRun)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate plan files without touching the database")
	return cmd
}

func seed(ctx context.Context, configPath string, files []string, dryRun bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewLogger(cfg.Log.Level)

	var loaded []plans.Plan
	for _, file := range files {
		found, err := plans.LoadFile(file)
		if err != nil {
			return err
		}
		loaded = append(loaded, found...)
	}
	logger.Info("Plan files validated", "files", len(files), "workflows", len(loaded))
	if dryRun {
		return nil
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pool.Close()

	store := repository.NewPostgresWorkflowStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	// Skip plans whose name already has an unfinished workflow
	existing, err := store.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("failed to list existing workflows: %w", err)
	}
	existingNames := make(map[string]bool, len(existing))
	for _, w := range existing {
		existingNames[w.Name] = true
	}

	seeded := 0
	for _, p := range loaded {
		if existingNames[p.Definition.Name] {
			logger.Info("Skipping existing workflow", "name", p.Definition.Name, "source", p.Source)
			continue
		}
		workflow := models.NewWorkflow(uuid.NewString(), p.Definition, time.Now().UTC())
		if err := store.Save(ctx, workflow); err != nil {
			return fmt.Errorf("failed to store %s: %w", p.Source, err)
		}
		existingNames[p.Definition.Name] = true
		seeded++
		logger.Info("Seeded workflow", "name", workflow.Name, "id", workflow.WorkflowID, "steps", len(workflow.Steps))
	}
	logger.Info("Seeding complete", "seeded", seeded)
	return nil
}
