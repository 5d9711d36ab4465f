// Package registry owns every live workflow and serialises access to each.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"stepgate/backend/internal/repository"
	"stepgate/backend/pkg/models"
)

const persistTimeout = 5 * time.Second

// Logger is the logging interface used by the registry.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Entry guards one workflow. The live workflow may only be read or changed
// between Acquire and Release; readers outside use the published snapshot.
type Entry struct {
	sem      chan struct{}
	workflow *models.Workflow
	snapshot atomic.Pointer[models.Workflow]
}

func newEntry(workflow *models.Workflow) *Entry {
	e := &Entry{sem: make(chan struct{}, 1), workflow: workflow}
	e.snapshot.Store(workflow.Clone())
	return e
}

// Workflow returns the live workflow. Callers must hold the entry.
func (e *Entry) Workflow() *models.Workflow {
	return e.workflow
}

func (e *Entry) lock(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Entry) unlock() {
	<-e.sem
}

// Registry maps workflow ids to their entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	store   repository.WorkflowStore
	clock   func() time.Time
	logger  Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore persists every published snapshot to store.
func WithStore(store repository.WorkflowStore) Option {
	return func(r *Registry) { r.store = store }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithLogger sets the registry logger.
func WithLogger(logger Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		clock:   time.Now,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new workflow with a fresh id and returns a copy of it.
func (r *Registry) Create(ctx context.Context, def models.WorkflowDefinition) *models.Workflow {
	workflow := models.NewWorkflow(uuid.NewString(), def, r.clock())
	entry := newEntry(workflow)

	r.mu.Lock()
	r.entries[workflow.WorkflowID] = entry
	r.mu.Unlock()

	r.persist(ctx, entry.snapshot.Load())
	r.logger.Info("Workflow created", "workflow_id", workflow.WorkflowID, "session_id", workflow.SessionID, "steps", len(workflow.Steps))
	return workflow.Clone()
}

// Acquire waits for exclusive access to a workflow.
func (r *Registry) Acquire(ctx context.Context, id string) (*Entry, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, models.ErrWorkflowNotFound
	}
	if err := entry.lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire workflow %s: %w", id, err)
	}
	return entry, nil
}

// Checkpoint publishes the current state of a held entry so readers see it
// while the holder keeps working.
func (r *Registry) Checkpoint(ctx context.Context, entry *Entry) {
	snapshot := entry.workflow.Clone()
	entry.snapshot.Store(snapshot)
	r.persist(ctx, snapshot)
}

// Release publishes the entry state and gives up exclusive access.
func (r *Registry) Release(ctx context.Context, entry *Entry) {
	r.Checkpoint(ctx, entry)
	entry.unlock()
}

// Status returns the last published snapshot of a workflow.
func (r *Registry) Status(id string) (models.WorkflowStatus, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return models.WorkflowStatus{}, models.ErrWorkflowNotFound
	}
	return entry.snapshot.Load().Snapshot(), nil
}

// List returns snapshots of every workflow ordered by creation time.
func (r *Registry) List() []models.WorkflowStatus {
	r.mu.RLock()
	workflows := make([]*models.Workflow, 0, len(r.entries))
	for _, entry := range r.entries {
		workflows = append(workflows, entry.snapshot.Load())
	}
	r.mu.RUnlock()

	sort.Slice(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].WorkflowID < workflows[j].WorkflowID
		}
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})
	statuses := make([]models.WorkflowStatus, len(workflows))
	for i, workflow := range workflows {
		statuses[i] = workflow.Snapshot()
	}
	return statuses
}

// Restore loads unfinished workflows from the store. A step found EXECUTING
// has an unknown outcome; it is marked FAILED and its workflow paused.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	workflows, err := r.store.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to restore workflows: %w", err)
	}

	restored := 0
	for _, workflow := range workflows {
		r.mu.RLock()
		_, exists := r.entries[workflow.WorkflowID]
		r.mu.RUnlock()
		if exists {
			continue
		}

		interrupted := false
		for i := range workflow.Steps {
			if workflow.Steps[i].Status == models.StepExecuting {
				workflow.Steps[i].Status = models.StepFailed
				interrupted = true
			}
		}
		if interrupted {
			workflow.IsPaused = true
		}
		if workflow.Steps == nil {
			workflow.Steps = []models.Step{}
		}
		if workflow.UserInterventions == nil {
			workflow.UserInterventions = []models.Intervention{}
		}

		r.mu.Lock()
		_, exists = r.entries[workflow.WorkflowID]
		if !exists {
			r.entries[workflow.WorkflowID] = newEntry(workflow)
		}
		r.mu.Unlock()
		if exists {
			continue
		}
		if interrupted {
			r.persist(ctx, workflow.Clone())
			r.logger.Warn("Workflow interrupted during execution, paused", "workflow_id", workflow.WorkflowID)
		}
		restored++
	}
	r.logger.Info("Workflows restored", "count", restored)
	return restored, nil
}

func (r *Registry) persist(ctx context.Context, snapshot *models.Workflow) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.store.Save(ctx, snapshot); err != nil {
		r.logger.Warn("Failed to persist workflow", "workflow_id", snapshot.WorkflowID, "error", err)
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
