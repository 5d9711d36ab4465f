// Package engine advances workflows through their steps. It never runs a
// background loop: every transition is driven by a start call or a control
// request, and each call ends at the next point that needs a human.
package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"stepgate/backend/internal/executor"
	"stepgate/backend/internal/judges"
	"stepgate/backend/internal/registry"
	"stepgate/backend/pkg/models"
)

// DefaultStepDelay is the pause between resolving a step and processing the
// next one.
const DefaultStepDelay = 2 * time.Second

// Messenger delivers events to the listeners of a session. Delivery is best
// effort and must not block the caller for long.
type Messenger interface {
	SendEvent(ctx context.Context, sessionID string, event models.Event)
}

// SafetyGate renders a proceed/block verdict for a step.
type SafetyGate interface {
	Evaluate(ctx context.Context, workflow *models.Workflow, step *models.Step) judges.Verdict
}

// Logger is the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Engine is the step scheduler and control plane.
type Engine struct {
	registry      *registry.Registry
	gate          SafetyGate
	executor      executor.Executor
	messenger     Messenger
	logger        Logger
	clock         func() time.Time
	stepDelay     time.Duration
	stepDeadlines bool
	meter         metric.Meter
	metrics       *engineMetrics

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	pending sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithStepDelay sets the pause between steps.
func WithStepDelay(delay time.Duration) Option {
	return func(e *Engine) { e.stepDelay = delay }
}

// WithStepDeadlines bounds each command by its workflow's timeout_per_step.
func WithStepDeadlines(enabled bool) Option {
	return func(e *Engine) { e.stepDeadlines = enabled }
}

// WithLogger sets the engine logger.
func WithLogger(logger Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMeter records engine counters on meter instead of the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(e *Engine) { e.meter = meter }
}

// New creates an Engine. A nil gate disables safety checks.
func New(reg *registry.Registry, gate SafetyGate, exec executor.Executor, messenger Messenger, opts ...Option) *Engine {
	e := &Engine{
		registry:  reg,
		gate:      gate,
		executor:  exec,
		messenger: messenger,
		logger:    nopLogger{},
		clock:     time.Now,
		stepDelay: DefaultStepDelay,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.gate == nil {
		e.gate = judges.NewGate(nil, nil)
	}
	e.metrics = newEngineMetrics(e.meter, e.logger)
	return e
}

// Shutdown stops pending inter-step continuations and waits for in-flight
// ones to finish or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		close(e.done)
	}
	e.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers an inter-step continuation. It reports false once the
// engine is shutting down.
func (e *Engine) track() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.pending.Add(1)
	return true
}

// acquireActive acquires a workflow that has not been cancelled.
func (e *Engine) acquireActive(ctx context.Context, workflowID string) (*registry.Entry, error) {
	entry, err := e.registry.Acquire(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if entry.Workflow().IsCancelled {
		e.registry.Release(ctx, entry)
		return nil, models.ErrWorkflowNotFound
	}
	return entry, nil
}

func (e *Engine) emit(ctx context.Context, workflow *models.Workflow, event models.Event) {
	event.WorkflowID = workflow.WorkflowID
	event.WorkflowName = workflow.Name
	event.Timestamp = e.clock()
	if e.messenger == nil {
		return
	}
	e.messenger.SendEvent(context.WithoutCancel(ctx), workflow.SessionID, event)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
