package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stepgate/backend/internal/judges"
	"stepgate/backend/internal/registry"
	"stepgate/backend/pkg/models"
)

type recordingMessenger struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *recordingMessenger) SendEvent(_ context.Context, _ string, event models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *recordingMessenger) all() []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Event(nil), m.events...)
}

func (m *recordingMessenger) types() []models.EventType {
	var out []models.EventType
	for _, e := range m.all() {
		out = append(out, e.Type)
	}
	return out
}

func (m *recordingMessenger) last() models.Event {
	events := m.all()
	if len(events) == 0 {
		return models.Event{}
	}
	return events[len(events)-1]
}

type fakeExecutor struct {
	mu        sync.Mutex
	calls     []string
	deadlines []bool
	results   map[string]*models.ExecutionResult
	errs      map[string]error
	block     chan struct{}
	started   chan string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		results: make(map[string]*models.ExecutionResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, _ string, command string) (*models.ExecutionResult, error) {
	_, hasDeadline := ctx.Deadline()
	f.mu.Lock()
	f.calls = append(f.calls, command)
	f.deadlines = append(f.deadlines, hasDeadline)
	block, started := f.block, f.started
	err, result := f.errs[command], f.results[command]
	f.mu.Unlock()

	if started != nil {
		started <- command
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	return &models.ExecutionResult{Command: command, Stdout: "ok"}, nil
}

func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExecutor) setErr(command string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, command)
		return
	}
	f.errs[command] = err
}

// stubGate proceeds unless block returns a reason for the step.
type stubGate struct {
	mu    sync.Mutex
	block map[string]string
	calls int
}

func (g *stubGate) Evaluate(_ context.Context, _ *models.Workflow, step *models.Step) judges.Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if reason, ok := g.block[step.StepID]; ok {
		return judges.Verdict{Reason: reason, Suggestions: []string{"try again"}}
	}
	return judges.Verdict{ShouldProceed: true}
}

func (g *stubGate) setBlock(stepID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.block == nil {
		g.block = make(map[string]string)
	}
	if reason == "" {
		delete(g.block, stepID)
		return
	}
	g.block[stepID] = reason
}

type harness struct {
	registry  *registry.Registry
	engine    *Engine
	executor  *fakeExecutor
	messenger *recordingMessenger
	gate      *stubGate
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		registry:  registry.New(),
		executor:  newFakeExecutor(),
		messenger: &recordingMessenger{},
		gate:      &stubGate{},
	}
	opts = append([]Option{WithStepDelay(0)}, opts...)
	h.engine = New(h.registry, h.gate, h.executor, h.messenger, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.engine.Shutdown(ctx)
	})
	return h
}

func (h *harness) create(steps ...models.StepSpec) string {
	return h.registry.Create(context.Background(), models.WorkflowDefinition{
		Name:      "test workflow",
		SessionID: "session-1",
		Steps:     steps,
	}).WorkflowID
}

func (h *harness) status(t *testing.T, id string) models.WorkflowStatus {
	t.Helper()
	status, err := h.registry.Status(id)
	require.NoError(t, err)
	return status
}

func step(id string, deps ...string) models.StepSpec {
	return models.StepSpec{StepID: id, Command: "run " + id, Dependencies: deps}
}
