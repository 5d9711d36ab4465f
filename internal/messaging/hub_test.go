package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgate/backend/pkg/models"
)

func dialHub(t *testing.T, hub *Hub, sessionID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, sessionID, "tester@example.com")
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients(sessionID) == 1 }, time.Second, 5*time.Millisecond)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestHub_SendEvent(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub, "session-1")

	hub.SendEvent(context.Background(), "session-2", models.Event{Type: models.EventWorkflowPaused, WorkflowID: "other"})
	hub.SendEvent(context.Background(), "session-1", models.Event{
		Type:       models.EventStepConfirmationRequired,
		WorkflowID: "wf-1",
		Step:       &models.Step{StepID: "s1", Command: "ls", Dependencies: []string{}},
	})

	var got models.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, models.EventStepConfirmationRequired, got.Type)
	assert.Equal(t, "wf-1", got.WorkflowID)
	require.NotNil(t, got.Step)
	assert.Equal(t, "s1", got.Step.StepID)
}

func TestHub_ControlFrame(t *testing.T) {
	hub := NewHub(nil)
	var mu sync.Mutex
	var received []models.ControlRequest
	hub.SetControlHandler(func(_ context.Context, req models.ControlRequest) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, req)
		return true, nil
	})
	conn := dialHub(t, hub, "session-1")

	require.NoError(t, conn.WriteJSON(ControlFrame{
		Type:       FrameWorkflowControl,
		WorkflowID: "wf-1",
		Action:     "approve_step",
		StepID:     "s1",
		UserInput:  "go",
	}))

	var result ControlResultFrame
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, FrameWorkflowControlResult, result.Type)
	assert.True(t, result.Success)
	assert.Equal(t, "approve_step", result.Action)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, models.ControlRequest{
		WorkflowID: "wf-1",
		Action:     models.ControlApproveStep,
		StepID:     "s1",
		UserInput:  "go",
		Actor:      "tester@example.com",
	}, received[0])
}

func TestHub_ControlFramesApplyInOrder(t *testing.T) {
	hub := NewHub(nil)
	var mu sync.Mutex
	var applied []models.ControlAction
	hub.SetControlHandler(func(_ context.Context, req models.ControlRequest) (bool, error) {
		if req.Action == models.ControlPause {
			// A slow first frame must not let the next one overtake it.
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		defer mu.Unlock()
		applied = append(applied, req.Action)
		return true, nil
	})
	conn := dialHub(t, hub, "session-1")

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(ControlFrame{Type: FrameWorkflowControl, WorkflowID: "wf-1", Action: "pause"}))
		require.NoError(t, conn.WriteJSON(ControlFrame{Type: FrameWorkflowControl, WorkflowID: "wf-1", Action: "resume"}))
	}

	var actions []string
	for i := 0; i < 6; i++ {
		var result ControlResultFrame
		require.NoError(t, conn.ReadJSON(&result))
		assert.True(t, result.Success)
		actions = append(actions, result.Action)
	}
	assert.Equal(t, []string{"pause", "resume", "pause", "resume", "pause", "resume"}, actions)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.ControlAction{
		models.ControlPause, models.ControlResume,
		models.ControlPause, models.ControlResume,
		models.ControlPause, models.ControlResume,
	}, applied)
}

func TestHub_ControlErrors(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub, "session-1")

	require.NoError(t, conn.WriteJSON(ControlFrame{Type: FrameWorkflowControl, WorkflowID: "wf-1", Action: "pause"}))
	var result ControlResultFrame
	require.NoError(t, conn.ReadJSON(&result))
	assert.False(t, result.Success)
	assert.Equal(t, "control is not available", result.Error)

	hub.SetControlHandler(func(context.Context, models.ControlRequest) (bool, error) {
		return false, models.ErrWorkflowNotFound
	})
	require.NoError(t, conn.WriteJSON(ControlFrame{Type: FrameWorkflowControl, WorkflowID: "wf-1", Action: "pause"}))
	require.NoError(t, conn.ReadJSON(&result))
	assert.False(t, result.Success)
	assert.Equal(t, "workflow not found", result.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))
	var frame map[string]string
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, FrameError, frame["type"])
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub, "session-1")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients("session-1") == 0 }, time.Second, 5*time.Millisecond)

	// Sending to a session without clients is a no-op.
	hub.SendEvent(context.Background(), "session-1", models.Event{Type: models.EventWorkflowPaused})
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) SendEvent(_ context.Context, _ string, event models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Fanout{a, nil, b}.SendEvent(context.Background(), "s", models.Event{Type: models.EventWorkflowResumed})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
