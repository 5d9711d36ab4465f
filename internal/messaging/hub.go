package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stepgate/backend/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 << 10
	sendBufferSize = 64
	inboxSize      = 16
)

// Frame types exchanged over the session socket besides event frames, which
// carry the event type itself.
const (
	FrameWorkflowControl       = "workflow_control"
	FrameWorkflowControlResult = "workflow_control_result"
	FrameError                 = "error"
)

// ControlFrame is an inbound control request.
type ControlFrame struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id"`
	Action     string `json:"action"`
	StepID     string `json:"step_id,omitempty"`
	UserInput  string `json:"user_input,omitempty"`
}

// ControlResultFrame answers a ControlFrame.
type ControlResultFrame struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id"`
	Action     string `json:"action"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	inbox     chan ControlFrame
	sessionID string
	actor     string
}

// Hub pushes events to the WebSocket clients of each session and accepts
// control frames from them.
type Hub struct {
	upgrader websocket.Upgrader
	logger   Logger

	mu       sync.RWMutex
	sessions map[string]map[*client]struct{}
	control  ControlHandler
}

// NewHub creates a new Hub.
func NewHub(logger Logger) *Hub {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:   logger,
		sessions: make(map[string]map[*client]struct{}),
	}
}

// SetControlHandler sets the handler for inbound control frames. Frames are
// refused until one is set.
func (h *Hub) SetControlHandler(handler ControlHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.control = handler
}

// Clients returns the number of clients connected to a session.
func (h *Hub) Clients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SendEvent implements Messenger. Slow clients drop events rather than block
// the sender.
func (h *Hub) SendEvent(_ context.Context, sessionID string, event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("Failed to encode event", "type", string(event.Type), "error", err)
		return
	}
	h.broadcast(sessionID, payload)
}

func (h *Hub) broadcast(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.sessions[sessionID] {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("Client send buffer full, dropping frame", "session_id", sessionID)
		}
	}
}

// ServeWS upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID, actor string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		inbox:     make(chan ControlFrame, inboxSize),
		sessionID: sessionID,
		actor:     actor,
	}
	h.register(c)
	defer h.unregister(c)

	go h.writePump(c)
	// Approvals run a command and may take long, so control frames are
	// applied by their own goroutine in arrival order while reading goes on.
	go h.controlPump(context.WithoutCancel(r.Context()), c)
	h.readPump(c)
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[c.sessionID] == nil {
		h.sessions[c.sessionID] = make(map[*client]struct{})
	}
	h.sessions[c.sessionID][c] = struct{}{}
	h.logger.Info("Client connected", "session_id", c.sessionID, "total", len(h.sessions[c.sessionID]))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.sessions[c.sessionID]
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.sessions, c.sessionID)
	}
	close(c.send)
	h.logger.Info("Client disconnected", "session_id", c.sessionID, "total", len(clients))
}

func (h *Hub) readPump(c *client) {
	defer func() {
		close(c.inbox)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Unexpected close", "session_id", c.sessionID, "error", err)
			}
			return
		}

		var frame ControlFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != FrameWorkflowControl {
			h.reply(c, map[string]string{"type": FrameError, "error": "unsupported frame"})
			continue
		}
		c.inbox <- frame
	}
}

func (h *Hub) controlPump(ctx context.Context, c *client) {
	for frame := range c.inbox {
		h.dispatch(ctx, c, frame)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *client, frame ControlFrame) {
	h.mu.RLock()
	handler := h.control
	h.mu.RUnlock()

	result := ControlResultFrame{Type: FrameWorkflowControlResult, WorkflowID: frame.WorkflowID, Action: frame.Action}
	if handler == nil {
		result.Error = "control is not available"
		h.reply(c, result)
		return
	}

	action, _ := models.ParseControlAction(frame.Action)
	ok, err := handler(ctx, models.ControlRequest{
		WorkflowID: frame.WorkflowID,
		Action:     action,
		StepID:     frame.StepID,
		UserInput:  frame.UserInput,
		Actor:      c.actor,
	})
	result.Success = ok
	if err != nil {
		result.Error = err.Error()
	}
	h.reply(c, result)
}

func (h *Hub) reply(c *client, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.sessions[c.sessionID][c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
		h.logger.Warn("Client send buffer full, dropping reply", "session_id", c.sessionID)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("Write failed", "session_id", c.sessionID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
