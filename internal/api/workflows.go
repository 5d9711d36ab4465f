package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"stepgate/backend/internal/auth"
	"stepgate/backend/pkg/models"
)

// RegisterHandlers mounts the workflow routes on g, normally the /api/v1
// group behind the auth middleware.
func RegisterHandlers(g *echo.Group, h *Handler) {
	g.GET("/workflows", h.ListWorkflows)
	g.POST("/workflows", h.CreateWorkflow)
	g.POST("/workflows/plan", h.PlanWorkflow)
	g.GET("/workflows/:workflow_id", h.GetWorkflow)
	g.POST("/workflows/:workflow_id/start", h.StartWorkflow)
	g.POST("/workflows/:workflow_id/control", h.ControlWorkflow)
	g.GET("/sessions/:session_id/events", h.StreamEvents)
}

// ControlBody is the body of a control request; the workflow comes from the
// path.
type ControlBody struct {
	Action    models.ControlAction `json:"action"`
	StepID    string               `json:"step_id,omitempty"`
	UserInput string               `json:"user_input,omitempty"`
}

// ListWorkflows returns snapshots of every active workflow
// (GET /api/v1/workflows)
func (h *Handler) ListWorkflows(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.ListActiveWorkflows())
}

// CreateWorkflow registers a workflow from an explicit step list
// (POST /api/v1/workflows)
func (h *Handler) CreateWorkflow(c echo.Context) error {
	var req models.CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	id, err := h.service.CreateAutomatedWorkflow(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, models.CreateWorkflowResponse{WorkflowID: id})
}

// PlanWorkflow registers a workflow planned from free text
// (POST /api/v1/workflows/plan)
func (h *Handler) PlanWorkflow(c echo.Context) error {
	var req models.PlanWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	id, err := h.service.CreateFromRequest(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, models.CreateWorkflowResponse{WorkflowID: id})
}

// GetWorkflow returns one workflow snapshot
// (GET /api/v1/workflows/{workflow_id})
func (h *Handler) GetWorkflow(c echo.Context) error {
	id, err := pathParam(c, "workflow_id")
	if err != nil {
		return err
	}
	status, err := h.service.GetWorkflowStatus(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// StartWorkflow begins execution and returns the resulting snapshot
// (POST /api/v1/workflows/{workflow_id}/start)
func (h *Handler) StartWorkflow(c echo.Context) error {
	id, err := pathParam(c, "workflow_id")
	if err != nil {
		return err
	}
	if err := h.service.StartWorkflowExecution(c.Request().Context(), id); err != nil {
		return err
	}
	status, err := h.service.GetWorkflowStatus(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// ControlWorkflow applies a human control action
// (POST /api/v1/workflows/{workflow_id}/control)
func (h *Handler) ControlWorkflow(c echo.Context) error {
	id, err := pathParam(c, "workflow_id")
	if err != nil {
		return err
	}
	var body ControlBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	ok, err := h.service.HandleWorkflowControl(c.Request().Context(), models.ControlRequest{
		WorkflowID: id,
		Action:     body.Action,
		StepID:     body.StepID,
		UserInput:  body.UserInput,
		Actor:      actor(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.ControlResponse{Success: ok})
}

// StreamEvents upgrades to the session's WebSocket push channel
// (GET /api/v1/sessions/{session_id}/events)
func (h *Handler) StreamEvents(c echo.Context) error {
	sessionID, err := pathParam(c, "session_id")
	if err != nil {
		return err
	}
	if h.events == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream is not configured")
	}
	// The upgrader answers failed handshakes itself.
	if err := h.events.ServeWS(c.Response(), c.Request(), sessionID, actor(c)); err != nil {
		h.logger.Debug("websocket upgrade failed", "session_id", sessionID, "error", err)
	}
	return nil
}

func pathParam(c echo.Context, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, c.Param(name), &value, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter "+name+": "+err.Error())
	}
	return value, nil
}

func actor(c echo.Context) string {
	if operator, ok := auth.OperatorFromContext(c.Request().Context()); ok {
		return operator.Label()
	}
	return ""
}
