// Package api contains the HTTP handlers of the workflow service.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"stepgate/backend/internal/services"
	"stepgate/backend/pkg/models"
)

const (
	serviceName = "stepgate"
	problemJSON = "application/problem+json"
)

// Version is reported by the health endpoint. Overridden at link time.
var Version = "dev"

// Service is the workflow facade the handlers drive.
type Service interface {
	CreateAutomatedWorkflow(ctx context.Context, req models.CreateWorkflowRequest) (string, error)
	CreateFromRequest(ctx context.Context, req models.PlanWorkflowRequest) (string, error)
	StartWorkflowExecution(ctx context.Context, workflowID string) error
	HandleWorkflowControl(ctx context.Context, req models.ControlRequest) (bool, error)
	GetWorkflowStatus(workflowID string) (models.WorkflowStatus, error)
	ListActiveWorkflows() []models.WorkflowStatus
}

// EventStream serves the per-session push channel.
type EventStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request, sessionID, actor string) error
}

// Logger is the logging interface used by the handlers.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler contains HTTP handlers for the workflow REST API
type Handler struct {
	service Service
	events  EventStream
	logger  Logger
	checks  map[string]string
}

// NewHandler creates a new Handler with required dependencies. events may be
// nil, in which case the event stream endpoint answers 503.
func NewHandler(service Service, events EventStream, logger Logger) *Handler {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Handler{
		service: service,
		events:  events,
		logger:  logger,
		checks:  map[string]string{},
	}
}

// SetCheck records a named component state reported by the health endpoint.
// It must be called before the server starts.
func (h *Handler) SetCheck(name, state string) {
	h.checks[name] = state
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthStatus{
		Status:    "ok",
		Service:   serviceName,
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Checks:    h.checks,
	})
}

// ErrorHandler renders every handler error as an RFC 7807 Problem Details
// response.
func ErrorHandler(logger Logger) echo.HTTPErrorHandler {
	if logger == nil {
		logger = nopLogger{}
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, detail := classify(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
		}
		if writeErr := writeError(c, status, detail); writeErr != nil {
			logger.Error("failed to write error response", "error", writeErr)
		}
	}
}

func classify(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code, fmt.Sprint(he.Message)
	case models.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrWorkflowNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrPlannerUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(c echo.Context, status int, detail string) error {
	problem := models.ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	if sc := trace.SpanContextFromContext(c.Request().Context()); sc.HasTraceID() {
		problem.TraceID = sc.TraceID().String()
	}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	c.Response().Header().Set(echo.HeaderContentType, problemJSON)
	return c.JSON(status, problem)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
