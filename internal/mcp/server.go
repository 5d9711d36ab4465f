package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"stepgate/backend/internal/auth"
	"stepgate/backend/pkg/models"
)

// Service is the workflow facade exposed as MCP tools.
type Service interface {
	CreateAutomatedWorkflow(ctx context.Context, req models.CreateWorkflowRequest) (string, error)
	CreateFromRequest(ctx context.Context, req models.PlanWorkflowRequest) (string, error)
	StartWorkflowExecution(ctx context.Context, workflowID string) error
	HandleWorkflowControl(ctx context.Context, req models.ControlRequest) (bool, error)
	GetWorkflowStatus(workflowID string) (models.WorkflowStatus, error)
	ListActiveWorkflows() []models.WorkflowStatus
}

// defaultActor is recorded for control actions from unauthenticated MCP
// sessions.
const defaultActor = "mcp"

type Server struct {
	mcpServer *server.MCPServer
	service   Service
}

func NewServer(service Service, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"stepgate",
			version,
			server.WithToolCapabilities(true),
		),
		service: service,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	stepSchema := map[string]any{
		"type":     "object",
		"required": []string{"step_id", "command"},
		"properties": map[string]any{
			"step_id":               map[string]any{"type": "string"},
			"command":               map[string]any{"type": "string"},
			"description":           map[string]any{"type": "string"},
			"explanation":           map[string]any{"type": "string"},
			"requires_confirmation": map[string]any{"type": "boolean"},
			"risk_level":            map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"estimated_duration":    map[string]any{"type": "string"},
			"dependencies":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}

	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_workflow",
			mcp.WithDescription("Register a workflow of shell steps. Every step is reviewed by the safety judges before it may run."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Human-readable workflow name")),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session whose listeners receive the workflow's events")),
			mcp.WithString("description", mcp.Description("What the workflow is for")),
			mcp.WithString("automation_mode", mcp.Enum("manual", "semi_automatic", "automatic"), mcp.Description("Default confirmation behaviour")),
			mcp.WithString("timeout_per_step", mcp.Description("Per-step time budget, e.g. 5m")),
			mcp.WithArray("steps", mcp.Required(), mcp.Description("Ordered steps"), mcp.Items(stepSchema)),
		),
		s.handleCreateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"plan_workflow",
			mcp.WithDescription("Plan a workflow from a free-text request and register it"),
			mcp.WithString("request", mcp.Required(), mcp.Description("What should be done")),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session whose listeners receive the workflow's events")),
			mcp.WithString("name", mcp.Description("Workflow name; derived from the request when empty")),
			mcp.WithString("automation_mode", mcp.Enum("manual", "semi_automatic", "automatic")),
		),
		s.handlePlanWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_workflow",
			mcp.WithDescription("Start a registered workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleStartWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"control_workflow",
			mcp.WithDescription("Pause, resume, cancel, approve a step of, or skip a step of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithString("action", mcp.Required(), mcp.Enum("pause", "resume", "cancel", "approve_step", "skip_step")),
			mcp.WithString("step_id", mcp.Description("Required for approve_step and skip_step")),
			mcp.WithString("user_input", mcp.Description("Free-text note recorded with the intervention")),
		),
		s.handleControlWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_status",
			mcp.WithDescription("Get a snapshot of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleWorkflowStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List workflows that have not completed or been cancelled"),
		),
		s.handleListWorkflows,
	)
}

func (s *Server) handleCreateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	var req models.CreateWorkflowRequest
	if err := decodeArgs(args, &req); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}

	id, err := s.service.CreateAutomatedWorkflow(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create workflow: %v", err)), nil
	}
	return jsonResult(models.CreateWorkflowResponse{WorkflowID: id})
}

func (s *Server) handlePlanWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	var req models.PlanWorkflowRequest
	if err := decodeArgs(args, &req); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}

	id, err := s.service.CreateFromRequest(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to plan workflow: %v", err)), nil
	}
	return jsonResult(models.CreateWorkflowResponse{WorkflowID: id})
}

func (s *Server) handleStartWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := workflowID(request)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.service.StartWorkflowExecution(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start workflow: %v", err)), nil
	}
	status, err := s.service.GetWorkflowStatus(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workflow status: %v", err)), nil
	}
	return jsonResult(status)
}

func (s *Server) handleControlWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := workflowID(request)
	if errResult != nil {
		return errResult, nil
	}
	args, _ := request.Params.Arguments.(map[string]any)

	name, _ := args["action"].(string)
	if name == "" {
		return mcp.NewToolResultError("Missing required parameter: action"), nil
	}
	action, _ := models.ParseControlAction(name)
	stepID, _ := args["step_id"].(string)
	userInput, _ := args["user_input"].(string)

	actor := defaultActor
	if operator, ok := auth.OperatorFromContext(ctx); ok {
		actor = operator.Label()
	}

	dispatched, err := s.service.HandleWorkflowControl(ctx, models.ControlRequest{
		WorkflowID: id,
		Action:     action,
		StepID:     stepID,
		UserInput:  userInput,
		Actor:      actor,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to control workflow: %v", err)), nil
	}
	return jsonResult(models.ControlResponse{Success: dispatched})
}

func (s *Server) handleWorkflowStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := workflowID(request)
	if errResult != nil {
		return errResult, nil
	}

	status, err := s.service.GetWorkflowStatus(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workflow status: %v", err)), nil
	}
	return jsonResult(status)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.service.ListActiveWorkflows())
}

func workflowID(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return "", mcp.NewToolResultError("Invalid arguments type")
	}
	id, ok := args["workflow_id"].(string)
	if !ok || id == "" {
		return "", mcp.NewToolResultError("Missing required parameter: workflow_id")
	}
	return id, nil
}

// decodeArgs maps tool arguments onto the JSON shape shared with the REST API.
func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the SSE transport under /mcp. The operator resolved
// by the auth middleware is carried into tool calls.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if operator, ok := auth.OperatorFromContext(r.Context()); ok {
				return auth.WithOperator(ctx, operator)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
