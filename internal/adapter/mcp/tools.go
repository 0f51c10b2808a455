package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/ReviewForge/internal/domain/task"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.submitTaskTool(),
		s.getTaskStatusTool(),
		s.cancelTaskTool(),
		s.listActorsTool(),
		s.computeDiffTool(),
	)
}

func (s *Server) submitTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_task",
		mcplib.WithDescription("Submit a draft for hierarchical review and revision"),
		mcplib.WithString("title", mcplib.Required(), mcplib.Description("Short task title")),
		mcplib.WithString("type", mcplib.Required(), mcplib.Description("Task type, for example content or code")),
		mcplib.WithString("content", mcplib.Required(), mcplib.Description("The draft text to review")),
		mcplib.WithString("description", mcplib.Description("Background for reviewers and producers")),
		mcplib.WithString("priority", mcplib.Description("low, normal, high or critical")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmitTask}
}

func (s *Server) getTaskStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task_status",
		mcplib.WithDescription("Get the state and result of a task by ID"),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The task ID to check")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetTaskStatus}
}

func (s *Server) cancelTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel_task",
		mcplib.WithDescription("Request cancellation of a running task"),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The task ID to cancel")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCancelTask}
}

func (s *Server) listActorsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_actors",
		mcplib.WithDescription("List registered actors with their capabilities and status"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListActors}
}

func (s *Server) computeDiffTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("compute_diff",
		mcplib.WithDescription("Compute the structured changes between two drafts"),
		mcplib.WithString("before", mcplib.Required(), mcplib.Description("The earlier draft")),
		mcplib.WithString("after", mcplib.Required(), mcplib.Description("The later draft")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleComputeDiff}
}

func (s *Server) handleSubmitTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	args := req.GetArguments()
	prio, err := task.ParsePriority(stringArg(args, "priority"))
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	t, err := s.deps.Tasks.Submit(ctx, task.SubmitRequest{
		Title:       stringArg(args, "title"),
		Description: stringArg(args, "description"),
		Type:        stringArg(args, "type"),
		Priority:    prio,
		Input:       task.Input{Content: stringArg(args, "content")},
	})
	if err != nil {
		if t != nil {
			// Routed tasks that could not be assigned are still recorded.
			return jsonResult(task.StatusOf(t), err)
		}
		return mcplib.NewToolResultErrorFromErr("failed to submit task", err), nil
	}
	return jsonResult(task.StatusOf(t), nil)
}

func (s *Server) handleGetTaskStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	id := stringArg(req.GetArguments(), "task_id")
	if id == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	st, err := s.deps.Tasks.GetStatus(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get task %s", id), err), nil
	}
	return jsonResult(st, nil)
}

func (s *Server) handleCancelTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	id := stringArg(req.GetArguments(), "task_id")
	if id == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	if err := s.deps.Tasks.Cancel(ctx, id); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to cancel task %s", id), err), nil
	}
	return mcplib.NewToolResultText(fmt.Sprintf("cancellation requested for %s", id)), nil
}

func (s *Server) handleListActors(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Actors == nil {
		return mcplib.NewToolResultError("actor registry not configured"), nil
	}
	return jsonResult(s.deps.Actors.List(), nil)
}

func (s *Server) handleComputeDiff(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Diffs == nil {
		return mcplib.NewToolResultError("diff service not configured"), nil
	}
	args := req.GetArguments()
	res, err := s.deps.Diffs.Compute(ctx, stringArg(args, "before"), stringArg(args, "after"))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to compute diff", err), nil
	}
	return jsonResult(struct {
		Changes any `json:"changes"`
		Stats   any `json:"stats"`
	}{res.Changes, res.Summarize()}, nil)
}

func stringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return v
}

// jsonResult marshals v as the text content of a tool result. A non-nil
// cause marks the result as an error while still carrying v.
func jsonResult(v any, cause error) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	res := mcplib.NewToolResultText(string(data))
	if cause != nil {
		res.IsError = true
	}
	return res, nil
}
