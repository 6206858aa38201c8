package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/missionctl/internal/storage"
	"github.com/kalambet/missionctl/internal/webhook"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Dispatcher *webhook.Dispatcher
	Store      storage.Reader
}

// NewMCPServer creates an MCP server exposing the board's event handlers as
// tools, so agents can drive the board without going through the webhook.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"missionctl",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("missionctl: mission control board for agent tasks, status, activity and chat."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("upsert_task",
			mcp.WithDescription("Create a task, or update it when an existing id is given."),
			mcp.WithString("id", mcp.Description("Existing task id; omit to create")),
			mcp.WithString("title", mcp.Description("Task title (required when creating)")),
			mcp.WithString("description", mcp.Description("Task description")),
			mcp.WithString("status", mcp.Description("queued, active, in_progress, review, completed, done or blocked")),
			mcp.WithString("priority", mcp.Description("low, medium or high")),
			mcp.WithString("assignee", mcp.Description("Agent the task is assigned to")),
		),
		mcpDispatch(deps, "task_update"),
	)

	s.AddTool(
		mcp.NewTool("update_task",
			mcp.WithDescription("Apply a partial update to an existing task."),
			mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("description", mcp.Description("New description")),
			mcp.WithString("status", mcp.Description("New status")),
			mcp.WithString("priority", mcp.Description("New priority")),
			mcp.WithString("assignee", mcp.Description("New assignee")),
		),
		mcpDispatch(deps, "update_task"),
	)

	s.AddTool(
		mcp.NewTool("update_agent_status",
			mcp.WithDescription("Report an agent's status, registering the agent on first sight."),
			mcp.WithString("name", mcp.Description("Agent name"), mcp.Required()),
			mcp.WithString("status", mcp.Description("online, busy, idle or offline")),
		),
		mcpDispatch(deps, "agent_update"),
	)

	s.AddTool(
		mcp.NewTool("log_activity",
			mcp.WithDescription("Append an entry to the activity feed."),
			mcp.WithString("message", mcp.Description("Activity text"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Activity type, e.g. task_created, task_updated, message")),
			mcp.WithString("agent", mcp.Description("Acting agent")),
			mcp.WithString("taskId", mcp.Description("Related task id")),
		),
		mcpDispatch(deps, "activity"),
	)

	s.AddTool(
		mcp.NewTool("post_chat",
			mcp.WithDescription("Post a message to the team chat."),
			mcp.WithString("content", mcp.Description("Message text"), mcp.Required()),
			mcp.WithString("agent", mcp.Description("Sending agent")),
		),
		mcpDispatch(deps, "chat_message"),
	)

	s.AddTool(
		mcp.NewTool("add_deliverable",
			mcp.WithDescription("Attach a produced artifact to the board."),
			mcp.WithString("title", mcp.Description("Deliverable title"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Deliverable body"), mcp.Required()),
			mcp.WithString("type", mcp.Description("post, tweet, article, code, design, report, email or research")),
			mcp.WithString("agent", mcp.Description("Producing agent")),
			mcp.WithString("taskId", mcp.Description("Related task id")),
		),
		mcpDispatch(deps, "add_deliverable"),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List board tasks, most recently updated first."),
			mcp.WithNumber("hours", mcp.Description("Only tasks updated within this many hours (0 for all)")),
		),
		mcpListTasks(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"board://stats",
			"Board Stats",
			mcp.WithResourceDescription("Task counts per status and agent presence"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

// mcpDispatch routes a tool call through the webhook dispatcher as event kind.
func mcpDispatch(deps MCPDeps, kind string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Dispatcher.Dispatch(ctx, kind, webhook.Payload(req.GetArguments()))
		if err != nil {
			return mcpError(fmt.Sprintf("%s failed: %v", kind, err)), nil
		}
		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		hours := req.GetInt("hours", 0)
		if hours > maxRecentHours {
			hours = maxRecentHours
		}

		var tasks []storage.Task
		var err error
		if hours > 0 {
			since := time.Now().Add(-time.Duration(hours) * time.Hour).UnixMilli()
			tasks, err = deps.Store.ListTasksUpdatedSince(ctx, since)
		} else {
			tasks, err = deps.Store.ListTasks(ctx)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list tasks: %v", err)), nil
		}
		if len(tasks) == 0 {
			return mcpText("No tasks on the board."), nil
		}

		b, err := json.Marshal(toTaskViews(tasks))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Store.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
