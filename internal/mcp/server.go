package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"autopinner/internal/core"
	"autopinner/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes worker control and introspection as MCP tools.
type MCPServer struct {
	worker  *core.Worker
	store   *store.Store
	logger  *slog.Logger
	version string

	server *server.MCPServer
}

// NewMCPServer creates the server and registers its tools.
func NewMCPServer(worker *core.Worker, store *store.Store, logger *slog.Logger, version string) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		worker:  worker,
		store:   store,
		logger:  logger,
		version: version,
	}
	s.server = server.NewMCPServer(
		"autopinner",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.server)
	return s
}

// Run serves MCP over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// Handler serves MCP over streamable HTTP.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("worker_status",
		mcp.WithDescription("Show the worker state, queue length and running tasks"),
	), s.handleStatus)

	mcpServer.AddTool(mcp.NewTool("worker_pause",
		mcp.WithDescription("Pause the worker; the loop keeps ticking but runs nothing"),
	), s.handlePause)

	mcpServer.AddTool(mcp.NewTool("worker_resume",
		mcp.WithDescription("Resume a paused worker"),
	), s.handleResume)

	mcpServer.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List all tasks with schedule and success rate"),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("task_stats",
		mcp.WithDescription("Show counters, policy and recent history of a task"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name, e.g. generate_content"),
		),
		mcp.WithNumber("history",
			mcp.Description("Number of history entries to show, default 5"),
			mcp.Min(0),
			mcp.Max(100),
		),
	), s.handleTaskStats)

	mcpServer.AddTool(mcp.NewTool("task_set_schedule",
		mcp.WithDescription("Replace the weekdays a task is eligible to run on"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
		mcp.WithString("days",
			mcp.Required(),
			mcp.Description("Comma-separated weekdays, e.g. 'mon,wed,fri'"),
		),
	), s.handleSetSchedule)

	mcpServer.AddTool(mcp.NewTool("task_set_retry",
		mcp.WithDescription("Set the attempt limit and per-attempt timeout of a task"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
		mcp.WithNumber("retry_limit",
			mcp.Required(),
			mcp.Description("Maximum attempts per run"),
			mcp.Min(1),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Per-attempt timeout in seconds, 0 disables it; unchanged when omitted"),
			mcp.Min(0),
		),
	), s.handleSetRetry)

	mcpServer.AddTool(mcp.NewTool("task_set_enabled",
		mcp.WithDescription("Enable or disable a task"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
		mcp.WithBoolean("enabled",
			mcp.Required(),
			mcp.Description("Whether the task may run"),
		),
	), s.handleSetEnabled)

	mcpServer.AddTool(mcp.NewTool("task_enqueue",
		mcp.WithDescription("Queue a task to run ahead of scheduled work"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
	), s.handleEnqueue)

	mcpServer.AddTool(mcp.NewTool("queue_snapshot",
		mcp.WithDescription("List queued tasks in run order"),
	), s.handleQueue)

	mcpServer.AddTool(mcp.NewTool("task_runs",
		mcp.WithDescription("Show the persisted run history of a task"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of runs to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListRuns)

	mcpServer.AddTool(mcp.NewTool("pins_list",
		mcp.WithDescription("List pins, optionally filtered by status"),
		mcp.WithString("status",
			mcp.Description("Filter by status"),
			mcp.Enum(store.PinStatusPending, store.PinStatusPublished, store.PinStatusShared, store.PinStatusFailed),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of pins to return, default 20"),
			mcp.Min(1),
			mcp.Max(200),
		),
	), s.handleListPins)

	mcpServer.AddTool(mcp.NewTool("pin_reset",
		mcp.WithDescription("Move a failed pin back to pending or published so it is retried"),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Pin ID"),
		),
		mcp.WithString("status",
			mcp.Description("Target status, default pending"),
			mcp.Enum(store.PinStatusPending, store.PinStatusPublished),
		),
	), s.handleResetPin)

	s.logger.Info("MCP tools registered", "count", 13)
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.worker.Status()
	result := fmt.Sprintf("State: %s\nQueue length: %d\n", st.State, st.QueueLength)
	if len(st.RunningTasks) > 0 {
		result += fmt.Sprintf("Running: %s\n", strings.Join(st.RunningTasks, ", "))
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.worker.Pause(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Pause failed: %v", err)), nil
	}
	return mcp.NewToolResultText("Worker paused"), nil
}

func (s *MCPServer) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.worker.Resume(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Resume failed: %v", err)), nil
	}
	return mcp.NewToolResultText("Worker resumed"), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks := s.worker.Tasks()
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks registered"), nil
	}
	result := fmt.Sprintf("Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		icon := "▶️"
		if !t.Enabled {
			icon = "⏸️"
		}
		result += fmt.Sprintf("%s %s\n", icon, t.Name)
		result += fmt.Sprintf("  Schedule: %s\n", t.Schedule)
		if len(t.Dependencies) > 0 {
			result += fmt.Sprintf("  Depends on: %s\n", strings.Join(t.Dependencies, ", "))
		}
		result += fmt.Sprintf("  Success rate: %.1f%% (%d/%d)\n", t.SuccessRate, t.SuccessCount, t.SuccessCount+t.FailureCount)
		result += fmt.Sprintf("  Next run: %s\n\n", formatTime(t.NextRunAt))
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleTaskStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	t, err := s.worker.TaskStats(name)
	if err != nil {
		return taskError(name, err), nil
	}

	result := fmt.Sprintf("Task: %s\n", t.Name)
	if t.Description != "" {
		result += fmt.Sprintf("Description: %s\n", t.Description)
	}
	result += fmt.Sprintf("Enabled: %t\n", t.Enabled)
	result += fmt.Sprintf("Schedule: %s\n", t.Schedule)
	result += fmt.Sprintf("Retry limit: %d\n", t.RetryLimit)
	result += fmt.Sprintf("Timeout: %ds\n", t.TimeoutSeconds)
	result += fmt.Sprintf("Successes: %d\nFailures: %d\nSuccess rate: %.1f%%\n", t.SuccessCount, t.FailureCount, t.SuccessRate)
	result += fmt.Sprintf("Total runtime: %.1fs\n", t.TotalRuntimeSeconds)
	result += fmt.Sprintf("Last run: %s\nNext run: %s\n", formatTime(t.LastRunAt), formatTime(t.NextRunAt))

	n := int(mcp.ParseFloat64(request, "history", 5))
	if n > len(t.History) {
		n = len(t.History)
	}
	if n > 0 {
		result += "\nRecent runs:\n"
		for _, h := range t.History[len(t.History)-n:] {
			result += fmt.Sprintf("  [%s] %s %d attempt(s) %.1fs", outcomeIcon(h.Success), formatTime(&h.Timestamp), h.Attempts, h.RuntimeSeconds)
			if h.Error != "" {
				result += " " + truncateString(h.Error, 80)
			}
			result += "\n"
		}
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleSetSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	schedule, err := core.ParseDays(mcp.ParseString(request, "days", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid days: %v", err)), nil
	}
	if schedule.Empty() {
		return mcp.NewToolResultError("At least one weekday is required; disable the task instead"), nil
	}
	if err := s.worker.Registry().SetSchedule(name, schedule); err != nil {
		return taskError(name, err), nil
	}
	s.logger.Info("task schedule updated", "task", name, "schedule", schedule.String())
	return mcp.NewToolResultText(fmt.Sprintf("Schedule of %s set to %s", name, schedule)), nil
}

func (s *MCPServer) handleSetRetry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	current, err := s.worker.TaskStats(name)
	if err != nil {
		return taskError(name, err), nil
	}
	retry := int(mcp.ParseFloat64(request, "retry_limit", float64(current.RetryLimit)))
	timeout := int(mcp.ParseFloat64(request, "timeout_seconds", float64(current.TimeoutSeconds)))
	if err := s.worker.Registry().SetRetryPolicy(name, retry, timeout); err != nil {
		return taskError(name, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Retry policy of %s: %d attempts, %ds timeout", name, retry, timeout)), nil
}

func (s *MCPServer) handleSetEnabled(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	enabled := mcp.ParseBoolean(request, "enabled", true)
	if err := s.worker.Registry().SetEnabled(name, enabled); err != nil {
		return taskError(name, err), nil
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s %s", name, state)), nil
}

func (s *MCPServer) handleEnqueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	if err := s.worker.Enqueue(name, core.PriorityManual); err != nil {
		return taskError(name, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s queued", name)), nil
}

func (s *MCPServer) handleQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries := s.worker.QueueSnapshot()
	if len(entries) == 0 {
		return mcp.NewToolResultText("Queue is empty"), nil
	}
	result := fmt.Sprintf("%d queued:\n", len(entries))
	for i, e := range entries {
		result += fmt.Sprintf("  %d. %s (priority %d)\n", i+1, e.Task, e.Priority)
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	runs, err := s.store.ListTaskRuns(ctx, name, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list runs: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("No runs recorded for this task"), nil
	}

	result := fmt.Sprintf("Found %d runs:\n\n", len(runs))
	for _, r := range runs {
		result += fmt.Sprintf("[%s] Run ID: %s\n", outcomeIcon(r.Success), r.ID)
		result += fmt.Sprintf("    Started: %s\n", formatTime(&r.StartedAt))
		result += fmt.Sprintf("    Runtime: %.1fs, %d attempt(s)\n", r.RuntimeSeconds, r.Attempts)
		if r.Error != "" {
			result += fmt.Sprintf("    Error: %s\n", truncateString(r.Error, 120))
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleListPins(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.PinFilter{
		Status: mcp.ParseString(request, "status", ""),
		Limit:  int(mcp.ParseFloat64(request, "limit", 20)),
	}
	pins, err := s.store.ListPins(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list pins: %v", err)), nil
	}
	if len(pins) == 0 {
		return mcp.NewToolResultText("No pins found"), nil
	}
	result := fmt.Sprintf("Found %d pins:\n\n", len(pins))
	for _, p := range pins {
		result += fmt.Sprintf("#%d [%s] %s\n", p.ID, p.Status, truncateString(p.Title, 60))
		if p.Site != "" {
			result += fmt.Sprintf("    Site: %s\n", p.Site)
		}
		if p.URL != "" {
			result += fmt.Sprintf("    Post: %s\n", p.URL)
		}
		if p.PinURL != "" {
			result += fmt.Sprintf("    Pin: %s\n", p.PinURL)
		}
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleResetPin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := uint(mcp.ParseFloat64(request, "id", 0))
	status := mcp.ParseString(request, "status", store.PinStatusPending)
	if err := s.store.ResetPinStatus(ctx, id, status); err != nil {
		switch {
		case errors.Is(err, store.ErrPinNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("Pin not found: %d", id)), nil
		case errors.Is(err, store.ErrPinNotResettable):
			return mcp.NewToolResultError(fmt.Sprintf("Pin %d is not failed", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Reset failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Pin %d reset to %s", id, status)), nil
}

func taskError(name string, err error) *mcp.CallToolResult {
	if errors.Is(err, core.ErrTaskNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("Task not found: %s", name))
	}
	return mcp.NewToolResultError(err.Error())
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func outcomeIcon(success bool) string {
	if success {
		return "✅"
	}
	return "❌"
}
