package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const defaultListLimit = 20

func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listThreadsTool(),
		s.startRunTool(),
		s.getRunTool(),
		s.listRunsTool(),
	)
}

func (s *Server) listThreadsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_threads",
		mcplib.WithDescription("List monitored threads with their message counts"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListThreads}
}

func (s *Server) startRunTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("start_run",
		mcplib.WithDescription("Run the remediation pipeline on the latest message of a thread"),
		mcplib.WithString("thread_id",
			mcplib.Required(),
			mcplib.Description("The thread to run on"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStartRun}
}

func (s *Server) getRunTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_run",
		mcplib.WithDescription("Get the stored record of a run, including verdict and gate"),
		mcplib.WithString("run_id",
			mcplib.Required(),
			mcplib.Description("The run ID to look up"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetRun}
}

func (s *Server) listRunsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_runs",
		mcplib.WithDescription("List recent runs, newest first"),
		mcplib.WithString("thread_id", mcplib.Description("Only runs of this thread")),
		mcplib.WithNumber("limit", mcplib.Description("Maximum runs to return (default 20)")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListRuns}
}

type threadEntry struct {
	ThreadID string `json:"thread_id"`
	Messages int    `json:"messages"`
}

func (s *Server) threadEntries(ctx context.Context) ([]threadEntry, error) {
	counts, err := s.deps.Threads.Threads(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]threadEntry, 0, len(counts))
	for id, n := range counts {
		out = append(out, threadEntry{ThreadID: id, Messages: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out, nil
}

func (s *Server) handleListThreads(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Threads == nil {
		return mcplib.NewToolResultError("thread source not configured"), nil
	}
	threads, err := s.threadEntries(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list threads", err), nil
	}
	return jsonResult(threads, "threads")
}

func (s *Server) handleStartRun(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Starter == nil {
		return mcplib.NewToolResultError("run service not configured"), nil
	}
	threadID, ok := req.GetArguments()["thread_id"].(string)
	if !ok || threadID == "" {
		return mcplib.NewToolResultError("thread_id is required"), nil
	}
	rec, err := s.deps.Starter.StartThread(ctx, threadID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to run thread %s", threadID), err), nil
	}
	return jsonResult(rec, "run")
}

func (s *Server) handleGetRun(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Runs == nil {
		return mcplib.NewToolResultError("run reader not configured"), nil
	}
	runID, ok := req.GetArguments()["run_id"].(string)
	if !ok || runID == "" {
		return mcplib.NewToolResultError("run_id is required"), nil
	}
	rec, err := s.deps.Runs.Get(ctx, runID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get run %s", runID), err), nil
	}
	return jsonResult(rec, "run")
}

func (s *Server) handleListRuns(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Runs == nil {
		return mcplib.NewToolResultError("run reader not configured"), nil
	}
	args := req.GetArguments()
	threadID, _ := args["thread_id"].(string)
	limit := defaultListLimit
	if v, ok := args["limit"].(float64); ok && v >= 1 {
		limit = int(v)
	}
	runs, err := s.deps.Runs.List(ctx, threadID, limit)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list runs", err), nil
	}
	return jsonResult(runs, "runs")
}

func jsonResult(v any, what string) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
