package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(format string, args ...interface{}) *mcp.CallToolResult {
	result := textResult(fmt.Sprintf(format, args...))
	result.IsError = true
	return result
}

// handleStartRun implements the start_run tool
func handleStartRun(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body := startRunBody{
			ProjectRef:  request.GetString("project_ref", ""),
			TestCaseIDs: request.GetStringSlice("test_case_ids", nil),
		}
		if body.ProjectRef == "" && len(body.TestCaseIDs) == 0 {
			return errorResult("Error: project_ref or test_case_ids is required"), nil
		}

		config := map[string]interface{}{}
		args := request.GetArguments()
		if _, ok := args["concurrency"]; ok {
			config["concurrency"] = request.GetInt("concurrency", 1)
		}
		if _, ok := args["timeout_ms"]; ok {
			config["timeout_ms"] = request.GetInt("timeout_ms", 0)
		}
		if env := request.GetString("environment", ""); env != "" {
			config["environment"] = env
		}
		if _, ok := args["ai_optimization"]; ok {
			config["ai_optimization"] = request.GetBool("ai_optimization", false)
		}
		if len(config) > 0 {
			body.Config = config
		}

		runID, err := client.StartRun(ctx, body)
		if err != nil {
			logger.Error().Err(err).Msg("start_run failed")
			return errorResult("Failed to start run: %v", err), nil
		}

		return textResult(fmt.Sprintf("Run **%s** started. Use get_run to follow its progress.", runID)), nil
	}
}

// handleGetRun implements the get_run tool
func handleGetRun(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := request.RequireString("run_id")
		if err != nil || runID == "" {
			return errorResult("Error: run_id parameter is required"), nil
		}

		run, err := client.GetRun(ctx, runID)
		if err != nil {
			logger.Error().Err(err).Str("run_id", runID).Msg("get_run failed")
			return errorResult("Run not available: %v", err), nil
		}

		return textResult(formatRun(run)), nil
	}
}

// handleListRuns implements the list_runs tool
func handleListRuns(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 20)
		if limit > 100 {
			limit = 100
		}

		list, err := client.ListRuns(ctx,
			request.GetString("project_ref", ""),
			request.GetString("status", ""),
			limit,
		)
		if err != nil {
			logger.Error().Err(err).Msg("list_runs failed")
			return errorResult("Failed to list runs: %v", err), nil
		}

		return textResult(formatRunList(list.Runs)), nil
	}
}

// handleCancelRun implements the cancel_run tool
func handleCancelRun(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := request.RequireString("run_id")
		if err != nil || runID == "" {
			return errorResult("Error: run_id parameter is required"), nil
		}

		resp, err := client.CancelRun(ctx, runID)
		if err != nil {
			logger.Error().Err(err).Str("run_id", runID).Msg("cancel_run failed")
			return errorResult("Failed to cancel run: %v", err), nil
		}

		if resp.Cancelled {
			return textResult(fmt.Sprintf("Run **%s** cancelled.", runID)), nil
		}
		return textResult(fmt.Sprintf("Run **%s** was not cancelled (status: %s).", runID, resp.Status)), nil
	}
}
