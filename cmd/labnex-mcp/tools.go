package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createStartRunTool returns the start_run tool definition
func createStartRunTool() mcp.Tool {
	return mcp.NewTool("start_run",
		mcp.WithDescription("Start a browser test run. Give test_case_ids, or a project_ref to run every case of the project."),
		mcp.WithString("project_ref",
			mcp.Description("Project whose test cases are run when test_case_ids is empty"),
		),
		mcp.WithArray("test_case_ids",
			mcp.WithStringItems(),
			mcp.Description("Test case IDs to run (format: tc_{uuid})"),
		),
		mcp.WithNumber("concurrency",
			mcp.Description("Cases executed in parallel (default: server setting)"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Run-level timeout in milliseconds (0 = none)"),
		),
		mcp.WithString("environment",
			mcp.Description("Environment label recorded on the run"),
		),
		mcp.WithBoolean("ai_optimization",
			mcp.Description("Let the LLM suggest selectors when heuristics find nothing"),
		),
	)
}

// createGetRunTool returns the get_run tool definition
func createGetRunTool() mcp.Tool {
	return mcp.NewTool("get_run",
		mcp.WithDescription("Get the status, counters and per-case results of a run"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID (format: run_{uuid})"),
		),
	)
}

// createListRunsTool returns the list_runs tool definition
func createListRunsTool() mcp.Tool {
	return mcp.NewTool("list_runs",
		mcp.WithDescription("List recent runs, newest first"),
		mcp.WithString("project_ref",
			mcp.Description("Filter by project"),
		),
		mcp.WithString("status",
			mcp.Description("Filter: pending, running, completed, failed, cancelled"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 20)"),
		),
	)
}

// createCancelRunTool returns the cancel_run tool definition
func createCancelRunTool() mcp.Tool {
	return mcp.NewTool("cancel_run",
		mcp.WithDescription("Cancel a pending or running run"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID"),
		),
	)
}
