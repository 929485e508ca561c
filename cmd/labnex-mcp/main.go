package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/labnex/internal/common"
)

func main() {
	baseURL := os.Getenv("LABNEX_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8085"
	}

	// Console only at warn level; stdout carries the MCP protocol
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	client := newAPIClient(baseURL, 30*time.Second)

	mcpServer := server.NewMCPServer(
		"labnex",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createStartRunTool(), handleStartRun(client, logger))
	mcpServer.AddTool(createGetRunTool(), handleGetRun(client, logger))
	mcpServer.AddTool(createListRunsTool(), handleListRuns(client, logger))
	mcpServer.AddTool(createCancelRunTool(), handleCancelRun(client, logger))

	if err := server.ServeStdio(mcpServer); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server failed: %v\n", err)
		os.Exit(1)
	}
}
