package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/ternarybob/labnex/internal/app"
	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/models"
	"github.com/ternarybob/labnex/internal/storage/badger"
)

// runSuite executes one suite file against an in-memory store and returns the
// process exit code: 0 when every case passed, 1 on failures, 2 on setup errors.
func runSuite(config *common.Config, path string, concurrency int) int {
	config.Storage.Badger.InMemory = true
	config.Storage.Badger.ResetOnStartup = false
	config.Suites.Dir = ""
	config.Schedules = nil
	config.Logging.Output = []string{"stdout"}
	if config.Logging.Level == "info" {
		config.Logging.Level = "warn"
	}

	logger := common.InitLogger(config)

	suite, err := badger.ParseSuiteFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load suite: %v\n", err)
		return 2
	}

	application, err := app.New(config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 2
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cases, err := badger.ImportSuite(ctx, application.StorageManager.TestCaseStorage(), suite)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to import suite: %v\n", err)
		return 2
	}

	runConfig := application.Orchestrator.DefaultRunConfig()
	runConfig.Environment = config.Environment
	if suite.Concurrency > 0 {
		runConfig.Concurrency = suite.Concurrency
	}
	if concurrency > 0 {
		runConfig.Concurrency = concurrency
	}

	ids := make([]string, 0, len(cases))
	titles := make(map[string]string, len(cases))
	for _, tc := range cases {
		ids = append(ids, tc.ID)
		titles[tc.ID] = tc.Title
	}

	run := models.NewRun(common.NewRunID(), suite.ProjectRef, ids, runConfig)
	if err := application.Orchestrator.StartRun(ctx, run); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start run: %v\n", err)
		return 2
	}

	sub, err := application.Broadcaster.Subscribe(run.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to watch run: %v\n", err)
		return 2
	}
	defer sub.Close()

	name := suite.Name
	if name == "" {
		name = path
	}
	fmt.Printf("Running %s (%d cases, concurrency %d)\n", name, len(ids), runConfig.Concurrency)

	for {
		select {
		case <-ctx.Done():
			application.Orchestrator.CancelRun(run.ID)
			ctx = context.Background()
		case event, ok := <-sub.Events:
			if !ok || event.Type.IsTerminal() {
				final, err := application.Orchestrator.GetRun(context.Background(), run.ID)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to read run result: %v\n", err)
					return 2
				}
				return printSummary(final, titles)
			}
			if event.Type == models.RunEventTestCompleted && event.Result != nil {
				printCaseLine(titles[event.CaseID], event.Result)
			}
		}
	}
}

func printCaseLine(title string, result *models.CaseResult) {
	if result.Passed() {
		fmt.Printf("  PASS  %s (%dms)\n", title, result.DurationMs)
		return
	}
	fmt.Printf("  FAIL  %s (%dms)\n        %s\n", title, result.DurationMs, result.Error)
}

func printSummary(run *models.Run, titles map[string]string) int {
	fmt.Printf("\nRun %s %s in %dms: %d passed, %d failed, %d not run\n",
		run.ID, run.Status, run.Results.DurationMs, run.Results.Passed, run.Results.Failed, run.Results.Pending)
	if run.Error != "" {
		fmt.Printf("Error: %s\n", run.Error)
	}

	var failed []string
	for id, entry := range run.CaseResults {
		if entry.Result != nil && !entry.Result.Passed() {
			failed = append(failed, titles[id])
		}
	}
	sort.Strings(failed)
	for _, title := range failed {
		fmt.Printf("  failed: %s\n", title)
	}

	if run.Status != models.RunStatusCompleted || run.Results.Failed > 0 {
		return 1
	}
	return 0
}
