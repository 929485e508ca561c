package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/handlers"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/services/browser"
	"github.com/ternarybob/labnex/internal/services/events"
	"github.com/ternarybob/labnex/internal/services/executor"
	"github.com/ternarybob/labnex/internal/services/llm"
	"github.com/ternarybob/labnex/internal/services/orchestrator"
	"github.com/ternarybob/labnex/internal/services/runner"
	"github.com/ternarybob/labnex/internal/services/scheduler"
	"github.com/ternarybob/labnex/internal/services/validation"
	"github.com/ternarybob/labnex/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Execution
	BrowserPool  *browser.Pool
	LLMService   interfaces.LLMService
	Executor     *executor.Executor
	CaseRunner   *runner.CaseRunner
	Orchestrator *orchestrator.Orchestrator
	Broadcaster  *events.Broadcaster

	// Scheduled runs
	SchedulerService *scheduler.Service

	// Suite dry-runs
	SuiteValidationService *validation.SuiteValidationService

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	TestCaseHandler  *handlers.TestCaseHandler
	RunHandler       *handlers.RunHandler
	RunStreamHandler *handlers.RunStreamHandler
	SuiteHandler     *handlers.SuiteHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	app.Logger.Info().Msg("Application initialization complete")
	return app, nil
}

// initDatabase opens storage and imports suite files
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Bool("in_memory", a.Config.Storage.Badger.InMemory).
		Msg("Storage layer initialized")

	if a.Config.Suites.Dir != "" {
		if err := a.StorageManager.LoadSuitesFromFiles(context.Background(), a.Config.Suites.Dir); err != nil {
			// Suites can still be created over the API
			a.Logger.Warn().Err(err).Str("dir", a.Config.Suites.Dir).Msg("Failed to load suites from files")
		}
	}

	return nil
}

// initServices wires the execution pipeline: browser pool -> executor -> case runner -> orchestrator
func (a *App) initServices() error {
	a.BrowserPool = browser.NewPool(a.Config.Browser, a.Logger)

	var suggester interfaces.SelectorSuggester
	llmService, err := llm.NewLLMService(context.Background(), a.Config.LLM, a.Logger)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		a.Logger.Warn().
			Str("provider", string(a.Config.LLM.Provider)).
			Msg("LLM provider selected without API key - AI selector assist disabled")
	case err != nil:
		return fmt.Errorf("failed to create LLM service: %w", err)
	case llmService != nil:
		a.LLMService = llmService
		suggester = llm.NewSelectorSuggester(llmService, a.Config.LLM.MaxHTMLBytes, a.Logger)
		a.Logger.Info().Str("provider", llmService.Name()).Msg("AI selector assist enabled")
	}

	a.Executor = executor.NewExecutor(executor.OptionsFromConfig(a.Config.Browser), suggester, a.Logger)
	a.CaseRunner = runner.NewCaseRunner(a.BrowserPool, a.Executor, runner.SimulationStrategy{}, a.Config.Runner.ScreenshotDir, a.Logger)

	a.Broadcaster = events.NewBroadcaster(a.Config.WebSocket.SubscriberBuffer, a.Logger)
	a.Orchestrator = orchestrator.NewOrchestrator(
		a.StorageManager.TestCaseStorage(),
		a.StorageManager.RunStorage(),
		a.CaseRunner,
		a.Broadcaster,
		a.Config.Runner,
		a.Logger,
	)
	a.Broadcaster.SetRunSource(a.Orchestrator)

	recovered, err := a.Orchestrator.RecoverInterrupted(context.Background())
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to recover interrupted runs")
	} else if recovered > 0 {
		a.Logger.Info().Int("runs", recovered).Msg("Interrupted runs marked failed")
	}

	a.SchedulerService = scheduler.NewService(a.Logger)
	registered := a.SchedulerService.RegisterRunSchedules(a.Config.Schedules, a.Orchestrator, a.StorageManager.TestCaseStorage())
	a.Logger.Debug().Int("schedules", registered).Msg("Run schedules registered")

	a.SuiteValidationService = validation.NewSuiteValidationService(a.Logger)

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Orchestrator, a.Logger)
	a.TestCaseHandler = handlers.NewTestCaseHandler(a.StorageManager.TestCaseStorage(), a.Logger)
	a.RunHandler = handlers.NewRunHandler(
		a.Orchestrator,
		a.StorageManager.RunStorage(),
		a.StorageManager.TestCaseStorage(),
		a.Config.Environment,
		a.Logger,
	)
	a.RunStreamHandler = handlers.NewRunStreamHandler(
		a.Broadcaster,
		events.NewTokenAuthorizer(a.Config.WebSocket.AuthToken),
		&a.Config.WebSocket,
		a.Logger,
	)
	a.SuiteHandler = handlers.NewSuiteHandler(a.SuiteValidationService, a.StorageManager.TestCaseStorage(), a.Logger)
}

// StartBackground starts the scheduler. Call once the HTTP server is about to serve.
func (a *App) StartBackground() error {
	if a.SchedulerService == nil {
		return nil
	}
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close shuts down services in reverse dependency order
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Cancels active runs and waits for their final state to be persisted
	if a.Orchestrator != nil {
		a.Orchestrator.Shutdown()
		a.Logger.Info().Msg("Orchestrator shutdown complete")
	}

	if a.Broadcaster != nil {
		a.Broadcaster.Close()
	}

	if a.BrowserPool != nil {
		if err := a.BrowserPool.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to shut down browser pool")
		}
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		} else {
			a.Logger.Info().Msg("LLM service closed")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
