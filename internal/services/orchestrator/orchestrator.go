// Package orchestrator owns the lifecycle of runs: dispatch over a bounded worker
// pool, the single-writer aggregate, cancellation and progress events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
	"github.com/ternarybob/labnex/internal/services/runner"
	"github.com/ternarybob/labnex/internal/services/workers"
)

const (
	persistTimeout        = 10 * time.Second
	defaultMaxConcurrency = 20
	defaultConcurrency    = 1

	interruptedMessage = "interrupted by restart"
)

var (
	ErrInvalidRunConfig = errors.New("invalid run config")
	ErrNoTestCases      = errors.New("run has no test cases")
	ErrRunExists        = errors.New("run already active")
	ErrRunNotPending    = errors.New("run is not pending")
)

// CaseRunner executes one case. A non-nil error is a fault of the whole run.
type CaseRunner interface {
	Run(ctx context.Context, tc *models.TestCase, opts runner.Options) (models.CaseResult, error)
}

// activeRun is the in-memory state of a run owned by the orchestrator.
// mu guards run. emitMu serializes each state change with its publish and persist,
// so subscribers and storage observe the aggregate in order. emitMu is never
// taken while holding mu.
type activeRun struct {
	mu     sync.RWMutex
	emitMu sync.Mutex
	run    *models.Run
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	logger arbor.ILogger
}

type caseOutcome struct {
	caseID string
	result models.CaseResult
}

// Orchestrator implements interfaces.RunOrchestrator
type Orchestrator struct {
	testCases interfaces.TestCaseStorage
	runs      interfaces.RunStorage
	runner    CaseRunner
	publisher interfaces.RunEventPublisher
	config    common.RunnerConfig
	validate  *validator.Validate
	logger    arbor.ILogger

	mu     sync.RWMutex
	active map[string]*activeRun
	wg     sync.WaitGroup

	// beforeDispatch runs between StartRun returning and pending -> running
	beforeDispatch func(runID string)
}

var _ interfaces.RunOrchestrator = (*Orchestrator)(nil)

// NewOrchestrator creates an orchestrator. publisher may be nil.
func NewOrchestrator(
	testCases interfaces.TestCaseStorage,
	runs interfaces.RunStorage,
	caseRunner CaseRunner,
	publisher interfaces.RunEventPublisher,
	config common.RunnerConfig,
	logger arbor.ILogger,
) *Orchestrator {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaultMaxConcurrency
	}
	if config.DefaultConcurrency <= 0 {
		config.DefaultConcurrency = defaultConcurrency
	}
	return &Orchestrator{
		testCases: testCases,
		runs:      runs,
		runner:    caseRunner,
		publisher: publisher,
		config:    config,
		validate:  validator.New(),
		logger:    logger,
		active:    make(map[string]*activeRun),
	}
}

// DefaultRunConfig returns the run config used for fields a request omits
func (o *Orchestrator) DefaultRunConfig() models.RunConfig {
	return models.RunConfig{
		Concurrency: o.config.DefaultConcurrency,
		TimeoutMs:   o.config.DefaultTimeout.Milliseconds(),
	}
}

// StartRun validates the run, persists it as pending and dispatches it in the
// background. It returns once dispatch has been scheduled.
func (o *Orchestrator) StartRun(ctx context.Context, run *models.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidRunConfig)
	}
	if run.Status != models.RunStatusPending {
		return fmt.Errorf("%w: %s is %s", ErrRunNotPending, run.ID, run.Status)
	}
	if err := o.validate.Struct(run.Config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRunConfig, err)
	}
	if len(run.TestCaseIDs) == 0 {
		return ErrNoTestCases
	}
	if run.Config.Concurrency > o.config.MaxConcurrency {
		o.logger.Warn().
			Str("run_id", run.ID).
			Int("requested", run.Config.Concurrency).
			Int("max", o.config.MaxConcurrency).
			Msg("Run concurrency clamped")
		run.Config.Concurrency = o.config.MaxConcurrency
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{
		run:    run.Clone(),
		ctx:    runCtx,
		cancel: cancel,
		logger: o.logger.WithCorrelationId(run.ID),
	}

	// hold emitMu until the pending state is stored so an early cancel persists after it
	ar.emitMu.Lock()
	o.mu.Lock()
	if _, exists := o.active[run.ID]; exists {
		o.mu.Unlock()
		ar.emitMu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	o.active[run.ID] = ar
	o.mu.Unlock()
	metricActiveRuns.Inc()

	o.persist(ctx, ar.snapshot())
	ar.emitMu.Unlock()

	if timeout := run.Config.Timeout(); timeout > 0 {
		ar.timer = time.AfterFunc(timeout, func() {
			o.stopRun(ar, models.RunStatusCancelled, fmt.Sprintf("run timed out after %s", timeout))
		})
	}

	ar.logger.Info().
		Str("run_id", run.ID).
		Int("cases", len(run.TestCaseIDs)).
		Int("concurrency", run.Config.Concurrency).
		Msg("Run accepted")

	o.wg.Add(1)
	common.SafeGo(o.logger, "run:"+run.ID, func() {
		defer o.wg.Done()
		defer o.release(ar)
		o.execute(ar)
	})

	return nil
}

// CancelRun cancels a pending or running run. Only the first call for a run
// returns true.
func (o *Orchestrator) CancelRun(runID string) bool {
	ar, ok := o.lookup(runID)
	if !ok {
		return false
	}
	return o.stopRun(ar, models.RunStatusCancelled, "")
}

// GetRun returns a deep copy of an active run, or the stored run
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	if run, ok := o.Snapshot(runID); ok {
		return run, nil
	}
	if o.runs == nil {
		return nil, interfaces.ErrNotFound
	}
	return o.runs.GetRun(ctx, runID)
}

// Snapshot returns a copy of the run for event subscribers
func (o *Orchestrator) Snapshot(runID string) (*models.Run, bool) {
	if ar, ok := o.lookup(runID); ok {
		return ar.snapshot(), true
	}
	if o.runs == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, false
	}
	return run, true
}

// ActiveRuns returns snapshots of every run held in memory
func (o *Orchestrator) ActiveRuns() []*models.Run {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*models.Run, 0, len(o.active))
	for _, ar := range o.active {
		out = append(out, ar.snapshot())
	}
	return out
}

// RecoverInterrupted fails stored runs that a previous process left pending or
// running. Call it at startup before any run is started.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	if o.runs == nil {
		return 0, nil
	}

	recovered := 0
	for _, status := range []models.RunStatus{models.RunStatusPending, models.RunStatusRunning} {
		runs, err := o.runs.ListRuns(ctx, &interfaces.ListOptions{Status: string(status)})
		if err != nil {
			return recovered, fmt.Errorf("failed to list %s runs: %w", status, err)
		}
		for _, run := range runs {
			if _, active := o.lookup(run.ID); active {
				continue
			}
			if !run.Finish(models.RunStatusFailed, time.Now(), interruptedMessage) {
				continue
			}
			if err := o.runs.SaveRun(ctx, run); err != nil {
				return recovered, fmt.Errorf("failed to save interrupted run %s: %w", run.ID, err)
			}
			recovered++
			o.logger.Warn().
				Str("run_id", run.ID).
				Str("previous_status", string(status)).
				Int("pending", run.Results.Pending).
				Msg("Run interrupted by restart marked failed")
		}
	}
	return recovered, nil
}

// Shutdown cancels every active run and waits for their dispatch goroutines
func (o *Orchestrator) Shutdown() {
	o.mu.RLock()
	runs := make([]*activeRun, 0, len(o.active))
	for _, ar := range o.active {
		runs = append(runs, ar)
	}
	o.mu.RUnlock()

	for _, ar := range runs {
		o.stopRun(ar, models.RunStatusCancelled, "server shutting down")
	}
	o.wg.Wait()
}

func (o *Orchestrator) lookup(runID string) (*activeRun, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ar, ok := o.active[runID]
	return ar, ok
}

func (ar *activeRun) snapshot() *models.Run {
	ar.mu.RLock()
	defer ar.mu.RUnlock()
	return ar.run.Clone()
}

// execute drives one run from pending to a terminal state
func (o *Orchestrator) execute(ar *activeRun) {
	if o.beforeDispatch != nil {
		o.beforeDispatch(ar.run.ID)
	}

	ar.emitMu.Lock()
	ar.mu.Lock()
	started := ar.run.MarkRunning(time.Now())
	snap := ar.run.Clone()
	ar.mu.Unlock()
	if started {
		o.publish(models.NewStartedEvent(snap))
		o.persist(ar.ctx, snap)
	}
	ar.emitMu.Unlock()

	if !started {
		ar.logger.Debug().Str("run_id", snap.ID).Msg("Run left pending before dispatch")
		return
	}
	recordRunStarted()

	ar.logger.Info().
		Str("run_id", snap.ID).
		Int("cases", len(snap.TestCaseIDs)).
		Msg("Run started")

	workerCount := snap.Config.Concurrency
	if workerCount > len(snap.TestCaseIDs) {
		workerCount = len(snap.TestCaseIDs)
	}

	outcomes := make(chan caseOutcome)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for out := range outcomes {
			o.record(ar, out)
		}
	}()

	pool := workers.NewPool(ar.ctx, workerCount, ar.logger)
	pool.Start()

	opts := runner.Options{RunID: snap.ID, AIAssist: snap.Config.AIOptimization}
	for _, caseID := range snap.TestCaseIDs {
		caseID := caseID
		err := pool.Submit(func(ctx context.Context) error {
			return o.runCase(ctx, ar, caseID, opts, outcomes)
		})
		if err != nil {
			break
		}
	}
	pool.Wait()
	close(outcomes)
	<-writerDone

	ar.emitMu.Lock()
	ar.mu.Lock()
	var final *models.Run
	if !ar.run.IsTerminal() {
		status, msg := models.RunStatusCompleted, ""
		if !ar.run.AllRecorded() {
			status = models.RunStatusFailed
			msg = fmt.Sprintf("%d cases were not executed", ar.run.Results.Pending)
		}
		ar.run.Finish(status, time.Now(), msg)
		final = ar.run.Clone()
	}
	ar.mu.Unlock()
	if final != nil {
		o.publish(terminalEvent(final))
		o.persist(context.Background(), final)
	}
	ar.emitMu.Unlock()

	if final != nil {
		o.finished(final)
	}
}

// runCase loads and executes one case on a worker, handing the result to the writer
func (o *Orchestrator) runCase(ctx context.Context, ar *activeRun, caseID string, opts runner.Options, outcomes chan<- caseOutcome) error {
	if ctx.Err() != nil {
		return nil
	}

	cases, err := o.testCases.LoadTestCases(ctx, []string{caseID})
	if err == nil && len(cases) == 0 {
		err = interfaces.ErrNotFound
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		err = fmt.Errorf("failed to load test case %s: %w", caseID, err)
		o.stopRun(ar, models.RunStatusFailed, err.Error())
		return err
	}

	result, err := o.runner.Run(ctx, cases[0], opts)
	if err != nil {
		o.stopRun(ar, models.RunStatusFailed, err.Error())
		return err
	}

	outcomes <- caseOutcome{caseID: caseID, result: result}
	return nil
}

// record is the single writer of the aggregate
func (o *Orchestrator) record(ar *activeRun, out caseOutcome) {
	ar.emitMu.Lock()
	ar.mu.Lock()
	accepted := ar.run.RecordResult(out.caseID, out.result)
	var snap *models.Run
	if accepted {
		snap = ar.run.Clone()
	}
	ar.mu.Unlock()

	if !accepted {
		ar.emitMu.Unlock()
		ar.logger.Debug().
			Str("case_id", out.caseID).
			Msg("Case result discarded, run already terminal")
		return
	}

	o.publish(models.NewProgressEvent(snap))
	o.publish(models.NewTestCompletedEvent(snap.ID, out.caseID, out.result))
	o.persist(ar.ctx, snap)
	ar.emitMu.Unlock()

	recordCase(out.result)
	ar.logger.Info().
		Str("case_id", out.caseID).
		Str("status", string(out.result.Status)).
		Int("completed", snap.Results.Completed()).
		Int("total", snap.Results.Total).
		Msg("Case finished")
}

// stopRun moves a non-terminal run to cancelled or failed and stops its workers.
// Returns true only for the call that made the transition.
func (o *Orchestrator) stopRun(ar *activeRun, status models.RunStatus, msg string) bool {
	ar.emitMu.Lock()
	ar.mu.Lock()
	changed := ar.run.Finish(status, time.Now(), msg)
	var snap *models.Run
	if changed {
		snap = ar.run.Clone()
	}
	ar.mu.Unlock()

	if !changed {
		ar.emitMu.Unlock()
		return false
	}
	ar.cancel()
	o.publish(terminalEvent(snap))
	o.persist(context.Background(), snap)
	ar.emitMu.Unlock()

	if status == models.RunStatusFailed {
		ar.logger.Error().Str("run_id", snap.ID).Str("error", msg).Msg("Run failed")
	} else {
		ar.logger.Info().Str("run_id", snap.ID).Str("reason", msg).Msg("Run cancelled")
	}
	o.finished(snap)
	return true
}

// finished records metrics for a terminal snapshot
func (o *Orchestrator) finished(run *models.Run) {
	recordRunFinished(run.Status)

	o.logger.Info().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("passed", run.Results.Passed).
		Int("failed", run.Results.Failed).
		Int("pending", run.Results.Pending).
		Int64("duration_ms", run.Results.DurationMs).
		Msg("Run finished")
}

// release drops the run from memory once its dispatch goroutine is done
func (o *Orchestrator) release(ar *activeRun) {
	if ar.timer != nil {
		ar.timer.Stop()
	}
	ar.cancel()

	o.mu.Lock()
	delete(o.active, ar.run.ID)
	o.mu.Unlock()
	metricActiveRuns.Dec()

	if o.publisher != nil {
		o.publisher.CloseRun(ar.run.ID)
	}
}

func (o *Orchestrator) publish(event models.RunEvent) {
	if o.publisher != nil {
		o.publisher.Publish(event)
	}
}

// persist saves a snapshot; failures are logged and never change run state
func (o *Orchestrator) persist(ctx context.Context, run *models.Run) {
	if o.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := o.runs.SaveRun(ctx, run); err != nil {
		o.logger.Warn().
			Err(err).
			Str("run_id", run.ID).
			Str("status", string(run.Status)).
			Msg("Failed to persist run state")
	}
}

func terminalEvent(run *models.Run) models.RunEvent {
	switch run.Status {
	case models.RunStatusFailed:
		return models.NewErrorEvent(run.ID, run.Error)
	case models.RunStatusCancelled:
		return models.NewTerminalEvent(models.RunEventCancelled, run)
	default:
		return models.NewTerminalEvent(models.RunEventCompleted, run)
	}
}
