package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
	"github.com/ternarybob/labnex/internal/services/browser/browsertest"
	"github.com/ternarybob/labnex/internal/services/executor"
	"github.com/ternarybob/labnex/internal/services/runner"
)

// memoryCases is an in-memory TestCaseStorage
type memoryCases struct {
	interfaces.TestCaseStorage
	cases map[string]*models.TestCase
}

func (m *memoryCases) LoadTestCases(ctx context.Context, ids []string) ([]*models.TestCase, error) {
	out := make([]*models.TestCase, 0, len(ids))
	for _, id := range ids {
		tc, ok := m.cases[id]
		if !ok {
			return nil, fmt.Errorf("test case %s: %w", id, interfaces.ErrNotFound)
		}
		out = append(out, tc)
	}
	return out, nil
}

// memoryRuns keeps the latest snapshot plus every save for invariant checks
type memoryRuns struct {
	interfaces.RunStorage
	mu    sync.Mutex
	runs  map[string]*models.Run
	saves []*models.Run
}

func newMemoryRuns() *memoryRuns {
	return &memoryRuns{runs: make(map[string]*models.Run)}
}

func (m *memoryRuns) SaveRun(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run.Clone()
	m.saves = append(m.saves, run.Clone())
	return nil
}

func (m *memoryRuns) GetRun(ctx context.Context, id string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return run.Clone(), nil
}

func (m *memoryRuns) ListRuns(ctx context.Context, opts *interfaces.ListOptions) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Run
	for _, run := range m.runs {
		if opts != nil && opts.Status != "" && string(run.Status) != opts.Status {
			continue
		}
		out = append(out, run.Clone())
	}
	return out, nil
}

func (m *memoryRuns) Saves() []*models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Run(nil), m.saves...)
}

// recorder is a RunEventPublisher that keeps every event
type recorder struct {
	mu     sync.Mutex
	events []models.RunEvent
	closed []string
}

func (r *recorder) Publish(event models.RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) CloseRun(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, runID)
}

func (r *recorder) Events() []models.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.RunEvent(nil), r.events...)
}

func (r *recorder) Types() []models.RunEventType {
	var out []models.RunEventType
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	provider *browsertest.Provider
	runs     *memoryRuns
	events   *recorder
	cases    map[string]*models.TestCase
}

func newHarness(t *testing.T, newSession func() *browsertest.Session) *harness {
	t.Helper()

	cases := map[string]*models.TestCase{}
	provider := browsertest.NewProvider(newSession)
	exec := executor.NewExecutor(executor.Options{
		InteractionWait: 10 * time.Millisecond,
		AssertionWait:   10 * time.Millisecond,
	}, nil, arbor.NewLogger())
	caseRunner := runner.NewCaseRunner(provider, exec, nil, "", arbor.NewLogger())

	h := &harness{
		provider: provider,
		runs:     newMemoryRuns(),
		events:   &recorder{},
		cases:    cases,
	}
	h.orch = NewOrchestrator(&memoryCases{cases: cases}, h.runs, caseRunner, h.events,
		common.RunnerConfig{DefaultConcurrency: 1, MaxConcurrency: 4}, arbor.NewLogger())
	t.Cleanup(h.orch.Shutdown)
	return h
}

func (h *harness) addCases(n int, steps ...string) []string {
	if len(steps) == 0 {
		steps = []string{"navigate to example.com"}
	}
	ids := make([]string, n)
	for i := range ids {
		id := fmt.Sprintf("tc_%d", len(h.cases)+1)
		h.cases[id] = &models.TestCase{ID: id, ProjectRef: "proj", Title: id, Steps: steps}
		ids[i] = id
	}
	return ids
}

func (h *harness) waitTerminal(t *testing.T, runID string) *models.Run {
	t.Helper()
	var run *models.Run
	require.Eventually(t, func() bool {
		r, err := h.orch.GetRun(context.Background(), runID)
		if err != nil || !r.IsTerminal() {
			return false
		}
		if _, active := h.orch.lookup(runID); active {
			return false
		}
		run = r
		return true
	}, 5*time.Second, 5*time.Millisecond)
	return run
}

func delayedSession(d time.Duration) func() *browsertest.Session {
	return func() *browsertest.Session {
		s := browsertest.NewSession()
		s.StepDelay = d
		return s
	}
}

func TestStartRun_CompletesAndKeepsAggregateInvariant(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addCases(4)
	run := models.NewRun("run_ok", "proj", ids, models.RunConfig{Concurrency: 2})

	require.NoError(t, h.orch.StartRun(context.Background(), run))
	final := h.waitTerminal(t, "run_ok")

	assert.Equal(t, models.RunStatusCompleted, final.Status)
	assert.Equal(t, 4, final.Results.Passed)
	assert.Equal(t, 0, final.Results.Pending)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)
	for _, id := range ids {
		entry := final.CaseResults[id]
		assert.False(t, entry.Pending)
		require.NotNil(t, entry.Result)
		assert.Equal(t, models.CaseStatusPass, entry.Result.Status)
	}

	lastCompleted := 0
	for _, snap := range h.runs.Saves() {
		r := snap.Results
		assert.Equal(t, r.Total, r.Passed+r.Failed+r.Pending)
		assert.GreaterOrEqual(t, r.Completed(), lastCompleted)
		lastCompleted = r.Completed()
	}

	types := h.events.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, models.RunEventStarted, types[0])
	assert.Equal(t, models.RunEventCompleted, types[len(types)-1])

	var progress, completed int
	for _, e := range h.events.Events() {
		switch e.Type {
		case models.RunEventProgress:
			progress++
			assert.Equal(t, 4, e.Total)
		case models.RunEventTestCompleted:
			completed++
		}
	}
	assert.Equal(t, 4, progress)
	assert.Equal(t, 4, completed)
	assert.Equal(t, h.provider.Acquired(), h.provider.Released())
}

func TestStartRun_FailingCaseDoesNotFailRun(t *testing.T) {
	h := newHarness(t, nil)
	good := h.addCases(1)
	bad := h.addCases(1, "navigate to example.com", "click #missing")
	run := models.NewRun("run_mixed", "proj", append(good, bad...), models.RunConfig{Concurrency: 1})

	require.NoError(t, h.orch.StartRun(context.Background(), run))
	final := h.waitTerminal(t, "run_mixed")

	assert.Equal(t, models.RunStatusCompleted, final.Status)
	assert.Equal(t, 1, final.Results.Passed)
	assert.Equal(t, 1, final.Results.Failed)
	assert.Equal(t, models.ErrorKindTargetNotFound, final.CaseResults[bad[0]].Result.ErrorKind)
	assert.NotContains(t, h.events.Types(), models.RunEventError)
}

func TestStartRun_ParallelDispatch(t *testing.T) {
	h := newHarness(t, delayedSession(100*time.Millisecond))
	ids := h.addCases(3)
	run := models.NewRun("run_par", "proj", ids, models.RunConfig{Concurrency: 2})

	require.NoError(t, h.orch.StartRun(context.Background(), run))
	final := h.waitTerminal(t, "run_par")

	assert.Equal(t, models.RunStatusCompleted, final.Status)
	assert.Equal(t, 3, final.Results.Passed)
	// the second case was running before the first one finished
	assert.GreaterOrEqual(t, h.provider.Peak(), int64(2))
	assert.LessOrEqual(t, h.provider.Peak(), int64(2))
}

func TestCancelRun_PendingBeforeDispatch(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.orch.beforeDispatch = func(string) { <-gate }

	ids := h.addCases(3)
	run := models.NewRun("run_pending", "proj", ids, models.RunConfig{Concurrency: 1})
	require.NoError(t, h.orch.StartRun(context.Background(), run))

	snap, err := h.orch.GetRun(context.Background(), "run_pending")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, snap.Status)

	assert.True(t, h.orch.CancelRun("run_pending"))
	assert.False(t, h.orch.CancelRun("run_pending"))
	close(gate)

	final := h.waitTerminal(t, "run_pending")
	assert.Equal(t, models.RunStatusCancelled, final.Status)
	assert.Equal(t, final.Results.Total, final.Results.Pending)
	assert.Nil(t, final.StartedAt)
	assert.Equal(t, int64(0), h.provider.Acquired())
	assert.Equal(t, []models.RunEventType{models.RunEventCancelled}, h.events.Types())
}

func TestCancelRun_RunningDiscardsInFlightResults(t *testing.T) {
	h := newHarness(t, delayedSession(5*time.Second))
	ids := h.addCases(3)
	run := models.NewRun("run_cancel", "proj", ids, models.RunConfig{Concurrency: 2})
	require.NoError(t, h.orch.StartRun(context.Background(), run))

	require.Eventually(t, func() bool { return h.provider.Acquired() == 2 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, h.orch.CancelRun("run_cancel"))
	assert.False(t, h.orch.CancelRun("run_cancel"))

	final := h.waitTerminal(t, "run_cancel")
	assert.Equal(t, models.RunStatusCancelled, final.Status)
	assert.Equal(t, 3, final.Results.Pending)
	assert.Equal(t, 0, final.Results.Completed())
	assert.Equal(t, h.provider.Acquired(), h.provider.Released())

	types := h.events.Types()
	assert.Equal(t, models.RunEventCancelled, types[len(types)-1])
	var cancelled int
	for _, ty := range types {
		if ty.IsTerminal() {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestCancelRun_UnknownAndFinished(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.orch.CancelRun("run_missing"))

	ids := h.addCases(1)
	require.NoError(t, h.orch.StartRun(context.Background(), models.NewRun("run_done", "proj", ids, models.RunConfig{Concurrency: 1})))
	final := h.waitTerminal(t, "run_done")

	assert.False(t, h.orch.CancelRun("run_done"))
	after, err := h.orch.GetRun(context.Background(), "run_done")
	require.NoError(t, err)
	assert.Equal(t, final.Status, after.Status)
	assert.Equal(t, final.Results, after.Results)
}

func TestStartRun_TimeoutCancels(t *testing.T) {
	h := newHarness(t, delayedSession(5*time.Second))
	ids := h.addCases(1)
	run := models.NewRun("run_timeout", "proj", ids, models.RunConfig{Concurrency: 1, TimeoutMs: 50})
	require.NoError(t, h.orch.StartRun(context.Background(), run))

	final := h.waitTerminal(t, "run_timeout")
	assert.Equal(t, models.RunStatusCancelled, final.Status)
	assert.Contains(t, final.Error, "timed out")
	assert.Equal(t, 1, final.Results.Pending)
}

func TestStartRun_BrowserUnavailableFailsRun(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.AcquireErr = errors.New("chrome not found")
	ids := h.addCases(2)
	run := models.NewRun("run_nobrowser", "proj", ids, models.RunConfig{Concurrency: 2})
	require.NoError(t, h.orch.StartRun(context.Background(), run))

	final := h.waitTerminal(t, "run_nobrowser")
	assert.Equal(t, models.RunStatusFailed, final.Status)
	assert.Contains(t, final.Error, "chrome not found")
	assert.Equal(t, 2, final.Results.Pending)

	events := h.events.Events()
	last := events[len(events)-1]
	assert.Equal(t, models.RunEventError, last.Type)
	assert.Contains(t, last.Message, "browser")
}

func TestStartRun_MissingCaseFailsRun(t *testing.T) {
	h := newHarness(t, nil)
	run := models.NewRun("run_missing_case", "proj", []string{"tc_nope"}, models.RunConfig{Concurrency: 1})
	require.NoError(t, h.orch.StartRun(context.Background(), run))

	final := h.waitTerminal(t, "run_missing_case")
	assert.Equal(t, models.RunStatusFailed, final.Status)
	assert.Contains(t, final.Error, "tc_nope")
}

func TestStartRun_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addCases(1)

	err := h.orch.StartRun(context.Background(), models.NewRun("run_zero", "proj", ids, models.RunConfig{Concurrency: 0}))
	assert.ErrorIs(t, err, ErrInvalidRunConfig)

	err = h.orch.StartRun(context.Background(), models.NewRun("run_empty", "proj", nil, models.RunConfig{Concurrency: 1}))
	assert.ErrorIs(t, err, ErrNoTestCases)

	running := models.NewRun("run_running", "proj", ids, models.RunConfig{Concurrency: 1})
	running.MarkRunning(time.Now())
	err = h.orch.StartRun(context.Background(), running)
	assert.ErrorIs(t, err, ErrRunNotPending)
}

func TestStartRun_ClampsConcurrency(t *testing.T) {
	h := newHarness(t, delayedSession(50*time.Millisecond))
	ids := h.addCases(8)
	run := models.NewRun("run_clamp", "proj", ids, models.RunConfig{Concurrency: 50})
	require.NoError(t, h.orch.StartRun(context.Background(), run))

	final := h.waitTerminal(t, "run_clamp")
	assert.Equal(t, 4, final.Config.Concurrency)
	assert.LessOrEqual(t, h.provider.Peak(), int64(4))
	assert.Equal(t, 8, final.Results.Passed)
}

func TestStartRun_DuplicateActiveRun(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.orch.beforeDispatch = func(string) { <-gate }
	defer close(gate)

	ids := h.addCases(1)
	require.NoError(t, h.orch.StartRun(context.Background(), models.NewRun("run_dup", "proj", ids, models.RunConfig{Concurrency: 1})))
	err := h.orch.StartRun(context.Background(), models.NewRun("run_dup", "proj", ids, models.RunConfig{Concurrency: 1}))
	assert.ErrorIs(t, err, ErrRunExists)
	assert.Len(t, h.orch.ActiveRuns(), 1)
}

func TestDefaultRunConfig(t *testing.T) {
	orch := NewOrchestrator(nil, nil, nil, nil, common.RunnerConfig{DefaultTimeout: time.Minute}, arbor.NewLogger())
	cfg := orch.DefaultRunConfig()
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, int64(60000), cfg.TimeoutMs)
}

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	running := models.NewRun("run_running", "proj", []string{"tc_1", "tc_2"}, models.RunConfig{Concurrency: 1})
	running.MarkRunning(time.Now().Add(-time.Minute))
	running.RecordResult("tc_1", models.CaseResult{Status: models.CaseStatusPass})
	pending := models.NewRun("run_pending", "proj", []string{"tc_1"}, models.RunConfig{Concurrency: 1})
	done := models.NewRun("run_done", "proj", []string{"tc_1"}, models.RunConfig{Concurrency: 1})
	done.MarkRunning(time.Now())
	done.RecordResult("tc_1", models.CaseResult{Status: models.CaseStatusPass})
	done.Finish(models.RunStatusCompleted, time.Now(), "")
	for _, run := range []*models.Run{running, pending, done} {
		require.NoError(t, h.runs.SaveRun(ctx, run))
	}

	recovered, err := h.orch.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	for _, id := range []string{"run_running", "run_pending"} {
		run, err := h.orch.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusFailed, run.Status, id)
		assert.Equal(t, interruptedMessage, run.Error)
		assert.NotNil(t, run.CompletedAt)
		assert.Equal(t, run.Results.Total, run.Results.Passed+run.Results.Failed+run.Results.Pending)
		assert.False(t, h.orch.CancelRun(id))
	}

	run, err := h.orch.GetRun(ctx, "run_done")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	recovered, err = h.orch.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}
