package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/models"
)

type staticSource struct {
	mu   sync.Mutex
	runs map[string]*models.Run
}

func (s *staticSource) Snapshot(runID string) (*models.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return run.Clone(), true
}

func newRunningRun(id string, total int) *models.Run {
	ids := make([]string, total)
	for i := range ids {
		ids[i] = id + "_tc" + string(rune('a'+i))
	}
	run := models.NewRun(id, "proj", ids, models.RunConfig{Concurrency: 1})
	run.MarkRunning(time.Now())
	return run
}

func drain(t *testing.T, sub *Subscription) []models.RunEvent {
	t.Helper()
	var out []models.RunEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("subscription channel was not closed")
			return out
		}
	}
}

func TestBroadcaster_DeliversInOrderAndClosesOnTerminal(t *testing.T) {
	b := NewBroadcaster(16, arbor.NewLogger())
	run := models.NewRun("run_1", "proj", []string{"a", "b"}, models.RunConfig{Concurrency: 1})

	sub, err := b.Subscribe("run_1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("run_1"))

	run.MarkRunning(time.Now())
	b.Publish(models.NewStartedEvent(run))
	run.RecordResult("a", models.CaseResult{TestCaseID: "a", Status: models.CaseStatusPass})
	b.Publish(models.NewTestCompletedEvent(run.ID, "a", *run.CaseResults["a"].Result))
	b.Publish(models.NewProgressEvent(run))
	run.RecordResult("b", models.CaseResult{TestCaseID: "b", Status: models.CaseStatusFail})
	run.Finish(models.RunStatusCompleted, time.Now(), "")
	b.Publish(models.NewTerminalEvent(models.RunEventCompleted, run.Clone()))

	events := drain(t, sub)
	require.Len(t, events, 4)
	assert.Equal(t, models.RunEventStarted, events[0].Type)
	assert.Equal(t, models.RunEventTestCompleted, events[1].Type)
	assert.Equal(t, models.RunEventProgress, events[2].Type)
	assert.Equal(t, 1, events[2].Completed)
	assert.Equal(t, models.RunEventCompleted, events[3].Type)

	assert.Equal(t, 0, b.SubscriberCount("run_1"))
	assert.Equal(t, 0, b.RunCount())
}

func TestBroadcaster_MidRunSubscriberGetsSnapshotFirst(t *testing.T) {
	run := newRunningRun("run_mid", 3)
	run.RecordResult(run.TestCaseIDs[0], models.CaseResult{Status: models.CaseStatusPass})

	b := NewBroadcaster(8, arbor.NewLogger())
	b.SetRunSource(&staticSource{runs: map[string]*models.Run{"run_mid": run}})

	sub, err := b.Subscribe("run_mid")
	require.NoError(t, err)

	first := <-sub.Events
	assert.Equal(t, models.RunEventProgress, first.Type)
	assert.Equal(t, 1, first.Completed)
	assert.Equal(t, 3, first.Total)

	sub.Close()
	_, ok := <-sub.Events
	assert.False(t, ok)
}

func TestBroadcaster_SubscribeToFinishedRun(t *testing.T) {
	done := newRunningRun("run_done", 1)
	done.RecordResult(done.TestCaseIDs[0], models.CaseResult{Status: models.CaseStatusPass})
	done.Finish(models.RunStatusCompleted, time.Now(), "")

	failed := newRunningRun("run_failed", 1)
	failed.Finish(models.RunStatusFailed, time.Now(), "browser unavailable")

	b := NewBroadcaster(8, arbor.NewLogger())
	b.SetRunSource(&staticSource{runs: map[string]*models.Run{
		"run_done":   done,
		"run_failed": failed,
	}})

	sub, err := b.Subscribe("run_done")
	require.NoError(t, err)
	events := drain(t, sub)
	require.Len(t, events, 1)
	assert.Equal(t, models.RunEventCompleted, events[0].Type)
	require.NotNil(t, events[0].Run)
	assert.Equal(t, 1, events[0].Run.Results.Passed)

	sub, err = b.Subscribe("run_failed")
	require.NoError(t, err)
	events = drain(t, sub)
	require.Len(t, events, 1)
	assert.Equal(t, models.RunEventError, events[0].Type)
	assert.Equal(t, "browser unavailable", events[0].Message)

	assert.Equal(t, 0, b.RunCount())
}

func TestBroadcaster_UnknownRun(t *testing.T) {
	b := NewBroadcaster(8, arbor.NewLogger())
	b.SetRunSource(&staticSource{runs: map[string]*models.Run{}})

	sub, err := b.Subscribe("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.Nil(t, sub)
}

func TestBroadcaster_SlowSubscriberDropsProgressKeepsTerminal(t *testing.T) {
	b := NewBroadcaster(2, arbor.NewLogger())
	run := newRunningRun("run_slow", 1)

	sub, err := b.Subscribe("run_slow")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		b.Publish(models.NewProgressEvent(run))
	}
	run.Finish(models.RunStatusCancelled, time.Now(), "")
	b.Publish(models.NewTerminalEvent(models.RunEventCancelled, run.Clone()))

	events := drain(t, sub)
	require.Len(t, events, 2)
	assert.Equal(t, models.RunEventProgress, events[0].Type)
	assert.Equal(t, models.RunEventCancelled, events[1].Type)
}

func TestBroadcaster_PublishWithoutSubscribersIsNoop(t *testing.T) {
	b := NewBroadcaster(4, arbor.NewLogger())
	run := newRunningRun("run_none", 1)

	assert.NotPanics(t, func() {
		b.Publish(models.NewProgressEvent(run))
		b.Publish(models.NewTerminalEvent(models.RunEventCompleted, run))
		b.CloseRun("run_none")
	})
	assert.Equal(t, 0, b.RunCount())
}

func TestBroadcaster_CloseIsIdempotent(t *testing.T) {
	b := NewBroadcaster(4, arbor.NewLogger())

	sub, err := b.Subscribe("run_x")
	require.NoError(t, err)
	other, err := b.Subscribe("run_x")
	require.NoError(t, err)
	assert.Equal(t, 2, b.SubscriberCount("run_x"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 1, b.SubscriberCount("run_x"))

	b.Close()
	_, ok := <-other.Events
	assert.False(t, ok)
	assert.NotPanics(t, other.Close)
	assert.Equal(t, 0, b.RunCount())
}

func TestBroadcaster_ConcurrentPublishers(t *testing.T) {
	b := NewBroadcaster(4, arbor.NewLogger())
	run := newRunningRun("run_c", 1)

	subs := make([]*Subscription, 8)
	for i := range subs {
		sub, err := b.Subscribe("run_c")
		require.NoError(t, err)
		subs[i] = sub
	}

	var readers sync.WaitGroup
	for _, sub := range subs {
		readers.Add(1)
		go func(s *Subscription) {
			defer readers.Done()
			for range s.Events {
			}
		}(sub)
	}

	var publishers sync.WaitGroup
	for p := 0; p < 4; p++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for i := 0; i < 50; i++ {
				b.Publish(models.NewProgressEvent(run))
			}
		}()
	}
	publishers.Wait()

	b.Publish(models.NewTerminalEvent(models.RunEventCompleted, run.Clone()))
	readers.Wait()
	assert.Equal(t, 0, b.RunCount())
}
