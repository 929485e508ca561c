package events

import (
	"errors"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
)

// ErrRunNotFound is returned when subscribing to a run the source does not know
var ErrRunNotFound = errors.New("run not found")

// RunSource supplies the current aggregate for subscribers joining mid-run
type RunSource interface {
	Snapshot(runID string) (*models.Run, bool)
}

// Subscription is one subscriber's view of a run's event stream.
// Events is closed after the terminal event or when the subscription is closed.
type Subscription struct {
	RunID  string
	Events <-chan models.RunEvent

	id      uint64
	ch      chan models.RunEvent
	b       *Broadcaster
	dropped int
	closed  bool
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
}

// runRegistry holds the subscribers of a single run
type runRegistry struct {
	subs map[uint64]*Subscription
}

// Broadcaster fans run events out to per-subscriber buffered channels.
// Publish never blocks: a slow subscriber loses non-terminal events once its
// buffer is full, and always receives the terminal event.
type Broadcaster struct {
	mu     sync.Mutex
	runs   map[string]*runRegistry
	buffer int
	nextID uint64
	source RunSource
	logger arbor.ILogger
}

var _ interfaces.RunEventPublisher = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer
func NewBroadcaster(buffer int, logger arbor.ILogger) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		runs:   make(map[string]*runRegistry),
		buffer: buffer,
		logger: logger,
	}
}

// SetRunSource wires the aggregate source used for mid-run snapshots
func (b *Broadcaster) SetRunSource(source RunSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.source = source
}

// Subscribe opens a stream for runID. A subscriber joining a running run first
// receives a synthetic progress event; joining a finished run yields its terminal
// event and a closed stream.
func (b *Broadcaster) Subscribe(runID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		RunID: runID,
		id:    b.nextID,
		ch:    make(chan models.RunEvent, b.buffer),
		b:     b,
	}
	sub.Events = sub.ch

	// snapshot and registration happen under the same lock as Publish, so the
	// synthetic event is never newer than the live events that follow it
	if b.source != nil {
		run, ok := b.source.Snapshot(runID)
		if !ok {
			return nil, ErrRunNotFound
		}
		switch {
		case run.Status == models.RunStatusCancelled:
			sub.ch <- models.NewTerminalEvent(models.RunEventCancelled, run)
			b.closeSub(sub)
			return sub, nil
		case run.Status == models.RunStatusFailed:
			sub.ch <- models.NewErrorEvent(runID, run.Error)
			b.closeSub(sub)
			return sub, nil
		case run.IsTerminal():
			sub.ch <- models.NewTerminalEvent(models.RunEventCompleted, run)
			b.closeSub(sub)
			return sub, nil
		case run.Status == models.RunStatusRunning:
			sub.ch <- models.NewProgressEvent(run)
		}
	}

	reg, ok := b.runs[runID]
	if !ok {
		reg = &runRegistry{subs: make(map[uint64]*Subscription)}
		b.runs[runID] = reg
	}
	reg.subs[sub.id] = sub

	b.logger.Debug().
		Str("run_id", runID).
		Int("subscriber_count", len(reg.subs)).
		Msg("Run subscriber added")

	return sub, nil
}

// Publish delivers the event to every subscriber of its run without blocking.
// A terminal event closes every stream of the run and tears down its registry.
func (b *Broadcaster) Publish(event models.RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.runs[event.RunID]
	if !ok {
		return
	}

	terminal := event.Type.IsTerminal()
	for _, sub := range reg.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		if !terminal {
			sub.dropped++
			b.logger.Debug().
				Str("run_id", event.RunID).
				Str("event_type", string(event.Type)).
				Int("dropped", sub.dropped).
				Msg("Subscriber buffer full, event dropped")
			continue
		}

		// make room for the terminal event by discarding the oldest queued one
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- event:
		default:
		}
	}

	if terminal {
		b.teardownLocked(event.RunID)
	}
}

// CloseRun closes all streams of a run and removes its registry
func (b *Broadcaster) CloseRun(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked(runID)
}

// SubscriberCount returns the number of open subscriptions for a run
func (b *Broadcaster) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reg, ok := b.runs[runID]; ok {
		return len(reg.subs)
	}
	return 0
}

// RunCount returns the number of runs with a live registry
func (b *Broadcaster) RunCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runs)
}

// Close tears down every registry
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for runID := range b.runs {
		b.teardownLocked(runID)
	}
}

func (b *Broadcaster) teardownLocked(runID string) {
	reg, ok := b.runs[runID]
	if !ok {
		return
	}
	for _, sub := range reg.subs {
		b.closeSub(sub)
	}
	delete(b.runs, runID)

	b.logger.Debug().
		Str("run_id", runID).
		Msg("Run subscriber registry torn down")
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reg, ok := b.runs[sub.RunID]; ok {
		delete(reg.subs, sub.id)
		if len(reg.subs) == 0 {
			delete(b.runs, sub.RunID)
		}
	}
	b.closeSub(sub)
}

// closeSub closes the subscriber channel once (mutex held)
func (b *Broadcaster) closeSub(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}
