// Package workers provides the bounded worker pool that fans out a run's cases.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
)

var (
	// ErrPoolStopped is returned by Submit once the pool context has ended
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrJobPanicked wraps the value of a job that panicked
	ErrJobPanicked = errors.New("job panicked")
)

// Job is one unit of work. A returned error is recorded and logged; it does
// not stop the pool.
type Job func(ctx context.Context) error

// Pool runs submitted jobs on a fixed number of workers sharing one queue
type Pool struct {
	jobs       chan Job
	maxWorkers int
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	errors     []error
	errorsMu   sync.Mutex
	closeOnce  sync.Once
	busy       int
	peak       int
	busyMu     sync.Mutex
	logger     arbor.ILogger
}

// NewPool creates a pool bound to parent. Cancelling parent stops workers from
// taking further jobs; jobs already running observe the same context.
func NewPool(parent context.Context, maxWorkers int, logger arbor.ILogger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool{
		jobs:       make(chan Job, maxWorkers*2),
		maxWorkers: maxWorkers,
		ctx:        ctx,
		cancel:     cancel,
		errors:     make([]error, 0),
		logger:     logger,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.logger.Debug().
		Int("max_workers", p.maxWorkers).
		Msg("Starting worker pool")

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues a job, blocking while the queue is full
func (p *Pool) Submit(job Job) error {
	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Wait closes the queue and blocks until every worker has exited
func (p *Pool) Wait() {
	p.closeOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
	p.cancel()
}

// Errors returns all collected job errors
func (p *Pool) Errors() []error {
	p.errorsMu.Lock()
	defer p.errorsMu.Unlock()
	return append([]error(nil), p.errors...)
}

// Peak returns the highest number of jobs that ran at the same time
func (p *Pool) Peak() int {
	p.busyMu.Lock()
	defer p.busyMu.Unlock()
	return p.peak
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		// a stopped pool never starts another job, even if one is queued
		if p.ctx.Err() != nil {
			p.logger.Debug().
				Int("worker_id", id).
				Msg("Worker stopping - context cancelled")
			return
		}

		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if p.ctx.Err() != nil {
				return
			}
			p.run(id, job)

		case <-p.ctx.Done():
			p.logger.Debug().
				Int("worker_id", id).
				Msg("Worker stopping - context cancelled")
			return
		}
	}
}

func (p *Pool) run(id int, job Job) {
	p.busyMu.Lock()
	p.busy++
	if p.busy > p.peak {
		p.peak = p.busy
	}
	p.busyMu.Unlock()

	defer func() {
		p.busyMu.Lock()
		p.busy--
		p.busyMu.Unlock()
	}()

	if err := p.call(id, job); err != nil {
		p.errorsMu.Lock()
		p.errors = append(p.errors, err)
		p.errorsMu.Unlock()

		p.logger.Warn().
			Err(err).
			Int("worker_id", id).
			Msg("Job failed")
	}
}

// call runs the job, turning a panic into an ErrJobPanicked error so the worker survives
func (p *Pool) call(id int, job Job) (err error) {
	defer common.RecoverGoroutine(p.logger, fmt.Sprintf("worker:%d", id), func(r interface{}) {
		err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
	})
	return job(p.ctx)
}
