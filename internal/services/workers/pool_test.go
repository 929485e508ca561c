package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
)

func TestPool_RunsAllJobs(t *testing.T) {
	pool := NewPool(context.Background(), 3, arbor.NewLogger())
	pool.Start()

	var count int64
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		}))
	}
	pool.Wait()

	assert.Equal(t, int64(20), atomic.LoadInt64(&count))
	assert.Empty(t, pool.Errors())
}

func TestPool_RunsInParallelUpToLimit(t *testing.T) {
	pool := NewPool(context.Background(), 2, arbor.NewLogger())
	pool.Start()

	release := make(chan struct{})
	var started int64
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			atomic.AddInt64(&started, 1)
			<-release
			return nil
		}))
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt64(&started) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(2), atomic.LoadInt64(&started))

	close(release)
	pool.Wait()
	assert.Equal(t, 2, pool.Peak())
	assert.Equal(t, int64(4), atomic.LoadInt64(&started))
}

func TestPool_CollectsErrors(t *testing.T) {
	pool := NewPool(context.Background(), 1, arbor.NewLogger())
	pool.Start()

	boom := errors.New("boom")
	require.NoError(t, pool.Submit(func(ctx context.Context) error { return boom }))
	require.NoError(t, pool.Submit(func(ctx context.Context) error { return nil }))
	pool.Wait()

	errs := pool.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestPool_RecoversPanickingJob(t *testing.T) {
	common.CrashLogDir = t.TempDir()
	pool := NewPool(context.Background(), 1, arbor.NewLogger())
	pool.Start()

	var ran int64
	require.NoError(t, pool.Submit(func(ctx context.Context) error { panic("bad job") }))
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	}))
	pool.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&ran), "worker must keep running after a panic")
	errs := pool.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrJobPanicked)
	assert.Contains(t, errs[0].Error(), "bad job")
}

func TestPool_CancelledParentSkipsQueuedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1, arbor.NewLogger())
	pool.Start()

	gate := make(chan struct{})
	var ran int64
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		<-gate
		return nil
	}))
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	}))

	assert.Eventually(t, func() bool { return atomic.LoadInt64(&ran) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(gate)
	pool.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
	assert.ErrorIs(t, pool.Submit(func(ctx context.Context) error { return nil }), ErrPoolStopped)
}
