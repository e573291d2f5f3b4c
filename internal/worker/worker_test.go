package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func fastPool() *Pool {
	p := NewPool(zap.NewNop())
	p.backoff = time.Millisecond
	return p
}

func TestJobRetriesUntilSuccess(t *testing.T) {
	p := fastPool()
	var attempts int32
	p.Register("flaky", time.Hour, func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	p.Wait()
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestJobGivesUpAfterMaxAttempts(t *testing.T) {
	p := fastPool()
	var attempts int32
	p.Register("broken", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("permanent")
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == maxAttempts
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, maxAttempts, atomic.LoadInt32(&attempts))
	cancel()
	p.Wait()
}

func TestJobRunsOnInterval(t *testing.T) {
	p := fastPool()
	var runs int32
	p.Register("tick", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	p.Wait()
}

func TestCancelStopsJobs(t *testing.T) {
	p := fastPool()
	var runs int32
	p.Register("stoppable", 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 1
	}, time.Second, time.Millisecond)

	cancel()
	p.Wait()
	after := atomic.LoadInt32(&runs)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs))
}
