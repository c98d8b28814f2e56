package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunnerExecutesSubmittedTasks(t *testing.T) {
	r := NewRunner(Config{Workers: 2, BufferSize: 10, Timeout: time.Second}, zap.NewNop())
	require.NoError(t, r.Start())

	var ran atomic.Int64
	done := make(chan struct{})
	ok := r.Submit("test.task", func(ctx context.Context) error {
		ran.Add(1)
		close(done)
		return nil
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	r.Stop()
	assert.Equal(t, int64(1), ran.Load())
}

func TestRunnerFailureDoesNotStopWorkers(t *testing.T) {
	r := NewRunner(Config{Workers: 1, BufferSize: 10, Timeout: time.Second}, zap.NewNop())
	require.NoError(t, r.Start())
	defer r.Stop()

	r.Submit("failing", func(ctx context.Context) error {
		return errors.New("boom")
	})

	done := make(chan struct{})
	r.Submit("following", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after failed task")
	}
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	r := NewRunner(Config{Workers: 1, BufferSize: 10, Timeout: time.Second}, zap.NewNop())
	require.NoError(t, r.Start())
	defer r.Stop()

	r.Submit("panicking", func(ctx context.Context) error {
		panic("unexpected")
	})

	done := make(chan struct{})
	r.Submit("following", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestRunnerTimeoutCancelsContext(t *testing.T) {
	r := NewRunner(Config{Workers: 1, BufferSize: 10, Timeout: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, r.Start())
	defer r.Stop()

	expired := make(chan struct{})
	r.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		close(expired)
		return ctx.Err()
	})

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestRunnerDropsWhenQueueFull(t *testing.T) {
	// Runner not started, so nothing consumes the queue.
	r := NewRunner(Config{Workers: 1, BufferSize: 1, Timeout: time.Second}, zap.NewNop())

	ok := r.Submit("first", func(ctx context.Context) error { return nil })
	require.True(t, ok)

	ok = r.Submit("second", func(ctx context.Context) error { return nil })
	assert.False(t, ok, "full queue must drop, not block")
}

func TestRunnerStopDrainsQueue(t *testing.T) {
	r := NewRunner(Config{Workers: 1, BufferSize: 10, Timeout: time.Second}, zap.NewNop())

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		r.Submit("queued", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	require.NoError(t, r.Start())
	r.Stop()

	assert.Equal(t, int64(5), ran.Load())
}

func TestRunnerDoubleStart(t *testing.T) {
	r := NewRunner(DefaultConfig(), zap.NewNop())
	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Error(t, r.Start())
}
