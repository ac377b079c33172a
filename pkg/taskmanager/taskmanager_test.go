package taskmanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrySubmit_RejectsSecondTaskForSameKey(t *testing.T) {
	tm := New(Config{})
	key := uuid.New()
	release := make(chan struct{})

	require.NoError(t, tm.TrySubmit(context.Background(), key, func(ctx context.Context) error {
		<-release
		return nil
	}))

	err := tm.TrySubmit(context.Background(), key, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrTaskAlreadyRunning)
	assert.True(t, tm.IsRunning(key))

	close(release)
	require.NoError(t, tm.Wait(context.Background(), key))
	assert.False(t, tm.IsRunning(key))

	// после завершения ключ снова свободен
	require.NoError(t, tm.TrySubmit(context.Background(), key, func(ctx context.Context) error { return nil }))
	require.NoError(t, tm.Shutdown(context.Background()))
}

func TestTrySubmit_ConcurrentAttemptsOnlyOneWins(t *testing.T) {
	tm := New(Config{})
	key := uuid.New()
	release := make(chan struct{})
	var started atomic.Int32
	var accepted atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tm.TrySubmit(context.Background(), key, func(ctx context.Context) error {
				started.Add(1)
				<-release
				return nil
			})
			if err == nil {
				accepted.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrTaskAlreadyRunning)
			}
		}()
	}
	wg.Wait()
	close(release)
	require.NoError(t, tm.Shutdown(context.Background()))

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(1), started.Load())
}

func TestTrySubmit_TimeoutCancelsContext(t *testing.T) {
	tm := New(Config{Timeout: 20 * time.Millisecond})
	key := uuid.New()
	done := make(chan error, 1)

	require.NoError(t, tm.TrySubmit(context.Background(), key, func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled by timeout")
	}
}

func TestOnFinish_ReportsStatus(t *testing.T) {
	tm := New(Config{})
	results := make(chan TaskStatus, 2)
	tm.OnFinish(func(_ uuid.UUID, status TaskStatus, _ error) { results <- status })

	require.NoError(t, tm.TrySubmit(context.Background(), uuid.New(), func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, tm.TrySubmit(context.Background(), uuid.New(), func(ctx context.Context) error {
		panic("bad")
	}))

	got := []TaskStatus{<-results, <-results}
	assert.ElementsMatch(t, []TaskStatus{TaskStatusFailed, TaskStatusFailed}, got)
}

func TestShutdown_RejectsNewTasks(t *testing.T) {
	tm := New(Config{})
	require.NoError(t, tm.Shutdown(context.Background()))
	assert.ErrorIs(t, tm.TrySubmit(context.Background(), uuid.New(), func(ctx context.Context) error { return nil }), ErrManagerClosed)
}

func TestMaxTasks(t *testing.T) {
	tm := New(Config{MaxTasks: 1})
	release := make(chan struct{})
	require.NoError(t, tm.TrySubmit(context.Background(), uuid.New(), func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.ErrorIs(t, tm.TrySubmit(context.Background(), uuid.New(), func(ctx context.Context) error { return nil }), ErrTooManyTasks)
	close(release)
	require.NoError(t, tm.Shutdown(context.Background()))
}
