package deadline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsResultWhenOperationWins(t *testing.T) {
	got, err := Run(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "value", nil
	})
	require.NoError(t, err)
	require.Equal(t, "value", got)
}

func TestRunPassesOperationErrorThrough(t *testing.T) {
	boom := errors.New("boom")
	got, err := Run(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 7, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 7, got, "value is returned unchanged alongside the error")
}

func TestRunTimesOutAndCancelsOperation(t *testing.T) {
	cancelled := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Run(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		select {
		case <-ctx.Done():
			close(cancelled)
		case <-release:
		}
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("operation context was not cancelled after timeout")
	}
}

func TestRunDoesNotWaitForStuckOperation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	_, err := Run(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-block // ignores ctx
		return 1, nil
	})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRunNonPositiveDurationNeverStarts(t *testing.T) {
	var started atomic.Bool
	for _, d := range []time.Duration{0, -time.Second} {
		_, err := Run(context.Background(), d, func(ctx context.Context) (int, error) {
			started.Store(true)
			return 1, nil
		})
		require.ErrorIs(t, err, ErrTimeout)
	}
	require.False(t, started.Load())
}

func TestRunHonoursParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, time.Second, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDo(t *testing.T) {
	require.NoError(t, Do(context.Background(), time.Second, func(context.Context) error { return nil }))

	err := Do(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestAwait(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 42
	got, err := Await(context.Background(), time.Second, ch)
	require.NoError(t, err)
	require.Equal(t, 42, got)

	_, err = Await(context.Background(), 10*time.Millisecond, make(chan int))
	require.ErrorIs(t, err, ErrTimeout)

	closed := make(chan int)
	close(closed)
	got, err = Await(context.Background(), time.Second, closed)
	require.NoError(t, err)
	require.Zero(t, got)

	_, err = Await(context.Background(), 0, ch)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRunCleanupHandsLateResultToHook(t *testing.T) {
	release := make(chan struct{})
	late := make(chan int, 1)

	_, err := RunCleanup(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		return 9, nil
	}, func(v int) { late <- v })
	require.ErrorIs(t, err, ErrTimeout)

	close(release)
	select {
	case v := <-late:
		require.Equal(t, 9, v)
	case <-time.After(time.Second):
		t.Fatal("late result never reached the hook")
	}
}

func TestRunCleanupSkipsHookWhenOperationWins(t *testing.T) {
	var calls atomic.Int32
	got, err := RunCleanup(context.Background(), time.Second, func(context.Context) (int, error) {
		return 3, nil
	}, func(int) { calls.Add(1) })
	require.NoError(t, err)
	require.Equal(t, 3, got)

	time.Sleep(10 * time.Millisecond)
	require.Zero(t, calls.Load())
}

func TestRunCleanupOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	late := make(chan int, 1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := RunCleanup(ctx, time.Second, func(opCtx context.Context) (int, error) {
		<-opCtx.Done()
		return 1, opCtx.Err()
	}, func(v int) { late <- v })
	require.ErrorIs(t, err, context.Canceled)

	select {
	case v := <-late:
		require.Equal(t, 1, v)
	case <-time.After(time.Second):
		t.Fatal("late result never reached the hook")
	}
}
