// Package deadline bounds a single pending operation by a wall-clock duration.
//
// The guard only decides which signal reaches the caller first. When the
// timer wins, the operation's context is cancelled but the guard does not wait
// for the operation to observe it.
package deadline

import (
	"context"
	"time"
)

// ErrTimeout is returned when the timer fires before the operation completes.
// It matches context.DeadlineExceeded under errors.Is.
var ErrTimeout error = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string   { return "deadline: timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (timeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

type result[T any] struct {
	val T
	err error
}

// Run starts op and races it against a timer of duration d.
//
// op receives a context that is cancelled when the timer fires, when ctx is
// done, or when Run returns. A non-positive d times out immediately and op is
// never started.
func Run[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	return RunCleanup(ctx, d, op, nil)
}

// RunCleanup is Run with a hook for results nobody receives.
//
// When the timer or ctx wins, onLate is called with the value op eventually
// returns, whatever its error. It runs on a separate goroutine after Run has
// returned, so it must be safe to call concurrently with the caller.
func RunCleanup[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error), onLate func(T)) (T, error) {
	var zero T
	if d <= 0 {
		return zero, ErrTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so a late result never blocks the operation's goroutine.
	done := make(chan result[T], 1)
	go func() {
		v, err := op(opCtx)
		done <- result[T]{val: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.val, r.err
	case <-timer.C:
		drainLate(done, onLate)
		return zero, ErrTimeout
	case <-ctx.Done():
		drainLate(done, onLate)
		return zero, ctx.Err()
	}
}

func drainLate[T any](done <-chan result[T], onLate func(T)) {
	if onLate == nil {
		return
	}
	go func() {
		r := <-done
		onLate(r.val)
	}()
}

// Do is Run for operations that only report an error.
func Do(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	_, err := Run(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Await races an already-started operation that delivers on ch.
//
// Await has no handle on the operation, so nothing is cancelled on timeout.
// A closed ch yields the zero value and a nil error.
func Await[T any](ctx context.Context, d time.Duration, ch <-chan T) (T, error) {
	var zero T
	if d <= 0 {
		return zero, ErrTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case v, ok := <-ch:
		if !ok {
			return zero, nil
		}
		return v, nil
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
