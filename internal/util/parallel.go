// Package util provides small concurrency helpers shared by the reliability
// and batch-orchestration layers: bounded-free parallel iteration, a
// context-aware sleep, and two standalone retry shapes (fixed delay and
// doubling backoff) that no other package in this module calls.
package util

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// parallelThreshold is the batch size below which ParallelFor just runs
// serially; goroutine setup cost outweighs the gain for tiny batches.
const parallelThreshold = 8

// ParallelFor calls fn(i) for every i in [0, n). For small n it runs
// serially; larger n runs every call on its own goroutine.
func ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	if n < parallelThreshold {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer func() { done <- struct{}{} }()
			fn(i)
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
}

// ParallelForWithContext is ParallelFor's cancellation-aware, error-returning
// counterpart: the first error from any call cancels the shared context and
// is returned once every call has exited.
func ParallelForWithContext(ctx context.Context, n int, fn func(context.Context, int) error) error {
	if n <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// ParallelMap applies fn to every element of input concurrently, preserving
// order. Returns nil for an empty input.
func ParallelMap[T, R any](input []T, fn func(T) R) []R {
	if len(input) == 0 {
		return nil
	}
	result := make([]R, len(input))
	ParallelFor(len(input), func(i int) {
		result[i] = fn(input[i])
	})
	return result
}

// SleepWithContext sleeps for d, returning true if the full duration
// elapsed or false if ctx was canceled first.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Retry calls fn up to maxRetries+1 times with a fixed delay between
// attempts, stopping early on success or context cancellation.
func Retry(ctx context.Context, maxRetries int, delay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if !SleepWithContext(ctx, delay) {
			return ctx.Err()
		}
	}
	return lastErr
}

// RetryWithBackoff calls fn up to maxRetries+1 times, doubling the delay
// after each failed attempt up to maxDelay.
func RetryWithBackoff(ctx context.Context, maxRetries int, initialDelay, maxDelay time.Duration, fn func() error) error {
	delay := initialDelay
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if !SleepWithContext(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return lastErr
}
