package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds in-flight tasks per worker when none is configured.
const DefaultConcurrency = 8

// limiter runs at most n functions at once and can wait for all of them.
type limiter struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func newLimiter(n int) *limiter {
	if n < 1 {
		n = DefaultConcurrency
	}
	return &limiter{sem: semaphore.NewWeighted(int64(n))}
}

// Go blocks until a slot is free, then runs fn in its own goroutine.
// It returns the context error if ctx ends first; fn is not run in that case.
func (l *limiter) Go(ctx context.Context, fn func()) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.sem.Release(1)
		fn()
	}()
	return nil
}

func (l *limiter) Wait() {
	l.wg.Wait()
}
