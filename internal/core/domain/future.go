package domain

import (
	"context"
	"sync"
)

// Future is the single-fire completion handle returned to the caller.
// Whichever of Resolve or Fail lands first wins; later calls are no-ops,
// which is how the race between a timeout and a late response stays quiet.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result *Result
	err    error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) Resolve(result *Result) {
	f.once.Do(func() {
		f.result = result
		close(f.done)
	})
}

func (f *Future) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future holds its outcome.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future completes or ctx is cancelled.
// Abandoning the ctx does not cancel the request; it runs to completion
// or timeout on its own.
func (f *Future) Result(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
