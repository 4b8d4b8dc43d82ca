package resolver

import (
	"context"
	"sync"
)

// Future resolves with a task's eventual result or rejects with its
// failure reason. A future resolves exactly once.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve completes the future with a result. No-op after first resolution.
func (f *Future) resolve(result any) {
	f.once.Do(func() {
		f.result = result
		close(f.done)
	})
}

// reject completes the future with an error. No-op after first resolution.
func (f *Future) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
