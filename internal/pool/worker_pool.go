// Package pool provides a bounded goroutine pool for controlled
// execution concurrency.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool queue is full")
)

// Job is a unit of work executed on a pool worker.
type Job func(ctx context.Context) error

type jobWrapper struct {
	job    Job
	ctx    context.Context
	result chan error
}

// Config sizes the pool.
type Config struct {
	MaxWorkers int `json:"max_workers"`
	QueueSize  int `json:"queue_size"`
}

// DefaultConfig returns sensible pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 8,
		QueueSize:  64,
	}
}

// WorkerPool runs jobs on a fixed set of goroutines with a bounded
// queue. Panics inside a job fail that job, not the worker.
type WorkerPool struct {
	queue chan jobWrapper
	wg    sync.WaitGroup

	// mu orders submissions against Close so no send can race the
	// queue channel being closed.
	mu     sync.RWMutex
	closed bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// NewWorkerPool starts the pool's workers immediately.
func NewWorkerPool(config Config) *WorkerPool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	p := &WorkerPool{
		queue: make(chan jobWrapper, config.QueueSize),
	}
	for i := 0; i < config.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a job without waiting for it. Returns ErrPoolFull when
// the queue is saturated.
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	select {
	case p.queue <- jobWrapper{job: job, ctx: ctx}:
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// SubmitWait enqueues a job and blocks until it finishes or ctx is
// cancelled.
func (p *WorkerPool) SubmitWait(ctx context.Context, job Job) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	wrapper := jobWrapper{job: job, ctx: ctx, result: make(chan error, 1)}
	select {
	case p.queue <- wrapper:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.rejected.Add(1)
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-wrapper.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for wrapper := range p.queue {
		err := p.run(wrapper)
		if wrapper.result != nil {
			wrapper.result <- err
			close(wrapper.result)
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *WorkerPool) run(wrapper jobWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("job panicked")
		}
	}()
	return wrapper.job(wrapper.ctx)
}

// Stats reports lifetime counters.
func (p *WorkerPool) Stats() (submitted, completed, failed, rejected int64) {
	return p.submitted.Load(), p.completed.Load(), p.failed.Load(), p.rejected.Load()
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
