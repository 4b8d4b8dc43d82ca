// Package worker schedules orchestrated tasks onto a bounded goroutine
// pool, so callers can dispatch DAGs of work without spawning one
// goroutine per task themselves.
package worker

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/executor"
	"github.com/taskmesh/taskmesh/internal/pool"
	"github.com/taskmesh/taskmesh/orchestrator"
	"github.com/taskmesh/taskmesh/resolver"
)

// TaskSpec describes one task to dispatch.
type TaskSpec struct {
	ThreadID      string
	TaskID        string
	DependencyIDs []string
	AgentID       string
	Op            executor.Operation
}

// Runner executes orchestrated tasks on a shared worker pool. Dependency
// ordering is enforced by the orchestrator's futures, not by submission
// order, so all tasks of a batch can be dispatched upfront.
type Runner struct {
	orch   *orchestrator.Orchestrator
	pool   *pool.WorkerPool
	logger *zap.Logger
}

// NewRunner creates a runner backed by a fresh pool.
func NewRunner(orch *orchestrator.Orchestrator, config pool.Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		orch:   orch,
		pool:   pool.NewWorkerPool(config),
		logger: logger.With(zap.String("component", "worker")),
	}
}

// Dispatch registers the task and schedules its execution. The returned
// future resolves when the task completes or fails. Dependencies must be
// registered (dispatched) first. When the pool queue is full the task
// stays registered but unscheduled and ErrPoolFull is returned.
func (r *Runner) Dispatch(ctx context.Context, spec TaskSpec) (*resolver.Future, error) {
	future, err := r.orch.RegisterTask(spec.TaskID, spec.DependencyIDs, spec.AgentID, nil)
	if err != nil {
		return nil, err
	}

	if err := r.pool.Submit(ctx, func(ctx context.Context) error {
		return r.execute(ctx, spec)
	}); err != nil {
		r.logger.Warn("task not scheduled",
			zap.String("task_id", spec.TaskID),
			zap.Error(err),
		)
		return nil, err
	}
	return future, nil
}

// Run dispatches a single task and blocks until it finishes.
func (r *Runner) Run(ctx context.Context, spec TaskSpec) (any, error) {
	future, err := r.Dispatch(ctx, spec)
	if err != nil {
		return nil, err
	}
	return future.Wait(ctx)
}

// RunAll dispatches a batch in order and waits for every task. It
// returns the first task error; remaining waits are cancelled through
// the group context so blocked dependents do not hang the caller.
func (r *Runner) RunAll(ctx context.Context, specs []TaskSpec) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		future, err := r.Dispatch(ctx, spec)
		if err != nil {
			return err
		}
		g.Go(func() error {
			_, err := future.Wait(gctx)
			return err
		})
	}
	return g.Wait()
}

func (r *Runner) execute(ctx context.Context, spec TaskSpec) error {
	for _, depID := range spec.DependencyIDs {
		future, err := r.orch.TaskFuture(depID)
		if err != nil {
			return err
		}
		if _, err := future.Wait(ctx); err != nil {
			return err
		}
	}

	_, err := r.orch.ExecuteTask(ctx, spec.ThreadID, spec.TaskID, spec.AgentID, spec.Op)
	return err
}

// Stats reports the underlying pool counters.
func (r *Runner) Stats() (submitted, completed, failed, rejected int64) {
	return r.pool.Stats()
}

// Close drains the pool. In-flight tasks finish first.
func (r *Runner) Close() {
	r.pool.Close()
}
