package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/approval"
	"github.com/taskmesh/taskmesh/checkpoint"
	"github.com/taskmesh/taskmesh/event"
	"github.com/taskmesh/taskmesh/executor"
	"github.com/taskmesh/taskmesh/metrics"
	"github.com/taskmesh/taskmesh/resolver"
)

// Options configures an Orchestrator. Store is required; everything else
// has a working default.
type Options struct {
	Store     checkpoint.Store
	Policy    approval.Policy
	Executor  executor.Config
	Logger    *zap.Logger
	Collector *metrics.Collector
}

// Stats aggregates counts across the store and the approval gate.
type Stats struct {
	ActiveThreads        int            `json:"active_threads"`
	ClosedThreads        int            `json:"closed_threads"`
	TotalCheckpoints     int            `json:"total_checkpoints"`
	CheckpointsPerThread map[string]int `json:"checkpoints_per_thread"`
	PendingApprovals     int            `json:"pending_approvals"`
}

// Orchestrator is the single owner of the task registry, thread table,
// and approval queue. It is not designed for multi-instance sharing;
// run one per deployment.
type Orchestrator struct {
	resolver  *resolver.Resolver
	store     checkpoint.Store
	gate      *approval.Gate
	wrapper   *executor.Wrapper
	bus       event.Bus
	collector *metrics.Collector
	logger    *zap.Logger

	closeOnce sync.Once
}

// New assembles an orchestrator around a checkpoint store.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Executor
	if cfg.MaxRetries == 0 && cfg.RetryDelay == 0 {
		cfg = executor.DefaultConfig()
	}

	bus := event.NewBus(logger)
	gate := approval.NewGate(bus, logger)

	o := &Orchestrator{
		resolver:  resolver.New(bus, logger),
		store:     opts.Store,
		gate:      gate,
		wrapper:   executor.NewWrapper(opts.Store, gate, opts.Policy, cfg, logger, opts.Collector),
		bus:       bus,
		collector: opts.Collector,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
	if o.collector != nil {
		o.observeForMetrics()
	}
	return o
}

// observeForMetrics forwards bus traffic into the Prometheus collector.
func (o *Orchestrator) observeForMetrics() {
	o.bus.Subscribe(event.EventTaskStateChange, func(e event.Event) {
		if ev, ok := e.(*event.TaskStateChangeEvent); ok {
			o.collector.RecordTaskTransition(ev.PreviousStatus, ev.NewStatus)
		}
	})
	o.bus.Subscribe(event.EventApprovalResolved, func(e event.Event) {
		if ev, ok := e.(*event.ApprovalResolvedEvent); ok {
			o.collector.RecordApproval(ev.Status)
			o.collector.SetPendingApprovals(o.gate.PendingCount())
		}
	})
	o.bus.Subscribe(event.EventApprovalRequested, func(e event.Event) {
		o.collector.SetPendingApprovals(o.gate.PendingCount())
	})
}

// Bus exposes the broadcast bus for external observers such as the
// websocket hub. Observers must not block.
func (o *Orchestrator) Bus() event.Bus { return o.bus }

// ---- task registry ----

// RegisterTask admits a task into the dependency graph and returns its
// completion future.
func (o *Orchestrator) RegisterTask(taskID string, dependencyIDs []string, agentID string, metadata map[string]any) (*resolver.Future, error) {
	return o.resolver.Register(taskID, dependencyIDs, agentID, metadata)
}

// CanStart reports whether every dependency of a task has completed.
func (o *Orchestrator) CanStart(taskID string) bool {
	return o.resolver.CanStart(taskID)
}

// StartTask marks a ready task as running under an agent.
func (o *Orchestrator) StartTask(taskID, agentID string) error {
	return o.resolver.Start(taskID, agentID)
}

// CompleteTask finishes a running task and promotes its dependents.
func (o *Orchestrator) CompleteTask(taskID string, result any) error {
	return o.resolver.Complete(taskID, result)
}

// FailTask fails a running task and blocks its transitive dependents.
func (o *Orchestrator) FailTask(taskID string, taskErr error) error {
	return o.resolver.Fail(taskID, taskErr)
}

// TaskFuture returns the completion future of a registered task.
func (o *Orchestrator) TaskFuture(taskID string) (*resolver.Future, error) {
	return o.resolver.Future(taskID)
}

// DependencyChain returns the transitive dependency closure of a task.
func (o *Orchestrator) DependencyChain(taskID string) ([]string, error) {
	return o.resolver.DependencyChain(taskID)
}

// SystemStatus snapshots the task registry.
func (o *Orchestrator) SystemStatus() *resolver.SystemStatus {
	status := o.resolver.Status()
	if o.collector != nil {
		for s, n := range status.Counts {
			o.collector.SetTasksByStatus(string(s), n)
		}
	}
	return status
}

// RunTask registers a task, waits for its dependencies, and executes op
// under the thread with checkpointing and approval gating. The task's
// terminal status mirrors the execution outcome.
func (o *Orchestrator) RunTask(ctx context.Context, threadID, taskID string, dependencyIDs []string, agentID string, op executor.Operation) (any, error) {
	if _, err := o.resolver.Register(taskID, dependencyIDs, agentID, nil); err != nil {
		return nil, err
	}

	for _, depID := range dependencyIDs {
		future, err := o.resolver.Future(depID)
		if err != nil {
			return nil, err
		}
		if _, err := future.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return o.ExecuteTask(ctx, threadID, taskID, agentID, op)
}

// ExecuteTask starts an already-registered READY task and runs op under
// the thread with checkpointing and approval gating, marking the task
// completed or failed accordingly.
func (o *Orchestrator) ExecuteTask(ctx context.Context, threadID, taskID, agentID string, op executor.Operation) (any, error) {
	if err := o.resolver.Start(taskID, agentID); err != nil {
		return nil, err
	}

	result, err := o.wrapper.Run(ctx, threadID, taskID, nil, op)
	if err != nil {
		if failErr := o.resolver.Fail(taskID, err); failErr != nil {
			o.logger.Error("failed to record task failure",
				zap.String("task_id", taskID),
				zap.Error(failErr),
			)
		}
		return nil, err
	}
	if err := o.resolver.Complete(taskID, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ---- thread lifecycle ----

// CreateThread opens a new execution context.
func (o *Orchestrator) CreateThread(ctx context.Context, config checkpoint.ThreadConfig) (*checkpoint.Thread, error) {
	return o.store.CreateThread(ctx, config)
}

// GetThread fetches a thread by id.
func (o *Orchestrator) GetThread(ctx context.Context, threadID string) (*checkpoint.Thread, error) {
	return o.store.GetThread(ctx, threadID)
}

// CloseThread closes a thread and auto-rejects its pending approvals.
func (o *Orchestrator) CloseThread(ctx context.Context, threadID string) error {
	if err := o.store.CloseThread(ctx, threadID); err != nil {
		return err
	}
	rejected := o.gate.CancelThread(threadID)
	if rejected > 0 {
		o.logger.Info("rejected pending approvals on thread close",
			zap.String("thread_id", threadID),
			zap.Int("rejected", rejected),
		)
	}
	o.bus.Publish(&event.ThreadClosedEvent{
		ThreadID:   threadID,
		Timestamp_: time.Now(),
	})
	return nil
}

// SaveCheckpoint appends a manual checkpoint to a thread.
func (o *Orchestrator) SaveCheckpoint(ctx context.Context, threadID string, payload any, metadata map[string]any) (*checkpoint.Checkpoint, error) {
	start := time.Now()
	cp, err := o.store.SaveCheckpoint(ctx, threadID, checkpoint.PhaseManual, payload, metadata)
	if err != nil {
		return nil, err
	}
	if o.collector != nil {
		o.collector.RecordCheckpointWrite(string(checkpoint.PhaseManual), time.Since(start))
	}
	o.bus.Publish(&event.CheckpointSavedEvent{
		ThreadID:     cp.ThreadID,
		CheckpointID: cp.ID,
		Sequence:     cp.Sequence,
		Phase:        string(cp.Phase),
		Timestamp_:   time.Now(),
	})
	return cp, nil
}

// LoadCheckpoint returns the thread's current visible head, or nil when
// the thread has no visible checkpoints.
func (o *Orchestrator) LoadCheckpoint(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	return o.store.LoadCheckpoint(ctx, threadID)
}

// CheckpointHistory lists visible checkpoints, most recent first.
func (o *Orchestrator) CheckpointHistory(ctx context.Context, threadID string, limit int) ([]*checkpoint.Checkpoint, error) {
	return o.store.CheckpointHistory(ctx, threadID, limit)
}

// RevertToCheckpoint moves the thread's visible head back to an earlier
// checkpoint for time-travel debugging. Later checkpoints are hidden,
// not deleted.
func (o *Orchestrator) RevertToCheckpoint(ctx context.Context, threadID, checkpointID string) (*checkpoint.Checkpoint, error) {
	cp, err := o.store.RevertToCheckpoint(ctx, threadID, checkpointID)
	if err != nil {
		return nil, err
	}
	o.bus.Publish(&event.ThreadRevertedEvent{
		ThreadID:     threadID,
		CheckpointID: cp.ID,
		Sequence:     cp.Sequence,
		Timestamp_:   time.Now(),
	})
	return cp, nil
}

// ThreadStats aggregates store counts with the approval gate's queue.
func (o *Orchestrator) ThreadStats(ctx context.Context) (*Stats, error) {
	storeStats, err := o.store.ThreadStats(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		ActiveThreads:        storeStats.ActiveThreads,
		ClosedThreads:        storeStats.ClosedThreads,
		TotalCheckpoints:     storeStats.TotalCheckpoints,
		CheckpointsPerThread: storeStats.CheckpointsPerThread,
		PendingApprovals:     o.gate.PendingCount(),
	}
	if o.collector != nil {
		o.collector.SetActiveThreads(stats.ActiveThreads)
		o.collector.SetPendingApprovals(stats.PendingApprovals)
	}
	return stats, nil
}

// ---- approvals ----

// ApproveAction resolves a pending approval in favour of execution.
func (o *Orchestrator) ApproveAction(approvalID, feedback string) error {
	return o.gate.Approve(approvalID, feedback)
}

// RejectAction resolves a pending approval against execution.
func (o *Orchestrator) RejectAction(approvalID, reason string) error {
	return o.gate.Reject(approvalID, reason)
}

// PendingApprovals lists pending requests, optionally scoped to a thread.
func (o *Orchestrator) PendingApprovals(threadID string) []*approval.Request {
	return o.gate.Pending(threadID)
}

// Close stops the bus and releases the store. Idempotent.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.bus.Stop()
		err = o.store.Close()
	})
	return err
}
