package resolver

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/event"
	"github.com/taskmesh/taskmesh/types"
)

// entry pairs a task with its completion future and reverse adjacency.
type entry struct {
	task       *Task
	future     *Future
	dependents map[string]struct{}
}

// Resolver owns the task registry and the dependency graph. Every state
// transition happens under one lock acquisition, so concurrent callers
// never observe a half-updated graph.
type Resolver struct {
	mu      sync.Mutex
	entries map[string]*entry
	// dependents keeps reverse edges for ids that are referenced as
	// dependencies before they are registered.
	dependents map[string]map[string]struct{}
	bus        event.Bus
	logger     *zap.Logger
}

// New creates a resolver. The bus may be nil when no broadcast consumer
// is attached; a nil logger falls back to zap.NewNop.
func New(bus event.Bus, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		entries:    make(map[string]*entry),
		dependents: make(map[string]map[string]struct{}),
		bus:        bus,
		logger:     logger.With(zap.String("component", "resolver")),
	}
}

// Register admits a task with its dependency set and returns its
// completion future. Registering an id whose previous registration FAILED
// is a retry: the task is re-admitted with a fresh future and blocked
// dependents are re-evaluated. Cycle validation runs before any mutation.
func (r *Resolver) Register(taskID string, dependencyIDs []string, agentID string, metadata map[string]any) (*Future, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	retry := false
	if existing, ok := r.entries[taskID]; ok {
		if existing.task.Status != StatusFailed {
			return nil, types.Errorf(types.ErrDuplicateTask, "task already registered: %s", taskID)
		}
		retry = true
	}

	if err := r.checkCycle(taskID, dependencyIDs); err != nil {
		return nil, err
	}

	task := &Task{
		ID:           taskID,
		Dependencies: append([]string(nil), dependencyIDs...),
		AgentID:      agentID,
		Metadata:     metadata,
		RegisteredAt: time.Now(),
	}
	task.Status = r.initialStatus(dependencyIDs)

	e := &entry{
		task:       task,
		future:     newFuture(),
		dependents: r.takeDependents(taskID),
	}
	r.entries[taskID] = e

	for _, depID := range dependencyIDs {
		if dep, ok := r.entries[depID]; ok {
			dep.dependents[taskID] = struct{}{}
		} else {
			if r.dependents[depID] == nil {
				r.dependents[depID] = make(map[string]struct{})
			}
			r.dependents[depID][taskID] = struct{}{}
		}
	}

	r.logger.Debug("task registered",
		zap.String("task_id", taskID),
		zap.String("agent_id", agentID),
		zap.Int("dependencies", len(dependencyIDs)),
		zap.String("status", string(task.Status)),
		zap.Bool("retry", retry),
	)

	r.publishTransition(task, "")

	if retry {
		r.reevaluateBlocked(taskID)
	}

	return e.future, nil
}

// CanStart reports whether a task is ready to start. Pure read.
func (r *Resolver) CanStart(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[taskID]
	return ok && e.task.Status == StatusReady
}

// Start transitions a READY task to RUNNING and assigns it to an agent.
func (r *Resolver) Start(taskID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[taskID]
	if !ok {
		return types.Errorf(types.ErrTaskNotFound, "task not found: %s", taskID)
	}
	if e.task.Status != StatusReady {
		return types.Errorf(types.ErrInvalidTransition,
			"cannot start task %s: status is %s, want %s", taskID, e.task.Status, StatusReady)
	}

	prev := e.task.Status
	now := time.Now()
	e.task.Status = StatusRunning
	e.task.AgentID = agentID
	e.task.StartedAt = &now

	r.publishTransition(e.task, prev)
	return nil
}

// Complete transitions a RUNNING task to COMPLETED, resolves its future,
// and promotes every dependent whose dependencies are now all completed.
// Status update, future resolution, and dependent promotion happen under
// one lock acquisition.
func (r *Resolver) Complete(taskID string, result any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[taskID]
	if !ok {
		return types.Errorf(types.ErrTaskNotFound, "task not found: %s", taskID)
	}
	if e.task.Status != StatusRunning {
		return types.Errorf(types.ErrInvalidTransition,
			"cannot complete task %s: status is %s, want %s", taskID, e.task.Status, StatusRunning)
	}

	prev := e.task.Status
	now := time.Now()
	e.task.Status = StatusCompleted
	e.task.Result = result
	e.task.CompletedAt = &now
	e.future.resolve(result)

	r.publishTransition(e.task, prev)

	for depID := range e.dependents {
		r.promoteIfReady(depID)
	}

	r.logger.Info("task completed",
		zap.String("task_id", taskID),
		zap.Int("dependents", len(e.dependents)),
	)
	return nil
}

// Fail transitions a RUNNING task to FAILED, rejects its future, and
// blocks every transitive dependent. Blocked tasks stay blocked until the
// failed id is re-registered.
func (r *Resolver) Fail(taskID string, taskErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[taskID]
	if !ok {
		return types.Errorf(types.ErrTaskNotFound, "task not found: %s", taskID)
	}
	if e.task.Status != StatusRunning {
		return types.Errorf(types.ErrInvalidTransition,
			"cannot fail task %s: status is %s, want %s", taskID, e.task.Status, StatusRunning)
	}

	prev := e.task.Status
	now := time.Now()
	e.task.Status = StatusFailed
	if taskErr != nil {
		e.task.Error = taskErr.Error()
	}
	e.task.CompletedAt = &now
	e.future.reject(taskErr)

	r.publishTransition(e.task, prev)
	r.cascadeBlock(taskID)

	r.logger.Warn("task failed",
		zap.String("task_id", taskID),
		zap.Error(taskErr),
	)
	return nil
}

// DependencyChain returns the transitive closure of a task's dependencies
// in breadth-first order, excluding the task itself. Unregistered ids are
// included but contribute no further edges.
func (r *Resolver) DependencyChain(taskID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[taskID]
	if !ok {
		return nil, types.Errorf(types.ErrTaskNotFound, "task not found: %s", taskID)
	}

	seen := map[string]bool{taskID: true}
	chain := make([]string, 0, len(e.task.Dependencies))
	queue := append([]string(nil), e.task.Dependencies...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		chain = append(chain, id)
		if dep, ok := r.entries[id]; ok {
			queue = append(queue, dep.task.Dependencies...)
		}
	}
	return chain, nil
}

// Status returns a snapshot of the full task set with per-status counts.
// Pure read; two consecutive calls without intervening mutation are equal.
func (r *Resolver) Status() *SystemStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := &SystemStatus{
		Counts: make(map[Status]int),
		Tasks:  make(map[string]*Task, len(r.entries)),
	}
	for id, e := range r.entries {
		status.Counts[e.task.Status]++
		status.Tasks[id] = e.task.clone()
	}
	return status
}

// Future returns the completion future for a registered task.
func (r *Resolver) Future(taskID string) (*Future, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[taskID]
	if !ok {
		return nil, types.Errorf(types.ErrTaskNotFound, "task not found: %s", taskID)
	}
	return e.future, nil
}

// checkCycle rejects a registration that would close a dependency cycle.
// Reachability search from each new dependency back through dependency
// edges; runs before any mutation so a rejected call leaves no trace.
func (r *Resolver) checkCycle(taskID string, dependencyIDs []string) error {
	visited := make(map[string]bool)
	var stack []string

	for _, depID := range dependencyIDs {
		if depID == taskID {
			return types.Errorf(types.ErrDependencyCycle,
				"task %s cannot depend on itself", taskID)
		}
		stack = append(stack[:0], depID)
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[id] {
				continue
			}
			visited[id] = true
			e, ok := r.entries[id]
			if !ok {
				continue
			}
			for _, next := range e.task.Dependencies {
				if next == taskID {
					return types.Errorf(types.ErrDependencyCycle,
						"registering task %s with dependency %s would create a cycle", taskID, depID)
				}
				stack = append(stack, next)
			}
		}
	}
	return nil
}

// initialStatus picks the admission status: READY when every dependency
// has already completed, BLOCKED when one has failed, PENDING otherwise.
func (r *Resolver) initialStatus(dependencyIDs []string) Status {
	ready := true
	for _, depID := range dependencyIDs {
		dep, ok := r.entries[depID]
		if !ok {
			ready = false
			continue
		}
		switch dep.task.Status {
		case StatusCompleted:
		case StatusFailed, StatusBlocked:
			return StatusBlocked
		default:
			ready = false
		}
	}
	if ready {
		return StatusReady
	}
	return StatusPending
}

// takeDependents claims reverse edges recorded before this id was
// registered, merging them with a failed predecessor's dependents on retry.
func (r *Resolver) takeDependents(taskID string) map[string]struct{} {
	deps := make(map[string]struct{})
	if prev, ok := r.entries[taskID]; ok {
		for id := range prev.dependents {
			deps[id] = struct{}{}
		}
	}
	if pending, ok := r.dependents[taskID]; ok {
		for id := range pending {
			deps[id] = struct{}{}
		}
		delete(r.dependents, taskID)
	}
	return deps
}

// promoteIfReady moves a PENDING dependent to READY once all of its
// dependencies have completed. Caller holds the lock.
func (r *Resolver) promoteIfReady(taskID string) {
	e, ok := r.entries[taskID]
	if !ok || e.task.Status != StatusPending {
		return
	}
	for _, depID := range e.task.Dependencies {
		dep, ok := r.entries[depID]
		if !ok || dep.task.Status != StatusCompleted {
			return
		}
	}
	prev := e.task.Status
	e.task.Status = StatusReady
	r.publishTransition(e.task, prev)
}

// cascadeBlock marks every transitive dependent of a failed task BLOCKED.
// Caller holds the lock.
func (r *Resolver) cascadeBlock(taskID string) {
	e, ok := r.entries[taskID]
	if !ok {
		return
	}
	queue := make([]string, 0, len(e.dependents))
	for id := range e.dependents {
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		dep, ok := r.entries[id]
		if !ok {
			continue
		}
		switch dep.task.Status {
		case StatusPending, StatusReady:
			prev := dep.task.Status
			dep.task.Status = StatusBlocked
			r.publishTransition(dep.task, prev)
			for next := range dep.dependents {
				queue = append(queue, next)
			}
		}
	}
}

// reevaluateBlocked walks the dependents of a re-registered task and
// lifts BLOCKED back to PENDING (or READY) where no direct dependency
// remains failed or blocked. Caller holds the lock.
func (r *Resolver) reevaluateBlocked(taskID string) {
	e, ok := r.entries[taskID]
	if !ok {
		return
	}
	queue := make([]string, 0, len(e.dependents))
	for id := range e.dependents {
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		dep, ok := r.entries[id]
		if !ok || dep.task.Status != StatusBlocked {
			continue
		}
		if r.hasFailedDependency(dep.task) {
			continue
		}
		prev := dep.task.Status
		dep.task.Status = StatusPending
		r.publishTransition(dep.task, prev)
		r.promoteIfReady(id)
		for next := range dep.dependents {
			queue = append(queue, next)
		}
	}
}

func (r *Resolver) hasFailedDependency(task *Task) bool {
	for _, depID := range task.Dependencies {
		if dep, ok := r.entries[depID]; ok {
			if dep.task.Status == StatusFailed || dep.task.Status == StatusBlocked {
				return true
			}
		}
	}
	return false
}

// publishTransition broadcasts one state transition. Publish never blocks,
// so calling under the lock keeps transition order and event order aligned.
func (r *Resolver) publishTransition(task *Task, previous Status) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(&event.TaskStateChangeEvent{
		TaskID:         task.ID,
		AgentID:        task.AgentID,
		PreviousStatus: string(previous),
		NewStatus:      string(task.Status),
		Timestamp_:     time.Now(),
	})
}
