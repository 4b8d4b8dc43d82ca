package resolver

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/types"
)

func TestRegister_NoDependenciesIsReady(t *testing.T) {
	r := New(nil, nil)

	future, err := r.Register("task-1", nil, "agent-1", nil)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if future == nil {
		t.Fatal("expected a future")
	}
	if !r.CanStart("task-1") {
		t.Error("task with no dependencies must be ready")
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := New(nil, nil)

	if _, err := r.Register("task-1", nil, "agent-1", nil); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, err := r.Register("task-1", nil, "agent-2", nil)
	if !types.IsCode(err, types.ErrDuplicateTask) {
		t.Errorf("expected DUPLICATE_TASK, got %v", err)
	}
}

func TestRegister_CycleRejectedWithoutMutation(t *testing.T) {
	r := New(nil, nil)

	mustRegister(t, r, "a", nil)
	mustRegister(t, r, "b", []string{"a"})
	mustRegister(t, r, "c", []string{"b"})

	if _, err := r.Register("d", []string{"c", "d"}, "agent-1", nil); !types.IsCode(err, types.ErrDependencyCycle) {
		t.Fatalf("self-dependency: expected DEPENDENCY_CYCLE, got %v", err)
	}

	// Dependency sets are immutable, so a back edge can only appear when a
	// failed id is re-registered with new dependencies.
	if err := r.Start("a", "agent-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Fail("a", errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	before := r.Status()

	_, err := r.Register("a", []string{"c"}, "agent-1", nil)
	if !types.IsCode(err, types.ErrDependencyCycle) {
		t.Fatalf("expected DEPENDENCY_CYCLE, got %v", err)
	}

	after := r.Status()
	if !reflect.DeepEqual(before.Counts, after.Counts) {
		t.Error("rejected registration must not mutate state")
	}
	if after.Tasks["a"].Status != StatusFailed {
		t.Error("rejected retry must leave the failed task untouched")
	}
}

func TestLifecycle_CompletePromotesDependents(t *testing.T) {
	r := New(nil, nil)

	mustRegister(t, r, "task-1", nil)
	future2, err := r.Register("task-2", []string{"task-1"}, "agent-2", nil)
	if err != nil {
		t.Fatalf("register task-2: %v", err)
	}

	if r.CanStart("task-2") {
		t.Fatal("task-2 must wait for task-1")
	}
	if err := r.Start("task-1", "agent-1"); err != nil {
		t.Fatalf("start task-1: %v", err)
	}
	if err := r.Complete("task-1", "parsed"); err != nil {
		t.Fatalf("complete task-1: %v", err)
	}

	// Promotion happens inside Complete's atomic step.
	if !r.CanStart("task-2") {
		t.Fatal("task-2 must be ready once task-1 completed")
	}

	if err := r.Start("task-2", "agent-2"); err != nil {
		t.Fatalf("start task-2: %v", err)
	}
	if err := r.Complete("task-2", 42); err != nil {
		t.Fatalf("complete task-2: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := future2.Wait(ctx)
	if err != nil {
		t.Fatalf("future rejected: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %v", result)
	}
}

func TestRegister_AfterDependencyCompleted(t *testing.T) {
	r := New(nil, nil)

	mustRegister(t, r, "task-1", nil)
	if err := r.Start("task-1", "agent-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete("task-1", "done"); err != nil {
		t.Fatal(err)
	}

	mustRegister(t, r, "task-2", []string{"task-1"})
	if !r.CanStart("task-2") {
		t.Error("task registered after its dependency completed must be ready immediately")
	}
}

func TestRegister_UnknownDependencyStaysPending(t *testing.T) {
	r := New(nil, nil)

	mustRegister(t, r, "task-3", []string{"task-x"})

	status := r.Status()
	if status.Counts[StatusPending] != 1 {
		t.Errorf("expected one pending task, got %+v", status.Counts)
	}
	if status.Tasks["task-3"].Status != StatusPending {
		t.Errorf("task-3 should be pending, got %s", status.Tasks["task-3"].Status)
	}
}

func TestStart_InvalidTransition(t *testing.T) {
	r := New(nil, nil)

	mustRegister(t, r, "task-1", nil)
	mustRegister(t, r, "task-2", []string{"task-1"})

	if err := r.Start("task-2", "agent-1"); !types.IsCode(err, types.ErrInvalidTransition) {
		t.Errorf("starting a pending task: expected INVALID_TRANSITION, got %v", err)
	}
	if err := r.Start("missing", "agent-1"); !types.IsCode(err, types.ErrTaskNotFound) {
		t.Errorf("expected TASK_NOT_FOUND, got %v", err)
	}

	if err := r.Start("task-1", "agent-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Start("task-1", "agent-1"); !types.IsCode(err, types.ErrInvalidTransition) {
		t.Errorf("double start: expected INVALID_TRANSITION, got %v", err)
	}
	if err := r.Complete("task-2", nil); !types.IsCode(err, types.ErrInvalidTransition) {
		t.Errorf("completing a pending task: expected INVALID_TRANSITION, got %v", err)
	}
}

func TestFail_CascadesToTransitiveDependents(t *testing.T) {
	r := New(nil, nil)

	mustRegister(t, r, "root", nil)
	future, _ := r.Future("root")
	mustRegister(t, r, "mid", []string{"root"})
	mustRegister(t, r, "leaf", []string{"mid"})

	if err := r.Start("root", "agent-1"); err != nil {
		t.Fatal(err)
	}
	rootErr := errors.New("root exploded")
	if err := r.Fail("root", rootErr); err != nil {
		t.Fatal(err)
	}

	status := r.Status()
	if status.Tasks["root"].Status != StatusFailed {
		t.Errorf("root should be failed, got %s", status.Tasks["root"].Status)
	}
	if status.Tasks["mid"].Status != StatusBlocked {
		t.Errorf("mid should be blocked, got %s", status.Tasks["mid"].Status)
	}
	if status.Tasks["leaf"].Status != StatusBlocked {
		t.Errorf("leaf should be blocked, got %s", status.Tasks["leaf"].Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := future.Wait(ctx); !errors.Is(err, rootErr) {
		t.Errorf("future should reject with the task error, got %v", err)
	}
}

func TestRegister_RetryUnblocksDependents(t *testing.T) {
	r := New(nil, nil)

	mustRegister(t, r, "root", nil)
	mustRegister(t, r, "mid", []string{"root"})
	mustRegister(t, r, "leaf", []string{"mid"})

	if err := r.Start("root", "agent-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Fail("root", errors.New("boom")); err != nil {
		t.Fatal(err)
	}

	// Re-registering the failed id is a retry.
	mustRegister(t, r, "root", nil)

	status := r.Status()
	if status.Tasks["root"].Status != StatusReady {
		t.Errorf("retried root should be ready, got %s", status.Tasks["root"].Status)
	}
	if status.Tasks["mid"].Status != StatusPending {
		t.Errorf("mid should be pending again, got %s", status.Tasks["mid"].Status)
	}
	if status.Tasks["leaf"].Status != StatusPending {
		t.Errorf("leaf should be pending again, got %s", status.Tasks["leaf"].Status)
	}

	if err := r.Start("root", "agent-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete("root", "ok"); err != nil {
		t.Fatal(err)
	}
	if !r.CanStart("mid") {
		t.Error("mid should be ready after retried root completed")
	}
}

func TestDependencyChain(t *testing.T) {
	r := New(nil, nil)

	mustRegister(t, r, "a", nil)
	mustRegister(t, r, "b", []string{"a"})
	mustRegister(t, r, "c", []string{"b", "a"})
	mustRegister(t, r, "d", []string{"c", "x"})

	chain, err := r.DependencyChain("d")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(chain)
	want := []string{"a", "b", "c", "x"}
	if !reflect.DeepEqual(chain, want) {
		t.Errorf("expected chain %v, got %v", want, chain)
	}

	if _, err := r.DependencyChain("missing"); !types.IsCode(err, types.ErrTaskNotFound) {
		t.Errorf("expected TASK_NOT_FOUND, got %v", err)
	}
}

func TestStatus_PureRead(t *testing.T) {
	r := New(nil, nil)

	mustRegister(t, r, "a", nil)
	mustRegister(t, r, "b", []string{"a"})

	first := r.Status()
	second := r.Status()
	if !reflect.DeepEqual(first.Counts, second.Counts) {
		t.Error("consecutive status reads must be equal")
	}

	// Mutating the snapshot must not leak into the registry.
	first.Tasks["a"].Status = StatusFailed
	if r.Status().Tasks["a"].Status != StatusReady {
		t.Error("snapshot mutation leaked into registry")
	}
}

func mustRegister(t *testing.T, r *Resolver, id string, deps []string) {
	t.Helper()
	if _, err := r.Register(id, deps, "agent-test", nil); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}
