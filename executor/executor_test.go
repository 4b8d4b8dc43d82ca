package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/taskmesh/taskmesh/approval"
	"github.com/taskmesh/taskmesh/checkpoint"
	"github.com/taskmesh/taskmesh/metrics"
	"github.com/taskmesh/taskmesh/types"
)

func newTestThread(t *testing.T, store checkpoint.Store) string {
	t.Helper()
	thread, err := store.CreateThread(context.Background(), checkpoint.ThreadConfig{Namespace: "test"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	return thread.ID
}

func fastConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryDelay:      time.Millisecond,
		ApprovalTimeout: time.Minute,
	}
}

func phases(t *testing.T, store checkpoint.Store, threadID string) []checkpoint.Phase {
	t.Helper()
	history, err := store.CheckpointHistory(context.Background(), threadID, 0)
	if err != nil {
		t.Fatalf("CheckpointHistory: %v", err)
	}
	// History is most-recent-first; reverse into execution order.
	out := make([]checkpoint.Phase, len(history))
	for i, cp := range history {
		out[len(history)-1-i] = cp.Phase
	}
	return out
}

func TestRun_SuccessFirstAttempt(t *testing.T) {
	store := checkpoint.NewMemoryStore(0)
	threadID := newTestThread(t, store)
	w := NewWrapper(store, nil, nil, fastConfig(), nil, nil)

	invocations := 0
	result, err := w.Run(context.Background(), threadID, "compute", map[string]any{"n": 42}, func(ctx context.Context) (any, error) {
		invocations++
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != "done" {
		t.Fatalf("result = %v", result)
	}
	if invocations != 1 {
		t.Fatalf("invocations = %d", invocations)
	}

	got := phases(t, store, threadID)
	want := []checkpoint.Phase{checkpoint.PhasePreExecution, checkpoint.PhasePostExecution}
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phases = %v, want %v", got, want)
		}
	}
}

func TestRun_AlwaysFailingInvokedMaxRetriesPlusOne(t *testing.T) {
	store := checkpoint.NewMemoryStore(0)
	threadID := newTestThread(t, store)
	cfg := fastConfig()
	w := NewWrapper(store, nil, nil, cfg, nil, nil)

	boom := errors.New("boom")
	invocations := 0
	_, err := w.Run(context.Background(), threadID, "flaky", nil, func(ctx context.Context) (any, error) {
		invocations++
		return nil, boom
	})

	if invocations != cfg.MaxRetries+1 {
		t.Fatalf("invocations = %d, want %d", invocations, cfg.MaxRetries+1)
	}
	if !types.IsCode(err, types.ErrRetriesExhausted) {
		t.Fatalf("error = %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("error should wrap the last failure: %v", err)
	}

	failures, failed := 0, 0
	for _, phase := range phases(t, store, threadID) {
		switch phase {
		case checkpoint.PhaseExecutionFailure:
			failures++
		case checkpoint.PhaseExecutionFailed:
			failed++
		}
	}
	if failures != cfg.MaxRetries {
		t.Fatalf("execution_failure checkpoints = %d, want %d", failures, cfg.MaxRetries)
	}
	if failed != 1 {
		t.Fatalf("execution_failed checkpoints = %d, want 1", failed)
	}
}

func TestRun_FailTwiceThenSucceed(t *testing.T) {
	store := checkpoint.NewMemoryStore(0)
	threadID := newTestThread(t, store)
	w := NewWrapper(store, nil, nil, fastConfig(), nil, nil)

	invocations := 0
	result, err := w.Run(context.Background(), threadID, "flaky", nil, func(ctx context.Context) (any, error) {
		invocations++
		if invocations <= 2 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != "recovered" {
		t.Fatalf("result = %v", result)
	}
	if invocations != 3 {
		t.Fatalf("invocations = %d", invocations)
	}

	got := phases(t, store, threadID)
	want := []checkpoint.Phase{
		checkpoint.PhasePreExecution,
		checkpoint.PhaseExecutionFailure,
		checkpoint.PhaseExecutionFailure,
		checkpoint.PhasePostExecution,
	}
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phases = %v, want %v", got, want)
		}
	}
}

func TestRun_ApprovalRejectedIsTerminal(t *testing.T) {
	store := checkpoint.NewMemoryStore(0)
	threadID := newTestThread(t, store)
	gate := approval.NewGate(nil, nil)
	policy := &approval.DefaultPolicy{RequireApprovalOperations: []string{"deploy"}}
	w := NewWrapper(store, gate, policy, fastConfig(), nil, nil)

	go func() {
		for {
			pending := gate.Pending(threadID)
			if len(pending) == 1 {
				gate.Reject(pending[0].ID, "not today")
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	invocations := 0
	_, err := w.Run(context.Background(), threadID, "deploy", nil, func(ctx context.Context) (any, error) {
		invocations++
		return nil, nil
	})

	if !types.IsCode(err, types.ErrExecutionRejected) {
		t.Fatalf("error = %v", err)
	}
	if invocations != 0 {
		t.Fatalf("rejected operation must not run, invocations = %d", invocations)
	}
	if got := phases(t, store, threadID); len(got) != 0 {
		t.Fatalf("rejected operation must not checkpoint, phases = %v", got)
	}
}

func TestRun_ApprovalApprovedProceeds(t *testing.T) {
	store := checkpoint.NewMemoryStore(0)
	threadID := newTestThread(t, store)
	gate := approval.NewGate(nil, nil)
	policy := &approval.DefaultPolicy{AlwaysRequire: true}
	w := NewWrapper(store, gate, policy, fastConfig(), nil, nil)

	go func() {
		for {
			pending := gate.Pending(threadID)
			if len(pending) == 1 {
				gate.Approve(pending[0].ID, "go ahead")
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	result, err := w.Run(context.Background(), threadID, "deploy", nil, func(ctx context.Context) (any, error) {
		return "deployed", nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != "deployed" {
		t.Fatalf("result = %v", result)
	}
}

func TestRun_ApprovalTimeoutRejects(t *testing.T) {
	store := checkpoint.NewMemoryStore(0)
	threadID := newTestThread(t, store)
	gate := approval.NewGate(nil, nil)
	cfg := fastConfig()
	cfg.ApprovalTimeout = 50 * time.Millisecond
	w := NewWrapper(store, gate, &approval.DefaultPolicy{AlwaysRequire: true}, cfg, nil, nil)

	_, err := w.Run(context.Background(), threadID, "deploy", nil, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if !types.IsCode(err, types.ErrExecutionRejected) {
		t.Fatalf("error = %v", err)
	}
}

func TestRun_NonRetryableStopsEarly(t *testing.T) {
	store := checkpoint.NewMemoryStore(0)
	threadID := newTestThread(t, store)
	cfg := fastConfig()
	cfg.RetryableOnly = true
	w := NewWrapper(store, nil, nil, cfg, nil, nil)

	invocations := 0
	_, err := w.Run(context.Background(), threadID, "strict", nil, func(ctx context.Context) (any, error) {
		invocations++
		return nil, types.NewError(types.ErrInvalidTransition, "bad state").WithRetryable(false)
	})

	if invocations != 1 {
		t.Fatalf("invocations = %d, want 1", invocations)
	}
	if !types.IsCode(err, types.ErrInvalidTransition) {
		t.Fatalf("error = %v", err)
	}
}

// checkpoint write failures are best-effort; a healthy operation still
// returns its result when the store is down.
func TestRun_CheckpointFailureDoesNotAbort(t *testing.T) {
	store := checkpoint.NewMemoryStore(0)
	threadID := newTestThread(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	w := NewWrapper(store, nil, nil, fastConfig(), nil, nil)

	result, err := w.Run(context.Background(), threadID, "compute", nil, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %v", result)
	}
}

func TestRun_ContextCancelledDuringBackoff(t *testing.T) {
	store := checkpoint.NewMemoryStore(0)
	threadID := newTestThread(t, store)
	cfg := fastConfig()
	cfg.RetryDelay = time.Minute
	w := NewWrapper(store, nil, nil, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := w.Run(ctx, threadID, "slow", nil, func(ctx context.Context) (any, error) {
		return nil, errors.New("transient")
	})
	if err != context.Canceled {
		t.Fatalf("error = %v", err)
	}
}

func TestRun_RecordsCheckpointWriteDurations(t *testing.T) {
	store := checkpoint.NewMemoryStore(0)
	threadID := newTestThread(t, store)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, nil)
	w := NewWrapper(store, nil, nil, fastConfig(), nil, collector)

	_, err := w.Run(context.Background(), threadID, "compute", nil, func(ctx context.Context) (any, error) {
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One series per written phase: pre_execution and post_execution.
	count, err := testutil.GatherAndCount(reg, "test_checkpoint_write_duration_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("checkpoint write series = %d, want 2", count)
	}
}
