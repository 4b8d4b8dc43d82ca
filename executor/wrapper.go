package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/approval"
	"github.com/taskmesh/taskmesh/checkpoint"
	"github.com/taskmesh/taskmesh/metrics"
	"github.com/taskmesh/taskmesh/types"
)

// Operation is a single unit of work. It is invoked once per attempt
// and must be safe to re-invoke after a failure.
type Operation func(ctx context.Context) (any, error)

// Config holds the wrapper's retry and approval settings.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt, so
	// an always-failing operation runs MaxRetries+1 times. Default 3.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// RetryDelay is the linear backoff unit: attempt n waits n*RetryDelay
	// before re-invoking. Default 1s.
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
	// RetryableOnly stops retrying when an error is explicitly marked
	// non-retryable. Errors without retryability info are still retried.
	RetryableOnly bool `json:"retryable_only" yaml:"retryable_only"`
	// ApprovalTimeout bounds how long a gated operation waits for a
	// human decision. Default 5m.
	ApprovalTimeout time.Duration `json:"approval_timeout" yaml:"approval_timeout"`
}

// DefaultConfig returns sensible wrapper defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryDelay:      time.Second,
		ApprovalTimeout: 5 * time.Minute,
	}
}

// Wrapper executes operations fault-tolerantly under a thread. Approval
// rejection and retry exhaustion are terminal; checkpoint write failures
// are logged but never fail an otherwise-successful operation.
type Wrapper struct {
	store     checkpoint.Store
	gate      *approval.Gate
	policy    approval.Policy
	config    Config
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewWrapper creates an execution wrapper. gate may be nil when policy
// never gates; a nil policy disables approval gating entirely.
func NewWrapper(store checkpoint.Store, gate *approval.Gate, policy approval.Policy, config Config, logger *zap.Logger, collector *metrics.Collector) *Wrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = approval.NoApproval{}
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.ApprovalTimeout <= 0 {
		config.ApprovalTimeout = 5 * time.Minute
	}
	return &Wrapper{
		store:     store,
		gate:      gate,
		policy:    policy,
		config:    config,
		logger:    logger.With(zap.String("component", "executor")),
		collector: collector,
	}
}

// Run executes op under threadID. operation names the action for the
// approval policy and checkpoint metadata; input is persisted in the
// pre_execution checkpoint so a replay knows what was attempted.
func (w *Wrapper) Run(ctx context.Context, threadID, operation string, input any, op Operation) (any, error) {
	start := time.Now()

	action := approval.Action{Operation: operation}
	if w.gate != nil && w.policy.RequiresApproval(ctx, threadID, action) {
		if err := w.awaitApproval(ctx, threadID, action); err != nil {
			return nil, err
		}
	}

	w.saveCheckpoint(ctx, threadID, checkpoint.PhasePreExecution, input, map[string]any{
		"operation": operation,
	})

	var lastErr error
	nonRetryable := false
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := w.config.RetryDelay * time.Duration(attempt)
			w.logger.Debug("retrying operation",
				zap.String("thread_id", threadID),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			if w.collector != nil {
				w.collector.RecordRetry(operation)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := op(ctx)
		if err == nil {
			w.saveCheckpoint(ctx, threadID, checkpoint.PhasePostExecution, result, map[string]any{
				"operation": operation,
				"attempts":  attempt + 1,
			})
			if w.collector != nil {
				w.collector.RecordExecution(operation, "success", time.Since(start))
			}
			return result, nil
		}
		lastErr = err

		if w.config.RetryableOnly && !retryable(err) {
			w.logger.Warn("operation failed with non-retryable error",
				zap.String("thread_id", threadID),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			nonRetryable = true
			break
		}
		if attempt == w.config.MaxRetries {
			break
		}

		w.saveCheckpoint(ctx, threadID, checkpoint.PhaseExecutionFailure, nil, map[string]any{
			"operation": operation,
			"attempt":   attempt,
			"error":     err.Error(),
		})
		w.logger.Warn("operation failed, will retry",
			zap.String("thread_id", threadID),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	w.saveCheckpoint(ctx, threadID, checkpoint.PhaseExecutionFailed, nil, map[string]any{
		"operation": operation,
		"error":     lastErr.Error(),
	})
	if w.collector != nil {
		w.collector.RecordExecution(operation, "failed", time.Since(start))
	}
	if nonRetryable {
		return nil, lastErr
	}
	return nil, types.Errorf(types.ErrRetriesExhausted,
		"operation %s failed after %d retries", operation, w.config.MaxRetries).WithCause(lastErr)
}

// awaitApproval blocks until the gated action resolves. Any non-approved
// outcome, including timeout, is a terminal rejection with no retries.
func (w *Wrapper) awaitApproval(ctx context.Context, threadID string, action approval.Action) error {
	req := w.gate.Request(threadID, action, w.config.ApprovalTimeout)
	decision, err := req.Wait(ctx)
	if err != nil {
		return err
	}
	if !decision.Approved {
		reason := decision.Reason
		if reason == "" {
			reason = "rejected"
		}
		w.logger.Info("execution rejected by approval gate",
			zap.String("thread_id", threadID),
			zap.String("operation", action.Operation),
			zap.String("reason", reason),
		)
		if w.collector != nil {
			w.collector.RecordExecution(action.Operation, "rejected", 0)
		}
		return types.Errorf(types.ErrExecutionRejected,
			"operation %s not approved: %s", action.Operation, reason)
	}
	return nil
}

// saveCheckpoint persists a lifecycle checkpoint. Write failures are
// logged and swallowed so durability stays best-effort.
func (w *Wrapper) saveCheckpoint(ctx context.Context, threadID string, phase checkpoint.Phase, payload any, metadata map[string]any) {
	start := time.Now()
	if _, err := w.store.SaveCheckpoint(ctx, threadID, phase, payload, metadata); err != nil {
		w.logger.Error("checkpoint write failed",
			zap.String("thread_id", threadID),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
		return
	}
	if w.collector != nil {
		w.collector.RecordCheckpoint(string(phase))
		w.collector.RecordCheckpointWrite(string(phase), time.Since(start))
	}
}

// retryable treats errors without explicit retryability info as transient.
func retryable(err error) bool {
	var terr *types.Error
	if errors.As(err, &terr) {
		return terr.Retryable
	}
	return true
}
