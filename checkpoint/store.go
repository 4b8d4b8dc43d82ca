package checkpoint

import (
	"context"
	"time"
)

// Phase tags the point in the execution wrapper's lifecycle at which a
// checkpoint was taken.
type Phase string

const (
	PhasePreExecution     Phase = "pre_execution"
	PhaseExecutionFailure Phase = "execution_failure"
	PhaseExecutionFailed  Phase = "execution_failed"
	PhasePostExecution    Phase = "post_execution"
	// PhaseManual marks checkpoints saved directly by a caller rather
	// than by the execution wrapper.
	PhaseManual Phase = "manual"
)

// Thread is a logical execution context under which checkpoints are grouped.
type Thread struct {
	ID        string         `json:"id"`
	Namespace string         `json:"namespace"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty"`
}

// ThreadConfig configures a new thread.
type ThreadConfig struct {
	Namespace string         `json:"namespace"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Checkpoint is an immutable, sequence-numbered snapshot of a thread's
// state. Sequence strictly increases per thread, including across reverts.
type Checkpoint struct {
	ID         string         `json:"id"`
	ThreadID   string         `json:"thread_id"`
	Sequence   int64          `json:"sequence"`
	Phase      Phase          `json:"phase"`
	Payload    any            `json:"payload"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Superseded bool           `json:"superseded"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ThreadStats aggregates store-wide counts.
type ThreadStats struct {
	ActiveThreads        int            `json:"active_threads"`
	ClosedThreads        int            `json:"closed_threads"`
	TotalCheckpoints     int            `json:"total_checkpoints"`
	CheckpointsPerThread map[string]int `json:"checkpoints_per_thread"`
}

// Store is the durable checkpoint log.
//
// LoadCheckpoint returns (nil, nil) for a thread with no visible
// checkpoints; absence is not an error. RevertToCheckpoint marks every
// checkpoint with a higher sequence as superseded and returns the target;
// a later SaveCheckpoint continues the sequence past the hidden branch,
// keeping history linear.
type Store interface {
	CreateThread(ctx context.Context, config ThreadConfig) (*Thread, error)
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	CloseThread(ctx context.Context, threadID string) error

	SaveCheckpoint(ctx context.Context, threadID string, phase Phase, payload any, metadata map[string]any) (*Checkpoint, error)
	LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error)
	// CheckpointHistory lists visible checkpoints newest first. A limit
	// of zero or less means no limit.
	CheckpointHistory(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error)
	RevertToCheckpoint(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error)

	ThreadStats(ctx context.Context) (*ThreadStats, error)

	// Cleanup prunes threads closed longer than the store's retention
	// window ago, together with their checkpoints. Idempotent.
	Cleanup(ctx context.Context) error
	// Close releases connections. Idempotent.
	Close() error
}
