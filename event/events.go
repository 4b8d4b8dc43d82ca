package event

import "time"

// TaskStateChangeEvent is broadcast once per task status transition.
type TaskStateChangeEvent struct {
	TaskID         string    `json:"task_id"`
	AgentID        string    `json:"agent_id,omitempty"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Timestamp_     time.Time `json:"timestamp"`
}

func (e *TaskStateChangeEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *TaskStateChangeEvent) Type() EventType      { return EventTaskStateChange }

// CheckpointSavedEvent is broadcast after a checkpoint row is appended.
type CheckpointSavedEvent struct {
	ThreadID     string    `json:"thread_id"`
	CheckpointID string    `json:"checkpoint_id"`
	Sequence     int64     `json:"sequence"`
	Phase        string    `json:"phase"`
	Timestamp_   time.Time `json:"timestamp"`
}

func (e *CheckpointSavedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *CheckpointSavedEvent) Type() EventType      { return EventCheckpointSaved }

// ThreadRevertedEvent is broadcast when a thread's visible head moves back
// to an earlier checkpoint.
type ThreadRevertedEvent struct {
	ThreadID     string    `json:"thread_id"`
	CheckpointID string    `json:"checkpoint_id"`
	Sequence     int64     `json:"sequence"`
	Timestamp_   time.Time `json:"timestamp"`
}

func (e *ThreadRevertedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *ThreadRevertedEvent) Type() EventType      { return EventThreadReverted }

// ThreadClosedEvent is broadcast when a thread is closed.
type ThreadClosedEvent struct {
	ThreadID   string    `json:"thread_id"`
	Timestamp_ time.Time `json:"timestamp"`
}

func (e *ThreadClosedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *ThreadClosedEvent) Type() EventType      { return EventThreadClosed }

// ApprovalRequestedEvent is broadcast when an approval request is enqueued.
type ApprovalRequestedEvent struct {
	ApprovalID string    `json:"approval_id"`
	ThreadID   string    `json:"thread_id"`
	Action     string    `json:"action"`
	Timestamp_ time.Time `json:"timestamp"`
}

func (e *ApprovalRequestedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *ApprovalRequestedEvent) Type() EventType      { return EventApprovalRequested }

// ApprovalResolvedEvent is broadcast when an approval request reaches a
// terminal status.
type ApprovalResolvedEvent struct {
	ApprovalID string    `json:"approval_id"`
	ThreadID   string    `json:"thread_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp_ time.Time `json:"timestamp"`
}

func (e *ApprovalResolvedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *ApprovalResolvedEvent) Type() EventType      { return EventApprovalResolved }
