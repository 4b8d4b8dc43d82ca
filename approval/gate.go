package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/event"
	"github.com/taskmesh/taskmesh/types"
)

// Status is an approval request's state. All non-pending states are
// terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimedOut Status = "timed_out"
)

// ReasonTimeout is the decision reason attached when a request expires.
const ReasonTimeout = "timeout"

// ReasonThreadClosed is the decision reason attached when the owning
// thread closes while the request is still pending.
const ReasonThreadClosed = "thread closed"

// Action describes the operation awaiting approval.
type Action struct {
	Operation string         `json:"operation"`
	Content   string         `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Decision is the terminal outcome of an approval request.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// Request is a pending or resolved approval request. Wait blocks until
// the request resolves.
type Request struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"thread_id"`
	Action      Action     `json:"action"`
	Status      Status     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Decision    *Decision  `json:"decision,omitempty"`

	done  chan struct{}
	timer *time.Timer
}

// Wait blocks until the request resolves or ctx is cancelled. A timeout
// resolution is not an error; the decision simply carries approved=false
// with the timeout reason.
func (r *Request) Wait(ctx context.Context) (Decision, error) {
	select {
	case <-r.done:
		return *r.Decision, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Gate owns the in-memory approval queue. Requests are not durable; a
// restart drops pending approvals, and callers re-request on replay.
type Gate struct {
	mu       sync.Mutex
	requests map[string]*Request
	bus      event.Bus
	logger   *zap.Logger
}

// NewGate creates an approval gate. The bus may be nil.
func NewGate(bus event.Bus, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		requests: make(map[string]*Request),
		bus:      bus,
		logger:   logger.With(zap.String("component", "approval_gate")),
	}
}

// Request enqueues a pending approval and starts its expiry timer. The
// returned request's Wait resolves on approve, reject, or timeout.
func (g *Gate) Request(threadID string, action Action, timeout time.Duration) *Request {
	req := &Request{
		ID:          uuid.New().String(),
		ThreadID:    threadID,
		Action:      action,
		Status:      StatusPending,
		RequestedAt: time.Now(),
		done:        make(chan struct{}),
	}

	g.mu.Lock()
	g.requests[req.ID] = req
	if timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() {
			g.expire(req.ID)
		})
	}
	g.mu.Unlock()

	g.logger.Info("approval requested",
		zap.String("approval_id", req.ID),
		zap.String("thread_id", threadID),
		zap.String("operation", action.Operation),
		zap.Duration("timeout", timeout),
	)

	if g.bus != nil {
		g.bus.Publish(&event.ApprovalRequestedEvent{
			ApprovalID: req.ID,
			ThreadID:   threadID,
			Action:     action.Operation,
			Timestamp_: time.Now(),
		})
	}
	return req
}

// Approve resolves a pending request in favour of execution. Errors if
// the request is unknown or already resolved.
func (g *Gate) Approve(approvalID, feedback string) error {
	return g.resolve(approvalID, StatusApproved, Decision{Approved: true, Feedback: feedback})
}

// Reject resolves a pending request against execution.
func (g *Gate) Reject(approvalID, reason string) error {
	return g.resolve(approvalID, StatusRejected, Decision{Approved: false, Reason: reason})
}

// Get returns a request by id, pending or resolved.
func (g *Gate) Get(approvalID string) (*Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requests[approvalID]
	if !ok {
		return nil, types.Errorf(types.ErrApprovalNotFound, "approval request not found: %s", approvalID)
	}
	return req, nil
}

// Pending returns the pending requests, optionally filtered by thread.
func (g *Gate) Pending(threadID string) []*Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	requests := make([]*Request, 0)
	for _, req := range g.requests {
		if req.Status != StatusPending {
			continue
		}
		if threadID == "" || req.ThreadID == threadID {
			requests = append(requests, req)
		}
	}
	return requests
}

// PendingCount returns the number of pending requests across all threads.
func (g *Gate) PendingCount() int {
	return len(g.Pending(""))
}

// CancelThread rejects every pending request scoped to a thread and
// drops the thread's resolved requests from the queue. Called when the
// thread closes; returns how many pending requests were rejected.
func (g *Gate) CancelThread(threadID string) int {
	g.mu.Lock()
	var pending []string
	for id, req := range g.requests {
		if req.ThreadID != threadID {
			continue
		}
		if req.Status == StatusPending {
			pending = append(pending, id)
		} else {
			delete(g.requests, id)
		}
	}
	g.mu.Unlock()

	rejected := 0
	for _, id := range pending {
		// A racing approver may win; only count requests we rejected.
		if err := g.Reject(id, ReasonThreadClosed); err == nil {
			rejected++
		}
	}

	g.mu.Lock()
	for _, id := range pending {
		delete(g.requests, id)
	}
	g.mu.Unlock()

	return rejected
}

// expire is the timer callback resolving a request as timed out.
func (g *Gate) expire(approvalID string) {
	err := g.resolve(approvalID, StatusTimedOut, Decision{Approved: false, Reason: ReasonTimeout})
	if err == nil {
		g.logger.Warn("approval request timed out", zap.String("approval_id", approvalID))
	}
}

// resolve is the single resolution point: exactly one caller transitions
// a request out of pending; later callers get APPROVAL_RESOLVED.
func (g *Gate) resolve(approvalID string, status Status, decision Decision) error {
	g.mu.Lock()
	req, ok := g.requests[approvalID]
	if !ok {
		g.mu.Unlock()
		return types.Errorf(types.ErrApprovalNotFound, "approval request not found: %s", approvalID)
	}
	if req.Status != StatusPending {
		g.mu.Unlock()
		return types.Errorf(types.ErrApprovalResolved,
			"approval request %s already resolved: %s", approvalID, req.Status)
	}

	now := time.Now()
	req.Status = status
	req.Decision = &decision
	req.ResolvedAt = &now
	if req.timer != nil {
		req.timer.Stop()
	}
	close(req.done)
	g.mu.Unlock()

	g.logger.Info("approval resolved",
		zap.String("approval_id", approvalID),
		zap.String("status", string(status)),
		zap.Bool("approved", decision.Approved),
	)

	if g.bus != nil {
		g.bus.Publish(&event.ApprovalResolvedEvent{
			ApprovalID: approvalID,
			ThreadID:   req.ThreadID,
			Status:     string(status),
			Reason:     decision.Reason,
			Timestamp_: now,
		})
	}
	return nil
}
