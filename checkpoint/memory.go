package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/types"
)

// threadLog is one thread's append-only checkpoint log.
type threadLog struct {
	thread      *Thread
	checkpoints []*Checkpoint
	nextSeq     int64
}

// MemoryStore keeps threads and checkpoints in process memory. Suitable
// for tests and development; state does not survive a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	threads   map[string]*threadLog
	retention time.Duration
	closed    bool
}

// NewMemoryStore creates an in-memory store. Retention bounds how long a
// closed thread's history is kept by Cleanup; zero means forever.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		threads:   make(map[string]*threadLog),
		retention: retention,
	}
}

func (s *MemoryStore) CreateThread(ctx context.Context, config ThreadConfig) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreClosed, "store is closed")
	}

	thread := &Thread{
		ID:        uuid.New().String(),
		Namespace: config.Namespace,
		Metadata:  config.Metadata,
		CreatedAt: time.Now(),
	}
	s.threads[thread.ID] = &threadLog{thread: thread, nextSeq: 1}
	return thread, nil
}

func (s *MemoryStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.threads[threadID]
	if !ok {
		return nil, types.Errorf(types.ErrThreadNotFound, "thread not found: %s", threadID)
	}
	t := *log.thread
	return &t, nil
}

func (s *MemoryStore) CloseThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.threads[threadID]
	if !ok {
		return types.Errorf(types.ErrThreadNotFound, "thread not found: %s", threadID)
	}
	if log.thread.ClosedAt == nil {
		now := time.Now()
		log.thread.ClosedAt = &now
	}
	return nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, threadID string, phase Phase, payload any, metadata map[string]any) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreClosed, "store is closed")
	}
	log, ok := s.threads[threadID]
	if !ok {
		return nil, types.Errorf(types.ErrThreadNotFound, "thread not found: %s", threadID)
	}

	cp := &Checkpoint{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Sequence:  log.nextSeq,
		Phase:     phase,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	log.nextSeq++
	log.checkpoints = append(log.checkpoints, cp)
	return cp, nil
}

func (s *MemoryStore) LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.threads[threadID]
	if !ok {
		return nil, types.Errorf(types.ErrThreadNotFound, "thread not found: %s", threadID)
	}
	for i := len(log.checkpoints) - 1; i >= 0; i-- {
		if !log.checkpoints[i].Superseded {
			cp := *log.checkpoints[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CheckpointHistory(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.threads[threadID]
	if !ok {
		return nil, types.Errorf(types.ErrThreadNotFound, "thread not found: %s", threadID)
	}

	history := make([]*Checkpoint, 0, len(log.checkpoints))
	for i := len(log.checkpoints) - 1; i >= 0; i-- {
		if limit > 0 && len(history) >= limit {
			break
		}
		if log.checkpoints[i].Superseded {
			continue
		}
		cp := *log.checkpoints[i]
		history = append(history, &cp)
	}
	return history, nil
}

func (s *MemoryStore) RevertToCheckpoint(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.threads[threadID]
	if !ok {
		return nil, types.Errorf(types.ErrThreadNotFound, "thread not found: %s", threadID)
	}

	var target *Checkpoint
	for _, cp := range log.checkpoints {
		if cp.ID == checkpointID {
			target = cp
			break
		}
	}
	if target == nil || target.Superseded {
		return nil, types.Errorf(types.ErrCheckpointNotFound, "checkpoint not found: %s", checkpointID)
	}

	for _, cp := range log.checkpoints {
		if cp.Sequence > target.Sequence {
			cp.Superseded = true
		}
	}

	result := *target
	return &result, nil
}

func (s *MemoryStore) ThreadStats(ctx context.Context) (*ThreadStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &ThreadStats{CheckpointsPerThread: make(map[string]int)}
	for id, log := range s.threads {
		if log.thread.ClosedAt == nil {
			stats.ActiveThreads++
		} else {
			stats.ClosedThreads++
		}
		stats.CheckpointsPerThread[id] = len(log.checkpoints)
		stats.TotalCheckpoints += len(log.checkpoints)
	}
	return stats, nil
}

func (s *MemoryStore) Cleanup(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	for id, log := range s.threads {
		if log.thread.ClosedAt != nil && log.thread.ClosedAt.Before(cutoff) {
			delete(s.threads, id)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
