package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/types"
)

// RedisStore persists threads and checkpoints in Redis. Checkpoints live
// as JSON values indexed by a per-thread sorted set scored by sequence;
// the sequence itself comes from an atomic INCR per thread, so it stays
// monotonic even with multiple writers sharing the store.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	logger    *zap.Logger
}

// NewRedisStore verifies connectivity and returns a Redis-backed store.
func NewRedisStore(client *redis.Client, prefix string, retention time.Duration, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "taskmesh:"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to connect to redis").WithCause(err)
	}

	return &RedisStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
		logger:    logger.With(zap.String("store", "redis_checkpoint")),
	}, nil
}

func (s *RedisStore) threadKey(threadID string) string {
	return s.prefix + "thread:" + threadID
}

func (s *RedisStore) threadSetKey() string {
	return s.prefix + "threads"
}

func (s *RedisStore) seqKey(threadID string) string {
	return s.prefix + "thread:" + threadID + ":seq"
}

func (s *RedisStore) indexKey(threadID string) string {
	return s.prefix + "thread:" + threadID + ":ckpts"
}

func (s *RedisStore) checkpointKey(checkpointID string) string {
	return s.prefix + "ckpt:" + checkpointID
}

func (s *RedisStore) CreateThread(ctx context.Context, config ThreadConfig) (*Thread, error) {
	thread := &Thread{
		ID:        uuid.New().String(),
		Namespace: config.Namespace,
		Metadata:  config.Metadata,
		CreatedAt: time.Now(),
	}
	if err := s.writeThread(ctx, thread); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.threadSetKey(), thread.ID).Err(); err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to index thread").WithCause(err)
	}
	return thread, nil
}

func (s *RedisStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	data, err := s.client.Get(ctx, s.threadKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.Errorf(types.ErrThreadNotFound, "thread not found: %s", threadID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load thread").WithCause(err)
	}

	var thread Thread
	if err := json.Unmarshal(data, &thread); err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to unmarshal thread").WithCause(err)
	}
	return &thread, nil
}

func (s *RedisStore) CloseThread(ctx context.Context, threadID string) error {
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.ClosedAt != nil {
		return nil
	}
	now := time.Now()
	thread.ClosedAt = &now
	return s.writeThread(ctx, thread)
}

func (s *RedisStore) SaveCheckpoint(ctx context.Context, threadID string, phase Phase, payload any, metadata map[string]any) (*Checkpoint, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}

	seq, err := s.client.Incr(ctx, s.seqKey(threadID)).Result()
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to allocate sequence").WithCause(err)
	}

	cp := &Checkpoint{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Sequence:  seq,
		Phase:     phase,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := s.writeCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	err = s.client.ZAdd(ctx, s.indexKey(threadID), redis.Z{
		Score:  float64(seq),
		Member: cp.ID,
	}).Err()
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to index checkpoint").WithCause(err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("checkpoint_id", cp.ID),
		zap.String("thread_id", threadID),
		zap.Int64("sequence", seq),
	)
	return cp, nil
}

func (s *RedisStore) LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to list checkpoints").WithCause(err)
	}
	for _, id := range ids {
		cp, err := s.readCheckpoint(ctx, id)
		if err != nil {
			return nil, err
		}
		if !cp.Superseded {
			return cp, nil
		}
	}
	return nil, nil
}

func (s *RedisStore) CheckpointHistory(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to list checkpoints").WithCause(err)
	}

	history := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(history) >= limit {
			break
		}
		cp, err := s.readCheckpoint(ctx, id)
		if err != nil {
			return nil, err
		}
		if !cp.Superseded {
			history = append(history, cp)
		}
	}
	return history, nil
}

func (s *RedisStore) RevertToCheckpoint(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	target, err := s.readCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if target.ThreadID != threadID || target.Superseded {
		return nil, types.Errorf(types.ErrCheckpointNotFound, "checkpoint not found: %s", checkpointID)
	}

	min := fmt.Sprintf("(%d", target.Sequence)
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(threadID), &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to list later checkpoints").WithCause(err)
	}

	for _, id := range ids {
		cp, err := s.readCheckpoint(ctx, id)
		if err != nil {
			return nil, err
		}
		if cp.Superseded {
			continue
		}
		cp.Superseded = true
		if err := s.writeCheckpoint(ctx, cp); err != nil {
			return nil, err
		}
	}

	s.logger.Info("thread reverted",
		zap.String("thread_id", threadID),
		zap.String("checkpoint_id", checkpointID),
		zap.Int64("sequence", target.Sequence),
	)
	return target, nil
}

func (s *RedisStore) ThreadStats(ctx context.Context) (*ThreadStats, error) {
	ids, err := s.client.SMembers(ctx, s.threadSetKey()).Result()
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to list threads").WithCause(err)
	}

	stats := &ThreadStats{CheckpointsPerThread: make(map[string]int)}
	for _, id := range ids {
		thread, err := s.GetThread(ctx, id)
		if err != nil {
			return nil, err
		}
		if thread.ClosedAt == nil {
			stats.ActiveThreads++
		} else {
			stats.ClosedThreads++
		}

		count, err := s.client.ZCard(ctx, s.indexKey(id)).Result()
		if err != nil {
			return nil, types.NewError(types.ErrPersistence, "failed to count checkpoints").WithCause(err)
		}
		stats.CheckpointsPerThread[id] = int(count)
		stats.TotalCheckpoints += int(count)
	}
	return stats, nil
}

func (s *RedisStore) Cleanup(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	ids, err := s.client.SMembers(ctx, s.threadSetKey()).Result()
	if err != nil {
		return types.NewError(types.ErrPersistence, "failed to list threads").WithCause(err)
	}

	cutoff := time.Now().Add(-s.retention)
	for _, id := range ids {
		thread, err := s.GetThread(ctx, id)
		if err != nil {
			continue
		}
		if thread.ClosedAt == nil || !thread.ClosedAt.Before(cutoff) {
			continue
		}

		ckptIDs, err := s.client.ZRange(ctx, s.indexKey(id), 0, -1).Result()
		if err != nil {
			return types.NewError(types.ErrPersistence, "failed to list checkpoints").WithCause(err)
		}
		keys := make([]string, 0, len(ckptIDs)+3)
		for _, ckptID := range ckptIDs {
			keys = append(keys, s.checkpointKey(ckptID))
		}
		keys = append(keys, s.indexKey(id), s.seqKey(id), s.threadKey(id))
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return types.NewError(types.ErrPersistence, "failed to delete thread keys").WithCause(err)
		}
		if err := s.client.SRem(ctx, s.threadSetKey(), id).Err(); err != nil {
			return types.NewError(types.ErrPersistence, "failed to unindex thread").WithCause(err)
		}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) writeThread(ctx context.Context, thread *Thread) error {
	data, err := json.Marshal(thread)
	if err != nil {
		return types.NewError(types.ErrPersistence, "failed to marshal thread").WithCause(err)
	}
	if err := s.client.Set(ctx, s.threadKey(thread.ID), data, 0).Err(); err != nil {
		return types.NewError(types.ErrPersistence, "failed to save thread").WithCause(err)
	}
	return nil
}

func (s *RedisStore) writeCheckpoint(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return types.NewError(types.ErrPersistence, "failed to marshal checkpoint").WithCause(err)
	}
	if err := s.client.Set(ctx, s.checkpointKey(cp.ID), data, 0).Err(); err != nil {
		return types.NewError(types.ErrPersistence, "failed to save checkpoint").WithCause(err)
	}
	return nil
}

func (s *RedisStore) readCheckpoint(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.Errorf(types.ErrCheckpointNotFound, "checkpoint not found: %s", checkpointID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load checkpoint").WithCause(err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to unmarshal checkpoint").WithCause(err)
	}
	return &cp, nil
}
