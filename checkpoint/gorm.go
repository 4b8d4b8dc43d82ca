package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskmesh/taskmesh/types"
)

// threadRow is the persisted thread schema.
type threadRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Namespace string `gorm:"size:128;index"`
	Metadata  []byte
	CreatedAt time.Time
	ClosedAt  *time.Time `gorm:"index"`
}

func (threadRow) TableName() string { return "threads" }

// checkpointRow is the persisted checkpoint schema. The unique index on
// (thread_id, sequence) is what prevents lost updates when two writers
// share one store.
type checkpointRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	ThreadID   string `gorm:"size:64;not null;uniqueIndex:idx_thread_sequence,priority:1"`
	Sequence   int64  `gorm:"not null;uniqueIndex:idx_thread_sequence,priority:2"`
	Phase      string `gorm:"size:32"`
	Payload    []byte
	Metadata   []byte
	Superseded bool `gorm:"not null;default:false;index"`
	CreatedAt  time.Time
}

func (checkpointRow) TableName() string { return "checkpoints" }

// GormStore persists threads and checkpoints through GORM. Works with any
// dialector; the pure-go sqlite driver is used in tests and the default
// single-node deployment.
type GormStore struct {
	db        *gorm.DB
	retention time.Duration
	logger    *zap.Logger
	closeOnce sync.Once
}

// NewGormStore migrates the schema and returns a store. A nil logger
// falls back to zap.NewNop.
func NewGormStore(db *gorm.DB, retention time.Duration, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&threadRow{}, &checkpointRow{}); err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to migrate checkpoint schema").WithCause(err)
	}
	return &GormStore{
		db:        db,
		retention: retention,
		logger:    logger.With(zap.String("store", "gorm_checkpoint")),
	}, nil
}

func (s *GormStore) CreateThread(ctx context.Context, config ThreadConfig) (*Thread, error) {
	metadata, err := marshalMeta(config.Metadata)
	if err != nil {
		return nil, err
	}

	row := threadRow{
		ID:        uuid.New().String(),
		Namespace: config.Namespace,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to create thread").WithCause(err)
	}

	s.logger.Debug("thread created",
		zap.String("thread_id", row.ID),
		zap.String("namespace", row.Namespace),
	)
	return threadFromRow(&row, config.Metadata), nil
}

func (s *GormStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	var row threadRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", threadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrThreadNotFound, "thread not found: %s", threadID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load thread").WithCause(err)
	}

	meta, err := unmarshalMeta(row.Metadata)
	if err != nil {
		return nil, err
	}
	return threadFromRow(&row, meta), nil
}

func (s *GormStore) CloseThread(ctx context.Context, threadID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&threadRow{}).
		Where("id = ? AND closed_at IS NULL", threadID).
		Update("closed_at", &now)
	if result.Error != nil {
		return types.NewError(types.ErrPersistence, "failed to close thread").WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		s.db.WithContext(ctx).Model(&threadRow{}).Where("id = ?", threadID).Count(&count)
		if count == 0 {
			return types.Errorf(types.ErrThreadNotFound, "thread not found: %s", threadID)
		}
		// Already closed; closing is idempotent.
	}
	return nil
}

func (s *GormStore) SaveCheckpoint(ctx context.Context, threadID string, phase Phase, payload any, metadata map[string]any) (*Checkpoint, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to marshal payload").WithCause(err)
	}
	metaJSON, err := marshalMeta(metadata)
	if err != nil {
		return nil, err
	}

	row := checkpointRow{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Phase:     string(phase),
		Payload:   payloadJSON,
		Metadata:  metaJSON,
		CreatedAt: time.Now(),
	}

	// Sequence allocation and insert run in one transaction; the unique
	// (thread_id, sequence) index catches concurrent writers.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&threadRow{}).Where("id = ?", threadID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return types.Errorf(types.ErrThreadNotFound, "thread not found: %s", threadID)
		}

		var maxSeq int64
		if err := tx.Model(&checkpointRow{}).
			Where("thread_id = ?", threadID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		row.Sequence = maxSeq + 1
		return tx.Create(&row).Error
	})
	if err != nil {
		if types.IsCode(err, types.ErrThreadNotFound) {
			return nil, err
		}
		return nil, types.NewError(types.ErrPersistence, "failed to save checkpoint").WithCause(err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("checkpoint_id", row.ID),
		zap.String("thread_id", threadID),
		zap.Int64("sequence", row.Sequence),
		zap.String("phase", string(phase)),
	)
	return checkpointFromRow(&row)
}

func (s *GormStore) LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}

	var row checkpointRow
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND superseded = ?", threadID, false).
		Order("sequence DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load checkpoint").WithCause(err)
	}
	return checkpointFromRow(&row)
}

func (s *GormStore) CheckpointHistory(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Where("thread_id = ? AND superseded = ?", threadID, false).
		Order("sequence DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []checkpointRow
	err := query.Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load history").WithCause(err)
	}

	history := make([]*Checkpoint, 0, len(rows))
	for i := range rows {
		cp, err := checkpointFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		history = append(history, cp)
	}
	return history, nil
}

func (s *GormStore) RevertToCheckpoint(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	var target checkpointRow

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND thread_id = ? AND superseded = ?", checkpointID, threadID, false).
			First(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Errorf(types.ErrCheckpointNotFound, "checkpoint not found: %s", checkpointID)
		}
		if err != nil {
			return err
		}

		return tx.Model(&checkpointRow{}).
			Where("thread_id = ? AND sequence > ?", threadID, target.Sequence).
			Update("superseded", true).Error
	})
	if err != nil {
		if types.IsCode(err, types.ErrCheckpointNotFound) {
			return nil, err
		}
		return nil, types.NewError(types.ErrPersistence, "failed to revert").WithCause(err)
	}

	s.logger.Info("thread reverted",
		zap.String("thread_id", threadID),
		zap.String("checkpoint_id", checkpointID),
		zap.Int64("sequence", target.Sequence),
	)
	return checkpointFromRow(&target)
}

func (s *GormStore) ThreadStats(ctx context.Context) (*ThreadStats, error) {
	stats := &ThreadStats{CheckpointsPerThread: make(map[string]int)}

	var threads []threadRow
	if err := s.db.WithContext(ctx).Find(&threads).Error; err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to list threads").WithCause(err)
	}
	for _, t := range threads {
		if t.ClosedAt == nil {
			stats.ActiveThreads++
		} else {
			stats.ClosedThreads++
		}
	}

	type perThread struct {
		ThreadID string
		Count    int
	}
	var counts []perThread
	err := s.db.WithContext(ctx).Model(&checkpointRow{}).
		Select("thread_id, COUNT(*) as count").
		Group("thread_id").
		Scan(&counts).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to count checkpoints").WithCause(err)
	}
	for _, c := range counts {
		stats.CheckpointsPerThread[c.ThreadID] = c.Count
		stats.TotalCheckpoints += c.Count
	}
	return stats, nil
}

func (s *GormStore) Cleanup(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-s.retention)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []threadRow
		if err := tx.Where("closed_at IS NOT NULL AND closed_at < ?", cutoff).Find(&expired).Error; err != nil {
			return err
		}
		for _, t := range expired {
			if err := tx.Where("thread_id = ?", t.ID).Delete(&checkpointRow{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&threadRow{}, "id = ?", t.ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			err = dbErr
			return
		}
		err = sqlDB.Close()
	})
	return err
}

func threadFromRow(row *threadRow, metadata map[string]any) *Thread {
	return &Thread{
		ID:        row.ID,
		Namespace: row.Namespace,
		Metadata:  metadata,
		CreatedAt: row.CreatedAt,
		ClosedAt:  row.ClosedAt,
	}
}

func checkpointFromRow(row *checkpointRow) (*Checkpoint, error) {
	var payload any
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, types.NewError(types.ErrPersistence, "failed to unmarshal payload").WithCause(err)
		}
	}
	meta, err := unmarshalMeta(row.Metadata)
	if err != nil {
		return nil, err
	}
	return &Checkpoint{
		ID:         row.ID,
		ThreadID:   row.ThreadID,
		Sequence:   row.Sequence,
		Phase:      Phase(row.Phase),
		Payload:    payload,
		Metadata:   meta,
		Superseded: row.Superseded,
		CreatedAt:  row.CreatedAt,
	}, nil
}

func marshalMeta(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to marshal metadata").WithCause(err)
	}
	return data, nil
}

func unmarshalMeta(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to unmarshal metadata").WithCause(err)
	}
	return meta, nil
}
