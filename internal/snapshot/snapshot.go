package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	apperrors "github.com/yungbote/pathsync/internal/pkg/errors"
	"github.com/yungbote/pathsync/internal/pkg/logger"
)

// CacheSnapshot holds one entity kind's serialized cache payload so a
// restarted client renders instantly while real fetches reconcile.
type CacheSnapshot struct {
	Kind      string         `gorm:"primaryKey;column:kind" json:"kind"`
	Payload   datatypes.JSON `gorm:"column:payload" json:"payload"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (CacheSnapshot) TableName() string { return "cache_snapshot" }

// ActiveJobRecord remembers which job was running for a path at the
// moment the client went away, so the next session can re-adopt it
// before LoadActiveJob confirms with the server.
type ActiveJobRecord struct {
	PathID    string    `gorm:"primaryKey;column:path_id" json:"path_id"`
	JobID     string    `gorm:"column:job_id;not null" json:"job_id"`
	Status    string    `gorm:"column:status;not null" json:"status"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ActiveJobRecord) TableName() string { return "active_job" }

type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

func Open(path string, baseLog *logger.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := db.AutoMigrate(&CacheSnapshot{}, &ActiveJobRecord{}); err != nil {
		return nil, fmt.Errorf("migrate snapshot db: %w", err)
	}
	return &Store{db: db, log: baseLog.With("component", "SnapshotStore")}, nil
}

func (s *Store) SaveCache(ctx context.Context, kind string, payload []byte) error {
	rec := CacheSnapshot{Kind: kind, Payload: datatypes.JSON(payload), UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// LoadCache returns nil with no error when no snapshot exists.
func (s *Store) LoadCache(ctx context.Context, kind string) ([]byte, error) {
	var rec CacheSnapshot
	err := s.db.WithContext(ctx).First(&rec, "kind = ?", kind).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(rec.Payload), nil
}

func (s *Store) SaveActiveJob(ctx context.Context, pathID, jobID, status string) error {
	rec := ActiveJobRecord{PathID: pathID, JobID: jobID, Status: status, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&rec).Error
}

func (s *Store) ActiveJob(ctx context.Context, pathID string) (*ActiveJobRecord, error) {
	var rec ActiveJobRecord
	err := s.db.WithContext(ctx).First(&rec, "path_id = ?", pathID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ClearActiveJob(ctx context.Context, pathID string) error {
	return s.db.WithContext(ctx).Delete(&ActiveJobRecord{}, "path_id = ?", pathID).Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
