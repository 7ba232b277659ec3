package store

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SegmentEntry records a segment that was written to the disk cache.
type SegmentEntry struct {
	ID        uint   `gorm:"primaryKey"`
	StreamID  string `gorm:"not null;uniqueIndex:idx_stream_segment"`
	SegmentID string `gorm:"not null;uniqueIndex:idx_stream_segment"`
	Size      int
	Source    string
	Provider  string
	LatencyMs int64
	SpeedMbps float64
	Path      string
	CreatedAt int64
}

type Index struct {
	DB *gorm.DB
}

func OpenIndex(path string) (*Index, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening segment index: %w", err)
	}
	return NewIndex(db)
}

func NewIndex(db *gorm.DB) (*Index, error) {
	if err := db.AutoMigrate(&SegmentEntry{}); err != nil {
		return nil, fmt.Errorf("migrating segment index: %w", err)
	}
	return &Index{DB: db}, nil
}

// Record stores entry unless the segment is already indexed.
func (ix *Index) Record(ctx context.Context, entry SegmentEntry) error {
	return ix.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry).Error
}

func (ix *Index) Segments(ctx context.Context, streamID string) ([]SegmentEntry, error) {
	var entries []SegmentEntry
	err := ix.DB.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (ix *Index) Forget(ctx context.Context, streamID, segmentID string) error {
	return ix.DB.WithContext(ctx).
		Where("stream_id = ? AND segment_id = ?", streamID, segmentID).
		Delete(&SegmentEntry{}).Error
}

func (ix *Index) Close() error {
	sqlDB, err := ix.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
