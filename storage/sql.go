package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/raykavin/trailbot/core"
)

// ClosedPositionModel is the SQL row for one closed position. The full
// position document is kept as JSON; the indexed columns exist for queries.
type ClosedPositionModel struct {
	ID         uint   `gorm:"primaryKey"`
	Pair       string `gorm:"uniqueIndex:idx_pair_position"`
	PositionID string `gorm:"uniqueIndex:idx_pair_position"`
	Document   string
	CreatedAt  time.Time
}

// ClosedFillModel marks one originating fill of a closed position.
type ClosedFillModel struct {
	ID         uint   `gorm:"primaryKey"`
	Pair       string `gorm:"uniqueIndex:idx_pair_fill"`
	FillID     string `gorm:"uniqueIndex:idx_pair_fill"`
	PositionID string
	CreatedAt  time.Time
}

// SQLClosedLog implements core.ClosedLog on a SQL database via GORM.
type SQLClosedLog struct {
	db *gorm.DB
}

// NewSQLiteClosedLog opens a SQLite-backed closed log at the given path.
func NewSQLiteClosedLog(path string, opts ...gorm.Option) (*SQLClosedLog, error) {
	return NewSQLClosedLog(sqlite.Open(path), opts...)
}

// NewSQLClosedLog opens the database and runs the migrations.
func NewSQLClosedLog(dialect gorm.Dialector, opts ...gorm.Option) (*SQLClosedLog, error) {
	db, err := gorm.Open(dialect, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&ClosedPositionModel{}, &ClosedFillModel{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLClosedLog{db: db}, nil
}

// Append implements core.ClosedLog.
func (s *SQLClosedLog) Append(pair string, position *core.TrailingPosition) error {
	content, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("failed to marshal closed position: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		record := ClosedPositionModel{
			Pair:       pair,
			PositionID: position.ID,
			Document:   string(content),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create closed position: %w", err)
		}

		for _, fillID := range position.OpeningOrder {
			marker := ClosedFillModel{
				Pair:       pair,
				FillID:     fillID,
				PositionID: position.ID,
			}
			if err := tx.Create(&marker).Error; err != nil {
				return fmt.Errorf("failed to create fill marker: %w", err)
			}
		}

		return nil
	})
}

// Contains implements core.ClosedLog.
func (s *SQLClosedLog) Contains(pair, fillID string) (bool, error) {
	var marker ClosedFillModel
	err := s.db.Where("pair = ? AND fill_id = ?", pair, fillID).First(&marker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query fill marker: %w", err)
	}
	return true, nil
}

// Closed returns the closed positions of a pair, keyed by position id.
func (s *SQLClosedLog) Closed(pair string) (map[string]*core.TrailingPosition, error) {
	var records []ClosedPositionModel
	if err := s.db.Where("pair = ?", pair).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch closed positions: %w", err)
	}

	closed := make(map[string]*core.TrailingPosition, len(records))
	for _, record := range records {
		var position core.TrailingPosition
		if err := json.Unmarshal([]byte(record.Document), &position); err != nil {
			continue // skip unreadable record
		}
		closed[record.PositionID] = &position
	}

	return closed, nil
}

// Close implements core.ClosedLog.
func (s *SQLClosedLog) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
