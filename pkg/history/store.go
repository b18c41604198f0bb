// Package history persists completed calibration sessions in SQLite.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/offlinefirst/visionfix/pkg/calibration"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history store closed")

// CalibrationRecord is the persisted form of a calibration result.
type CalibrationRecord struct {
	ID               uint      `gorm:"primaryKey"`
	SessionID        string    `gorm:"size:64;uniqueIndex"`
	Profile          string    `gorm:"size:128;index"`
	StartedAt        time.Time `gorm:"index"`
	CompletedAt      time.Time
	AccuracyEstimate float64
	MeanError        float64
	Samples          int
	CreatedAt        time.Time
}

// TableName pins the table name independent of gorm's pluralisation rules.
func (CalibrationRecord) TableName() string { return "calibration_results" }

// Result converts the record back into a calibration result.
func (r CalibrationRecord) Result() calibration.Result {
	return calibration.Result{
		SessionID:        r.SessionID,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		AccuracyEstimate: r.AccuracyEstimate,
		MeanError:        r.MeanError,
		Samples:          r.Samples,
	}
}

// Store is a gorm-backed calibration history.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the history database at path. The special path
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: database path must not be empty")
	}
	dsn := "file::memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&CalibrationRecord{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one connection keeps in-memory databases shared across calls
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Record stores a completed calibration result for profile. Recording the
// same session twice updates the stored values.
func (s *Store) Record(ctx context.Context, profile string, result calibration.Result) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if strings.TrimSpace(result.SessionID) == "" {
		return errors.New("history: result has no session id")
	}
	rec := CalibrationRecord{
		SessionID:        result.SessionID,
		Profile:          strings.TrimSpace(profile),
		StartedAt:        result.StartedAt.UTC(),
		CompletedAt:      result.CompletedAt.UTC(),
		AccuracyEstimate: result.AccuracyEstimate,
		MeanError:        result.MeanError,
		Samples:          result.Samples,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"profile", "completed_at", "accuracy_estimate", "mean_error", "samples"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("history: record %s: %w", result.SessionID, err)
	}
	return nil
}

// ListOptions filters List.
type ListOptions struct {
	Profile string
	Limit   int
}

// List returns stored records, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]CalibrationRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	q := s.db.WithContext(ctx).Model(&CalibrationRecord{}).Order("completed_at DESC").Order("id DESC")
	if p := strings.TrimSpace(opts.Profile); p != "" {
		q = q.Where("profile = ?", p)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var out []CalibrationRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	s.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
