// Package ledger records pipeline invocations in a SQLite database.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/twpayne/go-terrain/pipeline"
)

// A Job is the record of a pipeline invocation.
type Job struct {
	ID         string         `gorm:"primaryKey" json:"id"`
	BaseName   string         `json:"base_name"`
	Outputs    string         `json:"outputs"`
	Entries    datatypes.JSON `json:"entries"`
	Stages     datatypes.JSON `json:"stages"`
	Failures   int            `json:"failures"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

// NewJob returns the record of a completed invocation.
func NewJob(report *pipeline.Report) (*Job, error) {
	entries, err := json.Marshal(report.Entries)
	if err != nil {
		return nil, err
	}
	stages, err := json.Marshal(report.Stages)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:         report.ID,
		BaseName:   report.BaseName,
		Outputs:    report.Outputs.String(),
		Entries:    datatypes.JSON(entries),
		Stages:     datatypes.JSON(stages),
		Failures:   report.Failures(),
		DurationMS: report.Duration.Milliseconds(),
		CreatedAt:  time.Now(),
	}, nil
}

// NewFailedJob returns the record of an invocation that failed with err.
func NewFailedJob(req *pipeline.Request, duration time.Duration, err error) *Job {
	return &Job{
		ID:         req.ID,
		Outputs:    req.Outputs.String(),
		Entries:    datatypes.JSON("[]"),
		Stages:     datatypes.JSON("[]"),
		Error:      err.Error(),
		DurationMS: duration.Milliseconds(),
		CreatedAt:  time.Now(),
	}
}

// A Ledger is a job ledger.
type Ledger struct {
	db *gorm.DB
}

// Open opens the ledger at path, creating it if needed.
func Open(path string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, err
	}
	return &Ledger{
		db: db,
	}, nil
}

// Close closes l.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record records job.
func (l *Ledger) Record(ctx context.Context, job *Job) error {
	return l.db.WithContext(ctx).Create(job).Error
}

// Recent returns up to limit jobs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Job, error) {
	var jobs []Job
	if err := l.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
