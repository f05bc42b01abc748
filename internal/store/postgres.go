package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/neurobridge-backend/internal/logger"
)

// Store wraps a *gorm.DB with the control plane's transactional operations.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open connects to the configured driver and runs migrations, including the
// one-time reconciliation of any pre-existing multiple-in-progress rows (see
// DESIGN.md's "Migration policy" decision).
func Open(driver, dsn string, log *logger.Logger) (*Store, error) {
	gcfg := &gorm.Config{
		Logger: gormLogger.New(
			stdLogWriter{log: log},
			gormLogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormLogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	}

	var db *gorm.DB
	var err error
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), gcfg)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if driver == "postgres" {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
			log.Warn("store: could not ensure uuid-ossp extension (continuing)", "error", err)
		}
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.reconcileHistoricalInProgress(); err != nil {
		return nil, fmt.Errorf("store: reconcile historical in_progress rows: %w", err)
	}
	return s, nil
}

// reconcileHistoricalInProgress implements the Open Question decision: any
// pre-existing status=in_progress row beyond the earliest (by in_progress_at)
// is demoted back to validating, preserving current_chunk_index so it
// resumes cleanly once re-claimed. See DESIGN.md.
func (s *Store) reconcileHistoricalInProgress() error {
	var rows []Job
	if err := s.db.Where("status = ?", JobStatusInProgress).
		Order("in_progress_at ASC, created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) <= 1 {
		return nil
	}
	for _, j := range rows[1:] {
		s.log.Warn("store: demoting historical duplicate in_progress job to validating",
			"job_id", j.ID, "current_chunk_index", j.CurrentChunkIndex)
		if err := s.db.Model(&Job{}).Where("id = ?", j.ID).
			Updates(map[string]any{
				"status":         JobStatusValidating,
				"in_progress_at": nil,
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

// stdLogWriter adapts *logger.Logger to gorm's logger.Writer interface.
type stdLogWriter struct {
	log *logger.Logger
}

func (w stdLogWriter) Printf(format string, args ...interface{}) {
	w.log.Warn(fmt.Sprintf(format, args...))
}
