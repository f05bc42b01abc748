package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/neurobridge-backend/internal/apierr"
)

// CreateFile inserts a new File row for a freshly-uploaded input file.
func (s *Store) CreateFile(ctx context.Context, f *File) error {
	return s.db.WithContext(ctx).Create(f).Error
}

// UpsertFile registers (or re-registers) an output/error File row. The
// worker calls this once per chunked stream at job completion; it is safe
// to call twice for the same id (e.g. after a watchdog restart re-runs
// finalization) since the row is keyed by id and the bytes on disk are
// identical either way.
func (s *Store) UpsertFile(ctx context.Context, f *File) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"bytes", "purpose", "filename"}),
	}).Create(f).Error
}

// GetFile returns a file by id.
func (s *Store) GetFile(ctx context.Context, id string) (*File, error) {
	var f File
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierr.New(apierr.KindNotFound, "file not found")
		}
		return nil, err
	}
	return &f, nil
}
