package dedup

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/model"
)

// GormStore keeps seen event ids in the intake_events table
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a new database backed dedup store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Accept inserts the id and relies on the unique index to detect duplicates
func (s *GormStore) Accept(ctx context.Context, eventID string) (Outcome, error) {
	record := model.DedupRecord{EventID: eventID, FirstSeenAt: s.now().UTC()}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		return Accepted, errs.Transient("dedup.accept", result.Error)
	}
	if result.RowsAffected == 0 {
		return Duplicate, nil
	}
	return Accepted, nil
}

// Forget deletes the record for eventID
func (s *GormStore) Forget(ctx context.Context, eventID string) error {
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Delete(&model.DedupRecord{}).Error
	return errs.Transient("dedup.forget", err)
}

// Purge deletes records older than before
func (s *GormStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("first_seen_at < ?", before.UTC()).Delete(&model.DedupRecord{})
	if result.Error != nil {
		return 0, errs.Transient("dedup.purge", result.Error)
	}
	return result.RowsAffected, nil
}
