package gorm

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/jules-command/pkg/models"
)

// DefaultActivityWindow is how many recent activities are loaded when no limit is given.
const DefaultActivityWindow = 100

// ActivityStore provides activity-related database operations using GORM.
type ActivityStore struct {
	db *gorm.DB
}

// NewActivityStore creates a new activity store.
func NewActivityStore(store *Store) *ActivityStore {
	return &ActivityStore{db: store.DB}
}

// InsertActivities stores activities, skipping any whose ID is already present.
// Returns the number of rows actually inserted.
func (s *ActivityStore) InsertActivities(ctx context.Context, activities []models.Activity) (int64, error) {
	if len(activities) == 0 {
		return 0, nil
	}

	rows := make([]*Activity, len(activities))
	for i := range activities {
		rows[i] = fromModelActivity(&activities[i])
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rows)
	return result.RowsAffected, result.Error
}

// GetRecentActivities returns up to limit activities for a session, newest first.
func (s *ActivityStore) GetRecentActivities(ctx context.Context, sessionID string, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityWindow
	}

	var rows []Activity
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at_epoch DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.Activity, len(rows))
	for i := range rows {
		out[i] = toModelActivity(&rows[i])
	}
	return out, nil
}
