package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/jules-command/pkg/models"
)

// consecutiveUnchangedExpr counts polls in a row whose newest activity did not move.
// A cursor that has never been polled starts the run at zero.
const consecutiveUnchangedExpr = `CASE
	WHEN poll_cursors.poll_count > 0
		AND poll_cursors.last_activity_seen_epoch IS NOT DISTINCT FROM excluded.last_activity_seen_epoch
	THEN poll_cursors.consecutive_unchanged + 1
	ELSE 0
END`

// PollCursorStore provides poll-cursor database operations using GORM.
// Counter updates are single upsert statements so concurrent pollers never lose increments.
type PollCursorStore struct {
	db *gorm.DB
}

// NewPollCursorStore creates a new poll cursor store.
func NewPollCursorStore(store *Store) *PollCursorStore {
	return &PollCursorStore{db: store.DB}
}

// GetCursor retrieves a cursor by ID. Returns nil, nil when it does not exist.
func (s *PollCursorStore) GetCursor(ctx context.Context, id string) (*models.PollCursor, error) {
	var row PollCursor
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelCursor(&row), nil
}

// EnsureCursor creates a zeroed cursor if none exists yet.
func (s *PollCursorStore) EnsureCursor(ctx context.Context, id, pollType string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&PollCursor{ID: id, PollType: pollType}).Error
}

// RecordPoll counts a successful poll: insert with count 1, or increment in place.
func (s *PollCursorStore) RecordPoll(ctx context.Context, u models.PollUpdate) error {
	row := &PollCursor{
		ID:                 u.ID,
		PollType:           u.PollType,
		LastPollAt:         nullTime(&u.PolledAt),
		LastActivitySeenAt: nullTime(u.LatestActivityAt),
		PollCount:          1,
	}
	if u.LatestActivityAt != nil {
		row.LastActivitySeenEpoch.Int64 = u.LatestActivityAt.UnixMilli()
		row.LastActivitySeenEpoch.Valid = true
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"poll_type":                gorm.Expr("excluded.poll_type"),
				"last_poll_at":             gorm.Expr("excluded.last_poll_at"),
				"poll_count":               gorm.Expr("COALESCE(poll_cursors.poll_count, 0) + 1"),
				"consecutive_unchanged":    gorm.Expr(consecutiveUnchangedExpr),
				"last_activity_seen_at":    gorm.Expr("excluded.last_activity_seen_at"),
				"last_activity_seen_epoch": gorm.Expr("excluded.last_activity_seen_epoch"),
			}),
		}).
		Create(row).Error
}

// RecordPollError counts a failed poll and keeps its message.
func (s *PollCursorStore) RecordPollError(ctx context.Context, id, pollType, message string, at time.Time) error {
	row := &PollCursor{
		ID:         id,
		PollType:   pollType,
		LastPollAt: nullTime(&at),
		ErrorCount: 1,
		LastError:  nullString(message),
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_poll_at": gorm.Expr("excluded.last_poll_at"),
				"error_count":  gorm.Expr("COALESCE(poll_cursors.error_count, 0) + 1"),
				"last_error":   gorm.Expr("excluded.last_error"),
			}),
		}).
		Create(row).Error
}
