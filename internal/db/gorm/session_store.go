package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/jules-command/pkg/models"
)

// sessionUpsertColumns are replaced when an existing session is upserted.
// Poll-owned columns (last_polled_at, stall_*) are written only by UpdatePollState.
var sessionUpsertColumns = []string{
	"title", "prompt", "repo_id", "source_branch", "state", "pr_url",
	"updated_at", "updated_at_epoch", "completed_at",
}

// SessionStore provides session-related database operations using GORM.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{db: store.DB}
}

// GetSession retrieves a session by ID. Returns nil, nil when it does not exist.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var row Session
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelSession(&row), nil
}

// GetActiveSessions returns all sessions in a non-terminal state, newest first.
func (s *SessionStore) GetActiveSessions(ctx context.Context) ([]*models.Session, error) {
	var rows []Session
	err := s.db.WithContext(ctx).
		Where("state NOT IN ?", models.TerminalStates()).
		Order("created_at_epoch DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toModelSessions(rows), nil
}

// GetStalledSessions returns sessions currently flagged as stalled, most recently flagged first.
func (s *SessionStore) GetStalledSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	var rows []Session
	query := s.db.WithContext(ctx).
		Where("stall_detected_at IS NOT NULL").
		Where("state NOT IN ?", models.TerminalStates()).
		Order("stall_detected_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toModelSessions(rows), nil
}

// UpsertSession inserts a session or replaces its mutable fields.
// The creation time of an existing session is kept.
func (s *SessionStore) UpsertSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("upsert session: id is required: %w", models.ErrInvalid)
	}
	if !session.State.IsValid() {
		return fmt.Errorf("upsert session %s: state %q: %w", session.ID, session.State, models.ErrInvalid)
	}

	row := fromModelSession(session)
	if row.UpdatedAt == "" {
		now := time.Now()
		row.UpdatedAt = models.FormatTimestamp(now)
		row.UpdatedAtEpoch = now.UnixMilli()
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(sessionUpsertColumns),
		}).
		Create(row).Error
}

// UpdatePollState records a poll on a session and sets or clears its stall fields.
// updated_at is not touched: it reflects upstream activity, not local polling.
func (s *SessionStore) UpdatePollState(ctx context.Context, id string, polledAt time.Time, stall *models.Stall) error {
	updates := map[string]any{
		"last_polled_at":    models.FormatTimestamp(polledAt),
		"stall_rule_id":     nil,
		"stall_reason":      nil,
		"stall_detected_at": nil,
	}
	if stall != nil {
		updates["stall_rule_id"] = stall.RuleID
		updates["stall_reason"] = stall.Reason
		updates["stall_detected_at"] = models.FormatTimestamp(stall.DetectedAt)
	}

	result := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func toModelSessions(rows []Session) []*models.Session {
	out := make([]*models.Session, len(rows))
	for i := range rows {
		out[i] = toModelSession(&rows[i])
	}
	return out
}
