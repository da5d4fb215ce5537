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

// prUpsertColumns are replaced when an existing PR record is upserted.
// first_seen_at is kept from the first insert.
var prUpsertColumns = []string{
	"pr_number", "repo_id", "session_id", "pr_title", "pr_state", "review_status",
	"complexity_score", "complexity_label", "complexity_details",
	"lines_changed", "files_changed", "test_files_changed",
	"critical_files_touched", "dependency_files_touched", "ci_status",
	"auto_merge_eligible", "auto_merge_reasons", "review_notes",
	"pr_created_at", "last_checked_at", "merged_at",
}

// PRStore provides pull-request database operations using GORM.
type PRStore struct {
	db *gorm.DB
}

// NewPRStore creates a new PR store.
func NewPRStore(store *Store) *PRStore {
	return &PRStore{db: store.DB}
}

// GetPRByURL retrieves a PR record by URL. Returns nil, nil when it does not exist.
func (s *PRStore) GetPRByURL(ctx context.Context, url string) (*models.PRRecord, error) {
	var row PRReview
	err := s.db.WithContext(ctx).Where("pr_url = ?", url).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelPR(&row), nil
}

// GetPRBySession retrieves the most recently tracked PR of a session. Returns nil, nil when none exists.
func (s *PRStore) GetPRBySession(ctx context.Context, sessionID string) (*models.PRRecord, error) {
	var row PRReview
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelPR(&row), nil
}

// UpsertPR inserts a PR record or replaces its mutable fields, returning the stored record.
func (s *PRStore) UpsertPR(ctx context.Context, pr *models.PRRecord) (*models.PRRecord, error) {
	if pr == nil || pr.URL == "" {
		return nil, fmt.Errorf("upsert pr: url is required")
	}

	row := fromModelPR(pr)
	row.ID = 0
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pr_url"}},
			DoUpdates: clause.AssignmentColumns(prUpsertColumns),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	return s.GetPRByURL(ctx, pr.URL)
}

// GetPendingPRs returns PRs that are neither merged nor closed, oldest first.
func (s *PRStore) GetPendingPRs(ctx context.Context, limit int) ([]*models.PRRecord, error) {
	var rows []PRReview
	query := s.db.WithContext(ctx).
		Where("(pr_state IS NULL OR pr_state = ?)", string(models.PRStateOpen)).
		Where("merged_at IS NULL").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*models.PRRecord, len(rows))
	for i := range rows {
		out[i] = toModelPR(&rows[i])
	}
	return out, nil
}

// UpdateAutoMerge stores a gate verdict on an existing PR record.
func (s *PRStore) UpdateAutoMerge(ctx context.Context, url string, eligible bool, reasons []string, checkedAt time.Time) error {
	if reasons == nil {
		reasons = []string{}
	}
	result := s.db.WithContext(ctx).
		Model(&PRReview{}).
		Where("pr_url = ?", url).
		Updates(map[string]any{
			"auto_merge_eligible": eligible,
			"auto_merge_reasons":  jsonStringArray(reasons),
			"last_checked_at":     models.FormatTimestamp(checkedAt),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("pr %s: %w", url, models.ErrNotFound)
	}
	return nil
}
