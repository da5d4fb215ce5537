package gorm

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/thebtf/jules-command/pkg/models"
)

// GORM Models
//
// Timestamps are stored as RFC3339 text for readability plus an epoch-millis
// column where the value is used for ordering or comparison.

// Session represents a delegated coding session.
type Session struct {
	ID              string `gorm:"primaryKey"`
	Title           sql.NullString
	Prompt          string `gorm:"type:text;not null;default:''"`
	RepoID          sql.NullString `gorm:"index"`
	SourceBranch    sql.NullString
	State           models.SessionState `gorm:"type:text;not null;index"`
	PRURL           sql.NullString      `gorm:"column:pr_url"`
	StallRuleID     sql.NullString
	StallReason     sql.NullString
	StallDetectedAt sql.NullString
	CreatedAt       string `gorm:"not null"`
	CreatedAtEpoch  int64  `gorm:"index:idx_sessions_created,sort:desc;not null"`
	UpdatedAt       string `gorm:"not null"`
	UpdatedAtEpoch  int64  `gorm:"not null"`
	CompletedAt     sql.NullString
	LastPolledAt    sql.NullString
}

func (Session) TableName() string { return "jules_sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	if s.CreatedAt == "" {
		s.CreatedAt = models.FormatTimestamp(now)
		s.CreatedAtEpoch = now.UnixMilli()
	}
	if s.UpdatedAt == "" {
		s.UpdatedAt = s.CreatedAt
		s.UpdatedAtEpoch = s.CreatedAtEpoch
	}
	return nil
}

// Activity represents one event emitted by a session.
type Activity struct {
	ID                  string              `gorm:"primaryKey"`
	SessionID           string              `gorm:"not null;index:idx_activities_session_created,priority:1"`
	Type                models.ActivityType `gorm:"type:text;not null"`
	Originator          sql.NullString
	Message             sql.NullString `gorm:"type:text"`
	ProgressTitle       sql.NullString
	ProgressDescription sql.NullString `gorm:"type:text"`
	HasBashOutput       bool           `gorm:"not null;default:false"`
	HasChangeset        bool           `gorm:"not null;default:false"`
	CreatedAt           string         `gorm:"not null"`
	CreatedAtEpoch      int64          `gorm:"not null;index:idx_activities_session_created,priority:2,sort:desc"`
}

func (Activity) TableName() string { return "jules_activities" }

// PollCursor tracks polling history for one session.
type PollCursor struct {
	ID                    string `gorm:"primaryKey"`
	PollType              string `gorm:"not null"`
	LastPollAt            sql.NullString
	LastActivitySeenAt    sql.NullString
	LastActivitySeenEpoch sql.NullInt64
	PollCount             int64 `gorm:"not null;default:0"`
	ConsecutiveUnchanged  int64 `gorm:"not null;default:0"`
	ErrorCount            int64 `gorm:"not null;default:0"`
	LastError             sql.NullString `gorm:"type:text"`
}

func (PollCursor) TableName() string { return "poll_cursors" }

// PRReview holds tracked pull request metadata and gate state.
type PRReview struct {
	ID                     int64  `gorm:"primaryKey;autoIncrement"`
	PRURL                  string `gorm:"column:pr_url;uniqueIndex;not null"`
	PRNumber               int    `gorm:"column:pr_number;not null"`
	RepoID                 sql.NullString
	SessionID              sql.NullString `gorm:"index"`
	PRTitle                sql.NullString `gorm:"column:pr_title"`
	PRState                sql.NullString `gorm:"column:pr_state"`
	ReviewStatus           string         `gorm:"not null;default:'pending'"`
	ComplexityScore        sql.NullFloat64
	ComplexityLabel        sql.NullString
	ComplexityDetails      *complexityDetails `gorm:"type:text"`
	LinesChanged           sql.NullInt64
	FilesChanged           sql.NullInt64
	TestFilesChanged       sql.NullInt64
	CriticalFilesTouched   bool `gorm:"not null;default:false"`
	DependencyFilesTouched bool `gorm:"not null;default:false"`
	CIStatus               sql.NullString  `gorm:"column:ci_status"`
	AutoMergeEligible      bool            `gorm:"not null;default:false;index"`
	AutoMergeReasons       jsonStringArray `gorm:"type:text"`
	ReviewNotes            sql.NullString  `gorm:"type:text"`
	PRCreatedAt            sql.NullString  `gorm:"column:pr_created_at"`
	FirstSeenAt            string          `gorm:"not null"`
	LastCheckedAt          sql.NullString
	MergedAt               sql.NullString
}

func (PRReview) TableName() string { return "pr_reviews" }

// BeforeCreate hook to ensure defaults are set.
func (p *PRReview) BeforeCreate(tx *gorm.DB) error {
	if p.FirstSeenAt == "" {
		p.FirstSeenAt = models.FormatTimestamp(time.Now())
	}
	if p.ReviewStatus == "" {
		p.ReviewStatus = string(models.ReviewPending)
	}
	return nil
}

// jsonStringArray is a string slice stored as a JSON text column.
type jsonStringArray []string

// Scan implements sql.Scanner.
func (a *jsonStringArray) Scan(value any) error {
	data, err := columnBytes(value)
	if err != nil || data == nil {
		*a = nil
		return err
	}
	return json.Unmarshal(data, a)
}

// Value implements driver.Valuer.
func (a jsonStringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// complexityDetails stores the score breakdown as JSON text.
type complexityDetails models.ComplexityDetails

// Scan implements sql.Scanner.
func (d *complexityDetails) Scan(value any) error {
	data, err := columnBytes(value)
	if err != nil || data == nil {
		return err
	}
	return json.Unmarshal(data, d)
}

// Value implements driver.Valuer.
func (d *complexityDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// columnBytes returns the raw JSON of a text column, nil for NULL or empty.
func columnBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unexpected JSON column type %T", value)
	}
}

// Conversion helpers

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: models.FormatTimestamp(*t), Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// timePtr parses an optional timestamp column. Unparseable values read as unknown.
func timePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := models.ParseOptionalTimestamp(s.String)
	if err != nil {
		return nil
	}
	return t
}

// parseTime parses a required timestamp column, returning the zero time on failure.
func parseTime(s string) time.Time {
	t, err := models.ParseTimestamp(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toModelSession(s *Session) *models.Session {
	return &models.Session{
		ID:              s.ID,
		Title:           s.Title.String,
		Prompt:          s.Prompt,
		RepoID:          s.RepoID.String,
		SourceBranch:    s.SourceBranch.String,
		State:           s.State,
		PRURL:           s.PRURL.String,
		StallReason:     s.StallReason.String,
		StallRuleID:     s.StallRuleID.String,
		CreatedAt:       parseTime(s.CreatedAt),
		UpdatedAt:       parseTime(s.UpdatedAt),
		CompletedAt:     timePtr(s.CompletedAt),
		LastPolledAt:    timePtr(s.LastPolledAt),
		StallDetectedAt: timePtr(s.StallDetectedAt),
	}
}

func fromModelSession(m *models.Session) *Session {
	s := &Session{
		ID:              m.ID,
		Title:           nullString(m.Title),
		Prompt:          m.Prompt,
		RepoID:          nullString(m.RepoID),
		SourceBranch:    nullString(m.SourceBranch),
		State:           m.State,
		PRURL:           nullString(m.PRURL),
		StallRuleID:     nullString(m.StallRuleID),
		StallReason:     nullString(m.StallReason),
		StallDetectedAt: nullTime(m.StallDetectedAt),
		CompletedAt:     nullTime(m.CompletedAt),
		LastPolledAt:    nullTime(m.LastPolledAt),
	}
	if !m.CreatedAt.IsZero() {
		s.CreatedAt = models.FormatTimestamp(m.CreatedAt)
		s.CreatedAtEpoch = m.CreatedAt.UnixMilli()
	}
	if !m.UpdatedAt.IsZero() {
		s.UpdatedAt = models.FormatTimestamp(m.UpdatedAt)
		s.UpdatedAtEpoch = m.UpdatedAt.UnixMilli()
	}
	return s
}

func toModelActivity(a *Activity) models.Activity {
	return models.Activity{
		ID:                  a.ID,
		SessionID:           a.SessionID,
		Type:                a.Type,
		Originator:          a.Originator.String,
		Message:             a.Message.String,
		ProgressTitle:       a.ProgressTitle.String,
		ProgressDescription: a.ProgressDescription.String,
		HasBashOutput:       a.HasBashOutput,
		HasChangeset:        a.HasChangeset,
		CreatedAt:           parseTime(a.CreatedAt),
	}
}

func fromModelActivity(m *models.Activity) *Activity {
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &Activity{
		ID:                  m.ID,
		SessionID:           m.SessionID,
		Type:                m.Type,
		Originator:          nullString(m.Originator),
		Message:             nullString(m.Message),
		ProgressTitle:       nullString(m.ProgressTitle),
		ProgressDescription: nullString(m.ProgressDescription),
		HasBashOutput:       m.HasBashOutput,
		HasChangeset:        m.HasChangeset,
		CreatedAt:           models.FormatTimestamp(created),
		CreatedAtEpoch:      created.UnixMilli(),
	}
}

func toModelCursor(c *PollCursor) *models.PollCursor {
	return &models.PollCursor{
		ID:                   c.ID,
		PollType:             c.PollType,
		LastPollAt:           timePtr(c.LastPollAt),
		LastActivitySeenAt:   timePtr(c.LastActivitySeenAt),
		LastError:            c.LastError.String,
		PollCount:            c.PollCount,
		ConsecutiveUnchanged: c.ConsecutiveUnchanged,
		ErrorCount:           c.ErrorCount,
	}
}

func toModelPR(p *PRReview) *models.PRRecord {
	pr := &models.PRRecord{
		ID:                     p.ID,
		URL:                    p.PRURL,
		Number:                 p.PRNumber,
		RepoID:                 p.RepoID.String,
		SessionID:              p.SessionID.String,
		Title:                  p.PRTitle.String,
		State:                  models.PRState(p.PRState.String),
		ReviewStatus:           models.ReviewStatus(p.ReviewStatus),
		ComplexityScore:        floatPtr(p.ComplexityScore),
		ComplexityLabel:        p.ComplexityLabel.String,
		LinesChanged:           intPtr(p.LinesChanged),
		FilesChanged:           intPtr(p.FilesChanged),
		TestFilesChanged:       intPtr(p.TestFilesChanged),
		CriticalFilesTouched:   p.CriticalFilesTouched,
		DependencyFilesTouched: p.DependencyFilesTouched,
		CIStatus:               models.CIStatus(p.CIStatus.String),
		AutoMergeEligible:      p.AutoMergeEligible,
		AutoMergeReasons:       []string(p.AutoMergeReasons),
		ReviewNotes:            p.ReviewNotes.String,
		PRCreatedAt:            timePtr(p.PRCreatedAt),
		FirstSeenAt:            parseTime(p.FirstSeenAt),
		LastCheckedAt:          timePtr(p.LastCheckedAt),
		MergedAt:               timePtr(p.MergedAt),
	}
	if p.ComplexityDetails != nil {
		d := models.ComplexityDetails(*p.ComplexityDetails)
		pr.ComplexityDetails = &d
	}
	return pr
}

func fromModelPR(m *models.PRRecord) *PRReview {
	p := &PRReview{
		ID:                     m.ID,
		PRURL:                  m.URL,
		PRNumber:               m.Number,
		RepoID:                 nullString(m.RepoID),
		SessionID:              nullString(m.SessionID),
		PRTitle:                nullString(m.Title),
		PRState:                nullString(string(m.State)),
		ReviewStatus:           string(m.ReviewStatus),
		ComplexityScore:        nullFloat(m.ComplexityScore),
		ComplexityLabel:        nullString(m.ComplexityLabel),
		LinesChanged:           nullInt(m.LinesChanged),
		FilesChanged:           nullInt(m.FilesChanged),
		TestFilesChanged:       nullInt(m.TestFilesChanged),
		CriticalFilesTouched:   m.CriticalFilesTouched,
		DependencyFilesTouched: m.DependencyFilesTouched,
		CIStatus:               nullString(string(m.CIStatus)),
		AutoMergeEligible:      m.AutoMergeEligible,
		AutoMergeReasons:       jsonStringArray(m.AutoMergeReasons),
		ReviewNotes:            nullString(m.ReviewNotes),
		PRCreatedAt:            nullTime(m.PRCreatedAt),
		LastCheckedAt:          nullTime(m.LastCheckedAt),
		MergedAt:               nullTime(m.MergedAt),
	}
	if !m.FirstSeenAt.IsZero() {
		p.FirstSeenAt = models.FormatTimestamp(m.FirstSeenAt)
	}
	if m.ComplexityDetails != nil {
		d := complexityDetails(*m.ComplexityDetails)
		p.ComplexityDetails = &d
	}
	return p
}
