package models

import (
	"time"
)

// CIStatus is the rolled-up CI state of a pull request.
type CIStatus string

const (
	// CIStatusUnknown means no CI information has been synced yet.
	CIStatusUnknown CIStatus = ""
	CIStatusSuccess CIStatus = "success"
	CIStatusFailure CIStatus = "failure"
	CIStatusPending CIStatus = "pending"
)

// String returns the status, or "unknown" when no status is known.
func (s CIStatus) String() string {
	if s == CIStatusUnknown {
		return "unknown"
	}
	return string(s)
}

// ReviewStatus is the local review state tracked for a pull request.
type ReviewStatus string

const (
	ReviewPending          ReviewStatus = "pending"
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
	ReviewNone             ReviewStatus = "none"
)

// PRState is the forge-side state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// ComplexityDetails is the per-component breakdown of a complexity score.
type ComplexityDetails struct {
	LinesComponent      float64 `json:"lines_component"`
	FilesComponent      float64 `json:"files_component"`
	CriticalComponent   float64 `json:"critical_component"`
	TestComponent       float64 `json:"test_component"`
	DependencyComponent float64 `json:"dependency_component"`
}

// PRRecord is locally tracked metadata and evaluation state for a pull request.
// Pointer fields are unknown until a sync step fills them.
type PRRecord struct {
	ID                     int64              `json:"id"`
	URL                    string             `json:"pr_url"`
	Number                 int                `json:"pr_number"`
	RepoID                 string             `json:"repo_id,omitempty"`
	SessionID              string             `json:"session_id,omitempty"`
	Title                  string             `json:"pr_title,omitempty"`
	State                  PRState            `json:"pr_state,omitempty"`
	ReviewStatus           ReviewStatus       `json:"review_status"`
	ComplexityScore        *float64           `json:"complexity_score,omitempty"`
	ComplexityLabel        string             `json:"complexity_label,omitempty"`
	ComplexityDetails      *ComplexityDetails `json:"complexity_details,omitempty"`
	LinesChanged           *int               `json:"lines_changed,omitempty"`
	FilesChanged           *int               `json:"files_changed,omitempty"`
	TestFilesChanged       *int               `json:"test_files_changed,omitempty"`
	CriticalFilesTouched   bool               `json:"critical_files_touched"`
	DependencyFilesTouched bool               `json:"dependency_files_touched"`
	CIStatus               CIStatus           `json:"ci_status,omitempty"`
	AutoMergeEligible      bool               `json:"auto_merge_eligible"`
	AutoMergeReasons       []string           `json:"auto_merge_reasons,omitempty"`
	ReviewNotes            string             `json:"review_notes,omitempty"`
	PRCreatedAt            *time.Time         `json:"pr_created_at,omitempty"`
	FirstSeenAt            time.Time          `json:"first_seen_at"`
	LastCheckedAt          *time.Time         `json:"last_checked_at,omitempty"`
	MergedAt               *time.Time         `json:"merged_at,omitempty"`
}
