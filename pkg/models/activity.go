package models

import (
	"regexp"
	"strconv"
	"time"
)

// ActivityType categorises events emitted while a session runs.
type ActivityType string

const (
	ActivityMessage       ActivityType = "message"
	ActivityPlanGenerated ActivityType = "plan_generated"
	ActivityPlanApproved  ActivityType = "plan_approved"
	ActivityProgress      ActivityType = "progress"
	ActivityCommandOutput ActivityType = "command_output"
	ActivityFileChange    ActivityType = "file_change"
	ActivityError         ActivityType = "error"
	ActivityCompleted     ActivityType = "session_completed"
	ActivityFailed        ActivityType = "session_failed"
)

// Activity is an append-only event produced by a session.
type Activity struct {
	ID                  string       `json:"id"`
	SessionID           string       `json:"session_id"`
	Type                ActivityType `json:"type"`
	Originator          string       `json:"originator,omitempty"`
	Message             string       `json:"message,omitempty"`
	ProgressTitle       string       `json:"progress_title,omitempty"`
	ProgressDescription string       `json:"progress_description,omitempty"`
	HasBashOutput       bool         `json:"has_bash_output"`
	HasChangeset        bool         `json:"has_changeset"`
	CreatedAt           time.Time    `json:"created_at"`
}

var exitCodePattern = regexp.MustCompile(`Exit Code:\s*(-?\d+)`)

// ExitCode extracts the command exit code reported in the progress description.
// ok is false when the activity carries no command output or no exit code.
func (a *Activity) ExitCode() (code int, ok bool) {
	if a == nil || !a.HasBashOutput {
		return 0, false
	}
	m := exitCodePattern.FindStringSubmatch(a.ProgressDescription)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

// IsFailedCommand reports whether the activity is command output with a non-zero exit code.
func (a *Activity) IsFailedCommand() bool {
	code, ok := a.ExitCode()
	return ok && code != 0
}
