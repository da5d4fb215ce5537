// Package models contains domain models for jules-command.
package models

import (
	"time"
)

// SessionState represents the lifecycle state of a delegated coding session.
type SessionState string

const (
	StateQueued               SessionState = "queued"
	StatePlanning             SessionState = "planning"
	StateAwaitingPlanApproval SessionState = "awaiting_plan_approval"
	StateAwaitingUserFeedback SessionState = "awaiting_user_feedback"
	StateInProgress           SessionState = "in_progress"
	StatePaused               SessionState = "paused"
	StateFailed               SessionState = "failed"
	StateCompleted            SessionState = "completed"
)

// AllStates lists every known session state.
var AllStates = []SessionState{
	StateQueued,
	StatePlanning,
	StateAwaitingPlanApproval,
	StateAwaitingUserFeedback,
	StateInProgress,
	StatePaused,
	StateFailed,
	StateCompleted,
}

// IsTerminal reports whether no further progress is expected in this state.
func (s SessionState) IsTerminal() bool {
	return s == StateFailed || s == StateCompleted
}

// IsValid reports whether s is one of the known states.
func (s SessionState) IsValid() bool {
	for _, st := range AllStates {
		if s == st {
			return true
		}
	}
	return false
}

// ActiveStates returns every non-terminal state.
func ActiveStates() []SessionState {
	states := make([]SessionState, 0, len(AllStates))
	for _, st := range AllStates {
		if !st.IsTerminal() {
			states = append(states, st)
		}
	}
	return states
}

// TerminalStates returns the states a session never leaves.
func TerminalStates() []SessionState {
	return []SessionState{StateFailed, StateCompleted}
}

// Session is one delegated coding task tracked through its lifecycle.
type Session struct {
	ID              string       `json:"id"`
	Title           string       `json:"title,omitempty"`
	Prompt          string       `json:"prompt,omitempty"`
	RepoID          string       `json:"repo_id,omitempty"`
	SourceBranch    string       `json:"source_branch,omitempty"`
	State           SessionState `json:"state"`
	PRURL           string       `json:"pr_url,omitempty"`
	StallReason     string       `json:"stall_reason,omitempty"`
	StallRuleID     string       `json:"stall_rule_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	LastPolledAt    *time.Time   `json:"last_polled_at,omitempty"`
	StallDetectedAt *time.Time   `json:"stall_detected_at,omitempty"`
}

// IsStalled reports whether the last poll left a stall verdict on the session.
func (s *Session) IsStalled() bool {
	return s != nil && s.StallDetectedAt != nil
}
