package models

import (
	"time"
)

// PollTypeSession is the cursor kind used for session polling.
const PollTypeSession = "session"

// PollCursor is per-session bookkeeping of poll frequency and outcome history.
type PollCursor struct {
	ID                   string     `json:"id"`
	PollType             string     `json:"poll_type"`
	LastPollAt           *time.Time `json:"last_poll_at,omitempty"`
	LastActivitySeenAt   *time.Time `json:"last_activity_seen_at,omitempty"`
	LastError            string     `json:"last_error,omitempty"`
	PollCount            int64      `json:"poll_count"`
	ConsecutiveUnchanged int64      `json:"consecutive_unchanged"`
	ErrorCount           int64      `json:"error_count"`
}

// PollUpdate describes one successful poll to be recorded on a cursor.
type PollUpdate struct {
	ID       string
	PollType string
	PolledAt time.Time
	// LatestActivityAt is the newest activity timestamp seen during the poll, nil if none.
	LatestActivityAt *time.Time
}

// PollResult is the outcome of polling one session.
type PollResult struct {
	SessionID string `json:"session_id"`
	Updated   bool   `json:"updated"`
	Stall     *Stall `json:"stall"`
	Error     string `json:"error,omitempty"`
}

// PollError records a single failed session poll within a cycle.
type PollError struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// PollSummary aggregates one poll cycle.
type PollSummary struct {
	CycleID         string        `json:"cycle_id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
	SessionsPolled  int           `json:"sessions_polled"`
	SessionsUpdated int           `json:"sessions_updated"`
	StallsDetected  []Stall       `json:"stalls_detected"`
	PRsUpdated      int           `json:"prs_updated"`
	Errors          []PollError   `json:"errors"`
}
