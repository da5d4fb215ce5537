package models

import "time"

// Stall rule identifiers, in cascade order.
const (
	RulePlanApprovalTimeout = "plan_approval_timeout"
	RuleFeedbackTimeout     = "feedback_timeout"
	RuleNoProgress          = "no_progress"
	RuleQueueTimeout        = "queue_timeout"
	RuleRepeatedErrors      = "repeated_errors"
)

// Stall is a detected condition where a session is not progressing as expected.
// It is produced fresh on every evaluation and persisted only as the session's stall fields.
type Stall struct {
	SessionID          string       `json:"session_id"`
	RuleID             string       `json:"rule_id"`
	Reason             string       `json:"reason"`
	DetectedAt         time.Time    `json:"detected_at"`
	SessionState       SessionState `json:"session_state"`
	SessionTitle       string       `json:"session_title,omitempty"`
	MinutesSinceUpdate int64        `json:"minutes_since_update"`
}
