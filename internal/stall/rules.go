package stall

import (
	"fmt"
	"time"

	"github.com/thebtf/jules-command/pkg/models"
)

type input struct {
	session    *models.Session
	activities []models.Activity
	now        time.Time
	thresholds Thresholds
}

type match struct {
	elapsed time.Duration
	reason  string
}

// rule pairs an identifier with its predicate and reason builder.
type rule struct {
	id    string
	match func(in input) (match, bool)
}

// cascade returns the rules in evaluation order. Rules are independent; the
// first one that matches decides the verdict.
func cascade() []rule {
	return []rule{
		{id: models.RulePlanApprovalTimeout, match: planApprovalTimeout},
		{id: models.RuleFeedbackTimeout, match: feedbackTimeout},
		{id: models.RuleNoProgress, match: noProgress},
		{id: models.RuleQueueTimeout, match: queueTimeout},
		{id: models.RuleRepeatedErrors, match: repeatedErrors},
	}
}

func planApprovalTimeout(in input) (match, bool) {
	if in.session.State != models.StateAwaitingPlanApproval {
		return match{}, false
	}
	age := in.now.Sub(in.session.UpdatedAt)
	limit := in.thresholds.PlanApprovalTimeout
	if age < limit {
		return match{}, false
	}
	return match{
		elapsed: age,
		reason: fmt.Sprintf("Plan awaiting approval for %d min (threshold: %s min)",
			roundMinutes(age), formatMinutes(limit)),
	}, true
}

func feedbackTimeout(in input) (match, bool) {
	if in.session.State != models.StateAwaitingUserFeedback {
		return match{}, false
	}
	age := in.now.Sub(in.session.UpdatedAt)
	limit := in.thresholds.FeedbackTimeout
	if age < limit {
		return match{}, false
	}
	return match{
		elapsed: age,
		reason: fmt.Sprintf("Jules asked a question %d min ago, no response (threshold: %s min)",
			roundMinutes(age), formatMinutes(limit)),
	}, true
}

func noProgress(in input) (match, bool) {
	if in.session.State != models.StateInProgress || len(in.activities) == 0 {
		return match{}, false
	}
	age := in.now.Sub(in.activities[0].CreatedAt)
	limit := in.thresholds.NoProgressTimeout
	if age < limit {
		return match{}, false
	}
	return match{
		elapsed: age,
		reason: fmt.Sprintf("No new activity for %d min (threshold: %s min)",
			roundMinutes(age), formatMinutes(limit)),
	}, true
}

func queueTimeout(in input) (match, bool) {
	if in.session.State != models.StateQueued {
		return match{}, false
	}
	age := in.now.Sub(in.session.CreatedAt)
	limit := in.thresholds.QueueTimeout
	if age < limit {
		return match{}, false
	}
	return match{
		elapsed: age,
		reason: fmt.Sprintf("Session stuck in queue for %d min (threshold: %s min)",
			roundMinutes(age), formatMinutes(limit)),
	}, true
}

// repeatedErrors fires in any state when the N newest activities are all failed commands.
func repeatedErrors(in input) (match, bool) {
	n := in.thresholds.ConsecutiveErrors
	if n < 1 || len(in.activities) < n {
		return match{}, false
	}
	for i := range in.activities[:n] {
		if !in.activities[i].IsFailedCommand() {
			return match{}, false
		}
	}
	return match{
		elapsed: in.now.Sub(in.session.UpdatedAt),
		reason:  fmt.Sprintf("Last %d activities had bash errors", n),
	}, true
}
