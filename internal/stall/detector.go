// Package stall detects delegated sessions that have stopped making progress.
package stall

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/thebtf/jules-command/pkg/models"
)

// Thresholds configures the stall rules.
type Thresholds struct {
	PlanApprovalTimeout time.Duration
	FeedbackTimeout     time.Duration
	NoProgressTimeout   time.Duration
	QueueTimeout        time.Duration
	ConsecutiveErrors   int
}

// DefaultThresholds returns the stock rule thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PlanApprovalTimeout: 30 * time.Minute,
		FeedbackTimeout:     30 * time.Minute,
		NoProgressTimeout:   15 * time.Minute,
		QueueTimeout:        10 * time.Minute,
		ConsecutiveErrors:   3,
	}
}

// Validate checks that every threshold is usable.
func (t Thresholds) Validate() error {
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"plan approval timeout", t.PlanApprovalTimeout},
		{"feedback timeout", t.FeedbackTimeout},
		{"no progress timeout", t.NoProgressTimeout},
		{"queue timeout", t.QueueTimeout},
	}
	for _, c := range checks {
		if c.d <= 0 {
			return fmt.Errorf("stall: %s must be positive, got %s", c.name, c.d)
		}
	}
	if t.ConsecutiveErrors < 1 {
		return fmt.Errorf("stall: consecutive errors must be at least 1, got %d", t.ConsecutiveErrors)
	}
	return nil
}

// Detector evaluates the stall rule cascade. It holds no mutable state and is
// safe for concurrent use.
type Detector struct {
	thresholds Thresholds
	rules      []rule
	now        func() time.Time
}

// NewDetector creates a Detector, rejecting unusable thresholds.
func NewDetector(t Thresholds) (*Detector, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		thresholds: t,
		rules:      cascade(),
		now:        time.Now,
	}, nil
}

// Thresholds returns the configured thresholds.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// Detect evaluates session against the wall clock.
// activities must be sorted newest first.
func (d *Detector) Detect(session *models.Session, activities []models.Activity) *models.Stall {
	return d.DetectAt(session, activities, d.now())
}

// DetectAt evaluates session as of now. The first matching rule wins; nil means no stall.
func (d *Detector) DetectAt(session *models.Session, activities []models.Activity, now time.Time) *models.Stall {
	if session == nil {
		return nil
	}

	in := input{
		session:    session,
		activities: activities,
		now:        now,
		thresholds: d.thresholds,
	}
	for _, r := range d.rules {
		m, ok := r.match(in)
		if !ok {
			continue
		}
		return &models.Stall{
			SessionID:          session.ID,
			RuleID:             r.id,
			Reason:             m.reason,
			DetectedAt:         now,
			SessionState:       session.State,
			SessionTitle:       session.Title,
			MinutesSinceUpdate: roundMinutes(m.elapsed),
		}
	}
	return nil
}

func roundMinutes(d time.Duration) int64 {
	return int64(math.Round(d.Minutes()))
}

// formatMinutes renders a threshold in minutes without a trailing ".0".
func formatMinutes(d time.Duration) string {
	return strconv.FormatFloat(d.Minutes(), 'f', -1, 64)
}
