// Package poll runs poll cycles over active sessions: stall detection, cursor
// bookkeeping and pull request sync.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/jules-command/internal/automerge"
	"github.com/thebtf/jules-command/internal/complexity"
	"github.com/thebtf/jules-command/internal/forge"
	"github.com/thebtf/jules-command/internal/pathrules"
	"github.com/thebtf/jules-command/internal/stall"
	"github.com/thebtf/jules-command/pkg/models"
)

// DefaultActivityWindow is the number of recent activities fed to the stall detector.
const DefaultActivityWindow = 100

// Event types published by the manager.
const (
	EventStallDetected  = "stall_detected"
	EventCycleCompleted = "poll_cycle_completed"
	EventPRSynced       = "pr_synced"
)

var (
	// ErrCycleInProgress is returned when a cycle is requested while another is running.
	ErrCycleInProgress = errors.New("poll cycle already in progress")
	// ErrForgeDisabled is returned by PR sync when no forge is configured.
	ErrForgeDisabled = errors.New("pr sync disabled: no forge configured")
)

// SessionStore is the session persistence the manager needs.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetActiveSessions(ctx context.Context) ([]*models.Session, error)
	UpdatePollState(ctx context.Context, id string, polledAt time.Time, stall *models.Stall) error
}

// ActivityStore returns recent activities, newest first.
type ActivityStore interface {
	GetRecentActivities(ctx context.Context, sessionID string, limit int) ([]models.Activity, error)
}

// CursorStore records poll outcomes. RecordPoll must increment atomically.
type CursorStore interface {
	RecordPoll(ctx context.Context, u models.PollUpdate) error
	RecordPollError(ctx context.Context, id, pollType, message string, at time.Time) error
}

// PRStore is the pull request persistence the manager needs.
type PRStore interface {
	GetPRByURL(ctx context.Context, url string) (*models.PRRecord, error)
	GetPendingPRs(ctx context.Context, limit int) ([]*models.PRRecord, error)
	UpsertPR(ctx context.Context, pr *models.PRRecord) (*models.PRRecord, error)
	UpdateAutoMerge(ctx context.Context, url string, eligible bool, reasons []string, checkedAt time.Time) error
}

// Publisher receives manager events. Implementations must not block.
type Publisher interface {
	Publish(eventType string, payload any)
}

// Stores groups the manager's collaborators.
type Stores struct {
	Sessions   SessionStore
	Activities ActivityStore
	Cursors    CursorStore
	PRs        PRStore // optional; required for PR sync and auto-merge checks
}

// Options configures a Manager.
type Options struct {
	ActivityWindow int           // activities loaded per session (default 100)
	Delay          time.Duration // pause between consecutive sessions or PRs in a cycle
	Forge          forge.Source  // nil disables PR sync
	Rules          *pathrules.Rules
	Events         Publisher
	Meter          metric.Meter
}

// Manager orchestrates poll cycles. At most one cycle runs at a time.
type Manager struct {
	sessions   SessionStore
	activities ActivityStore
	cursors    CursorStore
	prs        PRStore

	detector  *stall.Detector
	scorer    *complexity.Scorer
	evaluator *automerge.Evaluator

	forge  forge.Source
	rules  *pathrules.Rules
	events Publisher

	window int
	delay  time.Duration

	now   func() time.Time
	sleep func(time.Duration)

	cycleMu sync.Mutex
	metrics *metrics
}

// NewManager wires a Manager from its collaborators.
func NewManager(stores Stores, detector *stall.Detector, scorer *complexity.Scorer, evaluator *automerge.Evaluator, opts Options) (*Manager, error) {
	if stores.Sessions == nil || stores.Activities == nil || stores.Cursors == nil {
		return nil, errors.New("poll: session, activity and cursor stores are required")
	}
	if detector == nil {
		return nil, errors.New("poll: stall detector is required")
	}
	if opts.Forge != nil && (stores.PRs == nil || scorer == nil || evaluator == nil) {
		return nil, errors.New("poll: pr sync needs a pr store, scorer and evaluator")
	}
	if opts.Delay < 0 {
		return nil, fmt.Errorf("poll: delay must not be negative, got %s", opts.Delay)
	}

	window := opts.ActivityWindow
	if window <= 0 {
		window = DefaultActivityWindow
	}
	if window < detector.Thresholds().ConsecutiveErrors {
		return nil, fmt.Errorf("poll: activity window %d is smaller than the consecutive error count %d",
			window, detector.Thresholds().ConsecutiveErrors)
	}

	rules := opts.Rules
	if rules == nil {
		rules = pathrules.Default()
	}

	m, err := newMetrics(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("poll: create metrics: %w", err)
	}

	return &Manager{
		sessions:   stores.Sessions,
		activities: stores.Activities,
		cursors:    stores.Cursors,
		prs:        stores.PRs,
		detector:   detector,
		scorer:     scorer,
		evaluator:  evaluator,
		forge:      opts.Forge,
		rules:      rules,
		events:     opts.Events,
		window:     window,
		delay:      opts.Delay,
		now:        time.Now,
		sleep:      time.Sleep,
		metrics:    m,
	}, nil
}

// PollSession polls one session. Failures are reported in the result, never returned.
func (m *Manager) PollSession(ctx context.Context, sessionID string) models.PollResult {
	res := m.pollSession(ctx, sessionID)
	m.metrics.sessionPolled(ctx, res)
	return res
}

func (m *Manager) pollSession(ctx context.Context, sessionID string) models.PollResult {
	now := m.now()

	session, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return m.failed(ctx, sessionID, now, fmt.Errorf("load session: %w", err))
	}
	if session == nil {
		return models.PollResult{
			SessionID: sessionID,
			Error:     fmt.Sprintf("session not found: %s", sessionID),
		}
	}

	activities, err := m.activities.GetRecentActivities(ctx, sessionID, m.window)
	if err != nil {
		return m.failed(ctx, sessionID, now, fmt.Errorf("load activities: %w", err))
	}

	found := m.detector.DetectAt(session, activities, now)

	update := models.PollUpdate{
		ID:       sessionID,
		PollType: models.PollTypeSession,
		PolledAt: now,
	}
	if len(activities) > 0 {
		latest := activities[0].CreatedAt
		update.LatestActivityAt = &latest
	}
	if err := m.sessions.UpdatePollState(ctx, sessionID, now, found); err != nil {
		return m.failed(ctx, sessionID, now, fmt.Errorf("update session: %w", err))
	}

	// Counted only once the session write has landed.
	if err := m.cursors.RecordPoll(ctx, update); err != nil {
		return m.failed(ctx, sessionID, now, fmt.Errorf("record poll: %w", err))
	}

	if found != nil {
		log.Debug().
			Str("sessionId", sessionID).
			Str("rule", found.RuleID).
			Str("reason", found.Reason).
			Msg("Stall detected")
		if found.RuleID != session.StallRuleID {
			m.publish(EventStallDetected, found)
		}
	}

	return models.PollResult{
		SessionID: sessionID,
		Updated:   true,
		Stall:     found,
	}
}

// failed records a poll failure on the cursor on a best-effort basis.
func (m *Manager) failed(ctx context.Context, sessionID string, at time.Time, err error) models.PollResult {
	log.Warn().Err(err).Str("sessionId", sessionID).Msg("Session poll failed")
	if cerr := m.cursors.RecordPollError(ctx, sessionID, models.PollTypeSession, err.Error(), at); cerr != nil {
		log.Debug().Err(cerr).Str("sessionId", sessionID).Msg("Failed to record poll error")
	}
	return models.PollResult{
		SessionID: sessionID,
		Error:     err.Error(),
	}
}

// PollAllActive polls every non-terminal session in turn, pausing between them.
// Per-session failures land in the summary; only loading the session list aborts the cycle.
func (m *Manager) PollAllActive(ctx context.Context) (*models.PollSummary, error) {
	if !m.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer m.cycleMu.Unlock()

	start := m.now()
	summary := &models.PollSummary{
		CycleID:        uuid.NewString(),
		StartedAt:      start,
		StallsDetected: []models.Stall{},
		Errors:         []models.PollError{},
	}

	sessions, err := m.sessions.GetActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active sessions: %w", err)
	}

	pacer := m.pacer()
	for _, s := range sessions {
		pacer()
		res := m.PollSession(ctx, s.ID)
		summary.SessionsPolled++
		if res.Updated {
			summary.SessionsUpdated++
		}
		if res.Stall != nil {
			summary.StallsDetected = append(summary.StallsDetected, *res.Stall)
		}
		if res.Error != "" {
			summary.Errors = append(summary.Errors, models.PollError{SessionID: s.ID, Error: res.Error})
		}
	}

	if m.forge != nil {
		summary.PRsUpdated = m.syncPRs(ctx, sessions, summary, pacer)
	}

	summary.Duration = m.now().Sub(start)
	m.metrics.cycleDone(ctx, summary.Duration)

	log.Info().
		Str("cycleId", summary.CycleID).
		Int("polled", summary.SessionsPolled).
		Int("updated", summary.SessionsUpdated).
		Int("stalls", len(summary.StallsDetected)).
		Int("prs", summary.PRsUpdated).
		Int("errors", len(summary.Errors)).
		Dur("duration", summary.Duration).
		Msg("Poll cycle completed")
	m.publish(EventCycleCompleted, summary)

	return summary, nil
}

// pacer returns a func that sleeps before every call except the first.
func (m *Manager) pacer() func() {
	calls := 0
	return func() {
		if calls > 0 && m.delay > 0 {
			m.sleep(m.delay)
		}
		calls++
	}
}

type prTarget struct {
	url       string
	sessionID string
}

// syncPRs refreshes PRs linked to polled sessions plus every pending tracked PR.
func (m *Manager) syncPRs(ctx context.Context, sessions []*models.Session, summary *models.PollSummary, pace func()) int {
	seen := make(map[string]bool)
	var targets []prTarget
	for _, s := range sessions {
		if s.PRURL != "" && !seen[s.PRURL] {
			seen[s.PRURL] = true
			targets = append(targets, prTarget{url: s.PRURL, sessionID: s.ID})
		}
	}

	pending, err := m.prs.GetPendingPRs(ctx, 0)
	if err != nil {
		summary.Errors = append(summary.Errors, models.PollError{Error: fmt.Sprintf("load pending prs: %v", err)})
	}
	for _, pr := range pending {
		if !seen[pr.URL] {
			seen[pr.URL] = true
			targets = append(targets, prTarget{url: pr.URL, sessionID: pr.SessionID})
		}
	}

	updated := 0
	for _, t := range targets {
		pace()
		if _, err := m.SyncPR(ctx, t.url, t.sessionID); err != nil {
			log.Warn().Err(err).Str("url", t.url).Msg("PR sync failed")
			summary.Errors = append(summary.Errors, models.PollError{
				SessionID: t.sessionID,
				Error:     fmt.Sprintf("sync pr %s: %v", t.url, err),
			})
			continue
		}
		updated++
	}
	return updated
}

// SyncPR fetches a PR from the forge, scores it, evaluates the auto-merge gate and stores the result.
// sessionID links the PR to a session when non-empty.
func (m *Manager) SyncPR(ctx context.Context, url, sessionID string) (*models.PRRecord, error) {
	pr, err := m.syncPR(ctx, url, sessionID)
	m.metrics.prSynced(ctx, err)
	return pr, err
}

func (m *Manager) syncPR(ctx context.Context, url, sessionID string) (*models.PRRecord, error) {
	if m.forge == nil {
		return nil, ErrForgeDisabled
	}
	if _, err := models.ParsePRURL(url); err != nil {
		return nil, err
	}

	snap, err := m.forge.FetchPR(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch pr: %w", err)
	}

	pr, err := m.prs.GetPRByURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("load pr: %w", err)
	}
	if pr == nil {
		pr = &models.PRRecord{URL: url, ReviewStatus: models.ReviewPending}
	}

	now := m.now()
	applySnapshot(pr, snap)
	if sessionID != "" {
		pr.SessionID = sessionID
	}
	pr.LastCheckedAt = &now

	in := complexity.Classify(snap.Files, m.rules)
	in.LinesChanged = snap.LinesChanged()
	scored := m.scorer.Score(in)
	details := scored.Details
	pr.ComplexityScore = &scored.Score
	pr.ComplexityLabel = string(scored.Label)
	pr.ComplexityDetails = &details
	pr.LinesChanged = &in.LinesChanged
	pr.FilesChanged = &in.FilesChanged
	pr.TestFilesChanged = &in.TestFilesChanged
	pr.CriticalFilesTouched = in.CriticalFilesTouched
	pr.DependencyFilesTouched = in.DependencyFilesTouched

	verdict := m.evaluator.EvaluateAt(pr, now)
	pr.AutoMergeEligible = verdict.Eligible
	pr.AutoMergeReasons = verdict.Reasons

	stored, err := m.prs.UpsertPR(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("store pr: %w", err)
	}

	log.Debug().
		Str("url", url).
		Float64("complexity", scored.Score).
		Bool("eligible", verdict.Eligible).
		Msg("PR synced")
	m.publish(EventPRSynced, stored)

	return stored, nil
}

func applySnapshot(pr *models.PRRecord, snap *forge.PRSnapshot) {
	pr.Number = snap.Number
	pr.RepoID = snap.RepoID
	pr.Title = snap.Title
	pr.State = snap.State
	pr.CIStatus = snap.CIStatus
	pr.PRCreatedAt = snap.CreatedAt
	pr.MergedAt = snap.MergedAt
	if snap.ReviewStatus != models.ReviewNone && snap.ReviewStatus != "" {
		pr.ReviewStatus = snap.ReviewStatus
	}
}

// CheckAutoMerge evaluates the stored record for url and persists the verdict.
func (m *Manager) CheckAutoMerge(ctx context.Context, url string) (automerge.Result, error) {
	if m.prs == nil || m.evaluator == nil {
		return automerge.Result{}, errors.New("auto-merge checks are not configured")
	}

	pr, err := m.prs.GetPRByURL(ctx, url)
	if err != nil {
		return automerge.Result{}, fmt.Errorf("load pr: %w", err)
	}
	if pr == nil {
		return automerge.Result{}, fmt.Errorf("pr %s: %w", url, models.ErrNotFound)
	}

	now := m.now()
	res := m.evaluator.EvaluateAt(pr, now)
	if err := m.prs.UpdateAutoMerge(ctx, url, res.Eligible, res.Reasons, now); err != nil {
		return automerge.Result{}, fmt.Errorf("store verdict: %w", err)
	}
	return res, nil
}

func (m *Manager) publish(eventType string, payload any) {
	if m.events != nil {
		m.events.Publish(eventType, payload)
	}
}
