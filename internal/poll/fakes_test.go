package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/thebtf/jules-command/internal/forge"
	"github.com/thebtf/jules-command/pkg/models"
)

type fakeSessions struct {
	mu        sync.Mutex
	sessions  []*models.Session
	activeErr error
	getErr    map[string]error
	block     chan struct{}
	entered   chan struct{}
	updateErr error
	updates   map[string]*models.Stall
	polledAt  map[string]time.Time
}

func newFakeSessions(sessions ...*models.Session) *fakeSessions {
	return &fakeSessions{
		sessions: sessions,
		getErr:   map[string]error{},
		updates:  map[string]*models.Stall{},
		polledAt: map[string]time.Time{},
	}
}

func (f *fakeSessions) GetSession(ctx context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	for _, s := range f.sessions {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSessions) GetActiveSessions(ctx context.Context) ([]*models.Session, error) {
	if f.block != nil {
		close(f.entered)
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	var out []*models.Session
	for _, s := range f.sessions {
		if !s.State.IsTerminal() {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSessions) UpdatePollState(ctx context.Context, id string, polledAt time.Time, stall *models.Stall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	for _, s := range f.sessions {
		if s.ID != id {
			continue
		}
		f.updates[id] = stall
		f.polledAt[id] = polledAt
		s.LastPolledAt = &polledAt
		s.StallRuleID, s.StallReason, s.StallDetectedAt = "", "", nil
		if stall != nil {
			detected := stall.DetectedAt
			s.StallRuleID, s.StallReason, s.StallDetectedAt = stall.RuleID, stall.Reason, &detected
		}
		return nil
	}
	return models.ErrNotFound
}

type fakeActivities struct {
	bySession map[string][]models.Activity
	err       map[string]error
	limits    []int
}

func (f *fakeActivities) GetRecentActivities(ctx context.Context, sessionID string, limit int) ([]models.Activity, error) {
	f.limits = append(f.limits, limit)
	if err := f.err[sessionID]; err != nil {
		return nil, err
	}
	acts := f.bySession[sessionID]
	if len(acts) > limit {
		acts = acts[:limit]
	}
	return acts, nil
}

type cursorError struct {
	id      string
	message string
}

type fakeCursors struct {
	mu      sync.Mutex
	polls   []models.PollUpdate
	errors  []cursorError
	pollErr error
}

func (f *fakeCursors) RecordPoll(ctx context.Context, u models.PollUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return f.pollErr
	}
	f.polls = append(f.polls, u)
	return nil
}

func (f *fakeCursors) RecordPollError(ctx context.Context, id, pollType, message string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, cursorError{id: id, message: message})
	return nil
}

type fakePRs struct {
	records  map[string]*models.PRRecord
	order    []string
	upserts  int
	verdicts map[string][]string
}

func newFakePRs() *fakePRs {
	return &fakePRs{records: map[string]*models.PRRecord{}, verdicts: map[string][]string{}}
}

func (f *fakePRs) put(pr *models.PRRecord) {
	if _, ok := f.records[pr.URL]; !ok {
		f.order = append(f.order, pr.URL)
	}
	cp := *pr
	f.records[pr.URL] = &cp
}

func (f *fakePRs) GetPRByURL(ctx context.Context, url string) (*models.PRRecord, error) {
	pr, ok := f.records[url]
	if !ok {
		return nil, nil
	}
	cp := *pr
	return &cp, nil
}

func (f *fakePRs) GetPendingPRs(ctx context.Context, limit int) ([]*models.PRRecord, error) {
	var out []*models.PRRecord
	for _, url := range f.order {
		pr := f.records[url]
		if pr.State == "" || pr.State == models.PRStateOpen {
			cp := *pr
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePRs) UpsertPR(ctx context.Context, pr *models.PRRecord) (*models.PRRecord, error) {
	f.upserts++
	f.put(pr)
	return f.GetPRByURL(ctx, pr.URL)
}

func (f *fakePRs) UpdateAutoMerge(ctx context.Context, url string, eligible bool, reasons []string, checkedAt time.Time) error {
	pr, ok := f.records[url]
	if !ok {
		return models.ErrNotFound
	}
	pr.AutoMergeEligible = eligible
	pr.AutoMergeReasons = reasons
	pr.LastCheckedAt = &checkedAt
	f.verdicts[url] = reasons
	return nil
}

type fakeForge struct {
	snapshots map[string]*forge.PRSnapshot
	fetched   []string
}

func (f *fakeForge) Kind() string { return "fake" }

func (f *fakeForge) FetchPR(ctx context.Context, url string) (*forge.PRSnapshot, error) {
	f.fetched = append(f.fetched, url)
	snap, ok := f.snapshots[url]
	if !ok {
		return nil, errors.New("pull request not found")
	}
	cp := *snap
	return &cp, nil
}

type event struct {
	kind    string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Publish(eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: eventType, payload: payload})
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}
