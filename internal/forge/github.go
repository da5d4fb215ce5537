package forge

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/jules-command/pkg/models"
)

const ghFields = "number,title,state,url,createdAt,mergedAt,additions,deletions,files,statusCheckRollup,reviewDecision"

// GitHub reads pull requests through the gh CLI.
type GitHub struct {
	bin     string
	run     Runner
	timeout time.Duration
}

// NewGitHub creates a GitHub source using the gh binary at bin.
func NewGitHub(bin string) *GitHub {
	if bin == "" {
		bin = "gh"
	}
	return &GitHub{bin: bin, run: execRunner, timeout: 15 * time.Second}
}

// WithRunner replaces the command runner.
func (g *GitHub) WithRunner(run Runner) *GitHub {
	g.run = run
	return g
}

// Kind names the forge in logs and events.
func (g *GitHub) Kind() string { return "github" }

// ghPR mirrors the fields we care about from gh's JSON output.
type ghPR struct {
	Number            int        `json:"number"`
	Title             string     `json:"title"`
	State             string     `json:"state"` // "OPEN", "MERGED", "CLOSED"
	URL               string     `json:"url"`
	CreatedAt         *time.Time `json:"createdAt"`
	MergedAt          *time.Time `json:"mergedAt"`
	Additions         int        `json:"additions"`
	Deletions         int        `json:"deletions"`
	Files             []ghFile   `json:"files"`
	StatusCheckRollup []ghCheck  `json:"statusCheckRollup"`
	ReviewDecision    string     `json:"reviewDecision"` // "APPROVED", "CHANGES_REQUESTED", "REVIEW_REQUIRED", ""
}

type ghFile struct {
	Path string `json:"path"`
}

// ghCheck is either a CheckRun (status + conclusion) or a StatusContext (state).
type ghCheck struct {
	Typename   string `json:"__typename"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	State      string `json:"state"`
}

// FetchPR runs `gh pr view` for url and maps the result.
func (g *GitHub) FetchPR(ctx context.Context, url string) (*PRSnapshot, error) {
	ref, err := models.ParsePRURL(url)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.run(ctx, g.bin, "pr", "view", url, "--json", ghFields)
	if err != nil {
		return nil, fmt.Errorf("gh pr view %s: %w", url, err)
	}

	var pr ghPR
	if err := json.Unmarshal(out, &pr); err != nil {
		return nil, fmt.Errorf("decode gh output: %w", err)
	}

	files := make([]string, 0, len(pr.Files))
	for _, f := range pr.Files {
		files = append(files, f.Path)
	}

	snap := &PRSnapshot{
		URL:          url,
		Number:       ref.Number,
		RepoID:       ref.RepoID(),
		Title:        pr.Title,
		State:        ghState(pr.State),
		CreatedAt:    utcPtr(pr.CreatedAt),
		MergedAt:     utcPtr(pr.MergedAt),
		Additions:    pr.Additions,
		Deletions:    pr.Deletions,
		Files:        files,
		CIStatus:     ghCIStatus(pr.StatusCheckRollup),
		ReviewStatus: ghReviewStatus(pr.ReviewDecision),
	}
	if pr.Number > 0 {
		snap.Number = pr.Number
	}
	return snap, nil
}

// ghState maps GitHub PR state strings to our model.
func ghState(s string) models.PRState {
	switch s {
	case "OPEN":
		return models.PRStateOpen
	case "MERGED":
		return models.PRStateMerged
	case "CLOSED":
		return models.PRStateClosed
	default:
		return models.PRState(strings.ToLower(s))
	}
}

// ghCIStatus rolls individual checks up into one status.
// Any failure wins over pending, and pending wins over success. No checks means unknown.
func ghCIStatus(checks []ghCheck) models.CIStatus {
	if len(checks) == 0 {
		return models.CIStatusUnknown
	}

	pending := false
	for _, c := range checks {
		switch checkOutcome(c) {
		case models.CIStatusFailure:
			return models.CIStatusFailure
		case models.CIStatusPending:
			pending = true
		}
	}
	if pending {
		return models.CIStatusPending
	}
	return models.CIStatusSuccess
}

func checkOutcome(c ghCheck) models.CIStatus {
	if c.Typename == "StatusContext" || (c.State != "" && c.Status == "") {
		switch c.State {
		case "SUCCESS":
			return models.CIStatusSuccess
		case "FAILURE", "ERROR":
			return models.CIStatusFailure
		default:
			return models.CIStatusPending
		}
	}

	if c.Status != "COMPLETED" {
		return models.CIStatusPending
	}
	switch c.Conclusion {
	case "SUCCESS", "NEUTRAL", "SKIPPED":
		return models.CIStatusSuccess
	case "FAILURE", "TIMED_OUT", "CANCELLED", "ACTION_REQUIRED", "STARTUP_FAILURE":
		return models.CIStatusFailure
	default:
		return models.CIStatusPending
	}
}

func ghReviewStatus(s string) models.ReviewStatus {
	switch s {
	case "APPROVED":
		return models.ReviewApproved
	case "CHANGES_REQUESTED":
		return models.ReviewChangesRequested
	case "REVIEW_REQUIRED":
		return models.ReviewPending
	default:
		return models.ReviewNone
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// execRunner runs name with args, folding stderr into the error on failure.
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg := strings.TrimSpace(string(exitErr.Stderr)); msg != "" {
				return nil, fmt.Errorf("%w: %s", err, msg)
			}
		}
		return nil, err
	}
	return out, nil
}
