package forge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/jules-command/pkg/models"
)

const ghViewOutput = `{
  "number": 42,
  "title": "Add retries to client",
  "state": "OPEN",
  "url": "https://github.com/acme/widgets/pull/42",
  "createdAt": "2026-05-04T09:00:00Z",
  "mergedAt": null,
  "additions": 90,
  "deletions": 30,
  "files": [
    {"path": "client/retry.go", "additions": 60, "deletions": 10},
    {"path": "client/retry_test.go", "additions": 30, "deletions": 0},
    {"path": "go.mod", "additions": 0, "deletions": 20}
  ],
  "statusCheckRollup": [
    {"__typename": "CheckRun", "name": "build", "status": "COMPLETED", "conclusion": "SUCCESS"},
    {"__typename": "StatusContext", "context": "lint", "state": "SUCCESS"}
  ],
  "reviewDecision": "APPROVED"
}`

func fakeRunner(out string, err error, calls *[]string) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if calls != nil {
			*calls = append(*calls, name)
			*calls = append(*calls, args...)
		}
		return []byte(out), err
	}
}

func TestFetchPR(t *testing.T) {
	var calls []string
	gh := NewGitHub("").WithRunner(fakeRunner(ghViewOutput, nil, &calls))

	snap, err := gh.FetchPR(context.Background(), "https://github.com/acme/widgets/pull/42")
	require.NoError(t, err)

	assert.Equal(t, []string{"gh", "pr", "view", "https://github.com/acme/widgets/pull/42", "--json", ghFields}, calls)
	assert.Equal(t, 42, snap.Number)
	assert.Equal(t, "acme/widgets", snap.RepoID)
	assert.Equal(t, "Add retries to client", snap.Title)
	assert.Equal(t, models.PRStateOpen, snap.State)
	require.NotNil(t, snap.CreatedAt)
	assert.True(t, time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC).Equal(*snap.CreatedAt))
	assert.Nil(t, snap.MergedAt)
	assert.Equal(t, 120, snap.LinesChanged())
	assert.Equal(t, []string{"client/retry.go", "client/retry_test.go", "go.mod"}, snap.Files)
	assert.Equal(t, models.CIStatusSuccess, snap.CIStatus)
	assert.Equal(t, models.ReviewApproved, snap.ReviewStatus)
	assert.Equal(t, "github", gh.Kind())
}

func TestFetchPRInvalidURL(t *testing.T) {
	gh := NewGitHub("gh").WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		t.Fatal("runner must not be called for an invalid URL")
		return nil, nil
	})
	_, err := gh.FetchPR(context.Background(), "https://gitlab.com/acme/widgets/-/merge_requests/1")
	assert.Error(t, err)
}

func TestFetchPRCommandFailure(t *testing.T) {
	gh := NewGitHub("gh").WithRunner(fakeRunner("", errors.New("exit status 1: not found"), nil))
	_, err := gh.FetchPR(context.Background(), "https://github.com/acme/widgets/pull/42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gh pr view")
}

func TestFetchPRBadJSON(t *testing.T) {
	gh := NewGitHub("gh").WithRunner(fakeRunner("not json", nil, nil))
	_, err := gh.FetchPR(context.Background(), "https://github.com/acme/widgets/pull/42")
	assert.Error(t, err)
}

func TestGhCIStatus(t *testing.T) {
	run := func(status, conclusion string) ghCheck {
		return ghCheck{Typename: "CheckRun", Status: status, Conclusion: conclusion}
	}
	ctx := func(state string) ghCheck {
		return ghCheck{Typename: "StatusContext", State: state}
	}

	tests := []struct {
		name   string
		checks []ghCheck
		want   models.CIStatus
	}{
		{"no checks", nil, models.CIStatusUnknown},
		{"all green", []ghCheck{run("COMPLETED", "SUCCESS"), ctx("SUCCESS")}, models.CIStatusSuccess},
		{"skipped counts as green", []ghCheck{run("COMPLETED", "SKIPPED"), run("COMPLETED", "NEUTRAL")}, models.CIStatusSuccess},
		{"in progress", []ghCheck{run("COMPLETED", "SUCCESS"), run("IN_PROGRESS", "")}, models.CIStatusPending},
		{"status pending", []ghCheck{ctx("PENDING")}, models.CIStatusPending},
		{"failure beats pending", []ghCheck{run("QUEUED", ""), run("COMPLETED", "FAILURE")}, models.CIStatusFailure},
		{"status error", []ghCheck{ctx("ERROR")}, models.CIStatusFailure},
		{"timed out", []ghCheck{run("COMPLETED", "TIMED_OUT")}, models.CIStatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ghCIStatus(tt.checks))
		})
	}
}

func TestGhStateAndReview(t *testing.T) {
	assert.Equal(t, models.PRStateOpen, ghState("OPEN"))
	assert.Equal(t, models.PRStateMerged, ghState("MERGED"))
	assert.Equal(t, models.PRStateClosed, ghState("CLOSED"))

	assert.Equal(t, models.ReviewApproved, ghReviewStatus("APPROVED"))
	assert.Equal(t, models.ReviewChangesRequested, ghReviewStatus("CHANGES_REQUESTED"))
	assert.Equal(t, models.ReviewPending, ghReviewStatus("REVIEW_REQUIRED"))
	assert.Equal(t, models.ReviewNone, ghReviewStatus(""))
}
