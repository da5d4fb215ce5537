// Package forge reads pull request state from a code host.
package forge

import (
	"context"
	"time"

	"github.com/thebtf/jules-command/pkg/models"
)

// Source fetches the current state of a pull request by URL.
type Source interface {
	Kind() string
	FetchPR(ctx context.Context, url string) (*PRSnapshot, error)
}

// PRSnapshot is what the forge reports about a pull request right now.
type PRSnapshot struct {
	URL          string
	Number       int
	RepoID       string
	Title        string
	State        models.PRState
	CreatedAt    *time.Time
	MergedAt     *time.Time
	Additions    int
	Deletions    int
	Files        []string
	CIStatus     models.CIStatus
	ReviewStatus models.ReviewStatus
}

// LinesChanged is additions plus deletions.
func (s *PRSnapshot) LinesChanged() int {
	return s.Additions + s.Deletions
}

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)
