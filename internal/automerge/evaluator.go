// Package automerge decides whether a pull request may be merged without a human.
package automerge

import (
	"fmt"
	"strconv"
	"time"

	"github.com/thebtf/jules-command/pkg/models"
)

// Thresholds bound what the gate lets through.
type Thresholds struct {
	MaxComplexity float64
	MaxLines      int
	MaxFiles      int
	MinAge        time.Duration
}

// DefaultThresholds returns the stock gate limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxComplexity: 0.3,
		MaxLines:      200,
		MaxFiles:      5,
		MinAge:        2 * time.Hour,
	}
}

// Result is the gate's verdict. Eligible is true exactly when Reasons is empty.
type Result struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons"`
}

// Evaluator applies the auto-merge gate. It is stateless and safe for concurrent use.
type Evaluator struct {
	thresholds Thresholds
	now        func() time.Time
}

// NewEvaluator creates an Evaluator after validating t.
func NewEvaluator(t Thresholds) (*Evaluator, error) {
	if t.MaxComplexity < 0 || t.MaxComplexity > 1 {
		return nil, fmt.Errorf("automerge: max complexity must be within [0, 1], got %v", t.MaxComplexity)
	}
	if t.MaxLines < 0 {
		return nil, fmt.Errorf("automerge: max lines must not be negative, got %d", t.MaxLines)
	}
	if t.MaxFiles < 0 {
		return nil, fmt.Errorf("automerge: max files must not be negative, got %d", t.MaxFiles)
	}
	if t.MinAge < 0 {
		return nil, fmt.Errorf("automerge: min age must not be negative, got %s", t.MinAge)
	}
	return &Evaluator{thresholds: t, now: time.Now}, nil
}

// Thresholds returns the limits the evaluator was built with.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate runs the gate against the current time.
func (e *Evaluator) Evaluate(pr *models.PRRecord) Result {
	return e.EvaluateAt(pr, e.now())
}

// EvaluateAt runs every check against pr and collects each failure in a fixed order.
// Unknown complexity, lines or files skip their check. An unknown creation time blocks.
func (e *Evaluator) EvaluateAt(pr *models.PRRecord, now time.Time) Result {
	if pr == nil {
		return Result{Reasons: []string{"pr record missing"}}
	}

	t := e.thresholds
	reasons := make([]string, 0)

	if pr.ComplexityScore != nil && *pr.ComplexityScore > t.MaxComplexity {
		reasons = append(reasons, fmt.Sprintf("complexity_score %s exceeds threshold %s",
			formatFloat(*pr.ComplexityScore), formatFloat(t.MaxComplexity)))
	}

	if pr.LinesChanged != nil && *pr.LinesChanged > t.MaxLines {
		reasons = append(reasons, fmt.Sprintf("lines_changed %d exceeds max %d", *pr.LinesChanged, t.MaxLines))
	}

	if pr.FilesChanged != nil && *pr.FilesChanged > t.MaxFiles {
		reasons = append(reasons, fmt.Sprintf("files_changed %d exceeds max %d", *pr.FilesChanged, t.MaxFiles))
	}

	if pr.CriticalFilesTouched {
		reasons = append(reasons, "critical files touched")
	}

	if pr.CIStatus != models.CIStatusSuccess {
		reasons = append(reasons, fmt.Sprintf("ci_status is '%s' (must be 'success')", pr.CIStatus))
	}

	if pr.PRCreatedAt == nil {
		reasons = append(reasons, "pr_created_at unknown: cannot verify age")
	} else if age := now.Sub(*pr.PRCreatedAt); age < t.MinAge {
		reasons = append(reasons, fmt.Sprintf("pr_age %.1fh below minimum %sh",
			age.Hours(), formatFloat(t.MinAge.Hours())))
	}

	if pr.ReviewStatus == models.ReviewChangesRequested {
		reasons = append(reasons, "review status is changes_requested")
	}

	return Result{Eligible: len(reasons) == 0, Reasons: reasons}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
