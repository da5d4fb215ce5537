// Package complexity scores how large and risky a pull request is.
package complexity

import (
	"fmt"
	"math"

	"github.com/thebtf/jules-command/pkg/models"
)

// Label buckets a complexity score.
type Label string

const (
	LabelTrivial  Label = "trivial"
	LabelLow      Label = "low"
	LabelMedium   Label = "medium"
	LabelHigh     Label = "high"
	LabelCritical Label = "critical"
)

// Component weights. They sum to 1.0, which keeps every score in [0, 1].
const (
	WeightLines      = 0.25
	WeightFiles      = 0.20
	WeightCritical   = 0.25
	WeightTest       = 0.15
	WeightDependency = 0.15
)

// Thresholds are the normalisation denominators for size components.
type Thresholds struct {
	Lines int
	Files int
}

// DefaultThresholds returns the stock denominators.
func DefaultThresholds() Thresholds {
	return Thresholds{Lines: 500, Files: 20}
}

// Input describes the change being scored.
type Input struct {
	LinesChanged           int  `json:"lines_changed"`
	FilesChanged           int  `json:"files_changed"`
	TestFilesChanged       int  `json:"test_files_changed"`
	CriticalFilesTouched   bool `json:"critical_files_touched"`
	DependencyFilesTouched bool `json:"dependency_files_touched"`
}

// Result is a normalised score with its label and breakdown.
type Result struct {
	Score   float64                  `json:"score"`
	Label   Label                    `json:"label"`
	Details models.ComplexityDetails `json:"details"`
}

// Scorer computes complexity scores. It is stateless and safe for concurrent use.
type Scorer struct {
	thresholds Thresholds
}

// NewScorer creates a Scorer, rejecting non-positive denominators.
func NewScorer(t Thresholds) (*Scorer, error) {
	if t.Lines <= 0 {
		return nil, fmt.Errorf("complexity: lines threshold must be positive, got %d", t.Lines)
	}
	if t.Files <= 0 {
		return nil, fmt.Errorf("complexity: files threshold must be positive, got %d", t.Files)
	}
	return &Scorer{thresholds: t}, nil
}

// Score computes the weighted complexity of in.
func (s *Scorer) Score(in Input) Result {
	linesNorm := ratio(in.LinesChanged, s.thresholds.Lines)
	filesNorm := ratio(in.FilesChanged, s.thresholds.Files)
	testRatio := 1.0
	if in.FilesChanged > 0 {
		testRatio = ratio(in.TestFilesChanged, in.FilesChanged)
	}

	lines := WeightLines * linesNorm
	files := WeightFiles * filesNorm
	critical := WeightCritical * flag(in.CriticalFilesTouched)
	test := WeightTest * (1 - testRatio)
	dependency := WeightDependency * flag(in.DependencyFilesTouched)

	raw := lines + files + critical + test + dependency

	// The band comes from the unrounded sum; only the reported score is rounded.
	return Result{
		Score: clamp(round2(raw)),
		Label: LabelFor(raw),
		Details: models.ComplexityDetails{
			LinesComponent:      round2(lines),
			FilesComponent:      round2(files),
			CriticalComponent:   round2(critical),
			TestComponent:       round2(test),
			DependencyComponent: round2(dependency),
		},
	}
}

// LabelFor maps a score to its band. A score on a boundary belongs to the higher band.
func LabelFor(score float64) Label {
	switch {
	case score < 0.2:
		return LabelTrivial
	case score < 0.4:
		return LabelLow
	case score < 0.6:
		return LabelMedium
	case score < 0.8:
		return LabelHigh
	default:
		return LabelCritical
	}
}

// ratio returns n/d clamped to [0, 1].
func ratio(n, d int) float64 {
	if d <= 0 {
		if n > 0 {
			return 1
		}
		return 0
	}
	return clamp(float64(n) / float64(d))
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
