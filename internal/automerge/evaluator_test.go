package automerge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/jules-command/pkg/models"
)

// EvaluatorSuite is a test suite for the auto-merge gate.
type EvaluatorSuite struct {
	suite.Suite
	eval *Evaluator
	now  time.Time
}

func (s *EvaluatorSuite) SetupTest() {
	e, err := NewEvaluator(DefaultThresholds())
	s.Require().NoError(err)
	s.eval = e
	s.now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
}

func TestEvaluatorSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorSuite))
}

func ptr[T any](v T) *T { return &v }

// cleanPR returns a record that passes every check.
func (s *EvaluatorSuite) cleanPR() *models.PRRecord {
	return &models.PRRecord{
		URL:             "https://github.com/acme/widgets/pull/7",
		ComplexityScore: ptr(0.2),
		LinesChanged:    ptr(100),
		FilesChanged:    ptr(3),
		CIStatus:        models.CIStatusSuccess,
		ReviewStatus:    models.ReviewApproved,
		PRCreatedAt:     ptr(s.now.Add(-3 * time.Hour)),
	}
}

func (s *EvaluatorSuite) TestCleanPRIsEligible() {
	res := s.eval.EvaluateAt(s.cleanPR(), s.now)
	s.True(res.Eligible)
	s.Empty(res.Reasons)
	s.NotNil(res.Reasons)
}

func (s *EvaluatorSuite) TestComplexityAboveThreshold() {
	pr := s.cleanPR()
	pr.ComplexityScore = ptr(0.6)

	res := s.eval.EvaluateAt(pr, s.now)
	s.False(res.Eligible)
	s.Equal([]string{"complexity_score 0.6 exceeds threshold 0.3"}, res.Reasons)
}

func (s *EvaluatorSuite) TestIndividualChecks() {
	tests := []struct {
		name   string
		mutate func(pr *models.PRRecord)
		reason string
	}{
		{"lines", func(pr *models.PRRecord) { pr.LinesChanged = ptr(201) }, "lines_changed 201 exceeds max 200"},
		{"files", func(pr *models.PRRecord) { pr.FilesChanged = ptr(6) }, "files_changed 6 exceeds max 5"},
		{"critical", func(pr *models.PRRecord) { pr.CriticalFilesTouched = true }, "critical files touched"},
		{"ci failure", func(pr *models.PRRecord) { pr.CIStatus = models.CIStatusFailure }, "ci_status is 'failure' (must be 'success')"},
		{"ci pending", func(pr *models.PRRecord) { pr.CIStatus = models.CIStatusPending }, "ci_status is 'pending' (must be 'success')"},
		{"ci unknown", func(pr *models.PRRecord) { pr.CIStatus = models.CIStatusUnknown }, "ci_status is 'unknown' (must be 'success')"},
		{"young", func(pr *models.PRRecord) { pr.PRCreatedAt = ptr(s.now.Add(-90 * time.Minute)) }, "pr_age 1.5h below minimum 2h"},
		{"age unknown", func(pr *models.PRRecord) { pr.PRCreatedAt = nil }, "pr_created_at unknown: cannot verify age"},
		{"changes requested", func(pr *models.PRRecord) { pr.ReviewStatus = models.ReviewChangesRequested }, "review status is changes_requested"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			pr := s.cleanPR()
			tt.mutate(pr)
			res := s.eval.EvaluateAt(pr, s.now)
			s.False(res.Eligible)
			s.Equal([]string{tt.reason}, res.Reasons)
		})
	}
}

func (s *EvaluatorSuite) TestBoundariesPass() {
	pr := s.cleanPR()
	pr.ComplexityScore = ptr(0.3)
	pr.LinesChanged = ptr(200)
	pr.FilesChanged = ptr(5)
	pr.PRCreatedAt = ptr(s.now.Add(-2 * time.Hour))

	res := s.eval.EvaluateAt(pr, s.now)
	s.True(res.Eligible, "threshold values pass: %v", res.Reasons)
}

func (s *EvaluatorSuite) TestUnknownMetricsDoNotBlock() {
	pr := s.cleanPR()
	pr.ComplexityScore = nil
	pr.LinesChanged = nil
	pr.FilesChanged = nil

	res := s.eval.EvaluateAt(pr, s.now)
	s.True(res.Eligible)
}

func (s *EvaluatorSuite) TestOtherReviewStatusesPass() {
	for _, status := range []models.ReviewStatus{models.ReviewApproved, models.ReviewPending, models.ReviewNone} {
		pr := s.cleanPR()
		pr.ReviewStatus = status
		s.True(s.eval.EvaluateAt(pr, s.now).Eligible, string(status))
	}
}

func (s *EvaluatorSuite) TestAllFailuresReportedInOrder() {
	pr := &models.PRRecord{
		ComplexityScore:      ptr(0.9),
		LinesChanged:         ptr(900),
		FilesChanged:         ptr(30),
		CriticalFilesTouched: true,
		CIStatus:             models.CIStatusFailure,
		ReviewStatus:         models.ReviewChangesRequested,
	}

	res := s.eval.EvaluateAt(pr, s.now)
	s.False(res.Eligible)
	s.Equal([]string{
		"complexity_score 0.9 exceeds threshold 0.3",
		"lines_changed 900 exceeds max 200",
		"files_changed 30 exceeds max 5",
		"critical files touched",
		"ci_status is 'failure' (must be 'success')",
		"pr_created_at unknown: cannot verify age",
		"review status is changes_requested",
	}, res.Reasons)
}

func (s *EvaluatorSuite) TestEvaluateUsesClock() {
	s.eval.now = func() time.Time { return s.now }
	res := s.eval.Evaluate(s.cleanPR())
	s.True(res.Eligible)
}

func (s *EvaluatorSuite) TestNilRecord() {
	res := s.eval.EvaluateAt(nil, s.now)
	s.False(res.Eligible)
	s.Len(res.Reasons, 1)
}

func (s *EvaluatorSuite) TestNewEvaluatorValidation() {
	bad := []Thresholds{
		{MaxComplexity: -0.1, MaxLines: 200, MaxFiles: 5, MinAge: time.Hour},
		{MaxComplexity: 1.5, MaxLines: 200, MaxFiles: 5, MinAge: time.Hour},
		{MaxComplexity: 0.3, MaxLines: -1, MaxFiles: 5, MinAge: time.Hour},
		{MaxComplexity: 0.3, MaxLines: 200, MaxFiles: -1, MinAge: time.Hour},
		{MaxComplexity: 0.3, MaxLines: 200, MaxFiles: 5, MinAge: -time.Hour},
	}
	for _, t := range bad {
		_, err := NewEvaluator(t)
		s.Error(err, "%+v", t)
	}
}
