package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// SessionSuite is a test suite for session and activity models.
type SessionSuite struct {
	suite.Suite
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

// TestIsTerminal tests terminal state classification.
func (s *SessionSuite) TestIsTerminal() {
	tests := []struct {
		state    SessionState
		terminal bool
	}{
		{StateQueued, false},
		{StatePlanning, false},
		{StateAwaitingPlanApproval, false},
		{StateAwaitingUserFeedback, false},
		{StateInProgress, false},
		{StatePaused, false},
		{StateFailed, true},
		{StateCompleted, true},
	}

	for _, tt := range tests {
		s.Run(string(tt.state), func() {
			s.Equal(tt.terminal, tt.state.IsTerminal())
			s.True(tt.state.IsValid())
		})
	}
}

// TestActiveStates tests that active and terminal states partition all states.
func (s *SessionSuite) TestActiveStates() {
	active := ActiveStates()
	s.Len(active, 6)
	s.NotContains(active, StateFailed)
	s.NotContains(active, StateCompleted)
	s.Len(append(active, TerminalStates()...), len(AllStates))
	s.False(SessionState("archived").IsValid())
}

// TestIsStalled tests the stall marker helper.
func (s *SessionSuite) TestIsStalled() {
	var nilSession *Session
	s.False(nilSession.IsStalled())

	now := time.Now()
	s.False((&Session{ID: "a"}).IsStalled())
	s.True((&Session{ID: "a", StallDetectedAt: &now}).IsStalled())
}

// TestIsFailedCommand tests failing command-output detection.
func (s *SessionSuite) TestIsFailedCommand() {
	tests := []struct {
		name     string
		activity Activity
		failed   bool
	}{
		{
			name:     "exit code 1",
			activity: Activity{HasBashOutput: true, ProgressDescription: "Exit Code: 1"},
			failed:   true,
		},
		{
			name:     "exit code embedded in output",
			activity: Activity{HasBashOutput: true, ProgressDescription: "go test ./...\nFAIL\nExit Code: 2"},
			failed:   true,
		},
		{
			name:     "exit code 0",
			activity: Activity{HasBashOutput: true, ProgressDescription: "Exit Code: 0"},
			failed:   false,
		},
		{
			name:     "no bash output",
			activity: Activity{HasBashOutput: false, ProgressDescription: "Exit Code: 1"},
			failed:   false,
		},
		{
			name:     "no exit code",
			activity: Activity{HasBashOutput: true, ProgressDescription: "running"},
			failed:   false,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Equal(tt.failed, tt.activity.IsFailedCommand())
		})
	}

	var nilActivity *Activity
	s.False(nilActivity.IsFailedCommand())
}

// TestCIStatusString tests the unknown rendering.
func (s *SessionSuite) TestCIStatusString() {
	s.Equal("unknown", CIStatusUnknown.String())
	s.Equal("success", CIStatusSuccess.String())
}
