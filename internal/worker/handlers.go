package worker

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/jules-command/internal/automerge"
	"github.com/thebtf/jules-command/internal/complexity"
	"github.com/thebtf/jules-command/internal/poll"
	"github.com/thebtf/jules-command/pkg/models"
)

const (
	// DefaultStallLimit caps GET /api/stalls when no limit is given.
	DefaultStallLimit = 50
	maxBodyBytes      = 1 << 20
)

// ParseLimitParam parses a limit query parameter with a default value.
func ParseLimitParam(r *http.Request, defaultLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultLimit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"sseClients": s.sseBroadcaster.ClientCount(),
	})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	if s.store != nil {
		if err := s.store.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handlePollAll runs one cycle. The cycle outlives the request if the client goes away.
func (s *Service) handlePollAll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.manager.PollAllActive(context.WithoutCancel(r.Context()))
	if errors.Is(err, poll.ErrCycleInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Poll cycle failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Service) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessionStore.GetActiveSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleUpsertSession records a session mirrored from the delegation service and
// makes sure it has a poll cursor.
func (s *Service) handleUpsertSession(w http.ResponseWriter, r *http.Request) {
	var session models.Session
	if !decodeBody(w, r, &session) {
		return
	}
	session.ID = chi.URLParam(r, "id")

	if err := s.sessionStore.UpsertSession(r.Context(), &session); err != nil {
		if errors.Is(err, models.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.cursorStore.EnsureCursor(r.Context(), session.ID, models.PollTypeSession); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stored, err := s.sessionStore.GetSession(r.Context(), session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Service) handlePollSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := s.manager.PollSession(context.WithoutCancel(r.Context()), id)
	if !res.Updated && res.Error != "" {
		if existing, err := s.sessionStore.GetSession(r.Context(), id); err == nil && existing == nil {
			writeJSON(w, http.StatusNotFound, res)
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleInsertActivities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var activities []models.Activity
	if !decodeBody(w, r, &activities) {
		return
	}

	session, err := s.sessionStore.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}

	for i := range activities {
		if activities[i].ID == "" {
			writeError(w, http.StatusBadRequest, "activity id is required")
			return
		}
		activities[i].SessionID = id
	}

	inserted, err := s.activityStore.InsertActivities(r.Context(), activities)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"inserted": inserted})
}

func (s *Service) handleGetCursor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cursor, err := s.cursorStore.GetCursor(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cursor == nil {
		writeError(w, http.StatusNotFound, "cursor not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, cursor)
}

func (s *Service) handleStalls(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessionStore.GetStalledSessions(r.Context(), ParseLimitParam(r, DefaultStallLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type prResponse struct {
	PR        *models.PRRecord `json:"pr"`
	AutoMerge automerge.Result `json:"auto_merge"`
}

// handleUpsertPR stores a PR record supplied by the caller, scores it when the
// caller gave sizes but no score, and evaluates the auto-merge gate.
func (s *Service) handleUpsertPR(w http.ResponseWriter, r *http.Request) {
	var pr models.PRRecord
	if !decodeBody(w, r, &pr) {
		return
	}
	ref, err := models.ParsePRURL(pr.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if pr.Number == 0 {
		pr.Number = ref.Number
	}
	if pr.RepoID == "" {
		pr.RepoID = ref.RepoID()
	}
	if pr.ComplexityScore == nil && pr.LinesChanged != nil && pr.FilesChanged != nil {
		s.score(&pr)
	}

	if _, err := s.prStore.UpsertPR(r.Context(), &pr); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	verdict, err := s.manager.CheckAutoMerge(r.Context(), pr.URL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stored, err := s.prStore.GetPRByURL(r.Context(), pr.URL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prResponse{PR: stored, AutoMerge: verdict})
}

func (s *Service) score(pr *models.PRRecord) {
	in := complexity.Input{
		LinesChanged:           *pr.LinesChanged,
		FilesChanged:           *pr.FilesChanged,
		CriticalFilesTouched:   pr.CriticalFilesTouched,
		DependencyFilesTouched: pr.DependencyFilesTouched,
	}
	if pr.TestFilesChanged != nil {
		in.TestFilesChanged = *pr.TestFilesChanged
	}
	res := s.scorer.Score(in)
	pr.ComplexityScore = &res.Score
	pr.ComplexityLabel = string(res.Label)
	pr.ComplexityDetails = &res.Details
}

type syncRequest struct {
	URL       string `json:"pr_url"`
	SessionID string `json:"session_id"`
}

func (s *Service) handleSyncPR(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := models.ParsePRURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pr, err := s.manager.SyncPR(context.WithoutCancel(r.Context()), req.URL, req.SessionID)
	switch {
	case errors.Is(err, poll.ErrForgeDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (s *Service) handleAutoMerge(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	res, err := s.manager.CheckAutoMerge(r.Context(), url)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// complexityRequest accepts either a file list, which is classified with the
// path rules, or explicit counts.
type complexityRequest struct {
	complexity.Input
	Files []string `json:"files"`
}

func (s *Service) handleComplexity(w http.ResponseWriter, r *http.Request) {
	var req complexityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := req.Input
	if len(req.Files) > 0 {
		in = complexity.Classify(req.Files, s.rules)
		in.LinesChanged = req.LinesChanged
	}
	if in.LinesChanged < 0 || in.FilesChanged < 0 || in.TestFilesChanged < 0 {
		writeError(w, http.StatusBadRequest, "counts must not be negative")
		return
	}
	writeJSON(w, http.StatusOK, s.scorer.Score(in))
}
