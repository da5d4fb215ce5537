// Package worker exposes the poll engine over HTTP.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/jules-command/internal/complexity"
	gormdb "github.com/thebtf/jules-command/internal/db/gorm"
	"github.com/thebtf/jules-command/internal/pathrules"
	"github.com/thebtf/jules-command/internal/poll"
	"github.com/thebtf/jules-command/internal/worker/sse"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Version     string
	Store       *gormdb.Store
	Sessions    *gormdb.SessionStore
	Activities  *gormdb.ActivityStore
	Cursors     *gormdb.PollCursorStore
	PRs         *gormdb.PRStore
	Manager     *poll.Manager
	Scorer      *complexity.Scorer
	Rules       *pathrules.Rules
	Broadcaster *sse.Broadcaster
}

// Service is the HTTP worker.
type Service struct {
	version string

	store          *gormdb.Store
	sessionStore   *gormdb.SessionStore
	activityStore  *gormdb.ActivityStore
	cursorStore    *gormdb.PollCursorStore
	prStore        *gormdb.PRStore
	manager        *poll.Manager
	scorer         *complexity.Scorer
	rules          *pathrules.Rules
	sseBroadcaster *sse.Broadcaster

	router    chi.Router
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	ready     atomic.Bool
}

// NewService builds the router. The service reports not-ready until MarkReady is called.
func NewService(d Deps) (*Service, error) {
	if d.Sessions == nil || d.Activities == nil || d.Cursors == nil || d.PRs == nil {
		return nil, errors.New("worker: all stores are required")
	}
	if d.Manager == nil || d.Scorer == nil {
		return nil, errors.New("worker: poll manager and scorer are required")
	}
	if d.Rules == nil {
		d.Rules = pathrules.Default()
	}
	if d.Broadcaster == nil {
		d.Broadcaster = sse.NewBroadcaster()
	}

	s := &Service{
		version:        d.Version,
		store:          d.Store,
		sessionStore:   d.Sessions,
		activityStore:  d.Activities,
		cursorStore:    d.Cursors,
		prStore:        d.PRs,
		manager:        d.Manager,
		scorer:         d.Scorer,
		rules:          d.Rules,
		sseBroadcaster: d.Broadcaster,
		router:         chi.NewRouter(),
		startTime:      time.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.setupRoutes()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	return s, nil
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)
	s.router.Get("/api/ready", s.handleReady)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Post("/api/poll", s.handlePollAll)
		r.Get("/api/sessions", s.handleActiveSessions)
		r.Put("/api/sessions/{id}", s.handleUpsertSession)
		r.Post("/api/sessions/{id}/poll", s.handlePollSession)
		r.Post("/api/sessions/{id}/activities", s.handleInsertActivities)
		r.Get("/api/sessions/{id}/cursor", s.handleGetCursor)
		r.Get("/api/stalls", s.handleStalls)

		r.Put("/api/prs", s.handleUpsertPR)
		r.Post("/api/prs/sync", s.handleSyncPR)
		r.Get("/api/prs/auto-merge", s.handleAutoMerge)
		r.Post("/api/complexity", s.handleComplexity)

		r.Get("/api/events", s.sseBroadcaster.HandleSSE)
	})
}

// Handler returns the routed HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// MarkReady flips the readiness flag checked by requireReady.
func (s *Service) MarkReady() {
	s.ready.Store(true)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Service) Serve(ln net.Listener) error {
	log.Info().Str("addr", ln.Addr().String()).Msg("Worker listening")

	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, ends event streams and waits for in-flight requests.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()
	return s.server.Shutdown(ctx)
}

// requireReady rejects requests until the service is marked ready.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "service starting", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
