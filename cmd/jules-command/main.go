// Package main runs the jules-command poll daemon and its HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/thebtf/jules-command/internal/automerge"
	"github.com/thebtf/jules-command/internal/complexity"
	"github.com/thebtf/jules-command/internal/config"
	gormdb "github.com/thebtf/jules-command/internal/db/gorm"
	"github.com/thebtf/jules-command/internal/forge"
	"github.com/thebtf/jules-command/internal/pathrules"
	"github.com/thebtf/jules-command/internal/poll"
	"github.com/thebtf/jules-command/internal/stall"
	"github.com/thebtf/jules-command/internal/watcher"
	"github.com/thebtf/jules-command/internal/worker"
	"github.com/thebtf/jules-command/internal/worker/sse"
)

// Version is set at build time via ldflags.
var Version = "dev"

// errConfigChanged ends the process so a supervisor restarts it with fresh settings.
var errConfigChanged = errors.New("configuration changed")

func main() {
	dataDir := flag.String("data-dir", "", "Data directory (default: ~/.jules-command)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	addr := flag.String("addr", "", "Listen address (default: JULES_WORKER_HOST:JULES_WORKER_PORT)")
	once := flag.Bool("once", false, "Run a single poll cycle, print its summary and exit")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *dataDir != "" {
		if err := os.Setenv(config.DataDirEnv, *dataDir); err != nil {
			log.Fatal().Err(err).Msg("Failed to set data directory")
		}
	}

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if verrs := cfg.Validate(); verrs != nil {
		log.Fatal().Err(verrs).Msg("Invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if *debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	gormLevel := logger.Silent
	if level <= zerolog.DebugLevel {
		gormLevel = logger.Warn
	}
	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.ResolvedDBPath(),
		DSN:      cfg.DatabaseURL,
		MaxConns: cfg.MaxConns,
		LogLevel: gormLevel,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to open store")
	}
	defer store.Close()

	rules, err := pathrules.Load(config.RulesPath())
	if err != nil {
		log.Fatal().Err(err).Str("path", config.RulesPath()).Msg("Failed to load path rules")
	}

	detector, err := stall.NewDetector(cfg.StallThresholds())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid stall thresholds")
	}
	scorer, err := complexity.NewScorer(cfg.ComplexityThresholds())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid complexity thresholds")
	}
	evaluator, err := automerge.NewEvaluator(cfg.AutoMergeThresholds())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid auto-merge thresholds")
	}

	var src forge.Source
	if cfg.GitHubEnabled {
		src = forge.NewGitHub(cfg.GHPath)
		log.Info().Str("gh", cfg.GHPath).Msg("PR sync enabled")
	}

	sessions := gormdb.NewSessionStore(store)
	activities := gormdb.NewActivityStore(store)
	cursors := gormdb.NewPollCursorStore(store)
	prs := gormdb.NewPRStore(store)
	broadcaster := sse.NewBroadcaster()

	manager, err := poll.NewManager(poll.Stores{
		Sessions:   sessions,
		Activities: activities,
		Cursors:    cursors,
		PRs:        prs,
	}, detector, scorer, evaluator, poll.Options{
		ActivityWindow: cfg.ActivityWindow,
		Delay:          cfg.PollDelay(),
		Forge:          src,
		Rules:          rules,
		Events:         broadcaster,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create poll manager")
	}

	if *once {
		summary, err := manager.PollAllActive(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("Poll cycle failed")
		}
		frame, _ := sse.Format(poll.EventCycleCompleted, summary)
		_, _ = os.Stdout.Write(frame)
		return
	}

	svc, err := worker.NewService(worker.Deps{
		Version:     Version,
		Store:       store,
		Sessions:    sessions,
		Activities:  activities,
		Cursors:     cursors,
		PRs:         prs,
		Manager:     manager,
		Scorer:      scorer,
		Rules:       rules,
		Broadcaster: broadcaster,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create worker")
	}

	listenAddr := cfg.WorkerAddr()
	if *addr != "" {
		listenAddr = *addr
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", listenAddr).Msg("Failed to listen")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return svc.Serve(ln) })

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		runPollLoop(ctx, manager, cfg.PollingInterval())
		return nil
	})

	changed := make(chan string, 1)
	w, err := watcher.New(func(path string) {
		select {
		case changed <- path:
		default:
		}
	}, config.SettingsPath(), config.RulesPath())
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		defer func() { _ = w.Stop() }()
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case path := <-changed:
				log.Info().Str("path", path).Msg("Restarting to apply configuration")
				return errConfigChanged
			}
		})
	}

	svc.MarkReady()
	log.Info().
		Str("version", Version).
		Str("addr", ln.Addr().String()).
		Dur("interval", cfg.PollingInterval()).
		Msg("jules-command started")

	if err := g.Wait(); err != nil && !errors.Is(err, errConfigChanged) {
		log.Error().Err(err).Msg("Worker stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

// runPollLoop starts a cycle on every tick until ctx ends. A running cycle is
// never cancelled; shutdown only stops new cycles from being scheduled.
func runPollLoop(ctx context.Context, manager *poll.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := manager.PollAllActive(context.WithoutCancel(ctx))
			switch {
			case errors.Is(err, poll.ErrCycleInProgress):
				log.Debug().Msg("Skipping tick, cycle still running")
			case err != nil:
				log.Error().Err(err).Msg("Poll cycle failed")
			}
		}
	}
}
