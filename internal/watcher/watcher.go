// Package watcher reports changes to configuration files.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher calls onChange when any of its target files is written, created,
// removed or renamed. Parent directories are watched since fsnotify cannot
// watch files that do not exist yet.
type Watcher struct {
	targets  map[string]bool
	dirs     []string
	onChange func(path string)
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	debounce time.Duration
}

// New creates a Watcher for paths.
func New(onChange func(path string), paths ...string) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("watcher: no paths given")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	targets := make(map[string]bool, len(paths))
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		clean := filepath.Clean(p)
		targets[clean] = true
		if dir := filepath.Dir(clean); !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		targets:  targets,
		dirs:     dirs,
		onChange: onChange,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		debounce: DefaultDebounce,
	}, nil
}

// SetDebounce overrides the debounce window. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching. Directories that cannot be watched are logged and skipped.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	added := 0
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			log.Warn().Err(err).Str("path", dir).Msg("Failed to watch directory")
			continue
		}
		added++
	}
	if added == 0 {
		return errors.New("watcher: no directory could be watched")
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher. Pending callbacks are dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.watcher.Close()
}

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

func (w *Watcher) watchLoop() {
	var (
		debounceTimer *time.Timer
		pending       string
		fire          = make(chan struct{}, 1)
	)

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if !w.targets[name] || event.Op&relevantOps == 0 {
				continue
			}

			log.Debug().Str("path", name).Str("op", event.Op.String()).Msg("Watched file changed")
			pending = name
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			log.Info().Str("path", pending).Msg("Configuration file changed")
			if w.onChange != nil {
				w.onChange(pending)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}
