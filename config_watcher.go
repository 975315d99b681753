package platform

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configReloadDebounce coalesces the event bursts editors and atomic
// renames produce into a single reload.
const configReloadDebounce = 250 * time.Millisecond

// ConfigWatcher watches configuration files and re-feeds every registered
// section when one changes. A section that fails to re-feed keeps its
// previous values; hot reload never degrades a running module.
type ConfigWatcher struct {
	app    *StdApplication
	logger Logger
	paths  map[string]bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewConfigWatcher creates a watcher for the given config file paths.
func NewConfigWatcher(app *StdApplication, paths ...string) (*ConfigWatcher, error) {
	if app == nil {
		return nil, ErrApplicationNil
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no config paths to watch", ErrConfigNil)
	}

	watched := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %s: %w", p, err)
		}
		watched[abs] = true
	}

	return &ConfigWatcher{
		app:    app,
		logger: app.Logger(),
		paths:  watched,
	}, nil
}

// Start begins watching. The parent directories are watched rather than
// the files themselves so atomic write-and-rename updates are observed.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	dirs := make(map[string]bool)
	for path := range w.paths {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	go w.watch(loopCtx, watcher)
	w.logger.Info("Config watcher started", "paths", len(w.paths))
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.cancel()
	w.running = false
}

func (w *ConfigWatcher) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var (
		debounce *time.Timer
		fire     <-chan time.Time
		trigger  string
	)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !w.paths[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			trigger = event.Name
			if debounce == nil {
				debounce = time.NewTimer(configReloadDebounce)
				fire = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(configReloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-fire:
			debounce = nil
			fire = nil
			w.logger.Info("Config file changed, reloading", "path", trigger)
			w.app.ReloadConfig(ctx, trigger)
		}
	}
}

// ReloadConfig re-feeds every registered config section from the current
// feeder set. Each section feeds into a fresh struct first, so a section
// whose new values fail validation keeps its previous configuration.
func (app *StdApplication) ReloadConfig(ctx context.Context, trigger string) {
	reloaded := 0
	failed := 0
	for sectionKey, provider := range app.ConfigSections() {
		if err := feedSectionConfig(app, sectionKey, provider); err != nil {
			failed++
			app.logger.Warn("Config section reload failed, keeping previous values",
				"section", sectionKey, "error", err)
			continue
		}
		reloaded++
	}

	app.logger.Info("Config reloaded", "sections", reloaded, "failed", failed)
	app.emitEvent(ctx, EventTypeConfigChanged, map[string]interface{}{
		"trigger":  trigger,
		"sections": reloaded,
		"failed":   failed,
	}, nil)
}
