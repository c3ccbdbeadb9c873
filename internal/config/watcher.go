package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/rules"
	"github.com/tributary-ai/intent-dispatch/internal/types"
)

// ReloadFunc receives the freshly parsed rule set and tier ladder when the
// config file changes on disk.
type ReloadFunc func(ruleSet []rules.Rule, tiers []types.ModelTier)

// Watcher hot-reloads routing rules and the tier ladder when the config
// file is rewritten. Only rules and tiers are reloadable; server, provider
// and security settings require a restart.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload ReloadFunc
	debounce time.Duration
	cancel   context.CancelFunc
	logger   *logrus.Logger
}

// NewWatcher creates a watcher for the given config file. Watching starts
// on Start and stops on Close.
func NewWatcher(path string, onReload ReloadFunc, logger *logrus.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	return &Watcher{
		path:     path,
		watcher:  fw,
		onReload: onReload,
		debounce: 200 * time.Millisecond,
		logger:   logger,
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself so atomic rename-over-write (the common editor and configmap
// update pattern) is still observed.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)

	w.logger.WithField("path", w.path).Info("Config hot reload enabled")
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: editors and configmap updates fire bursts of events
			// for a single logical change.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}

// reload re-parses the config file and hands the routing sections to the
// callback. A file that fails to parse or validate keeps the previous
// routing table in effect.
func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Config reload rejected, keeping previous routing table")
		return
	}

	w.onReload(cfg.Rules, cfg.Tiers)
	w.logger.WithFields(logrus.Fields{
		"rules": len(cfg.Rules),
		"tiers": len(cfg.Tiers),
	}).Info("Routing configuration reloaded from disk")
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.watcher.Close()
}
