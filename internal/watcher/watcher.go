// Package watcher observes the corpus tree and emits debounced triggers
// when document files change, so watch mode can re-sync incrementally
// instead of polling.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/discover"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Config configures a Watcher.
type Config struct {
	// Root is the corpus root directory.
	Root string

	// Extensions are the file extensions that count as documents.
	Extensions []string

	// Debounce is how long the tree must stay quiet before a trigger
	// fires. Bulk operations (git checkout, rsync) collapse into one
	// trigger. Default: 2s.
	Debounce time.Duration
}

// Watcher emits a trigger after each quiet period following document
// changes under the corpus root.
//
// fsnotify is not recursive, so every directory in the tree is watched
// individually and newly created directories are added on the fly.
type Watcher struct {
	config   Config
	watcher  *fsnotify.Watcher
	exts     map[string]bool
	triggers chan struct{}
	stop     chan struct{}
	logger   *zap.Logger
}

// New creates a watcher for the corpus root.
func New(config Config, logger *zap.Logger) (*Watcher, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("corpus root is required")
	}
	if len(config.Extensions) == 0 {
		return nil, fmt.Errorf("at least one extension is required")
	}
	if config.Debounce <= 0 {
		config.Debounce = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	exts := make(map[string]bool, len(config.Extensions))
	for _, ext := range config.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Watcher{
		config:   config,
		watcher:  fsw,
		exts:     exts,
		triggers: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start registers watches for the whole tree and begins processing
// events in a background goroutine.
func (w *Watcher) Start() error {
	if err := w.watchTree(w.config.Root); err != nil {
		return fmt.Errorf("watching corpus tree: %w", err)
	}

	go w.processEvents()

	w.logger.Info("watching corpus for changes",
		zap.String("root", w.config.Root),
		zap.Duration("debounce", w.config.Debounce),
	)
	return nil
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		// Already stopped.
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Triggers returns the channel that fires after each quiet period
// following document changes. The channel has capacity one: triggers
// coalesce while the consumer is busy syncing.
func (w *Watcher) Triggers() <-chan struct{} {
	return w.triggers
}

// watchTree adds watches for root and every non-skipped subdirectory.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("skipping unwatchable path",
				zap.String("path", path),
				zap.Error(walkErr),
			)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && discover.SkipDir(entry.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory",
				zap.String("path", path),
				zap.Error(err),
			)
		}
		return nil
	})
}

// processEvents folds raw filesystem events into debounced triggers.
func (w *Watcher) processEvents() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("corpus change detected",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(w.config.Debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.config.Debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case w.triggers <- struct{}{}:
			default:
				// A trigger is already pending; the next sync picks
				// everything up anyway.
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// relevant reports whether an event concerns a document file or a
// directory change that needs new watches.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	name := filepath.Base(event.Name)

	// A created directory gets its own watch; its content changes must
	// still reach us.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if discover.SkipDir(name) {
				return false
			}
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					zap.String("path", event.Name),
					zap.Error(err),
				)
			}
			return true
		}
	}

	return w.exts[strings.ToLower(filepath.Ext(name))]
}
