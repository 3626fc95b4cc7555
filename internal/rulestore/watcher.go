package rulestore

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gomatter/internal/errors"
)

// DefaultDebounce collapses bursts of writes from editors and extraction jobs
const DefaultDebounce = 500 * time.Millisecond

// Watcher rebuilds the store when one of its rule files changes
type Watcher struct {
	store    *Store
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu       sync.Mutex
	running  bool
	onReload func(error)
}

// NewWatcher watches the store's directory. onReload, if non-nil, receives the
// result of every triggered rebuild.
func NewWatcher(store *Store, debounce time.Duration, onReload func(error)) (*Watcher, error) {
	if store.Dir() == "" {
		return nil, errors.InvalidInput("rule store has no directory to watch")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	if err := fw.Add(store.Dir()); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", store.Dir())
	}
	return &Watcher{store: store, debounce: debounce, watcher: fw, onReload: onReload}, nil
}

// Run processes events until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		w.watcher.Close()
	}()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isRuleFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.store.logger.Debug("[RuleStore] %s changed (%s)", filepath.Base(ev.Name), ev.Op)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.logger.Warn("[RuleStore] watcher error: %v", err)

		case <-fire:
			fire = nil
			err := w.store.Rebuild()
			if w.onReload != nil {
				w.onReload(err)
			}
		}
	}
}

// IsRunning reports whether Run is active
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func isRuleFile(path string) bool {
	switch filepath.Base(path) {
	case RulesFile, MetadataFile, IndexFile:
		return true
	}
	return false
}
