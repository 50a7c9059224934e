package backlog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 2 * time.Second

// Watcher observes a set of backlog files and invokes a callback after edits
// settle. Directories are watched rather than the files themselves because
// most editors replace files on save, which drops file-level watches.
type Watcher struct {
	paths    map[string]struct{}
	debounce time.Duration
	onChange func(ctx context.Context)

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(paths []string, debounce time.Duration, onChange func(ctx context.Context)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("backlog watch callback is required")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one backlog path is required")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	tracked := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		cleaned := filepath.Clean(strings.TrimSpace(path))
		if cleaned == "" || cleaned == "." {
			continue
		}
		tracked[cleaned] = struct{}{}
	}
	if len(tracked) == 0 {
		return nil, fmt.Errorf("at least one backlog path is required")
	}

	return &Watcher{
		paths:    tracked,
		debounce: debounce,
		onChange: onChange,
	}, nil
}

// Run blocks until ctx is cancelled, firing the callback once per settled
// burst of edits to any tracked file.
func (w *Watcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot start backlog watcher: %w", err)
	}
	defer notifier.Close()

	dirs := map[string]struct{}{}
	for path := range w.paths {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := notifier.Add(dir); err != nil {
			return fmt.Errorf("cannot watch %q: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case event, ok := <-notifier.Events:
			if !ok {
				return nil
			}
			if !w.tracks(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleSync(ctx)
		case err, ok := <-notifier.Errors:
			if !ok {
				return nil
			}
			// Watch errors are transient on most platforms; keep watching.
			_ = err
		}
	}
}

func (w *Watcher) tracks(name string) bool {
	cleaned := filepath.Clean(name)
	if _, ok := w.paths[cleaned]; ok {
		return true
	}
	// Editors that write via a temp file emit events for the final name
	// only on rename, but some emit the base name relative to the watch
	// dir. Compare base names as a fallback.
	for path := range w.paths {
		if filepath.Base(path) == filepath.Base(cleaned) && filepath.Dir(path) == filepath.Dir(cleaned) {
			return true
		}
	}
	return false
}

func (w *Watcher) scheduleSync(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.onChange(ctx)
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
