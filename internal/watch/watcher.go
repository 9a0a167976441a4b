// Package watch notices replays appearing in the replays directory.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the directory must be quiet before changed
// replays are reported. Replays are written incrementally while downloading.
const DefaultDebounce = 2 * time.Second

// ChangeCallback receives the replay files created or written since the
// last call
type ChangeCallback func(paths []string)

// ReplayWatcher monitors one directory for new or growing replay files
type ReplayWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	ext      string
	callback ChangeCallback
	logger   *slog.Logger

	debounce time.Duration
	pending  map[string]struct{}
	timer    *time.Timer
	mu       sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts watching dir for files with extension ext
func New(dir, ext string, callback ChangeCallback, logger *slog.Logger) (*ReplayWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &ReplayWatcher{
		watcher:  watcher,
		dir:      dir,
		ext:      strings.ToLower(ext),
		callback: callback,
		logger:   logger.With("component", "watch"),
		debounce: DefaultDebounce,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce sets the quiet period before changes are reported
func (rw *ReplayWatcher) SetDebounce(d time.Duration) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if d > 0 {
		rw.debounce = d
	}
}

// Start begins delivering events until ctx is cancelled or Stop is called
func (rw *ReplayWatcher) Start(ctx context.Context) {
	ctx, rw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(rw.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-rw.watcher.Events:
				if !ok {
					return
				}
				rw.handleEvent(event)
			case err, ok := <-rw.watcher.Errors:
				if !ok {
					return
				}
				rw.logger.Warn("watch error", "dir", rw.dir, "error", err)
			}
		}
	}()
}

// Stop stops watching and drops pending changes
func (rw *ReplayWatcher) Stop() {
	if rw.cancel != nil {
		rw.cancel()
		<-rw.done
	}
	rw.watcher.Close()

	rw.mu.Lock()
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.pending = make(map[string]struct{})
	rw.mu.Unlock()
}

func (rw *ReplayWatcher) handleEvent(event fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(event.Name), rw.ext) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.pending[event.Name] = struct{}{}
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timer = time.AfterFunc(rw.debounce, rw.flush)
}

func (rw *ReplayWatcher) flush() {
	rw.mu.Lock()
	pending := rw.pending
	rw.pending = make(map[string]struct{})
	rw.mu.Unlock()

	if rw.callback == nil || len(pending) == 0 {
		return
	}

	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	rw.logger.Debug("replays changed", "count", len(paths))
	rw.callback(paths)
}
