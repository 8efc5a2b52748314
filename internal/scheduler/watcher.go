package scheduler

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/ldg/internal/config"
	"github.com/standardbeagle/ldg/internal/debug"
	"github.com/standardbeagle/ldg/internal/types"
)

// WatchStats counts watcher activity for the stats surface.
type WatchStats struct {
	EventsSeen  int64 `json:"eventsSeen"`
	Dispatched  int64 `json:"dispatched"`
	Ignored     int64 `json:"ignored"`
	WatchedDirs int   `json:"watchedDirs"`
	WatchErrors int64 `json:"watchErrors"`
}

// Watcher wires filesystem notifications into the scheduler. Directories are
// watched recursively; new directories picked up on create.
type Watcher struct {
	cfg       *config.Config
	scheduler *Scheduler
	watcher   *fsnotify.Watcher
	supports  func(ext string) bool

	eventsSeen  atomic.Int64
	dispatched  atomic.Int64
	ignored     atomic.Int64
	watchErrors atomic.Int64

	mu   sync.Mutex
	dirs map[string]bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over the workspace root. supports filters
// file events to extensions the parser can handle.
func NewWatcher(cfg *config.Config, sched *Scheduler, supports func(ext string) bool) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:       cfg,
		scheduler: sched,
		watcher:   fsw,
		supports:  supports,
		dirs:      make(map[string]bool),
		done:      make(chan struct{}),
	}
	if err := w.addWatchesRecursive(cfg.Project.Root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// addWatchesRecursive watches dir and every non-excluded directory below it.
// The visited map inside w.dirs guards against symlink cycles.
func (w *Watcher) addWatchesRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.isExcludedDir(path) {
			return filepath.SkipDir
		}

		norm := types.NormalizePath(path)
		w.mu.Lock()
		already := w.dirs[norm]
		if !already {
			w.dirs[norm] = true
		}
		w.mu.Unlock()
		if already {
			return filepath.SkipDir
		}

		if watchErr := w.watcher.Add(path); watchErr != nil {
			w.watchErrors.Add(1)
			debug.LogScheduler("watch add failed for %s: %v\n", path, watchErr)
		}
		return nil
	})
}

func (w *Watcher) isExcludedDir(path string) bool {
	rel, err := filepath.Rel(w.cfg.Project.Root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.cfg.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, rel+"/_"); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.watchErrors.Add(1)
			debug.LogScheduler("watch error: %v\n", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.eventsSeen.Add(1)

	kind, ok := eventKind(event.Op)
	if !ok {
		w.ignored.Add(1)
		return
	}

	// A new directory needs its own watch before events inside it arrive.
	if kind == types.EventCreate {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.isExcludedDir(event.Name) {
				_ = w.addWatchesRecursive(event.Name)
			}
			w.ignored.Add(1)
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(event.Name))
	if !w.supports(ext) {
		w.ignored.Add(1)
		return
	}

	w.dispatched.Add(1)
	w.scheduler.Enqueue(event.Name, kind)
}

func eventKind(op fsnotify.Op) (types.FileEventKind, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return types.EventDelete, true
	case op.Has(fsnotify.Create):
		return types.EventCreate, true
	case op.Has(fsnotify.Write):
		return types.EventChange, true
	}
	return 0, false
}

// Stats returns a snapshot of watcher counters.
func (w *Watcher) Stats() WatchStats {
	w.mu.Lock()
	dirs := len(w.dirs)
	w.mu.Unlock()
	return WatchStats{
		EventsSeen:  w.eventsSeen.Load(),
		Dispatched:  w.dispatched.Load(),
		Ignored:     w.ignored.Load(),
		WatchedDirs: dirs,
		WatchErrors: w.watchErrors.Load(),
	}
}

// Close stops the event loop and releases the underlying watches.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
