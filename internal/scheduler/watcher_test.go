package scheduler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/standardbeagle/ldg/internal/config"
	"github.com/standardbeagle/ldg/internal/types"
)

func supportsTS(ext string) bool { return ext == ".ts" }

func newWatchedWorkspace(t *testing.T) (*config.Config, *recorder, *Scheduler, *Watcher) {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Project.Root = root

	rec := newRecorder()
	sched := New(rec.handler, 20*time.Millisecond)
	t.Cleanup(sched.Dispose)
	sched.SetOnComplete(func(string, types.FileEventKind) { rec.done <- struct{}{} })

	w, err := NewWatcher(cfg, sched, supportsTS)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	return cfg, rec, sched, w
}

func TestWatcherDispatchesSupportedFileEvents(t *testing.T) {
	cfg, rec, _, w := newWatchedWorkspace(t)

	path := filepath.Join(cfg.Project.Root, "new.ts")
	if err := os.WriteFile(path, []byte("export const x = 1;\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, rec.done, 1)
	if rec.count() == 0 {
		t.Fatal("no handler call for created file")
	}
	if stats := w.Stats(); stats.Dispatched == 0 {
		t.Errorf("stats should count the dispatch: %+v", stats)
	}
}

func TestWatcherIgnoresUnsupportedExtensions(t *testing.T) {
	cfg, rec, _, w := newWatchedWorkspace(t)

	path := filepath.Join(cfg.Project.Root, "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if w.Stats().Ignored > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() != 0 {
		t.Errorf("unsupported file reached the handler")
	}
}

func TestWatcherExcludedDirsNotWatched(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg := config.Default()
	cfg.Project.Root = root

	rec := newRecorder()
	sched := New(rec.handler, 20*time.Millisecond)
	defer sched.Dispose()

	w, err := NewWatcher(cfg, sched, supportsTS)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	stats := w.Stats()
	if stats.WatchedDirs == 0 {
		t.Fatal("root should be watched")
	}

	// None of the watched dirs may live under node_modules.
	w.mu.Lock()
	for dir := range w.dirs {
		if strings.Contains(dir, "node_modules") {
			t.Errorf("excluded dir watched: %s", dir)
		}
	}
	w.mu.Unlock()
}
