// Package indexer runs the background full-workspace index build: count the
// candidate files, analyze them with a bounded worker pool, then validate
// the reverse index against the filesystem.
package indexer

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/ldg/internal/config"
	"github.com/standardbeagle/ldg/internal/debug"
	"github.com/standardbeagle/ldg/internal/graph"
	"github.com/standardbeagle/ldg/internal/types"
)

// Result summarizes one finished (or interrupted) build.
type Result struct {
	State        types.IndexState `json:"state"`
	IndexedFiles int              `json:"indexedFiles"`
	FailedFiles  int              `json:"failedFiles"`
	TotalFiles   int              `json:"totalFiles"`
	StaleFiles   []string         `json:"staleFiles,omitempty"`
	Duration     time.Duration    `json:"duration"`
	Cancelled    bool             `json:"cancelled"`
}

// Indexer drives the index build state machine. One build runs at a time;
// starting a second while one is active returns the live progress instead.
type Indexer struct {
	cfg    *config.Config
	engine *graph.Engine

	mu          sync.Mutex
	state       types.IndexState
	progress    types.IndexProgress
	cancel      context.CancelFunc
	running     bool
	subscribers []func(types.IndexProgress)
}

// New creates an indexer in the idle state.
func New(cfg *config.Config, engine *graph.Engine) *Indexer {
	return &Indexer{
		cfg:    cfg,
		engine: engine,
		state:  types.IndexIdle,
	}
}

// Subscribe registers a progress listener. Listeners are called after every
// state transition and after each indexed file; they must not block.
func (ix *Indexer) Subscribe(fn func(types.IndexProgress)) {
	ix.mu.Lock()
	ix.subscribers = append(ix.subscribers, fn)
	ix.mu.Unlock()
}

// State returns the current state machine value.
func (ix *Indexer) State() types.IndexState {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.state
}

// Progress returns the latest progress snapshot.
func (ix *Indexer) Progress() types.IndexProgress {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.progress
}

// Cancel requests a stop. The build finishes its in-flight files and stops
// before picking up the next one; already-indexed results are kept.
func (ix *Indexer) Cancel() {
	ix.mu.Lock()
	cancel := ix.cancel
	ix.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (ix *Indexer) setState(state types.IndexState, update func(*types.IndexProgress)) {
	ix.mu.Lock()
	ix.state = state
	ix.progress.State = state
	if update != nil {
		update(&ix.progress)
	}
	snapshot := ix.progress
	subs := make([]func(types.IndexProgress), len(ix.subscribers))
	copy(subs, ix.subscribers)
	ix.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Run executes one full build. It returns the result even when cancelled;
// only setup failures (an unwalkable root) produce an error state.
func (ix *Indexer) Run(ctx context.Context) (*Result, error) {
	ix.mu.Lock()
	if ix.running {
		ix.mu.Unlock()
		return nil, nil
	}
	ix.running = true
	ctx, cancel := context.WithCancel(ctx)
	ix.cancel = cancel
	ix.progress = types.IndexProgress{}
	ix.mu.Unlock()

	defer func() {
		cancel()
		ix.mu.Lock()
		ix.running = false
		ix.cancel = nil
		ix.mu.Unlock()
	}()

	started := time.Now()
	ix.setState(types.IndexCounting, nil)

	files, err := ix.collectFiles()
	if err != nil {
		ix.setState(types.IndexError, func(p *types.IndexProgress) { p.Error = err.Error() })
		return &Result{State: types.IndexError, Duration: time.Since(started)}, err
	}

	workers := ix.cfg.Index.Workers
	if workers <= 0 {
		workers = 4
	}

	total := len(files)
	ix.setState(types.IndexIndexing, func(p *types.IndexProgress) { p.Total = total })
	debug.LogIndexing("indexing %d files with %d workers\n", total, workers)

	var (
		countMu   sync.Mutex
		processed int
		failed    int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, file := range files {
		file := file
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// The cancellation point is between files: a file that started
			// analysis finishes it.
			if gctx.Err() != nil {
				return nil
			}
			_, analyzeErr := ix.engine.Analyze(file)

			countMu.Lock()
			processed++
			if analyzeErr != nil {
				failed++
			}
			done := processed
			countMu.Unlock()

			if analyzeErr != nil {
				debug.LogIndexing("index failed for %s: %v\n", file, analyzeErr)
			}
			ix.setState(types.IndexIndexing, func(p *types.IndexProgress) {
				p.Processed = done
				p.CurrentFile = file
				if total > 0 {
					p.Percentage = float64(done) / float64(total) * 100
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		ix.setState(types.IndexCancelled, nil)
		return &Result{
			State:        types.IndexCancelled,
			IndexedFiles: processed - failed,
			FailedFiles:  failed,
			TotalFiles:   total,
			Duration:     time.Since(started),
			Cancelled:    true,
		}, nil
	}

	ix.setState(types.IndexValidating, nil)
	validation := ix.engine.FileIndex().Validate()

	ix.setState(types.IndexComplete, func(p *types.IndexProgress) { p.CurrentFile = "" })
	return &Result{
		State:        types.IndexComplete,
		IndexedFiles: processed - failed,
		FailedFiles:  failed,
		TotalFiles:   total,
		StaleFiles:   validation.StaleFiles,
		Duration:     time.Since(started),
	}, nil
}

// collectFiles walks the workspace and returns the sorted candidate set:
// supported extensions, matching include patterns, not matching excludes,
// and under the size cap.
func (ix *Indexer) collectFiles() ([]string, error) {
	root := ix.cfg.Project.Root
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && ix.excludedDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if ix.excluded(rel) || !ix.included(rel) {
			return nil
		}
		if !ix.engine.Parser().Supports(strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		if info, infoErr := d.Info(); infoErr == nil && ix.cfg.Index.MaxFileSize > 0 && info.Size() > ix.cfg.Index.MaxFileSize {
			return nil
		}
		files = append(files, types.NormalizePath(path))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func (ix *Indexer) excluded(rel string) bool {
	for _, pattern := range ix.cfg.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// excludedDir prunes a directory when any exclude pattern would match
// everything under it, e.g. "node_modules/**" against "node_modules".
func (ix *Indexer) excludedDir(rel string) bool {
	for _, pattern := range ix.cfg.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, rel+"/_"); ok {
			return true
		}
	}
	return false
}

func (ix *Indexer) included(rel string) bool {
	if len(ix.cfg.Include) == 0 {
		return true
	}
	for _, pattern := range ix.cfg.Include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
