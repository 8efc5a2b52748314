package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/ldg/internal/cache"
	"github.com/standardbeagle/ldg/internal/config"
	"github.com/standardbeagle/ldg/internal/debug"
	"github.com/standardbeagle/ldg/internal/graph"
	"github.com/standardbeagle/ldg/internal/indexer"
	"github.com/standardbeagle/ldg/internal/mcp"
	"github.com/standardbeagle/ldg/internal/parser"
	"github.com/standardbeagle/ldg/internal/revindex"
	"github.com/standardbeagle/ldg/internal/scheduler"
	"github.com/standardbeagle/ldg/internal/store"
	"github.com/standardbeagle/ldg/internal/types"
	"github.com/standardbeagle/ldg/internal/worker"
)

var version = "0.1.0"

// staleRebuildThreshold: when more than this fraction of restored sources
// are stale, a full rebuild is cheaper than targeted reindexing.
const staleRebuildThreshold = 0.25

func main() {
	app := &cli.App{
		Name:                   "ldg",
		Usage:                  "Live dependency graph engine and automation server",
		Version:                version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Workspace root directory",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Include glob patterns (replace config)",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Additional exclude glob patterns",
			},
			&cli.IntFlag{
				Name:  "max-depth",
				Usage: "Maximum crawl depth",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Indexer worker count",
			},
			&cli.BoolFlag{
				Name:  "no-watch",
				Usage: "Disable the filesystem watcher",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the MCP automation server on stdio",
				Action: runServe,
			},
			{
				Name:   "index",
				Usage:  "Build the full index once and print a summary",
				Action: runIndex,
			},
			{
				Name:   "worker",
				Usage:  "Run as an analysis worker speaking the host protocol on stdio",
				Action: runWorker,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ldg: %v\n", err)
		os.Exit(1)
	}
}

// initDebugLog routes debug output to a file when debugging is requested;
// stdout carries a protocol in serve and worker modes so it must stay clean.
func initDebugLog() {
	if os.Getenv("LDG_DEBUG") == "1" || debug.EnableDebug == "true" {
		if path, err := debug.InitLogFile(); err == nil {
			fmt.Fprintf(os.Stderr, "debug log: %s\n", path)
		}
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("root"))
	if err != nil {
		return nil, err
	}

	if include := c.StringSlice("include"); len(include) > 0 {
		cfg.Include = include
	}
	if exclude := c.StringSlice("exclude"); len(exclude) > 0 {
		cfg.Exclude = append(cfg.Exclude, exclude...)
	}
	if depth := c.Int("max-depth"); depth > 0 {
		cfg.Index.MaxDepth = depth
	}
	if workers := c.Int("workers"); workers > 0 {
		cfg.Index.Workers = workers
	}
	if c.Bool("no-watch") {
		cfg.Watch.Enabled = false
	}
	return cfg, nil
}

// runtimeParts bundles everything a serving mode needs, plus its teardown.
type runtimeParts struct {
	cfg     *config.Config
	engine  *graph.Engine
	indexer *indexer.Indexer
	saver   *store.DebouncedSaver
	usage   *cache.UsageCache
}

// buildRuntime assembles the engine and restores persisted snapshots.
// Restore is best-effort: anything corrupt or missing means a cold start
// for that index.
func buildRuntime(cfg *config.Config) (*runtimeParts, error) {
	snapshots, err := store.New(cfg.SnapshotDir())
	if err != nil {
		return nil, err
	}

	files := revindex.NewFileIndex()
	symbols := revindex.NewSymbolIndex()

	usage, err := cache.New(cache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		TTL:           time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
		SweepInterval: time.Duration(cfg.Cache.SweepMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	if data, loadErr := snapshots.Load(store.KeyReverseIndex); loadErr == nil {
		if !files.Enable(data) {
			debug.LogGraph("reverse index snapshot rejected, cold start\n")
			files.Enable(nil)
		}
	} else {
		files.Enable(nil)
	}
	if data, loadErr := snapshots.Load(store.KeySymbolIndex); loadErr == nil {
		if !symbols.Enable(data) {
			symbols.Enable(nil)
		}
	} else {
		symbols.Enable(nil)
	}
	if data, loadErr := snapshots.Load(store.KeyUsageCache); loadErr == nil {
		usage.Load(data)
	}

	engine := graph.New(cfg, parser.New(), files, symbols, usage)

	saver := store.NewDebouncedSaver(snapshots, cfg.Cache.FlushDebounceMs)
	saver.Register(store.KeyReverseIndex, files.Serialize)
	saver.Register(store.KeySymbolIndex, symbols.Serialize)
	saver.Register(store.KeyUsageCache, usage.Serialize)
	usage.SetOnMutate(func() { saver.MarkDirty(store.KeyUsageCache) })

	return &runtimeParts{
		cfg:     cfg,
		engine:  engine,
		indexer: indexer.New(cfg, engine),
		saver:   saver,
		usage:   usage,
	}, nil
}

// reconcile validates the restored index against the filesystem. A small
// amount of drift is repaired in place; heavy drift triggers a full rebuild.
func reconcile(ctx context.Context, parts *runtimeParts) {
	validation := parts.engine.FileIndex().Validate()
	if validation.IsValid {
		return
	}

	for _, missing := range validation.MissingFiles {
		parts.engine.HandleFileDeleted(missing)
	}

	sources := parts.engine.FileIndex().SourceCount()
	if sources > 0 && float64(len(validation.StaleFiles)) > float64(sources)*staleRebuildThreshold {
		debug.LogIndexing("restore too stale (%d/%d), full rebuild\n", len(validation.StaleFiles), sources)
		_, _ = parts.indexer.Run(ctx)
		return
	}

	if count, err := parts.engine.ReindexStale(validation.StaleFiles); err != nil {
		debug.LogIndexing("stale reindex repaired %d files with errors: %v\n", count, err)
	} else if count > 0 {
		debug.LogIndexing("stale reindex repaired %d files\n", count)
	}
	parts.markIndexesDirty()
}

func (p *runtimeParts) markIndexesDirty() {
	p.saver.MarkDirty(store.KeyReverseIndex)
	p.saver.MarkDirty(store.KeySymbolIndex)
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	initDebugLog()
	defer debug.Close()

	parts, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer parts.saver.Close()
	defer parts.usage.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconcile(ctx, parts)

	// Index in the background; tools answer during the build with whatever
	// is already analyzed.
	go func() {
		if _, runErr := parts.indexer.Run(ctx); runErr == nil {
			parts.markIndexesDirty()
		}
	}()

	var watcher *scheduler.Watcher
	if cfg.Watch.Enabled {
		sched := scheduler.New(func(path string, kind types.FileEventKind) error {
			switch kind {
			case types.EventDelete:
				parts.engine.HandleFileDeleted(path)
			default:
				if err := parts.engine.ReanalyzeFile(path); err != nil {
					return err
				}
			}
			parts.markIndexesDirty()
			return nil
		}, time.Duration(cfg.Watch.DebounceMs)*time.Millisecond)
		defer sched.Dispose()

		watcher, err = scheduler.NewWatcher(cfg, sched, parts.engine.Parser().Supports)
		if err != nil {
			debug.LogScheduler("watcher unavailable: %v\n", err)
		} else {
			defer watcher.Close()
		}
	}

	server := mcp.NewServer(cfg, parts.engine, parts.indexer, watcher)
	return server.Run(ctx)
}

func runIndex(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	parts, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer parts.saver.Close()
	defer parts.usage.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	parts.indexer.Subscribe(func(p types.IndexProgress) {
		if p.State == types.IndexIndexing && p.Total > 0 {
			fmt.Fprintf(os.Stderr, "\r%s %d/%d (%.0f%%)", p.State, p.Processed, p.Total, p.Percentage)
		}
	})

	result, err := parts.indexer.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)
	parts.markIndexesDirty()

	fmt.Printf("state:    %s\n", result.State)
	fmt.Printf("indexed:  %d\n", result.IndexedFiles)
	fmt.Printf("failed:   %d\n", result.FailedFiles)
	fmt.Printf("total:    %d\n", result.TotalFiles)
	fmt.Printf("duration: %s\n", result.Duration.Round(time.Millisecond))
	if len(result.StaleFiles) > 0 {
		fmt.Printf("stale:    %d\n", len(result.StaleFiles))
	}
	return nil
}

// runWorker serves the worker protocol on stdio: warm up by indexing the
// workspace, then answer graph queries sent by a host process.
func runWorker(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	debug.SetStdioMode(true)
	initDebugLog()
	defer debug.Close()

	parts, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer parts.saver.Close()
	defer parts.usage.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := worker.NewStreamTransport(os.Stdin, os.Stdout, nil)
	w := worker.NewWorker(transport, workerWarmup(cfg, parts))

	registerWorkerTools(w, parts)
	return w.Run(ctx)
}

// workerWarmup builds the init handler for worker mode: adopt the host's
// workspace root and run the full index. Subscribers on the shared indexer
// accumulate, so the progress listener is attached only on the first init;
// a host that re-inits must not stack duplicates.
func workerWarmup(cfg *config.Config, parts *runtimeParts) worker.WarmupFunc {
	var subscribeOnce sync.Once
	return func(ctx context.Context, root string, progress func(processed, total int)) error {
		if root != "" {
			abs, absErr := filepath.Abs(root)
			if absErr == nil && abs != cfg.Project.Root {
				// Hosts may point the worker at a different workspace than
				// the local config; the config root wins only when no root
				// was sent.
				cfg.Project.Root = abs
			}
		}
		subscribeOnce.Do(func() {
			parts.indexer.Subscribe(func(p types.IndexProgress) {
				if p.State == types.IndexIndexing {
					progress(p.Processed, p.Total)
				}
			})
		})
		_, runErr := parts.indexer.Run(ctx)
		return runErr
	}
}
