package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// Config is the full runtime configuration for the dependency graph engine.
type Config struct {
	Version int
	Project Project
	Index   Index
	Cache   Cache
	Watch   Watch
	Worker  Worker
	Include []string
	Exclude []string
}

type Project struct {
	Root string
	Name string
}

type Index struct {
	MaxDepth        int   // Maximum crawl depth from an entry file
	MaxFileSize     int64 // Files larger than this are skipped
	ExcludeExternal bool  // Drop edges into external package roots (node_modules etc.)
	Workers         int   // Background indexer concurrency, 0 = NumCPU
}

type Cache struct {
	MaxEntries      int // Analysis cache capacity (LRU)
	TTLMinutes      int // Entry lifetime
	SweepMinutes    int // Periodic expiry sweep interval
	FlushDebounceMs int // Snapshot persistence debounce
}

type Watch struct {
	Enabled    bool
	DebounceMs int // Per-file event debounce window
}

type Worker struct {
	WarmupTimeoutSec  int // How long Start waits for worker readiness
	RequestTimeoutSec int // Per-invoke deadline
}

// Default returns the baseline configuration before file and env overrides.
func Default() *Config {
	root, _ := os.Getwd()
	return &Config{
		Version: 1,
		Project: Project{Root: root},
		Index: Index{
			MaxDepth:        10,
			MaxFileSize:     10 * 1024 * 1024,
			ExcludeExternal: true,
			Workers:         runtime.NumCPU(),
		},
		Cache: Cache{
			MaxEntries:      500,
			TTLMinutes:      60,
			SweepMinutes:    10,
			FlushDebounceMs: 2000,
		},
		Watch: Watch{
			Enabled:    true,
			DebounceMs: 300,
		},
		Worker: Worker{
			WarmupTimeoutSec:  120,
			RequestTimeoutSec: 30,
		},
		Include: []string{},
		Exclude: []string{
			"node_modules/**", ".git/**", "dist/**", "build/**",
			"target/**", "vendor/**", "__pycache__/**", ".ldg/**",
		},
	}
}

// Load reads .ldg.kdl from rootDir (when present), applies environment
// overrides, and validates the result.
func Load(rootDir string) (*Config, error) {
	cfg := Default()

	if rootDir != "" {
		abs, err := filepath.Abs(rootDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root path %q: %w", rootDir, err)
		}
		cfg.Project.Root = abs
	}

	if fileCfg, err := LoadKDL(cfg.Project.Root); err != nil {
		return nil, err
	} else if fileCfg != nil {
		cfg = fileCfg
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies LDG_* environment variable overrides. Env wins over the
// config file so the automation server can be pointed anywhere without one.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LDG_WORKSPACE_ROOT"); v != "" {
		if abs, err := filepath.Abs(v); err == nil {
			cfg.Project.Root = abs
		}
	}
	if v := os.Getenv("LDG_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Index.MaxDepth = n
		}
	}
	if v := os.Getenv("LDG_EXCLUDE_EXTERNAL"); v != "" {
		cfg.Index.ExcludeExternal = v == "1" || v == "true"
	}
	if v := os.Getenv("LDG_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Index.Workers = n
		}
	}
	if v := os.Getenv("LDG_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("LDG_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Watch.DebounceMs = n
		}
	}
}

// Validate checks the configuration for values that cannot work at runtime.
// A missing or invalid workspace root is a hard startup error.
func (c *Config) Validate() error {
	if c.Project.Root == "" {
		return fmt.Errorf("workspace root is not configured")
	}
	if !filepath.IsAbs(c.Project.Root) {
		return fmt.Errorf("workspace root must be absolute, got %q", c.Project.Root)
	}
	info, err := os.Stat(c.Project.Root)
	if err != nil {
		return fmt.Errorf("workspace root %q is not accessible: %w", c.Project.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace root %q is not a directory", c.Project.Root)
	}
	if c.Index.MaxDepth <= 0 {
		return fmt.Errorf("index max_depth must be positive, got %d", c.Index.MaxDepth)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Watch.DebounceMs <= 0 {
		return fmt.Errorf("watch debounce_ms must be positive, got %d", c.Watch.DebounceMs)
	}
	return nil
}

// SnapshotDir is where persisted index and cache snapshots live.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.Project.Root, ".ldg")
}
