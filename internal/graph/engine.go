// Package graph implements the dependency/symbol crawling and caching
// engine: per-file analysis, graph traversal, symbol-level queries, and
// reverse-index publication.
package graph

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/ldg/internal/cache"
	"github.com/standardbeagle/ldg/internal/config"
	"github.com/standardbeagle/ldg/internal/debug"
	errs "github.com/standardbeagle/ldg/internal/errors"
	"github.com/standardbeagle/ldg/internal/parser"
	"github.com/standardbeagle/ldg/internal/revindex"
	"github.com/standardbeagle/ldg/internal/types"
)

// fileRecord is the cached analysis of one file. Records are replaced
// wholesale on reanalysis; a failed analysis leaves the prior record intact.
type fileRecord struct {
	node types.FileNode
	deps []types.Dependency
	snap types.MtimeSnapshot
}

// symRecord is the cached symbol graph of one file.
type symRecord struct {
	graph *types.FileSymbolGraph
	snap  types.MtimeSnapshot
}

// Engine resolves and caches per-file dependency and symbol data and
// answers graph queries. Queries see either the old or the new snapshot of
// a file, never a torn one.
type Engine struct {
	cfg      *config.Config
	parser   *parser.Parser
	resolver *Resolver
	files    *revindex.FileIndex
	symbols  *revindex.SymbolIndex
	usage    *cache.UsageCache

	mu        sync.RWMutex
	records   map[string]*fileRecord
	symGraphs map[string]*symRecord

	// analyzeLocks serializes analysis per normalized path so a later
	// ReanalyzeFile always observes and overwrites an earlier one.
	analyzeLocks sync.Map // map[string]*sync.Mutex
}

// New creates an engine wired to its indexes and cache.
func New(cfg *config.Config, p *parser.Parser, files *revindex.FileIndex, symbols *revindex.SymbolIndex, usage *cache.UsageCache) *Engine {
	return &Engine{
		cfg:       cfg,
		parser:    p,
		resolver:  NewResolver(cfg.Project.Root),
		files:     files,
		symbols:   symbols,
		usage:     usage,
		records:   make(map[string]*fileRecord),
		symGraphs: make(map[string]*symRecord),
	}
}

// Parser exposes the parsing collaborator for components that share it.
func (e *Engine) Parser() *parser.Parser { return e.parser }

// FileIndex exposes the file-level reverse index.
func (e *Engine) FileIndex() *revindex.FileIndex { return e.files }

// SymbolIndex exposes the symbol-level reverse index.
func (e *Engine) SymbolIndex() *revindex.SymbolIndex { return e.symbols }

// UsageCache exposes the analysis cache.
func (e *Engine) UsageCache() *cache.UsageCache { return e.usage }

func (e *Engine) pathLock(norm string) *sync.Mutex {
	lock, _ := e.analyzeLocks.LoadOrStore(norm, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// checkInput validates caller-supplied paths: absolute, existing, supported.
func (e *Engine) checkInput(path string) (string, os.FileInfo, error) {
	if !filepath.IsAbs(path) {
		return "", nil, errs.NewPathNotAbsolute(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, errs.NewFileNotFound(path)
	}
	if !e.parser.Supports(parser.ExtFor(path)) {
		return "", nil, errs.NewUnsupportedExtension(path)
	}
	return types.NormalizePath(path), info, nil
}

// readFile reads content and captures the staleness snapshot. The content
// hash rides along to catch rewrites that preserve the mtime.
func readFile(path string, info os.FileInfo) ([]byte, types.MtimeSnapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, types.MtimeSnapshot{}, err
	}
	return content, types.MtimeSnapshot{
		MtimeUnixNano: info.ModTime().UnixNano(),
		ContentHash:   xxhash.Sum64(content),
	}, nil
}

// snapshotCurrent reports whether a cached snapshot still describes the file
// on disk. A differing mtime is conclusive; on an equal mtime the content is
// re-hashed so a rewrite that preserved the mtime still invalidates.
func snapshotCurrent(snap types.MtimeSnapshot, path string, info os.FileInfo) bool {
	if snap.MtimeUnixNano != info.ModTime().UnixNano() {
		return false
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return xxhash.Sum64(content) == snap.ContentHash
}

// Analyze parses path and resolves every import specifier to an absolute
// path, an external package, or an unresolved edge. The result is cached by
// file identity and is pure with respect to on-disk content as of the call:
// analyzing an unchanged file twice yields the same dependency set.
func (e *Engine) Analyze(path string) ([]types.Dependency, error) {
	norm, info, err := e.checkInput(path)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	rec, ok := e.records[norm]
	e.mu.RUnlock()
	if ok && snapshotCurrent(rec.snap, norm, info) {
		return copyDeps(rec.deps), nil
	}

	lock := e.pathLock(norm)
	lock.Lock()
	defer lock.Unlock()

	// Re-check after acquiring the per-path lock.
	e.mu.RLock()
	rec, ok = e.records[norm]
	e.mu.RUnlock()
	if ok && snapshotCurrent(rec.snap, norm, info) {
		return copyDeps(rec.deps), nil
	}

	return e.analyzeLocked(norm, info)
}

// analyzeLocked performs the parse and publishes the result. Caller holds
// the per-path lock.
func (e *Engine) analyzeLocked(norm string, info os.FileInfo) ([]types.Dependency, error) {
	content, snap, err := readFile(norm, info)
	if err != nil {
		return nil, errs.NewEngineError(errs.CodeInternal, "read", norm, err)
	}

	imports, err := e.parser.Parse(content, norm)
	if err != nil {
		// Prior snapshot stays intact; the failure is surfaced, not stored.
		return nil, errs.NewEngineError(errs.CodeParse, "analyze", norm, err)
	}

	deps := make([]types.Dependency, 0, len(imports))
	internal := make([]string, 0, len(imports))
	for _, imp := range imports {
		dep := e.resolver.Resolve(norm, imp)
		deps = append(deps, dep)
		if !dep.External && !dep.Unresolved {
			internal = append(internal, dep.Target)
		}
	}

	node := types.FileNode{
		Path:            norm,
		Extension:       parser.ExtFor(norm),
		DependencyCount: len(internal),
	}

	e.mu.Lock()
	e.records[norm] = &fileRecord{node: node, deps: deps, snap: snap}
	e.mu.Unlock()

	e.files.RegisterSource(norm, internal, snap)
	debug.LogGraph("analyzed %s: %d deps (%d internal)\n", norm, len(deps), len(internal))

	return copyDeps(deps), nil
}

// ReanalyzeFile invalidates the cached entry, re-runs analysis, and
// republishes reverse-index deltas. Safe to call concurrently with queries.
func (e *Engine) ReanalyzeFile(path string) error {
	norm := types.NormalizePath(path)

	lock := e.pathLock(norm)
	lock.Lock()

	info, err := os.Stat(norm)
	if err != nil {
		lock.Unlock()
		return errs.NewFileNotFound(norm)
	}

	e.mu.Lock()
	delete(e.records, norm)
	hadSymbols := e.symGraphs[norm] != nil
	delete(e.symGraphs, norm)
	e.mu.Unlock()

	_, err = e.analyzeLocked(norm, info)
	lock.Unlock()
	if err != nil {
		return err
	}

	if hadSymbols {
		if _, symErr := e.SymbolGraph(norm); symErr != nil {
			debug.LogGraph("symbol refresh failed for %s: %v\n", norm, symErr)
		}
	}
	return nil
}

// HandleFileDeleted removes the file node, all outgoing edges, and this
// file's reverse-index registrations. Edges other files hold toward it stay
// dangling until their own sources are reanalyzed. Idempotent.
func (e *Engine) HandleFileDeleted(path string) {
	norm := types.NormalizePath(path)

	e.mu.Lock()
	delete(e.records, norm)
	delete(e.symGraphs, norm)
	e.mu.Unlock()

	e.files.RemoveSource(norm)
	e.symbols.RemoveSource(norm)
	e.usage.Remove(norm)
	debug.LogGraph("removed %s from graph\n", norm)
}

// FileNode returns the cached node for path with its dependent count filled
// from the reverse index.
func (e *Engine) FileNode(path string) (types.FileNode, bool) {
	norm := types.NormalizePath(path)

	e.mu.RLock()
	rec, ok := e.records[norm]
	e.mu.RUnlock()
	if !ok {
		return types.FileNode{}, false
	}

	node := rec.node
	node.DependentCount = len(e.files.Callers(norm))
	return node, true
}

// Dependents returns the files whose last successful analysis imported path.
func (e *Engine) Dependents(path string) []string {
	return e.files.Callers(path)
}

// ReindexStale reanalyzes exactly the listed files and republishes their
// edges without touching unaffected entries. Per-file failures are
// collected, not fatal.
func (e *Engine) ReindexStale(files []string) (int, error) {
	var errors []error
	count := 0
	for _, file := range files {
		if err := e.ReanalyzeFile(file); err != nil {
			errors = append(errors, err)
			continue
		}
		count++
	}
	if me := errs.NewMultiError(errors); me != nil {
		return count, me
	}
	return count, nil
}

// AnalyzedCount reports how many files have live records.
func (e *Engine) AnalyzedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.records)
}

func copyDeps(deps []types.Dependency) []types.Dependency {
	out := make([]types.Dependency, len(deps))
	copy(out, deps)
	return out
}
