package graph

import (
	"context"
	"sort"

	"github.com/standardbeagle/ldg/internal/debug"
	errs "github.com/standardbeagle/ldg/internal/errors"
	"github.com/standardbeagle/ldg/internal/parser"
	"github.com/standardbeagle/ldg/internal/types"
)

// crawlBatchSize is how many new nodes an incremental crawl accumulates
// before flushing a batch to the caller.
const crawlBatchSize = 20

// Crawl walks the dependency graph breadth-first from entryPath down to
// maxDepth hops, analyzing files on demand. Each file is visited once no
// matter how many paths reach it; per-file analysis failures degrade the
// crawl instead of aborting it. The result includes every cycle found among
// the gathered edges, with member nodes marked.
func (e *Engine) Crawl(entryPath string, maxDepth int) (*types.CrawlResult, error) {
	if maxDepth <= 0 {
		maxDepth = e.cfg.Index.MaxDepth
	}

	entry := types.NormalizePath(entryPath)
	result := &types.CrawlResult{Nodes: make(map[string]*types.FileNode)}

	if _, err := e.Analyze(entry); err != nil {
		return nil, err
	}

	var failures []error
	visited := map[string]bool{entry: true}
	frontier := []string{entry}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := make([]string, 0, len(frontier))
		for _, file := range frontier {
			deps, err := e.Analyze(file)
			if err != nil {
				failures = append(failures, err)
				continue
			}
			for _, dep := range deps {
				if dep.External && e.cfg.Index.ExcludeExternal {
					continue
				}
				result.Edges = append(result.Edges, dep)
				if dep.External || dep.Unresolved {
					continue
				}
				if !visited[dep.Target] {
					visited[dep.Target] = true
					next = append(next, dep.Target)
				}
			}
		}
		frontier = next
	}

	// Anything still in the frontier was reached but not expanded.
	if len(frontier) > 0 {
		for _, file := range frontier {
			hasDeps := false
			if deps, err := e.Analyze(file); err == nil {
				for _, dep := range deps {
					if !dep.External && !dep.Unresolved {
						hasDeps = true
						break
					}
				}
			}
			if hasDeps {
				result.Truncated = true
				break
			}
		}
	}

	for file := range visited {
		result.Nodes[file] = e.nodeFor(file)
	}

	result.Cycles = DetectCycles(result.Edges)
	for _, cycle := range result.Cycles {
		for _, member := range cycle {
			if node, ok := result.Nodes[member]; ok {
				node.InCycle = true
			}
		}
	}

	debug.LogGraph("crawl %s depth=%d: %d nodes, %d edges, %d cycles\n",
		entry, maxDepth, len(result.Nodes), len(result.Edges), len(result.Cycles))

	if me := errs.NewMultiError(failures); me != nil {
		return result, errs.NewEngineError(errs.CodePartial, "crawl", entry, me)
	}
	return result, nil
}

// CrawlFrom expands the graph outward from an already-known node, returning
// only nodes and edges absent from knownNodes. Results stream to onBatch in
// chunks; between chunks the context is checked, so cancellation returns the
// partial result without tearing down anything already delivered.
func (e *Engine) CrawlFrom(ctx context.Context, nodeID string, knownNodes []string, extraDepth int, onBatch func(*types.CrawlResult)) (*types.CrawlResult, error) {
	if extraDepth <= 0 {
		extraDepth = 1
	}

	start := types.NormalizePath(nodeID)
	known := make(map[string]bool, len(knownNodes)+1)
	for _, n := range knownNodes {
		known[types.NormalizePath(n)] = true
	}
	known[start] = true

	result := &types.CrawlResult{Nodes: make(map[string]*types.FileNode)}
	batch := &types.CrawlResult{Nodes: make(map[string]*types.FileNode)}

	flush := func() {
		if onBatch != nil && (len(batch.Nodes) > 0 || len(batch.Edges) > 0) {
			onBatch(batch)
		}
		batch = &types.CrawlResult{Nodes: make(map[string]*types.FileNode)}
	}

	var failures []error
	visited := map[string]bool{start: true}
	frontier := []string{start}

	for depth := 0; depth < extraDepth && len(frontier) > 0; depth++ {
		next := make([]string, 0, len(frontier))
		for _, file := range frontier {
			if err := ctx.Err(); err != nil {
				flush()
				result.Truncated = true
				return result, err
			}

			deps, err := e.Analyze(file)
			if err != nil {
				failures = append(failures, err)
				continue
			}
			for _, dep := range deps {
				if dep.External && e.cfg.Index.ExcludeExternal {
					continue
				}
				result.Edges = append(result.Edges, dep)
				batch.Edges = append(batch.Edges, dep)
				if dep.External || dep.Unresolved {
					continue
				}
				if !visited[dep.Target] {
					visited[dep.Target] = true
					next = append(next, dep.Target)
					if !known[dep.Target] {
						node := e.nodeFor(dep.Target)
						result.Nodes[dep.Target] = node
						batch.Nodes[dep.Target] = node
					}
				}
			}

			if len(batch.Nodes) >= crawlBatchSize {
				flush()
			}
		}
		frontier = next
	}
	flush()

	if me := errs.NewMultiError(failures); me != nil {
		return result, errs.NewEngineError(errs.CodePartial, "crawl-from", start, me)
	}
	return result, nil
}

// nodeFor returns the cached node for file, or a placeholder when the file
// was reached but never successfully analyzed.
func (e *Engine) nodeFor(file string) *types.FileNode {
	if node, ok := e.FileNode(file); ok {
		return &node
	}
	return &types.FileNode{
		Path:           file,
		Extension:      parser.ExtFor(file),
		DependentCount: len(e.files.Callers(file)),
	}
}

// SortedNodePaths lists a result's node identities in stable order.
func SortedNodePaths(result *types.CrawlResult) []string {
	paths := make([]string, 0, len(result.Nodes))
	for path := range result.Nodes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
