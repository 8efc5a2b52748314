package graph

import (
	"os"
	"sort"
	"strings"

	"github.com/standardbeagle/ldg/internal/debug"
	errs "github.com/standardbeagle/ldg/internal/errors"
	"github.com/standardbeagle/ldg/internal/revindex"
	"github.com/standardbeagle/ldg/internal/types"
)

// SymbolGraph extracts (or returns the cached) symbol graph for path.
// Cross-file edges come back from the parser carrying raw module specifiers;
// this resolves them to absolute paths and publishes the edges to the
// symbol-level reverse index.
func (e *Engine) SymbolGraph(path string) (*types.FileSymbolGraph, error) {
	norm, info, err := e.checkInput(path)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	rec, ok := e.symGraphs[norm]
	e.mu.RUnlock()
	if ok && snapshotCurrent(rec.snap, norm, info) {
		return rec.graph, nil
	}

	lock := e.pathLock(norm)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	rec, ok = e.symGraphs[norm]
	e.mu.RUnlock()
	if ok && snapshotCurrent(rec.snap, norm, info) {
		return rec.graph, nil
	}

	content, snap, err := readFile(norm, info)
	if err != nil {
		return nil, errs.NewEngineError(errs.CodeInternal, "read", norm, err)
	}

	graph, err := e.parser.SymbolGraph(content, norm)
	if err != nil {
		return nil, errs.NewEngineError(errs.CodeParse, "symbol-graph", norm, err)
	}

	e.resolveSymbolTargets(norm, graph)

	edges := make([]revindex.SymbolEdge, 0, len(graph.Dependencies))
	for _, dep := range graph.Dependencies {
		if dep.TargetFile == "" || dep.TargetFile == norm {
			continue
		}
		edges = append(edges, revindex.SymbolEdge{
			CallerID: dep.SourceID,
			TargetID: dep.TargetID,
			TypeOnly: dep.TypeOnly,
		})
	}
	e.symbols.RegisterSource(norm, edges, snap)

	e.mu.Lock()
	e.symGraphs[norm] = &symRecord{graph: graph, snap: snap}
	e.mu.Unlock()

	debug.LogGraph("symbol graph %s: %d symbols, %d edges\n", norm, len(graph.Symbols), len(graph.Dependencies))
	return graph, nil
}

// resolveSymbolTargets rewrites raw import specifiers on cross-file edges to
// absolute workspace paths. External and unresolved targets keep the raw
// specifier so callers can still see where the edge points.
func (e *Engine) resolveSymbolTargets(source string, graph *types.FileSymbolGraph) {
	resolved := make(map[string]types.Dependency)
	for i := range graph.Dependencies {
		dep := &graph.Dependencies[i]
		if dep.TargetFile == "" || dep.TargetFile == source {
			continue
		}

		target, ok := resolved[dep.TargetFile]
		if !ok {
			target = e.resolver.Resolve(source, types.Import{Module: dep.TargetFile, Kind: types.ImportStatic})
			resolved[dep.TargetFile] = target
		}
		if target.External || target.Unresolved {
			continue
		}

		name := dep.TargetID
		if idx := strings.LastIndex(name, ":"); idx >= 0 {
			name = name[idx+1:]
		}
		dep.TargetFile = target.Target
		dep.TargetID = types.SymbolID(target.Target, name)
	}
}

// FindUnusedSymbols lists symbols of path that nothing references: no
// same-file edge targets them and, for exported symbols, no other indexed
// file imports them.
func (e *Engine) FindUnusedSymbols(path string) ([]types.Symbol, error) {
	graph, err := e.SymbolGraph(path)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]bool, len(graph.Dependencies))
	for _, dep := range graph.Dependencies {
		referenced[dep.TargetID] = true
	}

	var unused []types.Symbol
	for _, sym := range graph.Symbols {
		if referenced[sym.ID] {
			continue
		}
		// Methods are reachable through their parent; skip them unless the
		// parent itself is unused.
		if sym.ParentID != "" {
			continue
		}
		if sym.Exported && len(e.symbols.Callers(sym.ID)) > 0 {
			continue
		}
		unused = append(unused, sym)
	}
	return unused, nil
}

// GetSymbolDependents returns the symbol IDs that reference the named
// symbol, split into runtime and type-only callers.
func (e *Engine) GetSymbolDependents(path, symbolName string) (runtime, all []string, err error) {
	if _, err := e.SymbolGraph(path); err != nil {
		return nil, nil, err
	}
	id := types.SymbolID(path, symbolName)
	return e.symbols.RuntimeCallers(id), e.symbols.Callers(id), nil
}

// TraceFunctionExecution walks symbol dependencies outward from one symbol,
// loading symbol graphs for files it reaches, up to maxDepth hops. Cycles
// are cut by the visited set; edges into external modules are recorded but
// not expanded.
func (e *Engine) TraceFunctionExecution(path, symbolName string, maxDepth int) (*types.TraceResult, error) {
	if maxDepth <= 0 {
		maxDepth = 5
	}

	norm := types.NormalizePath(path)
	if _, err := e.SymbolGraph(norm); err != nil {
		return nil, err
	}

	rootID := types.SymbolID(norm, symbolName)
	result := &types.TraceResult{Root: rootID}

	visited := map[string]bool{rootID: true}
	frontier := []string{rootID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := make([]string, 0, len(frontier))
		for _, id := range frontier {
			for _, dep := range e.depsOfSymbol(id) {
				result.Steps = append(result.Steps, dep)
				if visited[dep.TargetID] {
					continue
				}
				visited[dep.TargetID] = true

				// Only expand targets that live in a workspace file we can parse.
				if dep.TargetFile != "" && fileExists(dep.TargetFile) {
					next = append(next, dep.TargetID)
				} else if dep.TargetFile == "" {
					next = append(next, dep.TargetID)
				}
			}
		}
		frontier = next
	}

	if len(frontier) > 0 {
		for _, id := range frontier {
			if len(e.depsOfSymbol(id)) > 0 {
				result.DepthHit = true
				break
			}
		}
	}

	result.Visited = make([]string, 0, len(visited))
	for id := range visited {
		result.Visited = append(result.Visited, id)
	}
	sort.Strings(result.Visited)
	return result, nil
}

// depsOfSymbol returns the outgoing symbol edges of one symbol ID, loading
// the owning file's symbol graph on demand. Unparseable files contribute no
// edges.
func (e *Engine) depsOfSymbol(id string) []types.SymbolDependency {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return nil
	}
	file := id[:idx]

	graph, err := e.SymbolGraph(file)
	if err != nil {
		return nil
	}

	var out []types.SymbolDependency
	for _, dep := range graph.Dependencies {
		if dep.SourceID == id {
			out = append(out, dep)
		}
	}
	return out
}

// Impact computes the transitive set of files that would be affected by a
// change to path: the reverse closure over the file-level index.
func (e *Engine) Impact(path string) []string {
	start := types.NormalizePath(path)

	visited := map[string]bool{start: true}
	frontier := []string{start}
	var affected []string

	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, file := range frontier {
			for _, caller := range e.files.Callers(file) {
				if !visited[caller] {
					visited[caller] = true
					affected = append(affected, caller)
					next = append(next, caller)
				}
			}
		}
		frontier = next
	}

	sort.Strings(affected)
	return affected
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
