package graph

import (
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/ldg/internal/cache"
	"github.com/standardbeagle/ldg/internal/debug"
	errs "github.com/standardbeagle/ldg/internal/errors"
	"github.com/standardbeagle/ldg/internal/types"
)

// UsageReport is the result of checking whether source actually uses the
// symbols of its dependency targets, beyond merely importing them.
type UsageReport struct {
	Source  string          `json:"source"`
	Used    map[string]bool `json:"used"`
	FromHit bool            `json:"fromCache"`
	Miss    cache.MissKind  `json:"missKind,omitempty"`
}

// VerifyDependencyUsage checks whether source makes real use of each target
// it imports. The answer is served from the usage cache when the cached
// entry is current and covers every requested target; otherwise the whole
// source is recomputed and the full map is stored back.
func (e *Engine) VerifyDependencyUsage(source string, targets []string) (*UsageReport, error) {
	norm, info, err := e.checkInput(source)
	if err != nil {
		return nil, err
	}

	normTargets := make([]string, 0, len(targets))
	for _, t := range targets {
		normTargets = append(normTargets, types.NormalizePath(t))
	}

	hit, miss := e.usage.Get(norm, normTargets)
	if miss == cache.MissNone {
		return &UsageReport{Source: norm, Used: hit, FromHit: true}, nil
	}

	full, snap, err := e.computeUsage(norm, info)
	if err != nil {
		return nil, err
	}
	e.usage.Set(norm, full, snap)

	result := make(map[string]bool, len(normTargets))
	for _, t := range normTargets {
		result[t] = full[t]
	}
	return &UsageReport{Source: norm, Used: result, Miss: miss}, nil
}

// computeUsage builds the complete target -> used map for source by cross
// referencing its symbol graph against its import edges. A target counts as
// used when at least one non-type-only symbol edge points into it; imports
// with no symbol edge at all fall back to "imported but unused".
func (e *Engine) computeUsage(norm string, info os.FileInfo) (map[string]bool, types.MtimeSnapshot, error) {
	deps, err := e.Analyze(norm)
	if err != nil {
		return nil, types.MtimeSnapshot{}, err
	}

	graph, err := e.SymbolGraph(norm)
	if err != nil {
		return nil, types.MtimeSnapshot{}, err
	}

	usedTargets := make(map[string]bool)
	for _, dep := range graph.Dependencies {
		if dep.TargetFile == "" || dep.TargetFile == norm {
			continue
		}
		if !dep.TypeOnly {
			usedTargets[dep.TargetFile] = true
		}
	}

	usage := make(map[string]bool, len(deps))
	for _, dep := range deps {
		if dep.External || dep.Unresolved {
			continue
		}
		usage[dep.Target] = usedTargets[dep.Target]
	}

	snap := types.MtimeSnapshot{MtimeUnixNano: info.ModTime().UnixNano()}
	if content, readErr := os.ReadFile(norm); readErr == nil {
		snap.ContentHash = xxhash.Sum64(content)
	}

	debug.LogCache("computed usage for %s: %d targets\n", norm, len(usage))
	return usage, snap, nil
}

// UnusedImport is a dependency edge whose target contributes nothing at
// runtime.
type UnusedImport struct {
	Dependency types.Dependency `json:"dependency"`
	TypeOnly   bool             `json:"typeOnly"`
}

// UnusedImports reports the imports of source whose targets are never used
// by any symbol in the file. Type-only imports that are used only in type
// positions are reported with TypeOnly set rather than flagged for removal.
func (e *Engine) UnusedImports(source string) ([]UnusedImport, error) {
	norm, info, err := e.checkInput(source)
	if err != nil {
		return nil, err
	}

	usage, _, err := e.computeUsage(norm, info)
	if err != nil {
		return nil, err
	}

	deps, err := e.Analyze(norm)
	if err != nil {
		return nil, errs.NewEngineError(errs.CodeInternal, "unused-imports", norm, err)
	}

	var unused []UnusedImport
	for _, dep := range deps {
		if dep.External || dep.Unresolved {
			continue
		}
		if used, known := usage[dep.Target]; known && !used {
			unused = append(unused, UnusedImport{Dependency: dep, TypeOnly: dep.TypeOnly})
		}
	}
	return unused, nil
}
