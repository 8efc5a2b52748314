package revindex

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/standardbeagle/ldg/internal/debug"
	"github.com/standardbeagle/ldg/internal/types"
)

// SymbolEdge is one caller -> target symbol reference contributed by a file.
type SymbolEdge struct {
	CallerID string `json:"caller"`
	TargetID string `json:"target"`
	TypeOnly bool   `json:"typeOnly,omitempty"`
}

// symbolSourceMeta records the edges one source file contributed.
type symbolSourceMeta struct {
	Snapshot types.MtimeSnapshot `json:"snapshot"`
	Edges    []SymbolEdge        `json:"edges"`
}

// SymbolIndex is the symbol-level reverse index: target symbol id -> caller
// symbol ids, partitioned into runtime and type-only references.
type SymbolIndex struct {
	mu      sync.RWMutex
	enabled bool
	runtime map[string]map[string]bool // target -> runtime callers
	typed   map[string]map[string]bool // target -> type-only callers
	sources map[string]*symbolSourceMeta
}

// NewSymbolIndex creates a disabled symbol-level reverse index.
func NewSymbolIndex() *SymbolIndex {
	return &SymbolIndex{
		runtime: make(map[string]map[string]bool),
		typed:   make(map[string]map[string]bool),
		sources: make(map[string]*symbolSourceMeta),
	}
}

type symbolSnapshot struct {
	Version int                         `json:"version"`
	Sources map[string]symbolSourceMeta `json:"sources"`
}

// Enable turns on maintenance, optionally adopting a serialized snapshot.
// Returns false and stays disabled when the snapshot cannot be adopted.
func (ix *SymbolIndex) Enable(serialized []byte) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if serialized != nil {
		var snap symbolSnapshot
		if err := json.Unmarshal(serialized, &snap); err != nil {
			debug.LogGraph("symbol index snapshot rejected: %v\n", err)
			return false
		}
		if snap.Version != snapshotVersion || snap.Sources == nil {
			debug.LogGraph("symbol index snapshot version mismatch: %d\n", snap.Version)
			return false
		}
		ix.runtime = make(map[string]map[string]bool)
		ix.typed = make(map[string]map[string]bool)
		ix.sources = make(map[string]*symbolSourceMeta, len(snap.Sources))
		for source, meta := range snap.Sources {
			m := meta
			ix.sources[source] = &m
			for _, edge := range meta.Edges {
				ix.addEdge(edge)
			}
		}
	}

	ix.enabled = true
	return true
}

// Enabled reports whether the index is maintaining entries.
func (ix *SymbolIndex) Enabled() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.enabled
}

func (ix *SymbolIndex) addEdge(edge SymbolEdge) {
	partition := ix.runtime
	if edge.TypeOnly {
		partition = ix.typed
	}
	set, ok := partition[edge.TargetID]
	if !ok {
		set = make(map[string]bool)
		partition[edge.TargetID] = set
	}
	set[edge.CallerID] = true
}

func (ix *SymbolIndex) dropEdge(edge SymbolEdge) {
	partition := ix.runtime
	if edge.TypeOnly {
		partition = ix.typed
	}
	if set := partition[edge.TargetID]; set != nil {
		delete(set, edge.CallerID)
		if len(set) == 0 {
			delete(partition, edge.TargetID)
		}
	}
}

// RegisterSource replaces the symbol edges contributed by one source file.
func (ix *SymbolIndex) RegisterSource(source string, edges []SymbolEdge, snap types.MtimeSnapshot) {
	source = types.NormalizePath(source)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.enabled {
		return
	}

	if old, ok := ix.sources[source]; ok {
		for _, edge := range old.Edges {
			ix.dropEdge(edge)
		}
	}
	for _, edge := range edges {
		ix.addEdge(edge)
	}
	ix.sources[source] = &symbolSourceMeta{Snapshot: snap, Edges: edges}
}

// RemoveSource unregisters every edge source contributed.
func (ix *SymbolIndex) RemoveSource(source string) {
	source = types.NormalizePath(source)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	old, ok := ix.sources[source]
	if !ok {
		return
	}
	for _, edge := range old.Edges {
		ix.dropEdge(edge)
	}
	delete(ix.sources, source)
}

// Callers returns every caller of a symbol, runtime and type-only combined.
func (ix *SymbolIndex) Callers(symbolID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	set := make(map[string]bool)
	for caller := range ix.runtime[symbolID] {
		set[caller] = true
	}
	for caller := range ix.typed[symbolID] {
		set[caller] = true
	}
	out := make([]string, 0, len(set))
	for caller := range set {
		out = append(out, caller)
	}
	sort.Strings(out)
	return out
}

// RuntimeCallers returns only callers whose reference has a runtime effect.
func (ix *SymbolIndex) RuntimeCallers(symbolID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]string, 0, len(ix.runtime[symbolID]))
	for caller := range ix.runtime[symbolID] {
		out = append(out, caller)
	}
	sort.Strings(out)
	return out
}

// SourceCount returns the number of indexed source files.
func (ix *SymbolIndex) SourceCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.sources)
}

// Validate compares stored mtimes against disk for every contributing file.
func (ix *SymbolIndex) Validate() ValidationResult {
	ix.mu.RLock()
	sources := make(map[string]types.MtimeSnapshot, len(ix.sources))
	for source, meta := range ix.sources {
		sources[source] = meta.Snapshot
	}
	ix.mu.RUnlock()

	return validateSources(sources)
}

// Serialize produces a snapshot adoptable by Enable.
func (ix *SymbolIndex) Serialize() ([]byte, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	snap := symbolSnapshot{
		Version: snapshotVersion,
		Sources: make(map[string]symbolSourceMeta, len(ix.sources)),
	}
	for source, meta := range ix.sources {
		snap.Sources[source] = *meta
	}
	return json.Marshal(snap)
}
