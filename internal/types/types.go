package types

import (
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ImportKind classifies how a dependency edge was introduced.
type ImportKind string

const (
	ImportStatic   ImportKind = "static-import"
	ImportDynamic  ImportKind = "dynamic-import"
	ImportRequire  ImportKind = "require"
	ImportReExport ImportKind = "re-export"
)

// Import is a single import specifier extracted from a source file.
type Import struct {
	Module string     `json:"module"`
	Kind   ImportKind `json:"kind"`
	Line   int        `json:"line"`
	// TypeOnly marks `import type` style specifiers that have no runtime effect.
	TypeOnly bool `json:"typeOnly,omitempty"`
}

// FileNode is a node in the file-level dependency graph.
// Identity is the normalized absolute path.
type FileNode struct {
	Path            string `json:"path"`
	Extension       string `json:"extension"`
	DependencyCount int    `json:"dependencyCount"`
	DependentCount  int    `json:"dependentCount"`
	InCycle         bool   `json:"inCycle,omitempty"`
}

// Dependency is a resolved (or unresolved) outgoing edge of a file.
type Dependency struct {
	Source string     `json:"source"`
	Target string     `json:"target"` // absolute path, or the raw specifier when unresolved
	Kind   ImportKind `json:"kind"`
	Line   int        `json:"line"`
	// External marks package imports that resolve outside the workspace.
	External bool `json:"external,omitempty"`
	// Unresolved marks specifiers that look local but could not be mapped to a file.
	Unresolved bool `json:"unresolved,omitempty"`
	TypeOnly   bool `json:"typeOnly,omitempty"`
}

// SymbolKind classifies a declared symbol.
type SymbolKind string

const (
	SymbolFunction  SymbolKind = "function"
	SymbolMethod    SymbolKind = "method"
	SymbolClass     SymbolKind = "class"
	SymbolInterface SymbolKind = "interface"
	SymbolType      SymbolKind = "type"
	SymbolVariable  SymbolKind = "variable"
	SymbolConstant  SymbolKind = "constant"
	SymbolEnum      SymbolKind = "enum"
)

// Symbol is a declared symbol within one file.
// ID is "filePath:symbolName", with "#line" appended on a same-file name collision.
type Symbol struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Kind     SymbolKind `json:"kind"`
	Line     int        `json:"line"`
	Exported bool       `json:"exported"`
	ParentID string     `json:"parentId,omitempty"`
}

// SymbolDependency is a symbol-level edge: source symbol uses target symbol.
type SymbolDependency struct {
	SourceID   string `json:"sourceId"`
	TargetID   string `json:"targetId"`
	TargetFile string `json:"targetFile"`
	TypeOnly   bool   `json:"typeOnly,omitempty"`
}

// FileSymbolGraph is the per-file symbol extraction result.
type FileSymbolGraph struct {
	FilePath     string             `json:"filePath"`
	Symbols      []Symbol           `json:"symbols"`
	Dependencies []SymbolDependency `json:"dependencies"`
}

// CrawlResult is the output of a graph crawl: flat node and edge lists
// keyed by normalized path, plus any cycles found in the gathered edges.
type CrawlResult struct {
	Nodes  map[string]*FileNode `json:"nodes"`
	Edges  []Dependency         `json:"edges"`
	Cycles [][]string           `json:"cycles,omitempty"`
	// Truncated reports that maxDepth cut at least one branch short.
	Truncated bool `json:"truncated,omitempty"`
}

// TraceResult is a bounded walk over symbol dependencies from one symbol.
type TraceResult struct {
	Root     string             `json:"root"`
	Steps    []SymbolDependency `json:"steps"`
	Visited  []string           `json:"visited"`
	DepthHit bool               `json:"depthHit"`
}

// IndexState is the background indexer state machine value.
type IndexState string

const (
	IndexIdle       IndexState = "idle"
	IndexCounting   IndexState = "counting"
	IndexIndexing   IndexState = "indexing"
	IndexValidating IndexState = "validating"
	IndexComplete   IndexState = "complete"
	IndexCancelled  IndexState = "cancelled"
	IndexError      IndexState = "error"
)

// IndexProgress is a progress snapshot published after each indexed file.
type IndexProgress struct {
	State       IndexState `json:"state"`
	Processed   int        `json:"processed"`
	Total       int        `json:"total"`
	Percentage  float64    `json:"percentage"`
	CurrentFile string     `json:"currentFile,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// FileEventKind is a filesystem change notification kind.
type FileEventKind int

const (
	EventCreate FileEventKind = iota
	EventChange
	EventDelete
)

func (k FileEventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventChange:
		return "change"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

// Priority orders events for the scheduler: delete > change > create.
func (k FileEventKind) Priority() int {
	switch k {
	case EventDelete:
		return 2
	case EventChange:
		return 1
	default:
		return 0
	}
}

// MtimeSnapshot records a file's modification time (and a content hash
// fast path) at the moment it was indexed or cached.
type MtimeSnapshot struct {
	MtimeUnixNano int64  `json:"mtime"`
	ContentHash   uint64 `json:"hash,omitempty"`
}

// Captured reports the snapshot time as a time.Time.
func (m MtimeSnapshot) Captured() time.Time { return time.Unix(0, m.MtimeUnixNano) }

// NormalizePath canonicalizes a path for use as a node identity: absolute,
// cleaned, forward slashes, and case-folded on case-insensitive platforms.
// Different event sources report the same file with different separator and
// case conventions; all of them must collapse to one key.
func NormalizePath(path string) string {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err == nil {
			path = abs
		}
	}
	path = filepath.ToSlash(filepath.Clean(path))
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		path = strings.ToLower(path)
	}
	return path
}

// SymbolID builds the canonical symbol identity for a name within a file.
func SymbolID(filePath, name string) string {
	return NormalizePath(filePath) + ":" + name
}
