// Package revindex maintains reverse dependency indexes: target file (or
// symbol) to the set of sources that reference it. Lookups are O(1)
// amortized; every registered source carries an mtime snapshot so staleness
// can be detected without re-parsing.
package revindex

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/standardbeagle/ldg/internal/debug"
	"github.com/standardbeagle/ldg/internal/types"
)

const snapshotVersion = 1

// ValidationResult reports the health of an index against the filesystem.
type ValidationResult struct {
	IsValid      bool     `json:"isValid"`
	StaleFiles   []string `json:"staleFiles"`
	MissingFiles []string `json:"missingFiles"`
}

// sourceMeta records what one source file contributed and when it was read.
type sourceMeta struct {
	Snapshot types.MtimeSnapshot `json:"snapshot"`
	Targets  []string            `json:"targets"`
}

// FileIndex is the file-level reverse index: target file -> referencing files.
type FileIndex struct {
	mu      sync.RWMutex
	enabled bool
	// callers[target] = set of source files whose last successful analysis
	// listed target as a dependency.
	callers map[string]map[string]bool
	sources map[string]*sourceMeta
}

// NewFileIndex creates a disabled file-level reverse index.
func NewFileIndex() *FileIndex {
	return &FileIndex{
		callers: make(map[string]map[string]bool),
		sources: make(map[string]*sourceMeta),
	}
}

// Enable turns on index maintenance. When serialized is non-nil the snapshot
// is adopted; any parse or shape failure leaves the index disabled and
// returns false.
func (ix *FileIndex) Enable(serialized []byte) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if serialized != nil {
		var snap fileSnapshot
		if err := json.Unmarshal(serialized, &snap); err != nil {
			debug.LogGraph("file index snapshot rejected: %v\n", err)
			return false
		}
		if snap.Version != snapshotVersion || snap.Sources == nil {
			debug.LogGraph("file index snapshot version mismatch: %d\n", snap.Version)
			return false
		}
		ix.callers = make(map[string]map[string]bool)
		ix.sources = make(map[string]*sourceMeta, len(snap.Sources))
		for source, meta := range snap.Sources {
			m := meta
			ix.sources[source] = &m
			for _, target := range meta.Targets {
				ix.addCaller(target, source)
			}
		}
	}

	ix.enabled = true
	return true
}

// Enabled reports whether the index is maintaining entries.
func (ix *FileIndex) Enabled() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.enabled
}

// Disable stops maintenance and drops all entries.
func (ix *FileIndex) Disable() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.enabled = false
	ix.callers = make(map[string]map[string]bool)
	ix.sources = make(map[string]*sourceMeta)
}

func (ix *FileIndex) addCaller(target, source string) {
	set, ok := ix.callers[target]
	if !ok {
		set = make(map[string]bool)
		ix.callers[target] = set
	}
	set[source] = true
}

// RegisterSource replaces source's outgoing target set. Old edges not in the
// new set are unregistered, so the index always mirrors the most recent
// successful analysis of source.
func (ix *FileIndex) RegisterSource(source string, targets []string, snap types.MtimeSnapshot) {
	source = types.NormalizePath(source)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.enabled {
		return
	}

	if old, ok := ix.sources[source]; ok {
		for _, target := range old.Targets {
			if set := ix.callers[target]; set != nil {
				delete(set, source)
				if len(set) == 0 {
					delete(ix.callers, target)
				}
			}
		}
	}

	normalized := make([]string, 0, len(targets))
	for _, target := range targets {
		t := types.NormalizePath(target)
		normalized = append(normalized, t)
		ix.addCaller(t, source)
	}
	ix.sources[source] = &sourceMeta{Snapshot: snap, Targets: normalized}
}

// RemoveSource unregisters source entirely (file deleted).
func (ix *FileIndex) RemoveSource(source string) {
	source = types.NormalizePath(source)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	old, ok := ix.sources[source]
	if !ok {
		return
	}
	for _, target := range old.Targets {
		if set := ix.callers[target]; set != nil {
			delete(set, source)
			if len(set) == 0 {
				delete(ix.callers, target)
			}
		}
	}
	delete(ix.sources, source)
}

// Callers returns the files referencing target, sorted for stable output.
func (ix *FileIndex) Callers(target string) []string {
	target = types.NormalizePath(target)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	set := ix.callers[target]
	out := make([]string, 0, len(set))
	for source := range set {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// Targets returns the targets source referenced in its last analysis.
func (ix *FileIndex) Targets(source string) []string {
	source = types.NormalizePath(source)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	meta, ok := ix.sources[source]
	if !ok {
		return nil
	}
	out := make([]string, len(meta.Targets))
	copy(out, meta.Targets)
	return out
}

// SourceCount returns the number of indexed sources.
func (ix *FileIndex) SourceCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.sources)
}

// Validate compares every indexed source's stored mtime against disk.
// Missing files no longer exist; stale files have a different mtime.
func (ix *FileIndex) Validate() ValidationResult {
	ix.mu.RLock()
	sources := make(map[string]types.MtimeSnapshot, len(ix.sources))
	for source, meta := range ix.sources {
		sources[source] = meta.Snapshot
	}
	ix.mu.RUnlock()

	return validateSources(sources)
}

type fileSnapshot struct {
	Version int                   `json:"version"`
	Sources map[string]sourceMeta `json:"sources"`
}

// Serialize produces a snapshot that round-trips losslessly through Enable
// for a quiescent index.
func (ix *FileIndex) Serialize() ([]byte, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	snap := fileSnapshot{
		Version: snapshotVersion,
		Sources: make(map[string]sourceMeta, len(ix.sources)),
	}
	for source, meta := range ix.sources {
		snap.Sources[source] = *meta
	}
	return json.Marshal(snap)
}

// validateSources is shared by the file and symbol indexes.
func validateSources(sources map[string]types.MtimeSnapshot) ValidationResult {
	result := ValidationResult{IsValid: true}
	for source, snap := range sources {
		info, err := os.Stat(source)
		if err != nil {
			result.MissingFiles = append(result.MissingFiles, source)
			result.IsValid = false
			continue
		}
		if info.ModTime().UnixNano() != snap.MtimeUnixNano {
			result.StaleFiles = append(result.StaleFiles, source)
			result.IsValid = false
		}
	}
	sort.Strings(result.StaleFiles)
	sort.Strings(result.MissingFiles)
	return result
}
