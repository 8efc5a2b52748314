// Package cache memoizes expensive cross-file "is this import actually
// used" checks. Entries are bounded by an LRU with a fixed TTL; every miss
// is classified so cache behavior is observable without affecting it.
package cache

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/standardbeagle/ldg/internal/debug"
	"github.com/standardbeagle/ldg/internal/types"
)

const snapshotVersion = 1

// MissKind classifies why a lookup failed.
type MissKind string

const (
	MissNone     MissKind = ""          // hit
	MissNotFound MissKind = "not-found" // no entry for the source
	MissStale    MissKind = "stale"     // on-disk mtime differs from captured
	MissExpired  MissKind = "expired"   // entry older than the TTL
	MissPartial  MissKind = "partial"   // entry lacks one of the requested targets
	MissError    MissKind = "error"     // source could not be stat'ed
)

// entry is one source file's cached usage map.
type entry struct {
	Usage      map[string]bool     `json:"usage"`
	CapturedAt int64               `json:"capturedAt"`
	Snapshot   types.MtimeSnapshot `json:"snapshot"`
	LastAccess int64               `json:"lastAccess"`
}

// Config bounds the cache.
type Config struct {
	MaxEntries    int
	TTL           time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the baseline cache bounds.
func DefaultConfig() Config {
	return Config{
		MaxEntries:    500,
		TTL:           time.Hour,
		SweepInterval: 10 * time.Minute,
	}
}

// UsageCache maps source file -> target -> "actually used" booleans.
type UsageCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	ttl     time.Duration

	onMutate func()

	// Observability counters; correctness never reads these.
	hits      int64
	notFound  int64
	stale     int64
	expired   int64
	partial   int64
	errors    int64
	evictions int64

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a usage cache and starts its periodic expiry sweep.
func New(cfg Config) (*UsageCache, error) {
	uc := &UsageCache{
		ttl:  cfg.TTL,
		done: make(chan struct{}),
	}
	entries, err := lru.NewWithEvict[string, *entry](cfg.MaxEntries, func(string, *entry) {
		atomic.AddInt64(&uc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	uc.entries = entries

	if cfg.SweepInterval > 0 {
		go uc.sweepLoop(cfg.SweepInterval)
	}
	return uc, nil
}

// SetOnMutate registers a callback fired after every mutation, used to
// schedule debounced persistence.
func (uc *UsageCache) SetOnMutate(fn func()) {
	uc.mu.Lock()
	uc.onMutate = fn
	uc.mu.Unlock()
}

func (uc *UsageCache) notifyMutate() {
	uc.mu.Lock()
	fn := uc.onMutate
	uc.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Get returns the cached usage results for source limited to targets.
// A hit requires: entry present, current mtime equal to the captured mtime
// (with the content hash catching rewrites that preserved it), age under the
// TTL, and every requested target present. Partial coverage is a miss, not a
// merge. The whole lookup, including the LastAccess bump, runs under the
// mutex so concurrent Gets and Serialize never race on the shared entry.
func (uc *UsageCache) Get(source string, targets []string) (map[string]bool, MissKind) {
	source = types.NormalizePath(source)

	uc.mu.Lock()
	defer uc.mu.Unlock()

	e, ok := uc.entries.Get(source)
	if !ok {
		atomic.AddInt64(&uc.notFound, 1)
		return nil, MissNotFound
	}

	info, err := os.Stat(source)
	if err != nil {
		uc.entries.Remove(source)
		atomic.AddInt64(&uc.errors, 1)
		return nil, MissError
	}
	if info.ModTime().UnixNano() != e.Snapshot.MtimeUnixNano || !contentMatches(source, e.Snapshot.ContentHash) {
		uc.entries.Remove(source)
		atomic.AddInt64(&uc.stale, 1)
		return nil, MissStale
	}
	if time.Since(time.Unix(0, e.CapturedAt)) > uc.ttl {
		uc.entries.Remove(source)
		atomic.AddInt64(&uc.expired, 1)
		return nil, MissExpired
	}

	result := make(map[string]bool, len(targets))
	for _, target := range targets {
		used, present := e.Usage[types.NormalizePath(target)]
		if !present {
			atomic.AddInt64(&uc.partial, 1)
			return nil, MissPartial
		}
		result[types.NormalizePath(target)] = used
	}

	e.LastAccess = time.Now().UnixNano()
	atomic.AddInt64(&uc.hits, 1)
	return result, MissNone
}

// contentMatches re-hashes the file when the snapshot carries a content
// hash; a zero hash (older snapshots) is accepted on mtime alone.
func contentMatches(path string, hash uint64) bool {
	if hash == 0 {
		return true
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return xxhash.Sum64(content) == hash
}

// Set stores the full usage map for source. The LRU keeps the entry count
// at or under capacity after every call; the least-recently-accessed
// entries are evicted first.
func (uc *UsageCache) Set(source string, usage map[string]bool, snap types.MtimeSnapshot) {
	source = types.NormalizePath(source)
	now := time.Now().UnixNano()

	normalized := make(map[string]bool, len(usage))
	for target, used := range usage {
		normalized[types.NormalizePath(target)] = used
	}

	uc.mu.Lock()
	uc.entries.Add(source, &entry{
		Usage:      normalized,
		CapturedAt: now,
		Snapshot:   snap,
		LastAccess: now,
	})
	uc.mu.Unlock()

	uc.notifyMutate()
}

// Remove drops the entry for source, if any.
func (uc *UsageCache) Remove(source string) {
	uc.remove(types.NormalizePath(source))
	uc.notifyMutate()
}

func (uc *UsageCache) remove(source string) {
	uc.mu.Lock()
	uc.entries.Remove(source)
	uc.mu.Unlock()
}

// Len returns the current entry count.
func (uc *UsageCache) Len() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.entries.Len()
}

// sweepLoop removes entries past the TTL even if never queried again,
// bounding memory for abandoned sources.
func (uc *UsageCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-uc.done:
			return
		case <-ticker.C:
			removed := uc.SweepExpired()
			if removed > 0 {
				debug.LogCache("sweep removed %d expired entries\n", removed)
			}
		}
	}
}

// SweepExpired removes every entry older than the TTL. Returns the count.
func (uc *UsageCache) SweepExpired() int {
	cutoff := time.Now().Add(-uc.ttl).UnixNano()

	uc.mu.Lock()
	removed := 0
	for _, key := range uc.entries.Keys() {
		if e, ok := uc.entries.Peek(key); ok && e.CapturedAt < cutoff {
			uc.entries.Remove(key)
			removed++
		}
	}
	uc.mu.Unlock()

	if removed > 0 {
		uc.notifyMutate()
	}
	return removed
}

// Close stops the sweep goroutine.
func (uc *UsageCache) Close() {
	uc.stopOnce.Do(func() { close(uc.done) })
}

type snapshot struct {
	Version int               `json:"version"`
	Entries map[string]*entry `json:"entries"`
}

// Serialize captures the cache for persistence.
func (uc *UsageCache) Serialize() ([]byte, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	snap := snapshot{Version: snapshotVersion, Entries: make(map[string]*entry)}
	for _, key := range uc.entries.Keys() {
		if e, ok := uc.entries.Peek(key); ok {
			snap.Entries[key] = e
		}
	}
	return json.Marshal(snap)
}

// Load adopts a serialized snapshot. Entries are re-added oldest-access
// first so LRU order survives the round trip, and the configured capacity
// is re-applied immediately in case it shrank since the snapshot was
// written. Corrupt or version-mismatched payloads are ignored (cold start).
func (uc *UsageCache) Load(data []byte) bool {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		debug.LogCache("usage snapshot rejected: %v\n", err)
		return false
	}
	if snap.Version != snapshotVersion || snap.Entries == nil {
		debug.LogCache("usage snapshot version mismatch: %d\n", snap.Version)
		return false
	}

	keys := make([]string, 0, len(snap.Entries))
	for key := range snap.Entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return snap.Entries[keys[i]].LastAccess < snap.Entries[keys[j]].LastAccess
	})

	uc.mu.Lock()
	for _, key := range keys {
		uc.entries.Add(key, snap.Entries[key])
	}
	uc.mu.Unlock()
	return true
}

// Stats is the observability surface; nothing in the correctness paths
// reads it.
type Stats struct {
	Hits      int64 `json:"hits"`
	NotFound  int64 `json:"notFound"`
	Stale     int64 `json:"stale"`
	Expired   int64 `json:"expired"`
	Partial   int64 `json:"partial"`
	Errors    int64 `json:"errors"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// Stats returns a snapshot of the counters.
func (uc *UsageCache) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&uc.hits),
		NotFound:  atomic.LoadInt64(&uc.notFound),
		Stale:     atomic.LoadInt64(&uc.stale),
		Expired:   atomic.LoadInt64(&uc.expired),
		Partial:   atomic.LoadInt64(&uc.partial),
		Errors:    atomic.LoadInt64(&uc.errors),
		Evictions: atomic.LoadInt64(&uc.evictions),
		Entries:   uc.Len(),
	}
}
