package store

import (
	"sync"
	"time"

	"github.com/standardbeagle/ldg/internal/debug"
)

// SnapshotFunc produces the current serialized form of one snapshot key.
type SnapshotFunc func() ([]byte, error)

// DebouncedSaver coalesces rapid successive mutations into one write per
// quiet period, and flushes synchronously at shutdown so nothing is lost.
type DebouncedSaver struct {
	store        *Store
	debounceTime time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	sources map[string]SnapshotFunc
	dirty   map[string]bool
	closed  bool
}

// NewDebouncedSaver creates a saver with the given quiet period.
func NewDebouncedSaver(s *Store, debounceMs int) *DebouncedSaver {
	if debounceMs <= 0 {
		debounceMs = 2000
	}
	return &DebouncedSaver{
		store:        s,
		debounceTime: time.Duration(debounceMs) * time.Millisecond,
		sources:      make(map[string]SnapshotFunc),
		dirty:        make(map[string]bool),
	}
}

// Register associates a snapshot key with its serializer.
func (ds *DebouncedSaver) Register(key string, fn SnapshotFunc) {
	ds.mu.Lock()
	ds.sources[key] = fn
	ds.mu.Unlock()
}

// MarkDirty schedules a flush of key after the quiet period. Repeated calls
// within the window restart it.
func (ds *DebouncedSaver) MarkDirty(key string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return
	}
	ds.dirty[key] = true

	if ds.timer != nil {
		ds.timer.Stop()
	}
	ds.timer = time.AfterFunc(ds.debounceTime, ds.flushDirty)
}

func (ds *DebouncedSaver) flushDirty() {
	ds.mu.Lock()
	keys := make([]string, 0, len(ds.dirty))
	for key := range ds.dirty {
		keys = append(keys, key)
	}
	ds.dirty = make(map[string]bool)
	ds.mu.Unlock()

	for _, key := range keys {
		ds.flushKey(key)
	}
}

func (ds *DebouncedSaver) flushKey(key string) {
	ds.mu.Lock()
	fn := ds.sources[key]
	ds.mu.Unlock()
	if fn == nil {
		return
	}

	data, err := fn()
	if err != nil {
		debug.LogGraph("snapshot %s serialize failed: %v\n", key, err)
		return
	}
	if err := ds.store.Save(key, data); err != nil {
		debug.LogGraph("snapshot %s save failed: %v\n", key, err)
	}
}

// Close cancels the pending timer and flushes every registered key
// synchronously.
func (ds *DebouncedSaver) Close() {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return
	}
	ds.closed = true
	if ds.timer != nil {
		ds.timer.Stop()
	}
	keys := make([]string, 0, len(ds.sources))
	for key := range ds.sources {
		keys = append(keys, key)
	}
	ds.mu.Unlock()

	for _, key := range keys {
		ds.flushKey(key)
	}
}
