// Package store persists engine snapshots as versioned JSON blobs under the
// workspace's .ldg directory. Corrupt or version-mismatched snapshots are
// reported as absent so loaders fall back to a cold rebuild.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/standardbeagle/ldg/internal/debug"
	errs "github.com/standardbeagle/ldg/internal/errors"
)

const envelopeVersion = 1

// Fixed snapshot keys.
const (
	KeyReverseIndex = "reverse-index"
	KeySymbolIndex  = "symbol-index"
	KeyUsageCache   = "usage-cache"
)

type envelope struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"savedAt"`
	Data    json.RawMessage `json:"data"`
}

// Store is a key-value snapshot store over the filesystem.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Save writes a snapshot atomically (temp file + rename).
func (s *Store) Save(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := envelope{Version: envelopeVersion, SavedAt: time.Now(), Data: data}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	path := s.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a snapshot. Missing, corrupt, or version-mismatched snapshots
// all return a SnapshotError; callers treat every failure as "absent".
func (s *Store) Load(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		return nil, &errs.SnapshotError{Code: errs.CodeSnapshotCorrupt, Key: key, Why: "not found"}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		debug.LogGraph("snapshot %s corrupt: %v\n", key, err)
		return nil, &errs.SnapshotError{Code: errs.CodeSnapshotCorrupt, Key: key, Why: err.Error()}
	}
	if env.Version != envelopeVersion {
		return nil, &errs.SnapshotError{
			Code: errs.CodeSnapshotVersion,
			Key:  key,
			Why:  fmt.Sprintf("version %d, want %d", env.Version, envelopeVersion),
		}
	}
	return env.Data, nil
}

// Delete removes a snapshot. Removing a missing snapshot is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathFor(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
