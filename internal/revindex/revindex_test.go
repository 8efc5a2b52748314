package revindex

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/standardbeagle/ldg/internal/types"
)

func snapFor(t *testing.T, path string) types.MtimeSnapshot {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return types.MtimeSnapshot{MtimeUnixNano: info.ModTime().UnixNano()}
}

func writeTestFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestFileIndexDisabledIgnoresRegistrations(t *testing.T) {
	ix := NewFileIndex()
	ix.RegisterSource("/ws/a.ts", []string{"/ws/b.ts"}, types.MtimeSnapshot{})
	if got := ix.Callers("/ws/b.ts"); len(got) != 0 {
		t.Errorf("disabled index recorded edges: %v", got)
	}
}

func TestFileIndexRegisterReplaceRemove(t *testing.T) {
	ix := NewFileIndex()
	ix.Enable(nil)

	ix.RegisterSource("/ws/a.ts", []string{"/ws/b.ts", "/ws/c.ts"}, types.MtimeSnapshot{MtimeUnixNano: 1})
	ix.RegisterSource("/ws/x.ts", []string{"/ws/b.ts"}, types.MtimeSnapshot{MtimeUnixNano: 1})

	if got := ix.Callers("/ws/b.ts"); len(got) != 2 {
		t.Fatalf("b.ts should have 2 callers, got %v", got)
	}

	// Replacement drops edges no longer present.
	ix.RegisterSource("/ws/a.ts", []string{"/ws/c.ts"}, types.MtimeSnapshot{MtimeUnixNano: 2})
	if got := ix.Callers("/ws/b.ts"); len(got) != 1 || got[0] != "/ws/x.ts" {
		t.Errorf("after replacement b.ts callers = %v, want [/ws/x.ts]", got)
	}
	if got := ix.Callers("/ws/c.ts"); len(got) != 1 {
		t.Errorf("c.ts callers = %v", got)
	}

	ix.RemoveSource("/ws/a.ts")
	if got := ix.Callers("/ws/c.ts"); len(got) != 0 {
		t.Errorf("removed source still has edges: %v", got)
	}
	if ix.SourceCount() != 1 {
		t.Errorf("source count = %d, want 1", ix.SourceCount())
	}
}

func TestFileIndexConsistencyAfterChurn(t *testing.T) {
	ix := NewFileIndex()
	ix.Enable(nil)

	// Register, mutate, and remove repeatedly; the caller sets must exactly
	// mirror the final registrations.
	for i := 0; i < 50; i++ {
		ix.RegisterSource("/ws/a.ts", []string{"/ws/b.ts"}, types.MtimeSnapshot{MtimeUnixNano: int64(i)})
		ix.RegisterSource("/ws/a.ts", []string{"/ws/c.ts"}, types.MtimeSnapshot{MtimeUnixNano: int64(i)})
	}

	if got := ix.Callers("/ws/b.ts"); len(got) != 0 {
		t.Errorf("stale edge to b.ts survived churn: %v", got)
	}
	if got := ix.Callers("/ws/c.ts"); len(got) != 1 {
		t.Errorf("c.ts callers = %v, want exactly the final registration", got)
	}
	if got := ix.Targets("/ws/a.ts"); len(got) != 1 || got[0] != "/ws/c.ts" {
		t.Errorf("a.ts targets = %v, want [/ws/c.ts]", got)
	}
}

func TestFileIndexSerializeRoundTrip(t *testing.T) {
	ix := NewFileIndex()
	ix.Enable(nil)
	ix.RegisterSource("/ws/a.ts", []string{"/ws/b.ts", "/ws/c.ts"}, types.MtimeSnapshot{MtimeUnixNano: 42})
	ix.RegisterSource("/ws/d.ts", []string{"/ws/b.ts"}, types.MtimeSnapshot{MtimeUnixNano: 43})

	data, err := ix.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	restored := NewFileIndex()
	if !restored.Enable(data) {
		t.Fatal("Enable rejected a snapshot produced by Serialize")
	}

	for _, target := range []string{"/ws/b.ts", "/ws/c.ts"} {
		want := ix.Callers(target)
		got := restored.Callers(target)
		if len(want) != len(got) {
			t.Fatalf("callers of %s differ: %v vs %v", target, want, got)
		}
		for i := range want {
			if want[i] != got[i] {
				t.Errorf("callers of %s differ at %d: %v vs %v", target, i, want, got)
			}
		}
	}
	if restored.SourceCount() != ix.SourceCount() {
		t.Errorf("source counts differ: %d vs %d", restored.SourceCount(), ix.SourceCount())
	}
}

func TestFileIndexEnableRejectsGarbage(t *testing.T) {
	ix := NewFileIndex()
	if ix.Enable([]byte("not json")) {
		t.Error("garbage snapshot accepted")
	}
	if ix.Enabled() {
		t.Error("index enabled after rejected snapshot")
	}
	if ix.Enable([]byte(`{"version": 99, "sources": {}}`)) {
		t.Error("version-mismatched snapshot accepted")
	}
	if !ix.Enable(nil) {
		t.Error("cold enable should succeed")
	}
}

func TestFileIndexValidateFlagsStaleAndMissing(t *testing.T) {
	dir := t.TempDir()
	fresh := writeTestFile(t, dir, "fresh.ts")
	stale := writeTestFile(t, dir, "stale.ts")
	gone := writeTestFile(t, dir, "gone.ts")

	ix := NewFileIndex()
	ix.Enable(nil)
	ix.RegisterSource(fresh, nil, snapFor(t, fresh))
	ix.RegisterSource(stale, nil, snapFor(t, stale))
	ix.RegisterSource(gone, nil, snapFor(t, gone))

	when := time.Now().Add(5 * time.Second)
	if err := os.Chtimes(stale, when, when); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatalf("remove: %v", err)
	}

	result := ix.Validate()
	if result.IsValid {
		t.Error("validation should fail with stale and missing files")
	}
	if len(result.StaleFiles) != 1 || result.StaleFiles[0] != types.NormalizePath(stale) {
		t.Errorf("stale = %v", result.StaleFiles)
	}
	if len(result.MissingFiles) != 1 || result.MissingFiles[0] != types.NormalizePath(gone) {
		t.Errorf("missing = %v", result.MissingFiles)
	}
}

func TestValidateAfterRestoreDetectsDrift(t *testing.T) {
	dir := t.TempDir()
	a := writeTestFile(t, dir, "a.ts")
	b := writeTestFile(t, dir, "b.ts")

	ix := NewFileIndex()
	ix.Enable(nil)
	ix.RegisterSource(a, []string{b}, snapFor(t, a))
	ix.RegisterSource(b, nil, snapFor(t, b))

	data, err := ix.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	// Simulate a restart during which a.ts changed on disk.
	when := time.Now().Add(5 * time.Second)
	if err := os.Chtimes(a, when, when); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	restored := NewFileIndex()
	if !restored.Enable(data) {
		t.Fatal("Enable rejected snapshot")
	}

	result := restored.Validate()
	if result.IsValid {
		t.Error("restored index should detect the changed file")
	}
	if len(result.StaleFiles) != 1 || result.StaleFiles[0] != types.NormalizePath(a) {
		t.Errorf("stale = %v, want [%s]", result.StaleFiles, types.NormalizePath(a))
	}
}
