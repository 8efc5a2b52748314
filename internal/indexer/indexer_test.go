package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/standardbeagle/ldg/internal/cache"
	"github.com/standardbeagle/ldg/internal/config"
	"github.com/standardbeagle/ldg/internal/graph"
	"github.com/standardbeagle/ldg/internal/parser"
	"github.com/standardbeagle/ldg/internal/revindex"
	"github.com/standardbeagle/ldg/internal/types"
)

func newTestIndexer(t *testing.T, root string, workers int) (*Indexer, *graph.Engine) {
	t.Helper()

	cfg := config.Default()
	cfg.Project.Root = root
	cfg.Index.Workers = workers

	files := revindex.NewFileIndex()
	files.Enable(nil)
	symbols := revindex.NewSymbolIndex()
	symbols.Enable(nil)

	usage, err := cache.New(cache.Config{MaxEntries: 100, TTL: time.Hour})
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	t.Cleanup(usage.Close)

	engine := graph.New(cfg, parser.New(), files, symbols, usage)
	return New(cfg, engine), engine
}

func writeWorkspaceFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return types.NormalizePath(path)
}

func TestRunBuildsFullIndexRespectingExcludes(t *testing.T) {
	root := t.TempDir()
	a := writeWorkspaceFile(t, root, "a.ts", "import { b } from './b';\nexport const a = b;\n")
	writeWorkspaceFile(t, root, "b.ts", "export const b = 1;\n")
	writeWorkspaceFile(t, root, "src/c.py", "import os\n")
	writeWorkspaceFile(t, root, "node_modules/dep/index.ts", "export const x = 1;\n")
	writeWorkspaceFile(t, root, "dist/bundle.ts", "export const y = 1;\n")
	writeWorkspaceFile(t, root, "README.md", "# readme\n")

	ix, engine := newTestIndexer(t, root, 2)

	result, err := ix.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != types.IndexComplete {
		t.Fatalf("state = %s, want complete", result.State)
	}
	if result.TotalFiles != 3 || result.IndexedFiles != 3 || result.FailedFiles != 0 {
		t.Errorf("result = %+v, want 3 indexed of 3", result)
	}
	if result.Cancelled {
		t.Error("completed build marked cancelled")
	}

	// Excluded trees must not reach the reverse index.
	for _, src := range []string{
		filepath.Join(root, "node_modules/dep/index.ts"),
		filepath.Join(root, "dist/bundle.ts"),
	} {
		if got := engine.FileIndex().Targets(types.NormalizePath(src)); len(got) != 0 {
			t.Errorf("excluded file indexed: %s", src)
		}
	}

	node, ok := engine.FileNode(a)
	if !ok {
		t.Fatal("FileNode missing for analyzed file")
	}
	if node.DependencyCount != 1 {
		t.Errorf("a.ts dependency count = %d", node.DependencyCount)
	}
	if ix.State() != types.IndexComplete {
		t.Errorf("indexer state = %s after run", ix.State())
	}
}

func TestRunPublishesProgressTransitions(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.ts", "b.ts", "c.ts"} {
		writeWorkspaceFile(t, root, name, "export const v = 1;\n")
	}

	ix, _ := newTestIndexer(t, root, 1)

	var mu sync.Mutex
	seen := make(map[types.IndexState]bool)
	var final types.IndexProgress
	ix.Subscribe(func(p types.IndexProgress) {
		mu.Lock()
		seen[p.State] = true
		final = p
		mu.Unlock()
	})

	if _, err := ix.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, want := range []types.IndexState{
		types.IndexCounting, types.IndexIndexing, types.IndexValidating, types.IndexComplete,
	} {
		if !seen[want] {
			t.Errorf("state %s never published", want)
		}
	}
	if final.State != types.IndexComplete || final.Total != 3 || final.Processed != 3 {
		t.Errorf("final progress = %+v", final)
	}
	if final.Percentage != 100 {
		t.Errorf("final percentage = %v", final.Percentage)
	}
}

func TestRunCancelStopsBetweenFilesAndKeepsResults(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeWorkspaceFile(t, root, filepath.Join("src", nameFor(i)), "export const v = 1;\n")
	}

	ix, engine := newTestIndexer(t, root, 1)
	ix.Subscribe(func(p types.IndexProgress) {
		if p.State == types.IndexIndexing && p.Processed == 1 {
			ix.Cancel()
		}
	})

	result, err := ix.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Cancelled || result.State != types.IndexCancelled {
		t.Fatalf("result = %+v, want cancelled", result)
	}
	if result.IndexedFiles == 0 {
		t.Error("cancelled build should keep already-indexed files")
	}
	if result.IndexedFiles >= result.TotalFiles {
		t.Errorf("cancel had no effect: %d of %d indexed", result.IndexedFiles, result.TotalFiles)
	}
	if engine.AnalyzedCount() != result.IndexedFiles {
		t.Errorf("engine holds %d files, result says %d", engine.AnalyzedCount(), result.IndexedFiles)
	}
}

func TestRunSingleFlight(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "a.ts", "export const v = 1;\n")

	ix, _ := newTestIndexer(t, root, 1)

	// A second Run attempted while the first is live must decline. The
	// subscriber fires synchronously inside the first Run.
	var nested *Result
	var nestedErr error
	called := false
	ix.Subscribe(func(p types.IndexProgress) {
		if p.State == types.IndexIndexing && !called {
			called = true
			nested, nestedErr = ix.Run(context.Background())
		}
	})

	if _, err := ix.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !called {
		t.Fatal("subscriber never observed the indexing state")
	}
	if nested != nil || nestedErr != nil {
		t.Errorf("nested Run = (%+v, %v), want (nil, nil)", nested, nestedErr)
	}

	// Once idle again, a fresh build is allowed.
	result, err := ix.Run(context.Background())
	if err != nil || result == nil || result.State != types.IndexComplete {
		t.Errorf("re-run after completion = (%+v, %v)", result, err)
	}
}

func TestRunSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "small.ts", "export const v = 1;\n")
	writeWorkspaceFile(t, root, "big.ts", "// "+strings.Repeat("x", 4096)+"\n")

	ix, _ := newTestIndexer(t, root, 1)
	ix.cfg.Index.MaxFileSize = 1024

	result, err := ix.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.TotalFiles != 1 || result.IndexedFiles != 1 {
		t.Errorf("result = %+v, want only the small file", result)
	}
}

func nameFor(i int) string {
	return string(rune('a'+i)) + ".ts"
}
