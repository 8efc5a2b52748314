package graph

import (
	"testing"

	"github.com/standardbeagle/ldg/internal/types"
)

func edge(source, target string) types.Dependency {
	return types.Dependency{Source: source, Target: target, Kind: types.ImportStatic}
}

func TestDetectCyclesSimpleTriangle(t *testing.T) {
	edges := []types.Dependency{
		edge("/ws/a.ts", "/ws/b.ts"),
		edge("/ws/b.ts", "/ws/c.ts"),
		edge("/ws/c.ts", "/ws/a.ts"),
	}

	cycles := DetectCycles(edges)
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d: %v", len(cycles), cycles)
	}

	got := cycles[0]
	want := []string{"/ws/a.ts", "/ws/b.ts", "/ws/c.ts", "/ws/a.ts"}
	if len(got) != len(want) {
		t.Fatalf("cycle = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cycle = %v, want %v", got, want)
		}
	}
}

func TestDetectCyclesNoCycle(t *testing.T) {
	edges := []types.Dependency{
		edge("/ws/a.ts", "/ws/b.ts"),
		edge("/ws/b.ts", "/ws/c.ts"),
		edge("/ws/a.ts", "/ws/c.ts"),
	}
	if cycles := DetectCycles(edges); len(cycles) != 0 {
		t.Errorf("acyclic graph reported cycles: %v", cycles)
	}
}

func TestDetectCyclesSelfLoop(t *testing.T) {
	edges := []types.Dependency{
		edge("/ws/a.ts", "/ws/a.ts"),
	}
	cycles := DetectCycles(edges)
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %v", cycles)
	}
	if len(cycles[0]) != 2 || cycles[0][0] != "/ws/a.ts" || cycles[0][1] != "/ws/a.ts" {
		t.Errorf("self loop = %v, want [/ws/a.ts /ws/a.ts]", cycles[0])
	}
}

func TestDetectCyclesIgnoresExternalAndUnresolved(t *testing.T) {
	edges := []types.Dependency{
		edge("/ws/a.ts", "/ws/b.ts"),
		{Source: "/ws/b.ts", Target: "express", External: true},
		{Source: "/ws/b.ts", Target: "./gone", Unresolved: true},
	}
	if cycles := DetectCycles(edges); len(cycles) != 0 {
		t.Errorf("external/unresolved edges produced cycles: %v", cycles)
	}
}

func TestDetectCyclesTwoIndependentCycles(t *testing.T) {
	edges := []types.Dependency{
		edge("/ws/a.ts", "/ws/b.ts"),
		edge("/ws/b.ts", "/ws/a.ts"),
		edge("/ws/x.ts", "/ws/y.ts"),
		edge("/ws/y.ts", "/ws/x.ts"),
	}
	cycles := DetectCycles(edges)
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d: %v", len(cycles), cycles)
	}
}

func TestDetectCyclesDeduplicatesRotations(t *testing.T) {
	// The same cycle reachable from multiple DFS roots must be reported once.
	edges := []types.Dependency{
		edge("/ws/entry1.ts", "/ws/a.ts"),
		edge("/ws/entry2.ts", "/ws/b.ts"),
		edge("/ws/a.ts", "/ws/b.ts"),
		edge("/ws/b.ts", "/ws/a.ts"),
	}
	cycles := DetectCycles(edges)
	if len(cycles) != 1 {
		t.Fatalf("expected 1 deduplicated cycle, got %d: %v", len(cycles), cycles)
	}
}

func TestCycleDetectionIsPureOverEdges(t *testing.T) {
	edges := []types.Dependency{
		edge("/ws/a.ts", "/ws/b.ts"),
		edge("/ws/b.ts", "/ws/a.ts"),
	}
	first := DetectCycles(edges)
	second := DetectCycles(edges)
	if len(first) != len(second) {
		t.Fatalf("cycle detection not deterministic: %v vs %v", first, second)
	}
}
