package revindex

import (
	"testing"

	"github.com/standardbeagle/ldg/internal/types"
)

func TestSymbolIndexPartitionsRuntimeAndTypeOnly(t *testing.T) {
	ix := NewSymbolIndex()
	ix.Enable(nil)

	ix.RegisterSource("/ws/a.ts", []SymbolEdge{
		{CallerID: "/ws/a.ts:runCaller", TargetID: "/ws/lib.ts:shared"},
		{CallerID: "/ws/a.ts:typeCaller", TargetID: "/ws/lib.ts:shared", TypeOnly: true},
	}, types.MtimeSnapshot{MtimeUnixNano: 1})

	all := ix.Callers("/ws/lib.ts:shared")
	if len(all) != 2 {
		t.Fatalf("all callers = %v, want 2", all)
	}

	runtime := ix.RuntimeCallers("/ws/lib.ts:shared")
	if len(runtime) != 1 || runtime[0] != "/ws/a.ts:runCaller" {
		t.Errorf("runtime callers = %v, want [/ws/a.ts:runCaller]", runtime)
	}
}

func TestSymbolIndexReplaceDropsOldEdges(t *testing.T) {
	ix := NewSymbolIndex()
	ix.Enable(nil)

	ix.RegisterSource("/ws/a.ts", []SymbolEdge{
		{CallerID: "/ws/a.ts:f", TargetID: "/ws/old.ts:gone"},
	}, types.MtimeSnapshot{MtimeUnixNano: 1})
	ix.RegisterSource("/ws/a.ts", []SymbolEdge{
		{CallerID: "/ws/a.ts:f", TargetID: "/ws/new.ts:fresh"},
	}, types.MtimeSnapshot{MtimeUnixNano: 2})

	if got := ix.Callers("/ws/old.ts:gone"); len(got) != 0 {
		t.Errorf("old edge survived replacement: %v", got)
	}
	if got := ix.Callers("/ws/new.ts:fresh"); len(got) != 1 {
		t.Errorf("new edge missing: %v", got)
	}
}

func TestSymbolIndexRemoveSource(t *testing.T) {
	ix := NewSymbolIndex()
	ix.Enable(nil)

	ix.RegisterSource("/ws/a.ts", []SymbolEdge{
		{CallerID: "/ws/a.ts:f", TargetID: "/ws/lib.ts:g"},
	}, types.MtimeSnapshot{MtimeUnixNano: 1})
	ix.RemoveSource("/ws/a.ts")
	ix.RemoveSource("/ws/a.ts") // idempotent

	if got := ix.Callers("/ws/lib.ts:g"); len(got) != 0 {
		t.Errorf("edges survived source removal: %v", got)
	}
	if ix.SourceCount() != 0 {
		t.Errorf("source count = %d", ix.SourceCount())
	}
}

func TestSymbolIndexSerializeRoundTrip(t *testing.T) {
	ix := NewSymbolIndex()
	ix.Enable(nil)
	ix.RegisterSource("/ws/a.ts", []SymbolEdge{
		{CallerID: "/ws/a.ts:f", TargetID: "/ws/lib.ts:g"},
		{CallerID: "/ws/a.ts:h", TargetID: "/ws/lib.ts:g", TypeOnly: true},
	}, types.MtimeSnapshot{MtimeUnixNano: 7})

	data, err := ix.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	restored := NewSymbolIndex()
	if !restored.Enable(data) {
		t.Fatal("Enable rejected snapshot")
	}

	if got := restored.Callers("/ws/lib.ts:g"); len(got) != 2 {
		t.Errorf("restored callers = %v, want 2", got)
	}
	if got := restored.RuntimeCallers("/ws/lib.ts:g"); len(got) != 1 {
		t.Errorf("restored runtime callers = %v, want 1", got)
	}
}
