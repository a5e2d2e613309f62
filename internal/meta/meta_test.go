package meta

import (
	"testing"

	"fixscript/internal/fixconfig"
	"fixscript/internal/heap"
	"fixscript/internal/interp"
	"fixscript/internal/registry"
)

func newTestNatives(t *testing.T) (*heap.Heap, *Natives) {
	t.Helper()
	cfg := fixconfig.Default()
	h := heap.NewHeap(interp.HeapConfig(cfg))
	reg := registry.New(h, func(string) (string, error) { return "", nil }, cfg.ImportCycleDepth)
	return h, New(h, reg)
}

func TestTokensParseProducesRecordsWithOffsets(t *testing.T) {
	h, n := newTestNatives(t)
	src, err := h.CreateString("1 + 2")
	if err != nil {
		t.Fatalf("CreateString: %v", err)
	}
	v, cerr := n.tokensParse(h, []heap.Value{src, heap.Zero})
	if cerr != nil {
		t.Fatalf("tokensParse: %v", cerr)
	}
	count, ferr := h.Length(v)
	if ferr != nil {
		t.Fatalf("Length: %v", ferr)
	}
	// "1", "+", "2", EOF
	if count != 4 {
		t.Fatalf("got %d tokens, want 4", count)
	}
	first, ferr := h.Get(v, 0)
	if ferr != nil {
		t.Fatalf("Get: %v", ferr)
	}
	kind, ferr := hashGetStr(h, first, "type")
	if ferr != nil {
		t.Fatalf("hashGetStr: %v", ferr)
	}
	if kind != "INT" {
		t.Fatalf("first token type = %q, want INT", kind)
	}
	offset, ferr := hashGetInt(h, first, "offset")
	if ferr != nil {
		t.Fatalf("hashGetInt: %v", ferr)
	}
	if offset != 0 {
		t.Fatalf("first token offset = %d, want 0", offset)
	}
}

func TestTokensRoundTripThroughToSource(t *testing.T) {
	h, n := newTestNatives(t)
	src, err := h.CreateString("foo(1, 2)")
	if err != nil {
		t.Fatalf("CreateString: %v", err)
	}
	toks, cerr := n.tokensParse(h, []heap.Value{src, heap.Zero})
	if cerr != nil {
		t.Fatalf("tokensParse: %v", cerr)
	}
	out, cerr := n.tokensToSource(h, []heap.Value{toks})
	if cerr != nil {
		t.Fatalf("tokensToSource: %v", cerr)
	}
	s, ferr := h.StringContent(out)
	if ferr != nil {
		t.Fatalf("StringContent: %v", ferr)
	}
	if s == "" {
		t.Fatal("expected a non-empty reconstructed source")
	}
}

func TestScriptCompileThenQuery(t *testing.T) {
	h, n := newTestNatives(t)
	name, err := h.CreateString("dyn.fix")
	if err != nil {
		t.Fatalf("CreateString: %v", err)
	}
	src, err := h.CreateString(`function foo() { return 42; }`)
	if err != nil {
		t.Fatalf("CreateString: %v", err)
	}
	funcs, cerr := n.scriptCompile(h, []heap.Value{name, src, heap.Zero})
	if cerr != nil {
		t.Fatalf("scriptCompile: %v", cerr)
	}
	count, ferr := h.Length(funcs)
	if ferr != nil {
		t.Fatalf("Length: %v", ferr)
	}
	if count != 1 {
		t.Fatalf("got %d functions, want 1", count)
	}

	loadedKey, err := h.CreateString("dyn.fix")
	if err != nil {
		t.Fatalf("CreateString: %v", err)
	}
	keyLoaded, err := h.CreateString("loaded")
	if err != nil {
		t.Fatalf("CreateString: %v", err)
	}
	v, cerr := n.scriptQuery(h, []heap.Value{loadedKey, keyLoaded})
	if cerr != nil {
		t.Fatalf("scriptQuery: %v", cerr)
	}
	if v.Payload != 1 {
		t.Fatalf("scriptQuery(loaded) = %d, want 1", v.Payload)
	}
}
