package heap

import (
	"testing"

	"github.com/kr/pretty"
	"go.uber.org/zap"
)

func testHeap() *Heap {
	return NewHeap(DefaultConfig())
}

// rootedHeap returns a heap plus a keep func: every Value passed to keep
// is kept reachable across h.alloc()'s internal Collect calls, the way an
// embedder driving the heap API directly (without an interpreter's stack
// supplying roots) is expected to pin values it still needs.
func rootedHeap() (*Heap, func(Value) Value) {
	h := testHeap()
	var roots []Value
	h.SetRootsProvider(func() []Value { return roots })
	keep := func(v Value) Value {
		roots = append(roots, v)
		return v
	}
	return h, keep
}

func TestArrayAppendGetSet(t *testing.T) {
	h, keep := rootedHeap()
	arr, err := h.CreateArray()
	if err != nil {
		t.Fatalf("CreateArray: %v", err)
	}
	keep(arr)
	for i := int32(0); i < 5; i++ {
		if err := h.Append(arr, Int(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	n, err := h.Length(arr)
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	if n != 5 {
		t.Fatalf("Length = %d, want 5", n)
	}
	if err := h.Set(arr, 2, Int(99)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := h.Get(arr, 2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.Payload != 99 {
		t.Fatalf("Get(2) = %d, want 99", v.Payload)
	}
}

func TestArrayOutOfBounds(t *testing.T) {
	h, keep := rootedHeap()
	arr, _ := h.CreateArray()
	keep(arr)
	if _, err := h.Get(arr, 0); err == nil {
		t.Fatal("expected an out-of-bounds error reading an empty array")
	}
}

func TestHashSetGetRemovePreservesInsertionOrder(t *testing.T) {
	h, keep := rootedHeap()
	hv, err := h.CreateHash()
	if err != nil {
		t.Fatalf("CreateHash: %v", err)
	}
	keep(hv)
	keys := []string{"a", "b", "c", "d"}
	for i, k := range keys {
		kv, _ := h.CreateString(k)
		keep(kv)
		if err := h.HashSet(hv, kv, Int(int32(i))); err != nil {
			t.Fatalf("HashSet: %v", err)
		}
	}
	bk, _ := h.CreateString("b")
	keep(bk)
	if removed, err := h.HashRemove(hv, bk); err != nil || !removed {
		t.Fatalf("HashRemove(b) = %v, %v", removed, err)
	}
	keysArr, err := h.HashKeys(hv)
	if err != nil {
		t.Fatalf("HashKeys: %v", err)
	}
	keep(keysArr)
	n, _ := h.Length(keysArr)
	if n != 3 {
		t.Fatalf("HashKeys length = %d, want 3", n)
	}
	want := []string{"a", "c", "d"}
	for i, w := range want {
		kv, err := h.Get(keysArr, i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		s, err := h.StringContent(kv)
		if err != nil {
			t.Fatalf("StringContent: %v", err)
		}
		if s != w {
			t.Fatalf("key %d = %q, want %q (order not preserved after removal: %# v)", i, s, w, pretty.Formatter(want))
		}
	}
}

func TestHashContainsAfterResize(t *testing.T) {
	h, keep := rootedHeap()
	hv, _ := h.CreateHash()
	keep(hv)
	for i := 0; i < 64; i++ {
		kv := Int(int32(i))
		if err := h.HashSet(hv, kv, Int(int32(i*2))); err != nil {
			t.Fatalf("HashSet(%d): %v", i, err)
		}
	}
	for i := 0; i < 64; i++ {
		v, found, err := h.HashGet(hv, Int(int32(i)))
		if err != nil {
			t.Fatalf("HashGet(%d): %v", i, err)
		}
		if !found || v.Payload != int32(i*2) {
			t.Fatalf("HashGet(%d) = %v, %v, want %d, true", i, v.Payload, found, i*2)
		}
	}
}

func TestStringCreateAndContent(t *testing.T) {
	h, keep := rootedHeap()
	sv, err := h.CreateString("hello, world")
	if err != nil {
		t.Fatalf("CreateString: %v", err)
	}
	keep(sv)
	s, err := h.StringContent(sv)
	if err != nil {
		t.Fatalf("StringContent: %v", err)
	}
	if s != "hello, world" {
		t.Fatalf("StringContent = %q, want %q", s, "hello, world")
	}
}

func TestStructuralEqualityVsRawIdentity(t *testing.T) {
	h, keep := rootedHeap()
	a, _ := h.CreateString("same")
	keep(a)
	b, _ := h.CreateString("same")
	keep(b)
	if !h.Equal(a, b) {
		t.Fatal("expected two strings with equal content to be structurally equal")
	}
	if RawEqual(a, b) {
		t.Fatal("expected two distinct string objects to differ under raw identity")
	}
	if !RawEqual(a, a) {
		t.Fatal("expected a value to be raw-equal to itself")
	}
}

func TestCloneProducesIndependentStructurallyEqualCopy(t *testing.T) {
	src, keepSrc := rootedHeap()
	arr, _ := src.CreateArray()
	keepSrc(arr)
	inner, _ := src.CreateString("nested")
	keepSrc(inner)
	src.Append(arr, inner)
	src.Append(arr, Int(7))

	dst, keepDst := rootedHeap()
	clone, err := Clone(dst, src, arr)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	keepDst(clone)
	if !dst.Equal(clone, clone) {
		t.Fatal("clone should be structurally equal to itself")
	}
	n, err := dst.Length(clone)
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	if n != 2 {
		t.Fatalf("cloned array length = %d, want 2 (diff: %s)", n, pretty.Diff(2, n))
	}
	v0, err := dst.Get(clone, 0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	s, err := dst.StringContent(v0)
	if err != nil {
		t.Fatalf("StringContent: %v", err)
	}
	if s != "nested" {
		t.Fatalf("cloned nested string = %q, want %q", s, "nested")
	}

	// Mutating the source after cloning must not affect the clone: Clone
	// copies structure, it doesn't alias it.
	src.Append(arr, Int(100))
	n2, _ := src.Length(arr)
	n3, _ := dst.Length(clone)
	if n2 == n3 {
		t.Fatalf("expected clone to be independent of further mutation of the source (src=%d dst=%d)", n2, n3)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	h, keep := rootedHeap()
	arr, _ := h.CreateArray()
	keep(arr)
	s1, _ := h.CreateString("round")
	keep(s1)
	s2, _ := h.CreateString("trip")
	keep(s2)
	h.Append(arr, s1)
	h.Append(arr, s2)
	h.Append(arr, Int(42))

	data, err := h.Serialize(arr)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	out, err := h.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	keep(out)
	n, err := h.Length(out)
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	if n != 3 {
		t.Fatalf("deserialized length = %d, want 3", n)
	}
	v0, _ := h.Get(out, 0)
	got, _ := h.StringContent(v0)
	if got != "round" {
		t.Fatalf("deserialized[0] = %q, want %q\n%# v", got, "round", pretty.Formatter(data))
	}
}

func TestWeakRefClearedAfterCollect(t *testing.T) {
	h, keep := rootedHeap()

	target, _ := h.CreateString("ephemeral")
	wr, err := h.CreateWeakRef(target, Null)
	if err != nil {
		t.Fatalf("CreateWeakRef: %v", err)
	}
	// Root the weak-ref handle itself, but not its target: a weak
	// reference never keeps its referent alive.
	keep(wr)

	if v, err := h.WeakRefGet(wr); err != nil || v.Payload != target.Payload {
		t.Fatalf("WeakRefGet before collection = %v, %v, want %v", v, err, target)
	}

	h.Collect()

	v, err := h.WeakRefGet(wr)
	if err != nil {
		t.Fatalf("WeakRefGet after collection: %v", err)
	}
	if v != Null {
		t.Fatalf("expected the weak reference to clear to null once its target was collected, got %v", v)
	}
}

func TestGrowLogsHeapTableGrowth(t *testing.T) {
	h, keep := rootedHeap()
	var logged bool
	h.SetLogger(loggerFunc(func(msg string) { logged = true }))
	for i := 0; i < 10000; i++ {
		arr, err := h.CreateArray()
		if err != nil {
			t.Fatalf("CreateArray(%d): %v", i, err)
		}
		keep(arr)
	}
	if !logged {
		t.Fatal("expected at least one heap growth log line over 10000 allocations")
	}
}

// loggerFunc adapts a plain func(msg string) into the fixlog.Logger
// interface for assertions on whether a Debug line was emitted, without
// pulling in a zap observer core just for this test.
type loggerFunc func(msg string)

func (f loggerFunc) Debug(msg string, _ ...zap.Field) { f(msg) }
func (f loggerFunc) Info(msg string, _ ...zap.Field)  {}
func (f loggerFunc) Warn(msg string, _ ...zap.Field)  {}
