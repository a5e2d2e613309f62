package interp

import (
	"testing"

	"fixscript/internal/compiler"
	"fixscript/internal/fixconfig"
	"fixscript/internal/heap"
)

func mustLoad(t *testing.T, src string) (*heap.Heap, *Interp, map[string]int32) {
	t.Helper()
	cfg := fixconfig.Default()
	h := heap.NewHeap(HeapConfig(cfg))
	ids, err := compiler.LoadInto(h, src)
	if err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	in := New(h, FromFixConfig(cfg))
	byName := make(map[string]int32)
	for _, id := range ids {
		byName[h.Function(id).Name] = id
	}
	return h, in, byName
}

func runInt(t *testing.T, src, fn string, args ...int32) int32 {
	t.Helper()
	h, in, ids := mustLoad(t, src)
	id, ok := ids[fn]
	if !ok {
		t.Fatalf("no function %q in %q", fn, src)
	}
	vals := make([]heap.Value, len(args))
	for i, a := range args {
		vals[i] = heap.Int(a)
	}
	v, err := in.Call(id, vals)
	if err != nil {
		t.Fatalf("Call(%s): %v", fn, err)
	}
	if !v.IsInt() {
		t.Fatalf("Call(%s) returned non-int %+v", fn, v)
	}
	_ = h
	return v.Payload
}

func TestArithmeticAndPrecedence(t *testing.T) {
	src := `
function add(a, b) {
	return a + b * 2;
}
`
	if got := runInt(t, src, "add", 3, 4); got != 11 {
		t.Fatalf("add(3,4) = %d, want 11", got)
	}
}

func TestIfElseAndComparison(t *testing.T) {
	src := `
function max(a, b) {
	if (a > b) {
		return a;
	} else {
		return b;
	}
}
`
	if got := runInt(t, src, "max", 7, 9); got != 9 {
		t.Fatalf("max(7,9) = %d, want 9", got)
	}
	if got := runInt(t, src, "max", 9, 2); got != 9 {
		t.Fatalf("max(9,2) = %d, want 9", got)
	}
}

func TestWhileLoop(t *testing.T) {
	src := `
function sum_to(n) {
	var total = 0;
	var i = 1;
	while (i <= n) {
		total += i;
		i++;
	}
	return total;
}
`
	if got := runInt(t, src, "sum_to", 10); got != 55 {
		t.Fatalf("sum_to(10) = %d, want 55", got)
	}
}

func TestForeachOverArrayLiteral(t *testing.T) {
	src := `
function total() {
	var arr = [1, 2, 3, 4, 5];
	var sum = 0;
	foreach (var x in arr) {
		sum += x;
	}
	return sum;
}
`
	if got := runInt(t, src, "total"); got != 15 {
		t.Fatalf("total() = %d, want 15", got)
	}
}

func TestRecursiveCallDirect(t *testing.T) {
	src := `
function fib(n) {
	if (n < 2) {
		return n;
	}
	return fib(n - 1) + fib(n - 2);
}
`
	if got := runInt(t, src, "fib", 10); got != 55 {
		t.Fatalf("fib(10) = %d, want 55", got)
	}
}

func TestShortCircuitSkipsRightOperand(t *testing.T) {
	src := `
function check(flag, divisor) {
	if (flag && (10 / divisor > 0)) {
		return 1;
	}
	return 0;
}
`
	if got := runInt(t, src, "check", 0, 0); got != 0 {
		t.Fatalf("check(false, 0) = %d, want 0 (right operand must not evaluate)", got)
	}
	if got := runInt(t, src, "check", 1, 5); got != 1 {
		t.Fatalf("check(true, 5) = %d, want 1", got)
	}
}

func TestHashLiteralRoundtrip(t *testing.T) {
	src := `
function lookup() {
	var h = {"a": 1, "b": 2};
	return h["b"];
}
`
	if got := runInt(t, src, "lookup"); got != 2 {
		t.Fatalf("lookup() = %d, want 2", got)
	}
}

func TestDivisionByZeroIsReported(t *testing.T) {
	src := `
function div(a, b) {
	return a / b;
}
`
	h, in, ids := mustLoad(t, src)
	_ = h
	_, err := in.Call(ids["div"], []heap.Value{heap.Int(10), heap.Int(0)})
	if err == nil {
		t.Fatal("expected a division_by_zero error, got nil")
	}
	if err.Kind != "division_by_zero" {
		t.Fatalf("got error kind %q, want division_by_zero", err.Kind)
	}
}

func TestBitwiseAndLogicalNotAreDistinct(t *testing.T) {
	src := `
function bits(n) {
	return ~n;
}
function logical(n) {
	return !n;
}
`
	if got := runInt(t, src, "bits", 0); got != -1 {
		t.Fatalf("~0 = %d, want -1", got)
	}
	if got := runInt(t, src, "logical", 0); got != 1 {
		t.Fatalf("!0 = %d, want 1", got)
	}
	if got := runInt(t, src, "logical", 5); got != 0 {
		t.Fatalf("!5 = %d, want 0", got)
	}
}
