// internal/compiler/compiler.go
//
// Package compiler implements the single-pass recursive-descent
// parser+codegen: source text in, compiled functions appended directly to
// a heap's shared bytecode buffer and function table. There is no
// intermediate AST — each grammar rule in stmt_compiler.go emits bytecode
// as it recognizes a construct, and hoisting_compiler.go's forward pass is
// what lets that single pass still support calls to functions defined
// later in the file.
package compiler

import (
	"math"

	"fixscript/internal/bytecode"
	"fixscript/internal/heap"
)

func uint32FromFloat(f float32) uint32 { return math.Float32bits(f) }

// CompiledFunction is one finished function body, with CALL_DIRECT/
// CONST_FUNCREF operands still indexed 0..N-1 within this compilation
// unit (not yet heap-wide ids).
type CompiledFunction struct {
	Name     string
	Arity    int
	Code     []byte
	MaxStack int
	Lines    []heap.LineEntry
}

// Result is one script's compiled output, in declaration-hoisted order.
type Result struct {
	Functions []CompiledFunction
}

// Compile tokenizes and compiles src into a Result, independent of any
// heap — LoadInto is what appends the result into a specific heap's code
// buffer and function table.
func Compile(src string) (*Result, error) {
	funcs, err := CompileUnit(src)
	if err != nil {
		return nil, err
	}
	out := &Result{Functions: make([]CompiledFunction, len(funcs))}
	for i, f := range funcs {
		out.Functions[i] = CompiledFunction{
			Name:     f.name,
			Arity:    f.arity,
			Code:     f.chunk.Code,
			MaxStack: f.maxSlots,
			Lines:    f.chunk.LineEntries(),
		}
	}
	return out, nil
}

// LoadInto compiles src and appends every function into h's shared code
// buffer and function table, returning the heap-wide function id of each
// in declaration order. Every function in one script loads together, so
// their local (0..N-1) CALL_DIRECT/CONST_FUNCREF targets need only be
// shifted by the heap's function-table size at the time of the call.
func LoadInto(h *heap.Heap, src string) ([]int32, error) {
	res, err := Compile(src)
	if err != nil {
		return nil, err
	}
	baseID := h.FunctionCount()
	ids := make([]int32, len(res.Functions))
	for i := range ids {
		ids[i] = baseID + int32(i)
	}
	for i, f := range res.Functions {
		code := rebaseCallTargets(f.Code, baseID)
		off, cerr := h.AppendCode(code)
		if cerr != nil {
			return nil, cerr
		}
		fi := &heap.FuncInfo{Name: f.Name, Arity: f.Arity, Offset: off, MaxStack: f.MaxStack, Lines: f.Lines}
		h.AddFunction(fi)
	}
	return ids, nil
}

// rebaseCallTargets rewrites every CALL_DIRECT/CONST_FUNCREF 4-byte
// operand from this compilation unit's local function index to the
// heap-wide id space, by adding base. Returns a fresh copy; the input is
// never mutated.
func rebaseCallTargets(code []byte, base int32) []byte {
	return RebaseCallTargetsWithMap(code, func(local int32) int32 { return local + base })
}

// RebaseCallTargetsWithMap rewrites every CALL_DIRECT/CONST_FUNCREF operand
// through remap, which turns a compilation-unit-local function index into
// whatever heap-wide id it should resolve to. A flat +base shift (see
// rebaseCallTargets) is one instance; the registry's reload path needs a
// per-function mapping instead, since a reused function keeps its old id
// while a new one gets a freshly allocated one.
func RebaseCallTargetsWithMap(code []byte, remap func(local int32) int32) []byte {
	out := make([]byte, len(code))
	copy(out, code)
	i := 0
	for i < len(out) {
		op := bytecode.OpCode(out[i])
		opLen := op.OperandLen()
		if op == bytecode.OpCallDirect || op == bytecode.OpConstFuncRef {
			local := int32(uint32(out[i+1])<<24 | uint32(out[i+2])<<16 | uint32(out[i+3])<<8 | uint32(out[i+4]))
			abs := remap(local)
			out[i+1] = byte(abs >> 24)
			out[i+2] = byte(abs >> 16)
			out[i+3] = byte(abs >> 8)
			out[i+4] = byte(abs)
		}
		if opLen < 0 {
			// OpSwitch: count (2 bytes) + that many 4-byte offsets, none of
			// which are function indices, so just skip past them.
			count := int(uint16(out[i+1])<<8 | uint16(out[i+2]))
			i += 3 + count*4
			continue
		}
		i += 1 + opLen
	}
	return out
}
