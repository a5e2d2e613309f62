package interp

import (
	"math"
	"time"

	"fixscript/internal/bytecode"
	"fixscript/internal/fixerr"
	"fixscript/internal/heap"
)

// maxCallDepth bounds the frame stack independently of the operand-stack
// size cap: a tight infinite-recursion script exhausts this long before it
// could push enough operands to trip MaxStackSize.
const maxCallDepth = 20000

// Interp is one execution context over a heap: the shared operand stack,
// the active call frames, and the bookkeeping (instruction count, start
// time) the time-limit and suspend checks consume. Not safe for concurrent
// use, same as the heap it drives.
type Interp struct {
	h   *heap.Heap
	cfg Config

	stack  []heap.Value
	frames []frame

	hook DebugHook

	// suspend, when set, is polled every AutoSuspendInstructions dispatched
	// instructions; returning false pauses the loop (Run returns with
	// Suspended() true) until a later Resume call.
	suspend func() bool

	instrCount int64
	startTime  time.Time
	suspended  bool
}

// New builds an interpreter bound to h, and registers it as h's GC root
// provider: the operand stack and every active frame's locals are exactly
// the "running program's reachable values" half of spec's root set.
func New(h *heap.Heap, cfg Config) *Interp {
	in := &Interp{h: h, cfg: cfg}
	h.SetRootsProvider(in.roots)
	return in
}

func (in *Interp) SetDebugHook(hook DebugHook)     { in.hook = hook }
func (in *Interp) SetSuspendHook(fn func() bool)   { in.suspend = fn }
func (in *Interp) Heap() *heap.Heap                { return in.h }
func (in *Interp) Suspended() bool                 { return in.suspended }

func (in *Interp) roots() []heap.Value {
	out := make([]heap.Value, 0, len(in.stack))
	out = append(out, in.stack...)
	for _, fr := range in.frames {
		out = append(out, fr.locals...)
	}
	return out
}

// Call invokes function id with args from Go, running to completion (or
// until a time limit / stack overflow / native error aborts it) and
// returning its result. Suitable both as the registry's script entry point
// and for a native function that needs to invoke a script-side callback.
func (in *Interp) Call(funcID int32, args []heap.Value) (heap.Value, *fixerr.Error) {
	fn := in.h.Function(funcID)
	if fn == nil {
		return heap.Value{}, fixerr.Newf(fixerr.BadFormat, "call to undefined function id %d", funcID)
	}
	if fn.Native != nil {
		return in.callNative(fn, args)
	}
	depth := len(in.frames)
	if err := in.pushFrame(funcID, fn, args); err != nil {
		return heap.Value{}, err
	}
	if in.startTime.IsZero() {
		in.startTime = time.Now()
	}
	if err := in.run(depth); err != nil {
		return heap.Value{}, err
	}
	if in.suspended {
		return heap.Value{}, fixerr.New(fixerr.ExecutionStop, "execution suspended")
	}
	return in.pop(), nil
}

// Resume continues a suspended Run/Call from exactly where it paused: all
// frame/stack state lives on the Interp itself, so the dispatch loop picks
// back up without any snapshot/restore step.
func (in *Interp) Resume() (heap.Value, *fixerr.Error) {
	if !in.suspended {
		return heap.Value{}, fixerr.New(fixerr.BadFormat, "interpreter is not suspended")
	}
	in.suspended = false
	if err := in.run(0); err != nil {
		return heap.Value{}, err
	}
	if in.suspended {
		return heap.Value{}, fixerr.New(fixerr.ExecutionStop, "execution suspended")
	}
	return in.pop(), nil
}

func (in *Interp) callNative(fn *heap.FuncInfo, args []heap.Value) (heap.Value, *fixerr.Error) {
	v, err := fn.Native(in.h, args)
	if err == nil {
		return v, nil
	}
	if fe, ok := err.(*fixerr.Error); ok {
		return heap.Value{}, fe.WithFrame(fixerr.Frame{Function: fn.Name})
	}
	return heap.Value{}, fixerr.Wrap(fixerr.ImproperParams, err, "native function failed").WithFrame(fixerr.Frame{Function: fn.Name})
}

func (in *Interp) pushFrame(id int32, fn *heap.FuncInfo, args []heap.Value) *fixerr.Error {
	if len(in.frames) >= maxCallDepth {
		return fixerr.New(fixerr.RecursionLimit, "call stack exceeded the maximum depth")
	}
	slots := fn.MaxStack
	if slots < len(args) {
		slots = len(args)
	}
	locals := make([]heap.Value, slots)
	copy(locals, args)
	in.frames = append(in.frames, frame{
		funcID:    id,
		name:      fn.Name,
		pc:        fn.Offset,
		locals:    locals,
		stackBase: len(in.stack),
	})
	if in.hook != nil {
		in.hook.OnCall(in, fn.Name, fn.LineForOffset(0))
	}
	return nil
}

func (in *Interp) push(v heap.Value) *fixerr.Error {
	if in.cfg.MaxStackSize > 0 && len(in.stack) >= in.cfg.MaxStackSize {
		return fixerr.New(fixerr.StackOverflow, "operand stack exceeded its configured limit")
	}
	in.stack = append(in.stack, v)
	return nil
}

func (in *Interp) pop() heap.Value {
	n := len(in.stack) - 1
	v := in.stack[n]
	in.stack = in.stack[:n]
	return v
}

func (in *Interp) peek() heap.Value {
	return in.stack[len(in.stack)-1]
}

func truthy(v heap.Value) bool {
	if v.IsFloat() {
		return v.Float() != 0
	}
	if v.IsInt() {
		return v.Payload != 0
	}
	return true
}

// run dispatches bytecode until the frame stack unwinds back down to
// depth, an error propagates, or a suspend checkpoint pauses execution.
func (in *Interp) run(depth int) *fixerr.Error {
	for len(in.frames) > depth {
		fr := &in.frames[len(in.frames)-1]
		code := in.h.Code()

		if in.hook != nil {
			fn := in.h.Function(fr.funcID)
			line := 0
			if fn != nil {
				line = fn.LineForOffset(fr.pc - fn.Offset)
			}
			if !in.hook.OnInstruction(in, fr.name, line) {
				in.suspended = true
				return nil
			}
		}

		in.instrCount++
		if in.cfg.AutoSuspendInstructions > 0 && in.suspend != nil &&
			in.instrCount%int64(in.cfg.AutoSuspendInstructions) == 0 {
			if !in.suspend() {
				in.suspended = true
				return nil
			}
		}

		if fr.pc >= len(code) {
			return in.unwindErr(depth, fixerr.New(fixerr.BadFormat, "program counter ran past the end of the code buffer"))
		}

		op := bytecode.OpCode(code[fr.pc])
		fr.pc++

		if err := in.dispatch(fr, op, code); err != nil {
			if in.hook != nil {
				in.hook.OnError(in, err)
			}
			return in.unwindErr(depth, err)
		}
		if in.suspended {
			return nil
		}
	}
	return nil
}

// unwindErr appends one stack frame per active call below depth (from the
// failure site outward) to e, popping frames as it goes, then returns e.
func (in *Interp) unwindErr(depth int, e *fixerr.Error) *fixerr.Error {
	for len(in.frames) > depth {
		n := len(in.frames) - 1
		fr := in.frames[n]
		line := fr.line
		if fn := in.h.Function(fr.funcID); fn != nil {
			line = fn.LineForOffset(fr.pc - fn.Offset)
		}
		e.WithFrame(fixerr.Frame{Function: fr.name, Location: fixerr.Location{Line: line}})
		in.frames = in.frames[:n]
	}
	return e
}

func (in *Interp) readUint16(code []byte, pc int) uint16 {
	return uint16(code[pc])<<8 | uint16(code[pc+1])
}

func (in *Interp) readInt32(code []byte, pc int) int32 {
	return int32(uint32(code[pc])<<24 | uint32(code[pc+1])<<16 | uint32(code[pc+2])<<8 | uint32(code[pc+3]))
}

func floatOf(v heap.Value) float32 {
	if v.IsFloat() {
		return v.Float()
	}
	return float32(v.Payload)
}

func bothFloat(a, b heap.Value) bool { return a.IsFloat() || b.IsFloat() }

func addInt32(a, b int32) (int32, bool) {
	r := int64(a) + int64(b)
	return int32(r), r < math.MinInt32 || r > math.MaxInt32
}

func subInt32(a, b int32) (int32, bool) {
	r := int64(a) - int64(b)
	return int32(r), r < math.MinInt32 || r > math.MaxInt32
}

func mulInt32(a, b int32) (int32, bool) {
	r := int64(a) * int64(b)
	return int32(r), r < math.MinInt32 || r > math.MaxInt32
}
