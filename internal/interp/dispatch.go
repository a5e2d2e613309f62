package interp

import (
	"time"

	"fixscript/internal/bytecode"
	"fixscript/internal/fixerr"
	"fixscript/internal/heap"
)

// dispatch executes a single already-fetched instruction against fr,
// advancing fr.pc past any operands and mutating in.stack/in.frames as the
// opcode requires. A non-nil return aborts the enclosing run loop, which
// unwinds the frame stack into the error before returning it.
func (in *Interp) dispatch(fr *frame, op bytecode.OpCode, code []byte) *fixerr.Error {
	if op >= bytecode.OpLoadM64Base && op < bytecode.OpLoadM64End {
		return in.push(fr.locals[op-bytecode.OpLoadM64Base])
	}
	if op >= bytecode.OpStoreM64Base && op < bytecode.OpStoreM64End {
		fr.locals[op-bytecode.OpStoreM64Base] = in.peek()
		return nil
	}

	switch op {
	case bytecode.OpNop:
		return nil

	case bytecode.OpConst0:
		return in.push(heap.Zero)
	case bytecode.OpConstM1:
		return in.push(heap.Int(-1))
	case bytecode.OpConstP8:
		n := int32(code[fr.pc])
		fr.pc++
		return in.push(heap.Int(n))
	case bytecode.OpConstN8:
		n := int32(code[fr.pc])
		fr.pc++
		return in.push(heap.Int(-n))
	case bytecode.OpConstP16:
		n := int32(in.readUint16(code, fr.pc))
		fr.pc += 2
		return in.push(heap.Int(n))
	case bytecode.OpConstN16:
		n := int32(in.readUint16(code, fr.pc))
		fr.pc += 2
		return in.push(heap.Int(-n))
	case bytecode.OpConstI32:
		n := in.readInt32(code, fr.pc)
		fr.pc += 4
		return in.push(heap.Int(n))
	case bytecode.OpConstF32:
		bits := in.readInt32(code, fr.pc)
		fr.pc += 4
		f := heap.Value{Payload: bits, IsRef: true}.Float()
		return in.push(heap.FloatValue(f))
	case bytecode.OpConstFuncRef:
		id := in.readInt32(code, fr.pc)
		fr.pc += 4
		return in.push(heap.FuncRef(id))

	case bytecode.OpLoadN:
		slot := int(code[fr.pc])
		fr.pc++
		return in.push(fr.locals[slot])
	case bytecode.OpStoreN:
		slot := int(code[fr.pc])
		fr.pc++
		fr.locals[slot] = in.peek()
		return nil

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul:
		return in.arith(op)
	case bytecode.OpDiv, bytecode.OpRem:
		return in.divOrRem(op)
	case bytecode.OpNeg:
		v := in.pop()
		if v.IsFloat() {
			return in.push(heap.FloatValue(-v.Float()))
		}
		if !v.IsInt() {
			return fixerr.New(fixerr.InvalidAccess, "neg applied to a non-numeric value")
		}
		if v.Payload == -1<<31 {
			return fixerr.New(fixerr.IntegerOverflow, "negation overflowed a 32-bit integer")
		}
		return in.push(heap.Int(-v.Payload))

	case bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor, bytecode.OpShl, bytecode.OpShr, bytecode.OpUShr:
		return in.bitwise(op)
	case bytecode.OpNot:
		v := in.pop()
		if truthy(v) {
			return in.push(heap.Zero)
		}
		return in.push(heap.Int(1))
	case bytecode.OpBNot:
		v := in.pop()
		if !v.IsInt() {
			return fixerr.New(fixerr.InvalidAccess, "~ applied to a non-integer value")
		}
		return in.push(heap.Int(^v.Payload))
	case bytecode.OpInc:
		v := in.pop()
		if !v.IsInt() {
			return fixerr.New(fixerr.InvalidAccess, "++ applied to a non-integer value")
		}
		r, overflow := addInt32(v.Payload, 1)
		if overflow {
			return fixerr.New(fixerr.IntegerOverflow, "increment overflowed a 32-bit integer")
		}
		return in.push(heap.Int(r))
	case bytecode.OpDec:
		v := in.pop()
		if !v.IsInt() {
			return fixerr.New(fixerr.InvalidAccess, "-- applied to a non-integer value")
		}
		r, overflow := subInt32(v.Payload, 1)
		if overflow {
			return fixerr.New(fixerr.IntegerOverflow, "decrement overflowed a 32-bit integer")
		}
		return in.push(heap.Int(r))

	case bytecode.OpFAdd:
		b, a := in.pop(), in.pop()
		return in.push(heap.FloatValue(floatOf(a) + floatOf(b)))
	case bytecode.OpFSub:
		b, a := in.pop(), in.pop()
		return in.push(heap.FloatValue(floatOf(a) - floatOf(b)))
	case bytecode.OpFMul:
		b, a := in.pop(), in.pop()
		return in.push(heap.FloatValue(floatOf(a) * floatOf(b)))
	case bytecode.OpFDiv:
		b, a := in.pop(), in.pop()
		return in.push(heap.FloatValue(floatOf(a) / floatOf(b)))
	case bytecode.OpFNeg:
		v := in.pop()
		return in.push(heap.FloatValue(-floatOf(v)))
	case bytecode.OpIntToFloat:
		v := in.pop()
		if !v.IsInt() {
			return fixerr.New(fixerr.InvalidAccess, "int_to_float applied to a non-integer value")
		}
		return in.push(heap.FloatValue(float32(v.Payload)))
	case bytecode.OpFloatToInt:
		v := in.pop()
		if !v.IsFloat() {
			return fixerr.New(fixerr.InvalidAccess, "float_to_int applied to a non-float value")
		}
		return in.push(heap.Int(int32(v.Float())))

	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		return in.compare(op)
	case bytecode.OpEq:
		b, a := in.pop(), in.pop()
		return in.push(boolValue(in.h.Equal(a, b)))
	case bytecode.OpNe:
		b, a := in.pop(), in.pop()
		return in.push(boolValue(!in.h.Equal(a, b)))
	case bytecode.OpEqValue:
		b, a := in.pop(), in.pop()
		return in.push(boolValue(heap.RawEqual(a, b)))
	case bytecode.OpNeValue:
		b, a := in.pop(), in.pop()
		return in.push(boolValue(!heap.RawEqual(a, b)))

	case bytecode.OpJump:
		off := int16(in.readUint16(code, fr.pc))
		fr.pc = fr.pc + 2 + int(off)
		return nil
	case bytecode.OpJumpLong:
		off := in.readInt32(code, fr.pc)
		fr.pc = fr.pc + 4 + int(off)
		return nil
	case bytecode.OpJumpTrue:
		off := int16(in.readUint16(code, fr.pc))
		fr.pc += 2
		if truthy(in.pop()) {
			fr.pc += int(off)
		}
		return nil
	case bytecode.OpJumpFalse:
		off := int16(in.readUint16(code, fr.pc))
		fr.pc += 2
		if !truthy(in.pop()) {
			fr.pc += int(off)
		}
		return nil
	case bytecode.OpSwitch:
		return in.switchOp(fr, code)

	case bytecode.OpCallDirect:
		id := in.readInt32(code, fr.pc)
		fr.pc += 4
		return in.callDirect(id)
	case bytecode.OpCall2:
		return in.call2()
	case bytecode.OpReturn:
		return in.doReturn()
	case bytecode.OpReturn2:
		return in.doReturn2()
	case bytecode.OpCleanCall2:
		errv := in.pop()
		if !(errv.IsInt() && errv.Payload == 0) {
			return valueToError(in.h, errv)
		}
		return nil

	case bytecode.OpCreateArray:
		v, err := in.h.CreateArray()
		if err != nil {
			return err
		}
		return in.push(v)
	case bytecode.OpCreateArrayOfLen:
		n := in.readInt32(code, fr.pc)
		fr.pc += 4
		v, err := in.h.CreateArrayOfLength(int(n))
		if err != nil {
			return err
		}
		return in.push(v)
	case bytecode.OpCreateHash:
		v, err := in.h.CreateHash()
		if err != nil {
			return err
		}
		return in.push(v)
	case bytecode.OpArrayGet:
		idx := in.pop()
		arr := in.pop()
		// `expr[expr]` compiles to the same opcode whether the base is an
		// array or a hash, so the runtime kind decides which storage the
		// index resolves against.
		if in.h.IsHash(arr) {
			v, found, err := in.h.HashGet(arr, idx)
			if err != nil {
				return err
			}
			if !found {
				return fixerr.New(fixerr.KeyNotFound, "key not found in hash")
			}
			return in.push(v)
		}
		v, err := in.h.Get(arr, int(idx.Payload))
		if err != nil {
			return err
		}
		return in.push(v)
	case bytecode.OpArraySet:
		val := in.pop()
		idx := in.pop()
		arr := in.pop()
		if in.h.IsHash(arr) {
			if err := in.h.HashSet(arr, idx, val); err != nil {
				return err
			}
			return in.push(val)
		}
		if err := in.h.Set(arr, int(idx.Payload), val); err != nil {
			return err
		}
		return in.push(val)
	case bytecode.OpArrayAppend:
		val := in.pop()
		arr := in.pop()
		return in.h.Append(arr, val)
	case bytecode.OpArrayLen:
		arr := in.pop()
		n, err := in.h.Length(arr)
		if err != nil {
			return err
		}
		return in.push(heap.Int(int32(n)))
	case bytecode.OpHashGet:
		key := in.pop()
		hsh := in.pop()
		v, found, err := in.h.HashGet(hsh, key)
		if err != nil {
			return err
		}
		if !found {
			return fixerr.New(fixerr.KeyNotFound, "key not found in hash")
		}
		return in.push(v)
	case bytecode.OpHashSet:
		val := in.pop()
		key := in.pop()
		hsh := in.pop()
		return in.h.HashSet(hsh, key, val)

	case bytecode.OpPop:
		in.pop()
		return nil
	case bytecode.OpDup:
		return in.push(in.peek())
	case bytecode.OpSwap:
		a := in.pop()
		b := in.pop()
		if err := in.push(a); err != nil {
			return err
		}
		return in.push(b)

	case bytecode.OpExtCheckTimeLimit:
		if in.cfg.TimeLimit > 0 && time.Since(in.startTime) >= in.cfg.TimeLimit {
			return fixerr.New(fixerr.TimeLimit, "execution exceeded its configured time limit")
		}
		return nil
	case bytecode.OpExtSuspendCheckpoint:
		if in.suspend != nil && !in.suspend() {
			in.suspended = true
		}
		return nil

	case bytecode.OpHalt:
		in.suspended = false
		in.frames = in.frames[:0]
		return nil
	}
	return fixerr.Newf(fixerr.BadFormat, "unknown opcode %d", op)
}

func boolValue(b bool) heap.Value {
	if b {
		return heap.Int(1)
	}
	return heap.Zero
}

func (in *Interp) arith(op bytecode.OpCode) *fixerr.Error {
	b, a := in.pop(), in.pop()
	if bothFloat(a, b) {
		af, bf := floatOf(a), floatOf(b)
		switch op {
		case bytecode.OpAdd:
			return in.push(heap.FloatValue(af + bf))
		case bytecode.OpSub:
			return in.push(heap.FloatValue(af - bf))
		case bytecode.OpMul:
			return in.push(heap.FloatValue(af * bf))
		}
	}
	if !a.IsInt() || !b.IsInt() {
		return fixerr.New(fixerr.InvalidAccess, "arithmetic applied to a non-numeric value")
	}
	var r int32
	var overflow bool
	switch op {
	case bytecode.OpAdd:
		r, overflow = addInt32(a.Payload, b.Payload)
	case bytecode.OpSub:
		r, overflow = subInt32(a.Payload, b.Payload)
	case bytecode.OpMul:
		r, overflow = mulInt32(a.Payload, b.Payload)
	}
	if overflow {
		return fixerr.New(fixerr.IntegerOverflow, "arithmetic overflowed a 32-bit integer")
	}
	return in.push(heap.Int(r))
}

func (in *Interp) divOrRem(op bytecode.OpCode) *fixerr.Error {
	b, a := in.pop(), in.pop()
	if bothFloat(a, b) {
		if op == bytecode.OpRem {
			return fixerr.New(fixerr.InvalidAccess, "% is not defined for floats")
		}
		return in.push(heap.FloatValue(floatOf(a) / floatOf(b)))
	}
	if !a.IsInt() || !b.IsInt() {
		return fixerr.New(fixerr.InvalidAccess, "arithmetic applied to a non-numeric value")
	}
	if b.Payload == 0 {
		return fixerr.New(fixerr.DivisionByZero, "division by zero")
	}
	if a.Payload == -1<<31 && b.Payload == -1 {
		return fixerr.New(fixerr.IntegerOverflow, "division overflowed a 32-bit integer")
	}
	if op == bytecode.OpDiv {
		return in.push(heap.Int(a.Payload / b.Payload))
	}
	return in.push(heap.Int(a.Payload % b.Payload))
}

func (in *Interp) bitwise(op bytecode.OpCode) *fixerr.Error {
	b, a := in.pop(), in.pop()
	if !a.IsInt() || !b.IsInt() {
		return fixerr.New(fixerr.InvalidAccess, "bitwise operator applied to a non-integer value")
	}
	switch op {
	case bytecode.OpAnd:
		return in.push(heap.Int(a.Payload & b.Payload))
	case bytecode.OpOr:
		return in.push(heap.Int(a.Payload | b.Payload))
	case bytecode.OpXor:
		return in.push(heap.Int(a.Payload ^ b.Payload))
	case bytecode.OpShl:
		return in.push(heap.Int(a.Payload << (uint32(b.Payload) & 31)))
	case bytecode.OpShr:
		return in.push(heap.Int(a.Payload >> (uint32(b.Payload) & 31)))
	case bytecode.OpUShr:
		return in.push(heap.Int(int32(uint32(a.Payload) >> (uint32(b.Payload) & 31))))
	}
	return nil
}

func (in *Interp) compare(op bytecode.OpCode) *fixerr.Error {
	b, a := in.pop(), in.pop()
	if bothFloat(a, b) {
		af, bf := floatOf(a), floatOf(b)
		switch op {
		case bytecode.OpLt:
			return in.push(boolValue(af < bf))
		case bytecode.OpLe:
			return in.push(boolValue(af <= bf))
		case bytecode.OpGt:
			return in.push(boolValue(af > bf))
		case bytecode.OpGe:
			return in.push(boolValue(af >= bf))
		}
	}
	if !a.IsInt() || !b.IsInt() {
		return fixerr.New(fixerr.InvalidAccess, "comparison applied to a non-numeric value")
	}
	switch op {
	case bytecode.OpLt:
		return in.push(boolValue(a.Payload < b.Payload))
	case bytecode.OpLe:
		return in.push(boolValue(a.Payload <= b.Payload))
	case bytecode.OpGt:
		return in.push(boolValue(a.Payload > b.Payload))
	case bytecode.OpGe:
		return in.push(boolValue(a.Payload >= b.Payload))
	}
	return nil
}

func (in *Interp) switchOp(fr *frame, code []byte) *fixerr.Error {
	count := int(in.readUint16(code, fr.pc))
	tableStart := fr.pc + 2
	fr.pc = tableStart + count*4
	idx := in.pop()
	if !idx.IsInt() || idx.Payload < 0 || int(idx.Payload) >= count {
		return nil
	}
	off := in.readInt32(code, tableStart+int(idx.Payload)*4)
	fr.pc += int(off)
	return nil
}

// callDirect resolves a statically-known function id, pops its fixed-arity
// arguments (pushed left-to-right, so the last argument is on top), and
// either invokes a native function in place or enters a new frame.
func (in *Interp) callDirect(id int32) *fixerr.Error {
	fn := in.h.Function(id)
	if fn == nil {
		return fixerr.Newf(fixerr.BadFormat, "call to undefined function id %d", id)
	}
	args := in.popArgs(fn.Arity)
	if fn.Native != nil {
		v, err := in.callNative(fn, args)
		if err != nil {
			return err
		}
		return in.push(v)
	}
	return in.pushFrame(id, fn, args)
}

// call2 invokes a dynamic function-reference value (pushed above its
// arguments) and leaves a (result, error) pair on the stack: error is the
// bare integer 0 on success.
func (in *Interp) call2() *fixerr.Error {
	fref := in.pop()
	if !fref.IsFuncRef() {
		return fixerr.New(fixerr.InvalidAccess, "call2 target is not a function reference")
	}
	id := fref.FuncID()
	fn := in.h.Function(id)
	if fn == nil {
		return fixerr.Newf(fixerr.BadFormat, "call2 to undefined function id %d", id)
	}
	args := in.popArgs(fn.Arity)
	if fn.Native != nil {
		v, err := in.callNative(fn, args)
		if err != nil {
			if perr := in.push(heap.Zero); perr != nil {
				return perr
			}
			return in.push(errorToValue(in.h, err))
		}
		if perr := in.push(v); perr != nil {
			return perr
		}
		return in.push(heap.Zero)
	}
	return in.pushCall2Frame(id, fn, args)
}

func (in *Interp) popArgs(arity int) []heap.Value {
	args := make([]heap.Value, arity)
	for i := arity - 1; i >= 0; i-- {
		args[i] = in.pop()
	}
	return args
}

// pushCall2Frame marks the new frame as a CALL2 target so doReturn knows
// to push the (result, error-or-0) pair instead of a bare result.
func (in *Interp) pushCall2Frame(id int32, fn *heap.FuncInfo, args []heap.Value) *fixerr.Error {
	if err := in.pushFrame(id, fn, args); err != nil {
		return err
	}
	in.frames[len(in.frames)-1].isCall2 = true
	return nil
}

func (in *Interp) doReturn() *fixerr.Error {
	v := in.pop()
	n := len(in.frames) - 1
	fr := in.frames[n]
	in.stack = in.stack[:fr.stackBase]
	wasCall2 := fr.isCall2
	in.frames = in.frames[:n]
	if in.hook != nil {
		in.hook.OnReturn(in, fr.name)
	}
	if err := in.push(v); err != nil {
		return err
	}
	if wasCall2 {
		return in.push(heap.Zero)
	}
	return nil
}

func (in *Interp) doReturn2() *fixerr.Error {
	errv := in.pop()
	v := in.pop()
	n := len(in.frames) - 1
	fr := in.frames[n]
	in.stack = in.stack[:fr.stackBase]
	in.frames = in.frames[:n]
	if in.hook != nil {
		in.hook.OnReturn(in, fr.name)
	}
	if err := in.push(v); err != nil {
		return err
	}
	return in.push(errv)
}

// errorToValue/valueToError give CALL2 a concrete wire shape for its error
// slot: a two-element array [message, kind], so script code can inspect
// both without the interpreter exposing *fixerr.Error across the boundary.
func errorToValue(h *heap.Heap, e *fixerr.Error) heap.Value {
	arr, aerr := h.CreateArray()
	if aerr != nil {
		return heap.Int(1)
	}
	msg, merr := h.CreateString(e.Message)
	if merr == nil {
		h.Append(arr, msg)
	}
	kind, kerr := h.CreateString(string(e.Kind))
	if kerr == nil {
		h.Append(arr, kind)
	}
	return arr
}

func valueToError(h *heap.Heap, v heap.Value) *fixerr.Error {
	if h.IsArray(v) {
		if msgVal, err := h.Get(v, 0); err == nil {
			if s, serr := h.StringContent(msgVal); serr == nil {
				return fixerr.New(fixerr.ExecutionStop, s)
			}
		}
	}
	return fixerr.New(fixerr.ExecutionStop, "call2 error was not inspected")
}
