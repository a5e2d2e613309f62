package heap

import "fixscript/internal/fixerr"

// HandleVTable is the set of host callbacks a registered handle type
// supplies (spec §3 "Handle"). All fields are optional; a nil callback
// falls back to identity semantics (Compare/Hash) or a no-op (Free,
// MarkRefs, CopyRefs).
type HandleVTable struct {
	Free     func(data interface{})
	Copy     func(data interface{}) interface{}
	Compare  func(a, b interface{}) bool
	Hash     func(data interface{}) uint64
	ToString func(data interface{}) string
	// MarkRefs lets a handle keep heap values alive across collection by
	// reporting them to the tracer.
	MarkRefs func(data interface{}) []Value
	// CopyRefs rewrites any heap values a cloned handle's data holds,
	// using remap to translate old references into the destination heap.
	CopyRefs func(data interface{}, remap func(Value) Value) interface{}
}

type handleObject struct {
	typ    int32
	data   interface{}
	vtable *HandleVTable
}

// CreateHandle wraps host data behind a heap object so script code can
// hold and pass it around without seeing its Go type.
func (h *Heap) CreateHandle(typ int32, data interface{}, vtable *HandleVTable) (Value, *fixerr.Error) {
	idx, err := h.alloc()
	if err != nil {
		return Value{}, err
	}
	h.objects[idx] = object{kind: kindHandle, hdl: &handleObject{typ: typ, data: data, vtable: vtable}}
	return Ref(idx), nil
}

func (h *Heap) HandleData(v Value) (interface{}, int32, *fixerr.Error) {
	o := h.get(v.Payload)
	if o == nil || o.kind != kindHandle {
		return nil, 0, fixerr.New(fixerr.InvalidAccess, "not a handle")
	}
	return o.hdl.data, o.hdl.typ, nil
}

func (h *Heap) HandleToString(v Value) (string, bool) {
	o := h.get(v.Payload)
	if o == nil || o.kind != kindHandle || o.hdl.vtable == nil || o.hdl.vtable.ToString == nil {
		return "", false
	}
	return o.hdl.vtable.ToString(o.hdl.data), true
}

func (h *Heap) freeHandle(o *object) {
	if o.hdl != nil && o.hdl.vtable != nil && o.hdl.vtable.Free != nil {
		o.hdl.vtable.Free(o.hdl.data)
	}
}
