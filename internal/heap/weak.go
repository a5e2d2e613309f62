package heap

import "fixscript/internal/fixerr"

// weakRefBody holds a non-owning pointer at another object: target==0
// once cleared (by sweep, when the referent dies, or explicitly).
type weakRefBody struct {
	target int32
	// container, if non-zero, is an object this weak ref is logically
	// attached to (e.g. a cache entry); purely informational bookkeeping,
	// not consulted by the collector.
	container int32
}

// CreateWeakRef allocates a weak reference at target. The target object's
// hasWeakRefs flag is set so sweep knows to walk h.weakRefs for it. The
// target is held as a root while the weak reference itself is allocated,
// so a collection run by that allocation cannot reclaim it.
func (h *Heap) CreateWeakRef(target Value, container Value) (Value, *fixerr.Error) {
	if !target.IsObjectRef() {
		return Value{}, fixerr.New(fixerr.InvalidAccess, "weak reference target must be a heap object")
	}
	to := h.get(target.Payload)
	if to == nil || to.kind == kindFree {
		return Value{}, fixerr.New(fixerr.InvalidAccess, "weak reference target must be a heap object")
	}
	h.Ref(target)
	idx, err := h.alloc()
	h.Unref(target)
	if err != nil {
		return Value{}, err
	}
	body := &weakRefBody{target: target.Payload, container: container.Payload}
	h.objects[idx] = object{kind: kindHandle, hdl: &handleObject{typ: weakHandleType, data: body}}
	h.get(target.Payload).hasWeakRefs = true
	h.weakRefs[target.Payload] = append(h.weakRefs[target.Payload], idx)
	return Ref(idx), nil
}

// weakHandleType is a reserved handle-type id hosts never see, used to
// distinguish weak-ref handles from ordinary handle objects during sweep.
const weakHandleType = -1

func (h *Heap) isWeakRef(o *object) bool {
	return o.kind == kindHandle && o.hdl != nil && o.hdl.typ == weakHandleType
}

// WeakRefGet dereferences a weak reference, returning Null if its target
// has been collected or explicitly cleared.
func (h *Heap) WeakRefGet(v Value) (Value, *fixerr.Error) {
	o := h.get(v.Payload)
	if o == nil || !h.isWeakRef(o) {
		return Value{}, fixerr.New(fixerr.InvalidAccess, "not a weak reference")
	}
	body := o.hdl.data.(*weakRefBody)
	if body.target == 0 {
		return Null, nil
	}
	to := h.get(body.target)
	if to == nil || to.kind == kindFree {
		body.target = 0
		return Null, nil
	}
	return Ref(body.target), nil
}

// clearWeakRefsTo runs during sweep, right before a dying object's slot is
// reclaimed: every weak ref pointed at it is nulled out.
func (h *Heap) clearWeakRefsTo(idx int32) {
	for _, refIdx := range h.weakRefs[idx] {
		if ro := h.get(refIdx); ro != nil && h.isWeakRef(ro) {
			ro.hdl.data.(*weakRefBody).target = 0
		}
	}
	delete(h.weakRefs, idx)
}
