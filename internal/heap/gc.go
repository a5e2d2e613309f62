package heap

// Collect runs one tracing mark-and-sweep cycle (spec §4.1). Roots are the
// saturating-refcounted external set plus whatever the owning interpreter
// reports through SetRootsProvider. Recursion past MarkRecursionCutoff is
// deferred to a fixed-point worklist so a long chain (a linked list built
// from arrays, say) can't blow the Go call stack.
func (h *Heap) Collect() {
	n := len(h.objects)
	if cap(h.reachable) < n {
		h.reachable = make([]bool, n)
	} else {
		h.reachable = h.reachable[:n]
		for i := range h.reachable {
			h.reachable[i] = false
		}
	}
	h.deferred = h.deferred[:0]

	for idx := range h.extRoots {
		h.mark(idx, 0)
	}
	if h.rootsFunc != nil {
		for _, v := range h.rootsFunc() {
			if v.IsObjectRef() {
				h.mark(v.Payload, 0)
			}
		}
	}
	for len(h.deferred) > 0 {
		work := h.deferred
		h.deferred = nil
		for _, idx := range work {
			h.markChildren(idx, 0)
		}
	}

	h.sweep()
}

func (h *Heap) mark(idx int32, depth int) {
	if idx <= 0 || int(idx) >= len(h.reachable) || h.reachable[idx] {
		return
	}
	h.reachable[idx] = true
	if depth >= h.cfg.MarkRecursionCutoff {
		h.deferred = append(h.deferred, idx)
		return
	}
	h.markChildren(idx, depth)
}

func (h *Heap) markChildren(idx int32, depth int) {
	o := h.get(idx)
	if o == nil || o.kind == kindFree {
		return
	}
	switch o.kind {
	case kindArray:
		for i := 0; i < o.arr.length; i++ {
			if el := o.arr.get(i); el.IsObjectRef() {
				h.mark(el.Payload, depth+1)
			}
		}
	case kindHash:
		for _, k := range o.hsh.orderedKeys() {
			if k.IsObjectRef() {
				h.mark(k.Payload, depth+1)
			}
			if val, ok := o.hsh.get(k); ok && val.IsObjectRef() {
				h.mark(val.Payload, depth+1)
			}
		}
	case kindHandle:
		if o.hdl != nil && o.hdl.vtable != nil && o.hdl.vtable.MarkRefs != nil {
			for _, v := range o.hdl.vtable.MarkRefs(o.hdl.data) {
				if v.IsObjectRef() {
					h.mark(v.Payload, depth+1)
				}
			}
		}
	}
}

func (h *Heap) sweep() {
	var freedBytes int64
	for idx := int32(1); int(idx) < len(h.objects); idx++ {
		o := &h.objects[idx]
		if o.kind == kindFree || h.reachable[idx] {
			continue
		}
		if o.hasWeakRefs {
			h.clearWeakRefsTo(idx)
		}
		switch o.kind {
		case kindSharedArray:
			o.shared.header.release()
		case kindHandle:
			h.freeHandle(o)
		case kindArray:
			if o.isString {
				h.forgetConstString(idx)
			}
			freedBytes += int64(o.arr.capacity()) * int64(o.arr.width)
		}
		*o = object{kind: kindFree}
		if idx < h.nextIdx {
			h.nextIdx = idx
		}
	}
	h.liveBytes -= freedBytes
	if h.liveBytes < 0 {
		h.liveBytes = 0
	}
}
