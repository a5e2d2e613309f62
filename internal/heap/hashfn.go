package heap

import "unsafe"

func uintptrOf(p *SharedHeader) uintptr { return uintptr(unsafe.Pointer(p)) }

// structuralEqual implements FixScript's `equal` builtin: strings compare
// by content, arrays/hashes compare element-wise, everything else (plain
// integers, floats, function refs, handles) compares by raw identity.
// Recursion is capped at EqualityRecursionCutoff to keep cyclic or very
// deep structures from blowing the Go call stack; past the cutoff,
// unequal-by-identity objects are treated as unequal rather than hung.
func (h *Heap) structuralEqual(a, b Value) bool {
	return h.equalAt(a, b, 0)
}

// Equal exposes structural equality (BC_EQ) to callers outside the
// package, such as the interpreter's eq/ne opcodes.
func (h *Heap) Equal(a, b Value) bool {
	return h.structuralEqual(a, b)
}

func (h *Heap) equalAt(a, b Value, depth int) bool {
	if RawEqual(a, b) {
		return true
	}
	if a.IsRef != b.IsRef {
		return false
	}
	if !a.IsObjectRef() || !b.IsObjectRef() {
		return false
	}
	if depth >= h.cfg.EqualityRecursionCutoff {
		return false
	}
	oa, ob := h.get(a.Payload), h.get(b.Payload)
	if oa == nil || ob == nil || oa.kind != ob.kind {
		return false
	}
	switch oa.kind {
	case kindArray:
		if oa.isString != ob.isString {
			return false
		}
		if oa.arr.length != ob.arr.length {
			return false
		}
		for i := 0; i < oa.arr.length; i++ {
			if !h.equalAt(oa.arr.get(i), ob.arr.get(i), depth+1) {
				return false
			}
		}
		return true
	case kindSharedArray:
		if oa.shared.header.Type != ob.shared.header.Type {
			return false
		}
		return oa.shared.header == ob.shared.header
	case kindHash:
		if oa.hsh.count != ob.hsh.count {
			return false
		}
		for _, k := range oa.hsh.orderedKeys() {
			av, _ := oa.hsh.get(k)
			bv, ok := ob.hsh.get(k)
			if !ok || !h.equalAt(av, bv, depth+1) {
				return false
			}
		}
		return true
	case kindHandle:
		if oa.hdl.vtable == nil || oa.hdl.vtable.Compare == nil {
			return oa.hdl == ob.hdl
		}
		return oa.hdl.vtable.Compare(oa.hdl.data, ob.hdl.data)
	}
	return false
}

// structuralHash is the counterpart hash function used for hash-table keys:
// content hash for strings, recursive combination for arrays/hashes, raw
// payload hash for everything else. Must agree with structuralEqual: equal
// values always hash equal.
func (h *Heap) structuralHash(v Value) uint64 {
	return h.hashAt(v, 0)
}

func (h *Heap) hashAt(v Value, depth int) uint64 {
	if !v.IsObjectRef() || depth >= h.cfg.EqualityRecursionCutoff {
		hv := uint64(14695981039346656037)
		hv = (hv ^ uint64(uint32(v.Payload))) * 1099511628211
		if v.IsRef {
			hv ^= 0x9e3779b97f4a7c15
		}
		return hv
	}
	o := h.get(v.Payload)
	if o == nil {
		return 0
	}
	hv := uint64(1469598103934665603)
	switch o.kind {
	case kindArray:
		for i := 0; i < o.arr.length; i++ {
			hv = hv*31 + h.hashAt(o.arr.get(i), depth+1)
		}
	case kindSharedArray:
		hv = hv*31 ^ uint64(uintptrOf(o.shared.header))
	case kindHash:
		var sum uint64
		for _, k := range o.hsh.orderedKeys() {
			val, _ := o.hsh.get(k)
			sum += h.hashAt(k, depth+1) * 1000003 + h.hashAt(val, depth+1)
		}
		hv = hv*31 + sum
	case kindHandle:
		if o.hdl.vtable != nil && o.hdl.vtable.Hash != nil {
			hv = hv*31 + o.hdl.vtable.Hash(o.hdl.data)
		} else {
			hv = hv*31 + uint64(v.Payload)
		}
	}
	return hv
}
