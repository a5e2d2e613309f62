package heap

import "fixscript/internal/fixerr"

// Clone copies v, and everything it transitively references, from src
// into dst, returning the equivalent value in dst's object table. Shared
// identity is preserved within one Clone call (a DAG copied twice yields
// one shared structure in dst, not two), via the visited map. Every object
// already created in dst is reported as a root while the copy runs, so a
// collection triggered by a later allocation cannot reclaim it. The walk
// is recursive, one Go call per nested object, with no depth cutoff.
func Clone(dst, src *Heap, v Value) (Value, *fixerr.Error) {
	if !v.IsObjectRef() {
		return v, nil
	}
	visited := make(map[int32]Value)
	prev := dst.rootsFunc
	dst.rootsFunc = func() []Value {
		var roots []Value
		if prev != nil {
			roots = append(roots, prev()...)
		}
		for _, nv := range visited {
			roots = append(roots, nv)
		}
		return roots
	}
	defer func() { dst.rootsFunc = prev }()
	return cloneOne(dst, src, v, visited)
}

func cloneOne(dst, src *Heap, v Value, visited map[int32]Value) (Value, *fixerr.Error) {
	if existing, ok := visited[v.Payload]; ok {
		return existing, nil
	}
	o := src.get(v.Payload)
	if o == nil || o.kind == kindFree {
		return Value{}, fixerr.New(fixerr.InvalidAccess, "clone: dangling reference")
	}

	switch o.kind {
	case kindArray:
		if o.isString {
			s, err := src.StringContent(v)
			if err != nil {
				return Value{}, err
			}
			nv, err := dst.CreateString(s)
			if err != nil {
				return Value{}, err
			}
			visited[v.Payload] = nv
			return nv, nil
		}
		nv, err := dst.CreateArray()
		if err != nil {
			return Value{}, err
		}
		visited[v.Payload] = nv
		for i := 0; i < o.arr.length; i++ {
			el := o.arr.get(i)
			var clonedEl Value
			if el.IsObjectRef() {
				clonedEl, err = cloneOne(dst, src, el, visited)
				if err != nil {
					return Value{}, err
				}
			} else {
				clonedEl = el
			}
			if err := dst.Append(nv, clonedEl); err != nil {
				return Value{}, err
			}
		}
		return nv, nil

	case kindHash:
		nv, err := dst.CreateHash()
		if err != nil {
			return Value{}, err
		}
		visited[v.Payload] = nv
		for _, k := range o.hsh.orderedKeys() {
			val, _ := o.hsh.get(k)
			ck, err := cloneValueMaybe(dst, src, k, visited)
			if err != nil {
				return Value{}, err
			}
			cv, err := cloneValueMaybe(dst, src, val, visited)
			if err != nil {
				return Value{}, err
			}
			if err := dst.HashSet(nv, ck, cv); err != nil {
				return Value{}, err
			}
		}
		return nv, nil

	case kindSharedArray:
		nv, err := dst.MakeSharedView(o.shared.header)
		if err != nil {
			return Value{}, err
		}
		visited[v.Payload] = nv
		return nv, nil

	case kindHandle:
		if o.hdl.vtable == nil || o.hdl.vtable.Copy == nil {
			return Value{}, fixerr.New(fixerr.InvalidAccess, "clone: handle type is not copyable across heaps")
		}
		data := o.hdl.vtable.Copy(o.hdl.data)
		nv, err := dst.CreateHandle(o.hdl.typ, data, o.hdl.vtable)
		if err != nil {
			return Value{}, err
		}
		visited[v.Payload] = nv
		if o.hdl.vtable.CopyRefs != nil {
			remap := func(old Value) Value {
				if !old.IsObjectRef() {
					return old
				}
				r, rerr := cloneOne(dst, src, old, visited)
				if rerr != nil {
					return Null
				}
				return r
			}
			rewritten, ok := dst.get(nv.Payload), true
			_ = ok
			rewritten.hdl.data = o.hdl.vtable.CopyRefs(data, remap)
		}
		return nv, nil
	}
	return Value{}, fixerr.New(fixerr.InvalidAccess, "clone: unrecognized object kind")
}

func cloneValueMaybe(dst, src *Heap, v Value, visited map[int32]Value) (Value, *fixerr.Error) {
	if !v.IsObjectRef() {
		return v, nil
	}
	return cloneOne(dst, src, v, visited)
}
