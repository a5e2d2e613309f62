package heap

import "fixscript/internal/fixerr"

// CreateString allocates a new array object holding s's Unicode code
// points, width-packed to the smallest size (1/2/4 bytes) that fits the
// widest code point present, and marked isString so type predicates and
// structural equality treat it as text rather than a plain array.
func (h *Heap) CreateString(s string) (Value, *fixerr.Error) {
	runes := []rune(s)
	idx, err := h.alloc()
	if err != nil {
		return Value{}, err
	}
	width := byte(1)
	for _, r := range runes {
		if w := fitsWidth(int32(r)); w > width {
			width = w
		}
	}
	body := &arrayBody{width: width, length: len(runes)}
	body.ensureCapacity(len(runes), false)
	for i, r := range runes {
		body.rawSet(i, int32(r), false)
	}
	h.objects[idx] = object{kind: kindArray, arr: body, isString: true}
	return Ref(idx), nil
}

// CreateConstString is CreateString plus per-heap interning: two live
// const strings with identical content share one object, and the shared
// object is marked isConst (writes to it fail with const_write).
func (h *Heap) CreateConstString(s string) (Value, *fixerr.Error) {
	key := fnv64(s)
	for _, idx := range h.constStrings[key] {
		if o := h.get(idx); o != nil && o.kind == kindArray && o.isString && o.isConst {
			if content, _ := h.StringContent(Ref(idx)); content == s {
				return Ref(idx), nil
			}
		}
	}
	v, err := h.CreateString(s)
	if err != nil {
		return v, err
	}
	h.get(v.Payload).isConst = true
	h.constStrings[key] = append(h.constStrings[key], v.Payload)
	return v, nil
}

func (h *Heap) forgetConstString(idx int32) {
	for key, list := range h.constStrings {
		for i, candidate := range list {
			if candidate == idx {
				h.constStrings[key] = append(list[:i], list[i+1:]...)
				if len(h.constStrings[key]) == 0 {
					delete(h.constStrings, key)
				}
				return
			}
		}
	}
}

func fnv64(s string) uint64 {
	h := uint64(14695981039346656037)
	for i := 0; i < len(s); i++ {
		h = (h ^ uint64(s[i])) * 1099511628211
	}
	return h
}

// StringContent decodes a string object back to a Go string. v must
// satisfy IsString.
func (h *Heap) StringContent(v Value) (string, *fixerr.Error) {
	b, _, err := h.arrayBodyFor(v, "tostring")
	if err != nil {
		return "", err
	}
	runes := make([]rune, b.length)
	for i := 0; i < b.length; i++ {
		runes[i] = rune(b.get(i).Payload)
	}
	return string(runes), nil
}
