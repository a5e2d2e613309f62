package heap

import "fixscript/internal/fixerr"

// arrayBody is the variable-width payload of a byte_array/short_array/
// int_array object (spec §3/§4.2). width is 1, 2, or 4 bytes per element;
// refBits marks which logical slots hold a reference rather than a plain
// integer, independent of width (the "slot-is-reference" bit, shared
// regardless of element width per the design notes in spec §9).
type arrayBody struct {
	width   byte
	length  int
	data8   []uint8
	data16  []uint16
	data32  []int32
	refBits []uint64
}

func newArrayBody() *arrayBody {
	return &arrayBody{width: 1}
}

func fitsWidth(payload int32) byte {
	switch {
	case payload >= 0 && payload <= 0xFF:
		return 1
	case payload >= 0 && payload <= 0xFFFF:
		return 2
	default:
		return 4
	}
}

func (b *arrayBody) capacity() int {
	switch b.width {
	case 1:
		return len(b.data8)
	case 2:
		return len(b.data16)
	default:
		return len(b.data32)
	}
}

func (b *arrayBody) isRef(i int) bool {
	if i/64 >= len(b.refBits) {
		return false
	}
	return b.refBits[i/64]>>(uint(i)%64)&1 != 0
}

func (b *arrayBody) setRef(i int, ref bool) {
	word := i / 64
	for word >= len(b.refBits) {
		b.refBits = append(b.refBits, 0)
	}
	mask := uint64(1) << (uint(i) % 64)
	if ref {
		b.refBits[word] |= mask
	} else {
		b.refBits[word] &^= mask
	}
}

func (b *arrayBody) get(i int) Value {
	var payload int32
	switch b.width {
	case 1:
		payload = int32(b.data8[i])
	case 2:
		payload = int32(b.data16[i])
	default:
		payload = b.data32[i]
	}
	return Value{Payload: payload, IsRef: b.isRef(i)}
}

// rawSet stores payload/isRef at i without any width check; callers must
// have already ensured i < capacity and the width fits payload.
func (b *arrayBody) rawSet(i int, payload int32, isRef bool) {
	switch b.width {
	case 1:
		b.data8[i] = uint8(payload)
	case 2:
		b.data16[i] = uint16(payload)
	default:
		b.data32[i] = payload
	}
	b.setRef(i, isRef)
}

// upgrade widens the backing store in place, preserving every previously
// stored value bit-exactly (spec invariant #5).
func (b *arrayBody) upgrade(newWidth byte) {
	if newWidth <= b.width {
		return
	}
	cap := b.capacity()
	switch newWidth {
	case 2:
		next := make([]uint16, cap)
		for i := 0; i < b.length; i++ {
			next[i] = uint16(b.get(i).Payload)
		}
		b.data8 = nil
		b.data16 = next
	case 4:
		next := make([]int32, cap)
		for i := 0; i < b.length; i++ {
			next[i] = b.get(i).Payload
		}
		b.data8 = nil
		b.data16 = nil
		b.data32 = next
	}
	b.width = newWidth
}

func (b *arrayBody) ensureCapacity(n int, growHint bool) {
	cap := b.capacity()
	if n <= cap {
		return
	}
	newCap := n
	if growHint {
		newCap = cap
		if newCap == 0 {
			newCap = 4
		}
		for newCap < n {
			newCap *= 2
		}
	}
	switch b.width {
	case 1:
		next := make([]uint8, newCap)
		copy(next, b.data8)
		b.data8 = next
	case 2:
		next := make([]uint16, newCap)
		copy(next, b.data16)
		b.data16 = next
	default:
		next := make([]int32, newCap)
		copy(next, b.data32)
		b.data32 = next
	}
}

// CreateArray allocates an empty, growable int_array-width-1 object.
func (h *Heap) CreateArray() (Value, *fixerr.Error) {
	idx, err := h.alloc()
	if err != nil {
		return Value{}, err
	}
	h.objects[idx] = object{kind: kindArray, arr: newArrayBody()}
	return Ref(idx), nil
}

// CreateArrayOfLength allocates an array pre-sized to n slots of integer
// zero (spec invariant #4).
func (h *Heap) CreateArrayOfLength(n int) (Value, *fixerr.Error) {
	v, err := h.CreateArray()
	if err != nil {
		return v, err
	}
	if err := h.SetArrayLength(v, n); err != nil {
		return v, err
	}
	return v, nil
}

func (h *Heap) arrayBodyFor(v Value, op string) (*arrayBody, *object, *fixerr.Error) {
	o := h.get(v.Payload)
	if o == nil || o.kind != kindArray {
		return nil, nil, fixerr.Newf(fixerr.InvalidAccess, "%s: not an array", op)
	}
	return o.arr, o, nil
}

// Get reads element i.
func (h *Heap) Get(v Value, i int) (Value, *fixerr.Error) {
	b, _, err := h.arrayBodyFor(v, "get")
	if err != nil {
		return Value{}, err
	}
	if i < 0 || i >= b.length {
		return Value{}, fixerr.New(fixerr.OutOfBounds, "array index out of bounds")
	}
	return b.get(i), nil
}

// Set stores value at i, upgrading the backing width if needed.
func (h *Heap) Set(v Value, i int, value Value) *fixerr.Error {
	b, o, err := h.arrayBodyFor(v, "set")
	if err != nil {
		return err
	}
	if o.isConst {
		return fixerr.New(fixerr.ConstWrite, "cannot write to a const string")
	}
	if i < 0 || i >= b.length {
		return fixerr.New(fixerr.OutOfBounds, "array index out of bounds")
	}
	need := fitsWidth(value.Payload)
	if need > b.width {
		b.upgrade(need)
	}
	b.rawSet(i, value.Payload, value.IsRef)
	return nil
}

// Append doubles capacity on overflow and fails above 2^30 elements.
func (h *Heap) Append(v Value, value Value) *fixerr.Error {
	b, o, err := h.arrayBodyFor(v, "append")
	if err != nil {
		return err
	}
	if o.isConst {
		return fixerr.New(fixerr.ConstWrite, "cannot append to a const string")
	}
	if b.length >= 1<<30 {
		return fixerr.New(fixerr.OutOfMemory, "array length would exceed 2^30")
	}
	need := fitsWidth(value.Payload)
	if need > b.width {
		b.upgrade(need)
	}
	b.ensureCapacity(b.length+1, true)
	b.rawSet(b.length, value.Payload, value.IsRef)
	b.length++
	return nil
}

// SetArrayLength grows or shrinks the logical length; new slots read as
// integer zero (invariant #4).
func (h *Heap) SetArrayLength(v Value, n int) *fixerr.Error {
	b, o, err := h.arrayBodyFor(v, "set_array_length")
	if err != nil {
		return err
	}
	if o.isConst {
		return fixerr.New(fixerr.ConstWrite, "cannot resize a const string")
	}
	if n < 0 {
		return fixerr.New(fixerr.OutOfBounds, "negative array length")
	}
	if n > b.length {
		b.ensureCapacity(n, false)
		for i := b.length; i < n; i++ {
			b.rawSet(i, 0, false)
		}
	}
	b.length = n
	return nil
}

// GetRange copies [off, off+length) into a freshly allocated array.
func (h *Heap) GetRange(v Value, off, length int) (Value, *fixerr.Error) {
	b, _, err := h.arrayBodyFor(v, "get_range")
	if err != nil {
		return Value{}, err
	}
	if off < 0 || length < 0 || off+length > b.length {
		return Value{}, fixerr.New(fixerr.OutOfBounds, "range out of bounds")
	}
	out, aerr := h.CreateArray()
	if aerr != nil {
		return out, aerr
	}
	for i := 0; i < length; i++ {
		if err := h.Append(out, b.get(off+i)); err != nil {
			return out, err
		}
	}
	return out, nil
}

// SetRange overwrites [off, off+length) of dst from [srcOff, ...) of src,
// widening dst as needed. Uses direct element copies; overlap safety is
// automatic because src and dst element reads/writes are value copies.
func (h *Heap) SetRange(dst Value, off int, src Value, srcOff, length int) *fixerr.Error {
	db, dstObj, err := h.arrayBodyFor(dst, "set_range")
	if err != nil {
		return err
	}
	if dstObj.isConst {
		return fixerr.New(fixerr.ConstWrite, "cannot write to a const string")
	}
	sb, _, err := h.arrayBodyFor(src, "set_range")
	if err != nil {
		return err
	}
	if off < 0 || length < 0 || off+length > db.length {
		return fixerr.New(fixerr.OutOfBounds, "range out of bounds")
	}
	if srcOff < 0 || srcOff+length > sb.length {
		return fixerr.New(fixerr.OutOfBounds, "range out of bounds")
	}
	vals := make([]Value, length)
	for i := 0; i < length; i++ {
		vals[i] = sb.get(srcOff + i)
	}
	for i, val := range vals {
		need := fitsWidth(val.Payload)
		if need > db.width {
			db.upgrade(need)
		}
		db.rawSet(off+i, val.Payload, val.IsRef)
	}
	return nil
}

// Copy implements the `copy` builtin across any combination of shared and
// non-shared arrays: a reference written into a shared destination fails
// with invalid_shared rather than silently dropping the flag.
func (h *Heap) Copy(dst Value, dstOff int, src Value, srcOff, length int) *fixerr.Error {
	if h.IsShared(dst) {
		sb, _, err := h.arrayBodyFor(src, "copy")
		if err == nil {
			for i := 0; i < length; i++ {
				if sb.isRef(srcOff + i) {
					return fixerr.New(fixerr.InvalidShared, "cannot store a reference in a shared array")
				}
			}
		}
		return h.copyIntoShared(dst, dstOff, src, srcOff, length)
	}
	if h.IsShared(src) {
		return h.copyFromShared(dst, dstOff, src, srcOff, length)
	}
	return h.SetRange(dst, dstOff, src, srcOff, length)
}

// AppendCodepoint appends code point cp to array v as a plain integer
// element, upgrading the array's width as needed. It leaves the array's
// string flag unchanged.
func (h *Heap) AppendCodepoint(v Value, cp rune) *fixerr.Error {
	return h.Append(v, Value{Payload: int32(cp), IsRef: false})
}
