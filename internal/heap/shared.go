package heap

import (
	"sync/atomic"

	"fixscript/internal/fixerr"
)

// refcntSaturation is the sentinel above which a shared buffer's refcount
// is pinned for the process lifetime (spec §5).
const refcntSaturation = (1 << 30) - 1

// SharedHeader is the separately-allocated, refcounted backing buffer a
// shared array's per-heap views point at. Multiple heaps (and multiple
// views within one heap, though the intern map prevents that) may hold a
// reference; FreeFunc runs once, when the atomic refcount reaches zero.
type SharedHeader struct {
	Type     int32
	ElemSize int
	Buf      []byte
	refcnt   int32
	FreeFunc func()
}

// NewSharedHeader wraps an existing byte buffer for cross-heap sharing.
// The caller's initial logical reference is represented by the first
// MakeSharedView call, so refcnt starts at zero here.
func NewSharedHeader(typ int32, elemSize int, buf []byte, freeFunc func()) *SharedHeader {
	return &SharedHeader{Type: typ, ElemSize: elemSize, Buf: buf, FreeFunc: freeFunc}
}

func (s *SharedHeader) retain() {
	for {
		cur := atomic.LoadInt32(&s.refcnt)
		if cur >= refcntSaturation {
			return
		}
		if atomic.CompareAndSwapInt32(&s.refcnt, cur, cur+1) {
			return
		}
	}
}

func (s *SharedHeader) release() {
	for {
		cur := atomic.LoadInt32(&s.refcnt)
		if cur >= refcntSaturation {
			return
		}
		next := cur - 1
		if atomic.CompareAndSwapInt32(&s.refcnt, cur, next) {
			if next == 0 && s.FreeFunc != nil {
				s.FreeFunc()
			}
			return
		}
	}
}

type sharedArrayBody struct {
	header *SharedHeader
}

func (s *sharedArrayBody) elemCount() int {
	if s.header.ElemSize == 0 {
		return 0
	}
	return len(s.header.Buf) / s.header.ElemSize
}

func (s *sharedArrayBody) get(i int) Value {
	off := i * s.header.ElemSize
	var payload int32
	switch s.header.ElemSize {
	case 1:
		payload = int32(s.header.Buf[off])
	case 2:
		payload = int32(s.header.Buf[off]) | int32(s.header.Buf[off+1])<<8
	default:
		payload = int32(s.header.Buf[off]) | int32(s.header.Buf[off+1])<<8 |
			int32(s.header.Buf[off+2])<<16 | int32(s.header.Buf[off+3])<<24
	}
	return Value{Payload: payload, IsRef: false}
}

func (s *sharedArrayBody) set(i int, payload int32) {
	off := i * s.header.ElemSize
	switch s.header.ElemSize {
	case 1:
		s.header.Buf[off] = byte(payload)
	case 2:
		s.header.Buf[off] = byte(payload)
		s.header.Buf[off+1] = byte(payload >> 8)
	default:
		s.header.Buf[off] = byte(payload)
		s.header.Buf[off+1] = byte(payload >> 8)
		s.header.Buf[off+2] = byte(payload >> 16)
		s.header.Buf[off+3] = byte(payload >> 24)
	}
}

// MakeSharedView returns this heap's (at-most-one) view object for
// header, creating it and retaining the header's refcount on first use.
func (h *Heap) MakeSharedView(header *SharedHeader) (Value, *fixerr.Error) {
	if idx, ok := h.sharedIntern[header]; ok {
		return Ref(idx), nil
	}
	idx, err := h.alloc()
	if err != nil {
		return Value{}, err
	}
	header.retain()
	h.objects[idx] = object{kind: kindSharedArray, shared: &sharedArrayBody{header: header}}
	h.sharedIntern[header] = idx
	return Ref(idx), nil
}

func (h *Heap) sharedBodyFor(v Value) (*sharedArrayBody, *fixerr.Error) {
	o := h.get(v.Payload)
	if o == nil || o.kind != kindSharedArray {
		return nil, fixerr.New(fixerr.InvalidShared, "not a shared array")
	}
	return o.shared, nil
}

func (h *Heap) copyIntoShared(dst Value, dstOff int, src Value, srcOff, length int) *fixerr.Error {
	db, err := h.sharedBodyFor(dst)
	if err != nil {
		return err
	}
	sb, _, err2 := h.arrayBodyFor(src, "copy")
	if err2 != nil {
		return err2
	}
	if dstOff < 0 || length < 0 || dstOff+length > db.elemCount() {
		return fixerr.New(fixerr.OutOfBounds, "range out of bounds")
	}
	if srcOff < 0 || srcOff+length > sb.length {
		return fixerr.New(fixerr.OutOfBounds, "range out of bounds")
	}
	for i := 0; i < length; i++ {
		v := sb.get(srcOff + i)
		if v.IsRef {
			return fixerr.New(fixerr.InvalidShared, "cannot store a reference in a shared array")
		}
		db.set(dstOff+i, v.Payload)
	}
	return nil
}

func (h *Heap) copyFromShared(dst Value, dstOff int, src Value, srcOff, length int) *fixerr.Error {
	sb, err := h.sharedBodyFor(src)
	if err != nil {
		return err
	}
	db, _, err2 := h.arrayBodyFor(dst, "copy")
	if err2 != nil {
		return err2
	}
	if srcOff < 0 || length < 0 || srcOff+length > sb.elemCount() {
		return fixerr.New(fixerr.OutOfBounds, "range out of bounds")
	}
	if dstOff < 0 || dstOff+length > db.length {
		return fixerr.New(fixerr.OutOfBounds, "range out of bounds")
	}
	for i := 0; i < length; i++ {
		v := sb.get(srcOff + i)
		need := fitsWidth(v.Payload)
		if need > db.width {
			db.upgrade(need)
		}
		db.rawSet(dstOff+i, v.Payload, false)
	}
	return nil
}

// LockArray returns a contiguous byte view of v at the requested element
// size (spec §4.2). For a shared array whose element size matches, and
// for a 1-byte-wide array locked at elemSize 1, the returned slice aliases
// the backing store directly; in every other case (including 2- and
// 4-byte-wide arrays at their own width) it is an external copy that
// UnlockArray writes back.
type LockedBuffer struct {
	value    Value
	off      int
	length   int
	elemSize int
	readOnly bool
	direct   []byte // non-nil when aliasing the backing store directly
	copy     []byte // non-nil when an external copy was materialized
}

type AccessMode byte

const (
	ReadOnly AccessMode = iota
	ReadWrite
)

func (h *Heap) LockArray(v Value, off, length, elemSize int, access AccessMode) (*LockedBuffer, *fixerr.Error) {
	if h.IsShared(v) {
		sb, err := h.sharedBodyFor(v)
		if err != nil {
			return nil, err
		}
		if off < 0 || length < 0 || off+length > sb.elemCount() {
			return nil, fixerr.New(fixerr.OutOfBounds, "range out of bounds")
		}
		if sb.header.ElemSize == elemSize {
			start := off * elemSize
			return &LockedBuffer{value: v, off: off, length: length, elemSize: elemSize,
				readOnly: access == ReadOnly, direct: sb.header.Buf[start : start+length*elemSize]}, nil
		}
		return h.materializeLock(v, off, length, elemSize, access)
	}
	b, _, err := h.arrayBodyFor(v, "lock_array")
	if err != nil {
		return nil, err
	}
	if off < 0 || length < 0 || off+length > b.length {
		return nil, fixerr.New(fixerr.OutOfBounds, "range out of bounds")
	}
	if int(b.width) == elemSize {
		start := off * elemSize
		lb := &LockedBuffer{value: v, off: off, length: length, elemSize: elemSize,
			readOnly: access == ReadOnly}
		switch elemSize {
		case 1:
			lb.direct = b.data8[start : start+length]
		case 2:
			lb.copy = byteSliceOf16(b.data16[off : off+length])
		default:
			lb.copy = byteSliceOf32(b.data32[off : off+length])
		}
		return lb, nil
	}
	return h.materializeLock(v, off, length, elemSize, access)
}

func (h *Heap) materializeLock(v Value, off, length, elemSize int, access AccessMode) (*LockedBuffer, *fixerr.Error) {
	buf := make([]byte, length*elemSize)
	for i := 0; i < length; i++ {
		var val Value
		var err *fixerr.Error
		val, err = h.Get(v, off+i)
		if err != nil {
			if sb, serr := h.sharedBodyFor(v); serr == nil {
				val = sb.get(off + i)
			} else {
				return nil, err
			}
		}
		if !fitsElemSize(val.Payload, elemSize) {
			return nil, invalidSizeErr(elemSize)
		}
		putLE(buf[i*elemSize:(i+1)*elemSize], val.Payload, elemSize)
	}
	return &LockedBuffer{value: v, off: off, length: length, elemSize: elemSize,
		readOnly: access == ReadOnly, copy: buf}, nil
}

func fitsElemSize(payload int32, elemSize int) bool {
	switch elemSize {
	case 1:
		return payload >= 0 && payload <= 0xFF
	case 2:
		return payload >= 0 && payload <= 0xFFFF
	default:
		return true
	}
}

func invalidSizeErr(elemSize int) *fixerr.Error {
	if elemSize == 1 {
		return fixerr.New(fixerr.InvalidByteArray, "value out of byte range")
	}
	return fixerr.New(fixerr.InvalidShortArray, "value out of short range")
}

func putLE(b []byte, v int32, elemSize int) {
	for i := 0; i < elemSize && i < 4; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getLE(b []byte) int32 {
	var v int32
	for i := 0; i < len(b) && i < 4; i++ {
		v |= int32(b[i]) << (8 * uint(i))
	}
	return v
}

// Bytes exposes the locked region for direct reads/writes by the caller
// (e.g. a native function copying host memory in/out).
func (lb *LockedBuffer) Bytes() []byte {
	if lb.direct != nil {
		return lb.direct
	}
	return lb.copy
}

// UnlockArray writes the (possibly copied) buffer back when access was not
// read-only. Must be called on every path, including error, per §5.
func (h *Heap) UnlockArray(lb *LockedBuffer) *fixerr.Error {
	if lb.direct != nil || lb.readOnly {
		return nil
	}
	for i := 0; i < lb.length; i++ {
		raw := lb.copy[i*lb.elemSize : (i+1)*lb.elemSize]
		payload := getLE(raw)
		if h.IsShared(lb.value) {
			sb, err := h.sharedBodyFor(lb.value)
			if err != nil {
				return err
			}
			sb.set(lb.off+i, payload)
			continue
		}
		if err := h.Set(lb.value, lb.off+i, Value{Payload: payload, IsRef: false}); err != nil {
			return err
		}
	}
	return nil
}

func byteSliceOf16(s []uint16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func byteSliceOf32(s []int32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		out[i*4] = byte(v)
		out[i*4+1] = byte(v >> 8)
		out[i*4+2] = byte(v >> 16)
		out[i*4+3] = byte(v >> 24)
	}
	return out
}
