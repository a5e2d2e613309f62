package heap

import (
	"encoding/binary"
	"math"

	"fixscript/internal/fixerr"
)

// Wire tags for the flat TLV encoding produced by Serialize/consumed by
// Deserialize. Handles and shared-array views never cross the wire: a
// handle is host-process memory and a shared view's backing buffer has no
// portable representation, so both encode as an error instead of silently
// losing data.
const (
	tagInt byte = iota
	tagFloat
	tagNull
	tagString
	tagArray
	tagHash
	tagFuncRef
)

// Serialize flattens v into a self-delimiting byte stream (spec §4.3).
// Cyclic structures are rejected: Serialize walks a path set and returns
// an unserializable_ref error if it revisits an object still on the path.
func (h *Heap) Serialize(v Value) ([]byte, *fixerr.Error) {
	var buf []byte
	if err := h.appendValue(&buf, v, map[int32]bool{}); err != nil {
		return nil, err
	}
	return buf, nil
}

func appendVarint(buf *[]byte, n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	w := binary.PutUvarint(tmp[:], n)
	*buf = append(*buf, tmp[:w]...)
}

func (h *Heap) appendValue(buf *[]byte, v Value, path map[int32]bool) *fixerr.Error {
	switch {
	case v.IsInt():
		*buf = append(*buf, tagInt)
		appendVarint(buf, uint64(uint32(v.Payload)))
		return nil
	case v.IsFuncRef():
		*buf = append(*buf, tagFuncRef)
		appendVarint(buf, uint64(uint32(v.FuncID())))
		return nil
	case v.IsFloat():
		*buf = append(*buf, tagFloat)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], CanonicalFloatBits(uint32(v.Payload)))
		*buf = append(*buf, tmp[:]...)
		return nil
	case !v.IsObjectRef():
		*buf = append(*buf, tagNull)
		return nil
	}

	idx := v.Payload
	if path[idx] {
		return fixerr.New(fixerr.UnserializableRef, "cyclic structure cannot be serialized")
	}
	path[idx] = true
	defer delete(path, idx)

	o := h.get(idx)
	if o == nil {
		return fixerr.New(fixerr.UnserializableRef, "dangling reference")
	}
	switch o.kind {
	case kindArray:
		if o.isString {
			s, err := h.StringContent(v)
			if err != nil {
				return err
			}
			*buf = append(*buf, tagString)
			appendVarint(buf, uint64(len(s)))
			*buf = append(*buf, s...)
			return nil
		}
		*buf = append(*buf, tagArray)
		appendVarint(buf, uint64(o.arr.length))
		for i := 0; i < o.arr.length; i++ {
			if err := h.appendValue(buf, o.arr.get(i), path); err != nil {
				return err
			}
		}
		return nil
	case kindHash:
		keys := o.hsh.orderedKeys()
		*buf = append(*buf, tagHash)
		appendVarint(buf, uint64(len(keys)))
		for _, k := range keys {
			val, _ := o.hsh.get(k)
			if err := h.appendValue(buf, k, path); err != nil {
				return err
			}
			if err := h.appendValue(buf, val, path); err != nil {
				return err
			}
		}
		return nil
	}
	return fixerr.New(fixerr.UnserializableRef, "value is not serializable")
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) readByte() (byte, *fixerr.Error) {
	if r.pos >= len(r.buf) {
		return 0, fixerr.New(fixerr.BadFormat, "truncated data")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readVarint() (uint64, *fixerr.Error) {
	n, w := binary.Uvarint(r.buf[r.pos:])
	if w <= 0 {
		return 0, fixerr.New(fixerr.BadFormat, "truncated data")
	}
	r.pos += w
	return n, nil
}

func (r *byteReader) readBytes(n int) ([]byte, *fixerr.Error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fixerr.New(fixerr.BadFormat, "truncated data")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// Deserialize parses a Serialize-produced byte stream back into fresh
// objects allocated in h. depth bounds structural nesting to guard
// against maliciously deep input.
func (h *Heap) Deserialize(data []byte) (Value, *fixerr.Error) {
	r := &byteReader{buf: data}
	v, err := h.readValue(r, 0)
	if err != nil {
		return Value{}, err
	}
	if r.pos != len(r.buf) {
		return Value{}, fixerr.New(fixerr.BadFormat, "trailing data")
	}
	return v, nil
}

const maxSerializeDepth = 1000

func (h *Heap) readValue(r *byteReader, depth int) (Value, *fixerr.Error) {
	if depth > maxSerializeDepth {
		return Value{}, fixerr.New(fixerr.BadFormat, "structure too deeply nested")
	}
	tag, err := r.readByte()
	if err != nil {
		return Value{}, err
	}
	switch tag {
	case tagInt:
		n, err := r.readVarint()
		if err != nil {
			return Value{}, err
		}
		return Int(int32(uint32(n))), nil
	case tagFuncRef:
		n, err := r.readVarint()
		if err != nil {
			return Value{}, err
		}
		return FuncRef(int32(uint32(n))), nil
	case tagFloat:
		b, err := r.readBytes(4)
		if err != nil {
			return Value{}, err
		}
		return FloatValue(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case tagNull:
		return Null, nil
	case tagString:
		n, err := r.readVarint()
		if err != nil {
			return Value{}, err
		}
		b, err := r.readBytes(int(n))
		if err != nil {
			return Value{}, err
		}
		return h.CreateString(string(b))
	case tagArray:
		n, err := r.readVarint()
		if err != nil {
			return Value{}, err
		}
		arr, aerr := h.CreateArray()
		if aerr != nil {
			return arr, aerr
		}
		for i := uint64(0); i < n; i++ {
			el, err := h.readValue(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			if err := h.Append(arr, el); err != nil {
				return Value{}, err
			}
		}
		return arr, nil
	case tagHash:
		n, err := r.readVarint()
		if err != nil {
			return Value{}, err
		}
		hv, herr := h.CreateHash()
		if herr != nil {
			return hv, herr
		}
		for i := uint64(0); i < n; i++ {
			k, err := h.readValue(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			val, err := h.readValue(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			if err := h.HashSet(hv, k, val); err != nil {
				return Value{}, err
			}
		}
		return hv, nil
	}
	return Value{}, fixerr.New(fixerr.BadFormat, "unknown tag in serialized data")
}
