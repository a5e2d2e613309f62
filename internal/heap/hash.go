package heap

import (
	"fixscript/internal/fixerr"

	"golang.org/x/exp/slices"
)

// hashBody is an open-addressed key/value table that also tracks
// insertion order, so `hash_keys`/iteration yield keys in the order they
// were first inserted (spec §4.2 "Hash"). Deleted slots are tombstoned
// and compacted away on resize. hashFn/eqFn are bound once at creation
// (they need heap context to hash/compare string and array contents
// structurally) and reused for every operation so a resize's rehash stays
// consistent with lookups.
type hashBody struct {
	keys  []Value
	vals  []Value
	used  []bool
	tomb  []bool
	count int
	order []int32

	hashFn func(Value) uint64
	eqFn   func(a, b Value) bool
}

func newHashBody(hashFn func(Value) uint64, eqFn func(a, b Value) bool) *hashBody {
	b := &hashBody{hashFn: hashFn, eqFn: eqFn}
	b.resize(8)
	return b
}

func (b *hashBody) resize(n int) {
	old := *b
	b.keys = make([]Value, n)
	b.vals = make([]Value, n)
	b.used = make([]bool, n)
	b.tomb = make([]bool, n)
	b.order = nil
	b.count = 0
	for _, idx := range old.order {
		if int(idx) < len(old.used) && old.used[idx] && !old.tomb[idx] {
			b.insert(old.keys[idx], old.vals[idx])
		}
	}
}

func (b *hashBody) slotFor(key Value) (int, bool) {
	n := len(b.keys)
	if n == 0 {
		return -1, false
	}
	start := int(b.hashFn(key) % uint64(n))
	firstTomb := -1
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if !b.used[idx] {
			if firstTomb >= 0 {
				return firstTomb, false
			}
			return idx, false
		}
		if b.tomb[idx] {
			if firstTomb < 0 {
				firstTomb = idx
			}
			continue
		}
		if b.eqFn(b.keys[idx], key) {
			return idx, true
		}
	}
	if firstTomb >= 0 {
		return firstTomb, false
	}
	return -1, false
}

func (b *hashBody) insert(key, val Value) {
	if float64(b.count+1) > float64(len(b.keys))*0.7 {
		b.resize(len(b.keys) * 2)
	}
	idx, found := b.slotFor(key)
	if idx < 0 {
		b.resize(len(b.keys) * 2)
		idx, found = b.slotFor(key)
	}
	if found {
		b.vals[idx] = val
		return
	}
	b.keys[idx] = key
	b.vals[idx] = val
	b.used[idx] = true
	b.tomb[idx] = false
	b.order = append(b.order, int32(idx))
	b.count++
}

func (b *hashBody) get(key Value) (Value, bool) {
	idx, found := b.slotFor(key)
	if !found {
		return Value{}, false
	}
	return b.vals[idx], true
}

func (b *hashBody) remove(key Value) bool {
	idx, found := b.slotFor(key)
	if !found {
		return false
	}
	b.tomb[idx] = true
	b.count--
	// Prune the tombstoned slot out of the insertion-order list right
	// away, so a hash that sees many set/remove cycles between resizes
	// doesn't carry a growing tail of dead entries for orderedKeys to
	// skip over.
	b.order = slices.DeleteFunc(b.order, func(i int32) bool { return i == int32(idx) })
	return true
}

func (b *hashBody) orderedKeys() []Value {
	out := make([]Value, 0, b.count)
	for _, idx := range b.order {
		if b.used[idx] && !b.tomb[idx] {
			out = append(out, b.keys[idx])
		}
	}
	return out
}

// CreateHash allocates an empty hash object, binding its key hashing and
// equality to this heap's structural rules (spec §4.2: string/array keys
// compare and hash by content, up to EqualityRecursionCutoff).
func (h *Heap) CreateHash() (Value, *fixerr.Error) {
	idx, err := h.alloc()
	if err != nil {
		return Value{}, err
	}
	h.objects[idx] = object{kind: kindHash, hsh: newHashBody(h.structuralHash, h.structuralEqual)}
	return Ref(idx), nil
}

func (h *Heap) hashBodyFor(v Value, op string) (*hashBody, *fixerr.Error) {
	o := h.get(v.Payload)
	if o == nil || o.kind != kindHash {
		return nil, fixerr.Newf(fixerr.InvalidAccess, "%s: not a hash", op)
	}
	return o.hsh, nil
}

func (h *Heap) HashSet(v, key, val Value) *fixerr.Error {
	b, err := h.hashBodyFor(v, "hash_set")
	if err != nil {
		return err
	}
	b.insert(key, val)
	return nil
}

func (h *Heap) HashGet(v, key Value) (Value, bool, *fixerr.Error) {
	b, err := h.hashBodyFor(v, "hash_get")
	if err != nil {
		return Value{}, false, err
	}
	val, ok := b.get(key)
	return val, ok, nil
}

func (h *Heap) HashRemove(v, key Value) (bool, *fixerr.Error) {
	b, err := h.hashBodyFor(v, "hash_remove")
	if err != nil {
		return false, err
	}
	return b.remove(key), nil
}

func (h *Heap) HashKeys(v Value) (Value, *fixerr.Error) {
	b, err := h.hashBodyFor(v, "hash_keys")
	if err != nil {
		return Value{}, err
	}
	out, aerr := h.CreateArray()
	if aerr != nil {
		return out, aerr
	}
	for _, k := range b.orderedKeys() {
		if err := h.Append(out, k); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (h *Heap) HashContains(v, key Value) (bool, *fixerr.Error) {
	_, ok, err := h.HashGet(v, key)
	return ok, err
}

func (h *Heap) HashCount(v Value) (int, *fixerr.Error) {
	b, err := h.hashBodyFor(v, "hash_count")
	if err != nil {
		return 0, err
	}
	return b.count, nil
}
