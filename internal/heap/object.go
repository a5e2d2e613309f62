package heap

import (
	"unsafe"

	"fixscript/internal/fixerr"
	"fixscript/internal/fixlog"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// objKind is the per-slot variant tag from spec §3 ("Heap object (Array)").
// byte_array/short_array/int_array collapse into kindArray, distinguished
// by arrayBody.width; kindSharedArray is its own tag because shared
// buffers never upgrade and never hold references.
type objKind byte

const (
	kindFree objKind = iota
	kindArray
	kindSharedArray
	kindHash
	kindHandle
)

// object is one slot of the heap's object table.
type object struct {
	kind objKind

	// nextFree is not maintained: the allocator finds free slots by
	// scanning the table from Heap.nextIdx (scanFree).
	nextFree int32

	isString    bool
	isStatic    bool
	isConst     bool
	isProtected bool
	hasWeakRefs bool

	// extRefCount is the saturating 24-bit external (host-side) reference
	// count maintained by Ref/Unref.
	extRefCount uint32

	arr    *arrayBody
	shared *sharedArrayBody
	hsh    *hashBody
	hdl    *handleObject
}

const extRefMax = (1 << 24) - 1

func (o *object) length() int {
	switch o.kind {
	case kindArray:
		return o.arr.length
	case kindSharedArray:
		return o.shared.elemCount()
	case kindHash:
		return o.hsh.count
	}
	return 0
}

// Heap is a single-threaded execution context: the object table, the GC
// state, the function table, const-string intern set, and the shared-array
// intern map. It is not safe for concurrent use (spec §5).
type Heap struct {
	cfg Config

	objects  []object
	nextIdx  int32 // first likely-free slot, per spec §4.1
	extRoots map[int32]struct{}

	// reachable/deferred bitsets, sized to len(objects); re-used across
	// collect cycles.
	reachable []bool
	deferred  []int32

	// constStrings interns content-hash -> candidate object indices.
	constStrings map[uint64][]int32

	// sharedIntern de-dupes per-heap views of the same (type,buffer):
	// at most one view object per (heap, *SharedHeader).
	sharedIntern map[*SharedHeader]int32

	// weakRefs maps a target object index to the weak-ref handles pointed
	// at it, so sweep can null them out when the target dies.
	weakRefs map[int32][]int32

	// functions is the process-level... in this embeddable core, a
	// per-heap vector of compiled functions (spec §3 "Function reference").
	functions []*FuncInfo

	// code is the shared bytecode buffer every function's Offset indexes
	// into, capped at maxPCSpace bytes (spec §9 PC-space cap).
	code []byte

	liveBytesSoftCap int64
	liveBytes        int64

	log Logger

	// rootsFunc, when set, supplies the interpreter's live VM roots (stack
	// slots, globals) for the next collection. The heap package has no
	// notion of a call stack itself; the owning interpreter registers this
	// hook once at construction (spec §4.1: GC roots = external refs ∪
	// the running program's reachable values).
	rootsFunc func() []Value
}

// SetRootsProvider installs the callback Collect uses to discover
// interpreter-owned roots beyond the external-reference set.
func (h *Heap) SetRootsProvider(f func() []Value) {
	h.rootsFunc = f
}

// Logger is fixlog.Logger, referenced directly since fixlog has no
// dependency back on heap.
type Logger = fixlog.Logger

// Config mirrors fixconfig.Config's fields the heap actually consumes,
// copied in at construction so the heap package doesn't import the CLI's
// config-file parser.
type Config struct {
	ArraysGrowCutoff        int
	MarkRecursionCutoff     int
	EqualityRecursionCutoff int
	MaxBytecodeSize         int
}

func DefaultConfig() Config {
	return Config{
		ArraysGrowCutoff:        4096,
		MarkRecursionCutoff:     1000,
		EqualityRecursionCutoff: 50,
		MaxBytecodeSize:         maxPCSpace,
	}
}

// NewHeap allocates an empty heap. Object index 0 is reserved (spec §3),
// so the table starts with one dead slot.
func NewHeap(cfg Config) *Heap {
	h := &Heap{
		cfg:              cfg,
		objects:          make([]object, 1, 64),
		nextIdx:          1,
		extRoots:         make(map[int32]struct{}),
		constStrings:     make(map[uint64][]int32),
		sharedIntern:     make(map[*SharedHeader]int32),
		weakRefs:         make(map[int32][]int32),
		liveBytesSoftCap: 1 << 20,
		log:              fixlog.Noop,
	}
	h.objects[0] = object{kind: kindFree}
	return h
}

func (h *Heap) SetLogger(l Logger) {
	if l != nil {
		h.log = l
	}
}

// alloc finds or creates a free slot, triggering a collection and then a
// table growth if none is available, per spec §4.1.
func (h *Heap) alloc() (int32, *fixerr.Error) {
	if idx := h.scanFree(); idx != 0 {
		return idx, nil
	}
	h.Collect()
	if idx := h.scanFree(); idx != 0 {
		return idx, nil
	}
	if err := h.grow(); err != nil {
		return 0, err
	}
	if idx := h.scanFree(); idx != 0 {
		return idx, nil
	}
	return 0, fixerr.New(fixerr.OutOfMemory, "object table exhausted")
}

func (h *Heap) scanFree() int32 {
	n := int32(len(h.objects))
	for i := h.nextIdx; i < n; i++ {
		if h.objects[i].kind == kindFree {
			h.nextIdx = i + 1
			return i
		}
	}
	for i := int32(1); i < h.nextIdx; i++ {
		if h.objects[i].kind == kindFree {
			h.nextIdx = i + 1
			return i
		}
	}
	return 0
}

func (h *Heap) grow() *fixerr.Error {
	old := len(h.objects)
	var grown int
	if old <= h.cfg.ArraysGrowCutoff {
		grown = old * 2
	} else {
		grown = old + h.cfg.ArraysGrowCutoff
	}
	if grown > FuncRefOffset {
		grown = FuncRefOffset
	}
	if grown <= old {
		return fixerr.New(fixerr.OutOfMemory, "object table cannot grow further")
	}
	next := make([]object, grown)
	copy(next, h.objects)
	for i := old; i < grown; i++ {
		next[i] = object{kind: kindFree}
	}
	h.objects = next
	size := uint64(grown) * uint64(unsafe.Sizeof(object{}))
	h.log.Debug("heap object table grown",
		zap.Int("from", old), zap.Int("to", grown),
		zap.String("approx_size", humanize.Bytes(size)))
	return nil
}

func (h *Heap) get(idx int32) *object {
	if idx <= 0 || int(idx) >= len(h.objects) {
		return nil
	}
	return &h.objects[idx]
}

// Ref pins an object as an external root (spec §4.1).
func (h *Heap) Ref(v Value) {
	if !v.IsObjectRef() {
		return
	}
	o := h.get(v.Payload)
	if o == nil || o.kind == kindFree {
		return
	}
	if o.extRefCount == 0 {
		h.extRoots[v.Payload] = struct{}{}
	}
	if o.extRefCount < extRefMax {
		o.extRefCount++
	}
}

// Unref releases one external root reference.
func (h *Heap) Unref(v Value) {
	if !v.IsObjectRef() {
		return
	}
	o := h.get(v.Payload)
	if o == nil || o.kind == kindFree || o.extRefCount == 0 {
		return
	}
	if o.extRefCount == extRefMax {
		return // saturated counters never decrement (pinned for process lifetime)
	}
	o.extRefCount--
	if o.extRefCount == 0 {
		delete(h.extRoots, v.Payload)
	}
}

// SetProtected marks an object advisory-critical; currently only surfaced
// via IsProtected.
func (h *Heap) SetProtected(v Value, protected bool) {
	if o := h.get(v.Payload); o != nil {
		o.isProtected = protected
	}
}

func (h *Heap) IsProtected(v Value) bool {
	o := h.get(v.Payload)
	return o != nil && o.isProtected
}

// Kind-introspection helpers used by script-visible type predicates.

func (h *Heap) IsArray(v Value) bool {
	o := h.get(v.Payload)
	return v.IsObjectRef() && o != nil && (o.kind == kindArray || o.kind == kindSharedArray) && !o.isString
}

func (h *Heap) IsString(v Value) bool {
	o := h.get(v.Payload)
	return v.IsObjectRef() && o != nil && o.kind == kindArray && o.isString
}

func (h *Heap) IsHash(v Value) bool {
	o := h.get(v.Payload)
	return v.IsObjectRef() && o != nil && o.kind == kindHash
}

func (h *Heap) IsHandle(v Value) bool {
	o := h.get(v.Payload)
	return v.IsObjectRef() && o != nil && o.kind == kindHandle
}

func (h *Heap) IsShared(v Value) bool {
	o := h.get(v.Payload)
	return v.IsObjectRef() && o != nil && o.kind == kindSharedArray
}

// Length returns an array/hash/string's logical element count.
func (h *Heap) Length(v Value) (int, *fixerr.Error) {
	o := h.get(v.Payload)
	if o == nil || o.kind == kindFree {
		return 0, fixerr.New(fixerr.InvalidAccess, "not a valid reference")
	}
	return o.length(), nil
}
