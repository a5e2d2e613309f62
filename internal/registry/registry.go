package registry

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"fixscript/internal/compiler"
	"fixscript/internal/fixerr"
	"fixscript/internal/heap"
)

// LoadScriptFunc fetches the source text for a script by name, the way an
// embedder's file-system or database-backed loader would. Invoked from
// Import and Reload, and must be idempotent for the same name (singleflight only
// collapses concurrent calls; it does not memoize across them).
type LoadScriptFunc func(name string) (string, error)

// Registry is the per-heap table of named, compiled scripts: the Go
// analogue of the module loader's cache, generalized from file paths to
// embedder-chosen names and from "load once" to "load, then reload in
// place while keeping old function ids valid".
type Registry struct {
	h        *heap.Heap
	load     LoadScriptFunc
	maxDepth int

	mu      sync.Mutex
	scripts map[string]*Script
	loading map[string]int // name -> current import-chain depth

	group singleflight.Group

	cache *Cache
}

// New builds a registry bound to h. maxDepth bounds recursive import/use
// resolution (fixconfig.Config.ImportCycleDepth); load is consulted
// whenever a name isn't already resolved.
func New(h *heap.Heap, load LoadScriptFunc, maxDepth int) *Registry {
	return &Registry{
		h:        h,
		load:     load,
		maxDepth: maxDepth,
		scripts:  make(map[string]*Script),
		loading:  make(map[string]int),
	}
}

// SetCache attaches an optional bytecode cache; subsequent Import calls
// fetch the source through the load callback and then consult the cache,
// by content hash, before compiling.
func (r *Registry) SetCache(c *Cache) { r.cache = c }

// Get returns an already-loaded script by name, without triggering a load.
func (r *Registry) Get(name string) (*Script, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scripts[name]
	return s, ok
}

// Import resolves name to a compiled Script, loading and compiling it on
// first use (or returning the cached one on every subsequent call). Safe
// to call concurrently: overlapping imports of the same name collapse
// into a single load+compile via singleflight.
func (r *Registry) Import(name string) (*Script, error) {
	if s, ok := r.Get(name); ok {
		return s, nil
	}
	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		return r.resolve(name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Script), nil
}

func (r *Registry) resolve(name string) (*Script, error) {
	if s, ok := r.Get(name); ok {
		return s, nil
	}

	r.mu.Lock()
	depth := r.loading[name]
	if depth > 0 {
		r.mu.Unlock()
		return nil, fixerr.Newf(fixerr.BadFormat, "circular import: %s", name)
	}
	if depth >= r.maxDepth {
		r.mu.Unlock()
		return nil, fixerr.New(fixerr.RecursionLimit, "import chain exceeded the maximum depth")
	}
	r.loading[name] = depth + 1
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.loading, name)
		r.mu.Unlock()
	}()

	var res *compiler.Result
	var err error
	if r.cache != nil {
		res, err = r.cache.Load(name, r.load)
	} else {
		var src string
		src, err = r.load(name)
		if err == nil {
			res, err = compiler.Compile(src)
		}
	}
	if err != nil {
		return nil, fixerr.Wrap(fixerr.BadFormat, err, "loading script "+name)
	}

	script, cerr := r.linkFresh(name, res)
	if cerr != nil {
		return nil, cerr
	}

	r.mu.Lock()
	r.scripts[name] = script
	r.mu.Unlock()
	return script, nil
}

// linkFresh appends every function of res as a brand new heap function
// (the Import path: nothing to reuse yet for this name).
func (r *Registry) linkFresh(name string, res *compiler.Result) (*Script, error) {
	baseID := r.h.FunctionCount()
	ids := make([]int32, len(res.Functions))
	for i := range ids {
		ids[i] = baseID + int32(i)
	}
	functions := make(map[string]int32, len(res.Functions))
	for i, f := range res.Functions {
		code := compiler.RebaseCallTargetsWithMap(f.Code, func(local int32) int32 { return ids[local] })
		off, cerr := r.h.AppendCode(code)
		if cerr != nil {
			return nil, cerr
		}
		fi := &heap.FuncInfo{Name: f.Name, Arity: f.Arity, Offset: off, MaxStack: f.MaxStack, Lines: f.Lines}
		r.h.AddFunction(fi)
		functions[funcKey(f.Name, f.Arity)] = ids[i]
	}
	return &Script{Name: name, Functions: functions, ids: ids}, nil
}

// Reload recompiles name's source and replaces its Script entry. Every
// function whose "name#arity" key matches an existing function of the old
// script keeps its heap-wide id — its FuncInfo is overwritten in place, so
// any function-reference value captured before the reload now dispatches
// to the new body (scenario: a long-lived funcref surviving a reload).
// Functions only in the new version get fresh ids; functions only in the
// old version keep their old id, untouched, reachable only through
// whatever already held a reference to them. The superseded Script is kept
// registered under a synthetic name so it (and those orphaned functions)
// stay inspectable.
func (r *Registry) Reload(name string) (*Script, error) {
	r.mu.Lock()
	old, hadOld := r.scripts[name]
	r.mu.Unlock()

	var src string
	var err error
	if r.cache != nil {
		r.cache.Invalidate(name)
	}
	src, err = r.load(name)
	if err != nil {
		return nil, fixerr.Wrap(fixerr.BadFormat, err, "reloading script "+name)
	}
	res, err := compiler.Compile(src)
	if err != nil {
		return nil, fixerr.Wrap(fixerr.BadFormat, err, "compiling script "+name)
	}

	var script *Script
	var cerr *fixerr.Error
	if hadOld {
		script, cerr = r.linkReload(name, res, old)
	} else {
		script, cerr = r.linkFresh(name, res)
	}
	if cerr != nil {
		return nil, cerr
	}

	r.mu.Lock()
	if hadOld {
		r.scripts[syntheticName(name)] = old
	}
	r.scripts[name] = script
	r.mu.Unlock()
	return script, nil
}

// linkReload resolves every new function's heap id in one pass up front
// (reusing the old id when the name#arity matches, otherwise reserving a
// fresh one with a placeholder FuncInfo), so the second pass can rebase
// CALL_DIRECT/CONST_FUNCREF operands with a fully-known id table even for
// forward references within the reloaded script.
func (r *Registry) linkReload(name string, res *compiler.Result, old *Script) (*Script, error) {
	ids := make([]int32, len(res.Functions))
	for i, f := range res.Functions {
		key := funcKey(f.Name, f.Arity)
		if id, ok := old.Functions[key]; ok {
			ids[i] = id
			continue
		}
		ids[i] = r.h.AddFunction(&heap.FuncInfo{Name: f.Name, Arity: f.Arity})
	}

	functions := make(map[string]int32, len(res.Functions))
	for i, f := range res.Functions {
		code := compiler.RebaseCallTargetsWithMap(f.Code, func(local int32) int32 { return ids[local] })
		off, cerr := r.h.AppendCode(code)
		if cerr != nil {
			return nil, cerr
		}
		fi := r.h.Function(ids[i])
		fi.Name = f.Name
		fi.Arity = f.Arity
		fi.Offset = off
		fi.MaxStack = f.MaxStack
		fi.Lines = f.Lines
		functions[funcKey(f.Name, f.Arity)] = ids[i]
	}
	return &Script{Name: name, Functions: functions, ids: ids}, nil
}

// ImportSource compiles and registers src under name directly, bypassing
// the load callback and cache: the source for script_compile's "fresh
// script" mode already lives in a script-supplied string (built, say, by
// tokens_to_source) rather than behind a name a loader can resolve.
func (r *Registry) ImportSource(name, src string) (*Script, error) {
	res, err := compiler.Compile(src)
	if err != nil {
		return nil, fixerr.Wrap(fixerr.BadFormat, err, "compiling script "+name)
	}
	script, cerr := r.linkFresh(name, res)
	if cerr != nil {
		return nil, cerr
	}
	r.mu.Lock()
	r.scripts[name] = script
	r.mu.Unlock()
	return script, nil
}

// ReloadSource is ImportSource's reload counterpart: src replaces name's
// existing script with the same id-preserving semantics as Reload, but
// without re-invoking the load callback.
func (r *Registry) ReloadSource(name, src string) (*Script, error) {
	r.mu.Lock()
	old, hadOld := r.scripts[name]
	r.mu.Unlock()

	res, err := compiler.Compile(src)
	if err != nil {
		return nil, fixerr.Wrap(fixerr.BadFormat, err, "compiling script "+name)
	}

	var script *Script
	var cerr *fixerr.Error
	if hadOld {
		script, cerr = r.linkReload(name, res, old)
	} else {
		script, cerr = r.linkFresh(name, res)
	}
	if cerr != nil {
		return nil, cerr
	}

	r.mu.Lock()
	if hadOld {
		r.scripts[syntheticName(name)] = old
	}
	r.scripts[name] = script
	r.mu.Unlock()
	return script, nil
}

func funcKey(name string, arity int) string {
	return name + "#" + strconv.Itoa(arity)
}

func syntheticName(name string) string {
	return name + "@" + uuid.NewString()
}
