package registry

import (
	"testing"

	"fixscript/internal/fixconfig"
	"fixscript/internal/heap"
	"fixscript/internal/interp"
)

func sourceLoader(sources map[string]string) LoadScriptFunc {
	return func(name string) (string, error) {
		src, ok := sources[name]
		if !ok {
			return "", errNotFound(name)
		}
		return src, nil
	}
}

type notFoundError string

func (e notFoundError) Error() string { return "script not found: " + string(e) }

func errNotFound(name string) error { return notFoundError(name) }

func newTestRegistry(t *testing.T, sources map[string]string) (*heap.Heap, *Registry) {
	t.Helper()
	cfg := fixconfig.Default()
	h := heap.NewHeap(interp.HeapConfig(cfg))
	r := New(h, sourceLoader(sources), cfg.ImportCycleDepth)
	return h, r
}

func TestImportCompilesAndCaches(t *testing.T) {
	_, r := newTestRegistry(t, map[string]string{
		"m.fix": `function foo() { return 1; }`,
	})

	s1, err := r.Import("m.fix")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	s2, err := r.Import("m.fix")
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if s1 != s2 {
		t.Fatal("expected second Import to return the cached Script")
	}
	if _, ok := s1.Lookup("foo#0"); !ok {
		t.Fatal("expected foo#0 to be registered")
	}
}

func TestImportUnknownNameFails(t *testing.T) {
	_, r := newTestRegistry(t, map[string]string{})
	if _, err := r.Import("missing.fix"); err == nil {
		t.Fatal("expected an error importing an unknown script")
	}
}

func TestReloadPreservesFunctionID(t *testing.T) {
	h, r := newTestRegistry(t, map[string]string{
		"m.fix": `function foo() { return 1; }`,
	})

	s1, err := r.Import("m.fix")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	oldID, ok := s1.Lookup("foo#0")
	if !ok {
		t.Fatal("expected foo#0 in first version")
	}
	fref := heap.FuncRef(oldID)

	in := interp.New(h, interp.FromFixConfig(fixconfig.Default()))
	v, ferr := in.Call(fref.FuncID(), nil)
	if ferr != nil {
		t.Fatalf("calling original foo: %v", ferr)
	}
	if v.Payload != 1 {
		t.Fatalf("original foo() = %d, want 1", v.Payload)
	}

	// Point the loader at a new body for the same name and reload.
	loaderSources := map[string]string{
		"m.fix": `function foo() { return 2; }`,
	}
	r.load = sourceLoader(loaderSources)

	s2, err := r.Reload("m.fix")
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	newID, ok := s2.Lookup("foo#0")
	if !ok {
		t.Fatal("expected foo#0 in reloaded version")
	}
	if newID != oldID {
		t.Fatalf("reload changed foo#0's id: old=%d new=%d, want equal", oldID, newID)
	}

	v2, ferr := in.Call(fref.FuncID(), nil)
	if ferr != nil {
		t.Fatalf("calling foo through the pre-reload funcref: %v", ferr)
	}
	if v2.Payload != 2 {
		t.Fatalf("post-reload foo() via old funcref = %d, want 2 (new body)", v2.Payload)
	}
}

func TestCircularImportIsRejected(t *testing.T) {
	sources := map[string]string{}
	_, r := newTestRegistry(t, sources)

	// Simulate an import cycle by marking "a.fix" as already in the
	// loading chain and then attempting to resolve it again, the same
	// state a real `import "a.fix"` appearing transitively beneath its
	// own load would produce.
	r.mu.Lock()
	r.loading["a.fix"] = 1
	r.mu.Unlock()

	if _, err := r.resolve("a.fix"); err == nil {
		t.Fatal("expected a circular import error")
	}
}
