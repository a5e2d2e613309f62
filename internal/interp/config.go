// Package interp implements the bytecode dispatch loop: a typed-value
// stack, per-call local frames, the CALL_DIRECT/CALL2/RETURN2 calling
// conventions, and the OpExtCheckTimeLimit/OpExtSuspendCheckpoint
// time-limit and suspend checks. The compiler does not emit those two
// instructions, so they run only in bytecode that contains them.
package interp

import (
	"time"

	"fixscript/internal/fixconfig"
	"fixscript/internal/heap"
)

// Config is the slice of fixconfig.Config the interpreter itself consumes;
// the heap-facing fields (arrays/GC/equality cutoffs, bytecode size) stay
// in heap.Config and never reach this package.
type Config struct {
	MaxStackSize            int
	TimeLimit                time.Duration
	AutoSuspendInstructions int
	ImportCycleDepth         int
}

// FromFixConfig copies the fields this package cares about out of a
// fixconfig.Config, the way heap.DefaultConfig mirrors its own subset.
func FromFixConfig(c fixconfig.Config) Config {
	return Config{
		MaxStackSize:            c.MaxStackSize,
		TimeLimit:                c.TimeLimit,
		AutoSuspendInstructions: c.AutoSuspendInstructions,
		ImportCycleDepth:         c.ImportCycleDepth,
	}
}

// HeapConfig projects a fixconfig.Config down to the fields heap.NewHeap
// wants, so callers only need to build one fixconfig.Config and hand it to
// both heap.NewHeap (via this) and interp.New.
func HeapConfig(c fixconfig.Config) heap.Config {
	return heap.Config{
		ArraysGrowCutoff:        c.ArraysGrowCutoff,
		MarkRecursionCutoff:     c.MarkRecursionCutoff,
		EqualityRecursionCutoff: c.EqualityRecursionCutoff,
		MaxBytecodeSize:         c.MaxBytecodeSize,
	}
}
