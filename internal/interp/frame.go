package interp

import "fixscript/internal/heap"

// frame is one active call's private state: its program counter (an
// absolute offset into the heap's shared code buffer), its local-variable
// slots, and the depth of the shared operand stack at the moment it was
// entered (so an error unwind or a RETURN knows how much to discard).
type frame struct {
	funcID    int32
	name      string
	pc        int
	locals    []heap.Value
	stackBase int
	line      int
	isCall2   bool
}
