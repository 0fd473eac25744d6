package weave

import "sort"

// Slot names one entry of a method's local variable table: an index
// plus the static type occupying it. A wide primitive (long, double)
// occupies Index and Index+1; Width reports how many slots it spans.
type Slot struct {
	Index int
	Type  Type
}

// Width reports how many consecutive local-variable-table slots this
// Slot's type occupies: 2 for long/double, 1 otherwise.
func (s Slot) Width() int {
	if s.Type.IsWide() {
		return 2
	}
	return 1
}

// VariableTable is a first-fit local-slot allocator. It honors the
// two-slot rule for wide primitives (invariant 1: a long/double slot
// always occupies two consecutive indices that no other slot may
// alias) and tracks the high-water mark of slots ever in use as
// MaxLocals, which never shrinks even after a Release.
type VariableTable struct {
	// free holds released indices not currently occupied; findFirstFit
	// sorts them on each lookup so first-fit allocation is deterministic.
	free     map[int]bool
	occupied map[int]bool
	maxIndex int
	reserved int // indices [0, reserved) are never handed out by Acquire
}

// NewVariableTable creates a table whose indices [0, reserved) are
// already spoken for (for example, "this" and the method's declared
// parameters) and are never returned by Acquire.
func NewVariableTable(reserved int) *VariableTable {
	return &VariableTable{
		free:     make(map[int]bool),
		occupied: make(map[int]bool),
		maxIndex: reserved,
		reserved: reserved,
	}
}

// Acquire finds the lowest free run of slots wide enough for t (first
// fit), marks them occupied, and returns the Slot. If no existing gap
// fits, new indices are appended past the current high-water mark.
func (vt *VariableTable) Acquire(t Type) Slot {
	width := 1
	if t.IsWide() {
		width = 2
	}

	candidate := vt.findFirstFit(width)
	for i := candidate; i < candidate+width; i++ {
		delete(vt.free, i)
		vt.occupied[i] = true
	}
	if candidate+width > vt.maxIndex {
		vt.maxIndex = candidate + width
	}
	return Slot{Index: candidate, Type: t}
}

func (vt *VariableTable) findFirstFit(width int) int {
	var freeIdx []int
	for i := range vt.free {
		freeIdx = append(freeIdx, i)
	}
	sort.Ints(freeIdx)

	for _, start := range freeIdx {
		if start < vt.reserved {
			continue
		}
		fits := true
		for i := start; i < start+width; i++ {
			if !vt.free[i] {
				fits = false
				break
			}
		}
		if fits {
			return start
		}
	}
	start := vt.maxIndex
	if start < vt.reserved {
		start = vt.reserved
	}
	return start
}

// Release returns a previously-Acquired Slot's indices to the free
// list. MaxLocals is unaffected: it records the lifetime high-water
// mark, not the current occupancy.
func (vt *VariableTable) Release(s Slot) {
	for i := s.Index; i < s.Index+s.Width(); i++ {
		delete(vt.occupied, i)
		vt.free[i] = true
	}
}

// MaxLocals reports the largest local-variable-table size this table
// has ever required.
func (vt *VariableTable) MaxLocals() int { return vt.maxIndex }
