package weave

// SupportLocals names the local slots C3 needs to carry values through
// a save/restore pair: the heap-allocated locals array and the
// heap-allocated stack array. Acquired once per Method (not once per
// continuation point) by C4 and handed to every call of Save/Restore
// for that method.
type SupportLocals struct {
	LocalsArray Slot // Object[], sized to the frame's live locals
	StackArray  Slot // Object[], sized to the frame's stack depth
}

// AllocateSupportLocals acquires the two scratch array slots C3 needs
// from vt. Call once per method; every continuation point's
// Save/Restore reuses the same slots.
func AllocateSupportLocals(vt *VariableTable) SupportLocals {
	return SupportLocals{
		LocalsArray: vt.Acquire(Array(Reference("java/lang/Object"))),
		StackArray:  vt.Acquire(Array(Reference("java/lang/Object"))),
	}
}

var objectArrayType = Array(Reference("java/lang/Object"))

// Save builds the fragment that boxes every live value in frame into
// sl's two heap arrays, ready to be packed into a MethodState. It does
// not itself construct the MethodState; C4 does that with the
// builder's Construct, passing these two arrays plus the continuation
// index.
//
// Save addresses frame's locals directly by slot index. The operand
// stack has no such addressable storage of its own, so Save expects
// C4 to have already spilled it: stackSlots[i] must be the local slot
// holding the value that was at frame.Stack[i] on the real operand
// stack (C4 emits that spill ahead of the call, top of stack first, via
// plain Store instructions - the same "stackify" step the asyncify
// transform this is grounded on performs before any save/rewind path).
//
// Save never mutates frame; it only reads frame's shape to know how
// many array slots to allocate and what each element's static type
// is.
func Save(frame Frame, sl SupportLocals, stackSlots []Slot) (*Fragment, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if len(stackSlots) != len(frame.Stack) {
		return nil, invalidRequest("Save given %d spilled stack slots for a frame with %d stack entries", len(stackSlots), len(frame.Stack)).withDetail(frame)
	}

	live := frame.LiveLocals()
	out := Merge(
		newArray(int32(len(live))),
		Store(sl.LocalsArray),
	)
	for arrIdx, localIdx := range live {
		elemType := frame.Locals[localIdx].Type
		out = Merge(out, storeElement(sl.LocalsArray, arrIdx, boxValue(elemType, Load(Slot{Index: localIdx, Type: elemType}))))
	}

	out = Merge(out,
		newArray(int32(len(frame.Stack))),
		Store(sl.StackArray),
	)
	for i, s := range frame.Stack {
		out = Merge(out, storeElement(sl.StackArray, i, boxValue(s.Type, Load(stackSlots[i]))))
	}

	return out, nil
}

// Restore builds the fragment that, given sl's two heap arrays already
// populated (by a MethodState freshly popped off the Continuation),
// unboxes every value back into frame's locals and back into
// stackSlots (the same spill slots Save was given - C4 is responsible
// for re-pushing them onto the real operand stack from there, bottom
// of stack first, after Restore runs). Restore is Save's exact
// inverse: for any Frame that passes Validate, Save followed by
// Restore reproduces the original stack and local contents value for
// value and type for type (invariant 2).
func Restore(frame Frame, sl SupportLocals, stackSlots []Slot) (*Fragment, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if len(stackSlots) != len(frame.Stack) {
		return nil, invalidRequest("Restore given %d spill slots for a frame with %d stack entries", len(stackSlots), len(frame.Stack)).withDetail(frame)
	}

	live := frame.LiveLocals()
	out := Empty()
	for arrIdx, localIdx := range live {
		elemType := frame.Locals[localIdx].Type
		out = Merge(out,
			unboxValue(elemType, loadElement(sl.LocalsArray, arrIdx)),
			Store(Slot{Index: localIdx, Type: elemType}),
		)
	}

	for i, s := range frame.Stack {
		out = Merge(out,
			unboxValue(s.Type, loadElement(sl.StackArray, i)),
			Store(stackSlots[i]),
		)
	}

	return out, nil
}

func newArray(length int32) *Fragment {
	return newFragment().push(&Instruction{Op: OpNew, Type: objectArrayType, IntOperand: length})
}

var arrayGetRef = MethodRef{Owner: "Array", Name: "get", Kind: CallVirtual, NumArgs: 2, HasReturn: true}
var arraySetRef = MethodRef{Owner: "Array", Name: "set", Kind: CallVirtual, NumArgs: 3}

func loadElement(arr Slot, index int) *Fragment {
	return Call(arrayGetRef, Load(arr), PushInt(int32(index)))
}

func storeElement(arr Slot, index int, value *Fragment) *Fragment {
	return Call(arraySetRef, Load(arr), PushInt(int32(index)), value)
}

// boxValue wraps value (a Fragment leaving exactly one value of type t
// on the stack) into its reference-typed boxed form if t is a
// primitive, using the per-tag boxing method ref in abi.go. This is
// the exact site spec.md §4.3 flags: a long must box through
// boxRefs[TagLong] (java/lang/Long.valueOf), never through
// boxRefs[TagDouble] - they are different map entries, so there is no
// way to accidentally share one boxing path between the two wide
// numeric types.
func boxValue(t Type, value *Fragment) *Fragment {
	if !t.IsPrimitive() {
		return value
	}
	ref, ok := boxRefs[t.Tag]
	if !ok {
		return value
	}
	return Call(ref, value)
}

// unboxValue is boxValue's inverse: checkcast to the expected wrapper
// class, then call the per-tag unboxing accessor.
func unboxValue(t Type, boxed *Fragment) *Fragment {
	if !t.IsPrimitive() {
		return boxed
	}
	ref, ok := unboxRefs[t.Tag]
	if !ok {
		return boxed
	}
	cast := CheckCast(Reference(boxClassName(t.Tag)))
	return Call(ref, Merge(boxed, cast))
}
