package weave

// Fragment is a short, detached instruction sublist with exactly one
// entry point and zero or more explicit exit edges represented purely
// by the jump/branch instructions inside it. Every constructor in this
// file allocates fresh Instruction nodes; none mutates an existing
// Method's list. C4 splices fragments into a method via
// InstructionList.InsertBefore/InsertAfter/AppendList.
type Fragment struct {
	list *InstructionList
}

func newFragment() *Fragment {
	return &Fragment{list: NewInstructionList()}
}

func (f *Fragment) push(ins *Instruction) *Fragment {
	f.list.Append(ins)
	return f
}

// List exposes the backing InstructionList so C4 can splice it into a
// Method body. Consuming a Fragment this way empties it.
func (f *Fragment) List() *InstructionList { return f.list }

// Empty returns a Fragment with no instructions, the identity element
// for Merge.
func Empty() *Fragment { return newFragment() }

// Merge concatenates fragments in order into one new Fragment. Each
// input Fragment is consumed (left empty) by the splice.
func Merge(frags ...*Fragment) *Fragment {
	out := newFragment()
	for _, f := range frags {
		if f == nil {
			continue
		}
		out.list.AppendList(f.list)
	}
	return out
}

// LabelFragment returns a Fragment consisting of a single label-marker
// instruction at lbl's position, for use as a jump target.
func LabelFragment(lbl *Label) *Fragment {
	return newFragment().push(&Instruction{Op: OpLabel, Self: lbl})
}

// Jump returns an unconditional branch to lbl.
func Jump(lbl *Label) *Fragment {
	return newFragment().push(&Instruction{Op: OpJump, Target: lbl})
}

// Line returns a source-line marker instruction. It has no stack
// effect; it exists purely as debug-symbol metadata carried alongside
// real instructions.
func Line(line int) *Fragment {
	return newFragment().push(&Instruction{Op: OpLine, Line: line})
}

// PushInt returns a fragment that pushes a constant 32-bit int.
func PushInt(v int32) *Fragment {
	return newFragment().push(&Instruction{Op: OpPushInt, IntOperand: v})
}

// PushString returns a fragment that pushes a constant string
// reference.
func PushString(s string) *Fragment {
	return newFragment().push(&Instruction{Op: OpPushString, StrOperand: s})
}

// PushNull returns a fragment that pushes a null reference.
func PushNull() *Fragment {
	return newFragment().push(&Instruction{Op: OpPushNull})
}

// Pop discards the top stack value.
func Pop() *Fragment {
	return newFragment().push(&Instruction{Op: OpPop})
}

// Dup duplicates the top stack value.
func Dup() *Fragment {
	return newFragment().push(&Instruction{Op: OpDup})
}

// Load pushes the value held in local slot s.
func Load(s Slot) *Fragment {
	return newFragment().push(&Instruction{Op: OpLoad, Slot: s, Type: s.Type})
}

// Store pops the top stack value into local slot s.
func Store(s Slot) *Fragment {
	return newFragment().push(&Instruction{Op: OpStore, Slot: s, Type: s.Type})
}

// CheckCast asserts the top-of-stack reference is assignable to t,
// raising a runtime class-cast failure otherwise. Used by the codec's
// restore path before each unbox.
func CheckCast(t Type) *Fragment {
	return newFragment().push(&Instruction{Op: OpCheckCast, Type: t})
}

// Construct allocates a new instance of ref.Owner, duplicates the
// reference, emits the args fragments, and runs the constructor as a
// CallSpecial invoke. That invoke consumes ref.NumArgs values (the
// duplicated reference plus the args), leaving the new reference on
// the stack.
func Construct(ref MethodRef, args ...*Fragment) *Fragment {
	ref.Kind = CallSpecial
	out := newFragment().push(&Instruction{Op: OpNew, Type: Reference(ref.Owner)})
	out.push(&Instruction{Op: OpDup})
	for _, a := range args {
		out.list.AppendList(a.list)
	}
	out.push(&Instruction{Op: OpInvoke, MethodRef: ref, ArgCount: ref.NumArgs})
	return out
}

// Call emits the evaluated arg fragments followed by an invoke of ref.
// For CallVirtual/CallInterface/CallSpecial, the receiver must be among
// args (conventionally args[0]).
func Call(ref MethodRef, args ...*Fragment) *Fragment {
	out := newFragment()
	for _, a := range args {
		out.list.AppendList(a.list)
	}
	out.push(&Instruction{Op: OpInvoke, MethodRef: ref, ArgCount: ref.NumArgs})
	return out
}

// ThrowRuntime builds and throws a RuntimeException-shaped object
// carrying msg, for the rewriter's own internal invariant checks
// emitted into instrumented code (distinct from this package's own
// Fault errors, which report problems found while building the
// instrumented method, not problems the instrumented method raises at
// run time).
func ThrowRuntime(msg string) *Fragment {
	ctor := MethodRef{Owner: "java/lang/RuntimeException", Name: "<init>", NumArgs: 2, Kind: CallSpecial}
	out := Construct(ctor, PushString(msg))
	out.push(&Instruction{Op: OpThrow})
	return out
}

// IfEq evaluates lhs and rhs (each must leave exactly one int on the
// stack) and runs action iff they are equal; otherwise execution falls
// through to whatever follows the returned Fragment.
func IfEq(lhs, rhs, action *Fragment) *Fragment {
	skip := NewLabel("ifeq_skip")
	out := Merge(lhs, rhs)
	out.push(&Instruction{Op: OpIfICmpNe, Target: skip})
	out = Merge(out, action, LabelFragment(skip))
	return out
}

// TableSwitch dispatches on the int left on the stack by index: values
// in [low, low+len(cases)) jump to the matching entry in cases, and
// any other value jumps to deflt. Used by C4 to build the prologue
// dispatcher.
func TableSwitch(index *Fragment, low int32, deflt *Label, cases []*Label) *Fragment {
	out := Merge(index)
	tableCases := make([]*Label, len(cases))
	copy(tableCases, cases)
	out.push(&Instruction{Op: OpTableSwitch, Low: low, Default: deflt, Cases: tableCases})
	return out
}

// ReturnDummy returns a type-appropriate zero value: 0 for numeric
// primitives, null for references, or a bare return for void.
func ReturnDummy(t Type) *Fragment {
	out := newFragment()
	switch {
	case t.Tag == TagVoid:
		// no value to push
	case t.IsPrimitive():
		out.push(&Instruction{Op: OpPushInt, IntOperand: 0})
	default:
		out.push(&Instruction{Op: OpPushNull})
	}
	out.push(&Instruction{Op: OpReturn, Type: t})
	return out
}

// ReturnValue returns whatever value the value Fragment leaves on the
// stack, typed t.
func ReturnValue(t Type, value *Fragment) *Fragment {
	out := Merge(value)
	out.push(&Instruction{Op: OpReturn, Type: t})
	return out
}
