package weave

// ExceptionHandler is one entry of a method's exception table: the
// half-open instruction range [Start, End) a handler protects, the
// Handler instruction execution resumes at on a matching throw, and
// the exception ClassName it catches ("" means catch-all/finally).
type ExceptionHandler struct {
	Start, End *Instruction
	Handler    *Instruction
	ClassName  string
}

// Method is the rewriter's input and output contract: a name,
// descriptor, access flags, instruction list, exception table, and a
// per-instruction Frame map a verifier has already computed. Computing
// Frames is out of scope for this package — callers supply them, the
// same way a real verifier/class-file front end would.
type Method struct {
	Name        string
	Descriptor  string
	AccessFlags uint16
	IsStatic    bool

	Instructions *InstructionList
	Exceptions   []ExceptionHandler

	// Frames maps each instruction to the verifier frame in effect
	// immediately before that instruction executes. Required for every
	// instruction the rewriter needs a Frame at (continuation points);
	// need not be exhaustive over the whole method.
	Frames map[*Instruction]Frame

	// NumParamSlots is the number of local-variable-table slots the
	// method's "this" (if any) and declared parameters occupy; the
	// variable table reserves exactly these indices.
	NumParamSlots int

	// ReturnType is the method's declared return type, used only to
	// pick a type-appropriate dummy value when a continuation point's
	// suspend branch returns early. Parsing it from Descriptor is
	// class-file work this package doesn't do; callers set it directly.
	// A nil ReturnType is treated as Void.
	ReturnType *Type

	// ContinuationSlot names the local slot a suspending method keeps
	// its active Continuation collaborator in, the same way slot 0
	// conventionally holds "this" for an instance method. How the
	// Continuation first arrives there (a synthesized parameter, a
	// thread-local bridge, ...) is a class-file/calling-convention
	// concern out of this package's scope; Transform only ever reads
	// from this slot, never writes to it.
	ContinuationSlot Slot
}

// FrameAt returns the Frame recorded for ins, or a MalformedFrame
// Fault if none was supplied.
func (m *Method) FrameAt(ins *Instruction) (Frame, error) {
	f, ok := m.Frames[ins]
	if !ok {
		return Frame{}, malformedFrame("no verifier frame recorded for instruction").withDetail(ins)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// clone returns a deep copy of m: every Instruction node is duplicated
// so the rewriter can freely mutate links, splice fragments, and patch
// the exception table without disturbing the caller's original Method
// (the "identical on no-op" property for a method with no continuation
// points only makes sense
// if transforming one Method can never be observed by the caller as
// having mutated the Method they passed in).
func (m *Method) clone() *Method {
	out := &Method{
		Name:          m.Name,
		Descriptor:    m.Descriptor,
		AccessFlags:   m.AccessFlags,
		IsStatic:      m.IsStatic,
		NumParamSlots:    m.NumParamSlots,
		ReturnType:       m.ReturnType,
		ContinuationSlot: m.ContinuationSlot,
	}

	orig := m.Instructions.Slice()
	oldToNew := make(map[*Instruction]*Instruction, len(orig))
	newList := NewInstructionList()
	for _, ins := range orig {
		dup := *ins
		dup.prev, dup.next = nil, nil
		if ins.Cases != nil {
			dup.Cases = append([]*Label(nil), ins.Cases...)
		}
		oldToNew[ins] = &dup
		newList.Append(&dup)
	}
	out.Instructions = newList

	out.Exceptions = make([]ExceptionHandler, len(m.Exceptions))
	for i, eh := range m.Exceptions {
		out.Exceptions[i] = ExceptionHandler{
			Start:     oldToNew[eh.Start],
			End:       oldToNew[eh.End],
			Handler:   oldToNew[eh.Handler],
			ClassName: eh.ClassName,
		}
	}

	out.Frames = make(map[*Instruction]Frame, len(m.Frames))
	for k, v := range m.Frames {
		if nk, ok := oldToNew[k]; ok {
			out.Frames[nk] = v
		}
	}
	return out
}
