package weave

import (
	"go.uber.org/zap"
)

// ContinuationPoint is a discovered call site that may suspend: the
// invoke instruction itself, the verifier Frame in effect immediately
// before it executes, the index assigned to it (1-based; index 0 is
// reserved to mean "fresh call, no resume"), and the labels the
// prologue dispatcher and the inline restore block use to get here and
// get back out. stackSpill and spliceHead are filled in while
// instrumenting; they don't exist until then.
type ContinuationPoint struct {
	Index int
	Call  *Instruction
	Frame Frame

	// RestoreLabel is the prologue's table-switch target for this
	// point: the entry to its inline RESTORE_k block.
	RestoreLabel *Label
	// ReloadLabel marks where the normal (first-pass) path and the
	// just-restored resume path converge, immediately before the
	// stack is reloaded and the call redone.
	ReloadLabel *Label
	// ResumeLabel marks where a fresh forward pass lands after jumping
	// over the restore block, immediately before the stack spill.
	ResumeLabel *Label

	stackSpill []Slot
	spliceHead *Instruction
}

// Rewriter is the C4 Method Rewriter. A single Rewriter has no mutable
// per-call state beyond its read-only Registry and options, so it is
// safe to share across goroutines transforming independent Methods
// concurrently (see SPEC_FULL.md §5).
type Rewriter struct {
	registry      *Registry
	logger        *zap.Logger
	syntheticLine int
}

// NewRewriter builds a Rewriter from the given options.
func NewRewriter(opts ...Option) *Rewriter {
	r := &Rewriter{
		registry:      NewRegistry(),
		logger:        zap.NewNop(),
		syntheticLine: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry exposes the Rewriter's possibly-suspending-method lookup so
// callers can Mark methods before transforming.
func (r *Rewriter) Registry() *Registry { return r.registry }

// constructorName is the name every front end gives an instance
// constructor. A constructor runs exactly once, before any
// continuation of the object it is building could possibly exist, so
// instrumenting one can never be meaningful; Transform rejects it
// outright rather than silently producing dead suspend/resume
// machinery around it.
const constructorName = "<init>"

// Transform instruments method so every call to a Registry-marked
// possibly-suspending method becomes a continuation point: on a
// suspend, the method's live state is saved and it returns a dummy
// value immediately; on a resume, a prologue dispatcher restores state
// and re-enters at the right call site. The input Method is never
// mutated; Transform always returns either a fresh Method or a Fault,
// never both.
func (r *Rewriter) Transform(method *Method) (*Method, error) {
	if method == nil {
		return nil, invalidRequest("Transform called with a nil Method")
	}
	if method.Name == constructorName {
		return nil, invalidRequest("Instrumentation of constructors not allowed")
	}
	if method.Instructions == nil || method.Instructions.Empty() {
		return nil, invalidRequest("Transform called on method %q with an empty instruction list", method.Name)
	}

	correlationID := newCorrelationID()
	log := r.logger.With(zap.String("correlation_id", correlationID), zap.String("method", method.Name))

	out := method.clone()

	points, err := r.discoverContinuationPoints(out)
	if err != nil {
		return nil, err
	}

	if len(points) == 0 {
		log.Debug("no continuation points found; returning method unchanged")
		return out, nil
	}

	log.Info("discovered continuation points", zap.Int("count", len(points)))

	vt := NewVariableTable(out.NumParamSlots)
	sl := AllocateSupportLocals(vt)
	poppedState := vt.Acquire(Reference("MethodState"))

	entryLabel := NewLabel(out.Name + "_entry")
	if err := r.instrumentContinuationPoints(out, sl, poppedState, vt, points, log); err != nil {
		return nil, err
	}

	extendHandlerCoverage(out, points)

	if err := r.installPrologue(out, poppedState, points, entryLabel); err != nil {
		return nil, err
	}

	if err := verifyExceptionCoverage(out); err != nil {
		return nil, err
	}

	log.Info("method transformed", zap.Int("max_locals", vt.MaxLocals()))
	return out, nil
}

// discoverContinuationPoints walks out's instructions in order and
// assigns an appearance-order index (starting at 1) to every invoke
// instruction whose target is Registry-marked as possibly-suspending.
func (r *Rewriter) discoverContinuationPoints(out *Method) ([]*ContinuationPoint, error) {
	var points []*ContinuationPoint
	idx := 1
	for _, ins := range out.Instructions.Slice() {
		if ins.Op != OpInvoke {
			continue
		}
		if !r.registry.IsSuspending(ins.MethodRef) {
			continue
		}
		frame, err := out.FrameAt(ins)
		if err != nil {
			return nil, err
		}
		points = append(points, &ContinuationPoint{
			Index:        idx,
			Call:         ins,
			Frame:        frame,
			RestoreLabel: NewLabel("restore"),
			ReloadLabel:  NewLabel("reload"),
			ResumeLabel:  NewLabel("resume"),
		})
		idx++
	}
	return points, nil
}

// instrumentContinuationPoints splices, around each continuation
// point's call instruction, the full spill/restore/reload/call/
// check/save/return sequence described in DESIGN.md's rewriter.go
// ledger entry - entirely via InsertBefore/InsertAfter against cp.Call,
// so every instruction this emits lands inside whatever original
// instruction range already surrounded that call, including its
// RESTORE_k block (spec.md §4.4 step 5, Testable Property 3).
//
// The block spliced immediately before cp.Call, top to bottom:
//
//	jump resume                 -- normal/first pass skips the restore block
//	restore:                    -- prologue's table-switch lands here
//	  unpack locals/stack arrays out of the popped MethodState
//	  RESTORE_k (unbox back into locals and into the stack spill slots)
//	  jump reload               -- restore path skips the spill
//	resume:                     -- normal/first pass falls in here
//	  spill                     -- drain the live real stack into the spill slots
//	reload:                     -- restore path rejoins here, skipping spill
//	  reload                    -- push the spill slots back onto the real stack
//
// then cp.Call itself runs (unchanged), followed by the existing
// suspend-check/save/return-dummy sequence spliced after it.
func (r *Rewriter) instrumentContinuationPoints(out *Method, sl SupportLocals, poppedState Slot, vt *VariableTable, points []*ContinuationPoint, log *zap.Logger) error {
	for _, cp := range points {
		stackSlots := make([]Slot, len(cp.Frame.Stack))
		for i, s := range cp.Frame.Stack {
			stackSlots[i] = vt.Acquire(s.Type)
		}
		cp.stackSpill = stackSlots

		saveFrag, err := Save(cp.Frame, sl, stackSlots)
		if err != nil {
			return err
		}
		restoreFrag, err := Restore(cp.Frame, sl, stackSlots)
		if err != nil {
			return err
		}

		spill := Empty()
		for i := len(stackSlots) - 1; i >= 0; i-- {
			spill = Merge(spill, Store(stackSlots[i]))
		}
		reload := Empty()
		for i := 0; i < len(stackSlots); i++ {
			reload = Merge(reload, Load(stackSlots[i]))
		}

		unpack := Merge(
			Store2(sl.LocalsArray, Call(MethodStateGetLocals, Load(poppedState))),
			Store2(sl.StackArray, Call(MethodStateGetStack, Load(poppedState))),
		)

		before := Merge(
			Jump(cp.ResumeLabel),
			LabelFragment(cp.RestoreLabel),
			unpack,
			restoreFrag,
			Jump(cp.ReloadLabel),
			LabelFragment(cp.ResumeLabel),
			Line(r.syntheticLine),
			spill,
			LabelFragment(cp.ReloadLabel),
			reload,
		)
		cp.spliceHead = before.List().Head()
		out.Instructions.InsertBefore(cp.Call, before.List())

		stateCtor := Construct(MethodStateInit,
			PushInt(int32(cp.Index)),
			Load(sl.LocalsArray),
			Load(sl.StackArray),
		)
		pushState := Call(ContinuationPush, Load(out.ContinuationSlot), stateCtor)

		suspendBranch := Merge(
			saveFrag,
			pushState,
			ReturnDummy(methodReturnType(out)),
		)

		// IfEq runs its action when the two values are equal and falls
		// through otherwise, so comparing against ModeNormal (not
		// ModeSuspending) is what makes "jump past the suspend branch"
		// the equal-case action: mode == Normal means the call
		// completed, skip straight to skipSuspend; mode == Suspending
		// falls through into the suspend branch below.
		skipSuspend := NewLabel("skip_suspend")
		checkSuspend := Merge(
			IfEq(
				Call(ContinuationGetMode, Load(out.ContinuationSlot)),
				PushInt(ModeNormal),
				Jump(skipSuspend),
			),
		)

		after := Merge(checkSuspend, suspendBranch, LabelFragment(skipSuspend))
		out.Instructions.InsertAfter(cp.Call, after.List())

		log.Debug("instrumented continuation point", zap.Int("index", cp.Index))
	}
	return nil
}

// extendHandlerCoverage applies spec.md §4.4 step 5 directly: any
// exception handler whose original Start instruction was a
// continuation point's own call (the call was the very first
// instruction its protected region covered) must have its Start moved
// back to the first instruction of that point's spliced block, so the
// RESTORE_k/SAVE_k machinery now sitting in front of the call is still
// inside [Start, End). InsertBefore/InsertAfter already keep every
// other splice inside an unchanged Start/End automatically; this is
// the one case they can't, since a handler's Start pointer itself
// never moves on its own.
func extendHandlerCoverage(out *Method, points []*ContinuationPoint) {
	for i := range out.Exceptions {
		eh := &out.Exceptions[i]
		for _, cp := range points {
			if eh.Start == cp.Call {
				eh.Start = cp.spliceHead
			}
		}
	}
}

// installPrologue builds and prepends the table-switch dispatcher: on
// entry, if the Continuation is resuming, pop whatever MethodState it
// carries for this call and switch on its continuation index straight
// to that point's RestoreLabel, where instrumentContinuationPoints
// already spliced the RESTORE_k block inline. A fresh call (mode
// Normal) falls straight through to entryLabel, the method's original
// first instruction - the prologue itself is never covered by an
// exception handler (it sits before every original instruction,
// including the first one any handler's Start could ever have named).
func (r *Rewriter) installPrologue(out *Method, poppedState Slot, points []*ContinuationPoint, entryLabel *Label) error {
	originalFirst := out.Instructions.Head()

	cases := make([]*Label, 0, len(points))
	for _, cp := range points {
		cases = append(cases, cp.RestoreLabel)
	}

	popAndStash := Store2(poppedState, Call(ContinuationPop, Load(out.ContinuationSlot)))
	indexExpr := Call(MethodStateGetContinuationIndex, Load(poppedState))

	// A fresh call (mode Normal, nothing ever pushed for this
	// invocation) must never call Continuation.pop: there is nothing
	// to pop, and popping on every entry regardless of mode would
	// either underflow or hand back a stale state. IfEq's equal-case
	// action only runs for ModeResuming; a Normal entry falls straight
	// through to entryLabel below.
	resumeAction := Merge(
		popAndStash,
		TableSwitch(indexExpr, 1, entryLabel, cases),
	)

	prologue := Merge(
		Line(r.syntheticLine),
		IfEq(Call(ContinuationGetMode, Load(out.ContinuationSlot)), PushInt(ModeResuming), resumeAction),
		LabelFragment(entryLabel),
	)

	out.Instructions.InsertBefore(originalFirst, prologue.List())
	return nil
}

// Store2 is Store with the value-producing fragment inlined, reading
// naturally at call sites that build a value and immediately stash it:
// Store2(slot, value) == Merge(value, Store(slot)).
func Store2(slot Slot, value *Fragment) *Fragment {
	return Merge(value, Store(slot))
}

// methodReturnType reports the static return type a method's own
// return-dummy site must produce; descriptors aren't parsed by this
// package (that's class-file work, out of scope), so callers are
// expected to have set Method.Descriptor such that the last component
// names the return type, or otherwise rely on Void() by default. Here
// we keep it simple: if the method declares no explicit return type
// metadata we fall back to Void, since the dummy value's exact type
// only matters to a verifier this package does not implement.
func methodReturnType(out *Method) Type {
	if out.ReturnType != nil {
		return *out.ReturnType
	}
	return Void()
}

// verifyExceptionCoverage defends invariant 3: every handler's End
// instruction must still be reachable by walking Next() from its
// Start. extendHandlerCoverage has already pulled any handler's Start
// back over a continuation point's spliced block where the call used
// to be the region's first instruction; every other splice lands
// strictly between two nodes a handler's range already spanned, so
// this pass only needs to confirm nothing broke the chain itself -
// e.g. a future change to the splice primitives that detaches End from
// Start entirely.
func verifyExceptionCoverage(out *Method) error {
	for _, eh := range out.Exceptions {
		if eh.Start == nil {
			continue
		}
		seenEnd := false
		for ins := eh.Start; ins != nil; ins = ins.Next() {
			if ins == eh.End {
				seenEnd = true
				break
			}
		}
		if !seenEnd && eh.End != nil {
			return invalidRequest("exception handler for %q lost its End instruction during rewriting", eh.ClassName).withDetail(eh)
		}
	}
	return nil
}
