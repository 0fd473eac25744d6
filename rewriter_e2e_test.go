package weave_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"weave"
	"weave/internal/simvm"
)

// buildCallerMethod assembles a small method that computes n+10, calls a
// possibly-suspending collaborator with that sum plus a value (99) kept
// alive across the call on the operand stack, then adds the
// collaborator's result to that 99 and returns it. It is built directly
// against the builder API the way a class-file front end upstream of
// this package would, standing in for that front end in tests.
func buildCallerMethod(doWorkRef weave.MethodRef) (*weave.Method, weave.MethodRef) {
	addRef := weave.MethodRef{Owner: "intrinsics", Name: "add", Kind: weave.CallStatic, NumArgs: 2, HasReturn: true}

	contSlot := weave.Slot{Index: 0, Type: weave.Reference("Continuation")}
	nSlot := weave.Slot{Index: 1, Type: weave.Int()}
	sumSlot := weave.Slot{Index: 2, Type: weave.Int()}

	callFrag := weave.Call(doWorkRef, weave.Load(contSlot), weave.Load(sumSlot))
	invokeIns := callFrag.List().Tail()

	body := weave.Merge(
		weave.Call(addRef, weave.Load(nSlot), weave.PushInt(10)),
		weave.Store(sumSlot),
		weave.PushInt(99),
		callFrag,
		weave.Call(addRef),
		weave.ReturnValue(weave.Int(), weave.Empty()),
	)

	frame := weave.Frame{
		Locals: []weave.FrameSlot{
			{Type: contSlot.Type}, {Type: nSlot.Type}, {Type: sumSlot.Type},
		},
		Stack: []weave.FrameSlot{
			{Type: weave.Int()}, {Type: contSlot.Type}, {Type: weave.Int()},
		},
	}

	returnType := weave.Int()
	m := &weave.Method{
		Name:             "caller",
		IsStatic:         true,
		Instructions:     body.List(),
		Frames:           map[*weave.Instruction]weave.Frame{invokeIns: frame},
		NumParamSlots:    3,
		ReturnType:       &returnType,
		ContinuationSlot: contSlot,
	}
	return m, addRef
}

func TestTransformedMethodSuspendsAndResumesThroughSimVM(t *testing.T) {
	doWorkRef := weave.MethodRef{Owner: "Worker", Name: "doWork", Kind: weave.CallStatic, NumArgs: 2, HasReturn: true}

	raw, _ := buildCallerMethod(doWorkRef)

	reg := weave.NewRegistry()
	reg.Mark(doWorkRef)
	rewriter := weave.NewRewriter(weave.WithRegistry(reg))

	transformed, err := rewriter.Transform(raw)
	require.NoError(t, err)
	require.NotSame(t, raw.Instructions, transformed.Instructions)

	vm := simvm.NewVM()
	calls := 0
	vm.RegisterIntrinsic("Worker", "doWork", func(vm *simvm.VM, args []any) (any, error) {
		calls++
		cont := args[0].(*simvm.Continuation)
		n := args[1].(int32)
		if calls == 1 {
			cont.SetMode(weave.ModeSuspending)
			return int32(0), nil
		}
		cont.SetMode(weave.ModeNormal)
		return n * 2, nil
	})
	vm.Register("test", transformed)

	continuation := simvm.NewContinuation()
	first, err := vm.Invoke("test", "caller", continuation, []any{nil, int32(5), nil})
	require.NoError(t, err)
	require.Equal(t, int32(0), first, "a suspending call must return its dummy value immediately")
	require.Equal(t, weave.ModeSuspending, continuation.GetMode())
	require.Equal(t, 1, calls)

	continuation.SetMode(weave.ModeResuming)
	second, err := vm.Invoke("test", "caller", continuation, []any{nil, int32(999), nil})
	require.NoError(t, err)
	require.Equal(t, int32(129), second, "resume must redo the call with the restored argument and complete the computation")
	require.Equal(t, 2, calls)
}

// buildGuardedCallerMethod is buildCallerMethod's shape with one
// addition: an exception handler whose protected region starts at the
// continuation point's own call instruction, catching
// java/lang/ClassCastException and falling back to -1. Starting the
// region exactly at the call is deliberate - it is the one case
// extendHandlerCoverage has to actively widen, rather than the splice
// primitives covering it automatically.
func buildGuardedCallerMethod(doWorkRef weave.MethodRef) *weave.Method {
	addRef := weave.MethodRef{Owner: "intrinsics", Name: "add", Kind: weave.CallStatic, NumArgs: 2, HasReturn: true}

	contSlot := weave.Slot{Index: 0, Type: weave.Reference("Continuation")}
	nSlot := weave.Slot{Index: 1, Type: weave.Int()}
	sumSlot := weave.Slot{Index: 2, Type: weave.Int()}

	callFrag := weave.Call(doWorkRef, weave.Load(contSlot), weave.Load(sumSlot))
	invokeIns := callFrag.List().Tail()

	fallback := weave.Merge(weave.PushInt(-1), weave.ReturnValue(weave.Int(), weave.Empty()))
	handlerIns := fallback.List().Head()

	tail := weave.Merge(weave.Call(addRef), weave.ReturnValue(weave.Int(), weave.Empty()))
	tailHead := tail.List().Head()

	body := weave.Merge(
		weave.Call(addRef, weave.Load(nSlot), weave.PushInt(10)),
		weave.Store(sumSlot),
		weave.PushInt(99),
		callFrag,
		tail,
		fallback,
	)

	frame := weave.Frame{
		Locals: []weave.FrameSlot{
			{Type: contSlot.Type}, {Type: nSlot.Type}, {Type: sumSlot.Type},
		},
		Stack: []weave.FrameSlot{
			{Type: weave.Int()}, {Type: contSlot.Type}, {Type: weave.Int()},
		},
	}

	returnType := weave.Int()
	return &weave.Method{
		Name:             "guarded",
		IsStatic:         true,
		Instructions:     body.List(),
		Frames:           map[*weave.Instruction]weave.Frame{invokeIns: frame},
		NumParamSlots:    3,
		ReturnType:       &returnType,
		ContinuationSlot: contSlot,
		Exceptions: []weave.ExceptionHandler{
			{Start: invokeIns, End: tailHead, Handler: handlerIns, ClassName: "java/lang/ClassCastException"},
		},
	}
}

// TestHandlerStillFiresAfterSuspendAndResume is an S2/S5-style
// end-to-end regression for Testable Property 3 (handler preservation)
// across a suspend/resume cycle. It deliberately corrupts the saved
// MethodState's boxed "sum" local between the suspend and the resume -
// swapping in a BoxedLong where the frame declares an int - so that
// RESTORE_k's checkcast genuinely fails while the Continuation is
// resuming. Before rewriter.go spliced each continuation point's
// restore block inline (inside the original handler's range) that
// failure would have been uncaught, since the handler's Start sat
// right at the call and every RESTORE_k lived in one shared block
// ahead of the method's first instruction. Now it must be caught.
func TestHandlerStillFiresAfterSuspendAndResume(t *testing.T) {
	doWorkRef := weave.MethodRef{Owner: "Worker", Name: "doWork", Kind: weave.CallStatic, NumArgs: 2, HasReturn: true}

	raw := buildGuardedCallerMethod(doWorkRef)

	reg := weave.NewRegistry()
	reg.Mark(doWorkRef)
	rewriter := weave.NewRewriter(weave.WithRegistry(reg))

	transformed, err := rewriter.Transform(raw)
	require.NoError(t, err)

	vm := simvm.NewVM()
	vm.RegisterIntrinsic("Worker", "doWork", func(_ *simvm.VM, args []any) (any, error) {
		cont := args[0].(*simvm.Continuation)
		cont.SetMode(weave.ModeSuspending)
		return int32(0), nil
	})
	vm.Register("test", transformed)

	continuation := simvm.NewContinuation()
	first, err := vm.Invoke("test", "guarded", continuation, []any{nil, int32(5), nil})
	require.NoError(t, err)
	require.Equal(t, int32(0), first)
	require.Equal(t, weave.ModeSuspending, continuation.GetMode())

	// Poison the saved frame: the restore path will try to checkcast
	// this back to Integer and fail.
	state := continuation.Pop()
	locals := state.Fields["locals"].([]any)
	locals[2] = simvm.BoxedLong{V: 42}
	continuation.Push(state)

	continuation.SetMode(weave.ModeResuming)
	second, err := vm.Invoke("test", "guarded", continuation, []any{nil, int32(999), nil})
	require.NoError(t, err, "the original handler must catch the restore-path checkcast failure")
	require.Equal(t, int32(-1), second, "execution must land in the original handler's fallback")
}

func TestTransformWithNoSuspendingCallsIsANoOp(t *testing.T) {
	doWorkRef := weave.MethodRef{Owner: "Worker", Name: "doWork", Kind: weave.CallStatic, NumArgs: 2, HasReturn: true}
	raw, _ := buildCallerMethod(doWorkRef)

	rewriter := weave.NewRewriter() // empty registry: doWorkRef is never marked
	transformed, err := rewriter.Transform(raw)
	require.NoError(t, err)
	require.Equal(t, raw.Instructions.Len(), transformed.Instructions.Len(),
		"with nothing Marked as suspending, Transform must not add any instructions")
}
