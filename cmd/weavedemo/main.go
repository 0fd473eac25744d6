// Command weavedemo transforms a small hand-built method with one
// possibly-suspending call, runs it through internal/simvm once with a
// fresh Continuation, and once more after flipping that Continuation to
// resuming, printing the instruction counts and return value from each
// stage.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"weave"
	"weave/internal/simvm"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging from the rewriter")
	n := flag.Int("n", 5, "input value passed to the demo method")
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "weavedemo: building logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	doWorkRef := weave.MethodRef{Owner: "Worker", Name: "doWork", Kind: weave.CallStatic, NumArgs: 2, HasReturn: true}
	raw := buildDemoMethod(doWorkRef)

	registry := weave.NewRegistry()
	registry.Mark(doWorkRef)
	rewriter := weave.NewRewriter(weave.WithLogger(logger), weave.WithRegistry(registry))

	transformed, err := rewriter.Transform(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "weavedemo: transform failed:", err)
		os.Exit(1)
	}

	logger.Info("transform complete",
		zap.Int("instructions_before", raw.Instructions.Len()),
		zap.Int("instructions_after", transformed.Instructions.Len()),
	)

	vm := simvm.NewVM()
	calls := 0
	vm.RegisterIntrinsic("Worker", "doWork", func(_ *simvm.VM, args []any) (any, error) {
		calls++
		cont := args[0].(*simvm.Continuation)
		value := args[1].(int32)
		if calls == 1 {
			cont.SetMode(weave.ModeSuspending)
			return int32(0), nil
		}
		cont.SetMode(weave.ModeNormal)
		return value * 2, nil
	})
	vm.Register("demo", transformed)

	continuation := simvm.NewContinuation()
	first, err := vm.Invoke("demo", "run", continuation, []any{nil, int32(*n), nil})
	if err != nil {
		fmt.Fprintln(os.Stderr, "weavedemo: first invocation failed:", err)
		os.Exit(1)
	}
	fmt.Printf("first call returned %v, mode=%d\n", first, continuation.GetMode())

	continuation.SetMode(weave.ModeResuming)
	second, err := vm.Invoke("demo", "run", continuation, []any{nil, int32(*n), nil})
	if err != nil {
		fmt.Fprintln(os.Stderr, "weavedemo: resumed invocation failed:", err)
		os.Exit(1)
	}
	fmt.Printf("resumed call returned %v, mode=%d\n", second, continuation.GetMode())
}

// buildDemoMethod computes n+10, calls doWorkRef with that sum while
// keeping 99 alive on the operand stack across the call, and returns
// 99 plus whatever doWorkRef produced.
func buildDemoMethod(doWorkRef weave.MethodRef) *weave.Method {
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
	return &weave.Method{
		Name:             "run",
		IsStatic:         true,
		Instructions:     body.List(),
		Frames:           map[*weave.Instruction]weave.Frame{invokeIns: frame},
		NumParamSlots:    3,
		ReturnType:       &returnType,
		ContinuationSlot: contSlot,
	}
}
