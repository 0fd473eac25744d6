package simvm

import (
	"fmt"

	"weave"
)

func (vm *VM) dispatch(cm *CompiledMethod, continuation *Continuation, ins *weave.Instruction, stackPtr *[]any) (any, error) {
	ref := ins.MethodRef
	stack := *stackPtr
	n := ref.NumArgs
	if n > len(stack) {
		return nil, fmt.Errorf("simvm: stack underflow invoking %s.%s", ref.Owner, ref.Name)
	}
	args := append([]any(nil), stack[len(stack)-n:]...)
	stack = stack[:len(stack)-n]
	*stackPtr = stack

	if fn, ok := vm.intrinsics[key(ref.Owner, ref.Name)]; ok {
		return fn(vm, args)
	}
	if cm2, ok := vm.methods[key(ref.Owner, ref.Name)]; ok {
		return vm.run(cm2, continuation, args)
	}
	return nil, fmt.Errorf("simvm: no implementation registered for %s.%s", ref.Owner, ref.Name)
}

func registerABIIntrinsics(vm *VM) {
	vm.RegisterIntrinsic("Continuation", "getMode", func(_ *VM, args []any) (any, error) {
		c, ok := args[0].(*Continuation)
		if !ok {
			return nil, fmt.Errorf("simvm: Continuation.getMode receiver was %T", args[0])
		}
		return int32(c.GetMode()), nil
	})
	vm.RegisterIntrinsic("Continuation", "setMode", func(_ *VM, args []any) (any, error) {
		c, ok := args[0].(*Continuation)
		if !ok {
			return nil, fmt.Errorf("simvm: Continuation.setMode receiver was %T", args[0])
		}
		mode, ok := args[1].(int32)
		if !ok {
			return nil, fmt.Errorf("simvm: Continuation.setMode argument was %T", args[1])
		}
		c.SetMode(int(mode))
		return nil, nil
	})
	vm.RegisterIntrinsic("Continuation", "push", func(_ *VM, args []any) (any, error) {
		c, ok := args[0].(*Continuation)
		if !ok {
			return nil, fmt.Errorf("simvm: Continuation.push receiver was %T", args[0])
		}
		state, ok := args[1].(*Object)
		if !ok {
			return nil, fmt.Errorf("simvm: Continuation.push argument was %T, want *MethodState", args[1])
		}
		c.Push(state)
		return nil, nil
	})
	vm.RegisterIntrinsic("Continuation", "pop", func(_ *VM, args []any) (any, error) {
		c, ok := args[0].(*Continuation)
		if !ok {
			return nil, fmt.Errorf("simvm: Continuation.pop receiver was %T", args[0])
		}
		return c.Pop(), nil
	})

	vm.RegisterIntrinsic("MethodState", "<init>", func(_ *VM, args []any) (any, error) {
		obj, ok := args[0].(*Object)
		if !ok {
			return nil, fmt.Errorf("simvm: MethodState.<init> receiver was %T", args[0])
		}
		obj.Fields["index"] = args[1]
		obj.Fields["locals"] = args[2]
		obj.Fields["stack"] = args[3]
		return nil, nil
	})
	vm.RegisterIntrinsic("MethodState", "getContinuationIndex", func(_ *VM, args []any) (any, error) {
		obj, err := requireObject(args[0], "MethodState")
		if err != nil {
			return nil, err
		}
		return obj.Fields["index"], nil
	})
	vm.RegisterIntrinsic("MethodState", "getLocals", func(_ *VM, args []any) (any, error) {
		obj, err := requireObject(args[0], "MethodState")
		if err != nil {
			return nil, err
		}
		return obj.Fields["locals"], nil
	})
	vm.RegisterIntrinsic("MethodState", "getStack", func(_ *VM, args []any) (any, error) {
		obj, err := requireObject(args[0], "MethodState")
		if err != nil {
			return nil, err
		}
		return obj.Fields["stack"], nil
	})

	vm.RegisterIntrinsic("java/lang/RuntimeException", "<init>", func(_ *VM, args []any) (any, error) {
		obj, err := requireObject(args[0], "java/lang/RuntimeException")
		if err != nil {
			return nil, err
		}
		obj.Fields["message"] = args[1]
		return nil, nil
	})

	vm.RegisterIntrinsic("Array", "get", func(_ *VM, args []any) (any, error) {
		arr, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("simvm: Array.get receiver was %T", args[0])
		}
		idx, ok := args[1].(int32)
		if !ok || int(idx) < 0 || int(idx) >= len(arr) {
			return nil, fmt.Errorf("simvm: Array.get index %v out of range for length %d", args[1], len(arr))
		}
		return arr[idx], nil
	})
	vm.RegisterIntrinsic("Array", "set", func(_ *VM, args []any) (any, error) {
		arr, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("simvm: Array.set receiver was %T", args[0])
		}
		idx, ok := args[1].(int32)
		if !ok || int(idx) < 0 || int(idx) >= len(arr) {
			return nil, fmt.Errorf("simvm: Array.set index %v out of range for length %d", args[1], len(arr))
		}
		arr[idx] = args[2]
		return nil, nil
	})

	registerBoxing(vm)
}

func requireObject(v any, wantClass string) (*Object, error) {
	obj, ok := v.(*Object)
	if !ok {
		return nil, fmt.Errorf("simvm: expected %s receiver, got %T", wantClass, v)
	}
	return obj, nil
}

func registerBoxing(vm *VM) {
	box := func(owner string, wrap func(any) (any, error)) {
		vm.RegisterIntrinsic(owner, "valueOf", func(_ *VM, args []any) (any, error) {
			return wrap(args[0])
		})
	}
	unbox := func(owner, accessor string, unwrap func(any) (any, error)) {
		vm.RegisterIntrinsic(owner, accessor, func(_ *VM, args []any) (any, error) {
			return unwrap(args[0])
		})
	}

	box("Boolean", func(v any) (any, error) {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("simvm: Boolean.valueOf argument was %T", v)
		}
		return BoxedBoolean{V: b}, nil
	})
	unbox("Boolean", "booleanValue", func(v any) (any, error) {
		b, ok := v.(BoxedBoolean)
		if !ok {
			return nil, fmt.Errorf("simvm: booleanValue receiver was %T, not BoxedBoolean", v)
		}
		return b.V, nil
	})

	box("Byte", func(v any) (any, error) {
		b, ok := v.(int8)
		if !ok {
			return nil, fmt.Errorf("simvm: Byte.valueOf argument was %T", v)
		}
		return BoxedByte{V: b}, nil
	})
	unbox("Byte", "byteValue", func(v any) (any, error) {
		b, ok := v.(BoxedByte)
		if !ok {
			return nil, fmt.Errorf("simvm: byteValue receiver was %T, not BoxedByte", v)
		}
		return b.V, nil
	})

	box("Short", func(v any) (any, error) {
		s, ok := v.(int16)
		if !ok {
			return nil, fmt.Errorf("simvm: Short.valueOf argument was %T", v)
		}
		return BoxedShort{V: s}, nil
	})
	unbox("Short", "shortValue", func(v any) (any, error) {
		s, ok := v.(BoxedShort)
		if !ok {
			return nil, fmt.Errorf("simvm: shortValue receiver was %T, not BoxedShort", v)
		}
		return s.V, nil
	})

	box("Character", func(v any) (any, error) {
		c, ok := v.(rune)
		if !ok {
			return nil, fmt.Errorf("simvm: Character.valueOf argument was %T", v)
		}
		return BoxedChar{V: c}, nil
	})
	unbox("Character", "charValue", func(v any) (any, error) {
		c, ok := v.(BoxedChar)
		if !ok {
			return nil, fmt.Errorf("simvm: charValue receiver was %T, not BoxedChar", v)
		}
		return c.V, nil
	})

	box("Integer", func(v any) (any, error) {
		i, ok := v.(int32)
		if !ok {
			return nil, fmt.Errorf("simvm: Integer.valueOf argument was %T", v)
		}
		return BoxedInt{V: i}, nil
	})
	unbox("Integer", "intValue", func(v any) (any, error) {
		i, ok := v.(BoxedInt)
		if !ok {
			return nil, fmt.Errorf("simvm: intValue receiver was %T, not BoxedInt", v)
		}
		return i.V, nil
	})

	// Long boxes/unboxes through its own distinct wrapper type,
	// BoxedLong, never through BoxedDouble - the exact pairing
	// spec.md's historical defect got wrong.
	box("Long", func(v any) (any, error) {
		l, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("simvm: Long.valueOf argument was %T", v)
		}
		return BoxedLong{V: l}, nil
	})
	unbox("Long", "longValue", func(v any) (any, error) {
		l, ok := v.(BoxedLong)
		if !ok {
			return nil, fmt.Errorf("simvm: longValue receiver was %T, not BoxedLong", v)
		}
		return l.V, nil
	})

	box("Float", func(v any) (any, error) {
		f, ok := v.(float32)
		if !ok {
			return nil, fmt.Errorf("simvm: Float.valueOf argument was %T", v)
		}
		return BoxedFloat{V: f}, nil
	})
	unbox("Float", "floatValue", func(v any) (any, error) {
		f, ok := v.(BoxedFloat)
		if !ok {
			return nil, fmt.Errorf("simvm: floatValue receiver was %T, not BoxedFloat", v)
		}
		return f.V, nil
	})

	box("Double", func(v any) (any, error) {
		d, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("simvm: Double.valueOf argument was %T", v)
		}
		return BoxedDouble{V: d}, nil
	})
	unbox("Double", "doubleValue", func(v any) (any, error) {
		d, ok := v.(BoxedDouble)
		if !ok {
			return nil, fmt.Errorf("simvm: doubleValue receiver was %T, not BoxedDouble", v)
		}
		return d.V, nil
	})
}

func registerStandardLibrary(vm *VM) {
	vm.RegisterIntrinsic("intrinsics", "add", func(_ *VM, args []any) (any, error) {
		return args[0].(int32) + args[1].(int32), nil
	})
	vm.RegisterIntrinsic("intrinsics", "sub", func(_ *VM, args []any) (any, error) {
		return args[0].(int32) - args[1].(int32), nil
	})
	vm.RegisterIntrinsic("intrinsics", "lt", func(_ *VM, args []any) (any, error) {
		if args[0].(int32) < args[1].(int32) {
			return int32(1), nil
		}
		return int32(0), nil
	})
	vm.RegisterIntrinsic("io", "println", func(vm *VM, args []any) (any, error) {
		fmt.Fprintf(vm.Stdout, "%v\n", args[0])
		return nil, nil
	})
}
