// Package simvm is a small stack/locals interpreter used only by this
// module's tests to execute a weave.Method end to end, the way
// KTStephano-GVM's own vm/vm.go execInstructions loop runs a compiled
// program. It also supplies a minimal implementation of the
// Continuation/MethodState runtime ABI (weave/abi.go), purely so a
// test can drive a suspend/resume cycle without a real JVM - weave
// itself never implements that ABI; it only emits calls against it.
package simvm

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"weave"
)

// Object models any non-primitive value the interpreter needs a
// mutable identity for: a MethodState, a RuntimeException, or any
// other "new"-allocated instance. Arrays are represented directly as
// []any, strings as Go strings, and boxed primitives as the Boxed*
// types below; none of them needs an Object wrapper.
type Object struct {
	Class  string
	Fields map[string]any
}

// Boxed wrapper types. Kept distinct per primitive tag (rather than
// one generic "boxed value" struct) so a CheckCast/unbox mismatch -
// exactly the failure mode spec.md §4.3's historical long/double
// boxing defect produced - is a real type assertion failure here
// instead of something that silently reinterprets bytes.
type (
	BoxedBoolean struct{ V bool }
	BoxedByte    struct{ V int8 }
	BoxedShort   struct{ V int16 }
	BoxedChar    struct{ V rune }
	BoxedInt     struct{ V int32 }
	BoxedLong    struct{ V int64 }
	BoxedFloat   struct{ V float32 }
	BoxedDouble  struct{ V float64 }
)

// Continuation is this package's implementation of the ABI collaborator
// weave.ContinuationGetMode/SetMode/Push/Pop are emitted against.
type Continuation struct {
	mode   int
	states []*Object // stack of pushed MethodState objects
}

func NewContinuation() *Continuation {
	return &Continuation{mode: weave.ModeNormal}
}

func (c *Continuation) GetMode() int   { return c.mode }
func (c *Continuation) SetMode(m int)  { c.mode = m }
func (c *Continuation) Push(s *Object) { c.states = append(c.states, s) }

func (c *Continuation) Pop() *Object {
	if len(c.states) == 0 {
		return nil
	}
	last := c.states[len(c.states)-1]
	c.states = c.states[:len(c.states)-1]
	return last
}

// CompiledMethod wraps a weave.Method with the flat, directly-indexed
// instruction slice and pc lookups the interpreter runs over.
type CompiledMethod struct {
	Owner  string
	Method *weave.Method

	order []*weave.Instruction
	pcOf  map[*weave.Instruction]int
}

func Compile(owner string, m *weave.Method) *CompiledMethod {
	order := m.Instructions.Slice()
	pcOf := make(map[*weave.Instruction]int, len(order))
	for i, ins := range order {
		pcOf[ins] = i
	}
	return &CompiledMethod{Owner: owner, Method: m, order: order, pcOf: pcOf}
}

func (c *CompiledMethod) pcOfLabel(lbl *weave.Label) (int, bool) {
	ins := c.Method.Instructions.Resolve(lbl)
	if ins == nil {
		return 0, false
	}
	pc, ok := c.pcOf[ins]
	return pc, ok
}

// Intrinsic is a native implementation of a static method simvm
// recognizes by owner+name, used for the small "standard library"
// (arithmetic, println) test fixture method bodies call through
// weave's ordinary Call() builder fragment, and for the runtime ABI
// methods weave.Rewriter emits calls against.
type Intrinsic func(vm *VM, args []any) (any, error)

// VM runs CompiledMethods. Its buffered stdout mirrors
// KTStephano-GVM's vm.go stdout handling (bufio.Writer over a
// strings.Builder instead of os.Stdout, since tests want to assert on
// captured output, not the process's real stdout).
type VM struct {
	methods    map[string]*CompiledMethod
	intrinsics map[string]Intrinsic

	outBuf *strings.Builder
	Stdout *bufio.Writer
}

func NewVM() *VM {
	vm := &VM{
		methods:    make(map[string]*CompiledMethod),
		intrinsics: make(map[string]Intrinsic),
		outBuf:     &strings.Builder{},
	}
	vm.Stdout = bufio.NewWriter(vm.outBuf)
	registerABIIntrinsics(vm)
	registerStandardLibrary(vm)
	return vm
}

// Output returns everything written to Stdout so far, flushing first.
func (vm *VM) Output() string {
	vm.Stdout.Flush()
	return vm.outBuf.String()
}

// Register makes m callable by owner.name through invoke instructions
// whose MethodRef matches.
func (vm *VM) Register(owner string, m *weave.Method) *CompiledMethod {
	cm := Compile(owner, m)
	vm.methods[key(owner, m.Name)] = cm
	return cm
}

func (vm *VM) RegisterIntrinsic(owner, name string, fn Intrinsic) {
	vm.intrinsics[key(owner, name)] = fn
}

func key(owner, name string) string { return owner + "." + name }

var errNoHandler = errors.New("simvm: uncaught exception")

// Invoke runs the named method with the given already-evaluated
// arguments. args[0] is conventionally the receiver for instance
// methods, matching weave's own Call()/Construct() argument
// convention. continuation, if non-nil, is stored in the method's
// reserved ContinuationSlot exactly as weave.Rewriter expects to find
// it there.
func (vm *VM) Invoke(owner, name string, continuation *Continuation, args []any) (any, error) {
	cm, ok := vm.methods[key(owner, name)]
	if !ok {
		return nil, fmt.Errorf("simvm: no method registered for %s.%s", owner, name)
	}
	return vm.run(cm, continuation, args)
}

func (vm *VM) run(cm *CompiledMethod, continuation *Continuation, args []any) (any, error) {
	locals := make([]any, cm.Method.NumParamSlots, cm.Method.NumParamSlots+8)
	copy(locals, args)
	if continuation != nil {
		idx := cm.Method.ContinuationSlot.Index
		for len(locals) <= idx {
			locals = append(locals, nil)
		}
		locals[idx] = continuation
	}

	var stack []any
	pc := 0
	for pc < len(cm.order) {
		ins := cm.order[pc]
		next := pc + 1

		switch ins.Op {
		case weave.OpNop, weave.OpLabel, weave.OpLine:
			// no-op

		case weave.OpJump:
			p, ok := cm.pcOfLabel(ins.Target)
			if !ok {
				return nil, fmt.Errorf("simvm: unresolved jump target in %s.%s", cm.Owner, cm.Method.Name)
			}
			next = p

		case weave.OpIfICmpNe:
			b := popInt(&stack)
			a := popInt(&stack)
			if a != b {
				p, ok := cm.pcOfLabel(ins.Target)
				if !ok {
					return nil, fmt.Errorf("simvm: unresolved if_icmpne target in %s.%s", cm.Owner, cm.Method.Name)
				}
				next = p
			}

		case weave.OpPushInt:
			stack = append(stack, ins.IntOperand)

		case weave.OpPushString:
			stack = append(stack, ins.StrOperand)

		case weave.OpPushNull:
			stack = append(stack, nil)

		case weave.OpPop:
			stack = stack[:len(stack)-1]

		case weave.OpDup:
			stack = append(stack, stack[len(stack)-1])

		case weave.OpLoad:
			idx := ins.Slot.Index
			for len(locals) <= idx {
				locals = append(locals, nil)
			}
			stack = append(stack, locals[idx])

		case weave.OpStore:
			idx := ins.Slot.Index
			for len(locals) <= idx {
				locals = append(locals, nil)
			}
			locals[idx] = stack[len(stack)-1]
			stack = stack[:len(stack)-1]

		case weave.OpNew:
			if ins.Type.Tag == weave.TagArray {
				stack = append(stack, make([]any, ins.IntOperand))
			} else {
				stack = append(stack, &Object{Class: ins.Type.ClassName, Fields: map[string]any{}})
			}

		case weave.OpCheckCast:
			top := stack[len(stack)-1]
			if err := checkCast(top, ins.Type); err != nil {
				exc := &Object{Class: "java/lang/ClassCastException", Fields: map[string]any{"message": err.Error()}}
				handlerPC, ok := findHandler(cm, pc, exc)
				if !ok {
					return nil, fmt.Errorf("%w: %v in %s.%s", errNoHandler, err, cm.Owner, cm.Method.Name)
				}
				stack = stack[:0]
				stack = append(stack, exc)
				next = handlerPC
			}

		case weave.OpInvoke:
			result, err := vm.dispatch(cm, continuation, ins, &stack)
			if err != nil {
				return nil, err
			}
			if ins.MethodRef.HasReturn {
				stack = append(stack, result)
			}

		case weave.OpThrow:
			exc := stack[len(stack)-1]
			handlerPC, ok := findHandler(cm, pc, exc)
			if !ok {
				return nil, fmt.Errorf("%w: %v in %s.%s", errNoHandler, exc, cm.Owner, cm.Method.Name)
			}
			stack = stack[:0]
			stack = append(stack, exc)
			next = handlerPC

		case weave.OpTableSwitch:
			idx := popInt(&stack)
			target := ins.Default
			if idx >= ins.Low && int(idx-ins.Low) < len(ins.Cases) {
				target = ins.Cases[idx-ins.Low]
			}
			p, ok := cm.pcOfLabel(target)
			if !ok {
				return nil, fmt.Errorf("simvm: unresolved tableswitch target in %s.%s", cm.Owner, cm.Method.Name)
			}
			next = p

		case weave.OpReturn:
			if ins.Type.Tag == weave.TagVoid {
				return nil, nil
			}
			return stack[len(stack)-1], nil

		default:
			return nil, fmt.Errorf("simvm: unhandled opcode %s", ins.Op)
		}

		pc = next
	}
	return nil, fmt.Errorf("simvm: %s.%s fell off the end of its instruction list", cm.Owner, cm.Method.Name)
}

func popInt(stack *[]any) int32 {
	s := *stack
	v := s[len(s)-1]
	*stack = s[:len(s)-1]
	return v.(int32)
}

func findHandler(cm *CompiledMethod, throwPC int, exc any) (int, bool) {
	className := ""
	if obj, ok := exc.(*Object); ok {
		className = obj.Class
	}
	for _, eh := range cm.Method.Exceptions {
		startPC, ok := cm.pcOf[eh.Start]
		if !ok {
			continue
		}
		endPC := len(cm.order)
		if eh.End != nil {
			if p, ok := cm.pcOf[eh.End]; ok {
				endPC = p
			}
		}
		if throwPC < startPC || throwPC >= endPC {
			continue
		}
		if eh.ClassName != "" && eh.ClassName != className {
			continue
		}
		if p, ok := cm.pcOf[eh.Handler]; ok {
			return p, true
		}
	}
	return 0, false
}

func checkCast(v any, t weave.Type) error {
	if t.Tag != weave.TagReference {
		return nil
	}
	switch t.ClassName {
	case "Boolean":
		_, ok := v.(BoxedBoolean)
		return castErr(ok, "Boolean", v)
	case "Byte":
		_, ok := v.(BoxedByte)
		return castErr(ok, "Byte", v)
	case "Short":
		_, ok := v.(BoxedShort)
		return castErr(ok, "Short", v)
	case "Character":
		_, ok := v.(BoxedChar)
		return castErr(ok, "Character", v)
	case "Integer":
		_, ok := v.(BoxedInt)
		return castErr(ok, "Integer", v)
	case "Long":
		_, ok := v.(BoxedLong)
		return castErr(ok, "Long", v)
	case "Float":
		_, ok := v.(BoxedFloat)
		return castErr(ok, "Float", v)
	case "Double":
		_, ok := v.(BoxedDouble)
		return castErr(ok, "Double", v)
	default:
		return nil
	}
}

func castErr(ok bool, want string, got any) error {
	if ok {
		return nil
	}
	return fmt.Errorf("simvm: checkcast to %s failed: value was %T", want, got)
}
