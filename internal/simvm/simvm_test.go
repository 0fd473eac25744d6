package simvm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"weave"
	"weave/internal/simvm"
)

func method(name string, numParams int, frag *weave.Fragment) *weave.Method {
	return &weave.Method{
		Name:          name,
		IsStatic:      true,
		Instructions:  frag.List(),
		NumParamSlots: numParams,
	}
}

func TestPrintlnWritesToStdoutBuffer(t *testing.T) {
	printlnRef := weave.MethodRef{Owner: "io", Name: "println", Kind: weave.CallStatic, NumArgs: 1}
	body := weave.Merge(weave.Call(printlnRef, weave.PushString("hello")), weave.ReturnValue(weave.Void(), weave.Empty()))

	vm := simvm.NewVM()
	vm.Register("m", method("greet", 0, body))

	_, err := vm.Invoke("m", "greet", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "hello\n", vm.Output())
}

func TestArithmeticAndReturn(t *testing.T) {
	arg := weave.Slot{Index: 0, Type: weave.Int()}
	addRef := weave.MethodRef{Owner: "intrinsics", Name: "add", Kind: weave.CallStatic, NumArgs: 2, HasReturn: true}
	body := weave.Merge(
		weave.Call(addRef, weave.Load(arg), weave.PushInt(7)),
		weave.ReturnValue(weave.Int(), weave.Empty()),
	)

	vm := simvm.NewVM()
	vm.Register("m", method("addSeven", 1, body))

	result, err := vm.Invoke("m", "addSeven", nil, []any{int32(35)})
	require.NoError(t, err)
	require.Equal(t, int32(42), result)
}

func TestTableSwitchDispatchesOnIndex(t *testing.T) {
	c0 := weave.NewLabel("case0")
	c1 := weave.NewLabel("case1")
	deflt := weave.NewLabel("deflt")
	idx := weave.Slot{Index: 0, Type: weave.Int()}

	body := weave.Merge(
		weave.TableSwitch(weave.Load(idx), 0, deflt, []*weave.Label{c0, c1}),
		weave.LabelFragment(c0), weave.PushInt(100), weave.ReturnValue(weave.Int(), weave.Empty()),
		weave.LabelFragment(c1), weave.PushInt(200), weave.ReturnValue(weave.Int(), weave.Empty()),
		weave.LabelFragment(deflt), weave.PushInt(-1), weave.ReturnValue(weave.Int(), weave.Empty()),
	)

	vm := simvm.NewVM()
	vm.Register("m", method("pick", 1, body))

	r0, err := vm.Invoke("m", "pick", nil, []any{int32(0)})
	require.NoError(t, err)
	require.Equal(t, int32(100), r0)

	r1, err := vm.Invoke("m", "pick", nil, []any{int32(1)})
	require.NoError(t, err)
	require.Equal(t, int32(200), r1)

	rDefault, err := vm.Invoke("m", "pick", nil, []any{int32(9)})
	require.NoError(t, err)
	require.Equal(t, int32(-1), rDefault)
}

func TestBoxingRoundTripsThroughValueOfAndAccessor(t *testing.T) {
	longRef := weave.MethodRef{Owner: "Long", Name: "valueOf", Kind: weave.CallStatic, NumArgs: 1, HasReturn: true}
	unboxRef := weave.MethodRef{Owner: "Long", Name: "longValue", Kind: weave.CallVirtual, NumArgs: 1, HasReturn: true}
	arg := weave.Slot{Index: 0, Type: weave.Long()}

	body := weave.Merge(
		weave.Call(longRef, weave.Load(arg)),
		weave.CheckCast(weave.Reference("Long")),
		weave.Call(unboxRef),
		weave.ReturnValue(weave.Long(), weave.Empty()),
	)

	vm := simvm.NewVM()
	vm.Register("m", method("roundtrip", 1, body))

	result, err := vm.Invoke("m", "roundtrip", nil, []any{int64(9000000000)})
	require.NoError(t, err)
	require.Equal(t, int64(9000000000), result)
}

func TestCheckCastRejectsTheWrongBoxedType(t *testing.T) {
	doubleRef := weave.MethodRef{Owner: "Double", Name: "valueOf", Kind: weave.CallStatic, NumArgs: 1, HasReturn: true}
	arg := weave.Slot{Index: 0, Type: weave.Double()}

	// A double value boxed through Double.valueOf, then cast to Long - the
	// exact shape of spec.md §4.3's historical defect, now caught as an
	// ordinary checkcast failure instead of silently misreading bytes.
	body := weave.Merge(
		weave.Call(doubleRef, weave.Load(arg)),
		weave.CheckCast(weave.Reference("Long")),
		weave.ReturnValue(weave.Long(), weave.Empty()),
	)

	vm := simvm.NewVM()
	vm.Register("m", method("mismatch", 1, body))

	_, err := vm.Invoke("m", "mismatch", nil, []any{3.14})
	require.Error(t, err)
}

func TestArrayGetAndSetRoundTrip(t *testing.T) {
	arrSlot := weave.Slot{Index: 0, Type: weave.Array(weave.Reference("java/lang/Object"))}
	setRef := weave.MethodRef{Owner: "Array", Name: "set", Kind: weave.CallVirtual, NumArgs: 3}
	getRef := weave.MethodRef{Owner: "Array", Name: "get", Kind: weave.CallVirtual, NumArgs: 2, HasReturn: true}
	newArrayRef := weave.MethodRef{Owner: "Array", Name: "new", Kind: weave.CallStatic, NumArgs: 1, HasReturn: true}

	frag := weave.Merge(
		weave.Call(newArrayRef, weave.PushInt(1)),
		weave.Store(arrSlot),
		weave.Call(setRef, weave.Load(arrSlot), weave.PushInt(0), weave.PushInt(77)),
		weave.Call(getRef, weave.Load(arrSlot), weave.PushInt(0)),
		weave.ReturnValue(weave.Int(), weave.Empty()),
	)

	vm := simvm.NewVM()
	vm.RegisterIntrinsic("Array", "new", func(_ *simvm.VM, args []any) (any, error) {
		return make([]any, args[0].(int32)), nil
	})
	vm.Register("m", method("arr", 0, frag))

	result, err := vm.Invoke("m", "arr", nil, nil)
	require.NoError(t, err)
	require.Equal(t, int32(77), result)
}
