package weave

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoxValueUsesTheMatchingTagNeverTheNeighboringWideTag(t *testing.T) {
	longFrag := boxValue(Long(), Load(Slot{Index: 0, Type: Long()}))
	invoke := longFrag.List().Tail()
	require.Equal(t, OpInvoke, invoke.Op)
	require.Equal(t, "Long", invoke.MethodRef.Owner,
		"boxing a long must call Long.valueOf, never Double.valueOf")

	doubleFrag := boxValue(Double(), Load(Slot{Index: 0, Type: Double()}))
	invoke = doubleFrag.List().Tail()
	require.Equal(t, "Double", invoke.MethodRef.Owner)
}

func TestUnboxValueChecksCastBeforeCallingTheMatchingAccessor(t *testing.T) {
	frag := unboxValue(Long(), Load(Slot{Index: 0, Type: Reference("Long")}))
	ops := opsOf(frag)
	require.Equal(t, []Op{OpLoad, OpCheckCast, OpInvoke}, ops)

	cast := frag.List().Slice()[1]
	require.Equal(t, "Long", cast.Type.ClassName)

	invoke := frag.List().Tail()
	require.Equal(t, "longValue", invoke.MethodRef.Name)
}

func TestBoxValuePassesReferenceTypesThrough(t *testing.T) {
	frag := boxValue(Reference("java/lang/String"), PushString("hi"))
	require.Equal(t, []Op{OpPushString}, opsOf(frag), "boxing a reference type must be a no-op")
}

func simpleFrame() Frame {
	return Frame{
		Locals: []FrameSlot{occupied(Int()), occupied(Reference("java/lang/String"))},
		Stack:  []FrameSlot{occupied(Long()), absentSlot},
	}
}

func TestSaveRejectsMismatchedStackSlotCount(t *testing.T) {
	vt := NewVariableTable(0)
	sl := AllocateSupportLocals(vt)
	frame := Frame{Stack: []FrameSlot{occupied(Int())}}
	_, err := Save(frame, sl, nil)
	require.Error(t, err)
	require.True(t, IsKind(err, InvalidRequest))
}

func TestSaveAndRestoreRejectMalformedFrames(t *testing.T) {
	vt := NewVariableTable(0)
	sl := AllocateSupportLocals(vt)
	bad := Frame{Locals: []FrameSlot{{Type: Long()}, occupied(Int())}}
	_, err := Save(bad, sl, nil)
	require.Error(t, err)
	require.True(t, IsKind(err, MalformedFrame))

	_, err = Restore(bad, sl, nil)
	require.Error(t, err)
	require.True(t, IsKind(err, MalformedFrame))
}

func TestSaveOnlyBoxesLiveLocals(t *testing.T) {
	frame := Frame{
		Locals: []FrameSlot{occupied(Long()), absentSlot, occupied(Int())},
		Stack:  nil,
	}
	vt := NewVariableTable(0)
	sl := AllocateSupportLocals(vt)
	frag, err := Save(frame, sl, nil)
	require.NoError(t, err)

	// Two live locals (index 0, a long, and index 2, an int) means two
	// boxing calls, one per live entry, not three.
	count := 0
	for ins := frag.List().Head(); ins != nil; ins = ins.Next() {
		if ins.Op == OpInvoke && (ins.MethodRef.Name == "valueOf") {
			count++
		}
	}
	require.Equal(t, 2, count)
}
