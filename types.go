package weave

// TypeTag enumerates the verifier type kinds the codec and builder
// need to distinguish. Mirrors the JVM-style primitive/reference split
// this instruction set is modeled on.
type TypeTag int

const (
	TagBoolean TypeTag = iota
	TagByte
	TagShort
	TagChar
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagReference
	TagArray
	TagVoid
	TagMethod
)

var tagNames = map[TypeTag]string{
	TagBoolean:   "boolean",
	TagByte:      "byte",
	TagShort:     "short",
	TagChar:      "char",
	TagInt:       "int",
	TagLong:      "long",
	TagFloat:     "float",
	TagDouble:    "double",
	TagReference: "reference",
	TagArray:     "array",
	TagVoid:      "void",
	TagMethod:    "method",
}

func (t TypeTag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return "unknown"
}

// Type is a verifier-level static type: a tag plus whatever extra
// payload that tag needs (class name for a reference, element type for
// an array, descriptor for a method type).
type Type struct {
	Tag        TypeTag
	ClassName  string
	Elem       *Type
	Descriptor string
}

func Boolean() Type { return Type{Tag: TagBoolean} }
func Byte() Type    { return Type{Tag: TagByte} }
func Short() Type   { return Type{Tag: TagShort} }
func Char() Type    { return Type{Tag: TagChar} }
func Int() Type     { return Type{Tag: TagInt} }
func Long() Type    { return Type{Tag: TagLong} }
func Float() Type   { return Type{Tag: TagFloat} }
func Double() Type  { return Type{Tag: TagDouble} }
func Void() Type    { return Type{Tag: TagVoid} }

func Reference(className string) Type {
	return Type{Tag: TagReference, ClassName: className}
}

func Array(elem Type) Type {
	e := elem
	return Type{Tag: TagArray, Elem: &e}
}

func Method(descriptor string) Type {
	return Type{Tag: TagMethod, Descriptor: descriptor}
}

// IsWide reports whether this type occupies two consecutive local-slot
// or stack-word positions (long and double, exactly as on the JVM).
func (t Type) IsWide() bool {
	return t.Tag == TagLong || t.Tag == TagDouble
}

// IsPrimitive reports whether t is one of the eight primitive tags.
func (t Type) IsPrimitive() bool {
	switch t.Tag {
	case TagBoolean, TagByte, TagShort, TagChar, TagInt, TagLong, TagFloat, TagDouble:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	switch t.Tag {
	case TagReference:
		if t.ClassName != "" {
			return "reference(" + t.ClassName + ")"
		}
		return "reference"
	case TagArray:
		if t.Elem != nil {
			return "array(" + t.Elem.String() + ")"
		}
		return "array"
	case TagMethod:
		return "method(" + t.Descriptor + ")"
	default:
		return t.Tag.String()
	}
}

// FrameSlot is one entry of a verifier Frame: either a concrete type,
// or Absent to mark the high half of a wide value or an unused local.
type FrameSlot struct {
	Type   Type
	Absent bool
}

func occupied(t Type) FrameSlot { return FrameSlot{Type: t} }

var absentSlot = FrameSlot{Absent: true}

// Frame is the verifier's view of the operand stack and local variable
// table at one program point: the data C3 reads to build a save
// fragment and the shape C3's restore fragment must reproduce.
//
// Stack is ordered bottom to top. Locals is indexed directly by slot
// number; a wide value at index i leaves index i+1 Absent.
type Frame struct {
	Stack  []FrameSlot
	Locals []FrameSlot
}

// Validate checks the invariants a Frame must hold before the codec or
// rewriter may trust it: every wide local has an Absent partner
// immediately after it, and the operand stack holds no Absent slot. An
// Absent local outside such a pair marks an unused local.
func (f Frame) Validate() error {
	if err := validateSlots(f.Locals); err != nil {
		return err
	}
	for i, s := range f.Stack {
		if s.Absent {
			return malformedFrame("stack slot %d is absent; only locals may hold a wide-value partner slot", i).withDetail(f)
		}
	}
	return nil
}

func validateSlots(slots []FrameSlot) error {
	for i := 0; i < len(slots); i++ {
		s := slots[i]
		if s.Absent {
			continue
		}
		if s.Type.IsWide() {
			if i+1 >= len(slots) {
				return malformedFrame("wide local slot %d has no partner half", i).withDetail(slots)
			}
			if !slots[i+1].Absent {
				return malformedFrame("wide local slot %d's partner half (slot %d) is not marked absent", i, i+1).withDetail(slots)
			}
			i++
		}
	}
	return nil
}

// LiveLocals returns the indices of Locals that hold real data (skips
// Absent partner halves and unused locals), used by the codec's
// liveness-trimmed save.
func (f Frame) LiveLocals() []int {
	var out []int
	for i, s := range f.Locals {
		if !s.Absent {
			out = append(out, i)
		}
	}
	return out
}
