package weave

// This file names the runtime continuation ABI the rewriter emits
// invoke/new instructions against. None of it is implemented by this
// package; implementing Continuation, MethodState, or Coroutine.run is
// explicitly out of scope (see spec.md and SPEC_FULL.md §6). The test
// package internal/simvm supplies a minimal implementation purely so
// tests can execute rewritten methods end to end.
var (
	ContinuationGetMode = MethodRef{Owner: "Continuation", Name: "getMode", Kind: CallVirtual, NumArgs: 1, HasReturn: true}
	ContinuationSetMode = MethodRef{Owner: "Continuation", Name: "setMode", Kind: CallVirtual, NumArgs: 2}
	ContinuationPush    = MethodRef{Owner: "Continuation", Name: "push", Kind: CallVirtual, NumArgs: 2}
	ContinuationPop     = MethodRef{Owner: "Continuation", Name: "pop", Kind: CallVirtual, NumArgs: 1, HasReturn: true}

	MethodStateInit                 = MethodRef{Owner: "MethodState", Name: "<init>", Kind: CallSpecial, NumArgs: 4}
	MethodStateGetContinuationIndex = MethodRef{Owner: "MethodState", Name: "getContinuationIndex", Kind: CallVirtual, NumArgs: 1, HasReturn: true}
	MethodStateGetLocals            = MethodRef{Owner: "MethodState", Name: "getLocals", Kind: CallVirtual, NumArgs: 1, HasReturn: true}
	MethodStateGetStack             = MethodRef{Owner: "MethodState", Name: "getStack", Kind: CallVirtual, NumArgs: 1, HasReturn: true}

	CoroutineRun = MethodRef{Owner: "Coroutine", Name: "run", Kind: CallInterface, NumArgs: 2, HasReturn: true}
)

// Continuation modes, per the ABI contract: Normal execution, a
// continuation point unwinding a suspended call chain, or
// Coroutine.run rewinding a previously-suspended call chain back into
// this method.
const (
	ModeNormal     = 0
	ModeSuspending = 1
	ModeResuming   = 2
)

// boxRefs is the table of ABI-level boxing/unboxing method refs the
// codec calls into. long and double are deliberately distinct entries
// here: this is the exact place spec.md §4.3's historical defect lived
// (boxing a long through the double-valued path), and it stays fixed
// by keeping Long and Double as separate, non-interchangeable refs.
var boxRefs = map[TypeTag]MethodRef{
	TagBoolean: {Owner: "Boolean", Name: "valueOf", Kind: CallStatic, NumArgs: 1, HasReturn: true},
	TagByte:    {Owner: "Byte", Name: "valueOf", Kind: CallStatic, NumArgs: 1, HasReturn: true},
	TagShort:   {Owner: "Short", Name: "valueOf", Kind: CallStatic, NumArgs: 1, HasReturn: true},
	TagChar:    {Owner: "Character", Name: "valueOf", Kind: CallStatic, NumArgs: 1, HasReturn: true},
	TagInt:     {Owner: "Integer", Name: "valueOf", Kind: CallStatic, NumArgs: 1, HasReturn: true},
	TagLong:    {Owner: "Long", Name: "valueOf", Kind: CallStatic, NumArgs: 1, HasReturn: true},
	TagFloat:   {Owner: "Float", Name: "valueOf", Kind: CallStatic, NumArgs: 1, HasReturn: true},
	TagDouble:  {Owner: "Double", Name: "valueOf", Kind: CallStatic, NumArgs: 1, HasReturn: true},
}

var unboxRefs = map[TypeTag]MethodRef{
	TagBoolean: {Owner: "Boolean", Name: "booleanValue", Kind: CallVirtual, NumArgs: 1, HasReturn: true},
	TagByte:    {Owner: "Byte", Name: "byteValue", Kind: CallVirtual, NumArgs: 1, HasReturn: true},
	TagShort:   {Owner: "Short", Name: "shortValue", Kind: CallVirtual, NumArgs: 1, HasReturn: true},
	TagChar:    {Owner: "Character", Name: "charValue", Kind: CallVirtual, NumArgs: 1, HasReturn: true},
	TagInt:     {Owner: "Integer", Name: "intValue", Kind: CallVirtual, NumArgs: 1, HasReturn: true},
	TagLong:    {Owner: "Long", Name: "longValue", Kind: CallVirtual, NumArgs: 1, HasReturn: true},
	TagFloat:   {Owner: "Float", Name: "floatValue", Kind: CallVirtual, NumArgs: 1, HasReturn: true},
	TagDouble:  {Owner: "Double", Name: "doubleValue", Kind: CallVirtual, NumArgs: 1, HasReturn: true},
}

// boxClassName reports the wrapper class a boxed primitive of tag t is
// an instance of, for the restore path's checkcast before unboxing.
func boxClassName(t TypeTag) string {
	return boxRefs[t].Owner
}
