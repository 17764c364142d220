package yarv

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single YARV instruction. In an encoded sequence the opcode
// occupies one word and is followed by its operand words.
type Opcode uint64

// Locals and specials
const (
	OpNop                 Opcode = 0
	OpGetLocal            Opcode = 1
	OpSetLocal            Opcode = 2
	OpGetSpecial          Opcode = 3
	OpSetSpecial          Opcode = 4
	OpGetInstanceVariable Opcode = 5
	OpSetInstanceVariable Opcode = 6
	OpGetClassVariable    Opcode = 7
	OpSetClassVariable    Opcode = 8
	OpGetConstant         Opcode = 9
	OpSetConstant         Opcode = 10
	OpGetGlobal           Opcode = 11
	OpSetGlobal           Opcode = 12
)

// Push values
const (
	OpPutNil           Opcode = 13
	OpPutSelf          Opcode = 14
	OpPutObject        Opcode = 15
	OpPutSpecialObject Opcode = 16
	OpPutIseq          Opcode = 17
	OpPutString        Opcode = 18
	OpConcatStrings    Opcode = 19
	OpToString         Opcode = 20
	OpFreezeString     Opcode = 21
	OpToRegexp         Opcode = 22
	OpNewArray         Opcode = 23
	OpDupArray         Opcode = 24
	OpExpandArray      Opcode = 25
	OpConcatArray      Opcode = 26
	OpSplatArray       Opcode = 27
	OpNewHash          Opcode = 28
	OpNewRange         Opcode = 29
)

// Stack manipulation
const (
	OpPop         Opcode = 30
	OpDup         Opcode = 31
	OpDupN        Opcode = 32
	OpSwap        Opcode = 33
	OpReverse     Opcode = 34
	OpReput       Opcode = 35
	OpTopN        Opcode = 36
	OpSetN        Opcode = 37
	OpAdjustStack Opcode = 38
)

// Checks and definitions
const (
	OpDefined      Opcode = 39
	OpCheckMatch   Opcode = 40
	OpCheckKeyword Opcode = 41
	OpTrace        Opcode = 42
	OpDefineClass  Opcode = 43
)

// Method invocation
const (
	OpSend                Opcode = 44
	OpOptStrFreeze        Opcode = 45
	OpOptNewArrayMax      Opcode = 46
	OpOptNewArrayMin      Opcode = 47
	OpOptSendWithoutBlock Opcode = 48
	OpInvokeSuper         Opcode = 49
	OpInvokeBlock         Opcode = 50
	OpLeave               Opcode = 51
)

// Control flow
const (
	OpThrow           Opcode = 52
	OpJump            Opcode = 53
	OpBranchIf        Opcode = 54
	OpBranchUnless    Opcode = 55
	OpBranchNil       Opcode = 56
	OpGetInlineCache  Opcode = 57
	OpSetInlineCache  Opcode = 58
	OpOnce            Opcode = 59
	OpOptCaseDispatch Opcode = 60
)

// Optimized sends
const (
	OpOptPlus         Opcode = 61
	OpOptMinus        Opcode = 62
	OpOptMult         Opcode = 63
	OpOptDiv          Opcode = 64
	OpOptMod          Opcode = 65
	OpOptEq           Opcode = 66
	OpOptNeq          Opcode = 67
	OpOptLt           Opcode = 68
	OpOptLe           Opcode = 69
	OpOptGt           Opcode = 70
	OpOptGe           Opcode = 71
	OpOptLtLt         Opcode = 72
	OpOptAref         Opcode = 73
	OpOptAset         Opcode = 74
	OpOptAsetWith     Opcode = 75
	OpOptArefWith     Opcode = 76
	OpOptLength       Opcode = 77
	OpOptSize         Opcode = 78
	OpOptEmptyP       Opcode = 79
	OpOptSucc         Opcode = 80
	OpOptNot          Opcode = 81
	OpOptRegexpMatch1 Opcode = 82
	OpOptRegexpMatch2 Opcode = 83
	OpOptCallCFunc    Opcode = 84
	OpBitblt          Opcode = 85
	OpAnswer          Opcode = 86
)

// Operand-unified variants
const (
	OpGetLocalWC0       Opcode = 87
	OpGetLocalWC1       Opcode = 88
	OpSetLocalWC0       Opcode = 89
	OpSetLocalWC1       Opcode = 90
	OpPutObjectInt2Fix0 Opcode = 91
	OpPutObjectInt2Fix1 Opcode = 92
)

// InstructionCount is the number of defined opcodes.
const InstructionCount = 93

// ---------------------------------------------------------------------------
// Operand types
// ---------------------------------------------------------------------------

// Operand type letters, one per operand word.
const (
	TSOffset    = 'O' // branch offset relative to the next instruction
	TSNum       = 'N' // unsigned count or flag
	TSLIndex    = 'L' // local variable index
	TSCallInfo  = 'C' // index into Iseq.CallInfos
	TSCallCache = 'E' // call cache handle
	TSValue     = 'V' // immediate object
	TSIC        = 'I' // inline cache handle
	TSIseq      = 'S' // child iseq handle
	TSGEntry    = 'G' // global entry handle
	TSCDHash    = 'H' // index into Iseq.CaseHashes
	TSID        = 'K' // interned symbol id
	TSFuncPtr   = 'F' // C function pointer
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // YARV instruction name
	Operands string // operand type letters
}

// Len returns the encoded length in words, opcode included.
func (i OpcodeInfo) Len() int {
	return 1 + len(i.Operands)
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:                 {"nop", ""},
	OpGetLocal:            {"getlocal", "LN"},
	OpSetLocal:            {"setlocal", "LN"},
	OpGetSpecial:          {"getspecial", "NN"},
	OpSetSpecial:          {"setspecial", "N"},
	OpGetInstanceVariable: {"getinstancevariable", "KI"},
	OpSetInstanceVariable: {"setinstancevariable", "KI"},
	OpGetClassVariable:    {"getclassvariable", "K"},
	OpSetClassVariable:    {"setclassvariable", "K"},
	OpGetConstant:         {"getconstant", "K"},
	OpSetConstant:         {"setconstant", "K"},
	OpGetGlobal:           {"getglobal", "G"},
	OpSetGlobal:           {"setglobal", "G"},

	OpPutNil:           {"putnil", ""},
	OpPutSelf:          {"putself", ""},
	OpPutObject:        {"putobject", "V"},
	OpPutSpecialObject: {"putspecialobject", "N"},
	OpPutIseq:          {"putiseq", "S"},
	OpPutString:        {"putstring", "V"},
	OpConcatStrings:    {"concatstrings", "N"},
	OpToString:         {"tostring", ""},
	OpFreezeString:     {"freezestring", "V"},
	OpToRegexp:         {"toregexp", "NN"},
	OpNewArray:         {"newarray", "N"},
	OpDupArray:         {"duparray", "V"},
	OpExpandArray:      {"expandarray", "NN"},
	OpConcatArray:      {"concatarray", ""},
	OpSplatArray:       {"splatarray", "V"},
	OpNewHash:          {"newhash", "N"},
	OpNewRange:         {"newrange", "N"},

	OpPop:         {"pop", ""},
	OpDup:         {"dup", ""},
	OpDupN:        {"dupn", "N"},
	OpSwap:        {"swap", ""},
	OpReverse:     {"reverse", "N"},
	OpReput:       {"reput", ""},
	OpTopN:        {"topn", "N"},
	OpSetN:        {"setn", "N"},
	OpAdjustStack: {"adjuststack", "N"},

	OpDefined:      {"defined", "NVV"},
	OpCheckMatch:   {"checkmatch", "N"},
	OpCheckKeyword: {"checkkeyword", "LN"},
	OpTrace:        {"trace", "N"},
	OpDefineClass:  {"defineclass", "KSN"},

	OpSend:                {"send", "CES"},
	OpOptStrFreeze:        {"opt_str_freeze", "V"},
	OpOptNewArrayMax:      {"opt_newarray_max", "N"},
	OpOptNewArrayMin:      {"opt_newarray_min", "N"},
	OpOptSendWithoutBlock: {"opt_send_without_block", "CE"},
	OpInvokeSuper:         {"invokesuper", "CES"},
	OpInvokeBlock:         {"invokeblock", "C"},
	OpLeave:               {"leave", ""},

	OpThrow:           {"throw", "N"},
	OpJump:            {"jump", "O"},
	OpBranchIf:        {"branchif", "O"},
	OpBranchUnless:    {"branchunless", "O"},
	OpBranchNil:       {"branchnil", "O"},
	OpGetInlineCache:  {"getinlinecache", "OI"},
	OpSetInlineCache:  {"setinlinecache", "I"},
	OpOnce:            {"once", "SI"},
	OpOptCaseDispatch: {"opt_case_dispatch", "HO"},

	OpOptPlus:         {"opt_plus", "CE"},
	OpOptMinus:        {"opt_minus", "CE"},
	OpOptMult:         {"opt_mult", "CE"},
	OpOptDiv:          {"opt_div", "CE"},
	OpOptMod:          {"opt_mod", "CE"},
	OpOptEq:           {"opt_eq", "CE"},
	OpOptNeq:          {"opt_neq", "CECE"},
	OpOptLt:           {"opt_lt", "CE"},
	OpOptLe:           {"opt_le", "CE"},
	OpOptGt:           {"opt_gt", "CE"},
	OpOptGe:           {"opt_ge", "CE"},
	OpOptLtLt:         {"opt_ltlt", "CE"},
	OpOptAref:         {"opt_aref", "CE"},
	OpOptAset:         {"opt_aset", "CE"},
	OpOptAsetWith:     {"opt_aset_with", "CEV"},
	OpOptArefWith:     {"opt_aref_with", "CEV"},
	OpOptLength:       {"opt_length", "CE"},
	OpOptSize:         {"opt_size", "CE"},
	OpOptEmptyP:       {"opt_empty_p", "CE"},
	OpOptSucc:         {"opt_succ", "CE"},
	OpOptNot:          {"opt_not", "CE"},
	OpOptRegexpMatch1: {"opt_regexpmatch1", "V"},
	OpOptRegexpMatch2: {"opt_regexpmatch2", "CE"},
	OpOptCallCFunc:    {"opt_call_c_function", "F"},
	OpBitblt:          {"bitblt", ""},
	OpAnswer:          {"answer", ""},

	OpGetLocalWC0:       {"getlocal_OP__WC__0", "L"},
	OpGetLocalWC1:       {"getlocal_OP__WC__1", "L"},
	OpSetLocalWC0:       {"setlocal_OP__WC__0", "L"},
	OpSetLocalWC1:       {"setlocal_OP__WC__1", "L"},
	OpPutObjectInt2Fix0: {"putobject_OP_INT2FIX_O_0_C_", ""},
	OpPutObjectInt2Fix1: {"putobject_OP_INT2FIX_O_1_C_", ""},
}

var opcodeByName map[string]Opcode

func init() {
	opcodeByName = make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		opcodeByName[info.Name] = op
	}
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint64(op))}
}

// Name returns the YARV name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Len returns the encoded instruction length in words.
func (op Opcode) Len() int {
	return op.Info().Len()
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// Valid reports whether op is a known instruction.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// IsBranch reports whether the instruction carries a branch offset as its
// first operand.
func (op Opcode) IsBranch() bool {
	switch op {
	case OpJump, OpBranchIf, OpBranchUnless, OpBranchNil, OpGetInlineCache:
		return true
	}
	return false
}

// Lookup returns the opcode with the given YARV name.
func Lookup(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// Names returns every instruction name, sorted.
func Names() []string {
	names := make([]string, 0, len(opcodeByName))
	for name := range opcodeByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
