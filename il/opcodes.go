package il

import "fmt"

// ---------------------------------------------------------------------------
// IL opcode definitions
// ---------------------------------------------------------------------------

// Opcode is an IL tree operation.
type Opcode int

// Constants
const (
	BadOp Opcode = iota
	IConst
	LConst
	AConst
)

// Loads and stores. Direct forms address a symbol, indirect forms add the
// symbol's offset to the address in child 0.
const (
	LLoad Opcode = iota + 16
	ALoad
	LStore
	AStore
	LLoadi
	ALoadi
	LStorei
	AStorei
	LoadAddr
)

// Arithmetic and conversion
const (
	AXAdd Opcode = iota + 32
	LAdd
	LSub
	LAnd
	LOr
	LXor
	LNot
	IAnd
	IOr
	LCmpEq
	A2L
	L2A
	LTernary
)

// Calls
const (
	Call Opcode = iota + 48
	ICall
	LCall
	ACall
)

// Control and statements
const (
	TreeTop Opcode = iota + 64
	Goto
	IfLCmpEq
	IfLCmpNe
	IfICmpNe
	Lookup
	AReturn
	AsyncCheck
	Counter
)

// ---------------------------------------------------------------------------
// Opcode properties
// ---------------------------------------------------------------------------

// Property flags.
const (
	propLoad = 1 << iota
	propStore
	propIndirect
	propCall
	propBranch
	propTerminator
	propStatement
	propHasSymbol
)

// OpcodeInfo holds metadata about an IL opcode.
type OpcodeInfo struct {
	Name     string
	Children int // -1 means variadic
	props    int
}

var opcodeTable = map[Opcode]OpcodeInfo{
	IConst: {"iconst", 0, 0},
	LConst: {"lconst", 0, 0},
	AConst: {"aconst", 0, 0},

	LLoad:    {"lload", 0, propLoad | propHasSymbol},
	ALoad:    {"aload", 0, propLoad | propHasSymbol},
	LStore:   {"lstore", 1, propStore | propStatement | propHasSymbol},
	AStore:   {"astore", 1, propStore | propStatement | propHasSymbol},
	LLoadi:   {"lloadi", 1, propLoad | propIndirect | propHasSymbol},
	ALoadi:   {"aloadi", 1, propLoad | propIndirect | propHasSymbol},
	LStorei:  {"lstorei", 2, propStore | propIndirect | propStatement | propHasSymbol},
	AStorei:  {"astorei", 2, propStore | propIndirect | propStatement | propHasSymbol},
	LoadAddr: {"loadaddr", 0, propHasSymbol},

	AXAdd:    {"axadd", 2, 0},
	LAdd:     {"ladd", 2, 0},
	LSub:     {"lsub", 2, 0},
	LAnd:     {"land", 2, 0},
	LOr:      {"lor", 2, 0},
	LXor:     {"lxor", 2, 0},
	LNot:     {"lnot", 1, 0},
	IAnd:     {"iand", 2, 0},
	IOr:      {"ior", 2, 0},
	LCmpEq:   {"lcmpeq", 2, 0},
	A2L:      {"a2l", 1, 0},
	L2A:      {"l2a", 1, 0},
	LTernary: {"lternary", 3, 0},

	Call:  {"call", -1, propCall | propHasSymbol},
	ICall: {"icall", -1, propCall | propHasSymbol},
	LCall: {"lcall", -1, propCall | propHasSymbol},
	ACall: {"acall", -1, propCall | propHasSymbol},

	TreeTop:    {"treetop", 1, propStatement},
	Goto:       {"goto", 0, propBranch | propTerminator | propStatement},
	IfLCmpEq:   {"iflcmpeq", 2, propBranch | propStatement},
	IfLCmpNe:   {"iflcmpne", 2, propBranch | propStatement},
	IfICmpNe:   {"ificmpne", 2, propBranch | propStatement},
	Lookup:     {"lookup", 1, propBranch | propTerminator | propStatement},
	AReturn:    {"areturn", 1, propTerminator | propStatement},
	AsyncCheck: {"asynccheck", 0, propStatement | propHasSymbol},
	Counter:    {"counter", 0, propStatement},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", int(op))}
}

func (op Opcode) String() string { return op.Info().Name }

func (op Opcode) is(p int) bool { return op.Info().props&p != 0 }

func (op Opcode) IsLoad() bool       { return op.is(propLoad) }
func (op Opcode) IsStore() bool      { return op.is(propStore) }
func (op Opcode) IsIndirect() bool   { return op.is(propIndirect) }
func (op Opcode) IsCall() bool       { return op.is(propCall) }
func (op Opcode) IsBranch() bool     { return op.is(propBranch) }
func (op Opcode) IsTerminator() bool { return op.is(propTerminator) }
func (op Opcode) IsStatement() bool  { return op.is(propStatement) }
func (op Opcode) HasSymbol() bool    { return op.is(propHasSymbol) }

// IsIf reports whether op is a two-way conditional branch.
func (op Opcode) IsIf() bool {
	return op.IsBranch() && !op.IsTerminator()
}

// IsAddress reports whether op yields an address-typed value.
func (op Opcode) IsAddress() bool {
	switch op {
	case AConst, ALoad, ALoadi, LoadAddr, AXAdd, L2A, ACall:
		return true
	}
	return false
}

// IsConst reports whether op is a constant leaf.
func (op Opcode) IsConst() bool {
	return op == IConst || op == LConst || op == AConst
}
