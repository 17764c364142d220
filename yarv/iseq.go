package yarv

import "fmt"

// Interpreter layout constants shared with the translator.
const (
	SlotSize            = 8  // bytes per VALUE slot
	EnvDataSize         = 3  // environment words below the locals
	EnvDataIndexSpecVal = -1 // environment word holding the previous ep
)

// Object encodings of the immediates the translator materializes.
const (
	Qfalse uint64 = 0x00
	Qnil   uint64 = 0x08
	Qtrue  uint64 = 0x14
	Qundef uint64 = 0x34
)

// Int2Fix returns the tagged fixnum encoding of n.
func Int2Fix(n int64) uint64 {
	return uint64(n)<<1 | 1
}

// ---------------------------------------------------------------------------
// Call info
// ---------------------------------------------------------------------------

// Call-info flag bits.
const (
	CallArgsSplat    uint32 = 1 << 0
	CallArgsBlockarg uint32 = 1 << 1
	CallFcall        uint32 = 1 << 2
	CallVcall        uint32 = 1 << 3
	CallArgsSimple   uint32 = 1 << 4
	CallBlockiseq    uint32 = 1 << 5
	CallKwarg        uint32 = 1 << 6
	CallTailcall     uint32 = 1 << 7
	CallSuper        uint32 = 1 << 8
	CallOptSend      uint32 = 1 << 9
)

var callFlagNames = []struct {
	bit  uint32
	name string
}{
	{CallArgsSplat, "ARGS_SPLAT"},
	{CallArgsBlockarg, "ARGS_BLOCKARG"},
	{CallFcall, "FCALL"},
	{CallVcall, "VCALL"},
	{CallArgsSimple, "ARGS_SIMPLE"},
	{CallBlockiseq, "BLOCKISEQ"},
	{CallKwarg, "KWARG"},
	{CallTailcall, "TAILCALL"},
	{CallSuper, "SUPER"},
	{CallOptSend, "OPT_SEND"},
}

// CallInfo describes the argument shape of a call site.
type CallInfo struct {
	Mid  string `cbor:"mid" yaml:"mid"`
	Flag uint32 `cbor:"flag" yaml:"flag"`
	ArgC int    `cbor:"argc" yaml:"argc"`
}

// Has reports whether all bits in flag are set.
func (ci CallInfo) Has(flag uint32) bool {
	return ci.Flag&flag == flag
}

// FlagString renders the set flags as NAME|NAME.
func (ci CallInfo) FlagString() string {
	s := ""
	for _, f := range callFlagNames {
		if ci.Flag&f.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += f.name
		}
	}
	return s
}

// ---------------------------------------------------------------------------
// Catch table
// ---------------------------------------------------------------------------

// CatchType identifies the kind of a catch-table entry.
type CatchType int

const (
	CatchRescue CatchType = iota + 1
	CatchEnsure
	CatchRetry
	CatchBreak
	CatchRedo
	CatchNext
)

var catchTypeNames = map[CatchType]string{
	CatchRescue: "rescue",
	CatchEnsure: "ensure",
	CatchRetry:  "retry",
	CatchBreak:  "break",
	CatchRedo:   "redo",
	CatchNext:   "next",
}

func (c CatchType) String() string {
	if n, ok := catchTypeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("catch(%d)", int(c))
}

// ParseCatchType maps a catch type name back to its value.
func ParseCatchType(name string) (CatchType, bool) {
	for t, n := range catchTypeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// CatchEntry is one row of the exception table. Offsets are absolute.
// A zero Iseq handle marks a handler that continues in the same frame.
type CatchEntry struct {
	Type  CatchType `cbor:"type"`
	Iseq  uint64    `cbor:"iseq"`
	Start int       `cbor:"start"`
	End   int       `cbor:"end"`
	Cont  int       `cbor:"cont"`
	SP    int       `cbor:"sp"`
}

// Local reports whether the handler runs in the method's own frame.
func (e CatchEntry) Local() bool {
	return e.Iseq == 0
}

// ---------------------------------------------------------------------------
// Parameters
// ---------------------------------------------------------------------------

// Params describes the declared parameter shape of a method.
type Params struct {
	Size      int   `cbor:"size" yaml:"size"`
	LeadNum   int   `cbor:"lead" yaml:"lead"`
	OptTable  []int `cbor:"opt_table" yaml:"-"`
	HasOpt    bool  `cbor:"has_opt" yaml:"has_opt"`
	HasRest   bool  `cbor:"has_rest" yaml:"has_rest"`
	HasPost   bool  `cbor:"has_post" yaml:"has_post"`
	HasBlock  bool  `cbor:"has_block" yaml:"has_block"`
	HasKw     bool  `cbor:"has_kw" yaml:"has_kw"`
	HasKwrest bool  `cbor:"has_kwrest" yaml:"has_kwrest"`
}

// OptNum is the number of optional-argument skip offsets. The table holds
// one more entry than there are optional parameters.
func (p Params) OptNum() int {
	return len(p.OptTable)
}

// ---------------------------------------------------------------------------
// Case dispatch hashes
// ---------------------------------------------------------------------------

// CaseEntry maps a literal key to a branch offset relative to the end of
// the opt_case_dispatch instruction.
type CaseEntry struct {
	Key    uint64 `cbor:"key"`
	Offset int    `cbor:"offset"`
}

// ---------------------------------------------------------------------------
// Iseq
// ---------------------------------------------------------------------------

// Iseq is a method body: encoded instructions plus the side tables their
// operands refer to.
type Iseq struct {
	Label       string        `cbor:"label"`
	Path        string        `cbor:"path"`
	FirstLine   int           `cbor:"line"`
	Code        []uint64      `cbor:"code"`
	EncodedBase uint64        `cbor:"encoded_base"`
	StackMax    int           `cbor:"stack_max"`
	Locals      []string      `cbor:"locals"`
	Params      Params        `cbor:"params"`
	CallInfos   []CallInfo    `cbor:"call_infos"`
	CaseHashes  [][]CaseEntry `cbor:"case_hashes"`
	Catch       []CatchEntry  `cbor:"catch"`
	Parent      *Iseq         `cbor:"parent,omitempty"`
}

// Size returns the encoded length in words.
func (s *Iseq) Size() int {
	return len(s.Code)
}

// Name returns the "path:line:label" identifier used in logs and counters.
func (s *Iseq) Name() string {
	return fmt.Sprintf("%s:%d:%s", s.Path, s.FirstLine, s.Label)
}

// CallInfo returns the call info referenced by a TSCallInfo operand.
func (s *Iseq) CallInfo(handle uint64) CallInfo {
	if handle >= uint64(len(s.CallInfos)) {
		panic(fmt.Sprintf("yarv: call info %d out of range", handle))
	}
	return s.CallInfos[handle]
}

// CaseHash returns the dispatch table referenced by a TSCDHash operand.
func (s *Iseq) CaseHash(handle uint64) []CaseEntry {
	if handle >= uint64(len(s.CaseHashes)) {
		panic(fmt.Sprintf("yarv: case hash %d out of range", handle))
	}
	return s.CaseHashes[handle]
}

// ParentAt walks level parent links.
func (s *Iseq) ParentAt(level int) *Iseq {
	cur := s
	for i := 0; i < level; i++ {
		if cur.Parent == nil {
			panic(fmt.Sprintf("yarv: parent iseq for level %d is nil", i))
		}
		cur = cur.Parent
	}
	return cur
}

// LocalName resolves a local index at the given nesting level. Local
// indices count down from the top of the environment, so the last local
// has the smallest index.
func (s *Iseq) LocalName(index, level int) string {
	iseq := s.ParentAt(level)
	i := len(iseq.Locals) - index + EnvDataSize - 1
	if i < 0 || i >= len(iseq.Locals) || iseq.Locals[i] == "" {
		return "?"
	}
	return iseq.Locals[i]
}

// LocalIndex is the inverse of LocalName for level 0.
func (s *Iseq) LocalIndex(name string) (int, bool) {
	for i, n := range s.Locals {
		if n == name {
			return len(s.Locals) - i + EnvDataSize - 1, true
		}
	}
	return 0, false
}

// PC returns the host address of the instruction at offset.
func (s *Iseq) PC(offset int) uint64 {
	return s.EncodedBase + uint64(offset)*SlotSize
}
