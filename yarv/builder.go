package yarv

import (
	"errors"
	"fmt"
)

// DefaultEncodedBase is the host address assigned to Code[0] when none is
// given.
const DefaultEncodedBase uint64 = 0x7f0000001000

// ---------------------------------------------------------------------------
// Builder: helper for constructing instruction sequences
// ---------------------------------------------------------------------------

// Builder assembles an Iseq. Branch operands are written through labels and
// patched once the label is marked.
type Builder struct {
	iseq   *Iseq
	code   []uint64
	labels []*Label
	cases  []caseFixup
	catch  []catchFixup
	opts   []*Label
}

type caseFixup struct {
	hash  int
	entry int
	base  int
	label *Label
}

type catchFixup struct {
	entry            int
	start, end, cont *Label
}

// NewBuilder creates a builder for a method named label defined at
// path:line.
func NewBuilder(label, path string, line int) *Builder {
	return &Builder{iseq: &Iseq{
		Label:       label,
		Path:        path,
		FirstLine:   line,
		EncodedBase: DefaultEncodedBase,
	}}
}

// Len returns the current length in words.
func (b *Builder) Len() int {
	return len(b.code)
}

// Emit appends an instruction and returns its offset. The operand count
// must match the opcode's operand types.
func (b *Builder) Emit(op Opcode, operands ...uint64) int {
	info := op.Info()
	if !op.Valid() {
		panic(fmt.Sprintf("yarv: emit of unknown opcode %d", uint64(op)))
	}
	if len(operands) != len(info.Operands) {
		panic(fmt.Sprintf("yarv: %s takes %d operands, got %d", info.Name, len(info.Operands), len(operands)))
	}
	pos := len(b.code)
	b.code = append(b.code, uint64(op))
	b.code = append(b.code, operands...)
	return pos
}

// Int emits a signed operand as a two's complement word.
func Int(n int) uint64 {
	return uint64(int64(n))
}

// Locals sets the local table, first declared local first.
func (b *Builder) Locals(names ...string) *Builder {
	b.iseq.Locals = append([]string(nil), names...)
	return b
}

// Params sets the parameter descriptor. Optional-argument entry labels are
// supplied separately through OptLabels.
func (b *Builder) Params(p Params) *Builder {
	b.iseq.Params = p
	return b
}

// OptLabels declares the optional-argument skip offsets.
func (b *Builder) OptLabels(labels ...*Label) *Builder {
	b.opts = append(b.opts, labels...)
	b.iseq.Params.HasOpt = len(b.opts) > 0
	return b
}

// StackMax records the maximum operand stack depth.
func (b *Builder) StackMax(n int) *Builder {
	b.iseq.StackMax = n
	return b
}

// Base overrides the host address of the first instruction.
func (b *Builder) Base(addr uint64) *Builder {
	b.iseq.EncodedBase = addr
	return b
}

// Parent sets the lexically enclosing method body.
func (b *Builder) Parent(p *Iseq) *Builder {
	b.iseq.Parent = p
	return b
}

// CallInfo registers a call site and returns its operand handle.
func (b *Builder) CallInfo(mid string, argc int, flag uint32) uint64 {
	b.iseq.CallInfos = append(b.iseq.CallInfos, CallInfo{Mid: mid, ArgC: argc, Flag: flag})
	return uint64(len(b.iseq.CallInfos) - 1)
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

// Label is a named instruction offset.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

type labelRef struct {
	slot int // word to patch
	base int // offset the operand is relative to
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	l := &Label{refs: make([]labelRef, 0, 2)}
	b.labels = append(b.labels, l)
	return l
}

// Position returns the resolved offset. Panics if unresolved.
func (l *Label) Position() int {
	if !l.resolved {
		panic("label not resolved")
	}
	return l.position
}

// Mark resolves a label to the current position.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.code)

	// Patch all forward references
	for _, ref := range label.refs {
		b.code[ref.slot] = Int(label.position - ref.base)
	}
	label.refs = nil
}

func (b *Builder) ref(label *Label, slot, base int) {
	if label.resolved {
		b.code[slot] = Int(label.position - base)
		return
	}
	label.refs = append(label.refs, labelRef{slot: slot, base: base})
}

// EmitJump emits a branch whose first operand is an offset to label. Any
// remaining operands follow the offset.
func (b *Builder) EmitJump(op Opcode, label *Label, rest ...uint64) int {
	operands := append([]uint64{0}, rest...)
	pos := b.Emit(op, operands...)
	b.ref(label, pos+1, len(b.code))
	return pos
}

// CaseLabel pairs a case-dispatch key with its destination.
type CaseLabel struct {
	Key   uint64
	Label *Label
}

// EmitCaseDispatch emits opt_case_dispatch with a fresh dispatch table.
func (b *Builder) EmitCaseDispatch(cases []CaseLabel, elseLabel *Label) int {
	hash := len(b.iseq.CaseHashes)
	b.iseq.CaseHashes = append(b.iseq.CaseHashes, make([]CaseEntry, len(cases)))
	pos := b.Emit(OpOptCaseDispatch, uint64(hash), 0)
	end := len(b.code)
	b.ref(elseLabel, pos+2, end)
	for i, c := range cases {
		b.iseq.CaseHashes[hash][i].Key = c.Key
		b.cases = append(b.cases, caseFixup{hash: hash, entry: i, base: end, label: c.Label})
	}
	return pos
}

// Catch adds a catch-table entry covering [start, end] that continues at
// cont. A zero handler marks a same-frame handler.
func (b *Builder) Catch(typ CatchType, handler uint64, start, end, cont *Label, sp int) {
	b.iseq.Catch = append(b.iseq.Catch, CatchEntry{Type: typ, Iseq: handler, SP: sp})
	b.catch = append(b.catch, catchFixup{entry: len(b.iseq.Catch) - 1, start: start, end: end, cont: cont})
}

// Build finishes the sequence. It fails if any referenced label was never
// marked.
func (b *Builder) Build() (*Iseq, error) {
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			return nil, errors.New("yarv: unresolved branch label")
		}
	}
	for _, c := range b.cases {
		if !c.label.resolved {
			return nil, errors.New("yarv: unresolved case label")
		}
		b.iseq.CaseHashes[c.hash][c.entry].Offset = c.label.position - c.base
	}
	for _, c := range b.catch {
		for _, l := range []*Label{c.start, c.end, c.cont} {
			if !l.resolved {
				return nil, errors.New("yarv: unresolved catch label")
			}
		}
		e := &b.iseq.Catch[c.entry]
		e.Start, e.End, e.Cont = c.start.position, c.end.position, c.cont.position
	}
	if len(b.opts) > 0 {
		b.iseq.Params.OptTable = make([]int, len(b.opts))
		for i, l := range b.opts {
			if !l.resolved {
				return nil, errors.New("yarv: unresolved optional-argument label")
			}
			b.iseq.Params.OptTable[i] = l.position
		}
	}
	b.iseq.Code = append([]uint64(nil), b.code...)
	return b.iseq, nil
}

// MustBuild is Build for sequences known to be complete.
func (b *Builder) MustBuild() *Iseq {
	iseq, err := b.Build()
	if err != nil {
		panic(err)
	}
	return iseq
}
