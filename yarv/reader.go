package yarv

import "fmt"

// ---------------------------------------------------------------------------
// Reader: random access over an encoded instruction sequence
// ---------------------------------------------------------------------------

// Reader decodes instructions at arbitrary offsets. Offsets are word
// indices into the encoded sequence. Reading outside the sequence panics:
// a translator walking bytecode it did not produce has no way to recover.
type Reader struct {
	iseq *Iseq
	code []uint64
}

// NewReader creates a reader for iseq.
func NewReader(iseq *Iseq) *Reader {
	return &Reader{iseq: iseq, code: iseq.Code}
}

// Iseq returns the underlying method body.
func (r *Reader) Iseq() *Iseq {
	return r.iseq
}

// Size returns the encoded length in words.
func (r *Reader) Size() int {
	return len(r.code)
}

// At returns the raw word at offset.
func (r *Reader) At(offset int) uint64 {
	if offset < 0 || offset >= len(r.code) {
		panic(fmt.Sprintf("bytecode underflow at %d (size %d)", offset, len(r.code)))
	}
	return r.code[offset]
}

// Opcode returns the opcode at offset.
func (r *Reader) Opcode(offset int) Opcode {
	return Opcode(r.At(offset))
}

// Decode returns the opcode, its length and its operand types.
func (r *Reader) Decode(offset int) (Opcode, int, string) {
	op := r.Opcode(offset)
	info := op.Info()
	if offset+info.Len() > len(r.code) {
		panic(fmt.Sprintf("bytecode underflow: %s at %d needs %d words", info.Name, offset, info.Len()))
	}
	return op, info.Len(), info.Operands
}

// Operand returns operand slot (1-based, as in YARV) of the instruction
// at offset.
func (r *Reader) Operand(offset, slot int) uint64 {
	return r.At(offset + slot)
}

// SignedOperand returns an operand interpreted as a two's complement word.
func (r *Reader) SignedOperand(offset, slot int) int {
	return int(int64(r.Operand(offset, slot)))
}

// BranchTarget returns the destination of the offset operand in slot 1.
func (r *Reader) BranchTarget(offset int) int {
	return r.RelativeTarget(offset, r.SignedOperand(offset, 1))
}

// RelativeTarget resolves an offset relative to the instruction following
// the one at offset.
func (r *Reader) RelativeTarget(offset, rel int) int {
	_, length, _ := r.Decode(offset)
	return offset + length + rel
}

// Next returns the offset of the instruction after the one at offset.
func (r *Reader) Next(offset int) int {
	_, length, _ := r.Decode(offset)
	return offset + length
}

// Each calls fn for every instruction in order.
func (r *Reader) Each(fn func(offset int, op Opcode)) {
	for off := 0; off < len(r.code); {
		op, length, _ := r.Decode(off)
		fn(off, op)
		off += length
	}
}
