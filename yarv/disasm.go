package yarv

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the instruction at offset.
func DisassembleInstruction(r *Reader, offset int) string {
	op, length, types := r.Decode(offset)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %-28s", offset, op.Name())

	if len(types) > 0 && types[0] == TSLIndex {
		index := int(r.Operand(offset, 1))
		level := 0
		switch op {
		case OpGetLocalWC1, OpSetLocalWC1:
			level = 1
		case OpGetLocal, OpSetLocal, OpCheckKeyword:
			level = int(r.Operand(offset, 2))
		}
		fmt.Fprintf(&sb, "%s (l%d i%d)", localName(r.Iseq(), index, level), level, index)
		return strings.TrimRight(sb.String(), " ")
	}

	for j := 0; j < len(types); j++ {
		arg := r.Operand(offset, j+1)
		switch types[j] {
		case TSOffset:
			fmt.Fprintf(&sb, "%04d", offset+length+int(int64(arg)))
		case TSNum:
			fmt.Fprintf(&sb, "%d", arg)
		case TSCallInfo:
			ci := r.Iseq().CallInfo(arg)
			if ci.Mid != "" {
				fmt.Fprintf(&sb, "%s ", ci.Mid)
			}
			fmt.Fprintf(&sb, "<argc:%d flag:%#x", ci.ArgC, ci.Flag)
			if ci.Flag != 0 {
				fmt.Fprintf(&sb, " (%s)", ci.FlagString())
			}
			sb.WriteString(">")
		case TSIC:
			fmt.Fprintf(&sb, "ic:%#x", arg)
		case TSCDHash:
			fmt.Fprintf(&sb, "cdhash:%d", arg)
		default:
			fmt.Fprintf(&sb, "%c:%d", types[j], arg)
		}
		if j+1 < len(types) {
			sb.WriteString(", ")
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

// localName tolerates a missing parent chain so listings of partial
// method bodies still print.
func localName(iseq *Iseq, index, level int) (name string) {
	defer func() {
		if recover() != nil {
			name = "?"
		}
	}()
	return iseq.LocalName(index, level)
}

// Disassemble returns a full listing of iseq followed by its argument and
// catch tables.
func Disassemble(iseq *Iseq) string {
	r := NewReader(iseq)
	var lines []string
	lines = append(lines, fmt.Sprintf("== %s (size %d)", iseq.Name(), iseq.Size()))
	r.Each(func(offset int, _ Opcode) {
		lines = append(lines, DisassembleInstruction(r, offset))
	})
	lines = append(lines, "----")

	p := iseq.Params
	if p.Size > 0 || p.HasOpt {
		line := fmt.Sprintf("args: size %d lead %d", p.Size, p.LeadNum)
		if p.HasOpt {
			opts := make([]string, len(p.OptTable))
			for i, o := range p.OptTable {
				opts[i] = fmt.Sprintf("%04d", o)
			}
			line += " opt [" + strings.Join(opts, " ") + "]"
		}
		lines = append(lines, line)
	}
	if len(iseq.Catch) > 0 {
		lines = append(lines, "catch table:")
		for _, e := range iseq.Catch {
			where := "local"
			if !e.Local() {
				where = fmt.Sprintf("iseq:%#x", e.Iseq)
			}
			lines = append(lines, fmt.Sprintf("  %-6s st %04d ed %04d cont %04d sp %d %s",
				e.Type, e.Start, e.End, e.Cont, e.SP, where))
		}
	}
	return strings.Join(lines, "\n")
}
