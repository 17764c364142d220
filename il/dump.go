package il

import (
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Textual dump
// ---------------------------------------------------------------------------

type dumper struct {
	w   io.Writer
	ids map[*Node]int
}

// Dump writes a numbered tree listing of m. A node already printed is shown
// as a ==> back reference.
func Dump(w io.Writer, m *Method) {
	d := &dumper{w: w, ids: make(map[*Node]int)}
	fmt.Fprintf(w, "<method %q>\n", m.Signature)
	for _, b := range m.CFG.Blocks {
		d.block(m.CFG, b)
	}
	fmt.Fprintln(w, "</method>")
}

// DumpString returns Dump output as a string.
func DumpString(m *Method) string {
	var sb strings.Builder
	Dump(&sb, m)
	return sb.String()
}

func (d *dumper) block(c *CFG, b *Block) {
	fmt.Fprintf(d.w, "BBStart <block_%d>", b.Number)
	if b.BCIndex >= 0 {
		fmt.Fprintf(d.w, " (bc %d)", b.BCIndex)
	}
	fmt.Fprintln(d.w)
	for _, t := range b.Trees {
		d.node(t, 1)
	}
	fmt.Fprintf(d.w, "BBEnd </block_%d>%s%s\n", b.Number, edgeList(" succs", b.Succs), edgeList(" exc", b.ExcSuccs))
}

func edgeList(label string, bs []*Block) string {
	if len(bs) == 0 {
		return ""
	}
	nums := make([]string, len(bs))
	for i, b := range bs {
		nums[i] = fmt.Sprint(b.Number)
	}
	return fmt.Sprintf("%s=[%s]", label, strings.Join(nums, " "))
}

func (d *dumper) node(n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if id, ok := d.ids[n]; ok {
		fmt.Fprintf(d.w, "%-6s%s==>n%dn %s\n", "", indent, id, n.Op)
		return
	}
	id := len(d.ids) + 1
	d.ids[n] = id
	fmt.Fprintf(d.w, "%-6s%s%s\n", fmt.Sprintf("n%dn", id), indent, Label(n))
	for _, c := range n.Children {
		d.node(c, depth+1)
	}
	for _, cs := range n.Cases {
		fmt.Fprintf(d.w, "%-6s%s  case %d --> block_%d\n", "", indent, cs.Value, cs.Dest.Number)
	}
}

// Label renders a single node without its children.
func Label(n *Node) string {
	var sb strings.Builder
	sb.WriteString(n.Op.String())
	switch {
	case n.Op == AConst:
		fmt.Fprintf(&sb, " %#x", uint64(n.Value))
	case n.Op.IsConst():
		fmt.Fprintf(&sb, " %d", n.Value)
	case n.Op == Counter:
		fmt.Fprintf(&sb, " %q", n.Text)
	case n.Symbol != nil:
		sb.WriteString(" ")
		sb.WriteString(symbolLabel(n.Symbol))
	}
	if n.Dest != nil {
		if len(n.Cases) > 0 {
			fmt.Fprintf(&sb, " default --> block_%d", n.Dest.Number)
		} else {
			fmt.Fprintf(&sb, " --> block_%d", n.Dest.Number)
		}
	}
	return sb.String()
}

func symbolLabel(s *Symbol) string {
	if s.Kind == KindShadow {
		return fmt.Sprintf("%s[%+d]", s.Name, s.Offset)
	}
	return s.Name
}
