package il

import (
	"fmt"
	"strings"
)

// maxTreesShown bounds the trees rendered in one DOT node label.
const maxTreesShown = 20

// ToDot returns a Graphviz DOT representation of the CFG. Exception edges
// are dashed.
func (c *CFG) ToDot() string {
	var sb strings.Builder
	sb.WriteString("digraph CFG {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, fontname=\"Courier\"];\n")

	blocks := append([]*Block{c.Start}, c.Blocks...)
	blocks = append(blocks, c.End)
	for _, b := range blocks {
		label := fmt.Sprintf("block_%d", b.Number)
		switch {
		case b == c.Start:
			label += "\\n(start)"
		case b == c.End:
			label += "\\n(end)"
		case b.BCIndex >= 0:
			label += fmt.Sprintf("\\nbc %d", b.BCIndex)
		}
		for i, t := range b.Trees {
			if i >= maxTreesShown {
				label += "\\n..."
				break
			}
			s := Label(t)
			if t.Op == TreeTop && len(t.Children) == 1 {
				s = Label(t.Children[0])
			}
			label += "\\n" + strings.ReplaceAll(s, "\"", "\\\"")
		}
		sb.WriteString(fmt.Sprintf("  %d [label=\"%s\"];\n", b.Number, label))

		for _, s := range b.Succs {
			sb.WriteString(fmt.Sprintf("  %d -> %d;\n", b.Number, s.Number))
		}
		for _, s := range b.ExcSuccs {
			sb.WriteString(fmt.Sprintf("  %d -> %d [style=dashed];\n", b.Number, s.Number))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
