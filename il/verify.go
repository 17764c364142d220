package il

import (
	"errors"
	"fmt"
	"slices"
)

// Verify checks structural invariants of m: every branch destination is in
// the graph, branches only end blocks, every block ends in a terminator or
// falls through to another block, child counts match their opcodes, and no
// node is shared between blocks.
func Verify(m *Method) error {
	var errs []error
	c := m.CFG
	owner := make(map[*Node]*Block)

	if first := c.First(); first != nil && !slices.Contains(c.Start.Succs, first) {
		errs = append(errs, fmt.Errorf("start does not flow to block_%d", first.Number))
	}

	for _, b := range c.Blocks {
		for i, t := range b.Trees {
			if !t.Op.IsStatement() {
				errs = append(errs, fmt.Errorf("block_%d: tree %d is %s, not a statement", b.Number, i, t.Op))
			}
			if t.Op.IsBranch() && i != len(b.Trees)-1 {
				errs = append(errs, fmt.Errorf("block_%d: %s in the middle of the block", b.Number, t.Op))
			}
			for _, d := range t.Destinations() {
				if !d.InCFG() {
					errs = append(errs, fmt.Errorf("block_%d: %s targets block_%d outside the graph", b.Number, t.Op, d.Number))
				}
			}
			errs = checkNode(t, b, owner, errs)
		}
		if !b.Terminated() && c.Next(b) == nil {
			errs = append(errs, fmt.Errorf("block_%d falls off the end of the method", b.Number))
		}
	}
	return errors.Join(errs...)
}

func checkNode(n *Node, b *Block, owner map[*Node]*Block, errs []error) []error {
	if o, ok := owner[n]; ok {
		if o != b {
			errs = append(errs, fmt.Errorf("block_%d: %s node shared with block_%d", b.Number, n.Op, o.Number))
		}
		return errs
	}
	owner[n] = b
	if want := n.Op.Info().Children; want >= 0 && len(n.Children) != want {
		errs = append(errs, fmt.Errorf("block_%d: %s has %d children, want %d", b.Number, n.Op, len(n.Children), want))
	}
	if n.Op.HasSymbol() && n.Symbol == nil {
		errs = append(errs, fmt.Errorf("block_%d: %s without a symbol", b.Number, n.Op))
	}
	for _, c := range n.Children {
		errs = checkNode(c, b, owner, errs)
	}
	return errs
}
