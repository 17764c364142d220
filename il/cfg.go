package il

import "slices"

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

// Block is a basic block: an ordered list of tree tops.
type Block struct {
	Number  int
	BCIndex int // bytecode offset the block was generated for, or -1
	Trees   []*Node

	Succs    []*Block
	Preds    []*Block
	ExcSuccs []*Block
	ExcPreds []*Block

	added bool
}

// Append adds a statement to the end of the block. Non-statement nodes are
// anchored under a tree top.
func (b *Block) Append(n *Node) *Node {
	if !n.Op.IsStatement() {
		n = NewTreeTop(n)
	}
	b.Trees = append(b.Trees, n)
	return n
}

// Prepend adds a statement to the start of the block.
func (b *Block) Prepend(n *Node) *Node {
	if !n.Op.IsStatement() {
		n = NewTreeTop(n)
	}
	b.Trees = append([]*Node{n}, b.Trees...)
	return n
}

// Last returns the final tree top, or nil for an empty block.
func (b *Block) Last() *Node {
	if len(b.Trees) == 0 {
		return nil
	}
	return b.Trees[len(b.Trees)-1]
}

// Terminated reports whether the block ends in a tree that never falls
// through.
func (b *Block) Terminated() bool {
	last := b.Last()
	return last != nil && last.Op.IsTerminator()
}

// InCFG reports whether the block has been added to a CFG.
func (b *Block) InCFG() bool { return b.added }

// ---------------------------------------------------------------------------
// CFG
// ---------------------------------------------------------------------------

// CFG is the control flow graph of one method. Blocks are kept in program
// order; a block without a terminator falls through to the next one.
type CFG struct {
	Start  *Block
	End    *Block
	Blocks []*Block

	next int
}

// NewCFG creates a CFG containing only the start and end blocks.
func NewCFG() *CFG {
	c := &CFG{}
	c.Start = c.newBlock(-1)
	c.End = c.newBlock(-1)
	c.Start.added = true
	c.End.added = true
	return c
}

func (c *CFG) newBlock(bc int) *Block {
	b := &Block{Number: c.next, BCIndex: bc}
	c.next++
	return b
}

// NewBlock creates a block that is not yet part of the graph.
func (c *CFG) NewBlock(bc int) *Block { return c.newBlock(bc) }

// AddNode appends b to the program order.
func (c *CFG) AddNode(b *Block) {
	if b.added {
		return
	}
	b.added = true
	c.Blocks = append(c.Blocks, b)
}

// InsertAfter places b immediately after prev in program order.
func (c *CFG) InsertAfter(prev, b *Block) {
	i := c.index(prev)
	if i < 0 {
		c.AddNode(b)
		return
	}
	b.added = true
	c.Blocks = slices.Insert(c.Blocks, i+1, b)
}

// Prepend places b first in program order.
func (c *CFG) Prepend(b *Block) {
	b.added = true
	c.Blocks = slices.Insert(c.Blocks, 0, b)
}

func (c *CFG) index(b *Block) int {
	return slices.Index(c.Blocks, b)
}

// First returns the first block in program order.
func (c *CFG) First() *Block {
	if len(c.Blocks) == 0 {
		return nil
	}
	return c.Blocks[0]
}

// Next returns the block after b in program order, or nil.
func (c *CFG) Next(b *Block) *Block {
	i := c.index(b)
	if i < 0 || i+1 >= len(c.Blocks) {
		return nil
	}
	return c.Blocks[i+1]
}

// AddEdge adds a normal flow edge. Duplicate edges are ignored.
func (c *CFG) AddEdge(from, to *Block) {
	if slices.Contains(from.Succs, to) {
		return
	}
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// RemoveEdge removes a normal flow edge if present.
func (c *CFG) RemoveEdge(from, to *Block) {
	from.Succs = slices.DeleteFunc(from.Succs, func(b *Block) bool { return b == to })
	to.Preds = slices.DeleteFunc(to.Preds, func(b *Block) bool { return b == from })
}

// AddExceptionEdge adds an exception edge. Duplicate edges are ignored.
func (c *CFG) AddExceptionEdge(from, to *Block) {
	if slices.Contains(from.ExcSuccs, to) {
		return
	}
	from.ExcSuccs = append(from.ExcSuccs, to)
	to.ExcPreds = append(to.ExcPreds, from)
}

// AddSuccessorEdges derives b's outgoing edges from its final tree. A block
// that does not end in a terminator also flows to the next block, or to End
// when it is last.
func (c *CFG) AddSuccessorEdges(b *Block) {
	last := b.Last()
	if last != nil {
		for _, d := range last.Destinations() {
			c.AddEdge(b, d)
		}
		if last.Op == AReturn {
			c.AddEdge(b, c.End)
		}
	}
	if b.Terminated() {
		return
	}
	if next := c.Next(b); next != nil {
		c.AddEdge(b, next)
	} else {
		c.AddEdge(b, c.End)
	}
}

// Split moves the trees of b from index at onward into a new block placed
// after b. Outgoing edges move to the new block and b falls through to it.
// Nodes first evaluated before the split point and referenced after it are
// carried across in temporaries from syms.
func (c *CFG) Split(b *Block, at int, syms *SymbolTable) *Block {
	tail := c.newBlock(b.BCIndex)
	head := b.Trees[:at:at]
	rest := b.Trees[at:]

	evaluated := make(map[*Node]bool)
	for _, t := range head {
		markEvaluated(t, evaluated)
	}
	replaced := make(map[*Node]*Node)
	for _, t := range rest {
		uncommon(t, evaluated, replaced, &head, syms)
	}
	b.Trees = head
	tail.Trees = rest

	for _, s := range slices.Clone(b.Succs) {
		c.RemoveEdge(b, s)
		c.AddEdge(tail, s)
	}
	for _, s := range b.ExcSuccs {
		c.AddExceptionEdge(tail, s)
	}
	c.InsertAfter(b, tail)
	c.AddEdge(b, tail)
	return tail
}

func markEvaluated(n *Node, seen map[*Node]bool) {
	if seen[n] {
		return
	}
	seen[n] = true
	for _, ch := range n.Children {
		markEvaluated(ch, seen)
	}
}

func uncommon(n *Node, evaluated map[*Node]bool, replaced map[*Node]*Node, head *[]*Node, syms *SymbolTable) {
	for i, ch := range n.Children {
		if !evaluated[ch] {
			uncommon(ch, evaluated, replaced, head, syms)
			continue
		}
		r, ok := replaced[ch]
		if !ok {
			tmp := syms.Temporary("split")
			store, load := LStore, LLoad
			if ch.Op.IsAddress() {
				store, load = AStore, ALoad
			}
			*head = append(*head, Store(store, tmp, ch))
			r = Load(load, tmp)
			replaced[ch] = r
		}
		n.SetChild(i, r)
	}
}
