package il

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

// Node is one IL tree node. A node referenced from more than one place is
// commoned: it is evaluated once, at its first reference in tree order.
type Node struct {
	Op       Opcode
	Children []*Node
	Symbol   *Symbol
	Value    int64
	Text     string
	Dest     *Block
	Cases    []Case

	refCount int
}

// Case is one arm of a Lookup.
type Case struct {
	Value int64
	Dest  *Block
}

// NewNode creates a node and takes a reference on each child.
func NewNode(op Opcode, children ...*Node) *Node {
	n := &Node{Op: op, Children: children}
	for _, c := range children {
		c.refCount++
	}
	return n
}

// ReferenceCount returns the number of parents (including tree tops) that
// reference n.
func (n *Node) ReferenceCount() int { return n.refCount }

// IncRef takes an extra reference on n.
func (n *Node) IncRef() { n.refCount++ }

// Child returns child i.
func (n *Node) Child(i int) *Node { return n.Children[i] }

// SetChild replaces child i, moving the reference.
func (n *Node) SetChild(i int, c *Node) {
	if old := n.Children[i]; old != nil {
		old.refCount--
	}
	c.refCount++
	n.Children[i] = c
}

// Any reports whether f holds for n or any node in its subtree.
func (n *Node) Any(f func(*Node) bool) bool {
	return n.any(f, make(map[*Node]bool))
}

func (n *Node) any(f func(*Node) bool, seen map[*Node]bool) bool {
	if seen[n] {
		return false
	}
	seen[n] = true
	if f(n) {
		return true
	}
	for _, c := range n.Children {
		if c.any(f, seen) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func Iconst(v int64) *Node  { return &Node{Op: IConst, Value: v} }
func Lconst(v int64) *Node  { return &Node{Op: LConst, Value: v} }
func Aconst(v uint64) *Node { return &Node{Op: AConst, Value: int64(v)} }

// Load creates a direct load of sym.
func Load(op Opcode, sym *Symbol) *Node {
	return &Node{Op: op, Symbol: sym}
}

// Loadi creates an indirect load of sym relative to base.
func Loadi(op Opcode, sym *Symbol, base *Node) *Node {
	n := NewNode(op, base)
	n.Symbol = sym
	return n
}

// Store creates a direct store of val to sym.
func Store(op Opcode, sym *Symbol, val *Node) *Node {
	n := NewNode(op, val)
	n.Symbol = sym
	return n
}

// Storei creates an indirect store of val to sym relative to base.
func Storei(op Opcode, sym *Symbol, base, val *Node) *Node {
	n := NewNode(op, base, val)
	n.Symbol = sym
	return n
}

// NewLoadAddr creates a node yielding the address of sym.
func NewLoadAddr(sym *Symbol) *Node {
	return &Node{Op: LoadAddr, Symbol: sym}
}

// NewCall creates a call of helper with args.
func NewCall(op Opcode, helper *Symbol, args ...*Node) *Node {
	n := NewNode(op, args...)
	n.Symbol = helper
	return n
}

// NewTreeTop anchors n as a statement.
func NewTreeTop(n *Node) *Node { return NewNode(TreeTop, n) }

// NewGoto creates an unconditional branch.
func NewGoto(dest *Block) *Node {
	return &Node{Op: Goto, Dest: dest}
}

// NewIf creates a conditional branch comparing a and b.
func NewIf(op Opcode, a, b *Node, dest *Block) *Node {
	n := NewNode(op, a, b)
	n.Dest = dest
	return n
}

// NewLookup creates a multiway branch on selector.
func NewLookup(selector *Node, def *Block, cases []Case) *Node {
	n := NewNode(Lookup, selector)
	n.Dest = def
	n.Cases = cases
	return n
}

// NewReturn returns v from the method.
func NewReturn(v *Node) *Node { return NewNode(AReturn, v) }

// NewCounter creates a named debug counter bump.
func NewCounter(name string) *Node {
	return &Node{Op: Counter, Text: name}
}

// NewAsyncCheck creates an interrupt poll on the thread.
func NewAsyncCheck(thread *Symbol) *Node {
	return &Node{Op: AsyncCheck, Symbol: thread}
}

// Destinations returns every block n may branch to.
func (n *Node) Destinations() []*Block {
	var out []*Block
	if n.Dest != nil {
		out = append(out, n.Dest)
	}
	for _, c := range n.Cases {
		out = append(out, c.Dest)
	}
	return out
}
