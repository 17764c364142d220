package il

// Method is the IL of one compiled method body.
type Method struct {
	Signature string
	CFG       *CFG
	Symbols   *SymbolTable

	// Thread is the single incoming parameter: the running thread.
	Thread *Symbol
}

// NewMethod creates an empty method whose only parameter is the thread.
func NewMethod(signature string) *Method {
	syms := NewSymbolTable()
	return &Method{
		Signature: signature,
		CFG:       NewCFG(),
		Symbols:   syms,
		Thread:    syms.Parameter(0, "thread"),
	}
}

// Entry returns the first block in program order.
func (m *Method) Entry() *Block { return m.CFG.First() }

// LoadThread returns a fresh load of the thread parameter.
func (m *Method) LoadThread() *Node { return Load(ALoad, m.Thread) }

// Nodes returns the number of distinct nodes reachable from tree tops.
func (m *Method) Nodes() int {
	seen := make(map[*Node]bool)
	for _, b := range m.CFG.Blocks {
		for _, t := range b.Trees {
			markEvaluated(t, seen)
		}
	}
	return len(seen)
}
