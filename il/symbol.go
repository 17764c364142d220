package il

import "fmt"

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// SymbolKind classifies what a symbol names.
type SymbolKind int

const (
	KindAuto       SymbolKind = iota // method-local temporary
	KindParameter                    // incoming parameter
	KindStatic                       // global VM variable
	KindShadow                       // field at a fixed offset from a base address
	KindHelper                       // runtime helper function
	KindLocalArray                   // method-local scratch array
)

var kindNames = [...]string{"auto", "parm", "static", "shadow", "helper", "array"}

func (k SymbolKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Symbol is a named storage location or helper referenced by IL.
type Symbol struct {
	Ref    int
	Kind   SymbolKind
	Name   string
	Offset int64
	Size   int

	// KilledAcrossCalls is set when a helper call may write the location.
	KilledAcrossCalls bool

	// Helper attributes
	CanGC                 bool
	CanThrow              bool
	PreservesAllRegisters bool

	AliasOf *Symbol
	Address uint64
}

func (s *Symbol) String() string {
	return fmt.Sprintf("#%d %s", s.Ref, s.Name)
}

// IsHelper reports whether s names a runtime helper.
func (s *Symbol) IsHelper() bool { return s != nil && s.Kind == KindHelper }

// ---------------------------------------------------------------------------
// SymbolTable
// ---------------------------------------------------------------------------

// SymbolTable owns every symbol of one method.
type SymbolTable struct {
	symbols   []*Symbol
	helpers   map[string]*Symbol
	statics   map[string]*Symbol
	shadows   map[shadowKey]*Symbol
	params    []*Symbol
	interrupt [2]*Symbol
}

type shadowKey struct {
	name   string
	offset int64
}

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		helpers: make(map[string]*Symbol),
		statics: make(map[string]*Symbol),
		shadows: make(map[shadowKey]*Symbol),
	}
}

func (t *SymbolTable) add(s *Symbol) *Symbol {
	s.Ref = len(t.symbols)
	t.symbols = append(t.symbols, s)
	return s
}

// Resolve returns the symbol with reference number ref, or nil.
func (t *SymbolTable) Resolve(ref int) *Symbol {
	if ref < 0 || ref >= len(t.symbols) {
		return nil
	}
	return t.symbols[ref]
}

// All returns every symbol in creation order.
func (t *SymbolTable) All() []*Symbol { return t.symbols }

// Len returns the number of symbols.
func (t *SymbolTable) Len() int { return len(t.symbols) }

// Parameter returns the symbol of parameter n, creating parameters up to n.
func (t *SymbolTable) Parameter(n int, name string) *Symbol {
	for len(t.params) <= n {
		t.params = append(t.params, nil)
	}
	if t.params[n] == nil {
		t.params[n] = t.add(&Symbol{Kind: KindParameter, Name: name, Offset: int64(n), Size: 8})
	}
	return t.params[n]
}

// Helper returns the helper symbol for name, creating it on first use.
// Helpers may GC and throw and do not preserve registers.
func (t *SymbolTable) Helper(name string, address uint64) *Symbol {
	if s, ok := t.helpers[name]; ok {
		return s
	}
	s := t.add(&Symbol{
		Kind:     KindHelper,
		Name:     name,
		CanGC:    true,
		CanThrow: true,
		Address:  address,
	})
	t.helpers[name] = s
	return s
}

// Temporary creates a fresh method-local temporary.
func (t *SymbolTable) Temporary(name string) *Symbol {
	return t.add(&Symbol{Kind: KindAuto, Name: name, Size: 8})
}

// LocalArray creates a method-local array of n slots of slotSize bytes.
func (t *SymbolTable) LocalArray(name string, n, slotSize int) *Symbol {
	return t.add(&Symbol{Kind: KindLocalArray, Name: name, Size: n * slotSize})
}

// Shadow returns the shadow symbol for (name, offset), creating it on first
// use.
func (t *SymbolTable) Shadow(name string, offset int64, killed bool) *Symbol {
	key := shadowKey{name, offset}
	if s, ok := t.shadows[key]; ok {
		return s
	}
	s := t.add(&Symbol{Kind: KindShadow, Name: name, Offset: offset, Size: 8, KilledAcrossCalls: killed})
	t.shadows[key] = s
	return s
}

// GenericShadow returns an unnamed shadow at offset. Generic shadows are
// always killed across calls.
func (t *SymbolTable) GenericShadow(offset int64) *Symbol {
	return t.Shadow(fmt.Sprintf("generic[%d]", offset), offset, true)
}

// Static returns the static symbol for name, creating it on first use.
func (t *SymbolTable) Static(name string, address uint64, killed bool) *Symbol {
	if s, ok := t.statics[name]; ok {
		return s
	}
	s := t.add(&Symbol{Kind: KindStatic, Name: name, Size: 8, Address: address, KilledAcrossCalls: killed})
	t.statics[name] = s
	return s
}

// InterruptSymbols returns the shadows that an asynccheck consults on the
// thread: the pending flag word and the mask word.
func (t *SymbolTable) InterruptSymbols(flagOffset, maskOffset int64) (flag, mask *Symbol) {
	if t.interrupt[0] == nil {
		t.interrupt[0] = t.Shadow("interrupt_flag", flagOffset, true)
		t.interrupt[1] = t.Shadow("interrupt_mask", maskOffset, true)
	}
	return t.interrupt[0], t.interrupt[1]
}

// MayModify reports whether executing n may write sym. Only helper calls
// write anything, and only symbols killed across calls.
func (n *Node) MayModify(sym *Symbol) bool {
	if sym == nil || !n.Op.IsCall() {
		return false
	}
	return n.Symbol.IsHelper() && sym.KilledAcrossCalls
}
