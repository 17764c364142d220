package ilgen

import (
	"github.com/chazu/yarvil/il"
	"github.com/chazu/yarvil/yarv"
)

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

type localKey struct {
	idx, level int
}

func (g *Generator) cfpSym() *il.Symbol {
	return g.syms.Shadow("cfp", g.env.Layout.ThreadCFP, false)
}

func (g *Generator) spSym() *il.Symbol {
	return g.syms.Shadow("sp", g.env.Layout.FrameSP, true)
}

func (g *Generator) pcSym() *il.Symbol {
	return g.syms.Shadow("pc", g.env.Layout.FramePC, true)
}

func (g *Generator) epSym() *il.Symbol {
	return g.syms.Shadow("ep", g.env.Layout.FrameEP, true)
}

func (g *Generator) selfSym() *il.Symbol {
	return g.syms.Shadow("self", g.env.Layout.FrameSelf, false)
}

// stackSlotSym returns the shadow for interpreter stack slot height,
// relative to the private stack pointer.
func (g *Generator) stackSlotSym(height int) *il.Symbol {
	if s, ok := g.stackSlots[height]; ok {
		return s
	}
	s := g.syms.Shadow("stackSlot", g.env.SlotSize*int64(height), true)
	g.stackSlots[height] = s
	return s
}

// localSym returns the shadow for local idx at the given nesting level,
// relative to that level's ep.
func (g *Generator) localSym(idx, level int) *il.Symbol {
	key := localKey{idx, level}
	if s, ok := g.locals[key]; ok {
		return s
	}
	s := g.syms.Shadow(g.iseq.LocalName(idx, level), -g.env.SlotSize*int64(idx), true)
	g.locals[key] = s
	return s
}

// slotOf returns the stack height a stackSlot load reads, or -1.
func (g *Generator) slotOf(n *il.Node) int {
	if n.Op != il.LLoadi || n.Symbol == nil || n.Symbol.Name != "stackSlot" {
		return -1
	}
	return int(n.Symbol.Offset / g.env.SlotSize)
}

func (g *Generator) helper(name string) *il.Symbol {
	return g.syms.Helper(name, g.env.HelperAddress(name))
}

// ---------------------------------------------------------------------------
// Frame access trees
// ---------------------------------------------------------------------------

func (g *Generator) loadThread() *il.Node {
	return g.m.LoadThread()
}

func (g *Generator) loadCFP() *il.Node {
	return il.Loadi(il.ALoadi, g.cfpSym(), g.loadThread())
}

func (g *Generator) storeCFP(val *il.Node) *il.Node {
	return il.Storei(il.AStorei, g.cfpSym(), g.loadThread(), val)
}

func (g *Generator) loadSP() *il.Node {
	return il.Loadi(il.ALoadi, g.spSym(), g.loadCFP())
}

func (g *Generator) storeSP(val *il.Node) *il.Node {
	return il.Storei(il.AStorei, g.spSym(), g.loadCFP(), val)
}

func (g *Generator) loadPC() *il.Node {
	return il.Loadi(il.ALoadi, g.pcSym(), g.loadCFP())
}

func (g *Generator) storePC(val *il.Node) *il.Node {
	return il.Storei(il.AStorei, g.pcSym(), g.loadCFP(), val)
}

func (g *Generator) loadSelf() *il.Node {
	return il.Loadi(il.LLoadi, g.selfSym(), g.loadCFP())
}

func (g *Generator) loadPrivateSP() *il.Node {
	return il.Load(il.ALoad, g.privateSP)
}

// loadEP walks level links up the environment chain. The previous ep is
// tagged in its low two bits.
func (g *Generator) loadEP(level int) *il.Node {
	ep := il.Loadi(il.ALoadi, g.epSym(), g.loadCFP())
	prev := g.syms.GenericShadow(yarv.EnvDataIndexSpecVal * g.env.SlotSize)
	for i := 0; i < level; i++ {
		ep = il.NewNode(il.LAnd, il.Loadi(il.LLoadi, prev, ep), il.Lconst(^3))
	}
	return ep
}

// loadDisplacement computes the byte offset of the frame pc from the start
// of the encoded sequence.
func (g *Generator) loadDisplacement() *il.Node {
	return il.NewNode(il.L2A,
		il.NewNode(il.LSub,
			il.NewNode(il.A2L, g.loadPC()),
			il.Lconst(int64(g.iseq.EncodedBase))))
}

func (g *Generator) loadFromRubyStack(privateSP *il.Node, slot int) *il.Node {
	return il.Loadi(il.LLoadi, g.stackSlotSym(slot), privateSP)
}

func (g *Generator) storeToRubyStack(privateSP *il.Node, slot int, val *il.Node) *il.Node {
	return il.Storei(il.LStorei, g.stackSlotSym(slot), privateSP, val)
}

// genTreeTop anchors n in the current block.
func (g *Generator) genTreeTop(n *il.Node) *il.Node {
	return g.block.Append(n)
}

func (g *Generator) genAsyncCheck() {
	g.genTreeTop(il.NewAsyncCheck(g.m.Thread))
}

// pc returns the host address of the instruction following the current one.
func (g *Generator) nextPC() uint64 {
	return g.iseq.PC(g.cur + g.length())
}
