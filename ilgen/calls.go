package ilgen

import (
	"github.com/chazu/yarvil/il"
	"github.com/chazu/yarvil/yarv"
)

// ---------------------------------------------------------------------------
// Helper calls
// ---------------------------------------------------------------------------

// genCall emits a call of the named helper. Pending stack values that read
// locations the helper may write are evaluated first, and the frame pc is
// published so the helper sees the interpreter state it expects.
func (g *Generator) genCall(name string, op il.Opcode, args ...*il.Node) *il.Node {
	call := il.NewCall(op, g.helper(name), args...)
	g.handleSideEffect(call)
	g.genTreeTop(g.storePC(il.Aconst(g.nextPC())))
	g.genTreeTop(call)
	return call
}

// handleSideEffect anchors every unevaluated stack value that call could
// change underneath.
func (g *Generator) handleSideEffect(call *il.Node) {
	for i := 0; i < g.stack.Size(); i++ {
		n := g.stack.Element(i)
		if n.ReferenceCount() > 0 {
			continue
		}
		killed := n.Any(func(x *il.Node) bool {
			return x.Op.HasSymbol() && call.MayModify(x.Symbol)
		})
		if killed {
			g.genTreeTop(n)
		}
	}
}

// rematerializeSP publishes the interpreter stack pointer for the current
// abstract stack height.
func (g *Generator) rematerializeSP() {
	size := g.stack.Size()
	g.genTreeTop(g.storeSP(il.NewNode(il.AXAdd,
		g.loadPrivateSP(),
		il.Lconst(int64(size)*g.env.SlotSize))))
	g.truncateTemps(size)
}

// genCallPreparation spills the receiver, the arguments and everything
// below them to the interpreter stack ahead of a call that reads its
// arguments from there. Values below the arguments stay on the abstract
// stack. It returns the deepest argument, the receiver for sends.
func (g *Generator) genCallPreparation(ci yarv.CallInfo, numArgs int) (*il.Node, error) {
	if ci.Has(yarv.CallTailcall) {
		return nil, g.logAbort("jit doesn't support tailcall optimized iseqs", ReasonTailcall)
	}

	pending := g.stack.Size()
	restores := pending - numArgs
	if restores < 0 {
		invariant("call needs %d stack values, have %d", numArgs, pending)
	}
	if restores > 0 && g.opts.DisableStackRestoration {
		return nil, g.logAbort("YARV stack restoration is disabled", ReasonStackRestoration)
	}
	g.rematerializeSP()
	if pending == 0 {
		return nil, nil
	}

	writes := make(map[int]*il.Node, pending)
	for j := 0; j < pending; j++ {
		writes[j] = g.stack.Element(j)
	}
	g.anchorSlotHazards(writes)

	var recv *il.Node
	sp := g.loadPrivateSP()
	for i := 0; i < pending; i++ {
		var val *il.Node
		if i < numArgs {
			val = g.stack.Pop()
			recv = val
		} else {
			val = g.stack.TopAt(i - numArgs)
		}
		g.genTreeTop(g.storeToRubyStack(sp, pending-i-1, val))
	}

	g.stackTemps = g.stackTemps[:0]
	for j := 0; j < restores; j++ {
		g.stackTemps = append(g.stackTemps, g.stack.Element(j))
	}
	return recv, nil
}

// cleanupStack restores the stack pointer after a call that consumed its
// arguments from the interpreter stack.
func (g *Generator) cleanupStack(restores int) {
	if restores > 0 {
		g.rematerializeSP()
	}
}

// ---------------------------------------------------------------------------
// Sends
// ---------------------------------------------------------------------------

func blockargCount(ci yarv.CallInfo) int {
	if ci.Has(yarv.CallArgsBlockarg) {
		return 1
	}
	return 0
}

// genSend handles send and invokesuper: receiver, arguments and an
// optional block argument all travel on the interpreter stack.
func (g *Generator) genSend(name string) (int, error) {
	ci := g.iseq.CallInfo(g.operand(1))
	numArgs := 1 + ci.ArgC + blockargCount(ci)
	restores := g.stack.Size() - numArgs
	if _, err := g.genCallPreparation(ci, numArgs); err != nil {
		return 0, err
	}
	call := g.genCall(name, il.LCall,
		g.loadThread(),
		il.Aconst(g.operand(1)),
		il.Aconst(g.operand(2)),
		il.Aconst(g.operand(3)),
		g.loadCFP())
	g.cleanupStack(restores)
	g.stack.Push(call)
	return g.next(), nil
}

func (g *Generator) genSendWithoutBlock() (int, error) {
	ci := g.iseq.CallInfo(g.operand(1))
	if ci.Has(yarv.CallArgsBlockarg) {
		return 0, g.logAbort("send_without_block: Oddly... has unsupported block arg", ReasonSendWithoutBlockarg)
	}
	numArgs := 1 + ci.ArgC
	restores := g.stack.Size() - numArgs
	recv, err := g.genCallPreparation(ci, numArgs)
	if err != nil {
		return 0, err
	}
	call := g.genCall(helperSendWithoutBlock, il.LCall,
		g.loadThread(),
		il.Aconst(g.operand(1)),
		il.Aconst(g.operand(2)),
		recv)
	g.cleanupStack(restores)
	g.stack.Push(call)
	return g.next(), nil
}

func (g *Generator) genInvokeBlock() (int, error) {
	ci := g.iseq.CallInfo(g.operand(1))
	if ci.Has(yarv.CallArgsBlockarg) {
		return 0, g.logAbort("invokeblock: Unsupported block arg", ReasonInvokeBlockBlockarg)
	}
	numArgs := ci.ArgC
	restores := g.stack.Size() - numArgs
	if _, err := g.genCallPreparation(ci, numArgs); err != nil {
		return 0, err
	}
	call := g.genCall(helperInvokeBlock, il.LCall,
		g.loadThread(),
		il.Aconst(g.operand(1)))
	g.cleanupStack(restores)
	g.stack.Push(call)
	return g.next(), nil
}
