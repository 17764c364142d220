// Package opt holds IL lowerings that run between translation and code
// generation.
package opt

import (
	"slices"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/il"
	"github.com/chazu/yarvil/ilgen"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("yarvil.opt")

// ---------------------------------------------------------------------------
// Asynccheck lowering
// ---------------------------------------------------------------------------

// LowerAsyncChecks expands every asynccheck macro in m into an explicit
// interrupt poll: the block is split after the check, the check becomes a
// conditional branch on the thread's unmasked interrupt bits, and a call
// block appended at the end of the method runs the pending interrupts and
// jumps back to the remainder. It returns the number of checks lowered.
//
// With IrritateAsyncCheck set the predicate is the constant 1, so every
// check calls out.
func LowerAsyncChecks(m *il.Method, env *ilgen.Env, opts config.JIT) int {
	if env == nil {
		env = ilgen.NewEnv()
	}
	c := m.CFG
	lowered := 0
	// Blocks created by Split land right after the block being scanned,
	// so one forward pass reaches them.
	for i := 0; i < len(c.Blocks); i++ {
		b := c.Blocks[i]
		at := slices.IndexFunc(b.Trees, func(n *il.Node) bool { return n.Op == il.AsyncCheck })
		if at < 0 {
			continue
		}
		lowerAt(m, env, opts, b, at)
		lowered++
	}
	if lowered > 0 {
		log.Debugf("%s: lowered %d asyncchecks", m.Signature, lowered)
	}
	return lowered
}

func lowerAt(m *il.Method, env *ilgen.Env, opts config.JIT, b *il.Block, at int) {
	c := m.CFG
	rest := c.Split(b, at+1, m.Symbols)
	b.Trees = slices.Delete(b.Trees, at, at+1)

	callBlock := c.NewBlock(-1)
	helper := m.Symbols.Helper(ilgen.ExecuteInterruptsHelper, env.HelperAddress(ilgen.ExecuteInterruptsHelper))
	callBlock.Append(il.NewCall(il.Call, helper, m.LoadThread(), il.Lconst(0)))
	callBlock.Append(il.NewGoto(rest))
	c.AddNode(callBlock)

	b.Append(il.NewIf(il.IfLCmpNe, pendingInterrupts(m, env, opts), il.Lconst(0), callBlock))
	c.AddEdge(b, callBlock)
	c.AddEdge(callBlock, rest)
}

// pendingInterrupts is interrupt_flag & ~interrupt_mask on the thread.
func pendingInterrupts(m *il.Method, env *ilgen.Env, opts config.JIT) *il.Node {
	if opts.IrritateAsyncCheck {
		return il.Lconst(1)
	}
	flag, mask := m.Symbols.InterruptSymbols(env.Layout.InterruptFlag, env.Layout.InterruptMask)
	return il.NewNode(il.LAnd,
		il.Loadi(il.LLoadi, flag, m.LoadThread()),
		il.NewNode(il.LNot, il.Loadi(il.LLoadi, mask, m.LoadThread())))
}
