package ilgen

import (
	"fmt"
	"slices"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/il"
)

// ---------------------------------------------------------------------------
// Entry targets
// ---------------------------------------------------------------------------

// computeEntryTargets returns the sorted offsets the method may be entered
// at: 0, each optional-argument skip offset and each local handler
// continuation.
func (g *Generator) computeEntryTargets() ([]int, error) {
	targets := []int{0}
	params := g.iseq.Params
	for i := 0; i < params.OptNum(); i++ {
		targets = append(targets, params.OptTable[i])
	}
	if !g.opts.DisableExceptionTargets {
		for _, e := range g.iseq.Catch {
			if !e.Local() {
				continue
			}
			if e.SP != 0 {
				return nil, g.logAbort("Not sure how to handle non-zero stack pointer on entry", ReasonNonZeroSPCatchEntry)
			}
			targets = append(targets, e.Cont)
		}
	}
	slices.Sort(targets)
	return slices.Compact(targets), nil
}

// generateEntryTargets registers a block at every entry target. The walk
// generates the targets normal flow reaches; the rest are walked afterwards
// from an empty stack.
func (g *Generator) generateEntryTargets() error {
	targets, err := g.computeEntryTargets()
	if err != nil {
		return err
	}
	for _, t := range targets {
		g.registerBlock(t)
	}
	g.entryTargets = targets
	return nil
}

// EntryTargets returns the entry offsets of the last translation.
func (g *Generator) EntryTargets() []int {
	return slices.Clone(g.entryTargets)
}

// ---------------------------------------------------------------------------
// Entry policy
// ---------------------------------------------------------------------------

// EntryRoute says where the entry switch sends one target.
type EntryRoute int

const (
	// RouteJump branches straight to the generated block.
	RouteJump EntryRoute = iota
	// RouteAdjust rewinds the private SP over the values the block
	// expects on the interpreter stack, then branches to it.
	RouteAdjust
	// RouteInterpreter resumes the method in the interpreter.
	RouteInterpreter
)

func (r EntryRoute) String() string {
	switch r {
	case RouteJump:
		return "jump"
	case RouteAdjust:
		return "adjust"
	case RouteInterpreter:
		return "interpreter"
	}
	return fmt.Sprintf("route(%d)", int(r))
}

// EntryPolicy routes entry switch targets. pending is the number of values
// the target block reloads from the interpreter stack; generated reports
// whether the walk reached the target.
type EntryPolicy interface {
	Route(target, pending int, generated bool) EntryRoute
}

type configPolicy struct {
	disableMultiple    bool
	disableStackAdjust bool
}

// NewConfigPolicy returns the policy the translator options describe.
func NewConfigPolicy(opts config.Translator) EntryPolicy {
	return configPolicy{
		disableMultiple:    opts.DisableMultipleEntry,
		disableStackAdjust: opts.DisableStackAdjustEntry,
	}
}

func (p configPolicy) Route(target, pending int, generated bool) EntryRoute {
	if !generated || (p.disableMultiple && target > 0) {
		return RouteInterpreter
	}
	if pending == 0 {
		return RouteJump
	}
	if !p.disableStackAdjust {
		return RouteAdjust
	}
	return RouteInterpreter
}

// ---------------------------------------------------------------------------
// Entry switch
// ---------------------------------------------------------------------------

// generateEntrySwitch prepends a lookup on the frame pc displacement that
// sends each entry target to its block. Unknown displacements resume in
// the interpreter, or trap when the bug block is enabled.
func (g *Generator) generateEntrySwitch() {
	sw := g.cfg.NewBlock(-1)
	oldFirst := g.cfg.First()

	var def *il.Block
	if g.opts.EnableBugBlock {
		def = g.createBug(g.cfg.NewBlock(-1))
	} else {
		def = g.createVMExec(g.cfg.NewBlock(-1))
	}
	def.Prepend(il.NewCounter(fmt.Sprintf("(%s)/EntrySwitch/vm_exec_core-defaultBranch", g.sig)))

	g.cfg.Prepend(def)
	g.cfg.Prepend(sw)
	g.cfg.AddEdge(def, g.cfg.End)

	// Only the start edge moves; branches back to block 0 stay put.
	g.cfg.RemoveEdge(g.cfg.Start, oldFirst)
	g.cfg.AddEdge(g.cfg.Start, sw)

	cases := make([]il.Case, 0, len(g.entryTargets))
	for _, t := range g.entryTargets {
		dest := g.genEntrySwitchTarget(t, sw)
		cases = append(cases, il.Case{Value: int64(t) * g.env.SlotSize, Dest: dest})
	}

	sw.Append(il.NewCounter(fmt.Sprintf("(%s)/invocations", g.sig)))
	sw.Append(il.NewLookup(g.loadDisplacement(), def, cases))
	g.cfg.AddSuccessorEdges(sw)
}

// genEntrySwitchTarget builds the block one switch case lands in.
func (g *Generator) genEntrySwitchTarget(target int, sw *il.Block) *il.Block {
	b := g.cfg.NewBlock(-1)
	pending := g.pendingOnEntry[target]

	var dest *il.Block
	var label string
	switch g.policy.Route(target, pending, g.generated[target]) {
	case RouteJump:
		dest = g.blocks[target]
		label = "target"
	case RouteAdjust:
		dest = g.blocks[target]
		label = fmt.Sprintf("stackadjust-%ds", pending)
		adjusted := il.NewNode(il.L2A, il.NewNode(il.LSub,
			il.NewNode(il.A2L, g.loadPrivateSP()),
			il.Lconst(int64(pending)*g.env.SlotSize)))
		b.Append(il.Store(il.AStore, g.privateSP, adjusted))
	default:
		dest = g.getVMExec(sw)
		label = "vm_exec_core"
	}
	log.Debugf("entry target %d -> %s (block_%d)", target, label, dest.Number)

	b.Append(il.NewGoto(dest))
	b.Prepend(il.NewCounter(fmt.Sprintf("(%s)/EntrySwitch/%s-%d", g.sig, label, target)))
	g.cfg.InsertAfter(sw, b)
	g.cfg.AddSuccessorEdges(b)
	return b
}

// getVMExec returns the shared interpreter re-entry block for switch
// cases, creating it on first use.
func (g *Generator) getVMExec(sw *il.Block) *il.Block {
	if g.vmExec == nil {
		g.vmExec = g.createVMExec(g.cfg.NewBlock(-1))
		g.cfg.InsertAfter(sw, g.vmExec)
		g.cfg.AddSuccessorEdges(g.vmExec)
	}
	return g.vmExec
}

// createVMExec fills b with a call resuming the frame in the interpreter
// and a return of its result.
func (g *Generator) createVMExec(b *il.Block) *il.Block {
	call := il.NewCall(il.ACall, g.helper(helperExecCore), g.loadThread(), il.Aconst(0))
	b.Append(call)
	b.Append(il.NewReturn(call))
	return b
}

// createBug fills b with a fatal diagnostic naming the displacement.
func (g *Generator) createBug(b *il.Block) *il.Block {
	call := il.NewCall(il.Call, g.helper(helperBug), il.Aconst(g.env.BugMessage), g.loadDisplacement())
	b.Append(call)
	b.Append(il.NewReturn(il.Aconst(0xdeadbeef)))
	return b
}

// prependSPPrivatization copies the frame SP into the private SP before
// anything else runs.
func (g *Generator) prependSPPrivatization() {
	first := g.cfg.First()
	b := g.cfg.NewBlock(-1)
	b.Append(il.Store(il.AStore, g.privateSP, g.loadSP()))
	g.cfg.Prepend(b)
	if first != nil {
		g.cfg.RemoveEdge(g.cfg.Start, first)
		g.cfg.AddEdge(b, first)
	}
	g.cfg.AddEdge(g.cfg.Start, b)
}
