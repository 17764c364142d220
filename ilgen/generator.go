// Package ilgen translates a YARV method body into an IL control flow graph.
//
// The generator walks the bytecode once, simulating the operand stack with
// IL nodes. Values live on that abstract stack until a block boundary or a
// helper call forces them out to the interpreter's stack, addressed through
// a method-local copy of the stack pointer (the private SP).
package ilgen

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/tliron/commonlog"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/il"
	"github.com/chazu/yarvil/telemetry"
	"github.com/chazu/yarvil/yarv"
)

var log = commonlog.GetLogger("yarvil.ilgen")

// Option configures a Generator.
type Option func(*Generator)

// WithCounters directs debug counters to c.
func WithCounters(c *telemetry.Counters) Option {
	return func(g *Generator) { g.counters = c }
}

// WithEntryPolicy overrides how entry switch targets are routed.
func WithEntryPolicy(p EntryPolicy) Option {
	return func(g *Generator) { g.policy = p }
}

// Generator translates one method at a time. It is not safe for concurrent
// use; create one per goroutine.
type Generator struct {
	env      *Env
	opts     config.Translator
	counters *telemetry.Counters
	policy   EntryPolicy
	limit    int

	// Per-translation state, reset by Generate.
	iseq *yarv.Iseq
	r    *yarv.Reader
	m    *il.Method
	cfg  *il.CFG
	syms *il.SymbolTable
	sig  string

	cur        int
	block      *il.Block
	stack      *Stack
	stackTemps []*il.Node // stackTemps[i] is the node known to be in slot i

	blocks         map[int]*il.Block
	generated      map[int]bool
	stacks         map[int]*Stack
	pendingOnEntry map[int]int
	heights        map[int]int
	todo           []int
	queued         map[int]bool
	entryTargets   []int

	privateSP  *il.Symbol
	stackSlots map[int]*il.Symbol
	locals     map[localKey]*il.Symbol
	vmExec     *il.Block
}

// New creates a generator for env configured by opts.
func New(env *Env, opts config.Translator, options ...Option) *Generator {
	if env == nil {
		env = NewEnv()
	}
	g := &Generator{
		env:    env,
		opts:   opts,
		limit:  opts.InstructionLimit,
		policy: NewConfigPolicy(opts),
	}
	if g.limit <= 0 {
		g.limit = config.DefaultInstructionLimit
	}
	for _, o := range options {
		o(g)
	}
	return g
}

// Generate translates iseq with a one-off generator.
func Generate(iseq *yarv.Iseq, env *Env, opts config.Translator, options ...Option) (*il.Method, error) {
	return New(env, opts, options...).Generate(iseq)
}

// Generate translates iseq. On failure it returns an *AbortError and no IL.
// Inconsistent input panics with InvariantError.
func (g *Generator) Generate(iseq *yarv.Iseq) (*il.Method, error) {
	g.reset(iseq)
	if g.opts.Trace {
		log.Debugf("translating %s\n%s", g.sig, yarv.Disassemble(iseq))
	}
	if err := g.genILInternal(); err != nil {
		return nil, err
	}
	g.prependSPPrivatization()
	return g.m, nil
}

func (g *Generator) reset(iseq *yarv.Iseq) {
	g.iseq = iseq
	g.r = yarv.NewReader(iseq)
	g.sig = iseq.Name()
	g.m = il.NewMethod(g.sig)
	g.cfg = g.m.CFG
	g.syms = g.m.Symbols

	g.cur = 0
	g.block = nil
	g.stack = NewStack()
	g.stackTemps = nil

	g.blocks = make(map[int]*il.Block)
	g.generated = make(map[int]bool)
	g.stacks = make(map[int]*Stack)
	g.pendingOnEntry = make(map[int]int)
	g.heights = make(map[int]int)
	g.todo = nil
	g.queued = make(map[int]bool)
	g.entryTargets = nil

	g.stackSlots = make(map[int]*il.Symbol)
	g.locals = make(map[localKey]*il.Symbol)
	g.vmExec = nil

	g.privateSP = g.syms.Temporary("privateSP")
	g.privateSP.AliasOf = g.spSym()
}

func (g *Generator) genILInternal() error {
	g.markBlockStarts()

	enableEntrySwitch := !g.opts.DisableEntrySwitch
	if enableEntrySwitch {
		if err := g.generateEntryTargets(); err != nil {
			return err
		}
	}

	if err := g.walker(); err != nil {
		return err
	}
	g.genExceptionHandlers()

	if g.opts.Trace {
		log.Debugf("Before entry switch\n%s", il.DumpString(g.m))
	}

	// Values left pending by the last generated block are dead; the entry
	// switch must not save them anywhere.
	g.stack.Clear()

	if enableEntrySwitch {
		g.generateEntrySwitch()
	}
	return nil
}

// logAbort counts and logs an abandoned translation and returns the error
// to hand back to the caller.
func (g *Generator) logAbort(message, reason string, sub ...string) error {
	e := &AbortError{Method: g.sig, Reason: reason, Message: message}
	if len(sub) > 0 {
		e.SubReason = sub[0]
	}
	g.counters.Incf("compilation_abort/%s", e.Counter())
	log.Noticef("<JIT: %s cannot be translated: %s (%s)>", g.sig, message, e.Counter())
	return e
}

// ---------------------------------------------------------------------------
// Cursor helpers
// ---------------------------------------------------------------------------

func (g *Generator) operand(slot int) uint64 {
	return g.r.Operand(g.cur, slot)
}

func (g *Generator) num(slot int) int {
	return int(g.operand(slot))
}

func (g *Generator) length() int {
	return g.r.Opcode(g.cur).Len()
}

func (g *Generator) next() int {
	return g.cur + g.length()
}

// ---------------------------------------------------------------------------
// Blocks and targets
// ---------------------------------------------------------------------------

// markBlockStarts registers a block at every offset control can reach other
// than by falling through: branch targets and the instructions after
// branches, case targets, and catch ranges.
func (g *Generator) markBlockStarts() {
	g.registerBlock(0)
	size := g.r.Size()
	mark := func(t int) {
		if t >= 0 && t < size {
			g.registerBlock(t)
		}
	}
	g.r.Each(func(off int, op yarv.Opcode) {
		switch {
		case op.IsBranch():
			mark(g.r.BranchTarget(off))
			mark(g.r.Next(off))
		case op == yarv.OpOptCaseDispatch:
			next := g.r.Next(off)
			mark(next)
			mark(g.r.RelativeTarget(off, g.r.SignedOperand(off, 2)))
			for _, c := range g.iseq.CaseHash(g.r.Operand(off, 1)) {
				mark(next + c.Offset)
			}
		}
	})
	for _, e := range g.iseq.Catch {
		mark(e.Start)
		mark(e.Cont)
	}
}

func (g *Generator) registerBlock(target int) *il.Block {
	if b, ok := g.blocks[target]; ok {
		return b
	}
	b := g.cfg.NewBlock(target)
	g.blocks[target] = b
	return b
}

// genTarget returns the block for target, queueing it for generation.
// With save set the current stack is saved for the target as well.
func (g *Generator) genTarget(target int, save bool) *il.Block {
	if target < 0 || target >= g.r.Size() {
		invariant("branch target %d outside method of size %d", target, g.r.Size())
	}
	b := g.registerBlock(target)
	if !g.generated[target] {
		g.todo = append(g.todo, target)
		g.queued[target] = true
	}
	if save {
		g.saveStack(target)
	}
	return b
}

func (g *Generator) recordHeight(target, height int) {
	if prev, ok := g.heights[target]; ok && prev != height {
		invariant("stack height mismatch at %d: %d != %d", target, prev, height)
	}
	g.heights[target] = height
}

func (g *Generator) setTemp(i int, n *il.Node) {
	for len(g.stackTemps) <= i {
		g.stackTemps = append(g.stackTemps, nil)
	}
	g.stackTemps[i] = n
}

func (g *Generator) truncateTemps(n int) {
	if len(g.stackTemps) > n {
		g.stackTemps = g.stackTemps[:n]
	}
}

// saveStack writes the pending values out to the interpreter stack so the
// block at target can reload them. The first save to reach a target
// creates the loads the target starts with.
func (g *Generator) saveStack(target int) {
	if g.stack.Empty() {
		g.recordHeight(target, 0)
		return
	}
	size := g.stack.Size()
	g.recordHeight(target, size)

	_, exists := g.stacks[target]
	create := !exists
	if create {
		g.pendingOnEntry[target] = size
	}

	writes := make(map[int]*il.Node)
	for i := 0; i < size; i++ {
		n := g.stack.Element(i)
		if i >= len(g.stackTemps) || g.stackTemps[i] != n {
			writes[i] = n
		}
	}
	g.anchorSlotHazards(writes)

	g.rematerializeSP()

	snapshot := make([]*il.Node, size)
	for i := 0; i < size; i++ {
		if n, ok := writes[i]; ok {
			log.Debugf("saving node to slot %d in %d -> %d", i, g.cur, target)
			g.genTreeTop(g.storeToRubyStack(g.loadPrivateSP(), i, n))
			g.setTemp(i, n)
		}
		if create {
			snapshot[i] = g.loadFromRubyStack(g.loadPrivateSP(), i)
		}
	}
	if create {
		g.stacks[target] = NewStack(snapshot...)
	}
}

// anchorSlotHazards evaluates stack slot loads that are about to be
// overwritten by writes before the stores happen.
func (g *Generator) anchorSlotHazards(writes map[int]*il.Node) {
	if len(writes) == 0 {
		return
	}
	var evaluated map[*il.Node]bool
	for i := 0; i < g.stack.Size(); i++ {
		g.stack.Element(i).Any(func(n *il.Node) bool {
			w, ok := writes[g.slotOf(n)]
			if !ok || w == n {
				return false
			}
			if evaluated == nil {
				evaluated = g.evaluatedNodes()
			}
			if !evaluated[n] {
				g.genTreeTop(n)
				evaluated[n] = true
			}
			return false
		})
	}
}

// readsStackSlot reports whether n has an unevaluated stack slot load that
// a later save could overwrite.
func (g *Generator) readsStackSlot(n *il.Node) bool {
	if !n.Any(func(x *il.Node) bool { return g.slotOf(x) >= 0 }) {
		return false
	}
	return !g.evaluatedNodes()[n]
}

// evaluatedNodes returns every node already anchored in the current block.
func (g *Generator) evaluatedNodes() map[*il.Node]bool {
	seen := make(map[*il.Node]bool)
	for _, t := range g.block.Trees {
		t.Any(func(n *il.Node) bool {
			seen[n] = true
			return false
		})
	}
	return seen
}

// startBlock makes the block at target current and restores its saved
// stack.
func (g *Generator) startBlock(target int) {
	g.block = g.blocks[target]
	if snap, ok := g.stacks[target]; ok {
		g.stack = snap.Clone()
		g.stackTemps = append([]*il.Node(nil), snap.elems...)
	} else {
		g.recordHeight(target, 0)
		g.stack = NewStack()
		g.stackTemps = nil
	}
}

func (g *Generator) genBBEndAndBBStart() int {
	g.genTarget(g.cur, true)
	g.startBlock(g.cur)
	return g.cur
}

func (g *Generator) genGoto(target int) int {
	g.genTreeTop(il.NewGoto(g.genTarget(target, true)))
	return g.findNextByteCodeToGen()
}

// findNextByteCodeToGen pops the next queued offset that has not been
// generated and makes its block current. It returns the method size once
// the queue is empty.
func (g *Generator) findNextByteCodeToGen() int {
	for len(g.todo) > 0 {
		t := g.todo[0]
		g.todo = g.todo[1:]
		if !g.generated[t] {
			g.startBlock(t)
			return t
		}
	}
	return g.r.Size()
}

// ---------------------------------------------------------------------------
// Walker
// ---------------------------------------------------------------------------

func (g *Generator) walker() error {
	g.block = g.registerBlock(0)
	g.stack = NewStack()
	g.stackTemps = nil
	g.recordHeight(0, 0)

	size := g.r.Size()
	for start := 0; start < size; {
		if err := g.indexedWalker(start); err != nil {
			return err
		}
		if start = g.findNextByteCodeToGen(); start < size {
			continue
		}
		// Entry targets only the interpreter reaches start with nothing
		// pending. They wait until normal flow has saved into every
		// target it reaches.
		if t, ok := g.unreachedEntryTarget(); ok {
			g.genTarget(t, false)
			start = g.findNextByteCodeToGen()
		}
	}
	g.stitch()
	return nil
}

func (g *Generator) unreachedEntryTarget() (int, bool) {
	for _, t := range g.entryTargets {
		if !g.generated[t] {
			return t, true
		}
	}
	return 0, false
}

// indexedWalker generates every instruction reachable from start.
func (g *Generator) indexedWalker(start int) error {
	size := g.r.Size()
	g.cur = start
	for g.cur < size {
		// Flowed into another block.
		if b := g.blocks[g.cur]; b != nil && b != g.block {
			if g.generated[g.cur] {
				g.cur = g.genGoto(g.cur)
			} else {
				g.cur = g.genBBEndAndBBStart()
			}
			if g.cur >= size {
				break
			}
		}

		if g.generated[g.cur] {
			invariant("bytecode %d generated twice", g.cur)
		}
		g.generated[g.cur] = true

		op := g.r.Opcode(g.cur)
		log.Debugf("generating bytecode %d %s into block_%d, stack height %d", g.cur, op, g.block.Number, g.stack.Size())
		g.counters.Incf("bytecode_seen/%s", op.Name())

		next, err := g.dispatch(op)
		if err != nil {
			return err
		}
		g.cur = next

		if g.cur > g.limit {
			return g.logAbort(
				fmt.Sprintf("Excessive complexity in ILGen (_bcIndex > %d (or %s) )", g.limit, config.EnvBytecodeLimit),
				ReasonExcessiveComplexity)
		}
	}
	return nil
}

// stitch adds the generated blocks to the graph in bytecode order and
// derives their edges.
func (g *Generator) stitch() {
	for t := range g.queued {
		if !g.generated[t] {
			invariant("block at %d was queued but never generated", t)
		}
	}
	var gen []*il.Block
	for idx, b := range g.blocks {
		if g.generated[idx] {
			gen = append(gen, b)
		}
	}
	slices.SortFunc(gen, func(a, b *il.Block) int { return cmp.Compare(a.BCIndex, b.BCIndex) })
	for _, b := range gen {
		g.cfg.AddNode(b)
	}
	g.cfg.AddEdge(g.cfg.Start, g.blocks[0])
	for _, b := range gen {
		g.cfg.AddSuccessorEdges(b)
	}
}

// genExceptionHandlers adds exception edges from every generated block in
// a catch range to the generated continuation block.
func (g *Generator) genExceptionHandlers() {
	for _, e := range g.iseq.Catch {
		cont, ok := g.blocks[e.Cont]
		if !ok || !cont.InCFG() {
			continue
		}
		for j := e.Start; j <= e.End; j++ {
			b, ok := g.blocks[j]
			if !ok || !b.InCFG() || b == cont {
				continue
			}
			g.cfg.AddExceptionEdge(b, cont)
		}
	}
}
