package ilgen

import (
	"errors"
	"regexp"
	"slices"
	"strings"
	"testing"

	"github.com/lithammer/dedent"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/il"
	"github.com/chazu/yarvil/telemetry"
	"github.com/chazu/yarvil/yarv"
)

var reNL = regexp.MustCompile(`(?m)^`)

func diff(l, r string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(l, r, false)
	pretty := dmp.DiffPrettyText(diffs)
	return reNL.ReplaceAllLiteralString(pretty, "\t")
}

func translate(t *testing.T, iseq *yarv.Iseq, opts config.Translator, options ...Option) (*il.Method, *Generator) {
	t.Helper()
	g := New(NewEnv(), opts, options...)
	m, err := g.Generate(iseq)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := il.Verify(m); err != nil {
		t.Fatalf("Verify: %v\n%s", err, il.DumpString(m))
	}
	return m, g
}

func abort(t *testing.T, iseq *yarv.Iseq, opts config.Translator) (*AbortError, *telemetry.Counters) {
	t.Helper()
	counters := telemetry.NewCounters()
	m, err := New(NewEnv(), opts, WithCounters(counters)).Generate(iseq)
	if m != nil {
		t.Error("a failed translation must not return IL")
	}
	var ae *AbortError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *AbortError", err)
	}
	return ae, counters
}

// trees returns the tree tops of b, skipping counters.
func trees(b *il.Block) []*il.Node {
	var out []*il.Node
	for _, t := range b.Trees {
		if t.Op != il.Counter {
			out = append(out, t)
		}
	}
	return out
}

func isSPStore(n *il.Node) bool {
	return n.Op == il.AStorei && n.Symbol.Name == "sp"
}

func callName(n *il.Node) string {
	if n.Op == il.TreeTop {
		n = n.Child(0)
	}
	if !n.Op.IsCall() {
		return ""
	}
	return n.Symbol.Name
}

// ---------------------------------------------------------------------------
// Straight-line code
// ---------------------------------------------------------------------------

func addMethod() *yarv.Iseq {
	b := yarv.NewBuilder("add", "t.rb", 1)
	ci := b.CallInfo("+", 1, yarv.CallArgsSimple)
	b.Emit(yarv.OpPutObjectInt2Fix1)
	b.Emit(yarv.OpPutObject, yarv.Int2Fix(2))
	b.Emit(yarv.OpOptPlus, ci, 1)
	b.Emit(yarv.OpLeave)
	return b.MustBuild()
}

func TestStraightLineDump(t *testing.T) {
	m, _ := translate(t, addMethod(), config.Translator{DisableEntrySwitch: true})

	expected := dedent.Dedent(`
		<method "t.rb:1:add">
		BBStart <block_3>
		n1n     astore privateSP
		n2n       aloadi sp[+8]
		n3n         aloadi cfp[+48]
		n4n           aload thread
		BBEnd </block_3> succs=[2]
		BBStart <block_2> (bc 0)
		n5n     astorei pc[+0]
		n6n       aloadi cfp[+48]
		n7n         aload thread
		n8n       aconst 0x7f0000001030
		n9n     treetop
		n10n      lcall vm_opt_plus
		n11n        aload thread
		n12n        aconst 0x0
		n13n        aconst 0x1
		n14n        lconst 3
		n15n        lconst 5
		n16n    treetop
		          ==>n10n lcall
		n17n    astorei sp[+8]
		n18n      aloadi cfp[+48]
		n19n        aload thread
		n20n      axadd
		n21n        aload privateSP
		n22n        lconst 0
		n23n    astorei pc[+0]
		n24n      aloadi cfp[+48]
		n25n        aload thread
		n26n      aconst 0x7f0000001038
		n27n    treetop
		n28n      call vm_jit_stack_check
		n29n        aload thread
		n30n        aloadi cfp[+48]
		n31n          aload thread
		n32n    asynccheck thread
		n33n    astorei cfp[+48]
		n34n      aload thread
		n35n      axadd
		n36n        aloadi cfp[+48]
		n37n          aload thread
		n38n        lconst 48
		n39n    areturn
		          ==>n10n lcall
		BBEnd </block_2> succs=[1]
		</method>
		`)[1:]
	if actual := il.DumpString(m); actual != expected {
		t.Errorf("wrong dump:\n%s", diff(expected, actual))
	}
}

func TestStraightLineEntrySwitch(t *testing.T) {
	counters := telemetry.NewCounters()
	m, g := translate(t, addMethod(), config.Translator{}, WithCounters(counters))

	if got := g.EntryTargets(); !slices.Equal(got, []int{0}) {
		t.Errorf("EntryTargets = %v, want [0]", got)
	}

	blocks := m.CFG.Blocks
	prologue, sw := blocks[0], blocks[1]
	if n := len(prologue.Trees); n != 1 || prologue.Trees[0].Op != il.AStore || prologue.Trees[0].Symbol != g.privateSP {
		t.Errorf("prologue should be the single privateSP store, got %d trees", n)
	}
	lookup := sw.Last()
	if lookup.Op != il.Lookup {
		t.Fatalf("entry switch ends in %s, want lookup", lookup.Op)
	}
	if len(lookup.Cases) != 1 || lookup.Cases[0].Value != 0 {
		t.Fatalf("cases = %+v, want one case for displacement 0", lookup.Cases)
	}
	entry := lookup.Cases[0].Dest
	if last := entry.Last(); last.Op != il.Goto || last.Dest != g.blocks[0] {
		t.Error("case 0 should jump straight to the block at offset 0")
	}
	if name := callName(trees(lookup.Dest)[0]); name != helperExecCore {
		t.Errorf("default case calls %q, want %q", name, helperExecCore)
	}

	wantCounters := []string{
		"bytecode_seen/opt_plus",
		"bytecode_seen/leave",
	}
	for _, c := range wantCounters {
		if counters.Get(c) != 1 {
			t.Errorf("counter %s = %d, want 1", c, counters.Get(c))
		}
	}
	wantTrees := []string{
		"(t.rb:1:add)/invocations",
		"(t.rb:1:add)/EntrySwitch/target-0",
		"(t.rb:1:add)/EntrySwitch/vm_exec_core-defaultBranch",
	}
	var have []string
	for _, b := range blocks {
		for _, tt := range b.Trees {
			if tt.Op == il.Counter {
				have = append(have, tt.Text)
			}
		}
	}
	for _, w := range wantTrees {
		if !slices.Contains(have, w) {
			t.Errorf("missing counter tree %q in %v", w, have)
		}
	}
}

// ---------------------------------------------------------------------------
// Control flow and pending values
// ---------------------------------------------------------------------------

// diamond: cond; branchif else; pushA; jump merge; else: pushB; merge: leave
func diamond() *yarv.Iseq {
	b := yarv.NewBuilder("diamond", "t.rb", 1)
	other, merge := b.NewLabel(), b.NewLabel()
	b.Emit(yarv.OpPutObject, yarv.Qtrue)
	b.EmitJump(yarv.OpBranchIf, other)
	b.Emit(yarv.OpPutObject, yarv.Int2Fix(1))
	b.EmitJump(yarv.OpJump, merge)
	b.Mark(other)
	b.Emit(yarv.OpPutObject, yarv.Int2Fix(2))
	b.Mark(merge)
	b.Emit(yarv.OpLeave)
	return b.MustBuild()
}

func TestConditionalMerge(t *testing.T) {
	_, g := translate(t, diamond(), config.Translator{})

	const merge = 10
	if got := g.pendingOnEntry[merge]; got != 1 {
		t.Errorf("pendingOnEntry[%d] = %d, want 1", merge, got)
	}
	snap := g.stacks[merge]
	if snap == nil || snap.Size() != 1 || g.slotOf(snap.Element(0)) != 0 {
		t.Fatal("merge snapshot should be one load of slot 0")
	}

	for _, pred := range []int{4, 8} {
		bt := trees(g.blocks[pred])
		spAt, storeAt := -1, -1
		for i, n := range bt {
			if isSPStore(n) && spAt < 0 {
				spAt = i
			}
			if n.Op == il.LStorei && n.Symbol.Name == "stackSlot" {
				storeAt = i
			}
		}
		if spAt < 0 || storeAt < 0 || spAt > storeAt {
			t.Errorf("block at %d: sp store at %d, slot store at %d", pred, spAt, storeAt)
		}
	}

	// The merge block returns the snapshot load it started with.
	mt := trees(g.blocks[merge])
	if mt[0].Op != il.TreeTop || mt[0].Child(0) != snap.Element(0) {
		t.Error("merge block should first evaluate the pending value")
	}
	if last := mt[len(mt)-1]; last.Op != il.AReturn || last.Child(0) != snap.Element(0) {
		t.Error("merge block should return the pending value")
	}

	// The branch tests the value against nil and false.
	head := g.blocks[0].Last()
	if head.Op != il.IfLCmpNe || head.Dest != g.blocks[8] {
		t.Errorf("block 0 ends in %s, want iflcmpne to the else block", head.Op)
	}
	if mask := head.Child(0).Child(1); mask.Value != ^int64(yarv.Qnil) {
		t.Errorf("branch mask = %#x", mask.Value)
	}
}

func TestStackHeightMismatch(t *testing.T) {
	b := yarv.NewBuilder("bad", "t.rb", 1)
	join := b.NewLabel()
	b.Emit(yarv.OpPutNil)
	b.EmitJump(yarv.OpBranchIf, join)
	b.Emit(yarv.OpPutNil)
	b.Mark(join)
	b.Emit(yarv.OpLeave)
	iseq := b.MustBuild()

	expectInvariant(t, "height mismatch", func() {
		New(NewEnv(), config.Translator{}).Generate(iseq)
	})
}

func TestGenTargetIdempotent(t *testing.T) {
	g := New(NewEnv(), config.Translator{})
	g.reset(diamond())
	g.block = g.registerBlock(0)
	g.stack.Push(il.Lconst(1))

	before := len(g.blocks)
	b1 := g.genTarget(8, true)
	snap := g.stacks[8]
	b2 := g.genTarget(8, true)
	if b1 != b2 {
		t.Error("genTarget should return the same block")
	}
	if g.stacks[8] != snap {
		t.Error("a second save must not replace the snapshot")
	}
	if len(g.blocks) != before+1 {
		t.Errorf("blocks = %d, want %d", len(g.blocks), before+1)
	}
	// The second save finds the value already in its slot.
	stores := 0
	for _, n := range g.block.Trees {
		if n.Op == il.LStorei {
			stores++
		}
	}
	if stores != 1 {
		t.Errorf("slot stores = %d, want 1", stores)
	}
}

func TestSwapAnchorsSlotLoads(t *testing.T) {
	b := yarv.NewBuilder("swap", "t.rb", 1)
	mid, end := b.NewLabel(), b.NewLabel()
	ci := b.CallInfo("-", 1, yarv.CallArgsSimple)
	b.Emit(yarv.OpPutObject, yarv.Int2Fix(1))
	b.Emit(yarv.OpPutObject, yarv.Int2Fix(2))
	b.EmitJump(yarv.OpJump, mid)
	b.Mark(mid)
	b.Emit(yarv.OpSwap)
	b.EmitJump(yarv.OpJump, end)
	b.Mark(end)
	b.Emit(yarv.OpOptMinus, ci, 0)
	b.Emit(yarv.OpLeave)
	_, g := translate(t, b.MustBuild(), config.Translator{})

	bt := trees(g.blocks[6])
	firstStore, lastAnchor := len(bt), -1
	for i, n := range bt {
		if n.Op == il.LStorei && firstStore == len(bt) {
			firstStore = i
		}
		if n.Op == il.TreeTop && g.slotOf(n.Child(0)) >= 0 {
			lastAnchor = i
		}
	}
	if lastAnchor < 0 {
		t.Fatal("swapped slot loads were not anchored")
	}
	if lastAnchor > firstStore {
		t.Errorf("slot load anchored at %d after the first store at %d", lastAnchor, firstStore)
	}
}

func TestCallAnchorsPendingSlotLoads(t *testing.T) {
	b := yarv.NewBuilder("gvar", "t.rb", 1)
	next := b.NewLabel()
	b.Emit(yarv.OpPutObject, yarv.Int2Fix(1))
	b.EmitJump(yarv.OpJump, next)
	b.Mark(next)
	b.Emit(yarv.OpPutObject, yarv.Int2Fix(2))
	b.Emit(yarv.OpSetGlobal, 5)
	b.Emit(yarv.OpLeave)
	iseq := b.MustBuild()
	_, g := translate(t, iseq, config.Translator{})

	bt := trees(g.blocks[next.Position()])
	at := slices.IndexFunc(bt, func(n *il.Node) bool { return callName(n) == helperGvarSet })
	if at < 1 {
		t.Fatal("rb_gvar_set not called")
	}
	anchor := slices.IndexFunc(bt, func(n *il.Node) bool {
		return n.Op == il.TreeTop && g.slotOf(n.Child(0)) == 0
	})
	if anchor < 0 || anchor >= at-1 {
		t.Errorf("slot 0 load anchored at %d, want before the pc store at %d", anchor, at-1)
	}
}

func TestBackwardJumpChecksInterrupts(t *testing.T) {
	b := yarv.NewBuilder("loop", "t.rb", 1)
	top := b.NewLabel()
	b.Mark(top)
	b.Emit(yarv.OpNop)
	b.EmitJump(yarv.OpJump, top)
	_, g := translate(t, b.MustBuild(), config.Translator{})

	bt := trees(g.blocks[0])
	if len(bt) < 2 || bt[len(bt)-2].Op != il.AsyncCheck {
		t.Error("a backward jump should poll for interrupts first")
	}
	if last := bt[len(bt)-1]; last.Op != il.Goto || last.Dest != g.blocks[0] {
		t.Error("the loop should branch back to itself")
	}
}

func TestExceptionEdges(t *testing.T) {
	b := yarv.NewBuilder("rescue", "t.rb", 1)
	start, cont := b.NewLabel(), b.NewLabel()
	b.Mark(start)
	b.Emit(yarv.OpPutNil)
	b.Emit(yarv.OpLeave)
	b.Mark(cont)
	b.Emit(yarv.OpPutNil)
	b.Emit(yarv.OpLeave)
	b.Catch(yarv.CatchRescue, 0, start, cont, cont, 0)
	m, g := translate(t, b.MustBuild(), config.Translator{})

	if !slices.Contains(g.blocks[0].ExcSuccs, g.blocks[2]) {
		t.Error("the protected block should have an exception edge to the continuation")
	}
	if len(g.blocks[2].ExcSuccs) != 0 {
		t.Error("the continuation must not have an exception edge to itself")
	}
	if got := g.EntryTargets(); !slices.Equal(got, []int{0, 2}) {
		t.Errorf("EntryTargets = %v, want [0 2]", got)
	}
	if lookup := m.CFG.Blocks[1].Last(); len(lookup.Cases) != 2 {
		t.Errorf("entry switch has %d cases, want 2", len(lookup.Cases))
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func TestCallRematerializesSP(t *testing.T) {
	b := yarv.NewBuilder("call", "t.rb", 1)
	ci := b.CallInfo("foo", 1, yarv.CallFcall)
	b.Emit(yarv.OpPutNil)
	b.Emit(yarv.OpPutSelf)
	b.Emit(yarv.OpPutObject, yarv.Int2Fix(7))
	b.Emit(yarv.OpSend, ci, 0x20, 0)
	b.Emit(yarv.OpPop)
	b.Emit(yarv.OpLeave)
	_, g := translate(t, b.MustBuild(), config.Translator{})

	bt := trees(g.blocks[0])
	callAt := slices.IndexFunc(bt, func(n *il.Node) bool { return callName(n) == helperSend })
	if callAt < 0 {
		t.Fatal("no send call")
	}
	spAt := -1
	var slots []int64
	for i := 0; i < callAt; i++ {
		if isSPStore(bt[i]) {
			spAt = i
			slots = nil
		}
		if bt[i].Op == il.LStorei {
			slots = append(slots, bt[i].Symbol.Offset)
		}
	}
	if spAt < 0 {
		t.Fatal("send is not preceded by an sp store")
	}
	// All three values travel on the interpreter stack, top first.
	if !slices.Equal(slots, []int64{16, 8, 0}) {
		t.Errorf("slot stores = %v, want [16 8 0]", slots)
	}
	// The nil below the receiver is restored, so sp is published again.
	if !isSPStore(bt[callAt+1]) {
		t.Error("the restored stack should be published after the call")
	}
}

func TestLeaveRematerializesSP(t *testing.T) {
	m, _ := translate(t, addMethod(), config.Translator{DisableEntrySwitch: true})
	bt := trees(m.CFG.Blocks[1])
	checkAt := slices.IndexFunc(bt, func(n *il.Node) bool { return callName(n) == helperStackCheck })
	if checkAt < 2 || !isSPStore(bt[checkAt-2]) {
		t.Error("leave should store sp before the stack check")
	}
}

func TestThrowRematerializesSP(t *testing.T) {
	b := yarv.NewBuilder("raise", "t.rb", 1)
	b.Emit(yarv.OpPutNil)
	b.Emit(yarv.OpThrow, 0)
	_, g := translate(t, b.MustBuild(), config.Translator{})

	bt := trees(g.blocks[0])
	at := slices.IndexFunc(bt, func(n *il.Node) bool { return callName(n) == helperThrow })
	if at < 2 || !isSPStore(bt[at-2]) {
		t.Error("throw should store sp before the helper")
	}
}

func TestInvokeBlockWithoutArgsStoresSP(t *testing.T) {
	b := yarv.NewBuilder("yield", "t.rb", 1)
	b.Emit(yarv.OpInvokeBlock, b.CallInfo("", 0, yarv.CallArgsSimple))
	b.Emit(yarv.OpLeave)
	_, g := translate(t, b.MustBuild(), config.Translator{})

	bt := trees(g.blocks[0])
	at := slices.IndexFunc(bt, func(n *il.Node) bool { return callName(n) == helperInvokeBlock })
	if at < 2 || !isSPStore(bt[at-2]) {
		t.Error("invokeblock on an empty stack should still store sp first")
	}
}

func TestExpandArrayReloadsSlots(t *testing.T) {
	b := yarv.NewBuilder("expand", "t.rb", 1)
	ci := b.CallInfo("+", 1, yarv.CallArgsSimple)
	b.Emit(yarv.OpPutNil)
	b.Emit(yarv.OpExpandArray, 2, 0)
	b.Emit(yarv.OpOptPlus, ci, 0)
	b.Emit(yarv.OpLeave)
	_, g := translate(t, b.MustBuild(), config.Translator{})

	bt := trees(g.blocks[0])
	at := slices.IndexFunc(bt, func(n *il.Node) bool { return callName(n) == helperExpandArray })
	if at < 0 || !isSPStore(bt[at-2]) {
		t.Fatal("expandarray should publish sp before the helper")
	}
	for i := 0; i < 2; i++ {
		n := bt[at+1+i]
		if n.Op != il.TreeTop || g.slotOf(n.Child(0)) != i {
			t.Errorf("tree %d after expandarray should load slot %d", i, i)
		}
	}
}

// ---------------------------------------------------------------------------
// Aborts
// ---------------------------------------------------------------------------

func TestAborts(t *testing.T) {
	tests := []struct {
		name    string
		opts    config.Translator
		build   func(b *yarv.Builder)
		counter string
	}{
		{
			name: "unsupported",
			build: func(b *yarv.Builder) {
				b.Emit(yarv.OpPutNil)
				b.Emit(yarv.OpReverse, 1)
				b.Emit(yarv.OpLeave)
			},
			counter: "unsupported_instruction/reverse",
		},
		{
			name: "tailcall",
			build: func(b *yarv.Builder) {
				b.Emit(yarv.OpPutSelf)
				b.Emit(yarv.OpSend, b.CallInfo("f", 0, yarv.CallTailcall), 0, 0)
				b.Emit(yarv.OpLeave)
			},
			counter: ReasonTailcall,
		},
		{
			name: "send without block has blockarg",
			build: func(b *yarv.Builder) {
				b.Emit(yarv.OpPutSelf)
				b.Emit(yarv.OpPutNil)
				b.Emit(yarv.OpOptSendWithoutBlock, b.CallInfo("f", 0, yarv.CallArgsBlockarg), 0)
				b.Emit(yarv.OpLeave)
			},
			counter: ReasonSendWithoutBlockarg,
		},
		{
			name: "invokeblock blockarg",
			build: func(b *yarv.Builder) {
				b.Emit(yarv.OpPutNil)
				b.Emit(yarv.OpInvokeBlock, b.CallInfo("yield", 0, yarv.CallArgsBlockarg))
				b.Emit(yarv.OpLeave)
			},
			counter: ReasonInvokeBlockBlockarg,
		},
		{
			name: "expandarray flag",
			build: func(b *yarv.Builder) {
				b.Emit(yarv.OpPutNil)
				b.Emit(yarv.OpExpandArray, 2, 1)
				b.Emit(yarv.OpLeave)
			},
			counter: ReasonExpandArrayFlag,
		},
		{
			name: "putspecialobject",
			build: func(b *yarv.Builder) {
				b.Emit(yarv.OpPutSpecialObject, 9)
				b.Emit(yarv.OpLeave)
			},
			counter: ReasonPutSpecialObject,
		},
		{
			name: "stack restoration disabled",
			opts: config.Translator{DisableStackRestoration: true},
			build: func(b *yarv.Builder) {
				b.Emit(yarv.OpPutNil)
				b.Emit(yarv.OpPutSelf)
				b.Emit(yarv.OpOptSendWithoutBlock, b.CallInfo("f", 0, 0), 0)
				b.Emit(yarv.OpLeave)
			},
			counter: ReasonStackRestoration,
		},
		{
			name: "excessive complexity",
			opts: config.Translator{InstructionLimit: 3},
			build: func(b *yarv.Builder) {
				for i := 0; i < 4; i++ {
					b.Emit(yarv.OpNop)
				}
				b.Emit(yarv.OpPutNil)
				b.Emit(yarv.OpLeave)
			},
			counter: ReasonExcessiveComplexity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := yarv.NewBuilder("m", "t.rb", 3)
			tt.build(b)
			ae, counters := abort(t, b.MustBuild(), tt.opts)
			if ae.Counter() != tt.counter {
				t.Errorf("Counter() = %q, want %q", ae.Counter(), tt.counter)
			}
			if ae.Method != "t.rb:3:m" {
				t.Errorf("Method = %q", ae.Method)
			}
			if got := counters.Get("compilation_abort/" + tt.counter); got != 1 {
				t.Errorf("abort counter = %d, want 1", got)
			}
		})
	}
}

func TestComplexityAbortNamesLimit(t *testing.T) {
	b := yarv.NewBuilder("long", "t.rb", 1)
	for i := 0; i < 8; i++ {
		b.Emit(yarv.OpNop)
	}
	b.Emit(yarv.OpPutNil)
	b.Emit(yarv.OpLeave)
	ae, _ := abort(t, b.MustBuild(), config.Translator{InstructionLimit: 5})
	want := "_bcIndex > 5 (or " + config.EnvBytecodeLimit + ")"
	if !strings.Contains(ae.Message, want) {
		t.Errorf("Message = %q, want it to contain %q", ae.Message, want)
	}
}

func TestStitchRequiresQueuedBlocks(t *testing.T) {
	g := New(NewEnv(), config.Translator{})
	g.reset(diamond())
	g.genTarget(0, false)
	defer func() {
		if _, ok := recover().(InvariantError); !ok {
			t.Error("a queued block that was never generated should violate an invariant")
		}
	}()
	g.stitch()
}

func TestUnsupportedInstructionError(t *testing.T) {
	b := yarv.NewBuilder("m", "t.rb", 1)
	b.Emit(yarv.OpBitblt)
	ae, _ := abort(t, b.MustBuild(), config.Translator{})
	if ae.Reason != ReasonUnsupportedInstruction || ae.SubReason != "bitblt" {
		t.Errorf("reason = %s/%s", ae.Reason, ae.SubReason)
	}
	want := "t.rb:1:m cannot be translated: unsupported YARV instruction bitblt (85) (unsupported_instruction/bitblt)"
	if ae.Error() != want {
		t.Errorf("Error() = %q, want %q", ae.Error(), want)
	}
	if Supported(yarv.OpBitblt) || !Supported(yarv.OpOptPlus) {
		t.Error("Supported disagrees with the handler table")
	}
}

func TestNonZeroSPCatchEntry(t *testing.T) {
	b := yarv.NewBuilder("m", "t.rb", 1)
	start, cont := b.NewLabel(), b.NewLabel()
	b.Mark(start)
	b.Emit(yarv.OpPutNil)
	b.Mark(cont)
	b.Emit(yarv.OpLeave)
	b.Catch(yarv.CatchRescue, 0, start, cont, cont, 2)
	ae, counters := abort(t, b.MustBuild(), config.Translator{})
	if ae.Reason != ReasonNonZeroSPCatchEntry {
		t.Errorf("Reason = %s", ae.Reason)
	}
	if names := counters.Snapshot().Names(); slices.ContainsFunc(names, func(n string) bool {
		return strings.HasPrefix(n, "bytecode_seen/")
	}) {
		t.Errorf("no bytecode should be generated, counters = %v", names)
	}
}

func TestNonZeroSPIgnoredWithoutExceptionTargets(t *testing.T) {
	b := yarv.NewBuilder("m", "t.rb", 1)
	start, cont := b.NewLabel(), b.NewLabel()
	b.Mark(start)
	b.Emit(yarv.OpPutNil)
	b.Mark(cont)
	b.Emit(yarv.OpLeave)
	b.Catch(yarv.CatchRescue, 0, start, cont, cont, 2)
	_, g := translate(t, b.MustBuild(), config.Translator{DisableExceptionTargets: true})
	if got := g.EntryTargets(); !slices.Equal(got, []int{0}) {
		t.Errorf("EntryTargets = %v, want [0]", got)
	}
}
