package ilgen

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/chazu/yarvil/il"
	"github.com/chazu/yarvil/yarv"
)

// handler generates IL for the instruction at g.cur and returns the next
// offset to generate.
type handler func(*Generator) (int, error)

// stmt adapts a handler that only adjusts the stack or emits statements.
func stmt(fn func(*Generator)) handler {
	return func(g *Generator) (int, error) {
		fn(g)
		return g.next(), nil
	}
}

// pushes adapts a handler producing one value.
func pushes(fn func(*Generator) *il.Node) handler {
	return func(g *Generator) (int, error) {
		g.stack.Push(fn(g))
		return g.next(), nil
	}
}

func pushesErr(fn func(*Generator) (*il.Node, error)) handler {
	return func(g *Generator) (int, error) {
		n, err := fn(g)
		if err != nil {
			return 0, err
		}
		g.stack.Push(n)
		return g.next(), nil
	}
}

// transfer marks handlers that choose the next offset themselves.
func transfer(fn func(*Generator) (int, error)) handler { return fn }

var handlers map[yarv.Opcode]handler

func init() {
	handlers = map[yarv.Opcode]handler{
		yarv.OpNop:   stmt(func(*Generator) {}),
		yarv.OpTrace: stmt((*Generator).trace),

		yarv.OpGetLocal:    pushes(func(g *Generator) *il.Node { return g.getLocal(g.num(1), g.num(2)) }),
		yarv.OpGetLocalWC0: pushes(func(g *Generator) *il.Node { return g.getLocal(g.num(1), 0) }),
		yarv.OpGetLocalWC1: pushes(func(g *Generator) *il.Node { return g.getLocal(g.num(1), 1) }),
		yarv.OpSetLocal:    stmt(func(g *Generator) { g.setLocal(g.num(1), g.num(2)) }),
		yarv.OpSetLocalWC0: stmt(func(g *Generator) { g.setLocal(g.num(1), 0) }),
		yarv.OpSetLocalWC1: stmt(func(g *Generator) { g.setLocal(g.num(1), 1) }),

		yarv.OpGetSpecial:          pushes((*Generator).getSpecial),
		yarv.OpSetSpecial:          stmt((*Generator).setSpecial),
		yarv.OpGetInstanceVariable: pushes((*Generator).getInstanceVariable),
		yarv.OpSetInstanceVariable: stmt((*Generator).setInstanceVariable),
		yarv.OpGetClassVariable:    pushes((*Generator).getClassVariable),
		yarv.OpSetClassVariable:    stmt((*Generator).setClassVariable),
		yarv.OpGetConstant:         pushes((*Generator).getConstant),
		yarv.OpSetConstant:         stmt((*Generator).setConstant),
		yarv.OpGetGlobal:           pushes((*Generator).getGlobal),
		yarv.OpSetGlobal:           stmt((*Generator).setGlobal),

		yarv.OpPutNil:            pushes(func(*Generator) *il.Node { return il.Lconst(int64(yarv.Qnil)) }),
		yarv.OpPutSelf:           pushes((*Generator).loadSelf),
		yarv.OpPutObject:         pushes(func(g *Generator) *il.Node { return il.Lconst(int64(g.operand(1))) }),
		yarv.OpPutObjectInt2Fix0: pushes(func(*Generator) *il.Node { return il.Lconst(int64(yarv.Int2Fix(0))) }),
		yarv.OpPutObjectInt2Fix1: pushes(func(*Generator) *il.Node { return il.Lconst(int64(yarv.Int2Fix(1))) }),
		yarv.OpAnswer:            pushes(func(*Generator) *il.Node { return il.Lconst(int64(yarv.Int2Fix(42))) }),
		yarv.OpPutSpecialObject:  pushesErr((*Generator).putSpecialObject),
		yarv.OpPutIseq:           pushes(func(g *Generator) *il.Node { return il.Aconst(g.operand(1)) }),
		yarv.OpPutString: pushes(func(g *Generator) *il.Node {
			return g.genCall(helperStrResurrect, il.LCall, il.Lconst(int64(g.operand(1))))
		}),
		yarv.OpConcatStrings: pushes((*Generator).concatStrings),
		yarv.OpToString: pushes(func(g *Generator) *il.Node {
			return g.genCall(helperObjAsString, il.LCall, g.stack.Pop())
		}),
		yarv.OpFreezeString: pushes((*Generator).freezeString),
		yarv.OpToRegexp:     pushes((*Generator).toRegexp),

		yarv.OpNewArray: pushes((*Generator).newArray),
		yarv.OpDupArray: pushes(func(g *Generator) *il.Node {
			return g.genCall(helperAryResurrect, il.LCall, il.Lconst(int64(g.operand(1))))
		}),
		yarv.OpExpandArray: transfer((*Generator).expandArray),
		yarv.OpConcatArray: pushes((*Generator).concatArray),
		yarv.OpSplatArray: pushes(func(g *Generator) *il.Node {
			ary := g.stack.Pop()
			return g.genCall(helperSplatArray, il.LCall, il.Lconst(int64(g.operand(1))), ary)
		}),
		yarv.OpNewHash:  pushes((*Generator).newHash),
		yarv.OpNewRange: pushes((*Generator).newRange),

		yarv.OpPop:         stmt(func(g *Generator) { g.stack.Pop() }),
		yarv.OpDup:         stmt(func(g *Generator) { g.stack.Push(g.stack.Top()) }),
		yarv.OpDupN:        stmt(func(g *Generator) { g.stack.DuplicateTop(g.num(1)) }),
		yarv.OpSwap:        stmt(func(g *Generator) { g.stack.SwapTop2() }),
		yarv.OpReput:       stmt(func(*Generator) {}),
		yarv.OpTopN:        stmt(func(g *Generator) { g.stack.Push(g.stack.TopAt(g.num(1))) }),
		yarv.OpSetN:        stmt(func(g *Generator) { g.stack.SetAt(g.num(1), g.stack.Top()) }),
		yarv.OpAdjustStack: stmt(func(g *Generator) { g.stack.Truncate(g.num(1)) }),

		yarv.OpDefined:    pushes((*Generator).defined),
		yarv.OpCheckMatch: pushes((*Generator).checkMatch),

		yarv.OpSend:                transfer(func(g *Generator) (int, error) { return g.genSend(helperSend) }),
		yarv.OpInvokeSuper:         transfer(func(g *Generator) (int, error) { return g.genSend(helperInvokeSuper) }),
		yarv.OpOptSendWithoutBlock: transfer((*Generator).genSendWithoutBlock),
		yarv.OpInvokeBlock:         transfer((*Generator).genInvokeBlock),
		yarv.OpLeave:               transfer((*Generator).leave),

		yarv.OpThrow:           transfer((*Generator).throw),
		yarv.OpJump:            transfer((*Generator).jump),
		yarv.OpBranchIf:        transfer(func(g *Generator) (int, error) { return g.branch(true) }),
		yarv.OpBranchUnless:    transfer(func(g *Generator) (int, error) { return g.branch(false) }),
		yarv.OpGetInlineCache:  transfer((*Generator).getInlineCache),
		yarv.OpSetInlineCache:  stmt((*Generator).setInlineCache),
		yarv.OpOptCaseDispatch: transfer((*Generator).optCaseDispatch),

		yarv.OpOptPlus:  binary(helperOptPlus),
		yarv.OpOptMinus: binary(helperOptMinus),
		yarv.OpOptMult:  binary(helperOptMult),
		yarv.OpOptDiv:   binary(helperOptDiv),
		yarv.OpOptMod:   binary(helperOptMod),
		yarv.OpOptEq:    binary(helperOptEq),
		yarv.OpOptLt:    binary(helperOptLt),
		yarv.OpOptLe:    binary(helperOptLe),
		yarv.OpOptGt:    binary(helperOptGt),
		yarv.OpOptGe:    binary(helperOptGe),
		yarv.OpOptLtLt:  binary(helperOptLtLt),
		yarv.OpOptAref:  binary(helperOptAref),
		yarv.OpOptNeq:   pushes((*Generator).optNeq),
		yarv.OpOptAset:  pushes((*Generator).optAset),

		yarv.OpOptAsetWith: pushes((*Generator).optAsetWith),
		yarv.OpOptArefWith: pushes((*Generator).optArefWith),

		yarv.OpOptLength: unary(helperOptLength),
		yarv.OpOptSize:   unary(helperOptSize),
		yarv.OpOptEmptyP: unary(helperOptEmptyP),
		yarv.OpOptSucc:   unary(helperOptSucc),
		yarv.OpOptNot:    unary(helperOptNot),

		yarv.OpOptRegexpMatch1: pushes((*Generator).optRegexpMatch1),
		yarv.OpOptRegexpMatch2: pushes((*Generator).optRegexpMatch2),
	}
}

// dispatch generates the instruction at g.cur.
func (g *Generator) dispatch(op yarv.Opcode) (int, error) {
	h, ok := handlers[op]
	if !ok {
		return 0, g.logAbort(
			fmt.Sprintf("unsupported YARV instruction %s (%d)", op.Name(), uint64(op)),
			ReasonUnsupportedInstruction, op.Name())
	}
	return h(g)
}

// Supported reports whether the translator handles op.
func Supported(op yarv.Opcode) bool {
	_, ok := handlers[op]
	return ok
}

// ---------------------------------------------------------------------------
// Locals, instance variables, globals
// ---------------------------------------------------------------------------

func (g *Generator) trace() {
	if g.opts.DisableTraceInstructions {
		return
	}
	g.genCall(helperTrace, il.LCall, g.loadThread(), il.Lconst(int64(g.operand(1))))
}

func (g *Generator) getLocal(idx, level int) *il.Node {
	n := il.Loadi(il.LLoadi, g.localSym(idx, level), g.loadEP(level))
	g.genTreeTop(n)
	return n
}

func (g *Generator) setLocal(idx, level int) {
	val := g.stack.Pop()
	g.genCall(helperEnvWrite, il.LCall, g.loadEP(level), il.Lconst(int64(-idx)), val)
}

func (g *Generator) getInstanceVariable() *il.Node {
	return g.genCall(helperGetIvar, il.LCall,
		g.loadSelf(),
		il.Lconst(int64(g.operand(1))),
		il.Lconst(int64(g.operand(2))),
		il.Aconst(0),
		il.Lconst(0))
}

func (g *Generator) setInstanceVariable() {
	val := g.stack.Pop()
	g.genCall(helperSetIvar, il.LCall,
		g.loadSelf(),
		il.Lconst(int64(g.operand(1))),
		val,
		il.Lconst(int64(g.operand(2))),
		il.Aconst(0),
		il.Lconst(0))
}

func (g *Generator) getGlobal() *il.Node {
	return g.genCall(helperGvarGet, il.LCall, il.Aconst(g.operand(1)))
}

func (g *Generator) setGlobal() {
	val := g.stack.Pop()
	g.genCall(helperGvarSet, il.LCall, il.Aconst(g.operand(1)), val)
}

func (g *Generator) getSpecial() *il.Node {
	return g.genCall(helperGetSpecial, il.LCall,
		g.loadThread(),
		il.Lconst(int64(g.operand(1))),
		il.Lconst(int64(g.operand(2))))
}

func (g *Generator) setSpecial() {
	obj := g.stack.Pop()
	lep := g.genCall(helperEpLocalEp, il.LCall, g.loadEP(0))
	g.genCall(helperLepSvarSet, il.LCall, g.loadThread(), lep, il.Lconst(int64(g.operand(1))), obj)
}

func (g *Generator) getClassVariable() *il.Node {
	klass := g.cvarBase()
	return g.genCall(helperCvarGet, il.LCall, klass, il.Lconst(int64(g.operand(1))))
}

func (g *Generator) setClassVariable() {
	val := g.stack.Pop()
	klass := g.cvarBase()
	g.genCall(helperCvarSet, il.LCall, klass, il.Lconst(int64(g.operand(1))), val)
}

func (g *Generator) cvarBase() *il.Node {
	cref := g.genCall(helperGetCref, il.LCall, g.loadEP(0))
	return g.genCall(helperGetCvarBase, il.LCall, cref, g.loadCFP())
}

func (g *Generator) getConstant() *il.Node {
	klass := g.stack.Pop()
	return g.genCall(helperGetEvConst, il.LCall,
		g.loadThread(), klass, il.Lconst(int64(g.operand(1))), il.Lconst(0))
}

func (g *Generator) setConstant() {
	cbase := g.stack.Pop()
	val := g.stack.Pop()
	g.genCall(helperSetConstant, il.Call,
		g.loadThread(), il.Lconst(int64(g.operand(1))), val, cbase)
}

// ---------------------------------------------------------------------------
// Object construction
// ---------------------------------------------------------------------------

func (g *Generator) putSpecialObject() (*il.Node, error) {
	switch g.operand(1) {
	case 1:
		return il.Aconst(g.env.FrozenCore), nil
	case 2:
		return g.genCall(helperGetCbase, il.LCall, g.loadEP(0)), nil
	case 3:
		return g.genCall(helperGetConstBase, il.LCall, g.loadEP(0)), nil
	}
	return nil, g.logAbort("we do not support putspecialobject with this case", ReasonPutSpecialObject)
}

func (g *Generator) concatStrings() *il.Node {
	num := g.num(1)
	i := num - 1
	val := g.genCall(helperStrResurrect, il.LCall, g.stack.TopAt(i))
	for i--; i >= 0; i-- {
		g.genCall(helperStrAppend, il.LCall, val, g.stack.TopAt(i))
	}
	g.stack.Truncate(num)
	return val
}

func (g *Generator) freezeString() *il.Node {
	str := g.stack.Pop()
	if debugInfo := g.operand(1); debugInfo != yarv.Qnil {
		g.genCall(helperIvarSet, il.LCall, str, il.Iconst(g.env.IDDebugCreatedInfo), il.Aconst(debugInfo))
	}
	return g.genCall(helperStrFreeze, il.LCall, str)
}

func (g *Generator) toRegexp() *il.Node {
	opt, cnt := g.operand(1), g.num(2)
	ary := g.genCall(helperAryTmpNew, il.LCall, il.Lconst(int64(cnt)))
	for i := 0; i < cnt; i++ {
		g.genCall(helperAryStore, il.LCall, ary, il.Lconst(int64(cnt-i-1)), g.stack.TopAt(i))
	}
	g.stack.Truncate(cnt)
	return g.genCall(helperRegNewAry, il.LCall, ary, il.Iconst(int64(opt)))
}

// newArray copies the top num values into a scratch array in bottom-up
// order and builds the array from it.
func (g *Generator) newArray() *il.Node {
	num := g.num(1)
	argv := g.syms.LocalArray("argv", num, int(g.env.SlotSize))
	for i := 1; i <= num; i++ {
		slot := g.syms.GenericShadow(int64(num-i) * g.env.SlotSize)
		g.genTreeTop(il.Storei(il.AStorei, slot, il.NewLoadAddr(argv), g.stack.Pop()))
	}
	return g.genCall(helperAryNewFromValues, il.LCall, il.Lconst(int64(num)), il.NewLoadAddr(argv))
}

// expandArray lets the helper spread the array over the interpreter stack
// and reloads the pieces from there.
func (g *Generator) expandArray() (int, error) {
	num, flag := g.num(1), g.num(2)
	if flag != 0 {
		return 0, g.logAbort("we do not support expandarray with flag other than 0 at the moment", ReasonExpandArrayFlag)
	}
	ary := g.stack.Pop()
	g.rematerializeSP()
	g.genCall(helperExpandArray, il.Call, g.loadCFP(), ary, il.Lconst(int64(num)), il.Lconst(int64(flag)))

	sp := g.loadPrivateSP()
	startHeight := g.stack.Size()
	g.truncateTemps(startHeight)
	for i := 0; i < num; i++ {
		n := g.loadFromRubyStack(sp, startHeight+i)
		g.genTreeTop(n)
		g.stack.Push(n)
		g.setTemp(startHeight+i, n)
	}
	return g.next(), nil
}

func (g *Generator) concatArray() *il.Node {
	ary2 := g.stack.Pop()
	ary1 := g.stack.Pop()
	return g.genCall(helperConcatArray, il.LCall, ary1, ary2)
}

func (g *Generator) newHash() *il.Node {
	num := g.num(1)
	hash := g.genCall(helperHashNew, il.LCall)
	for i := num; i > 0; i -= 2 {
		g.genCall(helperHashAset, il.LCall, hash, g.stack.TopAt(i-1), g.stack.TopAt(i-2))
	}
	g.stack.Truncate(num)
	return hash
}

func (g *Generator) newRange() *il.Node {
	high := g.stack.Pop()
	low := g.stack.Pop()
	return g.genCall(helperRangeNew, il.LCall, low, high, il.Lconst(int64(g.operand(1))))
}

func (g *Generator) defined() *il.Node {
	v := g.stack.Pop()
	return g.genCall(helperDefined, il.LCall,
		g.loadThread(),
		il.Lconst(int64(g.operand(1))),
		il.Lconst(int64(g.operand(2))),
		il.Lconst(int64(g.operand(3))),
		v)
}

func (g *Generator) checkMatch() *il.Node {
	pattern := g.stack.Pop()
	target := g.stack.Pop()
	return g.genCall(helperCheckMatch, il.LCall, il.Lconst(int64(g.operand(1))), target, pattern)
}

// ---------------------------------------------------------------------------
// Optimized sends
// ---------------------------------------------------------------------------

func unary(name string) handler {
	return pushes(func(g *Generator) *il.Node {
		recv := g.stack.Pop()
		return g.genCall(name, il.LCall,
			g.loadThread(), il.Aconst(g.operand(1)), il.Aconst(g.operand(2)), recv)
	})
}

func binary(name string) handler {
	return pushes(func(g *Generator) *il.Node {
		obj := g.stack.Pop()
		recv := g.stack.Pop()
		return g.genCall(name, il.LCall,
			g.loadThread(), il.Aconst(g.operand(1)), il.Aconst(g.operand(2)), recv, obj)
	})
}

func (g *Generator) optNeq() *il.Node {
	obj := g.stack.Pop()
	recv := g.stack.Pop()
	return g.genCall(helperOptNeq, il.LCall,
		g.loadThread(),
		il.Aconst(g.operand(1)), il.Aconst(g.operand(2)),
		il.Aconst(g.operand(3)), il.Aconst(g.operand(4)),
		recv, obj)
}

func (g *Generator) optAset() *il.Node {
	third := g.stack.Pop()
	obj := g.stack.Pop()
	recv := g.stack.Pop()
	return g.genCall(helperOptAset, il.LCall,
		g.loadThread(), il.Aconst(g.operand(1)), il.Aconst(g.operand(2)), recv, obj, third)
}

func (g *Generator) optAsetWith() *il.Node {
	val := g.stack.Pop()
	recv := g.stack.Pop()
	return g.genCall(helperOptAsetWith, il.LCall,
		g.loadThread(), il.Aconst(g.operand(1)), il.Aconst(g.operand(2)),
		il.Lconst(int64(g.operand(3))), recv, val)
}

func (g *Generator) optArefWith() *il.Node {
	recv := g.stack.Pop()
	return g.genCall(helperOptArefWith, il.LCall,
		g.loadThread(), il.Aconst(g.operand(1)), il.Aconst(g.operand(2)),
		il.Lconst(int64(g.operand(3))), recv)
}

func (g *Generator) optRegexpMatch1() *il.Node {
	return g.genCall(helperOptRegexpMatch1, il.LCall, il.Lconst(int64(g.operand(1))), g.stack.Pop())
}

func (g *Generator) optRegexpMatch2() *il.Node {
	obj1 := g.stack.Pop()
	obj2 := g.stack.Pop()
	return g.genCall(helperOptRegexpMatch2, il.LCall,
		g.loadThread(), il.Aconst(g.operand(1)), il.Aconst(g.operand(2)), obj2, obj1)
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// leave pops the frame and returns the top of the stack.
func (g *Generator) leave() (int, error) {
	retval := g.stack.Pop()
	g.genTreeTop(retval)
	g.rematerializeSP()
	g.genCall(helperStackCheck, il.Call, g.loadThread(), g.loadCFP())
	g.genAsyncCheck()
	g.genTreeTop(g.storeCFP(il.NewNode(il.AXAdd, g.loadCFP(), il.Lconst(g.env.Layout.FrameSize))))
	g.genTreeTop(il.NewReturn(retval))
	return g.findNextByteCodeToGen(), nil
}

func (g *Generator) throw() (int, error) {
	obj := g.stack.Pop()
	g.genAsyncCheck()
	g.rematerializeSP()
	val := g.genCall(helperThrow, il.LCall, g.loadThread(), il.Lconst(int64(g.operand(1))), obj)
	g.genTreeTop(il.NewReturn(val))
	return g.findNextByteCodeToGen(), nil
}

func (g *Generator) jump() (int, error) {
	target := g.r.BranchTarget(g.cur)
	if target <= g.cur {
		g.genAsyncCheck()
	}
	return g.genGoto(target), nil
}

// branch tests the popped value against nil and false. Both are the only
// values with every bit outside Qnil clear.
func (g *Generator) branch(ifTrue bool) (int, error) {
	v := g.stack.Pop()
	if g.readsStackSlot(v) {
		g.genTreeTop(v)
	}
	target := g.r.BranchTarget(g.cur)
	g.genTarget(g.next(), true)
	if target <= g.cur {
		g.genAsyncCheck()
	}
	dest := g.genTarget(target, true)
	op := il.IfLCmpEq
	if ifTrue {
		op = il.IfLCmpNe
	}
	test := il.NewNode(il.LAnd, v, il.Lconst(^int64(yarv.Qnil)))
	g.genTreeTop(il.NewIf(op, test, il.Lconst(0), dest))
	return g.findNextByteCodeToGen(), nil
}

// getInlineCache pushes the cached constant on a hit and nil on a miss,
// then branches past the constant lookup on a hit.
func (g *Generator) getInlineCache() (int, error) {
	lay := g.env.Layout
	ic := il.Aconst(g.operand(2))
	gcs := g.syms.Static("ruby_vm_global_constant_state", g.env.GlobalConstantState, true)

	serialHit := il.NewNode(il.LCmpEq,
		il.Loadi(il.LLoadi, g.syms.Shadow("ic_serial", lay.InlineCacheSerial, false), ic),
		il.Load(il.LLoad, gcs))
	cref := il.Loadi(il.ALoadi, g.syms.Shadow("ic_cref", lay.InlineCacheCref, false), ic)
	crefHit := il.NewNode(il.IOr,
		il.NewNode(il.LCmpEq, cref, il.Lconst(0)),
		il.NewNode(il.LCmpEq, cref, g.genCall(helperGetCref, il.LCall, g.loadEP(0))))
	hit := il.NewNode(il.IAnd, serialHit, crefHit)

	value := il.NewNode(il.LTernary,
		hit,
		il.Loadi(il.LLoadi, g.syms.Shadow("ic_value", lay.InlineCacheValue, false), ic),
		il.Lconst(int64(yarv.Qnil)))
	g.genTreeTop(value)
	g.stack.Push(value)

	g.genTarget(g.next(), true)
	dest := g.genTarget(g.r.BranchTarget(g.cur), true)
	g.genTreeTop(il.NewIf(il.IfICmpNe, hit, il.Iconst(0), dest))
	return g.findNextByteCodeToGen(), nil
}

func (g *Generator) setInlineCache() {
	v := g.stack.Pop()
	g.genCall(helperSetInlineCache, il.Call, g.loadThread(), il.Aconst(g.operand(1)), v)
	g.stack.Push(v)
}

// optCaseDispatch asks the VM for the matching key and switches on it. An
// unmatched key falls through to the next instruction.
func (g *Generator) optCaseDispatch() (int, error) {
	hash := g.operand(1)
	entries := slices.Clone(g.iseq.CaseHash(hash))
	slices.SortFunc(entries, func(a, b yarv.CaseEntry) int { return cmp.Compare(a.Key, b.Key) })

	key := g.stack.Pop()
	selector := g.genCall(helperComputeCaseDest, il.ICall,
		il.Aconst(hash), il.Aconst(g.operand(2)), key)

	next := g.next()
	def := g.genTarget(next, true)
	cases := make([]il.Case, 0, len(entries))
	for _, e := range entries {
		log.Debugf("case %d -> %d", e.Key, next+e.Offset)
		cases = append(cases, il.Case{Value: int64(e.Key), Dest: g.genTarget(next+e.Offset, true)})
	}
	g.genTreeTop(il.NewLookup(selector, def, cases))
	return g.findNextByteCodeToGen(), nil
}
