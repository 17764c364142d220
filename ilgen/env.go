package ilgen

import (
	"github.com/chazu/yarvil/yarv"
)

// ---------------------------------------------------------------------------
// Interpreter environment
// ---------------------------------------------------------------------------

// Frame layout of the interpreter the generated code runs against. Offsets
// are in bytes.
type Layout struct {
	ThreadCFP     int64 // rb_thread_t.cfp
	InterruptFlag int64 // rb_thread_t.interrupt_flag
	InterruptMask int64 // rb_thread_t.interrupt_mask

	FramePC        int64
	FrameSP        int64
	FrameIseq      int64
	FrameSelf      int64
	FrameEP        int64
	FrameBlockCode int64
	FrameSize      int64 // sizeof(rb_control_frame_t)

	InlineCacheSerial int64
	InlineCacheCref   int64
	InlineCacheValue  int64
}

// DefaultLayout matches a 64-bit interpreter.
var DefaultLayout = Layout{
	ThreadCFP:     48,
	InterruptFlag: 160,
	InterruptMask: 164,

	FramePC:        0,
	FrameSP:        8,
	FrameIseq:      16,
	FrameSelf:      24,
	FrameEP:        32,
	FrameBlockCode: 40,
	FrameSize:      48,

	InlineCacheSerial: 0,
	InlineCacheCref:   8,
	InlineCacheValue:  16,
}

// Env is the read-only view of the interpreter the translator needs:
// frame layout, helper addresses and a handful of VM constants. One Env is
// shared by every translation.
type Env struct {
	SlotSize int64
	Layout   Layout

	// Helpers maps helper names to entry addresses. Unknown helpers
	// resolve to address 0.
	Helpers map[string]uint64

	FrozenCore          uint64 // rb_mRubyVMFrozenCore value
	GlobalConstantState uint64 // &ruby_vm_global_constant_state
	FrozenCoreAddress   uint64 // &rb_mRubyVMFrozenCore
	IDDebugCreatedInfo  int64  // id of the debug_created_info ivar
	BugMessage          uint64 // address of the entry switch rb_bug format
}

// NewEnv returns an environment with the default layout and a helper
// table covering every helper the translator calls.
func NewEnv() *Env {
	e := &Env{
		SlotSize:            yarv.SlotSize,
		Layout:              DefaultLayout,
		Helpers:             make(map[string]uint64, len(helperNames)),
		FrozenCore:          0x7f00_0000_a000,
		GlobalConstantState: 0x7f00_0000_b000,
		FrozenCoreAddress:   0x7f00_0000_b008,
		IDDebugCreatedInfo:  0x3c1,
		BugMessage:          0x7f00_0000_c000,
	}
	addr := uint64(0x7f00_1000_0000)
	for _, name := range helperNames {
		e.Helpers[name] = addr
		addr += 0x40
	}
	return e
}

// HelperAddress returns the entry address of the named helper.
func (e *Env) HelperAddress(name string) uint64 {
	return e.Helpers[name]
}

// Runtime helpers called from generated IL.
const (
	helperSend              = "vm_send"
	helperSendWithoutBlock  = "vm_send_without_block"
	helperInvokeSuper       = "vm_invokesuper"
	helperInvokeBlock       = "vm_invokeblock"
	helperOptPlus           = "vm_opt_plus"
	helperOptMinus          = "vm_opt_minus"
	helperOptMult           = "vm_opt_mult"
	helperOptDiv            = "vm_opt_div"
	helperOptMod            = "vm_opt_mod"
	helperOptEq             = "vm_opt_eq"
	helperOptNeq            = "vm_opt_neq"
	helperOptLt             = "vm_opt_lt"
	helperOptLe             = "vm_opt_le"
	helperOptGt             = "vm_opt_gt"
	helperOptGe             = "vm_opt_ge"
	helperOptLtLt           = "vm_opt_ltlt"
	helperOptAref           = "vm_opt_aref"
	helperOptAset           = "vm_opt_aset"
	helperOptAsetWith       = "vm_opt_aset_with"
	helperOptArefWith       = "vm_opt_aref_with"
	helperOptLength         = "vm_opt_length"
	helperOptSize           = "vm_opt_size"
	helperOptEmptyP         = "vm_opt_empty_p"
	helperOptSucc           = "vm_opt_succ"
	helperOptNot            = "vm_opt_not"
	helperOptRegexpMatch1   = "vm_opt_regexpmatch1"
	helperOptRegexpMatch2   = "vm_opt_regexpmatch2"
	helperGetIvar           = "vm_getivar"
	helperSetIvar           = "vm_setivar"
	helperGvarGet           = "rb_gvar_get"
	helperGvarSet           = "rb_gvar_set"
	helperEnvWrite          = "rb_vm_env_write"
	helperGetEvConst        = "vm_get_ev_const"
	helperSetConstant       = "vm_setconstant"
	helperStrResurrect      = "rb_str_resurrect"
	helperStrAppend         = "rb_str_append"
	helperStrFreeze         = "rb_str_freeze"
	helperObjAsString       = "rb_obj_as_string"
	helperIvarSet           = "rb_ivar_set"
	helperHashNew           = "rb_hash_new"
	helperHashAset          = "rb_hash_aset"
	helperRangeNew          = "rb_range_new"
	helperAryNewFromValues  = "rb_ary_new_from_values"
	helperAryResurrect      = "rb_ary_resurrect"
	helperAryTmpNew         = "rb_ary_tmp_new"
	helperAryStore          = "rb_ary_store"
	helperExpandArray       = "vm_expandarray"
	helperSplatArray        = "vm_splatarray"
	helperConcatArray       = "vm_concatarray"
	helperRegNewAry         = "rb_reg_new_ary"
	helperTrace             = "vm_trace"
	helperGetSpecial        = "vm_getspecial"
	helperLepSvarSet        = "lep_svar_set"
	helperEpLocalEp         = "rb_vm_ep_local_ep"
	helperGetCbase          = "vm_get_cbase"
	helperGetConstBase      = "vm_get_const_base"
	helperGetCref           = "rb_vm_get_cref"
	helperGetCvarBase       = "vm_get_cvar_base"
	helperCvarGet           = "rb_cvar_get"
	helperCvarSet           = "rb_cvar_set"
	helperCheckMatch        = "vm_checkmatch"
	helperDefined           = "vm_defined"
	helperThrow             = "vm_throw"
	helperSetInlineCache    = "vm_setinlinecache"
	helperComputeCaseDest   = "vm_compute_case_dest"
	helperStackCheck        = "vm_jit_stack_check"
	helperExecCore          = "vm_exec_core"
	helperBug               = "rb_bug"
	helperExecuteInterrupts = "rb_threadptr_execute_interrupts"
)

var helperNames = []string{
	helperSend, helperSendWithoutBlock, helperInvokeSuper, helperInvokeBlock,
	helperOptPlus, helperOptMinus, helperOptMult, helperOptDiv, helperOptMod,
	helperOptEq, helperOptNeq, helperOptLt, helperOptLe, helperOptGt, helperOptGe,
	helperOptLtLt, helperOptAref, helperOptAset, helperOptAsetWith, helperOptArefWith,
	helperOptLength, helperOptSize, helperOptEmptyP, helperOptSucc, helperOptNot,
	helperOptRegexpMatch1, helperOptRegexpMatch2,
	helperGetIvar, helperSetIvar, helperGvarGet, helperGvarSet, helperEnvWrite,
	helperGetEvConst, helperSetConstant,
	helperStrResurrect, helperStrAppend, helperStrFreeze, helperObjAsString, helperIvarSet,
	helperHashNew, helperHashAset, helperRangeNew,
	helperAryNewFromValues, helperAryResurrect, helperAryTmpNew, helperAryStore,
	helperExpandArray, helperSplatArray, helperConcatArray, helperRegNewAry,
	helperTrace, helperGetSpecial, helperLepSvarSet, helperEpLocalEp,
	helperGetCbase, helperGetConstBase, helperGetCref, helperGetCvarBase,
	helperCvarGet, helperCvarSet, helperCheckMatch, helperDefined, helperThrow,
	helperSetInlineCache, helperComputeCaseDest, helperStackCheck,
	helperExecCore, helperBug, helperExecuteInterrupts,
}

// ExecuteInterruptsHelper names the helper the asynccheck lowering calls.
const ExecuteInterruptsHelper = helperExecuteInterrupts
