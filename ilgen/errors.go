package ilgen

import "fmt"

// Abort reasons. Each is counted as compilation_abort/<reason>.
const (
	ReasonUnsupportedInstruction = "unsupported_instruction"
	ReasonTailcall               = "vm_call_tailcall"
	ReasonSendWithoutBlockarg    = "send_without_has_blockarg"
	ReasonInvokeBlockBlockarg    = "invokeblock_blockarg"
	ReasonExpandArrayFlag        = "expandarray_flag"
	ReasonPutSpecialObject       = "putspecialobject_value"
	ReasonStackRestoration       = "yarv_stack_restoration_disabled"
	ReasonExcessiveComplexity    = "excessive_complexity"
	ReasonNonZeroSPCatchEntry    = "non_zero_sp_catch_table_entry"
)

// AbortError reports a method the translator declined to translate. It is
// recoverable: the method simply keeps running in the interpreter.
type AbortError struct {
	Method    string
	Reason    string
	SubReason string
	Message   string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s cannot be translated: %s (%s)", e.Method, e.Message, e.Counter())
}

// Counter returns the reason path, "reason" or "reason/sub".
func (e *AbortError) Counter() string {
	if e.SubReason != "" {
		return e.Reason + "/" + e.SubReason
	}
	return e.Reason
}

// InvariantError is the panic value raised when the translator's internal
// state is inconsistent. It is not an error return: such a state means
// malformed input or a translator bug.
type InvariantError struct {
	Message string
}

func (e InvariantError) Error() string {
	return "ilgen invariant violated: " + e.Message
}

func invariant(format string, args ...any) {
	panic(InvariantError{Message: fmt.Sprintf(format, args...)})
}
