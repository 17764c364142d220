package yarv

import (
	"sort"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op     Opcode
		name   string
		length int
	}{
		{OpNop, "nop", 1},
		{OpGetLocal, "getlocal", 3},
		{OpGetLocalWC0, "getlocal_OP__WC__0", 2},
		{OpPutObjectInt2Fix1, "putobject_OP_INT2FIX_O_1_C_", 1},
		{OpSend, "send", 4},
		{OpOptNeq, "opt_neq", 5},
		{OpOptArefWith, "opt_aref_with", 4},
		{OpGetInlineCache, "getinlinecache", 3},
		{OpOptCaseDispatch, "opt_case_dispatch", 3},
		{OpDefined, "defined", 4},
		{OpLeave, "leave", 1},
	}

	for _, tt := range tests {
		if got := tt.op.Name(); got != tt.name {
			t.Errorf("%d: Name = %q, want %q", uint64(tt.op), got, tt.name)
		}
		if got := tt.op.Len(); got != tt.length {
			t.Errorf("%s: Len = %d, want %d", tt.op, got, tt.length)
		}
	}
}

func TestOpcodeTableComplete(t *testing.T) {
	for op := Opcode(0); op < InstructionCount; op++ {
		if !op.Valid() {
			t.Errorf("opcode %d has no table entry", uint64(op))
		}
	}
	if len(opcodeTable) != InstructionCount {
		t.Errorf("table has %d entries, want %d", len(opcodeTable), InstructionCount)
	}
}

func TestLookup(t *testing.T) {
	op, ok := Lookup("opt_plus")
	if !ok || op != OpOptPlus {
		t.Errorf("Lookup(opt_plus) = %v, %v", op, ok)
	}
	if _, ok := Lookup("bogus"); ok {
		t.Error("Lookup(bogus) should fail")
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != InstructionCount {
		t.Fatalf("Names returned %d, want %d", len(names), InstructionCount)
	}
	if !sort.StringsAreSorted(names) {
		t.Error("Names is not sorted")
	}
	for _, name := range names {
		if _, ok := Lookup(name); !ok {
			t.Errorf("Lookup(%q) failed", name)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0xFF)
	if !strings.HasPrefix(op.Name(), "UNKNOWN_") {
		t.Errorf("unknown opcode should have UNKNOWN_ prefix, got %q", op.Name())
	}
	if op.Len() != 1 {
		t.Errorf("unknown opcode Len = %d, want 1", op.Len())
	}
}

func TestIsBranch(t *testing.T) {
	for _, op := range []Opcode{OpJump, OpBranchIf, OpBranchUnless, OpGetInlineCache} {
		if !op.IsBranch() {
			t.Errorf("%s should be a branch", op)
		}
	}
	if OpLeave.IsBranch() {
		t.Error("leave should not be a branch")
	}
}

func TestInt2Fix(t *testing.T) {
	tests := []struct {
		n    int64
		want uint64
	}{
		{0, 1},
		{1, 3},
		{42, 85},
	}
	for _, tt := range tests {
		if got := Int2Fix(tt.n); got != tt.want {
			t.Errorf("Int2Fix(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}
