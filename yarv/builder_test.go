package yarv

import (
	"strings"
	"testing"
)

func TestBuilderForwardJump(t *testing.T) {
	b := NewBuilder("m", "m.rb", 1)
	done := b.NewLabel()
	b.Emit(OpPutNil)
	b.EmitJump(OpBranchIf, done)
	b.Emit(OpPutObject, Int2Fix(1))
	b.Mark(done)
	b.Emit(OpLeave)
	iseq := b.MustBuild()

	r := NewReader(iseq)
	if got := r.BranchTarget(1); got != 5 {
		t.Errorf("BranchTarget(1) = %d, want 5", got)
	}
	if got := r.SignedOperand(1, 1); got != 2 {
		t.Errorf("relative offset = %d, want 2", got)
	}
}

func TestBuilderBackwardJump(t *testing.T) {
	b := NewBuilder("loop", "l.rb", 1)
	top := b.NewLabel()
	b.Mark(top)
	b.Emit(OpNop)
	b.EmitJump(OpJump, top)
	iseq := b.MustBuild()

	r := NewReader(iseq)
	if got := r.BranchTarget(1); got != 0 {
		t.Errorf("BranchTarget(1) = %d, want 0", got)
	}
	if got := r.SignedOperand(1, 1); got != -3 {
		t.Errorf("relative offset = %d, want -3", got)
	}
}

func TestBuilderUnresolvedLabel(t *testing.T) {
	b := NewBuilder("m", "m.rb", 1)
	b.EmitJump(OpJump, b.NewLabel())
	if _, err := b.Build(); err == nil {
		t.Error("Build should fail with an unresolved label")
	}
}

func TestBuilderOperandCount(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Emit with wrong operand count should panic")
		}
	}()
	NewBuilder("m", "m.rb", 1).Emit(OpPutObject)
}

func TestBuilderTables(t *testing.T) {
	b := NewBuilder("m", "m.rb", 7)
	start, end, cont, opt := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
	a, other := b.NewLabel(), b.NewLabel()

	b.Mark(start)
	b.Emit(OpPutNil)
	b.EmitCaseDispatch([]CaseLabel{{Key: Int2Fix(1), Label: a}}, other)
	b.Mark(end)
	b.Mark(opt)
	b.Mark(a)
	b.Emit(OpPutNil)
	b.Mark(other)
	b.Mark(cont)
	b.Emit(OpLeave)
	b.Catch(CatchRescue, 0, start, end, cont, 0)
	b.OptLabels(opt)
	iseq := b.MustBuild()

	if len(iseq.CaseHashes) != 1 || iseq.CaseHashes[0][0].Offset != 0 {
		t.Errorf("case hash = %+v, want one entry with offset 0", iseq.CaseHashes)
	}
	if got := NewReader(iseq).RelativeTarget(1, iseq.CaseHashes[0][0].Offset); got != 4 {
		t.Errorf("case target = %d, want 4", got)
	}
	e := iseq.Catch[0]
	if e.Start != 0 || e.End != 4 || e.Cont != 5 || !e.Local() {
		t.Errorf("catch entry = %+v", e)
	}
	if !iseq.Params.HasOpt || iseq.Params.OptTable[0] != 4 {
		t.Errorf("params = %+v", iseq.Params)
	}
	if iseq.Name() != "m.rb:7:m" {
		t.Errorf("Name() = %q, want m.rb:7:m", iseq.Name())
	}
}

func TestReaderUnderflow(t *testing.T) {
	iseq := NewBuilder("m", "m.rb", 1).MustBuild()
	defer func() {
		r := recover()
		if r == nil || !strings.Contains(r.(string), "bytecode underflow") {
			t.Errorf("recover() = %v, want bytecode underflow", r)
		}
	}()
	NewReader(iseq).Decode(0)
}

func TestLocalName(t *testing.T) {
	parent := NewBuilder("outer", "m.rb", 1).Locals("x").MustBuild()
	iseq := NewBuilder("block", "m.rb", 2).Locals("a", "b").Parent(parent).MustBuild()

	tests := []struct {
		index, level int
		want         string
	}{
		{4, 0, "a"},
		{3, 0, "b"},
		{3, 1, "x"},
		{9, 0, "?"},
	}
	for _, tt := range tests {
		if got := iseq.LocalName(tt.index, tt.level); got != tt.want {
			t.Errorf("LocalName(%d, %d) = %q, want %q", tt.index, tt.level, got, tt.want)
		}
	}
	if idx, ok := iseq.LocalIndex("a"); !ok || idx != 4 {
		t.Errorf("LocalIndex(a) = %d, %v; want 4", idx, ok)
	}
}
