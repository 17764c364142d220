package jit

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/il"
	"github.com/chazu/yarvil/ilgen"
	"github.com/chazu/yarvil/telemetry"
	"github.com/chazu/yarvil/yarv"
	"github.com/google/uuid"
)

func answerMethod(label string) *yarv.Iseq {
	b := yarv.NewBuilder(label, "t.rb", 1)
	b.Emit(yarv.OpAnswer)
	b.Emit(yarv.OpLeave)
	return b.MustBuild()
}

func unsupportedMethod() *yarv.Iseq {
	b := yarv.NewBuilder("bad", "t.rb", 1)
	b.Emit(yarv.OpBitblt)
	b.Emit(yarv.OpLeave)
	return b.MustBuild()
}

// ---------------------------------------------------------------------------
// Translate
// ---------------------------------------------------------------------------

func TestTranslate(t *testing.T) {
	res, err := Translate(answerMethod("answer"), nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.Signature != "t.rb:1:answer" {
		t.Errorf("Signature = %q", res.Signature)
	}
	if _, err := uuid.Parse(res.SessionID); err != nil {
		t.Errorf("SessionID %q is not a UUID: %v", res.SessionID, err)
	}
	if len(res.EntryTargets) != 1 || res.EntryTargets[0] != 0 {
		t.Errorf("EntryTargets = %v, want [0]", res.EntryTargets)
	}
	if res.AsyncChecks != 0 {
		t.Errorf("AsyncChecks = %d without lowering", res.AsyncChecks)
	}
	for _, name := range []string{"bytecode_seen/answer", "bytecode_seen/leave", "compilations"} {
		if res.Counters[name] != 1 {
			t.Errorf("counter %s = %d, want 1", name, res.Counters[name])
		}
	}
	if res.Method.Entry() == nil {
		t.Error("translated method has no entry block")
	}
}

func TestTranslateSessionsAreUnique(t *testing.T) {
	a, err := Translate(answerMethod("a"), nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Translate(answerMethod("a"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.SessionID == b.SessionID {
		t.Error("two translations share a session ID")
	}
}

func TestTranslateLowersAndVerifies(t *testing.T) {
	cfg := config.Default()
	cfg.JIT.LowerAsyncChecks = true
	cfg.JIT.Verify = true
	res, err := Translate(answerMethod("answer"), cfg)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.AsyncChecks != 1 {
		t.Errorf("AsyncChecks = %d, want 1 (leave)", res.AsyncChecks)
	}
	for _, b := range res.Method.CFG.Blocks {
		for _, tt := range b.Trees {
			if tt.Op == il.AsyncCheck {
				t.Errorf("block_%d still holds an asynccheck", b.Number)
			}
		}
	}
}

func TestTranslateComplexArguments(t *testing.T) {
	noOpts := config.Default()
	noOpts.JIT.DisableOptionalArguments = true

	tests := []struct {
		name   string
		params yarv.Params
		cfg    *config.Config
		ok     bool
	}{
		{"plain", yarv.Params{}, nil, true},
		{"optional", yarv.Params{HasOpt: true}, nil, true},
		{"optional disabled", yarv.Params{HasOpt: true}, noOpts, false},
		{"rest", yarv.Params{HasRest: true}, nil, false},
		{"post", yarv.Params{HasPost: true}, nil, false},
		{"block", yarv.Params{HasBlock: true}, nil, false},
		{"keywords", yarv.Params{HasKw: true}, nil, false},
		{"kwrest", yarv.Params{HasKwrest: true}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := yarv.NewBuilder("m", "t.rb", 1).Params(tt.params)
			b.Emit(yarv.OpPutNil)
			b.Emit(yarv.OpLeave)
			counters := telemetry.NewCounters()
			res, err := Translate(b.MustBuild(), tt.cfg, WithCounters(counters))
			if tt.ok {
				if err != nil {
					t.Errorf("Translate: %v", err)
				}
				return
			}
			if res != nil || !errors.Is(err, ErrComplexArguments) {
				t.Fatalf("err = %v, want ErrComplexArguments", err)
			}
			if counters.Get("compilation_abort/complex_arguments") != 1 {
				t.Error("complex argument refusal not counted")
			}
		})
	}
}

func TestTranslateAbort(t *testing.T) {
	counters := telemetry.NewCounters()
	res, err := Translate(unsupportedMethod(), nil, WithCounters(counters))
	if res != nil {
		t.Error("an aborted translation must not return a result")
	}
	var ae *ilgen.AbortError
	if !errors.As(err, &ae) || ae.Reason != ilgen.ReasonUnsupportedInstruction {
		t.Fatalf("err = %v, want an unsupported instruction abort", err)
	}
	if counters.Get("compilation_abort/unsupported_instruction/bitblt") != 1 {
		t.Errorf("counters = %v", counters.Snapshot())
	}
}

type interpretOnly struct{}

func (interpretOnly) Route(int, int, bool) ilgen.EntryRoute { return ilgen.RouteInterpreter }

func TestTranslateEntryPolicy(t *testing.T) {
	res, err := Translate(answerMethod("answer"), nil, WithEntryPolicy(interpretOnly{}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Counters["(t.rb:1:answer)/EntrySwitch/vm_exec_core-0"] != 0 {
		t.Error("counters are IL nodes, not translation-time increments")
	}
	dump := il.DumpString(res.Method)
	if want := `"(t.rb:1:answer)/EntrySwitch/vm_exec_core-0"`; !strings.Contains(dump, want) {
		t.Errorf("dump lacks %s", want)
	}
}

// ---------------------------------------------------------------------------
// Compiler
// ---------------------------------------------------------------------------

func TestCompilerCompilesOnce(t *testing.T) {
	c := NewCompiler(nil, nil, nil)
	defer c.Stop()

	iseq := answerMethod("once")
	if _, err := c.Compile(iseq); err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	if _, err := c.Compile(iseq); !errors.Is(err, ErrAlreadyCompiled) {
		t.Fatalf("second Compile err = %v, want ErrAlreadyCompiled", err)
	}
	if got := len(c.Bodies("t.rb:1:once")); got != 1 {
		t.Errorf("bodies = %d, want 1", got)
	}
	if got := c.Counters().Get("compilation_refused/already_compiled"); got != 1 {
		t.Errorf("refusals counted = %d, want 1", got)
	}
}

func TestCompilerTieredCompilesTwice(t *testing.T) {
	cfg := config.Default()
	cfg.JIT.TieredCompilation = true
	c := NewCompiler(cfg, nil, nil)
	defer c.Stop()

	iseq := answerMethod("tiered")
	for i := 0; i < 2; i++ {
		if _, err := c.Compile(iseq); err != nil {
			t.Fatalf("Compile %d: %v", i+1, err)
		}
	}
	if _, err := c.Compile(iseq); !errors.Is(err, ErrAlreadyCompiled) {
		t.Fatalf("third Compile err = %v, want ErrAlreadyCompiled", err)
	}
	if !c.Exhausted("t.rb:1:tiered") {
		t.Error("method should be exhausted after two compilations")
	}
}

func TestCompilerFailureKeepsSlot(t *testing.T) {
	c := NewCompiler(nil, nil, nil)
	defer c.Stop()

	iseq := unsupportedMethod()
	for i := 0; i < 3; i++ {
		_, err := c.Compile(iseq)
		var ae *ilgen.AbortError
		if !errors.As(err, &ae) {
			t.Fatalf("Compile %d err = %v, want an abort", i+1, err)
		}
	}
	stats := c.Stats()
	if stats.MethodsFailed != 3 || stats.MethodsCompiled != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if c.Exhausted(iseq.Name()) {
		t.Error("failed translations should not use up compilations")
	}
}

func TestCompilerConcurrentCompile(t *testing.T) {
	c := NewCompiler(nil, nil, nil)
	defer c.Stop()

	iseq := answerMethod("race")
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, refused int
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Compile(iseq)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyCompiled):
				refused++
			}
		}()
	}
	wg.Wait()
	if ok != 1 || refused != 15 {
		t.Errorf("ok = %d, refused = %d, want 1 and 15", ok, refused)
	}
}

func TestCompilerQueue(t *testing.T) {
	c := NewCompiler(nil, nil, nil)
	defer c.Stop()

	done := make(chan string, 4)
	c.OnCompiled = func(iseq *yarv.Iseq, res *Result, err error) {
		if err != nil {
			done <- "error: " + err.Error()
			return
		}
		done <- res.Signature
	}
	if !c.Queue(answerMethod("queued")) {
		t.Fatal("Queue refused a fresh method")
	}
	select {
	case got := <-done:
		if got != "t.rb:1:queued" {
			t.Errorf("compiled %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("background compilation did not finish")
	}
	if c.Queue(answerMethod("queued")) {
		t.Error("Queue accepted an exhausted method")
	}
	if got := c.CompiledMethods(); len(got) != 1 || got[0] != "t.rb:1:queued" {
		t.Errorf("CompiledMethods = %v", got)
	}
}

func TestCompilerStopAndReset(t *testing.T) {
	c := NewCompiler(nil, nil, nil)
	if _, err := c.Compile(answerMethod("r")); err != nil {
		t.Fatal(err)
	}
	c.Reset()
	if stats := c.Stats(); stats.CompiledCount != 0 || stats.MethodsCompiled != 0 {
		t.Errorf("after Reset: %+v", stats)
	}
	if _, err := c.Compile(answerMethod("r")); err != nil {
		t.Errorf("Compile after Reset: %v", err)
	}

	c.Stop()
	c.Stop()
	if c.Queue(answerMethod("late")) {
		t.Error("Queue accepted work after Stop")
	}
}

// ---------------------------------------------------------------------------
// Profiler
// ---------------------------------------------------------------------------

func TestProfilerThreshold(t *testing.T) {
	p := NewProfiler(5)
	iseq := answerMethod("hot")

	var hot int
	p.OnHot = func(*yarv.Iseq, *MethodProfile) { hot++ }
	for i := 1; i <= 4; i++ {
		if p.RecordInvocation(iseq) {
			t.Fatalf("hot after %d invocations", i)
		}
	}
	if !p.RecordInvocation(iseq) {
		t.Error("method should become hot at the threshold")
	}
	if p.RecordInvocation(iseq) {
		t.Error("method should not become hot twice")
	}
	if hot != 1 {
		t.Errorf("OnHot called %d times, want 1", hot)
	}
	if profile := p.Profile("t.rb:1:hot"); profile == nil || profile.InvocationCount != 6 {
		t.Errorf("profile = %+v", profile)
	}
	if !p.IsHot("t.rb:1:hot") || p.IsHot("t.rb:1:cold") {
		t.Error("IsHot mismatch")
	}
}

func TestProfilerDefaultThreshold(t *testing.T) {
	if p := NewProfiler(0); p.HotThreshold != config.DefaultHotThreshold {
		t.Errorf("HotThreshold = %d, want %d", p.HotThreshold, config.DefaultHotThreshold)
	}
}

func TestProfilerConcurrent(t *testing.T) {
	p := NewProfiler(100)
	iseq := answerMethod("busy")
	var mu sync.Mutex
	hot := 0
	p.OnHot = func(*yarv.Iseq, *MethodProfile) {
		mu.Lock()
		hot++
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.RecordInvocation(iseq)
			}
		}()
	}
	wg.Wait()

	if hot != 1 {
		t.Errorf("OnHot called %d times, want 1", hot)
	}
	if stats := p.Stats(); stats.Invocations != 1000 || stats.HotMethods != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestProfilerTopMethods(t *testing.T) {
	p := NewProfiler(1000)
	for i, n := range []int{3, 7, 5} {
		iseq := answerMethod(fmt.Sprintf("m%d", i))
		for j := 0; j < n; j++ {
			p.RecordInvocation(iseq)
		}
	}
	got := p.TopMethods(2)
	if len(got) != 2 || got[0] != "t.rb:1:m1" || got[1] != "t.rb:1:m2" {
		t.Errorf("TopMethods(2) = %v", got)
	}
	if len(p.HotMethods()) != 0 {
		t.Error("no method should be hot")
	}
	p.Reset()
	if stats := p.Stats(); stats.Methods != 0 {
		t.Errorf("after Reset: %+v", stats)
	}
}

func TestProfilerFeedsCompiler(t *testing.T) {
	c := NewCompiler(nil, nil, nil)
	defer c.Stop()
	done := make(chan struct{}, 1)
	c.OnCompiled = func(*yarv.Iseq, *Result, error) { done <- struct{}{} }

	p := NewProfiler(3)
	c.Attach(p)
	iseq := answerMethod("warm")
	for i := 0; i < 3; i++ {
		p.RecordInvocation(iseq)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hot method was not compiled")
	}
	if len(c.Bodies("t.rb:1:warm")) != 1 {
		t.Error("hot method has no compiled body")
	}
}
