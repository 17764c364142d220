package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/ilgen"
	"github.com/chazu/yarvil/telemetry"
	"github.com/chazu/yarvil/yarv"
)

// ---------------------------------------------------------------------------
// Test infrastructure
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T, opts ...ServerOption) *Client {
	t.Helper()
	s := New(nil, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return NewClient(ts.URL)
}

func encode(t *testing.T, iseq *yarv.Iseq) []byte {
	t.Helper()
	data, err := yarv.MarshalIseq(iseq)
	if err != nil {
		t.Fatalf("MarshalIseq: %v", err)
	}
	return data
}

func method(label string, params yarv.Params, ops ...yarv.Opcode) *yarv.Iseq {
	b := yarv.NewBuilder(label, "t.rb", 1).Params(params)
	for _, op := range ops {
		b.Emit(op)
	}
	return b.MustBuild()
}

func bg() context.Context {
	return context.Background()
}

// ---------------------------------------------------------------------------
// Translate
// ---------------------------------------------------------------------------

func TestTranslate(t *testing.T) {
	client := newTestServer(t)

	resp, err := client.Translate(bg(), &TranslateRequest{
		Iseq:    encode(t, method("answer", yarv.Params{}, yarv.OpAnswer, yarv.OpLeave)),
		WantDot: true,
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !resp.Success {
		t.Fatalf("translation failed: %s", resp.ErrorMessage)
	}
	if resp.Signature != "t.rb:1:answer" {
		t.Errorf("Signature = %q", resp.Signature)
	}
	if _, err := uuid.Parse(resp.SessionID); err != nil {
		t.Errorf("SessionID %q: %v", resp.SessionID, err)
	}
	if !strings.Contains(resp.Dump, "lconst 85") {
		t.Errorf("dump lacks the answer constant:\n%s", resp.Dump)
	}
	if !strings.HasPrefix(resp.Dot, "digraph CFG {") {
		t.Errorf("Dot = %q", resp.Dot)
	}
	if resp.Counters["bytecode_seen/answer"] != 1 {
		t.Errorf("counters = %v", resp.Counters)
	}
}

func TestTranslateOptions(t *testing.T) {
	client := newTestServer(t)
	data := encode(t, method("answer", yarv.Params{}, yarv.OpAnswer, yarv.OpLeave))

	resp, err := client.Translate(bg(), &TranslateRequest{Iseq: data, LowerAsyncChecks: true, Verify: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.AsyncChecks != 1 || strings.Contains(resp.Dump, "asynccheck") {
		t.Errorf("AsyncChecks = %d, dump:\n%s", resp.AsyncChecks, resp.Dump)
	}

	resp, err = client.Translate(bg(), &TranslateRequest{
		Iseq:       data,
		Translator: &config.Translator{DisableEntrySwitch: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(resp.Dump, "EntrySwitch") {
		t.Error("entry switch generated although disabled")
	}
}

func TestTranslateDeclined(t *testing.T) {
	client := newTestServer(t)

	tests := []struct {
		name   string
		iseq   *yarv.Iseq
		reason string
	}{
		{"unsupported", method("bad", yarv.Params{}, yarv.OpBitblt, yarv.OpLeave), "unsupported_instruction/bitblt"},
		{"rest arguments", method("rest", yarv.Params{HasRest: true}, yarv.OpPutNil, yarv.OpLeave), "complex_arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Translate(bg(), &TranslateRequest{Iseq: encode(t, tt.iseq)})
			if err != nil {
				t.Fatalf("a declined method is not an RPC error: %v", err)
			}
			if resp.Success {
				t.Fatal("expected the translation to be declined")
			}
			if resp.AbortReason != tt.reason {
				t.Errorf("AbortReason = %q, want %q", resp.AbortReason, tt.reason)
			}
			if resp.Dump != "" {
				t.Error("a declined translation has no trees")
			}
		})
	}
}

func TestTranslateInvalidArgument(t *testing.T) {
	client := newTestServer(t)

	for _, data := range [][]byte{nil, []byte("not cbor")} {
		_, err := client.Translate(bg(), &TranslateRequest{Iseq: data})
		if connect.CodeOf(err) != connect.CodeInvalidArgument {
			t.Errorf("iseq %q: err = %v, want invalid_argument", data, err)
		}
	}
}

func TestTranslateInvariantViolation(t *testing.T) {
	client := newTestServer(t)

	_, err := client.Translate(bg(), &TranslateRequest{
		Iseq: encode(t, method("underflow", yarv.Params{}, yarv.OpPop, yarv.OpLeave)),
	})
	if connect.CodeOf(err) != connect.CodeInternal {
		t.Fatalf("err = %v, want internal", err)
	}

	// The worker survives the panic.
	resp, err := client.TranslateIseq(bg(), method("after", yarv.Params{}, yarv.OpPutNil, yarv.OpLeave))
	if err != nil || !resp.Success {
		t.Fatalf("translation after a panic: %v %+v", err, resp)
	}
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

func TestCountersAccumulate(t *testing.T) {
	client := newTestServer(t)

	for _, label := range []string{"a", "b"} {
		if _, err := client.TranslateIseq(bg(), method(label, yarv.Params{}, yarv.OpPutNil, yarv.OpLeave)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := client.TranslateIseq(bg(), method("bad", yarv.Params{}, yarv.OpBitblt, yarv.OpLeave)); err != nil {
		t.Fatal(err)
	}

	counters, err := client.Counters(bg(), true)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		want uint64
	}{
		{"bytecode_seen/putnil", 2},
		{"compilations", 2},
		{"compilation_abort/unsupported_instruction/bitblt", 1},
	}
	for _, tt := range tests {
		if got := counters[tt.name]; got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}

	counters, err = client.Counters(bg(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(counters) != 0 {
		t.Errorf("counters after reset = %v", counters)
	}
}

func TestTranslateSavesCounters(t *testing.T) {
	store, err := telemetry.Open(telemetry.DriverSQLite, filepath.Join(t.TempDir(), "counters.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	client := newTestServer(t, WithStore(store), WithEnv(ilgen.NewEnv()))

	resp, err := client.TranslateIseq(bg(), method("saved", yarv.Params{}, yarv.OpPutNil, yarv.OpLeave))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := store.Load(bg(), resp.SessionID)
	if err != nil {
		t.Fatalf("Load(%s): %v", resp.SessionID, err)
	}
	if snap["bytecode_seen/leave"] != 1 {
		t.Errorf("stored snapshot = %v", snap)
	}
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

func TestWorker(t *testing.T) {
	w := NewWorker()

	v, err := w.Do(func() any { return 7 })
	if err != nil || v.(int) != 7 {
		t.Errorf("Do = %v, %v", v, err)
	}

	_, err = w.Do(func() any { panic(ilgen.InvariantError{Message: "boom"}) })
	var ie ilgen.InvariantError
	if !errors.As(err, &ie) || ie.Message != "boom" {
		t.Errorf("err = %v, want the invariant error", err)
	}

	_, err = w.Do(func() any { panic("plain") })
	if err == nil || err.Error() != "plain" {
		t.Errorf("err = %v, want plain", err)
	}

	w.Stop()
	w.Stop()
	if _, err := w.Do(func() any { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Do after Stop err = %v, want ErrStopped", err)
	}
}
