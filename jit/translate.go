// Package jit drives translations: it gates methods the translator cannot
// handle, runs ilgen and the IL lowerings, and queues hot methods for
// background compilation.
package jit

import (
	"errors"
	"fmt"
	"time"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/il"
	"github.com/chazu/yarvil/ilgen"
	"github.com/chazu/yarvil/opt"
	"github.com/chazu/yarvil/telemetry"
	"github.com/chazu/yarvil/yarv"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("yarvil.jit")

var (
	// ErrComplexArguments is returned for parameter shapes the translator
	// does not handle.
	ErrComplexArguments = errors.New("complex arguments")

	// ErrAlreadyCompiled is returned once a method has used up its
	// compilations.
	ErrAlreadyCompiled = errors.New("already compiled")
)

// Result is one successful translation.
type Result struct {
	Method       *il.Method
	Signature    string
	SessionID    string
	EntryTargets []int

	// AsyncChecks is the number of asynccheck macros lowered.
	AsyncChecks int

	Elapsed  time.Duration
	Counters telemetry.Snapshot
}

type translation struct {
	env      *ilgen.Env
	counters *telemetry.Counters
	policy   ilgen.EntryPolicy
}

// Option configures a single Translate call.
type Option func(*translation)

// WithEnv translates against env instead of the default environment.
func WithEnv(env *ilgen.Env) Option {
	return func(t *translation) { t.env = env }
}

// WithCounters accumulates debug counters into c. The result carries a
// snapshot of c taken after the translation.
func WithCounters(c *telemetry.Counters) Option {
	return func(t *translation) { t.counters = c }
}

// WithEntryPolicy overrides the entry routing the configuration describes.
func WithEntryPolicy(p ilgen.EntryPolicy) Option {
	return func(t *translation) { t.policy = p }
}

// Translate turns iseq into IL. A nil cfg means defaults. Failures return
// no IL: complex argument shapes wrap ErrComplexArguments, translator
// aborts are *ilgen.AbortError.
func Translate(iseq *yarv.Iseq, cfg *config.Config, options ...Option) (*Result, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	t := translation{}
	for _, o := range options {
		o(&t)
	}
	if t.env == nil {
		t.env = ilgen.NewEnv()
	}
	if t.counters == nil {
		t.counters = telemetry.NewCounters()
	}

	name := iseq.Name()
	if err := checkArguments(iseq, cfg.JIT); err != nil {
		log.Noticef("<JIT: %s cannot be translated: %s>", name, err)
		t.counters.Inc("compilation_abort/complex_arguments")
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	session := uuid.NewString()
	log.Infof("translating %s (session %s)", name, session)
	start := time.Now()

	genOpts := []ilgen.Option{ilgen.WithCounters(t.counters)}
	if t.policy != nil {
		genOpts = append(genOpts, ilgen.WithEntryPolicy(t.policy))
	}
	g := ilgen.New(t.env, cfg.Translator, genOpts...)
	m, err := g.Generate(iseq)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Method:       m,
		Signature:    name,
		SessionID:    session,
		EntryTargets: g.EntryTargets(),
	}
	if cfg.JIT.LowerAsyncChecks {
		res.AsyncChecks = opt.LowerAsyncChecks(m, t.env, cfg.JIT)
	}
	if cfg.JIT.Verify {
		if err := il.Verify(m); err != nil {
			return nil, fmt.Errorf("%s: IL verification failed: %w", name, err)
		}
	}

	res.Elapsed = time.Since(start)
	t.counters.Inc("compilations")
	res.Counters = t.counters.Snapshot()
	log.Debugf("translated %s: %d blocks, %d nodes in %s", name, len(m.CFG.Blocks), m.Nodes(), res.Elapsed)
	return res, nil
}

// checkArguments refuses rest, post, block and keyword parameters, and
// optional parameters when they are disabled.
func checkArguments(iseq *yarv.Iseq, opts config.JIT) error {
	p := iseq.Params
	if (p.HasOpt && opts.DisableOptionalArguments) ||
		p.HasRest || p.HasPost || p.HasBlock || p.HasKw || p.HasKwrest {
		return fmt.Errorf("%w: opts %d rest %d post %d block %d keywords %d kwrest %d",
			ErrComplexArguments,
			flag(p.HasOpt), flag(p.HasRest), flag(p.HasPost),
			flag(p.HasBlock), flag(p.HasKw), flag(p.HasKwrest))
	}
	return nil
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
