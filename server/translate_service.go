package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/il"
	"github.com/chazu/yarvil/ilgen"
	"github.com/chazu/yarvil/jit"
	"github.com/chazu/yarvil/telemetry"
	"github.com/chazu/yarvil/yarv"
)

const (
	// TranslatorServiceName is the fully-qualified name of the service.
	TranslatorServiceName = "yarvil.v1.TranslatorService"

	TranslateProcedure = "/" + TranslatorServiceName + "/Translate"
	CountersProcedure  = "/" + TranslatorServiceName + "/Counters"
)

// ErrStopped is returned for work submitted after the worker stopped.
var ErrStopped = errors.New("translation worker stopped")

// TranslatorService implements the translation RPCs.
type TranslatorService struct {
	worker   *Worker
	cfg      *config.Config
	env      *ilgen.Env
	counters *telemetry.Counters
	store    *telemetry.Store
}

// NewTranslatorService creates a TranslatorService. store may be nil.
func NewTranslatorService(worker *Worker, cfg *config.Config, env *ilgen.Env, store *telemetry.Store) *TranslatorService {
	return &TranslatorService{
		worker:   worker,
		cfg:      cfg,
		env:      env,
		counters: telemetry.NewCounters(),
		store:    store,
	}
}

// NewTranslatorServiceHandler builds the HTTP handler serving svc and
// returns the path to mount it on.
func NewTranslatorServiceHandler(svc *TranslatorService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(newCBORCodec())}, opts...)
	translate := connect.NewUnaryHandler(TranslateProcedure, svc.Translate, opts...)
	counters := connect.NewUnaryHandler(CountersProcedure, svc.Counters, opts...)

	return "/" + TranslatorServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case TranslateProcedure:
			translate.ServeHTTP(w, r)
		case CountersProcedure:
			counters.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

type translateOutcome struct {
	res      *jit.Result
	err      error
	counters telemetry.Snapshot
}

// Translate decodes the request iseq and translates it on the worker.
func (s *TranslatorService) Translate(
	ctx context.Context,
	req *connect.Request[TranslateRequest],
) (*connect.Response[TranslateResponse], error) {
	if len(req.Msg.Iseq) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("iseq is required"))
	}
	iseq, err := yarv.UnmarshalIseq(req.Msg.Iseq)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	cfg := *s.cfg
	if req.Msg.Translator != nil {
		cfg.Translator = *req.Msg.Translator
	}
	cfg.JIT.LowerAsyncChecks = cfg.JIT.LowerAsyncChecks || req.Msg.LowerAsyncChecks
	cfg.JIT.Verify = cfg.JIT.Verify || req.Msg.Verify

	result, err := s.worker.Do(func() any {
		counters := telemetry.NewCounters()
		defer func() { s.counters.Merge(counters.Snapshot()) }()
		res, err := jit.Translate(iseq, &cfg, jit.WithEnv(s.env), jit.WithCounters(counters))
		return &translateOutcome{res: res, err: err, counters: counters.Snapshot()}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	out := result.(*translateOutcome)

	resp := &TranslateResponse{Signature: iseq.Name(), Counters: out.counters}
	var abort *ilgen.AbortError
	switch {
	case errors.As(out.err, &abort):
		resp.AbortReason = abort.Counter()
		resp.ErrorMessage = abort.Error()
		return connect.NewResponse(resp), nil
	case errors.Is(out.err, jit.ErrComplexArguments):
		resp.AbortReason = "complex_arguments"
		resp.ErrorMessage = out.err.Error()
		return connect.NewResponse(resp), nil
	case out.err != nil:
		return nil, connect.NewError(connect.CodeInternal, out.err)
	}

	res := out.res
	resp.Success = true
	resp.SessionID = res.SessionID
	resp.EntryTargets = res.EntryTargets
	resp.AsyncChecks = res.AsyncChecks
	resp.Dump = il.DumpString(res.Method)
	if req.Msg.WantDot {
		resp.Dot = res.Method.CFG.ToDot()
	}

	if s.store != nil {
		if err := s.store.Save(ctx, res.SessionID, out.counters); err != nil {
			log.Warningf("saving counters for %s: %s", res.SessionID, err)
		}
	}
	return connect.NewResponse(resp), nil
}

// Counters returns the counters accumulated over every translation.
func (s *TranslatorService) Counters(
	ctx context.Context,
	req *connect.Request[CountersRequest],
) (*connect.Response[CountersResponse], error) {
	result, err := s.worker.Do(func() any {
		snap := s.counters.Snapshot()
		if req.Msg.Reset {
			s.counters.Reset()
		}
		return snap
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&CountersResponse{Counters: result.(telemetry.Snapshot)}), nil
}
