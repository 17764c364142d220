// Package server exposes the translator over Connect. Messages are plain
// Go structs carried with a CBOR codec.
package server

import (
	"fmt"
	"net/http"

	"github.com/tliron/commonlog"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/ilgen"
	"github.com/chazu/yarvil/telemetry"
)

var log = commonlog.GetLogger("yarvil.server")

// TranslatorServer serves translations from a single worker goroutine.
type TranslatorServer struct {
	worker  *Worker
	service *TranslatorService
	mux     *http.ServeMux
}

// ServerOption configures a TranslatorServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	env   *ilgen.Env
	store *telemetry.Store
}

// WithEnv translates against env instead of the default environment.
func WithEnv(env *ilgen.Env) ServerOption {
	return func(c *serverConfig) { c.env = env }
}

// WithStore saves the counters of every successful translation to store,
// keyed by its session ID.
func WithStore(store *telemetry.Store) ServerOption {
	return func(c *serverConfig) { c.store = store }
}

// New creates a TranslatorServer. A nil cfg means defaults.
func New(cfg *config.Config, opts ...ServerOption) *TranslatorServer {
	if cfg == nil {
		cfg = config.Default()
	}
	sc := &serverConfig{}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.env == nil {
		sc.env = ilgen.NewEnv()
	}

	worker := NewWorker()
	s := &TranslatorServer{
		worker:  worker,
		service: NewTranslatorService(worker, cfg, sc.env, sc.store),
		mux:     http.NewServeMux(),
	}
	path, handler := NewTranslatorServiceHandler(s.service)
	s.mux.Handle(path, handler)
	return s
}

// Handler returns the server's HTTP handler.
func (s *TranslatorServer) Handler() http.Handler {
	return s.mux
}

// Service returns the translation service.
func (s *TranslatorServer) Service() *TranslatorService {
	return s.service
}

// ListenAndServe starts the HTTP server on the given address, "host:port"
// or ":port".
func (s *TranslatorServer) ListenAndServe(addr string) error {
	fmt.Printf("yarvil translation server listening on %s\n", addr)
	fmt.Printf("  Connect (CBOR): http://%s%s\n", addr, TranslateProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the worker.
func (s *TranslatorServer) Stop() {
	s.worker.Stop()
}
