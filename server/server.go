// Package server exposes HogVM execution as a Connect service. Each
// procedure takes and returns a google.protobuf.Struct, so the service can
// be called with plain JSON over HTTP as well as with gRPC-compatible
// clients.
package server

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/hogvm/config"
	"github.com/chazu/hogvm/store"
	"github.com/chazu/hogvm/vm"
)

// ServiceName is the fully-qualified name of the Hog service.
const ServiceName = "hogvm.v1.HogService"

// Procedure paths served by HogServer.
const (
	ExecuteProcedure  = "/" + ServiceName + "/Execute"
	ValidateProcedure = "/" + ServiceName + "/Validate"
	RegisterProcedure = "/" + ServiceName + "/Register"
	RunProcedure      = "/" + ServiceName + "/Run"
	ListProcedure     = "/" + ServiceName + "/List"
)

var log = commonlog.GetLogger("hogvm.server")

// HogServer runs Hog programs on a worker pool and optionally keeps
// registered programs in a store.
type HogServer struct {
	pool      *Pool
	store     *store.Store
	config    *config.Config
	functions map[string]vm.HostFunction
	debug     bool
	mux       *http.ServeMux
}

// ServerOption configures a HogServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	config    *config.Config
	store     *store.Store
	functions map[string]vm.HostFunction
	debug     bool
}

// WithConfig sets budgets, worker count and request limits. Without it
// config.Default() is used.
func WithConfig(c *config.Config) ServerOption {
	return func(sc *serverConfig) { sc.config = c }
}

// WithStore enables Register, Run and List. Without a store those
// procedures fail with CodeFailedPrecondition.
func WithStore(s *store.Store) ServerOption {
	return func(sc *serverConfig) { sc.store = s }
}

// WithFunctions sets the host functions available to executed programs.
func WithFunctions(fns map[string]vm.HostFunction) ServerOption {
	return func(sc *serverConfig) { sc.functions = fns }
}

// WithDebug lets Execute requests ask for instruction tracing. Traced runs
// are still cut off at the configured execution timeout.
func WithDebug(enabled bool) ServerOption {
	return func(sc *serverConfig) { sc.debug = enabled }
}

// New creates a HogServer and starts its workers.
func New(opts ...ServerOption) *HogServer {
	sc := &serverConfig{}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.config == nil {
		sc.config = config.Default()
	}

	s := &HogServer{
		pool:      NewPool(sc.config.Server.Workers),
		store:     sc.store,
		config:    sc.config,
		functions: sc.functions,
		debug:     sc.debug,
		mux:       http.NewServeMux(),
	}

	handlerOpts := []connect.HandlerOption{
		connect.WithReadMaxBytes(int(sc.config.Server.MaxRequestBytes)),
	}
	procedures := map[string]unaryFunc{
		ExecuteProcedure:  s.Execute,
		ValidateProcedure: s.Validate,
		RegisterProcedure: s.Register,
		RunProcedure:      s.Run,
		ListProcedure:     s.List,
	}
	for path, fn := range procedures {
		s.mux.Handle(path, connect.NewUnaryHandler(path, fn, handlerOpts...))
	}
	return s
}

// Handler returns the HTTP handler serving all procedures.
func (s *HogServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *HogServer) ListenAndServe(addr string) error {
	fmt.Printf("HogVM server listening on %s\n", addr)
	fmt.Printf("  Connect (HTTP/JSON): http://%s%s\n", addr, ExecuteProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the worker pool.
func (s *HogServer) Stop() {
	s.pool.Stop()
}

type unaryFunc = func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)
