// Package engine assembles the dispatch machinery into a single host-facing
// facade: configuration resolution, extension loading, hook dispatch, the
// route table and request-scoped state all hang off one Engine value.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/plugway/internal/config"
	"github.com/mattjoyce/plugway/internal/endpoint"
	"github.com/mattjoyce/plugway/internal/extension"
	"github.com/mattjoyce/plugway/internal/hook"
	"github.com/mattjoyce/plugway/internal/log"
	"github.com/mattjoyce/plugway/internal/state"
)

var (
	ErrNotLoaded     = errors.New("engine: extensions not loaded")
	ErrAlreadyLoaded = errors.New("engine: extensions already loaded")
)

// Options configures an Engine.
type Options struct {
	// Config is the host configuration. Required.
	Config *config.Config
	// Catalogs are searched in order for each specified extension.
	Catalogs []*extension.Catalog
	// Globals are host values exposed to extension setup code by name.
	Globals map[string]any
}

// Engine owns the load phase and the per-request dispatch surface.
type Engine struct {
	cfg       *config.Config
	caller    *hook.Caller
	endpoints *endpoint.Registry
	resolver  *config.Resolver
	registry  *extension.Registry
	logger    *slog.Logger
	loaded    bool
}

// New builds an engine from the host configuration. Extensions are not
// loaded until Load.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	cfg := opts.Config

	policy, err := endpoint.ParsePolicy(cfg.Policy.DuplicateRoutes)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	caller := hook.NewCaller()
	endpoints := endpoint.NewRegistry(policy)
	resolver := config.NewResolver(cfg.Overrides)

	registry := extension.NewRegistry(extension.Options{
		Catalogs:  opts.Catalogs,
		Resolver:  resolver,
		Caller:    caller,
		Endpoints: endpoints,
		Globals:   opts.Globals,
		NotFound:  cfg.Policy.NotFound,
		Verbosity: cfg.Policy.Verbosity,
	})

	return &Engine{
		cfg:       cfg,
		caller:    caller,
		endpoints: endpoints,
		resolver:  resolver,
		registry:  registry,
		logger:    log.WithComponent("engine"),
	}, nil
}

// Load runs the load phase: every extension in the configured list is
// located, configured and set up in order, then the binding table is
// sealed. Load may be called exactly once.
func (e *Engine) Load() error {
	if e.loaded {
		return ErrAlreadyLoaded
	}
	if err := e.registry.Load(e.cfg.Extensions); err != nil {
		return err
	}
	e.caller.Seal()
	e.loaded = true
	if e.cfg.Policy.Verbosity >= 1 {
		e.logger.Info("load phase complete",
			"extensions", len(e.registry.Extensions()),
			"hooks", len(e.caller.Hooks()),
			"routes", len(e.endpoints.Routes()))
	}
	return nil
}

// Extensions returns the loaded-extensions table in load order.
func (e *Engine) Extensions() []*extension.Extension {
	return e.registry.Extensions()
}

// Caller exposes the sealed binding table for introspection.
func (e *Engine) Caller() *hook.Caller {
	return e.caller
}

// Endpoints exposes the route registry. Host routes must be registered
// before Load so extensions can override them under the configured policy.
func (e *Engine) Endpoints() *endpoint.Registry {
	return e.endpoints
}

// BeginRequest opens the dispatch scope for one logical request: it mints
// a fresh token, opens an entry for it in every unit store and returns the
// context that every dispatch within the request must carry.
func (e *Engine) BeginRequest(endpointName string, r *http.Request) (*hook.RequestContext, error) {
	if !e.loaded {
		return nil, ErrNotLoaded
	}
	token := state.NewToken()
	for _, s := range e.registry.Stores() {
		if _, err := s.Create(token); err != nil {
			return nil, fmt.Errorf("engine: open request state: %w", err)
		}
	}
	return &hook.RequestContext{
		Token:    token,
		Endpoint: endpointName,
		HTTP:     r,
	}, nil
}

// EndRequest closes the dispatch scope: every unit store entry for the
// request's token is destroyed. Safe to call from defer; a context whose
// entries are already gone is a no-op.
func (e *Engine) EndRequest(rc *hook.RequestContext) {
	if rc == nil || rc.Token.IsZero() {
		return
	}
	for _, s := range e.registry.Stores() {
		if err := s.Destroy(rc.Token); err != nil && !errors.Is(err, state.ErrNoEntry) {
			e.logger.Warn("request state cleanup failed",
				"request_token", rc.Token.String(), "error", err)
		}
	}
}

// DispatchEvent invokes every applicable binding of an event hook in
// load order.
func (e *Engine) DispatchEvent(rc *hook.RequestContext, hookName string, args ...any) error {
	if !e.loaded {
		return ErrNotLoaded
	}
	return e.caller.DispatchEvent(rc, hookName, args...)
}

// DispatchFilter threads value through every applicable binding of a
// filter hook and returns the final value.
func (e *Engine) DispatchFilter(rc *hook.RequestContext, hookName string, value any, args ...any) (any, error) {
	if !e.loaded {
		return nil, ErrNotLoaded
	}
	return e.caller.DispatchFilter(rc, hookName, value, args...)
}

// DispatchCollect gathers one result per applicable binding of a collect
// hook, in load order.
func (e *Engine) DispatchCollect(rc *hook.RequestContext, hookName string, args ...any) ([]hook.Result, error) {
	if !e.loaded {
		return nil, ErrNotLoaded
	}
	return e.caller.DispatchCollect(rc, hookName, args...)
}

// Install resolves the route table under the conflict policy and mounts
// the winners on mux.
func (e *Engine) Install(mux chi.Router) error {
	if !e.loaded {
		return ErrNotLoaded
	}
	return e.endpoints.Install(mux)
}

// SweepState drops request state entries older than age across every unit
// store and returns the number dropped. A backstop against handlers that
// never reached EndRequest.
func (e *Engine) SweepState(age time.Duration) int {
	n := 0
	for _, s := range e.registry.Stores() {
		n += s.SweepOlderThan(age)
	}
	return n
}
