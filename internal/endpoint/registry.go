// Package endpoint merges route registrations contributed by extensions
// with the host's own routes and installs the final table into a chi
// router.
//
// Paths need not be unique across registrations; the configured duplicate
// policy decides which handler survives a conflict. Host routes are always
// treated as registered before any extension's, so they lose under the
// override policies and win under ignore/warn only against each other.
package endpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/plugway/internal/log"
)

var (
	ErrDuplicateRoute = errors.New("duplicate route registration")
	ErrUnknownWrapper = errors.New("unknown wrapper step")
	ErrInvalidPolicy  = errors.New("invalid duplicate-route policy")
)

// Policy controls what happens when two registrations share a path.
type Policy string

const (
	// PolicyOverride lets the last registration win, silently.
	PolicyOverride Policy = "override"
	// PolicyOverrideWarn lets the last registration win, with a warning.
	// This is the default.
	PolicyOverrideWarn Policy = "override,warn"
	// PolicyIgnore keeps the first registration, silently.
	PolicyIgnore Policy = "ignore"
	// PolicyWarn keeps the first registration, with a warning.
	PolicyWarn Policy = "warn"
	// PolicyError aborts the load on any conflict.
	PolicyError Policy = "error"
)

// ParsePolicy validates a policy string from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyOverride, PolicyOverrideWarn, PolicyIgnore, PolicyWarn, PolicyError:
		return Policy(s), nil
	case "":
		return PolicyOverrideWarn, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidPolicy)
}

// Wrapper is one named wrapper step for route handlers.
type Wrapper func(http.Handler) http.Handler

// Route is one registered endpoint.
type Route struct {
	// Path is the route pattern. Not required to be unique; the duplicate
	// policy resolves collisions.
	Path string
	// Methods defaults to GET and POST.
	Methods []string
	// Handler handles the request after wrapper composition.
	Handler http.HandlerFunc
	// Owner is the registering extension's name; empty for host routes.
	Owner string
	// Wraps names wrapper steps applied around the handler, outermost
	// first, after the registry's base wraps.
	Wraps []string

	seq int
}

// Registry collects routes during the load phase and resolves them once.
type Registry struct {
	policy    Policy
	wrappers  map[string]Wrapper
	baseWraps []string
	host      []Route
	ext       []Route
	nextSeq   int
	logger    *slog.Logger
}

// NewRegistry creates a route registry with the given duplicate policy.
func NewRegistry(policy Policy) *Registry {
	return &Registry{
		policy:   policy,
		wrappers: make(map[string]Wrapper),
		logger:   log.WithComponent("endpoint"),
	}
}

// RegisterWrapper makes a named wrapper step available to routes.
func (r *Registry) RegisterWrapper(name string, w Wrapper) error {
	if name == "" || w == nil {
		return fmt.Errorf("wrapper name and function are required")
	}
	if _, exists := r.wrappers[name]; exists {
		return fmt.Errorf("wrapper %q already registered", name)
	}
	r.wrappers[name] = w
	return nil
}

// SetBaseWraps sets wrapper steps applied to every route, outermost first,
// before the route's own wraps. The host's main handler wrapper goes here.
func (r *Registry) SetBaseWraps(names ...string) {
	r.baseWraps = names
}

// RegisterHost adds one of the host's own routes. Host routes sort before
// every extension route regardless of registration interleaving.
func (r *Registry) RegisterHost(route Route) error {
	route.Owner = ""
	prepared, err := r.prepare(route)
	if err != nil {
		return err
	}
	r.host = append(r.host, prepared)
	return nil
}

// Register adds an extension-contributed route during the load phase.
func (r *Registry) Register(route Route) error {
	if route.Owner == "" {
		return fmt.Errorf("route %q: owning extension is required", route.Path)
	}
	prepared, err := r.prepare(route)
	if err != nil {
		return fmt.Errorf("extension %q: %w", route.Owner, err)
	}
	r.ext = append(r.ext, prepared)
	r.logger.Debug("registered route", "path", prepared.Path, "owner", prepared.Owner)
	return nil
}

func (r *Registry) prepare(route Route) (Route, error) {
	if route.Path == "" || !strings.HasPrefix(route.Path, "/") {
		return Route{}, fmt.Errorf("route path %q must start with /", route.Path)
	}
	if route.Handler == nil {
		return Route{}, fmt.Errorf("route %q: handler is nil", route.Path)
	}
	if len(route.Methods) == 0 {
		route.Methods = []string{http.MethodGet, http.MethodPost}
	}
	for _, name := range route.Wraps {
		if _, ok := r.wrappers[name]; !ok {
			return Route{}, fmt.Errorf("route %q wrap %q: %w", route.Path, name, ErrUnknownWrapper)
		}
	}
	route.seq = r.nextSeq
	r.nextSeq++
	return route, nil
}

// Resolve applies the duplicate policy and returns the final route table.
// Host routes come first in the input order, so under the override policies
// any extension route beats them, and under ignore/warn they hold their
// paths.
func (r *Registry) Resolve() ([]Route, error) {
	all := make([]Route, 0, len(r.host)+len(r.ext))
	all = append(all, r.host...)
	all = append(all, r.ext...)

	var out []Route
	byPath := make(map[string]int)
	for _, route := range all {
		idx, seen := byPath[route.Path]
		if !seen {
			byPath[route.Path] = len(out)
			out = append(out, route)
			continue
		}

		prev := out[idx]
		switch r.policy {
		case PolicyOverride:
			out[idx] = route
		case PolicyOverrideWarn:
			r.logger.Warn("duplicate route overridden",
				"path", route.Path, "kept", ownerLabel(route.Owner), "dropped", ownerLabel(prev.Owner))
			out[idx] = route
		case PolicyIgnore:
			// First registration wins, silently.
		case PolicyWarn:
			r.logger.Warn("duplicate route ignored (keeping first)",
				"path", route.Path, "kept", ownerLabel(prev.Owner), "dropped", ownerLabel(route.Owner))
		case PolicyError:
			return nil, fmt.Errorf("path %q registered by %s and %s: %w",
				route.Path, ownerLabel(prev.Owner), ownerLabel(route.Owner), ErrDuplicateRoute)
		default:
			return nil, fmt.Errorf("%q: %w", r.policy, ErrInvalidPolicy)
		}
	}
	return out, nil
}

// Install resolves the table and mounts every route on mux with its
// wrapper composition applied.
func (r *Registry) Install(mux chi.Router) error {
	routes, err := r.Resolve()
	if err != nil {
		return err
	}
	for _, route := range routes {
		handler := r.compose(route)
		for _, method := range route.Methods {
			mux.Method(method, route.Path, handler)
		}
	}
	return nil
}

// compose wraps the route handler in its named steps. The effective order
// is base wraps then route wraps, outermost first: the first name in the
// list is applied last and therefore runs first.
func (r *Registry) compose(route Route) http.Handler {
	var handler http.Handler = route.Handler
	effective := make([]string, 0, len(r.baseWraps)+len(route.Wraps))
	effective = append(effective, r.baseWraps...)
	effective = append(effective, route.Wraps...)
	for i := len(effective) - 1; i >= 0; i-- {
		if w, ok := r.wrappers[effective[i]]; ok {
			handler = w(handler)
		}
	}
	return handler
}

// Routes returns all registrations in order, host first, before conflict
// resolution. Used by introspection.
func (r *Registry) Routes() []Route {
	out := make([]Route, 0, len(r.host)+len(r.ext))
	out = append(out, r.host...)
	out = append(out, r.ext...)
	return out
}

func ownerLabel(owner string) string {
	if owner == "" {
		return "host"
	}
	return owner
}
