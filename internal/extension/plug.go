package extension

import (
	"fmt"

	"github.com/mattjoyce/plugway/internal/config"
	"github.com/mattjoyce/plugway/internal/endpoint"
	"github.com/mattjoyce/plugway/internal/hook"
	"github.com/mattjoyce/plugway/internal/state"
)

// Plug is the registration handle handed to an extension's setup function.
// Everything an extension does at load time goes through it: resolving its
// configuration, creating callback units, binding hooks, registering
// routes and reading host globals. The Plug is only valid during setup.
type Plug struct {
	name     string
	index    int
	defIndex int
	defaults map[string]any
	registry *Registry
	snapshot *config.Snapshot
}

// Name returns the extension's name.
func (p *Plug) Name() string {
	return p.name
}

// Index returns the extension's 0-based load-order index.
func (p *Plug) Index() int {
	return p.index
}

// Config resolves the extension's configuration against template, which
// enumerates the recognized keys and their defaults. The first call fixes
// the snapshot for the process lifetime.
func (p *Plug) Config(template map[string]any) (*config.Snapshot, error) {
	if p.snapshot != nil {
		return p.snapshot, nil
	}
	snap, err := p.registry.opts.Resolver.Resolve(p.name, template, p.defaults)
	if err != nil {
		return nil, err
	}
	p.snapshot = snap
	return snap, nil
}

// ExtensionConfig looks up another extension's resolved snapshot by name.
// Only extensions loaded earlier are visible during setup; after load, all
// are.
func (p *Plug) ExtensionConfig(name string) (*config.Snapshot, bool) {
	return p.registry.opts.Resolver.Resolved(name)
}

// Extensions returns the loaded-extensions table as of this point in the
// load phase.
func (p *Plug) Extensions() []*Extension {
	return p.registry.Extensions()
}

// Global returns a host-provided global value by name (the host's router,
// database handle and the like).
func (p *Plug) Global(name string) (any, bool) {
	v, ok := p.registry.opts.Globals[name]
	return v, ok
}

// Unit creates a named callback-providing unit. A unit contributes at most
// one binding per hook name and owns its request-scoped store.
func (p *Plug) Unit(name string) *Unit {
	return &Unit{
		plug:      p,
		name:      name,
		qualified: p.name + "/" + name,
	}
}

// Route registers an endpoint route owned by this extension. Registration
// order across setup calls is preserved into the route table.
func (p *Plug) Route(route endpoint.Route) error {
	route.Owner = p.name
	if err := p.registry.opts.Endpoints.Register(route); err != nil {
		return err
	}
	if p.registry.opts.Verbosity >= 2 {
		p.registry.logger.Info("registered route",
			"extension", p.name, "path", route.Path, "wraps", route.Wraps)
	}
	return nil
}

// Unit is one callback-providing unit within an extension. Its predicate,
// when set, gates every binding the unit registers unless the binding
// carries its own.
type Unit struct {
	plug      *Plug
	name      string
	qualified string
	predicate hook.Predicate
	store     *state.Store
}

// Name returns the qualified unit name ("extension/unit").
func (u *Unit) Name() string {
	return u.qualified
}

// AppliesWhen sets the unit's applicability predicate for bindings
// registered afterwards. Returns the unit for chaining.
func (u *Unit) AppliesWhen(pred hook.Predicate) *Unit {
	u.predicate = pred
	return u
}

// Store returns the unit's own request-scoped store, created on first use.
// Units never share stores, so extensions cannot see each other's
// per-request state.
func (u *Unit) Store() *state.Store {
	if u.store == nil {
		u.store = state.NewStore()
		u.plug.registry.trackStore(u.store)
	}
	return u.store
}

// OnEvent binds cb to an event hook point.
func (u *Unit) OnEvent(hookName string, cb hook.Callback) error {
	return u.bind(hookName, hook.KindEvent, cb, u.predicate)
}

// OnFilter binds cb to a filter hook point.
func (u *Unit) OnFilter(hookName string, cb hook.Callback) error {
	return u.bind(hookName, hook.KindFilter, cb, u.predicate)
}

// OnCollect binds cb to a collect hook point.
func (u *Unit) OnCollect(hookName string, cb hook.Callback) error {
	return u.bind(hookName, hook.KindCollect, cb, u.predicate)
}

// BindWith registers a binding with an explicit predicate, overriding the
// unit's.
func (u *Unit) BindWith(hookName string, kind hook.Kind, cb hook.Callback, pred hook.Predicate) error {
	return u.bind(hookName, kind, cb, pred)
}

func (u *Unit) bind(hookName string, kind hook.Kind, cb hook.Callback, pred hook.Predicate) error {
	b := hook.Binding{
		Extension: u.plug.name,
		ExtIndex:  u.plug.index,
		DefIndex:  u.plug.defIndex,
		Unit:      u.qualified,
		Hook:      hookName,
		Kind:      kind,
		Callback:  cb,
		Predicate: pred,
	}
	if err := u.plug.registry.opts.Caller.Register(b); err != nil {
		return fmt.Errorf("unit %q: %w", u.qualified, err)
	}
	u.plug.defIndex++
	if u.plug.registry.opts.Verbosity >= 2 {
		u.plug.registry.logger.Info("registered binding",
			"extension", u.plug.name, "unit", u.qualified,
			"hook", hookName, "kind", string(kind), "def_index", b.DefIndex)
	}
	return nil
}
