package extension

import (
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/mattjoyce/plugway/internal/config"
	"github.com/mattjoyce/plugway/internal/endpoint"
	"github.com/mattjoyce/plugway/internal/hook"
	"github.com/mattjoyce/plugway/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

type testRig struct {
	catalog   *Catalog
	caller    *hook.Caller
	endpoints *endpoint.Registry
	resolver  *config.Resolver
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	return &testRig{
		catalog:   NewCatalog("extensions"),
		caller:    hook.NewCaller(),
		endpoints: endpoint.NewRegistry(endpoint.PolicyOverrideWarn),
		resolver:  config.NewResolver(nil),
	}
}

func (rig *testRig) registry(notFound string) *Registry {
	return NewRegistry(Options{
		Catalogs:  []*Catalog{rig.catalog},
		Resolver:  rig.resolver,
		Caller:    rig.caller,
		Endpoints: rig.endpoints,
		NotFound:  notFound,
	})
}

func specs(names ...string) []config.ExtensionSpec {
	out := make([]config.ExtensionSpec, len(names))
	for i, name := range names {
		out[i] = config.ExtensionSpec{Name: name}
	}
	return out
}

func noopSetup(p *Plug) error { return nil }

func TestLoad_OrderBecomesLoadOrder(t *testing.T) {
	rig := newTestRig(t)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if err := rig.catalog.Provide(name, Definition{Setup: noopSetup}); err != nil {
			t.Fatalf("Provide failed: %v", err)
		}
	}

	reg := rig.registry("error")
	if err := reg.Load(specs("gamma", "alpha")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	table := reg.Extensions()
	if len(table) != 2 {
		t.Fatalf("expected 2 loaded extensions, got %d", len(table))
	}
	if table[0].Name != "gamma" || table[0].Index != 0 {
		t.Fatalf("expected gamma at index 0, got %+v", table[0])
	}
	if table[1].Name != "alpha" || table[1].Index != 1 {
		t.Fatalf("expected alpha at index 1, got %+v", table[1])
	}
	if _, ok := reg.Get("beta"); ok {
		t.Fatal("beta was never specified and must not load")
	}
}

func TestLoad_BindingOrderFollowsSpecList(t *testing.T) {
	var calls []string
	record := func(name string) Setup {
		return func(p *Plug) error {
			return p.Unit("main").OnEvent("enter_handler",
				func(rc *hook.RequestContext, args ...any) (hook.Result, error) {
					calls = append(calls, name)
					return hook.Unchanged, nil
				})
		}
	}

	run := func(order ...string) []string {
		rig := newTestRig(t)
		rig.catalog.Provide("a", Definition{Setup: record("a")})
		rig.catalog.Provide("b", Definition{Setup: record("b")})

		reg := rig.registry("error")
		if err := reg.Load(specs(order...)); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		rig.caller.Seal()

		calls = nil
		rc := &hook.RequestContext{}
		if err := rig.caller.DispatchEvent(rc, "enter_handler"); err != nil {
			t.Fatalf("DispatchEvent failed: %v", err)
		}
		got := make([]string, len(calls))
		copy(got, calls)
		return got
	}

	if got := run("a", "b"); got[0] != "a" || got[1] != "b" {
		t.Fatalf("spec order a,b should dispatch a then b, got %v", got)
	}
	if got := run("b", "a"); got[0] != "b" || got[1] != "a" {
		t.Fatalf("reordering the spec list must reorder dispatch, got %v", got)
	}
}

func TestLoad_NotFoundPolicies(t *testing.T) {
	t.Run("error aborts", func(t *testing.T) {
		rig := newTestRig(t)
		reg := rig.registry("error")
		err := reg.Load(specs("ghost"))
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("warn skips", func(t *testing.T) {
		rig := newTestRig(t)
		rig.catalog.Provide("real", Definition{Setup: noopSetup})
		reg := rig.registry("warn")
		if err := reg.Load(specs("ghost", "real")); err != nil {
			t.Fatalf("warn policy must not abort: %v", err)
		}
		if ext, ok := reg.Get("real"); !ok || ext.Index != 0 {
			t.Fatalf("real extension should load at index 0, got %+v", ext)
		}
	})

	t.Run("ignore skips silently", func(t *testing.T) {
		rig := newTestRig(t)
		reg := rig.registry("ignore")
		if err := reg.Load(specs("ghost")); err != nil {
			t.Fatalf("ignore policy must not abort: %v", err)
		}
		if len(reg.Extensions()) != 0 {
			t.Fatal("nothing should have loaded")
		}
	})
}

func TestLoad_DuplicateSpecIsCallerError(t *testing.T) {
	rig := newTestRig(t)
	rig.catalog.Provide("a", Definition{Setup: noopSetup})

	reg := rig.registry("warn")
	err := reg.Load(specs("a", "a"))
	if !errors.Is(err, ErrDuplicateSpec) {
		t.Fatalf("expected ErrDuplicateSpec, got %v", err)
	}
}

func TestLoad_SetupErrorIsFatal(t *testing.T) {
	rig := newTestRig(t)
	boom := errors.New("bad wiring")
	rig.catalog.Provide("a", Definition{Setup: func(p *Plug) error { return boom }})

	reg := rig.registry("warn")
	if err := reg.Load(specs("a")); !errors.Is(err, boom) {
		t.Fatalf("expected setup error to propagate, got %v", err)
	}
}

func TestLoad_DuplicateBindingInUnitIsFatal(t *testing.T) {
	rig := newTestRig(t)
	rig.catalog.Provide("a", Definition{Setup: func(p *Plug) error {
		u := p.Unit("main")
		noop := func(rc *hook.RequestContext, args ...any) (hook.Result, error) {
			return hook.Unchanged, nil
		}
		if err := u.OnEvent("enter_handler", noop); err != nil {
			return err
		}
		return u.OnEvent("enter_handler", noop)
	}})

	reg := rig.registry("warn")
	if err := reg.Load(specs("a")); !errors.Is(err, hook.ErrDuplicateBinding) {
		t.Fatalf("expected ErrDuplicateBinding to abort the load, got %v", err)
	}
}

func TestLoad_CatalogSearchOrder(t *testing.T) {
	rig := newTestRig(t)
	second := NewCatalog("overlay")

	rig.catalog.Provide("a", Definition{Setup: noopSetup, Info: Info{Version: "core"}})
	second.Provide("a", Definition{Setup: noopSetup, Info: Info{Version: "overlay"}})

	reg := NewRegistry(Options{
		Catalogs: []*Catalog{second, rig.catalog},
		Resolver: rig.resolver,
		Caller:   rig.caller,
		NotFound: "error",
	})
	if err := reg.Load(specs("a")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ext, _ := reg.Get("a")
	if ext.Catalog != "overlay" || ext.Info.Version != "overlay" {
		t.Fatalf("expected first catalog to win, got %+v", ext)
	}
}

func TestPlug_ConfigAndGlobals(t *testing.T) {
	rig := newTestRig(t)
	rig.resolver.AddInline("a", map[string]any{"greeting": "hei"})

	var seenGreeting string
	var seenDB any
	rig.catalog.Provide("a", Definition{
		Defaults: map[string]any{"greeting": "hello", "mode": "plain"},
		Setup: func(p *Plug) error {
			snap, err := p.Config(map[string]any{"greeting": "hi", "mode": "fancy"})
			if err != nil {
				return err
			}
			seenGreeting = snap.String("greeting")
			seenDB, _ = p.Global("db")
			return nil
		},
	})

	reg := NewRegistry(Options{
		Catalogs: []*Catalog{rig.catalog},
		Resolver: rig.resolver,
		Caller:   rig.caller,
		Globals:  map[string]any{"db": "fake-handle"},
		NotFound: "error",
	})
	if err := reg.Load(specs("a")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if seenGreeting != "hei" {
		t.Fatalf("inline config should win, got %q", seenGreeting)
	}
	if seenDB != "fake-handle" {
		t.Fatalf("host global not visible in setup, got %v", seenDB)
	}

	// The table exposes the same snapshot the extension resolved.
	ext, _ := reg.Get("a")
	if ext.Config.String("greeting") != "hei" || ext.Config.String("mode") != "plain" {
		t.Fatalf("table snapshot mismatch: %v", ext.Config.Map())
	}
}

func TestPlug_LaterExtensionSeesEarlierConfig(t *testing.T) {
	rig := newTestRig(t)
	rig.catalog.Provide("first", Definition{
		Defaults: map[string]any{"marker": "from-first"},
		Setup:    noopSetup,
	})

	var seen string
	rig.catalog.Provide("second", Definition{Setup: func(p *Plug) error {
		if snap, ok := p.ExtensionConfig("first"); ok {
			seen = snap.String("marker")
		}
		return nil
	}})

	reg := rig.registry("error")
	if err := reg.Load(specs("first", "second")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if seen != "from-first" {
		t.Fatalf("second extension should see first's snapshot, got %q", seen)
	}
}

func TestUnit_StoreIsPerUnit(t *testing.T) {
	rig := newTestRig(t)
	var s1, s2, s1again any
	rig.catalog.Provide("a", Definition{Setup: func(p *Plug) error {
		u1 := p.Unit("one")
		u2 := p.Unit("two")
		s1 = u1.Store()
		s2 = u2.Store()
		s1again = u1.Store()
		return nil
	}})

	reg := rig.registry("error")
	if err := reg.Load(specs("a")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s1 == s2 {
		t.Fatal("units must have logically separate stores")
	}
	if s1 != s1again {
		t.Fatal("a unit's store must be stable across calls")
	}
}

func TestPlug_RouteOwnership(t *testing.T) {
	rig := newTestRig(t)
	rig.catalog.Provide("a", Definition{Setup: func(p *Plug) error {
		return p.Route(endpoint.Route{
			Path:    "/extra",
			Handler: func(w http.ResponseWriter, r *http.Request) {},
		})
	}})

	reg := rig.registry("error")
	if err := reg.Load(specs("a")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	resolved, err := rig.endpoints.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved) != 1 || resolved[0].Path != "/extra" || resolved[0].Owner != "a" {
		t.Fatalf("route should be owned by the registering extension, got %+v", resolved)
	}
}
