package engine

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/plugway/internal/config"
	"github.com/mattjoyce/plugway/internal/endpoint"
	"github.com/mattjoyce/plugway/internal/extension"
	"github.com/mattjoyce/plugway/internal/hook"
	"github.com/mattjoyce/plugway/internal/log"
	"github.com/mattjoyce/plugway/internal/state"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func testConfig(names ...string) *config.Config {
	cfg := config.Defaults()
	cfg.Policy.NotFound = "error"
	cfg.Policy.Verbosity = 0
	for _, name := range names {
		cfg.Extensions = append(cfg.Extensions, config.ExtensionSpec{Name: name})
	}
	return cfg
}

// setupOnly wraps a bare setup func into a definition.
func setupOnly(setup extension.Setup) extension.Definition {
	return extension.Definition{Setup: setup}
}

func mustEngine(t *testing.T, cfg *config.Config, cat *extension.Catalog) *Engine {
	t.Helper()
	eng, err := New(Options{Config: cfg, Catalogs: []*extension.Catalog{cat}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return eng
}

func TestNew_RejectsBadRoutePolicy(t *testing.T) {
	cfg := config.Defaults()
	cfg.Policy.DuplicateRoutes = "bogus"
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatal("expected invalid duplicate_routes policy to fail")
	}
}

func TestEngine_DispatchBeforeLoadFails(t *testing.T) {
	eng := mustEngine(t, testConfig(), extension.NewCatalog("extensions"))

	if _, err := eng.BeginRequest("info", nil); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("BeginRequest before Load: got %v", err)
	}
	if err := eng.DispatchEvent(nil, "enter_handler"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("DispatchEvent before Load: got %v", err)
	}
}

func TestEngine_LoadOnce(t *testing.T) {
	eng := mustEngine(t, testConfig(), extension.NewCatalog("extensions"))
	if err := eng.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := eng.Load(); !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("second Load: got %v", err)
	}
}

// A response-logging extension and a redacting extension share the
// "outgoing" filter hook; specifying the redactor later places it later in
// the chain, so the logger sees the payload before redaction.
func TestEngine_FilterPipeline(t *testing.T) {
	cat := extension.NewCatalog("extensions")

	var logged []map[string]any
	cat.Provide("reslog", setupOnly(func(p *extension.Plug) error {
		return p.Unit("main").OnFilter("outgoing",
			func(rc *hook.RequestContext, args ...any) (hook.Result, error) {
				payload := args[0].(map[string]any)
				logged = append(logged, payload)
				return hook.Unchanged, nil
			})
	}))

	cat.Provide("redact", setupOnly(func(p *extension.Plug) error {
		return p.Unit("main").OnFilter("outgoing",
			func(rc *hook.RequestContext, args ...any) (hook.Result, error) {
				payload := args[0].(map[string]any)
				if secret, _ := payload["secret"].(bool); !secret {
					return hook.Unchanged, nil
				}
				redacted := map[string]any{}
				for k, v := range payload {
					redacted[k] = v
				}
				redacted["body"] = "***"
				return hook.Value(redacted), nil
			})
	}))

	eng := mustEngine(t, testConfig("reslog", "redact"), cat)
	if err := eng.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rc, err := eng.BeginRequest("query", nil)
	if err != nil {
		t.Fatalf("BeginRequest failed: %v", err)
	}
	defer eng.EndRequest(rc)

	secret := map[string]any{"body": "secret-data", "secret": true}
	out, err := eng.DispatchFilter(rc, "outgoing", secret)
	if err != nil {
		t.Fatalf("DispatchFilter failed: %v", err)
	}
	if body := out.(map[string]any)["body"]; body != "***" {
		t.Fatalf("secret payload should be redacted, got %v", body)
	}
	if secret["body"] != "secret-data" {
		t.Fatal("redactor must not mutate the input payload")
	}

	plain := map[string]any{"body": "hello"}
	out, err = eng.DispatchFilter(rc, "outgoing", plain)
	if err != nil {
		t.Fatalf("DispatchFilter failed: %v", err)
	}
	if body := out.(map[string]any)["body"]; body != "hello" {
		t.Fatalf("plain payload should pass through, got %v", body)
	}

	// Logger ran first both times, so it saw the unredacted payloads.
	if len(logged) != 2 || logged[0]["body"] != "secret-data" || logged[1]["body"] != "hello" {
		t.Fatalf("logger should see pre-redaction payloads, got %v", logged)
	}
}

func TestEngine_RequestStateLifecycle(t *testing.T) {
	cat := extension.NewCatalog("extensions")

	var store *state.Store
	cat.Provide("counter", setupOnly(func(p *extension.Plug) error {
		u := p.Unit("main")
		store = u.Store()
		if err := u.OnEvent("enter_handler",
			func(rc *hook.RequestContext, args ...any) (hook.Result, error) {
				area, err := store.Get(rc.Token)
				if err != nil {
					return hook.Unchanged, err
				}
				area.Set("entered", true)
				return hook.Unchanged, nil
			}); err != nil {
			return err
		}
		return u.OnEvent("exit_handler",
			func(rc *hook.RequestContext, args ...any) (hook.Result, error) {
				area, err := store.Get(rc.Token)
				if err != nil {
					return hook.Unchanged, err
				}
				if _, ok := area.Get("entered"); !ok {
					return hook.Unchanged, errors.New("state lost between hooks")
				}
				return hook.Unchanged, nil
			})
	}))

	eng := mustEngine(t, testConfig("counter"), cat)
	if err := eng.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rc, err := eng.BeginRequest("query", nil)
	if err != nil {
		t.Fatalf("BeginRequest failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("BeginRequest should open one entry, store has %d", store.Len())
	}
	if err := eng.DispatchEvent(rc, "enter_handler"); err != nil {
		t.Fatalf("enter_handler failed: %v", err)
	}
	if err := eng.DispatchEvent(rc, "exit_handler"); err != nil {
		t.Fatalf("exit_handler failed: %v", err)
	}
	eng.EndRequest(rc)
	if store.Len() != 0 {
		t.Fatalf("EndRequest should release the entry, store has %d", store.Len())
	}

	// Two concurrent logical requests get distinct tokens and areas.
	rc1, _ := eng.BeginRequest("query", nil)
	rc2, _ := eng.BeginRequest("query", nil)
	if rc1.Token == rc2.Token {
		t.Fatal("tokens must be unique per request")
	}
	if store.Len() != 2 {
		t.Fatalf("expected two open entries, got %d", store.Len())
	}
	eng.EndRequest(rc1)
	eng.EndRequest(rc2)
	eng.EndRequest(rc2) // second release is a no-op
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestEngine_SweepState(t *testing.T) {
	cat := extension.NewCatalog("extensions")
	cat.Provide("leaky", setupOnly(func(p *extension.Plug) error {
		p.Unit("main").Store()
		return nil
	}))

	eng := mustEngine(t, testConfig("leaky"), cat)
	if err := eng.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := eng.BeginRequest("query", nil); err != nil {
		t.Fatalf("BeginRequest failed: %v", err)
	}

	// A negative age puts the cutoff in the future, so everything open is
	// swept regardless of clock resolution.
	if n := eng.SweepState(-time.Second); n != 1 {
		t.Fatalf("expected 1 swept entry, got %d", n)
	}
	if n := eng.SweepState(-time.Second); n != 0 {
		t.Fatalf("second sweep should find nothing, got %d", n)
	}
}

func TestEngine_InstallMountsExtensionRoutes(t *testing.T) {
	cat := extension.NewCatalog("extensions")
	cat.Provide("pinger", setupOnly(func(p *extension.Plug) error {
		return p.Route(endpoint.Route{
			Path: "/ping",
			Handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("pong"))
			},
		})
	}))

	eng := mustEngine(t, testConfig("pinger"), cat)
	if err := eng.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	mux := chi.NewRouter()
	if err := eng.Install(mux); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Body.String() != "pong" {
		t.Fatalf("expected pong, got %q", rec.Body.String())
	}
}
