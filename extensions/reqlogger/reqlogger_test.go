package reqlogger

import (
	"os"
	"testing"

	"github.com/mattjoyce/plugway/internal/config"
	"github.com/mattjoyce/plugway/internal/engine"
	"github.com/mattjoyce/plugway/internal/extension"
	"github.com/mattjoyce/plugway/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func loadEngine(t *testing.T) *engine.Engine {
	t.Helper()

	cat := extension.NewCatalog("extensions")
	if err := Register(cat); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cfg := config.Defaults()
	cfg.Policy.NotFound = "error"
	cfg.Policy.Verbosity = 0
	cfg.Extensions = []config.ExtensionSpec{{Name: Name}}

	eng, err := engine.New(engine.Options{Config: cfg, Catalogs: []*extension.Catalog{cat}})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Load(); err != nil {
		t.Fatalf("engine.Load: %v", err)
	}
	return eng
}

func TestRequestLifecycle(t *testing.T) {
	eng := loadEngine(t)

	rc, err := eng.BeginRequest("query", nil)
	if err != nil {
		t.Fatalf("BeginRequest: %v", err)
	}
	defer eng.EndRequest(rc)

	if err := eng.DispatchEvent(rc, "enter_handler"); err != nil {
		t.Fatalf("enter_handler: %v", err)
	}
	if err := eng.DispatchEvent(rc, "exit_handler"); err != nil {
		t.Fatalf("exit_handler: %v", err)
	}
}

func TestExitWithoutEnterFails(t *testing.T) {
	eng := loadEngine(t)

	rc, err := eng.BeginRequest("query", nil)
	if err != nil {
		t.Fatalf("BeginRequest: %v", err)
	}
	defer eng.EndRequest(rc)

	if err := eng.DispatchEvent(rc, "exit_handler"); err == nil {
		t.Fatal("exit without a matching enter should fail the dispatch")
	}
}

func TestConcurrentRequestsKeepSeparateTimers(t *testing.T) {
	eng := loadEngine(t)

	rc1, _ := eng.BeginRequest("query", nil)
	rc2, _ := eng.BeginRequest("info", nil)
	defer eng.EndRequest(rc1)
	defer eng.EndRequest(rc2)

	if err := eng.DispatchEvent(rc1, "enter_handler"); err != nil {
		t.Fatalf("enter rc1: %v", err)
	}
	// rc2 never entered, so its exit must fail while rc1's succeeds.
	if err := eng.DispatchEvent(rc2, "exit_handler"); err == nil {
		t.Fatal("rc2 exit should fail without its own enter")
	}
	if err := eng.DispatchEvent(rc1, "exit_handler"); err != nil {
		t.Fatalf("exit rc1: %v", err)
	}
}
