package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/plugway/extensions/contenthider"
	"github.com/mattjoyce/plugway/extensions/proxyinfo"
	"github.com/mattjoyce/plugway/extensions/reqlogger"
	"github.com/mattjoyce/plugway/internal/api"
	"github.com/mattjoyce/plugway/internal/config"
	"github.com/mattjoyce/plugway/internal/engine"
	"github.com/mattjoyce/plugway/internal/extension"
	"github.com/mattjoyce/plugway/internal/inspect"
	"github.com/mattjoyce/plugway/internal/log"
	"github.com/mattjoyce/plugway/internal/storage"
	"github.com/mattjoyce/plugway/internal/tui"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "extension":
		return runExtensionNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "inspect":
		return runInspect(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemHelp()
		return 1
	}
	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "monitor":
		return runMonitor(args[1:])
	case "help":
		printSystemHelp()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system command: %s\n", args[0])
		printSystemHelp()
		return 1
	}
}

func runExtensionNoun(args []string) int {
	if len(args) < 1 {
		printExtensionHelp()
		return 1
	}
	switch args[0] {
	case "list":
		return runExtensionList(args[1:])
	case "help":
		printExtensionHelp()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown extension command: %s\n", args[0])
		printExtensionHelp()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("plugway %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    strings.TrimSpace(gitCommit),
		BuildTime: strings.TrimSpace(buildDate),
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}
	if info.Commit == "" || info.Commit == "unknown" {
		if rev := readBuildSetting("vcs.revision"); rev != "" {
			if len(rev) > 12 {
				rev = rev[:12]
			}
			info.Commit = rev
		}
	}
	if info.BuildTime == "" || info.BuildTime == "unknown" {
		if t := readBuildSetting("vcs.time"); t != "" {
			info.BuildTime = t
		}
	}
	return info
}

func readBuildSetting(key string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// builtinCatalog registers the bundled extensions.
func builtinCatalog() (*extension.Catalog, error) {
	cat := extension.NewCatalog("builtin")
	for _, register := range []func(*extension.Catalog) error{
		reqlogger.Register,
		contenthider.Register,
		proxyinfo.Register,
	} {
		if err := register(cat); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

// loadEngine builds and loads an engine from the config at path. The
// returned cleanup closes the database; it is non-nil even on error.
func loadEngine(path string, withDB bool) (*hostApp, *config.Config, func(), error) {
	cleanup := func() {}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, cleanup, fmt.Errorf("load config: %w", err)
	}

	cat, err := builtinCatalog()
	if err != nil {
		return nil, nil, cleanup, fmt.Errorf("assemble catalog: %w", err)
	}

	globals := map[string]any{}
	var audit *storage.AuditLog
	if withDB {
		db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("open database: %w", err)
		}
		cleanup = func() { _ = db.Close() }
		audit = storage.NewAuditLog(db)
		globals["db"] = db
		globals["audit"] = audit
	}

	eng, err := engine.New(engine.Options{
		Config:   cfg,
		Catalogs: []*extension.Catalog{cat},
		Globals:  globals,
	})
	if err != nil {
		return nil, nil, cleanup, err
	}

	host := newHost(eng, audit)
	if err := host.registerRoutes(); err != nil {
		return nil, nil, cleanup, fmt.Errorf("register host routes: %w", err)
	}

	if err := eng.Load(); err != nil {
		return nil, nil, cleanup, fmt.Errorf("load extensions: %w", err)
	}
	return host, cfg, cleanup, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", ".", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	// Peek at the log level before anything logs.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("plugway starting", "version", version, "config", *configPath)

	host, cfg, cleanup, err := loadEngine(*configPath, true)
	defer cleanup()
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	mux := chi.NewRouter()
	if err := host.eng.Install(mux); err != nil {
		logger.Error("route installation failed", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	server := &http.Server{
		Addr:         cfg.Service.Listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("gateway listening", "listen", cfg.Service.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			Key:    cfg.API.Key,
		}, host, host.audit, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	// Backstop for requests that never reached their cleanup hook.
	go host.sweepLoop(ctx)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("fatal error", "error", err)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		return 1
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return 1
	}
	return 0
}

func runExtensionList(args []string) int {
	fs := flag.NewFlagSet("extension list", flag.ExitOnError)
	configPath := fs.String("config", ".", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	log.Setup("ERROR")
	host, _, cleanup, err := loadEngine(*configPath, false)
	defer cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load: %v\n", err)
		return 1
	}

	report, err := inspect.Build(host.eng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build report: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report.Extensions, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("Extensions (%d):\n", len(report.Extensions))
	for _, ext := range report.Extensions {
		line := fmt.Sprintf("  [%d] %s (catalog: %s", ext.Index, ext.Name, ext.Catalog)
		if ext.Version != "" {
			line += ", version: " + ext.Version
		}
		fmt.Println(line + ")")
	}
	return 0
}

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", ".", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	log.Setup("ERROR")
	host, _, cleanup, err := loadEngine(*configPath, false)
	defer cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load: %v\n", err)
		return 1
	}

	report, err := inspect.Build(host.eng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build report: %v\n", err)
		return 1
	}

	if *jsonOut {
		if err := report.WriteJSON(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
			return 1
		}
		return 0
	}
	_ = report.WriteText(os.Stdout)
	return 0
}

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8081", "Introspection API base URL")
	apiKey := fs.String("api-key", os.Getenv("PLUGWAY_API_KEY"), "Introspection API key")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	model := tui.NewInspector(*apiURL, *apiKey)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Print(`plugway - Extension dispatch gateway

Usage:
  plugway <noun> <action> [flags]

Core Resources (Nouns):
  system     Gateway lifecycle and monitoring
  extension  Extension discovery and inspection

System Commands:
  system start      Start the gateway service in foreground
  system monitor    Real-time dispatch-table inspector TUI

Extension Commands:
  extension list    Show loaded extensions in load order

Other Commands:
  inspect           Full dispatch-table report (extensions, hooks, routes)
  version           Show version information
  help              Show this help

Run 'plugway <noun> help' for details on a noun.
`)
}

func printSystemHelp() {
	fmt.Println("Usage: plugway system <start|monitor> [flags]")
	fmt.Println("  start    Start the gateway service in the foreground.")
	fmt.Println("  monitor  Launch the dispatch-table inspector TUI.")
}

func printExtensionHelp() {
	fmt.Println("Usage: plugway extension list [--config PATH] [--json]")
	fmt.Println("Show the configured extensions in load order.")
}
