// Package reqlogger is a bundled extension that logs the lifecycle of
// every request: one line on entry, one line with the elapsed time on
// exit. Timing state lives in the extension's own request store.
package reqlogger

import (
	"fmt"
	"time"

	"github.com/mattjoyce/plugway/internal/extension"
	"github.com/mattjoyce/plugway/internal/hook"
	"github.com/mattjoyce/plugway/internal/log"
)

const Name = "reqlogger"

// Register adds the extension to cat under its canonical name.
func Register(cat *extension.Catalog) error {
	return cat.Provide(Name, Definition())
}

// Definition returns the catalog entry.
func Definition() extension.Definition {
	return extension.Definition{
		Setup: setup,
		Info: extension.Info{
			Name:        Name,
			Version:     "1.0.0",
			Date:        "2026-04-12",
			Description: "logs request entry, exit and elapsed time",
		},
		Defaults: map[string]any{
			"log_params":        false,
			"slow_threshold_ms": 0,
		},
	}
}

func setup(p *extension.Plug) error {
	cfg, err := p.Config(map[string]any{
		"log_params":        false,
		"slow_threshold_ms": 0,
	})
	if err != nil {
		return err
	}
	logParams := cfg.Bool("log_params")
	slowThreshold := time.Duration(cfg.Int("slow_threshold_ms")) * time.Millisecond

	logger := log.WithExtension(Name)
	u := p.Unit("timing")
	store := u.Store()

	if err := u.OnEvent("enter_handler", func(rc *hook.RequestContext, args ...any) (hook.Result, error) {
		area, err := store.Get(rc.Token)
		if err != nil {
			return hook.Unchanged, fmt.Errorf("%s: %w", Name, err)
		}
		area.Set("started_at", time.Now())

		fields := []any{"request_token", rc.Token.String(), "endpoint", rc.Endpoint}
		if logParams && rc.HTTP != nil {
			fields = append(fields, "query", rc.HTTP.URL.RawQuery)
		}
		logger.Info("request started", fields...)
		return hook.Unchanged, nil
	}); err != nil {
		return err
	}

	return u.OnEvent("exit_handler", func(rc *hook.RequestContext, args ...any) (hook.Result, error) {
		area, err := store.Get(rc.Token)
		if err != nil {
			return hook.Unchanged, fmt.Errorf("%s: %w", Name, err)
		}
		started, ok := area.Get("started_at")
		if !ok {
			return hook.Unchanged, fmt.Errorf("%s: exit without matching enter", Name)
		}
		elapsed := time.Since(started.(time.Time))

		fields := []any{
			"request_token", rc.Token.String(),
			"endpoint", rc.Endpoint,
			"duration_ms", elapsed.Milliseconds(),
		}
		if slowThreshold > 0 && elapsed >= slowThreshold {
			logger.Warn("slow request", fields...)
		} else {
			logger.Info("request completed", fields...)
		}
		return hook.Unchanged, nil
	})
}
