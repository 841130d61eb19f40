// Package proxyinfo is a bundled extension that surfaces proxy-level
// request details: it serves a /proxyinfo route describing the caller's
// connection and enriches the host's error hook with the same fields.
package proxyinfo

import (
	"encoding/json"
	"net/http"

	"github.com/mattjoyce/plugway/internal/endpoint"
	"github.com/mattjoyce/plugway/internal/extension"
	"github.com/mattjoyce/plugway/internal/hook"
)

const Name = "proxyinfo"

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
			Description: "reports forwarded-for and connection details",
		},
		Defaults: map[string]any{
			"forwarded_header": "X-Forwarded-For",
		},
	}
}

func setup(p *extension.Plug) error {
	cfg, err := p.Config(map[string]any{
		"forwarded_header": "X-Forwarded-For",
	})
	if err != nil {
		return err
	}
	header := cfg.String("forwarded_header")

	describe := func(r *http.Request) map[string]any {
		if r == nil {
			return map[string]any{"extension": Name}
		}
		info := map[string]any{
			"extension":   Name,
			"remote_addr": r.RemoteAddr,
			"host":        r.Host,
		}
		if fwd := r.Header.Get(header); fwd != "" {
			info["forwarded_for"] = fwd
		}
		return info
	}

	u := p.Unit("main")
	if err := u.OnCollect("error", func(rc *hook.RequestContext, args ...any) (hook.Result, error) {
		return hook.Value(describe(rc.HTTP)), nil
	}); err != nil {
		return err
	}

	return p.Route(endpoint.Route{
		Path:    "/proxyinfo",
		Methods: []string{http.MethodGet},
		Handler: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(describe(r))
		},
	})
}
