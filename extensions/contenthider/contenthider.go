// Package contenthider is a bundled extension that masks marked payloads
// in outgoing results. A payload carrying the configured marker key has
// the configured fields replaced with a fixed value before the response
// leaves the host.
package contenthider

import (
	"github.com/mattjoyce/plugway/internal/extension"
	"github.com/mattjoyce/plugway/internal/hook"
)

const Name = "contenthider"

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
			Description: "masks marked fields in outgoing results",
		},
		Defaults: map[string]any{
			"marker":       "hidden",
			"mask_fields":  []any{"body"},
			"masked_value": "***",
			"endpoints":    []any{},
		},
	}
}

func setup(p *extension.Plug) error {
	cfg, err := p.Config(map[string]any{
		"marker":       "hidden",
		"mask_fields":  []any{"body"},
		"masked_value": "***",
		// Empty means every endpoint.
		"endpoints": []any{},
	})
	if err != nil {
		return err
	}

	marker := cfg.String("marker")
	masked := cfg.String("masked_value")
	maskVal, _ := cfg.Value("mask_fields")
	fields := stringList(maskVal)
	endpointsVal, _ := cfg.Value("endpoints")
	endpoints := stringList(endpointsVal)

	u := p.Unit("hider")
	if len(endpoints) > 0 {
		allowed := make(map[string]bool, len(endpoints))
		for _, e := range endpoints {
			allowed[e] = true
		}
		u.AppliesWhen(func(rc *hook.RequestContext) bool {
			return allowed[rc.Endpoint]
		})
	}

	return u.OnFilter("outgoing", func(rc *hook.RequestContext, args ...any) (hook.Result, error) {
		payload, ok := args[0].(map[string]any)
		if !ok {
			return hook.Unchanged, nil
		}
		flagged, _ := payload[marker].(bool)
		if !flagged {
			return hook.Unchanged, nil
		}

		out := make(map[string]any, len(payload))
		for k, v := range payload {
			out[k] = v
		}
		for _, field := range fields {
			if _, present := out[field]; present {
				out[field] = masked
			}
		}
		return hook.Value(out), nil
	})
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
