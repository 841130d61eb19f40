// Package inspect renders the post-load dispatch tables for operators:
// which extensions loaded in which order, every hook binding in dispatch
// order and the resolved route table.
package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mattjoyce/plugway/internal/engine"
)

// ExtensionRow is one loaded extension.
type ExtensionRow struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	Catalog      string `json:"catalog"`
	Version      string `json:"version,omitempty"`
	Description  string `json:"description,omitempty"`
	ConfigDigest string `json:"config_digest,omitempty"`
}

// BindingRow is one hook binding, listed in dispatch order within its hook.
type BindingRow struct {
	Hook      string `json:"hook"`
	Kind      string `json:"kind"`
	Position  int    `json:"position"`
	Extension string `json:"extension"`
	Unit      string `json:"unit"`
	Gated     bool   `json:"gated"`
}

// RouteRow is one resolved route.
type RouteRow struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
	Owner   string   `json:"owner"`
	Wraps   []string `json:"wraps,omitempty"`
}

// Report is a point-in-time snapshot of the engine's dispatch tables.
type Report struct {
	Extensions []ExtensionRow `json:"extensions"`
	Bindings   []BindingRow   `json:"bindings"`
	Routes     []RouteRow     `json:"routes"`
}

// Build snapshots a loaded engine.
func Build(eng *engine.Engine) (*Report, error) {
	report := &Report{}

	for _, ext := range eng.Extensions() {
		row := ExtensionRow{
			Index:       ext.Index,
			Name:        ext.Name,
			Catalog:     ext.Catalog,
			Version:     ext.Info.Version,
			Description: ext.Info.Description,
		}
		if ext.Config != nil {
			row.ConfigDigest = ext.Config.Digest()
		}
		report.Extensions = append(report.Extensions, row)
	}

	caller := eng.Caller()
	for _, hookName := range caller.Hooks() {
		kind, _ := caller.Kind(hookName)
		for pos, b := range caller.Bindings(hookName) {
			report.Bindings = append(report.Bindings, BindingRow{
				Hook:      hookName,
				Kind:      string(kind),
				Position:  pos,
				Extension: b.Extension,
				Unit:      b.Unit,
				Gated:     b.Predicate != nil,
			})
		}
	}

	routes, err := eng.Endpoints().Resolve()
	if err != nil {
		return nil, fmt.Errorf("inspect: resolve routes: %w", err)
	}
	for _, route := range routes {
		owner := route.Owner
		if owner == "" {
			owner = "(host)"
		}
		report.Routes = append(report.Routes, RouteRow{
			Path:    route.Path,
			Methods: route.Methods,
			Owner:   owner,
			Wraps:   route.Wraps,
		})
	}

	return report, nil
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// WriteText writes a plain-text rendering of the report.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Extensions (%d):\n", len(r.Extensions))
	for _, ext := range r.Extensions {
		line := fmt.Sprintf("  [%d] %s (catalog: %s", ext.Index, ext.Name, ext.Catalog)
		if ext.Version != "" {
			line += ", version: " + ext.Version
		}
		line += ")"
		fmt.Fprintln(w, line)
		if ext.Description != "" {
			fmt.Fprintf(w, "      %s\n", ext.Description)
		}
	}

	fmt.Fprintf(w, "\nHook bindings (%d):\n", len(r.Bindings))
	lastHook := ""
	for _, b := range r.Bindings {
		if b.Hook != lastHook {
			fmt.Fprintf(w, "  %s (%s):\n", b.Hook, b.Kind)
			lastHook = b.Hook
		}
		gated := ""
		if b.Gated {
			gated = " [gated]"
		}
		fmt.Fprintf(w, "    %d. %s%s\n", b.Position, b.Unit, gated)
	}

	fmt.Fprintf(w, "\nRoutes (%d):\n", len(r.Routes))
	for _, route := range r.Routes {
		wraps := ""
		if len(route.Wraps) > 0 {
			wraps = " wraps=" + strings.Join(route.Wraps, ",")
		}
		fmt.Fprintf(w, "  %s %s -> %s%s\n",
			strings.Join(route.Methods, ","), route.Path, route.Owner, wraps)
	}
	return nil
}
