// Package extension discovers, loads and records extensions in a fixed
// order and lets their load-time code register hook bindings and routes.
//
// Extensions are provided to catalogs ahead of the load phase through an
// explicit registration API (the database/sql driver arrangement); the
// ordered extension list then names what actually loads, and in what
// order. Load order is the backbone of dispatch order, so the registry
// assigns each loaded extension a 0-based index that every one of its
// bindings carries.
package extension

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("extension not found in any catalog")
	ErrDuplicateSpec = errors.New("extension specified twice")
)

// Info is an extension's self-declared metadata, exposed read-only in the
// loaded-extensions table.
type Info struct {
	Name        string         `json:"name,omitempty"`
	Version     string         `json:"version,omitempty"`
	Date        string         `json:"date,omitempty"`
	Description string         `json:"description,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Setup is an extension's load-time entry point. It runs exactly once,
// during the load phase, and registers the extension's bindings and routes
// through the Plug.
type Setup func(p *Plug) error

// Definition is what a catalog holds for one extension name.
type Definition struct {
	Setup Setup
	Info  Info
	// Defaults is the extension's embedded default-configuration unit.
	// Only packaged (multi-unit) extensions carry one; nil otherwise.
	Defaults map[string]any
}

// Catalog is one extension-holding container, searched by name during
// load. Hosts typically configure a single catalog; several may be
// searched in order.
type Catalog struct {
	name    string
	entries map[string]Definition
}

// NewCatalog creates an empty catalog with a diagnostic name.
func NewCatalog(name string) *Catalog {
	return &Catalog{
		name:    name,
		entries: make(map[string]Definition),
	}
}

// Name returns the catalog's diagnostic name.
func (c *Catalog) Name() string {
	return c.name
}

// Provide registers an extension definition under name. Providing the same
// name twice in one catalog is an error.
func (c *Catalog) Provide(name string, def Definition) error {
	if name == "" {
		return fmt.Errorf("extension name is required")
	}
	if def.Setup == nil {
		return fmt.Errorf("extension %q: setup function is required", name)
	}
	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("extension %q already provided to catalog %q", name, c.name)
	}
	c.entries[name] = def
	return nil
}

// Lookup returns the definition for name, if provided.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	def, ok := c.entries[name]
	return def, ok
}

// Names returns the provided extension names, unordered.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	return names
}
