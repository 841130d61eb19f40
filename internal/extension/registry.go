package extension

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/plugway/internal/config"
	"github.com/mattjoyce/plugway/internal/endpoint"
	"github.com/mattjoyce/plugway/internal/hook"
	"github.com/mattjoyce/plugway/internal/log"
	"github.com/mattjoyce/plugway/internal/state"
)

// Extension is one loaded extension: identity, load-order index, metadata
// and resolved configuration. Immutable once loaded.
type Extension struct {
	Name    string
	Index   int
	Catalog string
	Info    Info
	Config  *config.Snapshot
}

// Options configures a Registry.
type Options struct {
	// Catalogs are searched in order for each named extension.
	Catalogs []*Catalog
	// Resolver resolves extension configuration.
	Resolver *config.Resolver
	// Caller receives hook bindings registered during load.
	Caller *hook.Caller
	// Endpoints receives route registrations during load.
	Endpoints *endpoint.Registry
	// Globals are host values handed to extension setup code by name
	// (router, database handle, ...).
	Globals map[string]any
	// NotFound is the missing-extension policy: error, warn or ignore.
	NotFound string
	// Verbosity gates load reporting: 0 nothing, 1 summary, 2 detail.
	Verbosity int
}

// Registry performs the load phase and holds the read-only
// loaded-extensions table afterwards.
type Registry struct {
	opts   Options
	loaded []*Extension
	byName map[string]*Extension
	stores []*state.Store
	logger *slog.Logger
}

// NewRegistry creates a registry. Load may be called once.
func NewRegistry(opts Options) *Registry {
	if opts.NotFound == "" {
		opts.NotFound = "warn"
	}
	return &Registry{
		opts:   opts,
		byName: make(map[string]*Extension),
		logger: log.WithComponent("extension"),
	}
}

// Load walks the ordered extension list. For each spec it searches the
// catalogs in order, applies the not-found policy, resolves configuration
// and runs the extension's setup exactly once. Spec order becomes load
// order. Re-specifying a name is a caller error, never silently deduped.
func (r *Registry) Load(specs []config.ExtensionSpec) error {
	for _, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("extension spec with empty name")
		}
		if _, dup := r.byName[spec.Name]; dup {
			return fmt.Errorf("extension %q: %w", spec.Name, ErrDuplicateSpec)
		}
		if spec.Config != nil {
			r.opts.Resolver.AddInline(spec.Name, spec.Config)
		}

		def, catalogName, found := r.find(spec.Name)
		if !found {
			switch r.opts.NotFound {
			case "ignore":
				continue
			case "warn":
				r.logger.Warn("extension not found, skipping",
					"extension", spec.Name, "catalogs", r.catalogNames())
				continue
			default:
				return fmt.Errorf("extension %q not found in catalogs %s: %w",
					spec.Name, strings.Join(r.catalogNames(), ", "), ErrNotFound)
			}
		}

		index := len(r.loaded)
		plug := &Plug{
			name:     spec.Name,
			index:    index,
			defaults: def.Defaults,
			registry: r,
		}
		if err := def.Setup(plug); err != nil {
			return fmt.Errorf("extension %q setup: %w", spec.Name, err)
		}

		// Fix the snapshot even if setup never asked for configuration, so
		// the table and other extensions can still look it up by name.
		snap, err := r.opts.Resolver.Resolve(spec.Name, nil, def.Defaults)
		if err != nil {
			return fmt.Errorf("extension %q config: %w", spec.Name, err)
		}

		ext := &Extension{
			Name:    spec.Name,
			Index:   index,
			Catalog: catalogName,
			Info:    def.Info,
			Config:  snap,
		}
		r.loaded = append(r.loaded, ext)
		r.byName[spec.Name] = ext

		if r.opts.Verbosity >= 1 {
			r.logger.Info("loaded extension",
				"extension", ext.Name, "load_order", ext.Index,
				"catalog", ext.Catalog, "version", ext.Info.Version,
				"config_digest", snap.Digest())
		}
	}
	return nil
}

func (r *Registry) find(name string) (Definition, string, bool) {
	for _, cat := range r.opts.Catalogs {
		if def, ok := cat.Lookup(name); ok {
			return def, cat.Name(), true
		}
	}
	return Definition{}, "", false
}

func (r *Registry) catalogNames() []string {
	names := make([]string, 0, len(r.opts.Catalogs))
	for _, cat := range r.opts.Catalogs {
		names = append(names, cat.Name())
	}
	return names
}

// Extensions returns the loaded-extensions table in load order. The slice
// is a copy; the entries are shared and read-only.
func (r *Registry) Extensions() []*Extension {
	out := make([]*Extension, len(r.loaded))
	copy(out, r.loaded)
	return out
}

// Get returns a loaded extension by name.
func (r *Registry) Get(name string) (*Extension, bool) {
	ext, ok := r.byName[name]
	return ext, ok
}

func (r *Registry) trackStore(s *state.Store) {
	r.stores = append(r.stores, s)
}

// Stores returns every request-scoped store created by loaded units. The
// host opens and releases entries across all of them per request.
func (r *Registry) Stores() []*state.Store {
	out := make([]*state.Store, len(r.stores))
	copy(out, r.stores)
	return out
}
