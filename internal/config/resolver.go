package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// OverridePrefix names global override variables in the host
	// configuration: overrides[PLUGIN_CONFIG_<UPPERNAME>].
	OverridePrefix = "PLUGIN_CONFIG_"
	// EnvOverridePrefix names the environment fallback for overrides:
	// PLUGWAY_CONFIG_<UPPERNAME> holding inline YAML.
	EnvOverridePrefix = "PLUGWAY_CONFIG_"
)

// Resolver resolves each extension's configuration from layered sources.
// Per-key priority, highest first:
//
//  1. inline configuration supplied next to the extension's name in the
//     ordered extension list;
//  2. a global override variable named PLUGIN_CONFIG_<UPPERNAME> (host
//     override bundle, with a PLUGWAY_CONFIG_<UPPERNAME> environment
//     fallback);
//  3. the extension's own embedded defaults unit (packaged extensions only);
//  4. the defaults template.
//
// Resolution is per key, not per source: a key missing from a higher source
// falls through to the next. Keys absent from the defaults template are
// never returned, even if every source defines them.
type Resolver struct {
	overrides map[string]map[string]any
	inline    map[string]map[string]any
	resolved  map[string]*Snapshot
}

// NewResolver creates a resolver over the host's override bundle. overrides
// may be nil.
func NewResolver(overrides map[string]map[string]any) *Resolver {
	return &Resolver{
		overrides: overrides,
		inline:    make(map[string]map[string]any),
		resolved:  make(map[string]*Snapshot),
	}
}

// AddInline records the inline configuration supplied next to extName in
// the extension list. Called by the registry before the extension loads.
func (r *Resolver) AddInline(extName string, conf map[string]any) {
	if conf == nil {
		return
	}
	r.inline[extName] = conf
}

// Resolve returns the immutable configuration snapshot for extName.
//
// template enumerates the only recognized keys and their default values.
// defaultsUnit is the extension's own embedded default configuration (nil
// for single-unit extensions). With an empty template, the recognized keys
// fall back to the first non-empty of defaultsUnit, the override variable
// and the inline configuration, in that order.
//
// The first Resolve call for an extension fixes its snapshot; later calls
// return the same snapshot even with a different template.
func (r *Resolver) Resolve(extName string, template map[string]any, defaultsUnit map[string]any) (*Snapshot, error) {
	if extName == "" {
		return nil, fmt.Errorf("extension name is empty")
	}
	if snap, done := r.resolved[extName]; done {
		return snap, nil
	}

	override, err := r.overrideFor(extName)
	if err != nil {
		return nil, err
	}
	inline := r.inline[extName]

	// With no template, the last non-empty source defines the keys.
	if len(template) == 0 {
		switch {
		case len(defaultsUnit) > 0:
			template = defaultsUnit
		case len(override) > 0:
			template = override
		default:
			template = inline
		}
	}

	values := make(map[string]any, len(template))
	for key, def := range template {
		if v, ok := inline[key]; ok {
			values[key] = v
			continue
		}
		if v, ok := override[key]; ok {
			values[key] = v
			continue
		}
		if v, ok := defaultsUnit[key]; ok {
			values[key] = v
			continue
		}
		values[key] = def
	}

	snap := newSnapshot(extName, values)
	r.resolved[extName] = snap
	return snap, nil
}

// Resolved returns the already-resolved snapshot for extName, if any. Other
// extensions use this for by-name config lookup after load.
func (r *Resolver) Resolved(extName string) (*Snapshot, bool) {
	snap, ok := r.resolved[extName]
	return snap, ok
}

// overrideFor returns the global override values for extName: the host
// bundle first, then the environment fallback parsed as YAML.
func (r *Resolver) overrideFor(extName string) (map[string]any, error) {
	key := OverrideVarName(extName)
	if vals, ok := r.overrides[key]; ok {
		return vals, nil
	}

	raw, ok := os.LookupEnv(EnvOverridePrefix + upperName(extName))
	if !ok || raw == "" {
		return nil, nil
	}
	var vals map[string]any
	if err := yaml.Unmarshal([]byte(interpolateEnv(raw)), &vals); err != nil {
		return nil, fmt.Errorf("extension %q: malformed override %s%s: %w",
			extName, EnvOverridePrefix, upperName(extName), err)
	}
	return vals, nil
}

// OverrideVarName derives the override variable name for an extension:
// PLUGIN_CONFIG_ plus the upper-cased name, dashes mapped to underscores.
func OverrideVarName(extName string) string {
	return OverridePrefix + upperName(extName)
}

func upperName(extName string) string {
	return strings.ToUpper(strings.ReplaceAll(extName, "-", "_"))
}
