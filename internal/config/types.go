package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the host configuration for the plugway gateway.
type Config struct {
	Service    ServiceConfig   `yaml:"service"`
	API        APIConfig       `yaml:"api"`
	Policy     PolicyConfig    `yaml:"policy"`
	State      StateConfig     `yaml:"state"`
	Extensions []ExtensionSpec `yaml:"extensions"`
	// Overrides holds global override variables for extension configuration,
	// keyed PLUGIN_CONFIG_<UPPERNAME>.
	Overrides map[string]map[string]any `yaml:"overrides"`
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
}

// APIConfig holds the introspection API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Key is the bearer token for the protected endpoints. Empty disables
	// them; /healthz stays open either way.
	Key string `yaml:"key"`
}

// PolicyConfig is the engine policy bundle.
type PolicyConfig struct {
	// NotFound controls how a missing extension is handled: error, warn or
	// ignore.
	NotFound string `yaml:"not_found"`
	// DuplicateRoutes controls route conflicts: override, "override,warn",
	// ignore, warn or error.
	DuplicateRoutes string `yaml:"duplicate_routes"`
	// Verbosity controls load reporting: 0 nothing, 1 load summary, 2 load
	// summary plus per-binding and per-route detail.
	Verbosity int `yaml:"verbosity"`
}

// StateConfig locates the host's sqlite database (request audit rows).
type StateConfig struct {
	Path string `yaml:"path"`
}

// ExtensionSpec is one entry of the ordered extension list: either a bare
// name or a name with inline configuration.
type ExtensionSpec struct {
	Name   string         `yaml:"name"`
	Config map[string]any `yaml:"config"`
}

// UnmarshalYAML accepts either a scalar extension name or a mapping with
// name and config keys.
func (s *ExtensionSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		s.Name = name
		return nil
	case yaml.MappingNode:
		type rawSpec struct {
			Name   string         `yaml:"name"`
			Config map[string]any `yaml:"config"`
		}
		var raw rawSpec
		if err := node.Decode(&raw); err != nil {
			return err
		}
		if raw.Name == "" {
			return fmt.Errorf("extension spec mapping requires a name")
		}
		s.Name = raw.Name
		s.Config = raw.Config
		return nil
	}
	return fmt.Errorf("extension spec must be a name or a {name, config} mapping")
}

// Defaults returns the built-in host configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "plugway",
			Listen:   "127.0.0.1:8080",
			LogLevel: "info",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8081",
		},
		Policy: PolicyConfig{
			NotFound:        "warn",
			DuplicateRoutes: "override,warn",
			Verbosity:       1,
		},
		State: StateConfig{
			Path: "./plugway.db",
		},
	}
}
