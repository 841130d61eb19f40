package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses the host configuration from a file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "plugway.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but plugway.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation before parsing.
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults merges default values into cfg where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.Listen == "" {
		cfg.Service.Listen = defaults.Service.Listen
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.Policy.NotFound == "" {
		cfg.Policy.NotFound = defaults.Policy.NotFound
	}
	if cfg.Policy.DuplicateRoutes == "" {
		cfg.Policy.DuplicateRoutes = defaults.Policy.DuplicateRoutes
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	validNotFound := map[string]bool{"error": true, "warn": true, "ignore": true}
	if !validNotFound[cfg.Policy.NotFound] {
		return fmt.Errorf("policy.not_found must be one of: error, warn, ignore (got %q)", cfg.Policy.NotFound)
	}

	validDup := map[string]bool{
		"override": true, "override,warn": true, "ignore": true, "warn": true, "error": true,
	}
	if !validDup[cfg.Policy.DuplicateRoutes] {
		return fmt.Errorf("policy.duplicate_routes must be one of: override, \"override,warn\", ignore, warn, error (got %q)", cfg.Policy.DuplicateRoutes)
	}

	if cfg.Policy.Verbosity < 0 || cfg.Policy.Verbosity > 2 {
		return fmt.Errorf("policy.verbosity must be 0, 1 or 2 (got %d)", cfg.Policy.Verbosity)
	}

	seen := make(map[string]bool, len(cfg.Extensions))
	for i, spec := range cfg.Extensions {
		if spec.Name == "" {
			return fmt.Errorf("extensions[%d]: name is required", i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("extensions[%d]: extension %q listed twice", i, spec.Name)
		}
		seen[spec.Name] = true
	}

	// Unresolved env vars in override values must not reach an extension.
	for name, vals := range cfg.Overrides {
		if err := checkUnresolvedEnvVars(vals, name); err != nil {
			return err
		}
	}

	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in
// configuration values.
func checkUnresolvedEnvVars(data map[string]any, owner string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if envVarPattern.MatchString(v) {
				matches := envVarPattern.FindStringSubmatch(v)
				if len(matches) > 1 {
					return fmt.Errorf("%s: environment variable ${%s} is not set", owner, matches[1])
				}
				return fmt.Errorf("%s: unresolved environment variable in %s", owner, key)
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, owner); err != nil {
				return err
			}
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
