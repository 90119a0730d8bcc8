// Package config loads and validates the taskmaster.yaml configuration
// (spec.md §6), grounded on original_source/parser_config.py and
// validation.py, using gopkg.in/yaml.v3 for parsing.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/baylakmongush/taskmaster/internal/program"
)

// DefaultSearchPaths mirrors spec.md §6's ordered default search list.
var DefaultSearchPaths = []string{
	"./taskmaster.yaml",
	"/etc/taskmaster.yaml",
	"/etc/taskmaster/taskmaster.yaml",
	"./taskmaster.yml",
	"/etc/taskmaster.yml",
	"/etc/taskmaster/taskmaster.yml",
}

// rawConfig is the top-level YAML document shape.
type rawConfig struct {
	Programs map[string]program.Raw `yaml:"programs"`
}

// Config is the validated, resolved configuration: one Spec per program
// name.
type Config struct {
	Programs map[string]program.Spec
}

// Resolve finds the configuration file to load: path if non-empty, else the
// first of DefaultSearchPaths that exists. Returns the resolved path.
func Resolve(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("configuration file %q: %w", path, err)
		}
		return path, nil
	}
	for _, candidate := range DefaultSearchPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no configuration file provided and none of the default paths exist: %v", DefaultSearchPaths)
}

// Load reads and validates path, returning the resolved Config. Per spec.md
// §7, any configuration error here means no Group is ever constructed from
// it — callers must leave prior state in force rather than apply a partial
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	if raw.Programs == nil {
		return nil, fmt.Errorf("%q: missing required top-level key 'programs'", path)
	}

	cfg := &Config{Programs: make(map[string]program.Spec, len(raw.Programs))}
	for name, rawSpec := range raw.Programs {
		spec, err := rawSpec.Validate(name)
		if err != nil {
			return nil, err
		}
		cfg.Programs[name] = spec
	}

	return cfg, nil
}
