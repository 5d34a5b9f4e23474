// Package config loads optional YAML defaults for the CLI front ends,
// so a site can pin its own defaults (timeout, bound, max_branch)
// without passing them on every invocation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults mirrors the subset of CLI options worth overriding from a
// config file. Zero values mean "not set, use the built-in default".
type Defaults struct {
	FirstTTL   int     `yaml:"first_ttl"`
	MaxTTL     int     `yaml:"max_ttl"`
	Wait       float64 `yaml:"wait"`
	Bound      float64 `yaml:"bound"`
	MaxBranch  int     `yaml:"max_branch"`
	SrcPort    int     `yaml:"src_port"`
	DstPort    int     `yaml:"dst_port"`
	Algorithm  string  `yaml:"algorithm"`
	NoResolve  bool    `yaml:"no_resolve"`
}

// Load reads and parses a YAML defaults file at path. A missing file
// is not an error: Load returns the zero Defaults, so callers can
// unconditionally merge over the CLI's own hardcoded defaults.
func Load(path string) (Defaults, error) {
	var d Defaults
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return d, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return d, nil
}
