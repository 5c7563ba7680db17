package api

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ActionsConfig is the catalog of actions a step can reference with uses.
type ActionsConfig struct {
	Actions []ActionDef `yaml:"actions"`
}

// ActionDef is one version of a reusable action. Inputs holds default values
// that a step's with block overrides.
type ActionDef struct {
	Name    string            `yaml:"name"`
	Version string            `yaml:"version"`
	Aliases []string          `yaml:"aliases,omitempty"`
	Shell   string            `yaml:"shell,omitempty"`
	Run     string            `yaml:"run"`
	Inputs  map[string]string `yaml:"inputs,omitempty"`
}

// LoadActions reads an actions YAML file, unmarshals it, and validates.
func LoadActions(filename string) (*ActionsConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading actions file: %w", err)
	}

	var cfg ActionsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing actions file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating actions file: %w", err)
	}

	return &cfg, nil
}

// Validate checks the actions catalog for errors.
func (c *ActionsConfig) Validate() error {
	versions := make(map[string]bool)
	aliases := make(map[string]bool)

	for i, a := range c.Actions {
		if a.Name == "" {
			return fmt.Errorf("action %d: name is required", i)
		}
		if a.Run == "" {
			return fmt.Errorf("action %q: run is required", a.Name)
		}
		v, err := semver.StrictNewVersion(a.Version)
		if err != nil {
			return fmt.Errorf("action %q: invalid version %q: %w", a.Name, a.Version, err)
		}
		ref := a.Name + "@" + v.String()
		if versions[ref] {
			return fmt.Errorf("action %q: duplicate version %s", a.Name, v)
		}
		versions[ref] = true
		for _, alias := range a.Aliases {
			ref := a.Name + "@" + alias
			if aliases[ref] {
				return fmt.Errorf("action %q: duplicate alias %q", a.Name, alias)
			}
			aliases[ref] = true
		}
	}

	return nil
}
