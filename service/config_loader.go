package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kwv/gcransac/ransac"
)

// LoadConfig loads the configuration from a YAML file. Keys missing from the file
// keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML configuration data
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the settings, the problem and every scene definition
func (c *Config) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	problem, err := ransac.ParseProblem(string(c.Problem))
	if err != nil {
		return fmt.Errorf("problem: %w", err)
	}
	c.Problem = problem

	seen := make(map[string]bool, len(c.Scenes))
	for i := range c.Scenes {
		sc := &c.Scenes[i]
		if sc.Name == "" {
			return fmt.Errorf("scenes[%d].name is required", i)
		}
		if seen[sc.Name] {
			return fmt.Errorf("scenes[%d]: duplicate scene name %q", i, sc.Name)
		}
		seen[sc.Name] = true

		sources := 0
		for _, set := range []bool{sc.Input != "", sc.URL != "", sc.Synthetic != nil} {
			if set {
				sources++
			}
		}
		if sources != 1 {
			return fmt.Errorf("scenes[%d] (%s): exactly one of input, url or synthetic is required", i, sc.Name)
		}
		if sc.Problem != "" {
			p, err := ransac.ParseProblem(string(sc.Problem))
			if err != nil {
				return fmt.Errorf("scenes[%d] (%s): %w", i, sc.Name, err)
			}
			sc.Problem = p
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
