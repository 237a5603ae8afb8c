package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskctl.yml, the optional per-workspace settings file.
type Config struct {
	Worker    string `yaml:"worker"`
	Dashboard struct {
		RefreshSeconds int `yaml:"refresh_seconds"`
	} `yaml:"dashboard"`
	Server struct {
		Addr        string `yaml:"addr"`
		TokenSecret string `yaml:"token_secret"`
	} `yaml:"server"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskctl.yml")
}

// Default returns the baseline config.
func Default() *Config {
	var cfg Config
	cfg.Dashboard.RefreshSeconds = 2
	cfg.Server.Addr = "127.0.0.1:8990"
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Dashboard.RefreshSeconds < 0 {
		return fmt.Errorf("dashboard.refresh_seconds must be >= 0")
	}
	return nil
}

// LoadOptional reads the workspace config, returning defaults if the file
// does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Unset fields
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Dashboard.RefreshSeconds == 0 {
		cfg.Dashboard.RefreshSeconds = 2
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8990"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
