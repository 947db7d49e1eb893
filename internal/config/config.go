package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models buildflow.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		Env      string `yaml:"env"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Database struct {
		Workspace string `yaml:"workspace"`
		// TimeoutSeconds bounds every engine database operation.
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"database"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one audit-event webhook target.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Eventi   []string `yaml:"eventi"`
	Severita string   `yaml:"severita"`
}

const fileName = "buildflow.yml"

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Default returns a config with development defaults.
func Default() *Config {
	c := &Config{}
	c.Server.Addr = ":8080"
	c.Server.BasePath = "/api"
	c.Server.Env = "development"
	c.Auth.JWTSecret = ""
	c.Database.Workspace = "."
	c.Database.TimeoutSeconds = 10
	return c
}

// Load reads buildflow.yml from the workspace, falling back to defaults when
// the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath == "" {
		return fmt.Errorf("config.server.base_path is required")
	}
	switch c.Server.Env {
	case "development", "production":
	default:
		return fmt.Errorf("config.server.env must be development or production")
	}
	if c.Database.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.database.timeout_seconds must be positive")
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Production reports whether the server runs with production error masking.
func (c *Config) Production() bool {
	return c.Server.Env == "production"
}

// DBTimeout returns the bounded database timeout as a duration.
func (c *Config) DBTimeout() time.Duration {
	return time.Duration(c.Database.TimeoutSeconds) * time.Second
}
