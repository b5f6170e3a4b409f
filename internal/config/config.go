package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from YAML with environment
// overrides for credentials.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Inbox    InboxConfig    `yaml:"inbox"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type GatewayConfig struct {
	URL      string   `yaml:"url"`
	Token    string   `yaml:"token,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Role     string   `yaml:"role"`
	Scopes   []string `yaml:"scopes"`
	Locale   string   `yaml:"locale,omitempty"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Password guards the dashboard API. Empty disables auth (local use).
	Password string `yaml:"password,omitempty"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type InboxConfig struct {
	// Dir is watched for dropped .md/.txt/.json files to ingest as inbox
	// items. Empty disables the watcher.
	Dir string `yaml:"dir,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Default returns the configuration used when no file exists yet.
func Default() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return &Config{
		Gateway: GatewayConfig{
			Role:   "operator",
			Scopes: []string{"chat", "status"},
		},
		Server:   ServerConfig{Addr: "127.0.0.1:7773"},
		Database: DatabaseConfig{Path: filepath.Join(dir, "foyer.db")},
		Logging:  LoggingConfig{Level: "info"},
	}, nil
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if url := os.Getenv("FOYER_GATEWAY_URL"); url != "" {
		cfg.Gateway.URL = url
	}
	if token := os.Getenv("FOYER_GATEWAY_TOKEN"); token != "" {
		cfg.Gateway.Token = token
	}
	if pw := os.Getenv("FOYER_GATEWAY_PASSWORD"); pw != "" {
		cfg.Gateway.Password = pw
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the config back to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Gateway.Role == "" {
		return fmt.Errorf("gateway.role is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
