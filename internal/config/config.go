// Package config provides configuration parsing for the overlay mesh
// client: the on-disk YAML record that supplies a populated
// configuration to the core, which the core itself never parses.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	DataDir string `yaml:"data_dir"`

	EnableServer    bool `yaml:"enable_server"`
	ServerBindPort  int  `yaml:"server_bind_port"`

	RemoteEndpoints []string `yaml:"remote_endpoints"`

	ApprovedIdentities []string `yaml:"approved_identities"`

	EnablePendingAuthenticationTimeout   bool `yaml:"enable_pending_authentication_timeout"`
	PendingAuthenticationTimeoutSeconds  uint64 `yaml:"pending_authentication_timeout_in_seconds"`

	EnableAuthenticatedConnectionTimeout  bool `yaml:"enable_authenticated_connection_timeout"`
	AuthenticatedConnectionTimeoutSeconds uint64 `yaml:"authenticated_connection_timeout_in_seconds"`

	ReconnectDelaySeconds uint64 `yaml:"reconnect_delay_in_seconds"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns a Config populated with conservative defaults.
func Default() *Config {
	return &Config{
		DataDir:                               "./data",
		EnableServer:                          false,
		ServerBindPort:                         7070,
		RemoteEndpoints:                       []string{},
		ApprovedIdentities:                    []string{},
		EnablePendingAuthenticationTimeout:     true,
		PendingAuthenticationTimeoutSeconds:    10,
		EnableAuthenticatedConnectionTimeout:   true,
		AuthenticatedConnectionTimeoutSeconds:  60,
		ReconnectDelaySeconds:                  5,
		LogLevel:                               "info",
		LogFormat:                              "text",
	}
}

// Load reads and parses a YAML configuration file, applying Default
// for any field the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants Parse cannot enforce through zero values
// alone.
func (c *Config) Validate() error {
	if c.EnableServer && (c.ServerBindPort <= 0 || c.ServerBindPort > 65535) {
		return fmt.Errorf("server_bind_port %d out of range", c.ServerBindPort)
	}
	for _, endpoint := range c.RemoteEndpoints {
		if endpoint == "" {
			return fmt.Errorf("remote_endpoints contains an empty entry")
		}
	}
	return nil
}
