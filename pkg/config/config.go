// Package config provides configuration management for the torbridge tool.
//
// This package handles loading, parsing, validating, and managing
// configuration data from JSON or YAML files. It covers the tor service
// parameters (SOCKS port, data directory, bootstrap timeout), the HTTP
// transport selection, and optional hidden-service settings.
//
// Configuration files support environment variable substitution using the
// standard $VAR or ${VAR} syntax.
//
// Example usage:
//
//	cfg, err := config.Load("bridge.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// Use cfg.SocksPort, cfg.DataDir, etc.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Transport variant names; see the transport field documentation.
const (
	// TransportManual hand-frames HTTP/1.1 over a raw SOCKS5 tunnel. It
	// supports plain http URLs only; https fails fast with a descriptive
	// error.
	TransportManual = "manual"

	// TransportProxied builds on net/http with a SOCKS5 dialer and handles
	// both http and https. The two variants deliberately diverge on https
	// support; deployments pick one explicitly rather than falling back.
	TransportProxied = "proxied"
)

// Config represents the complete bridge configuration structure.
type Config struct {
	// Tor service settings
	SocksPort uint16 `json:"socksPort" yaml:"socksPort"` // Local SOCKS5 listener port
	DataDir   string `json:"dataDir" yaml:"dataDir"`     // Tor state directory

	// BootstrapTimeoutMS bounds how long initialization waits for tor to
	// become routable (default: 45000).
	BootstrapTimeoutMS uint64 `json:"bootstrapTimeoutMs,omitempty" yaml:"bootstrapTimeoutMs,omitempty"`

	// Transport selects the HTTP client implementation: "manual" or
	// "proxied" (default: "manual").
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`

	// RequestTimeoutMS is the default per-request deadline when a request
	// carries none (default: 30000).
	RequestTimeoutMS uint64 `json:"requestTimeoutMs,omitempty" yaml:"requestTimeoutMs,omitempty"`

	// HiddenService, when present, is published right after startup.
	HiddenService *HiddenServiceConfig `json:"hiddenService,omitempty" yaml:"hiddenService,omitempty"`
}

// HiddenServiceConfig defines one hidden service to publish: traffic to
// VirtualPort on the onion address reaches TargetPort locally. KeyFile, when
// set, names a file holding the 64-byte expanded ed25519 secret key that
// pins the service to a long-term identity.
type HiddenServiceConfig struct {
	VirtualPort uint16 `json:"virtualPort" yaml:"virtualPort"`
	TargetPort  uint16 `json:"targetPort" yaml:"targetPort"`
	KeyFile     string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
}

// Load reads and validates configuration from a JSON or YAML file, chosen by
// extension (.yaml/.yml for YAML, anything else JSON). Environment variables
// in the file are expanded with os.ExpandEnv before parsing.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("no config file specified")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	content := []byte(os.ExpandEnv(string(data)))
	switch filepath.Ext(configPath) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, config)
	default:
		err = json.Unmarshal(content, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.SetDefaults()

	return config, nil
}

// Validate checks that all required fields are present and internally
// consistent.
func (c *Config) Validate() error {
	if c.SocksPort == 0 {
		return fmt.Errorf("socksPort is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	if c.Transport != "" && c.Transport != TransportManual && c.Transport != TransportProxied {
		return fmt.Errorf("invalid transport '%s', must be one of: %s, %s",
			c.Transport, TransportManual, TransportProxied)
	}
	if hs := c.HiddenService; hs != nil {
		if hs.VirtualPort == 0 || hs.TargetPort == 0 {
			return fmt.Errorf("hiddenService requires virtualPort and targetPort")
		}
	}
	return nil
}

// SetDefaults applies default values to optional configuration fields.
func (c *Config) SetDefaults() {
	if c.BootstrapTimeoutMS == 0 {
		c.BootstrapTimeoutMS = 45000
	}
	if c.Transport == "" {
		c.Transport = TransportManual
	}
	if c.RequestTimeoutMS == 0 {
		c.RequestTimeoutMS = 30000
	}
}

// Sample returns a fully commented example configuration used by the
// "config generate" command.
func Sample() *Config {
	return &Config{
		SocksPort:          19050,
		DataDir:            "${HOME}/.torbridge",
		BootstrapTimeoutMS: 45000,
		Transport:          TransportManual,
		RequestTimeoutMS:   30000,
		HiddenService: &HiddenServiceConfig{
			VirtualPort: 80,
			TargetPort:  8080,
		},
	}
}
