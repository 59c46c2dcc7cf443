// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development points at a local stub service.
	Development Environment = "development"
	// Production points at the real remote service.
	Production Environment = "production"
)

// Config is the master configuration for statesync-agent.
type Config struct {
	// Environment identifies the deployment type (development, production).
	Environment Environment `yaml:"environment"`

	// Endpoints are the remote service URLs.
	Endpoints EndpointsConfig `yaml:"endpoints"`

	// Submission configures the periodic delta submission.
	Submission SubmissionConfig `yaml:"submission"`

	// Manifest configures manifest fetching and local definition files.
	Manifest ManifestConfig `yaml:"manifest"`

	// Query configures the local on-demand snapshot service.
	Query QueryConfig `yaml:"query"`

	// Socket configures the host-facing CBOR socket.
	Socket SocketConfig `yaml:"socket"`

	// Metrics configures the Prometheus listener.
	Metrics MetricsConfig `yaml:"metrics"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Endpoints  *EndpointsConfig  `yaml:"endpoints,omitempty"`
	Submission *SubmissionConfig `yaml:"submission,omitempty"`
	Query      *QueryConfig      `yaml:"query,omitempty"`
	Metrics    *MetricsConfig    `yaml:"metrics,omitempty"`
}

// EndpointsConfig holds the three remote URLs. Each may be replaced by
// an environment variable through [Config.ApplyEnv].
type EndpointsConfig struct {
	Manifest string `yaml:"manifest" env:"STATESYNC_MANIFEST_URL"`
	Version  string `yaml:"version" env:"STATESYNC_VERSION_URL"`
	Submit   string `yaml:"submit" env:"STATESYNC_SUBMIT_URL"`
}

// SubmissionConfig configures the submission engine.
type SubmissionConfig struct {
	// Period is the interval between ticks.
	// Default: 10s
	Period time.Duration `yaml:"period"`

	// Timeout bounds each submission request. Must be shorter than Period
	// so a slot is always released before the next tick.
	// Default: 3s
	Timeout time.Duration `yaml:"timeout"`

	// Compression is the request body content coding: none, gzip, or zstd.
	// Default: none
	Compression string `yaml:"compression"`
}

// ManifestConfig configures the schema resolver and local definitions.
type ManifestConfig struct {
	// CheckPeriod is the interval between version probes.
	// Default: 20m
	CheckPeriod time.Duration `yaml:"check_period"`

	// SeedFile is an optional JSONC manifest used until the first
	// successful fetch.
	SeedFile string `yaml:"seed_file"`

	// DefinitionsFile is an optional JSONC file of packed field
	// definitions. The host may also push definitions over the socket.
	DefinitionsFile string `yaml:"definitions_file"`
}

// QueryConfig configures the local websocket query service.
type QueryConfig struct {
	Enabled bool `yaml:"enabled"`

	// PortMin and PortMax bound the ports tried, in order, on 127.0.0.1.
	// Default: 37767..37776
	PortMin int `yaml:"port_min"`
	PortMax int `yaml:"port_max"`

	// AllowedOrigins lists the Origin hosts accepted on upgrade.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// EnsurePeriod is how often an unbound server retries binding.
	// Default: 30s
	EnsurePeriod time.Duration `yaml:"ensure_period"`
}

// SocketConfig configures the host-facing unix socket.
type SocketConfig struct {
	// Path is the unix socket the host connects to.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/statesync/agent.sock
	Path string `yaml:"path"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	// Address is the TCP listen address. Empty disables the listener.
	Address string `yaml:"address"`
}

// Default returns the default configuration.
// Endpoint URLs have no defaults: the config file or the environment
// must name them.
func Default() *Config {
	return &Config{
		Environment: Development,
		Submission: SubmissionConfig{
			Period:      10 * time.Second,
			Timeout:     3 * time.Second,
			Compression: "none",
		},
		Manifest: ManifestConfig{
			CheckPeriod: 1200 * time.Second,
		},
		Query: QueryConfig{
			Enabled: true,
			PortMin: 37767,
			PortMax: 37776,
			AllowedOrigins: []string{
				"localhost",
				"dps.osrs.wiki",
				"tools.runescape.wiki",
			},
			EnsurePeriod: 30 * time.Second,
		},
		Socket: SocketConfig{
			Path: "${XDG_RUNTIME_DIR:-/tmp}/statesync/agent.sock",
		},
	}
}

// Load loads configuration from the STATESYNC_CONFIG environment variable.
//
// There are no fallbacks: if STATESYNC_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("STATESYNC_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("STATESYNC_CONFIG environment variable not set; " +
			"set it to the path of your statesync.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies the
// section matching Environment, expands path variables, and applies
// endpoint environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// ApplyEnv replaces endpoint URLs with STATESYNC_MANIFEST_URL,
// STATESYNC_VERSION_URL, and STATESYNC_SUBMIT_URL when those are set.
// Unset variables leave the file's values in place.
func (c *Config) ApplyEnv() error {
	var fromEnv EndpointsConfig
	if err := env.Parse(&fromEnv); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if fromEnv.Manifest != "" {
		c.Endpoints.Manifest = fromEnv.Manifest
	}
	if fromEnv.Version != "" {
		c.Endpoints.Version = fromEnv.Version
	}
	if fromEnv.Submit != "" {
		c.Endpoints.Submit = fromEnv.Submit
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production defaults: compressed submissions.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Submission: &SubmissionConfig{Compression: "gzip"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Endpoints != nil {
		if overrides.Endpoints.Manifest != "" {
			c.Endpoints.Manifest = overrides.Endpoints.Manifest
		}
		if overrides.Endpoints.Version != "" {
			c.Endpoints.Version = overrides.Endpoints.Version
		}
		if overrides.Endpoints.Submit != "" {
			c.Endpoints.Submit = overrides.Endpoints.Submit
		}
	}

	if overrides.Submission != nil {
		if overrides.Submission.Period != 0 {
			c.Submission.Period = overrides.Submission.Period
		}
		if overrides.Submission.Timeout != 0 {
			c.Submission.Timeout = overrides.Submission.Timeout
		}
		if overrides.Submission.Compression != "" {
			c.Submission.Compression = overrides.Submission.Compression
		}
	}

	if overrides.Query != nil {
		// Enabled is a bool, so it is always applied from overrides.
		c.Query.Enabled = overrides.Query.Enabled
		if overrides.Query.PortMin != 0 {
			c.Query.PortMin = overrides.Query.PortMin
		}
		if overrides.Query.PortMax != 0 {
			c.Query.PortMax = overrides.Query.PortMax
		}
		if len(overrides.Query.AllowedOrigins) > 0 {
			c.Query.AllowedOrigins = overrides.Query.AllowedOrigins
		}
		if overrides.Query.EnsurePeriod != 0 {
			c.Query.EnsurePeriod = overrides.Query.EnsurePeriod
		}
	}

	if overrides.Metrics != nil && overrides.Metrics.Address != "" {
		c.Metrics.Address = overrides.Metrics.Address
	}
}

// DefaultSocketPath returns the default socket path with variables
// expanded. Clients use it when neither a flag nor a config file names
// the socket.
func DefaultSocketPath() string {
	return expandVars(Default().Socket.Path)
}

func (c *Config) expandVariables() {
	c.Socket.Path = expandVars(c.Socket.Path)
	c.Manifest.SeedFile = expandVars(c.Manifest.SeedFile)
	c.Manifest.DefinitionsFile = expandVars(c.Manifest.DefinitionsFile)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	for _, endpoint := range []struct {
		name  string
		value string
	}{
		{"endpoints.manifest", c.Endpoints.Manifest},
		{"endpoints.version", c.Endpoints.Version},
		{"endpoints.submit", c.Endpoints.Submit},
	} {
		if err := validateURL(endpoint.name, endpoint.value); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Submission.Period <= 0 {
		errs = append(errs, fmt.Errorf("submission.period must be positive"))
	}
	if c.Submission.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("submission.timeout must be positive"))
	} else if c.Submission.Timeout >= c.Submission.Period {
		errs = append(errs, fmt.Errorf("submission.timeout (%s) must be shorter than submission.period (%s)",
			c.Submission.Timeout, c.Submission.Period))
	}
	switch c.Submission.Compression {
	case "", "none", "gzip", "zstd":
	default:
		errs = append(errs, fmt.Errorf("submission.compression must be one of: none, gzip, zstd"))
	}

	if c.Manifest.CheckPeriod <= 0 {
		errs = append(errs, fmt.Errorf("manifest.check_period must be positive"))
	}

	if c.Query.Enabled {
		if c.Query.PortMin <= 0 || c.Query.PortMax > 65535 || c.Query.PortMin > c.Query.PortMax {
			errs = append(errs, fmt.Errorf("query port range %d..%d is invalid", c.Query.PortMin, c.Query.PortMax))
		}
		if len(c.Query.AllowedOrigins) == 0 {
			errs = append(errs, fmt.Errorf("query.allowed_origins must not be empty"))
		}
		if c.Query.EnsurePeriod <= 0 {
			errs = append(errs, fmt.Errorf("query.ensure_period must be positive"))
		}
	}

	if c.Socket.Path == "" {
		errs = append(errs, fmt.Errorf("socket.path is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateURL(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL, got %q", name, value)
	}
	return nil
}
