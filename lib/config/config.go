// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/partyline/platform"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for long-running deployments.
	Production Environment = "production"
)

// Config is the master configuration for partyline.
type Config struct {
	// Environment identifies the deployment type (development, production).
	Environment Environment `yaml:"environment"`

	// Endpoints locates the platform services. Unset fields keep the
	// production defaults.
	Endpoints platform.Endpoints `yaml:"endpoints"`

	// Paths configures where credentials are kept.
	Paths PathsConfig `yaml:"paths"`

	// Session configures login behavior.
	Session SessionConfig `yaml:"session"`

	// HTTP configures the REST transport.
	HTTP HTTPConfig `yaml:"http"`

	// Presence configures the presence connection.
	Presence PresenceConfig `yaml:"presence"`

	// Friends configures the friend cache.
	Friends FriendsConfig `yaml:"friends"`

	// Party configures party behavior at start.
	Party PartyConfig `yaml:"party"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Endpoints *platform.Endpoints `yaml:"endpoints,omitempty"`
	Paths     *PathsConfig        `yaml:"paths,omitempty"`
	Logging   *LoggingConfig      `yaml:"logging,omitempty"`
	Metrics   *MetricsConfig      `yaml:"metrics,omitempty"`
}

// PathsConfig configures credential storage.
type PathsConfig struct {
	// State is the directory holding persisted credentials.
	State string `yaml:"state"`

	// DeviceAuth is the device credential file. Relative paths are
	// resolved against State. Default: device_auth.json
	DeviceAuth string `yaml:"device_auth"`

	// Identity is an age identity file. When set, the device
	// credential is stored sealed to it instead of as plain JSON.
	Identity string `yaml:"identity"`
}

// SessionConfig configures login.
type SessionConfig struct {
	// Platform is the advertised platform tag. Default: WIN
	Platform string `yaml:"platform"`

	AcceptEULA        bool `yaml:"accept_eula"`
	KillOtherSessions bool `yaml:"kill_other_sessions"`
	ClientCredentials bool `yaml:"client_credentials"`

	// ChatPresence authenticates presence with the chat session.
	ChatPresence bool `yaml:"chat_presence"`
}

// HTTPConfig configures the REST transport.
type HTTPConfig struct {
	// Timeout bounds one HTTP exchange. Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries bounds immediate retries of transient server errors.
	MaxRetries int `yaml:"max_retries"`

	UserAgent string `yaml:"user_agent"`
}

// PresenceConfig configures the presence connection. Zero durations
// keep the connection's defaults.
type PresenceConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	KeepaliveInterval    time.Duration `yaml:"keepalive_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	RoomJoinTimeout      time.Duration `yaml:"room_join_timeout"`
	ReconnectMaxInterval time.Duration `yaml:"reconnect_max_interval"`

	// Status is the status line broadcast after connecting.
	Status string `yaml:"status"`
}

// FriendsConfig configures the friend cache.
type FriendsConfig struct {
	WaitTimeout           time.Duration `yaml:"wait_timeout"`
	PresenceLifetime      time.Duration `yaml:"presence_lifetime"`
	PresenceSweepInterval time.Duration `yaml:"presence_sweep_interval"`
	UserLifetime          time.Duration `yaml:"user_lifetime"`
	UserSweepInterval     time.Duration `yaml:"user_sweep_interval"`
}

// PartyConfig configures party behavior.
type PartyConfig struct {
	// Create creates a party at start when the account is in none.
	Create bool `yaml:"create"`

	// Joinability is OPEN, INVITE_AND_FORMER or INVITE_ONLY.
	// Default: OPEN
	Joinability string `yaml:"joinability"`

	// MaxSize is the member limit. Default: 16
	MaxSize int `yaml:"max_size"`

	JoinConfirmation bool `yaml:"join_confirmation"`

	// LockTimeout bounds how long a notification waits for a running
	// membership change.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default: debug (development),
	// info (production)
	Level string `yaml:"level"`

	// Format is auto, text or json. auto picks text on a terminal.
	// Default: auto
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address serving /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Environment: Development,
		Endpoints:   platform.DefaultEndpoints(),
		Paths: PathsConfig{
			State:      filepath.Join(homeDir, ".local", "state", "partyline"),
			DeviceAuth: "device_auth.json",
		},
		Session: SessionConfig{
			Platform: "WIN",
		},
		HTTP: HTTPConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			UserAgent:  "partyline",
		},
		Friends: FriendsConfig{
			WaitTimeout: 5 * time.Second,
		},
		Party: PartyConfig{
			Joinability: "OPEN",
			MaxSize:     16,
		},
		Logging: LoggingConfig{
			Level:  "debug",
			Format: "auto",
		},
	}
}

// Load loads configuration from the PARTYLINE_CONFIG environment variable.
//
// There are no fallbacks or defaults - if PARTYLINE_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("PARTYLINE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("PARTYLINE_CONFIG environment variable not set; " +
			"set it to the path of your partyline.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values; the only expansion performed is
// ${HOME} and similar variables in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
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

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production defaults: quieter logs, machine-readable output.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Level: "info", Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Endpoints != nil {
		override := *overrides.Endpoints
		for _, field := range []struct {
			target *string
			value  string
		}{
			{&c.Endpoints.Account, override.Account},
			{&c.Endpoints.Friends, override.Friends},
			{&c.Endpoints.Party, override.Party},
			{&c.Endpoints.EULA, override.EULA},
			{&c.Endpoints.Game, override.Game},
			{&c.Endpoints.XMPP, override.XMPP},
			{&c.Endpoints.XMPPDomain, override.XMPPDomain},
			{&c.Endpoints.MUCDomain, override.MUCDomain},
		} {
			if field.value != "" {
				*field.target = field.value
			}
		}
	}

	if overrides.Paths != nil {
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
		if overrides.Paths.DeviceAuth != "" {
			c.Paths.DeviceAuth = overrides.Paths.DeviceAuth
		}
		if overrides.Paths.Identity != "" {
			c.Paths.Identity = overrides.Paths.Identity
		}
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}

	if overrides.Metrics != nil && overrides.Metrics.Listen != "" {
		c.Metrics.Listen = overrides.Metrics.Listen
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["PARTYLINE_STATE"] = c.Paths.State

	c.Paths.DeviceAuth = expandVars(c.Paths.DeviceAuth, vars)
	c.Paths.Identity = expandVars(c.Paths.Identity, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, preferring
// vars over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Paths.DeviceAuth == "" {
		errs = append(errs, fmt.Errorf("paths.device_auth is required"))
	}
	for name, value := range map[string]string{
		"endpoints.account":     c.Endpoints.Account,
		"endpoints.friends":     c.Endpoints.Friends,
		"endpoints.party":       c.Endpoints.Party,
		"endpoints.xmpp":        c.Endpoints.XMPP,
		"endpoints.xmpp_domain": c.Endpoints.XMPPDomain,
		"endpoints.muc_domain":  c.Endpoints.MUCDomain,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("http.max_retries must not be negative"))
	}
	if c.Party.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("party.max_size must not be negative"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levels))
	}
	formats := []string{"auto", "text", "json"}
	if !contains(formats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// DeviceAuthPath returns the device credential file, resolved against
// the state directory.
func (c *Config) DeviceAuthPath() string {
	if filepath.IsAbs(c.Paths.DeviceAuth) {
		return c.Paths.DeviceAuth
	}
	return filepath.Join(c.Paths.State, c.Paths.DeviceAuth)
}

// EnsurePaths creates the state directory if it doesn't exist.
func (c *Config) EnsurePaths() error {
	if c.Paths.State == "" {
		return nil
	}
	if err := os.MkdirAll(c.Paths.State, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.State, err)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
