// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// EnvironmentVariable names the variable Load reads the config path from.
const EnvironmentVariable = "SOCKBRIDGE_CONFIG"

// Config is the sockbridge daemon configuration.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Host configures the link to the host application.
	Host HostConfig `yaml:"host"`

	// Sockets configures the socket manager.
	Sockets SocketsConfig `yaml:"sockets"`

	// Events configures how socket events are rendered for the host.
	Events EventsConfig `yaml:"events"`

	// Logging configures the daemon's structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Host    *HostConfig    `yaml:"host,omitempty"`
	Sockets *SocketsOverrides `yaml:"sockets,omitempty"`
	Events  *EventsConfig     `yaml:"events,omitempty"`
	Logging *LoggingConfig    `yaml:"logging,omitempty"`
}

// SocketsOverrides is the sockets section of an environment override.
// ReusePort is a pointer so an override that omits it leaves the base
// value alone.
type SocketsOverrides struct {
	ConnectTimeout   string `yaml:"connect_timeout"`
	KeepAlive        string `yaml:"keep_alive"`
	ReadBufferSize   int    `yaml:"read_buffer_size"`
	ClientHandleBase int    `yaml:"client_handle_base"`
	ReusePort        *bool  `yaml:"reuse_port"`
}

// HostConfig configures the host link.
type HostConfig struct {
	// SocketPath is the Unix socket the host connects to.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/sockbridge.sock
	SocketPath string `yaml:"socket_path"`

	// HandshakeTimeout bounds the wait for the host's hello frame.
	// Default: 10s
	HandshakeTimeout string `yaml:"handshake_timeout"`

	// WriteTimeout bounds each frame write to the host.
	// Default: 30s
	WriteTimeout string `yaml:"write_timeout"`

	// Compression selects the algorithm for frames sent to the host.
	// Values: "client" (use what the host asks for), "none", "lz4", "zstd".
	// Default: client
	Compression string `yaml:"compression"`

	// CompressionThreshold is the smallest payload, in bytes, that is
	// considered for compression.
	// Default: 1024
	CompressionThreshold int `yaml:"compression_threshold"`
}

// SocketsConfig configures the socket manager.
type SocketsConfig struct {
	// ConnectTimeout bounds outbound connection establishment. "0s"
	// leaves only the operating system's timeout.
	// Default: 30s
	ConnectTimeout string `yaml:"connect_timeout"`

	// KeepAlive is the TCP keep-alive period for outbound connections.
	// A negative duration disables keep-alives.
	// Default: 15s
	KeepAlive string `yaml:"keep_alive"`

	// ReadBufferSize is the per-socket read buffer in bytes. Each read
	// produces at most one data event of this size.
	// Default: 65536
	ReadBufferSize int `yaml:"read_buffer_size"`

	// ClientHandleBase is the first handle assigned to connections
	// accepted on listening sockets. Hosts should keep their own
	// handles below it.
	// Default: 10000
	ClientHandleBase int `yaml:"client_handle_base"`

	// ReusePort sets SO_REUSEPORT on listening sockets where supported.
	// Default: false
	ReusePort bool `yaml:"reuse_port"`
}

// EventsConfig configures event rendering.
type EventsConfig struct {
	// DataEncoding selects the data event transform.
	// Values: "gbk" (legacy text transform), "hex".
	// Default: gbk
	DataEncoding string `yaml:"data_encoding"`
}

// LoggingConfig configures the daemon logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is one of auto (text on a terminal, JSON otherwise), text, json.
	// Default: auto
	Format string `yaml:"format"`
}

// Default returns the default configuration. Every field is set, so a
// daemon started without a config file is fully configured.
func Default() *Config {
	return &Config{
		Environment: Development,
		Host: HostConfig{
			SocketPath:           defaultSocketPath(),
			HandshakeTimeout:     "10s",
			WriteTimeout:         "30s",
			Compression:          "client",
			CompressionThreshold: 1024,
		},
		Sockets: SocketsConfig{
			ConnectTimeout:   "30s",
			KeepAlive:        "15s",
			ReadBufferSize:   64 * 1024,
			ClientHandleBase: 10000,
			ReusePort:        false,
		},
		Events: EventsConfig{
			DataEncoding: "gbk",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

func defaultSocketPath() string {
	return expandVars("${XDG_RUNTIME_DIR:-/tmp}/sockbridge.sock", nil)
}

// Load loads configuration from the file named by SOCKBRIDGE_CONFIG.
// There is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your sockbridge config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies the
// matching environment section, and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile merges a single configuration file into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is valid YAML once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
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
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Level: "info", Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if host := overrides.Host; host != nil {
		setString(&c.Host.SocketPath, host.SocketPath)
		setString(&c.Host.HandshakeTimeout, host.HandshakeTimeout)
		setString(&c.Host.WriteTimeout, host.WriteTimeout)
		setString(&c.Host.Compression, host.Compression)
		if host.CompressionThreshold != 0 {
			c.Host.CompressionThreshold = host.CompressionThreshold
		}
	}

	if sockets := overrides.Sockets; sockets != nil {
		setString(&c.Sockets.ConnectTimeout, sockets.ConnectTimeout)
		setString(&c.Sockets.KeepAlive, sockets.KeepAlive)
		if sockets.ReadBufferSize != 0 {
			c.Sockets.ReadBufferSize = sockets.ReadBufferSize
		}
		if sockets.ClientHandleBase != 0 {
			c.Sockets.ClientHandleBase = sockets.ClientHandleBase
		}
		if sockets.ReusePort != nil {
			c.Sockets.ReusePort = *sockets.ReusePort
		}
	}

	if events := overrides.Events; events != nil {
		setString(&c.Events.DataEncoding, events.DataEncoding)
	}

	if logging := overrides.Logging; logging != nil {
		setString(&c.Logging.Level, logging.Level)
		setString(&c.Logging.Format, logging.Format)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Host.SocketPath = expandVars(c.Host.SocketPath, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

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

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Host.SocketPath == "" {
		errs = append(errs, fmt.Errorf("host.socket_path is required"))
	}
	errs = appendPositiveDuration(errs, "host.handshake_timeout", c.Host.HandshakeTimeout)
	errs = appendPositiveDuration(errs, "host.write_timeout", c.Host.WriteTimeout)

	compressionValues := []string{"client", "none", "lz4", "zstd"}
	if !slices.Contains(compressionValues, c.Host.Compression) {
		errs = append(errs, fmt.Errorf("host.compression must be one of: %v", compressionValues))
	}
	if c.Host.CompressionThreshold < 0 {
		errs = append(errs, fmt.Errorf("host.compression_threshold must not be negative"))
	}

	if timeout, err := time.ParseDuration(c.Sockets.ConnectTimeout); err != nil {
		errs = append(errs, fmt.Errorf("sockets.connect_timeout: %w", err))
	} else if timeout < 0 {
		errs = append(errs, fmt.Errorf("sockets.connect_timeout must not be negative"))
	}
	if _, err := time.ParseDuration(c.Sockets.KeepAlive); err != nil {
		errs = append(errs, fmt.Errorf("sockets.keep_alive: %w", err))
	}
	if c.Sockets.ReadBufferSize <= 0 || c.Sockets.ReadBufferSize > MaxReadBufferSize {
		errs = append(errs, fmt.Errorf("sockets.read_buffer_size must be between 1 and %d", MaxReadBufferSize))
	}
	if c.Sockets.ClientHandleBase <= 0 {
		errs = append(errs, fmt.Errorf("sockets.client_handle_base must be positive"))
	}

	encodingValues := []string{"gbk", "hex"}
	if !slices.Contains(encodingValues, c.Events.DataEncoding) {
		errs = append(errs, fmt.Errorf("events.data_encoding must be one of: %v", encodingValues))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	formatValues := []string{"auto", "text", "json"}
	if !slices.Contains(formatValues, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formatValues))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// MaxReadBufferSize caps sockets.read_buffer_size. A data event larger
// than this would not fit in a host link frame once rendered.
const MaxReadBufferSize = 4 * 1024 * 1024

func appendPositiveDuration(errs []error, field, value string) []error {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", field, err))
	}
	if duration <= 0 {
		return append(errs, fmt.Errorf("%s must be positive", field))
	}
	return errs
}

// HandshakeDuration returns host.handshake_timeout. Call Validate first;
// an unparseable value yields zero.
func (h HostConfig) HandshakeDuration() time.Duration {
	return parseDuration(h.HandshakeTimeout)
}

// WriteDuration returns host.write_timeout.
func (h HostConfig) WriteDuration() time.Duration {
	return parseDuration(h.WriteTimeout)
}

// ConnectDuration returns sockets.connect_timeout.
func (s SocketsConfig) ConnectDuration() time.Duration {
	return parseDuration(s.ConnectTimeout)
}

// KeepAliveDuration returns sockets.keep_alive.
func (s SocketsConfig) KeepAliveDuration() time.Duration {
	return parseDuration(s.KeepAlive)
}

func parseDuration(value string) time.Duration {
	duration, _ := time.ParseDuration(value)
	return duration
}

// SlogLevel converts logging.level to a slog.Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level must be one of: [debug info warn error], got %q", l.Level)
	}
}
