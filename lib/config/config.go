// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/huddle-dev/huddle/lib/codec"
	"github.com/huddle-dev/huddle/lib/ref"
)

// EnvVar names the environment variable that points at the config file.
const EnvVar = "HUDDLE_CONFIG"

// Environment is the deployment type.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete Huddle configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths    PathsConfig    `yaml:"paths"`
	Identity IdentityConfig `yaml:"identity"`
	Bus      BusConfig      `yaml:"bus"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Per-environment override sections. Kept as raw nodes and decoded
	// over the base config, so only keys present in a section override.
	DevelopmentOverrides yaml.Node `yaml:"development,omitempty"`
	ProductionOverrides  yaml.Node `yaml:"production,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Huddle's local state.
	Root string `yaml:"root"`

	// Workspaces holds one directory per project, where the local
	// sandbox materializes file trees and runs commands.
	Workspaces string `yaml:"workspaces"`

	// Logs receives log files from commands that own the terminal.
	Logs string `yaml:"logs"`
}

// IdentityConfig names the current user and where their credential lives.
type IdentityConfig struct {
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`

	// TokenFile holds the bearer token, plaintext or age-encrypted.
	TokenFile string `yaml:"token_file"`

	// AgeIdentityFile decrypts TokenFile when it is age-encrypted.
	AgeIdentityFile string `yaml:"age_identity_file"`
}

// BusConfig selects the message bus transport.
type BusConfig struct {
	// Endpoint is tcp://host:port or unix:///path for the relay,
	// matrix+https://homeserver for a Matrix bus, or memory:// for an
	// in-process hub.
	Endpoint string `yaml:"endpoint"`

	// Compression for relay frames: none, lz4, or zstd.
	Compression string `yaml:"compression"`

	// MatrixAssistant is the Matrix user ID the AI participant posts
	// as on a Matrix bus.
	MatrixAssistant string `yaml:"matrix_assistant"`
}

// GatewayConfig locates the persistence gateway.
type GatewayConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SandboxConfig configures the local execution sandbox.
type SandboxConfig struct {
	// Bwrap controls bubblewrap confinement: auto (use it when the
	// binary is on PATH), always, or never.
	Bwrap string `yaml:"bwrap"`

	// Install runs to completion before Start on every run.
	Install []string `yaml:"install"`

	// Start is the long-running server command.
	Start []string `yaml:"start"`

	// ReadyTimeout bounds how long a client waits for the started
	// server to report a listening URL.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// RelayConfig configures the huddle-relay daemon.
type RelayConfig struct {
	Listen           string          `yaml:"listen"`
	TokensFile       string          `yaml:"tokens_file"`
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
	QueueDepth       int             `yaml:"queue_depth"`
	Assistant        AssistantConfig `yaml:"assistant"`
}

// AssistantConfig configures the AI participant. An empty Provider
// disables it.
type AssistantConfig struct {
	// Provider is "anthropic" or "openai" (any OpenAI-compatible API).
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in the config file.
	APIKeyEnv string `yaml:"api_key_env"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
}

// Default returns the baseline configuration the file is decoded over.
func Default() *Config {
	homeDirectory, _ := os.UserHomeDir()
	root := filepath.Join(homeDirectory, ".local", "share", "huddle")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       root,
			Workspaces: "${HUDDLE_ROOT}/workspaces",
			Logs:       "${HUDDLE_ROOT}/logs",
		},
		Bus: BusConfig{
			Endpoint:    "tcp://127.0.0.1:7460",
			Compression: "zstd",
		},
		Gateway: GatewayConfig{
			URL:     "http://127.0.0.1:8080",
			Timeout: 30 * time.Second,
		},
		Sandbox: SandboxConfig{
			Bwrap:        "auto",
			Install:      []string{"npm", "install"},
			Start:        []string{"npm", "start"},
			ReadyTimeout: 2 * time.Minute,
		},
		Relay: RelayConfig{
			Listen:           "tcp://127.0.0.1:7460",
			HandshakeTimeout: 10 * time.Second,
			QueueDepth:       256,
			Assistant: AssistantConfig{
				MaxTokens: 4096,
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load loads the file named by HUDDLE_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your huddle.yaml config file, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, applies the override section
// for the configured environment, and expands path variables. It does
// not validate; call Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes configuration bytes. The extension selects the format:
// ".json" and ".jsonc" are JSON with comments, anything else is YAML.
func Parse(data []byte, extension string) (*Config, error) {
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		// Plain JSON is valid YAML, so once comments and trailing
		// commas are stripped both formats share one decoder.
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() error {
	var overrides *yaml.Node
	switch c.Environment {
	case Development:
		overrides = &c.DevelopmentOverrides
	case Production:
		overrides = &c.ProductionOverrides
	}
	if overrides == nil || overrides.Kind == 0 {
		return nil
	}
	environment := c.Environment
	if err := overrides.Decode(c); err != nil {
		return fmt.Errorf("applying %s overrides: %w", environment, err)
	}
	// An override section cannot switch environments.
	c.Environment = environment
	return nil
}

var variablePattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func (c *Config) expandVariables() {
	variables := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.Root = expandVariables(c.Paths.Root, variables)
	variables["HUDDLE_ROOT"] = c.Paths.Root

	for _, field := range []*string{
		&c.Paths.Workspaces,
		&c.Paths.Logs,
		&c.Identity.TokenFile,
		&c.Identity.AgeIdentityFile,
		&c.Relay.TokensFile,
	} {
		*field = expandVariables(*field, variables)
	}
}

// expandVariables replaces ${NAME} and ${NAME:-default}. Known variables
// take precedence over the process environment.
func expandVariables(value string, variables map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := variablePattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if known, ok := variables[name]; ok && known != "" {
			return known
		}
		if fromEnvironment := os.Getenv(name); fromEnvironment != "" {
			return fromEnvironment
		}
		return fallback
	})
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Workspaces == "" {
		errs = append(errs, fmt.Errorf("paths.workspaces is required"))
	}

	if c.Identity.UserID != "" {
		if _, err := ref.ParseUserID(c.Identity.UserID); err != nil {
			errs = append(errs, fmt.Errorf("identity.user_id: %w", err))
		}
	}

	if c.Bus.Endpoint == "" {
		errs = append(errs, fmt.Errorf("bus.endpoint is required"))
	} else if _, err := url.Parse(c.Bus.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("bus.endpoint: %w", err))
	}
	if _, err := codec.ParseCompression(c.Bus.Compression); err != nil {
		errs = append(errs, fmt.Errorf("bus.compression: %w", err))
	}

	if c.Gateway.URL == "" {
		errs = append(errs, fmt.Errorf("gateway.url is required"))
	} else if parsed, err := url.Parse(c.Gateway.URL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		errs = append(errs, fmt.Errorf("gateway.url must be an http or https URL: %q", c.Gateway.URL))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout must be positive"))
	}

	switch c.Sandbox.Bwrap {
	case "auto", "always", "never":
	default:
		errs = append(errs, fmt.Errorf("sandbox.bwrap must be one of auto, always, never: %q", c.Sandbox.Bwrap))
	}
	if len(c.Sandbox.Start) == 0 {
		errs = append(errs, fmt.Errorf("sandbox.start is required"))
	}
	if c.Sandbox.ReadyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.ready_timeout must be positive"))
	}

	if c.Relay.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("relay.handshake_timeout must be positive"))
	}
	if c.Relay.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("relay.queue_depth must be positive"))
	}
	switch c.Relay.Assistant.Provider {
	case "":
	case "anthropic", "openai":
		if c.Relay.Assistant.Model == "" {
			errs = append(errs, fmt.Errorf("relay.assistant.model is required when a provider is set"))
		}
		if c.Relay.Assistant.APIKeyEnv == "" {
			errs = append(errs, fmt.Errorf("relay.assistant.api_key_env is required when a provider is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("relay.assistant.provider must be anthropic or openai: %q", c.Relay.Assistant.Provider))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// WorkspaceDir returns the workspace directory for a project.
func (c *Config) WorkspaceDir(projectID ref.ProjectID) string {
	return filepath.Join(c.Paths.Workspaces, projectID.String())
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Workspaces, c.Paths.Logs} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
