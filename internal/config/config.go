// ABOUTME: Configuration loading and parsing for octogate
// ABOUTME: Supports YAML files with environment variable expansion and validation

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultProtocolVersion is the MCP protocol version the gateway speaks.
// Clients must send exactly this version during initialize.
const DefaultProtocolVersion = "2025-06-18"

// DefaultAPIBase is the GitHub REST API base URL.
const DefaultAPIBase = "https://api.github.com"

// Config represents the complete octogate configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	GitHub   GitHubConfig   `yaml:"github"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Auth     AuthConfig     `yaml:"auth"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// GitHubConfig holds upstream GitHub API configuration
type GitHubConfig struct {
	Token   string `yaml:"token"`
	APIBase string `yaml:"api_base"`
}

// ProtocolConfig holds MCP protocol configuration
type ProtocolConfig struct {
	Version string `yaml:"version"`
}

// AuthConfig holds authentication configuration.
// When RequireScopes is set, tools/call enforces each tool's required
// scopes against the scopes granted to the session at initialize.
type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret"`
	RequireScopes bool     `yaml:"require_scopes"`
	DefaultScopes []string `yaml:"default_scopes"`
}

// LedgerConfig holds the optional SQLite activity ledger configuration.
// An empty path disables the ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for fields the file may omit
func (c *Config) applyDefaults() {
	if c.Protocol.Version == "" {
		c.Protocol.Version = DefaultProtocolVersion
	}
	if c.GitHub.APIBase == "" {
		c.GitHub.APIBase = DefaultAPIBase
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.GitHub.Token == "" {
		return fmt.Errorf("github.token is required")
	}

	if c.Auth.RequireScopes && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.require_scopes is enabled")
	}

	return nil
}
