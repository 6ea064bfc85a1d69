// ABOUTME: Configuration loading and parsing for courierd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete courierd configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Directory DirectoryConfig `yaml:"directory"`
	Messaging MessagingConfig `yaml:"messaging"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds identity token verification configuration.
// The secret is shared with the external auth service that signs tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DirectoryConfig holds user directory configuration
type DirectoryConfig struct {
	// SeedFile optionally points at a YAML file of users loaded at startup,
	// for development environments without an auth service pushing users in
	SeedFile string `yaml:"seed_file"`
}

// MessagingConfig holds messaging-core tuning
type MessagingConfig struct {
	SendDedupeTTL     time.Duration `yaml:"-"`
	SendDedupeMaxSize int           `yaml:"send_dedupe_max_size"`
	HistoryPageSize   int           `yaml:"history_page_size"`

	// Raw string value for YAML unmarshaling
	SendDedupeTTLRaw string `yaml:"send_dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// ${VAR_NAME:-default} falls back to default when the variable is unset or empty.
// A plain ${VAR_NAME} that is not set is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} and ${VAR_NAME:-default} patterns
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		expr := re.FindStringSubmatch(match)[1]
		name, fallback, hasFallback := strings.Cut(expr, ":-")
		value := os.Getenv(name)
		if value == "" && hasFallback {
			return fallback
		}
		return value
	})
}

// applyDefaults fills optional fields that were left unset
func (c *Config) applyDefaults() {
	if c.Messaging.SendDedupeTTL == 0 {
		c.Messaging.SendDedupeTTL = 10 * time.Minute
	}
	if c.Messaging.SendDedupeMaxSize == 0 {
		c.Messaging.SendDedupeMaxSize = 10000
	}
	if c.Messaging.HistoryPageSize == 0 {
		c.Messaging.HistoryPageSize = 50
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

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Messaging.SendDedupeTTLRaw != "" {
		cfg.Messaging.SendDedupeTTL, err = time.ParseDuration(cfg.Messaging.SendDedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing send_dedupe_ttl %q: %w", cfg.Messaging.SendDedupeTTLRaw, err)
		}
	}

	return nil
}
