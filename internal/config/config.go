// ABOUTME: Configuration loading and parsing for anp-bridge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthMode selects the credential resolution strategy.
type AuthMode string

// Supported auth modes
const (
	AuthModeNone   AuthMode = "none"   // static default credential, no access control
	AuthModeToken  AuthMode = "token"  // fixed-token match
	AuthModeRemote AuthMode = "remote" // remote verification endpoint
)

// Config represents the complete anp-bridge configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Session SessionConfig `yaml:"session"`
	DID     DIDConfig     `yaml:"did"`
	ANP     ANPConfig     `yaml:"anp"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig holds credential resolution configuration
type AuthConfig struct {
	Mode         AuthMode `yaml:"mode"`
	Token        string   `yaml:"token"`
	VerifyURL    string   `yaml:"verify_url"`
	APIKeyHeader string   `yaml:"api_key_header"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// SessionConfig holds session lifetime configuration
type SessionConfig struct {
	Timeout         time.Duration `yaml:"-"`
	CleanupInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw         string `yaml:"timeout"`
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
}

// DIDConfig holds the default DID credential used when the resolver does not
// supply a per-client one
type DIDConfig struct {
	DocumentPath   string `yaml:"document_path"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// ANPConfig holds outbound ANP client configuration
type ANPConfig struct {
	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration populated with the stock defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 9880},
		Auth: AuthConfig{
			Mode:         AuthModeNone,
			APIKeyHeader: "X-API-Key",
			Timeout:      15 * time.Second,
		},
		Session: SessionConfig{
			Timeout:         30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		ANP:     ANPConfig{RequestTimeout: 30 * time.Second},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
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

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	switch c.Auth.Mode {
	case AuthModeNone:
	case AuthModeToken:
		if c.Auth.Token == "" {
			return fmt.Errorf("auth.token is required when auth.mode is %q", AuthModeToken)
		}
	case AuthModeRemote:
		if c.Auth.VerifyURL == "" {
			return fmt.Errorf("auth.verify_url is required when auth.mode is %q", AuthModeRemote)
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}

	// Modes other than remote resolve to the local default credential, so it
	// must be configured.
	if c.Auth.Mode != AuthModeRemote {
		if c.DID.DocumentPath == "" {
			return fmt.Errorf("did.document_path is required when auth.mode is %q", c.Auth.Mode)
		}
		if c.DID.PrivateKeyPath == "" {
			return fmt.Errorf("did.private_key_path is required when auth.mode is %q", c.Auth.Mode)
		}
	}

	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive")
	}
	if c.Session.CleanupInterval <= 0 {
		return fmt.Errorf("session.cleanup_interval must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Session.TimeoutRaw != "" {
		cfg.Session.Timeout, err = time.ParseDuration(cfg.Session.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing session.timeout %q: %w", cfg.Session.TimeoutRaw, err)
		}
	}

	if cfg.Session.CleanupIntervalRaw != "" {
		cfg.Session.CleanupInterval, err = time.ParseDuration(cfg.Session.CleanupIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing session.cleanup_interval %q: %w", cfg.Session.CleanupIntervalRaw, err)
		}
	}

	if cfg.Auth.TimeoutRaw != "" {
		cfg.Auth.Timeout, err = time.ParseDuration(cfg.Auth.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.timeout %q: %w", cfg.Auth.TimeoutRaw, err)
		}
	}

	if cfg.ANP.RequestTimeoutRaw != "" {
		cfg.ANP.RequestTimeout, err = time.ParseDuration(cfg.ANP.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing anp.request_timeout %q: %w", cfg.ANP.RequestTimeoutRaw, err)
		}
	}

	return nil
}
