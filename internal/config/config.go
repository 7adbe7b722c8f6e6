// ABOUTME: Configuration loading and parsing for nursery-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Deployment modes.
const (
	ModeSelfHosted = "self-hosted"
	ModeSaaS       = "saas"
)

// minSecretLength matches auth.MinSecretLength. It is repeated here so config
// stays free of internal imports.
const minSecretLength = 32

// Config represents the complete nursery-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Deployment DeploymentConfig `yaml:"deployment" toml:"deployment"`
	Secrets    SecretsConfig    `yaml:"secrets" toml:"secrets"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr   string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr   string `yaml:"grpc_addr,omitempty" toml:"grpc_addr,omitempty"` // optional
	TrustProxy bool   `yaml:"trust_proxy" toml:"trust_proxy"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (pure Go) or "sqlite3" (cgo)
	Path   string `yaml:"path" toml:"path"`
}

// AuthConfig holds token, session cookie and login throttling settings.
type AuthConfig struct {
	JWTSecret        string  `yaml:"jwt_secret" toml:"jwt_secret"`
	CookieName       string  `yaml:"cookie_name" toml:"cookie_name"`
	LockoutThreshold int     `yaml:"lockout_threshold" toml:"lockout_threshold"`
	LoginRate        float64 `yaml:"login_rate" toml:"login_rate"` // requests per second per client
	LoginBurst       int     `yaml:"login_burst" toml:"login_burst"`

	TokenLifetime           time.Duration `yaml:"-" toml:"-"`
	LockoutDuration         time.Duration `yaml:"-" toml:"-"`
	RevocationSweepInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TokenLifetimeRaw           string `yaml:"token_lifetime" toml:"token_lifetime"`
	LockoutDurationRaw         string `yaml:"lockout_duration" toml:"lockout_duration"`
	RevocationSweepIntervalRaw string `yaml:"revocation_sweep_interval" toml:"revocation_sweep_interval"`
}

// DeploymentConfig selects self-hosted or multi-tenant behaviour.
type DeploymentConfig struct {
	Mode string `yaml:"mode" toml:"mode"`
}

// MultiTenant reports whether subscription entitlement is enforced.
func (d DeploymentConfig) MultiTenant() bool {
	return d.Mode == ModeSaaS
}

// SecretsConfig holds the key material for values encrypted at rest.
type SecretsConfig struct {
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration with every optional field filled in.
// Secrets are left empty.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:           "localhost:8080",
			ShutdownTimeoutRaw: "10s",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "nursery.db",
		},
		Auth: AuthConfig{
			CookieName:                 "nursery_session",
			LockoutThreshold:           3,
			LoginRate:                  1,
			LoginBurst:                 5,
			TokenLifetimeRaw:           "168h",
			LockoutDurationRaw:         "5m",
			RevocationSweepIntervalRaw: "1m",
		},
		Deployment: DeploymentConfig{Mode: ModeSelfHosted},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Metrics:    MetricsConfig{Enabled: false, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if isTOML(path) {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Write encodes c to path in the format implied by its extension.
func (c *Config) Write(path string) error {
	var buf bytes.Buffer
	buf.WriteString("# nursery-gateway configuration\n\n")

	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// secrets live in this file
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"sqlite3\", got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.Auth.LockoutThreshold < 1 {
		return fmt.Errorf("auth.lockout_threshold must be at least 1")
	}
	if c.Auth.TokenLifetime <= 0 {
		return fmt.Errorf("auth.token_lifetime must be positive")
	}
	if c.Auth.LockoutDuration <= 0 {
		return fmt.Errorf("auth.lockout_duration must be positive")
	}
	if c.Auth.RevocationSweepInterval <= 0 {
		return fmt.Errorf("auth.revocation_sweep_interval must be positive")
	}
	if c.Auth.LoginRate <= 0 || c.Auth.LoginBurst < 1 {
		return fmt.Errorf("auth.login_rate and auth.login_burst must be positive")
	}

	switch c.Deployment.Mode {
	case ModeSelfHosted, ModeSaaS:
	default:
		return fmt.Errorf("deployment.mode must be %q or %q, got %q", ModeSelfHosted, ModeSaaS, c.Deployment.Mode)
	}

	if len(c.Secrets.EncryptionKey) < minSecretLength {
		return fmt.Errorf("secrets.encryption_key must be at least %d bytes", minSecretLength)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"auth.token_lifetime", cfg.Auth.TokenLifetimeRaw, &cfg.Auth.TokenLifetime},
		{"auth.lockout_duration", cfg.Auth.LockoutDurationRaw, &cfg.Auth.LockoutDuration},
		{"auth.revocation_sweep_interval", cfg.Auth.RevocationSweepIntervalRaw, &cfg.Auth.RevocationSweepInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
