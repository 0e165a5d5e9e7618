package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ledger-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (signing keys, passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3460"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Capture pipeline configuration
	Capture CaptureConfig `yaml:"capture"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// SigningKey is the HMAC key service tokens are signed with.
	SigningKey string `yaml:"-" env:"AUTH_SIGNING_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ledger"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ledger_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"2"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// CaptureConfig holds the capture pipeline's settings, including the
// per-entity-type audit registry.
type CaptureConfig struct {
	// LockTimeoutMS bounds how long a writer waits for an entity's version
	// lock before the whole capture fails as retryable.
	LockTimeoutMS int `yaml:"lock_timeout_ms" env:"CAPTURE_LOCK_TIMEOUT_MS" env-default:"3000"`

	// DefaultPerPage is the page size for ledger listings when the caller
	// does not specify one.
	DefaultPerPage int `yaml:"default_per_page" env:"CAPTURE_DEFAULT_PER_PAGE" env-default:"50"`

	// EntityTypes declares which entity types are audited and how. A type
	// absent from this registry produces no ledger entries at all.
	EntityTypes map[string]EntityTypeConfig `yaml:"entity_types"`
}

// EntityTypeConfig declares how one entity type participates in auditing.
type EntityTypeConfig struct {
	// TrackedFields is the type's persisted attribute set. Hashed into the
	// schema signature stored on every entry for that type.
	TrackedFields []string `yaml:"tracked_fields"`

	// ExcludedFields never appear in snapshots or diffs. Housekeeping
	// timestamps are excluded by default even when this list is empty.
	ExcludedFields []string `yaml:"excluded_fields"`

	// CapturedEvents limits which lifecycle events are recorded.
	// Empty means all of create, update, delete.
	CapturedEvents []string `yaml:"captured_events"`

	// RollbackEnabled gates whether entries for this type may be rolled back.
	RollbackEnabled bool `yaml:"rollback_enabled"`

	// RollbackFields limits which attributes a rollback restores.
	// Empty means all tracked fields.
	RollbackFields []string `yaml:"rollback_fields"`
}

// LockTimeout returns the configured lock timeout as a duration.
func (c *CaptureConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if cfg.Auth.EnableVerification && cfg.Auth.SigningKey == "" {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be set when auth verification is enabled")
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
