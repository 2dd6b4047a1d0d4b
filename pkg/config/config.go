package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the semantic engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Engine store configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Warehouse connection management configuration
	Warehouse WarehouseConfig `yaml:"warehouse"`

	// Preview execution configuration
	Preview PreviewConfig `yaml:"preview"`

	// Credential encryption key for warehouse connection configs at rest.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL engine store configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"metriq"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"semantic_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// WarehouseConfig holds warehouse connection pool settings.
type WarehouseConfig struct {
	// ConnectionTTLMinutes is how long idle warehouse connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"WAREHOUSE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxPools limits the number of concurrently cached warehouse pools.
	MaxPools int `yaml:"max_pools" env:"WAREHOUSE_MAX_POOLS" env-default:"50"`
	// PoolMaxConns is the maximum number of connections per warehouse pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"WAREHOUSE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per warehouse pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"WAREHOUSE_POOL_MIN_CONNS" env-default:"1"`
}

// PreviewConfig holds preview execution settings.
type PreviewConfig struct {
	// DefaultLimit is the row bound applied when a preview request omits one.
	DefaultLimit int `yaml:"default_limit" env:"PREVIEW_DEFAULT_LIMIT" env-default:"100"`
	// TimeoutSeconds bounds a single preview execution against the warehouse.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"PREVIEW_TIMEOUT_SECONDS" env-default:"30"`
	// CacheSize caps the number of compiled statements kept in memory.
	CacheSize int `yaml:"cache_size" env:"PREVIEW_CACHE_SIZE" env-default:"256"`
}

// Timeout returns the preview execution timeout as a duration.
func (p *PreviewConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD,
// CREDENTIALS_KEY) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	// Validate TLS configuration
	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// If both provided, verify files exist (actual readability checked by tls.LoadX509KeyPair at startup)
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
