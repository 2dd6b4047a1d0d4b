package mssql

import (
	"fmt"
	"net/url"

	"github.com/metriq-io/semantic-engine/pkg/config"
	"github.com/metriq-io/semantic-engine/pkg/jsonutil"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int // seconds
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromMap creates a Config from a decrypted connection config map.
func FromMap(raw map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}

	if host, ok := jsonutil.StringValue(raw["host"]); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok := jsonutil.IntValue(raw["port"]); ok {
		cfg.Port = port
	}

	if database, ok := jsonutil.StringValue(raw["database"]); ok && database != "" {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	if user, ok := jsonutil.StringValue(raw["user"]); ok && user != "" {
		cfg.Username = user
	} else if username, ok := jsonutil.StringValue(raw["username"]); ok && username != "" {
		cfg.Username = username
	} else {
		return nil, fmt.Errorf("user is required")
	}

	// Password can be empty for some local setups.
	if password, ok := jsonutil.StringValue(raw["password"]); ok {
		cfg.Password = password
	}

	if encrypt, ok := raw["encrypt"].(string); ok {
		// "strict" is a TDS 8.0 value that still means encrypted
		cfg.Encrypt = encrypt == "true" || encrypt == "strict"
	} else if encrypt, ok := jsonutil.BoolValue(raw["encrypt"]); ok {
		cfg.Encrypt = encrypt
	}

	if trust, ok := jsonutil.BoolValue(raw["trust_server_certificate"]); ok {
		cfg.TrustServerCertificate = trust
	}

	if timeout, ok := jsonutil.IntValue(raw["connection_timeout"]); ok {
		cfg.ConnectionTimeout = timeout
	}

	return cfg, nil
}

// Validate checks that the config has everything needed to connect.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("user is required")
	}
	return nil
}

// ConnString renders the config as a sqlserver URL with escaped credentials.
// When running in Docker, localhost is resolved to host.docker.internal so
// warehouses on the host machine stay reachable.
func (c *Config) ConnString() string {
	query := url.Values{}
	query.Add("database", c.Database)

	if c.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}

	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}

	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", c.ConnectionTimeout))
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(c.Username),
		url.QueryEscape(c.Password),
		config.ResolveHostForDocker(c.Host),
		c.Port,
		query.Encode(),
	)
}
