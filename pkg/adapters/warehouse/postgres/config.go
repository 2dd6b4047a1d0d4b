package postgres

import (
	"fmt"
	"net/url"

	"github.com/metriq-io/semantic-engine/pkg/config"
	"github.com/metriq-io/semantic-engine/pkg/jsonutil"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromMap creates a Config from a decrypted connection config map.
func FromMap(raw map[string]any) (*Config, error) {
	cfg := &Config{
		Port:    DefaultPort(),
		SSLMode: DefaultSSLMode(),
	}

	if host, ok := jsonutil.StringValue(raw["host"]); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok := jsonutil.IntValue(raw["port"]); ok {
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("port must be between 1 and 65535, got %d", port)
		}
		cfg.Port = port
	}

	if user, ok := jsonutil.StringValue(raw["user"]); ok && user != "" {
		cfg.User = user
	} else {
		return nil, fmt.Errorf("user is required")
	}

	if password, ok := jsonutil.StringValue(raw["password"]); ok {
		cfg.Password = password
	}

	if database, ok := jsonutil.StringValue(raw["database"]); ok && database != "" {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	if sslMode, ok := jsonutil.StringValue(raw["ssl_mode"]); ok && sslMode != "" {
		cfg.SSLMode = sslMode
	}

	return cfg, nil
}

// ConnString renders the config as a PostgreSQL URL. All user-provided
// fields are URL-escaped so special characters in passwords (@, /, #, ?)
// cannot break URL parsing. When running in Docker, localhost is resolved
// to host.docker.internal so warehouses on the host machine stay reachable.
func (c *Config) ConnString() string {
	host := config.ResolveHostForDocker(c.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		host,
		c.Port,
		url.QueryEscape(c.Database),
		c.SSLMode,
	)
}
