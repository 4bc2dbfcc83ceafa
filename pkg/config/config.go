// Package config loads and validates the pipewatch configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "./pipewatch.db"

	// envPrefix namespaces environment variable overrides, e.g.
	// PIPEWATCH_SERVER_LISTEN overrides server.listen.
	envPrefix = "PIPEWATCH"
)

// Config is the root configuration for pipewatch.
type Config struct {
	LogLevel string         `yaml:"log_level" mapstructure:"log_level"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Ingest  RateLimitTier `yaml:"ingest,omitempty" mapstructure:"ingest"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// Load reads the configuration file at path, applies PIPEWATCH_* env
// overrides, and fills defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.rate_limit.ingest.requests_per_minute", 600)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf(
			"unsupported database driver: %s", c.Database.Driver,
		)
	}

	if c.Server.RateLimit.Enabled &&
		c.Server.RateLimit.Ingest.RequestsPerMinute <= 0 {
		return fmt.Errorf(
			"server.rate_limit.ingest.requests_per_minute must be positive",
		)
	}

	return nil
}
