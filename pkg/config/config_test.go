package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.SQLite.Path)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)

	require.NoError(t, cfg.Validate())
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  listen: ":9090"
  cors_origins:
    - https://dashboard.example.com
  rate_limit:
    enabled: true
    ingest:
      requests_per_minute: 120
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 5433
    user: pipewatch
    password: secret
    database: runs
    ssl_mode: require
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t,
		[]string{"https://dashboard.example.com"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 120, cfg.Server.RateLimit.Ingest.RequestsPerMinute)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 5433, cfg.Database.Postgres.Port)
	assert.Equal(t, "require", cfg.Database.Postgres.SSLMode)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PIPEWATCH_SERVER_LISTEN", ":7070")
	t.Setenv("PIPEWATCH_DATABASE_SQLITE_PATH", "/tmp/override.db")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.Equal(t, "/tmp/override.db", cfg.Database.SQLite.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing listen",
			mutate:  func(c *Config) { c.Server.Listen = "" },
			wantErr: "server.listen",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Database.SQLite.Path = "" },
			wantErr: "database.sqlite.path",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.Postgres.Database = "runs"
			},
			wantErr: "database.postgres.host",
		},
		{
			name: "postgres without database",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.Postgres.Host = "db.internal"
			},
			wantErr: "database.postgres.database",
		},
		{
			name: "rate limit enabled without budget",
			mutate: func(c *Config) {
				c.Server.RateLimit.Enabled = true
				c.Server.RateLimit.Ingest.RequestsPerMinute = 0
			},
			wantErr: "requests_per_minute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
