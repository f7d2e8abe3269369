package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: "+testSecret+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9080, cfg.Server.Port)
	assert.False(t, cfg.Server.IsProduction())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.IsEmbedded())
	assert.Equal(t, "filesystem", cfg.Storage.Backend)
	assert.Equal(t, "/images", cfg.Storage.BaseURL)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.Auth.OTPTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.RestoreWindow)
	assert.Equal(t, "log", cfg.Mail.Driver)
	assert.Equal(t, 10, cfg.RateLimit.LoginAttempts)
	assert.True(t, cfg.Sweeper.Enabled)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8088
  environment: production
auth:
  jwt_secret: `+testSecret+`
  token_ttl: 2h
database:
  driver: postgres
  host: db.internal
  user: blog
  database: blog
  ssl_mode: disable
rate_limit:
  window: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.True(t, cfg.Server.IsProduction())
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "host=db.internal port=5432 user=blog password= dbname=blog sslmode=disable", cfg.Database.DSN())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: "+testSecret+"\nserver:\n  port: 8088\n")
	t.Setenv("QUILL_SERVER_PORT", "7000")
	t.Setenv("QUILL_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(writeConfig(t, "auth:\n  jwt_secret: short\n"))
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestValidate(t *testing.T) {
	base, err := Load(writeConfig(t, "auth:\n  jwt_secret: "+testSecret+"\n"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without host", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.Host = ""
		}, "database.host"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }, "storage.s3.bucket"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, "storage.backend"},
		{"bcrypt cost", func(c *Config) { c.Auth.BcryptCost = 3 }, "bcrypt_cost"},
		{"token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "token_ttl"},
		{"smtp without host", func(c *Config) {
			c.Mail.Driver = "smtp"
			c.Mail.Host = ""
		}, "mail.host"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	assert.NoError(t, base.Validate())
}
