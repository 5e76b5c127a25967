package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionLifetime)
	assert.Equal(t, int64(16*1024*1024), cfg.MaxContentLength)
	assert.Equal(t, 10, cfg.ItemsPerPage)
	assert.Equal(t, 60, cfg.RateLimit.PerMinute)
	assert.Equal(t, "ledger", cfg.AMQP.Exchange)
	assert.Equal(t, devSecretKey, cfg.SecretKey)
	assert.Empty(t, cfg.LogFile.Path)
	assert.Equal(t, 10, cfg.LogFile.MaxSizeMB)
	assert.NoError(t, cfg.Validate())
}

func TestParseFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ITEMS_PER_PAGE", "25")
	t.Setenv("SESSION_LIFETIME", "2h")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1,10.0.0.2")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOG_FILE", "/var/log/ledger/app.log")
	t.Setenv("LOG_FILE_BACKUPS", "3")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, 25, cfg.ItemsPerPage)
	assert.Equal(t, 2*time.Hour, cfg.SessionLifetime)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.RateLimit.TrustedProxies)
	assert.Equal(t, "localhost:6379", cfg.RateLimit.RedisAddr)
	assert.Equal(t, "/var/log/ledger/app.log", cfg.LogFile.Path)
	assert.Equal(t, 3, cfg.LogFile.MaxBackups)
}

func TestParseRejectsMalformedValue(t *testing.T) {
	t.Setenv("ITEMS_PER_PAGE", "many")
	_, err := Parse()
	assert.Error(t, err)
}

func TestProductionRequiresSecretKey(t *testing.T) {
	t.Setenv("APP_ENV", EnvProduction)
	t.Setenv("SECRET_KEY", "")

	cfg, err := Parse()
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SECRET_KEY")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Env:              "staging",
		Port:             "99999",
		SecretKey:        "k",
		SessionLifetime:  time.Hour,
		TokenTTL:         time.Hour,
		MaxContentLength: 1,
		ItemsPerPage:     0,
		Admin:            Admin{Username: "admin"},
		LogFile:          LogFile{Path: "app.log"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"APP_ENV", "PORT", "DB_PATH", "ITEMS_PER_PAGE", "ADMIN_PASSWORD", "LOG_FILE_MAX_MB"} {
		assert.Contains(t, err.Error(), want)
	}
}
