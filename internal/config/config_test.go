package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_AUTH_USER", "llama")
	t.Setenv("POSTGRES_AUTH_PASSWORD", "secret")
	t.Setenv("POSTGRES_AUTH_DB", "llama")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "http://127.0.0.1:8002", cfg.BackendURL)
	assert.Empty(t, cfg.BackendAPIKey)
	assert.Equal(t, 60, cfg.RateLimit)
	assert.Equal(t, 60, cfg.RateWindowSeconds)
	assert.Equal(t, "ledger", cfg.RateLimitBackend)
	assert.False(t, cfg.AccountModelsList)
	assert.Equal(t, "llama_users", cfg.UsersTable)
	assert.Equal(t, "llama_requests", cfg.RequestsTable)
	assert.Equal(t, time.Minute, cfg.RateWindow())
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LLAMA_SERVER_BACKEND_URL", "http://gpu-node:9000")
	t.Setenv("LLAMA_SERVER_API_KEY", "backend-secret")
	t.Setenv("LLAMA_PROXY_RATE_LIMIT", "5")
	t.Setenv("LLAMA_PROXY_RATE_WINDOW_SECONDS", "10")
	t.Setenv("LLAMA_PROXY_RATE_LIMIT_BACKEND", "memory")
	t.Setenv("LLAMA_PROXY_ACCOUNT_MODELS_LIST", "true")
	t.Setenv("LLAMA_SERVER_USERS_TABLE", "custom_users")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-node:9000", cfg.BackendURL)
	assert.Equal(t, "backend-secret", cfg.BackendAPIKey)
	assert.Equal(t, 5, cfg.RateLimit)
	assert.Equal(t, 10*time.Second, cfg.RateWindow())
	assert.Equal(t, "memory", cfg.RateLimitBackend)
	assert.True(t, cfg.AccountModelsList)
	assert.Equal(t, "custom_users", cfg.UsersTable)
}

func TestLoadMissingDatabaseConfig(t *testing.T) {
	t.Setenv("POSTGRES_AUTH_USER", "llama")
	t.Setenv("POSTGRES_AUTH_PASSWORD", "")
	t.Setenv("POSTGRES_AUTH_DB", "llama")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadInvalidRateLimitBackend(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LLAMA_PROXY_RATE_LIMIT_BACKEND", "dynamo")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	dbCfg := DatabaseConfig{
		User:     "llama",
		Password: "secret",
		Name:     "llamadb",
		Host:     "db.internal",
		Port:     "5433",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5433 dbname=llamadb user=llama password=secret sslmode=require",
		dbCfg.DSN())
}
