package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":9090")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":9090")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load([]string{"-a", ":7070", "--store", "postgres", "-d", "postgres://x", "--seed", "basic"})
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://x", cfg.Store.DatabaseDSN)
	assert.Equal(t, "basic", cfg.SeedScenario)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown driver", []string{"--store", "mongo"}},
		{"postgres without dsn", []string{"--store", "postgres"}},
		{"bad duration", []string{"--token-ttl", "soon"}},
		{"negative interval", []string{"--inventory-interval=-1m"}},
		{"unknown flag", []string{"--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestIsProduction(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.IsProduction())
	cfg.Server.AppEnv = "Production"
	assert.True(t, cfg.IsProduction())
}
