package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.yaml present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./splitpulse.db", cfg.DB)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Server.RateLimitRPS)
	assert.Equal(t, 100, cfg.Server.RateLimitBurst)
	assert.Equal(t, 10, cfg.Sink.TimeoutSecs)
	assert.Equal(t, 60, cfg.Vitals.DigestIntervalSecs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SPLITPULSE_SERVER_PORT", "9090")
	t.Setenv("SPLITPULSE_DB", "/var/lib/splitpulse.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/splitpulse.db", cfg.DB)
}
