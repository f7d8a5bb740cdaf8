package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "fees.db", cfg.DBPath)
	assert.Equal(t, time.Hour, cfg.ReconcileInterval)
	assert.Equal(t, "USD", cfg.Currency)
}

func TestParseConfig_EnvironmentFillsUnsetFlags(t *testing.T) {
	// GIVEN: Environment values for port and interval
	// WHEN: The port is also given as a flag
	// THEN: The flag wins for port; the environment supplies the interval
	t.Setenv("FEE_ENGINE_PORT", "9000")
	t.Setenv("FEE_ENGINE_RECONCILE_INTERVAL", "5m")

	cfg, err := parseConfig([]string{"--port", "7000", "--db", ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, ":memory:", cfg.DBPath)
}

func TestParseConfig_InvalidEnvironment(t *testing.T) {
	t.Setenv("FEE_ENGINE_PORT", "eighty")

	_, err := parseConfig(nil)
	assert.ErrorContains(t, err, "FEE_ENGINE_PORT")
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = parseLevel("chatty")
	assert.Error(t, err)
}
