package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDBSource(t *testing.T) {
	t.Setenv("DB_SOURCE", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DB_SOURCE")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/verifier")
	t.Setenv("ENVIRONMENT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.BurnPeriod)
	assert.Equal(t, 30*time.Second, cfg.ReconcilePeriod)
	assert.Equal(t, 5*time.Minute, cfg.MonitorPeriod)
	assert.Equal(t, 10*time.Minute, cfg.TxExpiry)
	assert.Equal(t, uint64(1), cfg.BatchConfig)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/verifier")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("BURN_PERIOD", "90s")
	t.Setenv("BATCH_CONFIG", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.BurnPeriod)
	assert.Equal(t, uint64(3), cfg.BatchConfig)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/verifier")
	t.Setenv("ENVIRONMENT", "")

	t.Setenv("MONITOR_PERIOD", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "MONITOR_PERIOD")

	t.Setenv("MONITOR_PERIOD", "-1m")
	_, err = Load()
	assert.ErrorContains(t, err, "MONITOR_PERIOD")

	t.Setenv("MONITOR_PERIOD", "")
	t.Setenv("BATCH_CONFIG", "one")
	_, err = Load()
	assert.ErrorContains(t, err, "BATCH_CONFIG")
}

func TestLoadProductionNeedsLedger(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/verifier")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SOLANA_RPC_URL", "")

	_, err := Load()
	assert.ErrorContains(t, err, "SOLANA_RPC_URL")

	t.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	t.Setenv("DC_MINT", "dcuc8Amr83Wz27ZkQ2K9NS6r8zRpf1J6cvArEBDZDmm")
	t.Setenv("BURN_KEYPAIR", "/etc/verifier/burn.json")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}
