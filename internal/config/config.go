package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBSource string
	Port     string
	Env      string
	LogLevel string

	SolanaRPCURL string
	DCMint       string
	BurnKeypair  string
	NATSURL      string

	BurnPeriod       time.Duration
	ReconcilePeriod  time.Duration
	MonitorPeriod    time.Duration
	LedgerTimeout    time.Duration
	IterationTimeout time.Duration
	TxExpiry         time.Duration

	BatchConfig uint64
	// DevBalance credits every directory payer when no cluster is configured.
	DevBalance uint64
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:     dbSource,
		Port:         getenv("SERVER_PORT", "8080"),
		Env:          getenv("ENVIRONMENT", "development"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		SolanaRPCURL: os.Getenv("SOLANA_RPC_URL"),
		DCMint:       os.Getenv("DC_MINT"),
		BurnKeypair:  os.Getenv("BURN_KEYPAIR"),
		NATSURL:      os.Getenv("NATS_URL"),
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"BURN_PERIOD", time.Minute, &cfg.BurnPeriod},
		{"RECONCILE_PERIOD", 30 * time.Second, &cfg.ReconcilePeriod},
		{"MONITOR_PERIOD", 5 * time.Minute, &cfg.MonitorPeriod},
		{"LEDGER_TIMEOUT", 10 * time.Second, &cfg.LedgerTimeout},
		{"ITERATION_TIMEOUT", 2 * time.Minute, &cfg.IterationTimeout},
		{"TX_EXPIRY", 10 * time.Minute, &cfg.TxExpiry},
	}
	for _, d := range durations {
		v, err := durationEnv(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	batchConfig, err := strconv.ParseUint(getenv("BATCH_CONFIG", "1"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("BATCH_CONFIG: %w", err)
	}
	cfg.BatchConfig = batchConfig

	devBalance, err := strconv.ParseUint(getenv("DEV_BALANCE", "100000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("DEV_BALANCE: %w", err)
	}
	cfg.DevBalance = devBalance

	if !cfg.IsDevelopment() {
		if cfg.SolanaRPCURL == "" {
			return nil, fmt.Errorf("SOLANA_RPC_URL environment variable is required in %s", cfg.Env)
		}
		if cfg.DCMint == "" || cfg.BurnKeypair == "" {
			return nil, fmt.Errorf("DC_MINT and BURN_KEYPAIR are required with SOLANA_RPC_URL")
		}
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}
