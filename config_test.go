package satchel

import (
	"path/filepath"
	"testing"

	"github.com/satchelwallet/satchel/chain"
	"github.com/satchelwallet/satchel/signal"
	"github.com/stretchr/testify/require"
)

// testConfig returns a default config rooted in a temporary directory with
// the log file disabled.
func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.SatchelDir = t.TempDir()
	cfg.LogConfig.File.Disable = true

	return cfg
}

// TestValidateConfig asserts the derived fields of a valid config.
func TestValidateConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network = "signet"
	cfg.EVM.Network = "sepolia"

	cleanCfg, err := ValidateConfig(cfg, signal.Interceptor{})
	require.NoError(t, err)

	require.Equal(t, chain.BitcoinSignet, cleanCfg.ActiveNetwork)
	require.Equal(t, chain.Sepolia, cleanCfg.ActiveEVMNetwork)
	require.Equal(t,
		filepath.Join(cfg.SatchelDir, defaultDataDirname, "signet"),
		cleanCfg.DataDir,
	)
	require.Equal(t,
		filepath.Join(cfg.SatchelDir, defaultLogDirname, "signet"),
		cleanCfg.LogDir,
	)
	require.Equal(t, cfg.Scrypt.N, cleanCfg.ScryptParams().N)
}

// TestValidateConfigErrors asserts every rejected option.
func TestValidateConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{
			name: "unknown bitcoin network",
			mutate: func(cfg *Config) {
				cfg.Network = "simnet"
			},
		},
		{
			name: "evm network of another family",
			mutate: func(cfg *Config) {
				cfg.EVM.Network = "bitcoin"
			},
		},
		{
			name: "scrypt n not a power of two",
			mutate: func(cfg *Config) {
				cfg.Scrypt.N = 1000
			},
		},
		{
			name: "scrypt r zero",
			mutate: func(cfg *Config) {
				cfg.Scrypt.R = 0
			},
		},
		{
			name: "empty popup",
			mutate: func(cfg *Config) {
				cfg.Popup.Width = 0
			},
		},
		{
			name: "no pending approvals",
			mutate: func(cfg *Config) {
				cfg.MaxPendingApprovals = 0
			},
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.ApprovalTimeout = -1
			},
		},
		{
			name: "no retry attempt",
			mutate: func(cfg *Config) {
				cfg.Retry.Attempts = 0
			},
		},
		{
			name: "negative relay rate",
			mutate: func(cfg *Config) {
				cfg.RelayRateLimit = -1
			},
		},
		{
			name: "chain check without interval",
			mutate: func(cfg *Config) {
				cfg.HealthChecks.ChainCheck.Interval = 0
			},
		},
		{
			name: "no esplora url",
			mutate: func(cfg *Config) {
				cfg.Esplora.URL = ""
			},
		},
		{
			name: "prometheus without listener",
			mutate: func(cfg *Config) {
				cfg.Prometheus.Enable = true
				cfg.Prometheus.Listen = ""
			},
		},
		{
			name: "unknown log compressor",
			mutate: func(cfg *Config) {
				cfg.LogConfig.File.Disable = false
				cfg.LogConfig.File.Compressor = "lzma"
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig(t)
			test.mutate(&cfg)

			_, err := ValidateConfig(cfg, signal.Interceptor{})
			require.Error(t, err)
		})
	}
}
