package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateshift/rollup-httpd/config"
	"github.com/stateshift/rollup-httpd/state"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "/dev/rollup", cfg.RollupDevice)
	assert.Equal(t, "tcp://127.0.0.1:5004", cfg.RPC.ListenAddress)
	assert.NoError(t, cfg.ValidateBasic())
}

func TestStateDriveFromEnv(t *testing.T) {
	t.Setenv(state.EnvVar, "/dev/pmem7")
	cfg := config.DefaultConfig()
	assert.Equal(t, "/dev/pmem7", cfg.StateDrive)

	os.Unsetenv(state.EnvVar)
	cfg = config.DefaultConfig()
	assert.Equal(t, state.DefaultPath, cfg.StateDrive)
	// the chosen default must be visible to later readers of the env
	assert.Equal(t, state.DefaultPath, os.Getenv(state.EnvVar))
}

func TestConfigValidateBasic(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			"empty rollup device",
			func(cfg *config.Config) { cfg.RollupDevice = "" },
			"rollup_device",
		},
		{
			"empty state drive",
			func(cfg *config.Config) { cfg.StateDrive = "" },
			"state_drive",
		},
		{
			"bad log format",
			func(cfg *config.Config) { cfg.LogFormat = "xml" },
			"log_format",
		},
		{
			"bare listen address",
			func(cfg *config.Config) { cfg.RPC.ListenAddress = "127.0.0.1:5004" },
			"laddr",
		},
		{
			"negative connections",
			func(cfg *config.Config) { cfg.RPC.MaxOpenConnections = -1 },
			"max_open_connections",
		},
		{
			"zero body limit",
			func(cfg *config.Config) { cfg.RPC.MaxBodyBytes = 0 },
			"max_body_bytes",
		},
		{
			"prometheus without address",
			func(cfg *config.Config) {
				cfg.Instrumentation.Prometheus = true
				cfg.Instrumentation.PrometheusListenAddr = ""
			},
			"prometheus_listen_addr",
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tc.mutate(cfg)
			err := cfg.ValidateBasic()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
