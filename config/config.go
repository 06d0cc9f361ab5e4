package config

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/stateshift/rollup-httpd/libs/log"
	"github.com/stateshift/rollup-httpd/state"
)

// Config defines the top level configuration for the rollup HTTP server.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	RPC             *RPCConfig             `mapstructure:"rpc"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for the server.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		RPC:             DefaultRPCConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		RPC:             TestRPCConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [rpc] section")
	}
	return errors.Wrap(
		cfg.Instrumentation.ValidateBasic(),
		"error in [instrumentation] section",
	)
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for the server.
type BaseConfig struct {
	// Path to the rollup character device.
	RollupDevice string `mapstructure:"rollup_device"`

	// Path to the state drive block device. Defaults to the STATE_DRIVE
	// environment variable, or /dev/pmem1 when unset.
	StateDrive string `mapstructure:"state_drive"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		RollupDevice: "/dev/rollup",
		StateDrive:   state.PathFromEnv(),
		LogLevel:     log.LogLevelInfo,
		LogFormat:    log.LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.LogLevel = log.LogLevelDebug
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg BaseConfig) ValidateBasic() error {
	if cfg.RollupDevice == "" {
		return errors.New("rollup_device can't be empty")
	}
	if cfg.StateDrive == "" {
		return errors.New("state_drive can't be empty")
	}
	switch cfg.LogFormat {
	case log.LogFormatPlain, log.LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	return nil
}

//-----------------------------------------------------------------------------
// RPCConfig

// RPCConfig defines the configuration options for the HTTP surface exposed
// to the DApp.
type RPCConfig struct {
	// TCP or UNIX socket address for the server to listen on
	ListenAddress string `mapstructure:"laddr"`

	// A list of origins a cross-domain request can be executed from.
	// If the special '*' value is present in the list, all origins will be
	// allowed.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// A list of methods the client is allowed to use with cross-domain
	// requests.
	CORSAllowedMethods []string `mapstructure:"cors_allowed_methods"`

	// A list of non simple headers the client is allowed to use with
	// cross-domain requests.
	CORSAllowedHeaders []string `mapstructure:"cors_allowed_headers"`

	// Maximum number of simultaneous connections.
	// If you want to accept a larger number than the default, make sure
	// you increase your OS limits.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections"`

	// Maximum size of request body, in bytes
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// DefaultRPCConfig returns a default configuration for the HTTP surface.
func DefaultRPCConfig() *RPCConfig {
	return &RPCConfig{
		ListenAddress:      "tcp://127.0.0.1:5004",
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		CORSAllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With"},
		MaxOpenConnections: 900,
		MaxBodyBytes:       int64(2 << 20), // 2MB, the device exchange buffer size
	}
}

// TestRPCConfig returns a configuration for testing the HTTP surface.
func TestRPCConfig() *RPCConfig {
	cfg := DefaultRPCConfig()
	cfg.ListenAddress = "tcp://127.0.0.1:0"
	return cfg
}

// IsCorsEnabled returns true if cross-origin resource sharing is enabled.
func (cfg *RPCConfig) IsCorsEnabled() bool {
	return len(cfg.CORSAllowedOrigins) != 0
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *RPCConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max_open_connections can't be negative")
	}
	if cfg.MaxBodyBytes < 1 {
		return errors.New("max_body_bytes must be positive")
	}
	if parts := strings.SplitN(cfg.ListenAddress, "://", 2); len(parts) != 2 {
		return fmt.Errorf("laddr must be fully formed (including tcp:// or unix:// prefix), got %q",
			cfg.ListenAddress)
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "rollup",
	}
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus_listen_addr can't be empty when prometheus is enabled")
	}
	if cfg.Namespace == "" {
		return errors.New("namespace can't be empty")
	}
	return nil
}
