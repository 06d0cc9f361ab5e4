package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/stateshift/rollup-httpd/config"
	"github.com/stateshift/rollup-httpd/libs/log"
)

var (
	config = cfg.DefaultConfig()
	logger = log.MustNewDefaultLogger(log.LogFormatPlain, log.LogLevelInfo)
)

func registerFlagsRootCmd(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log_level", config.LogLevel, "log level (debug | info | error)")
	cmd.PersistentFlags().String("log_format", config.LogFormat, "log format (plain | json)")
}

// ParseConfig retrieves the configuration from viper, filling in defaults
// for anything left unset.
func ParseConfig() (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config: %w", err)
	}
	return conf, nil
}

// RootCmd is the root command. Subcommands read the parsed configuration
// from the package level config variable.
var RootCmd = &cobra.Command{
	Use:   "rollup-httpd",
	Short: "HTTP bridge between a DApp backend and the rollup device",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}

		var err error
		config, err = ParseConfig()
		if err != nil {
			return err
		}

		logger, err = log.NewDefaultLogger(config.LogFormat, config.LogLevel)
		if err != nil {
			return err
		}

		return nil
	},
}

func init() {
	registerFlagsRootCmd(RootCmd)
}
