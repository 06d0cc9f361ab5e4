package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// PrepareBaseCmd wires environment and flag handling into the root command.
// Every flag can also be supplied through an environment variable carrying
// the given prefix (eg. --rpc.laddr becomes <PREFIX>_RPC_LADDR).
func PrepareBaseCmd(cmd *cobra.Command, envPrefix string) *cobra.Command {
	cobra.OnInitialize(func() { InitEnv(envPrefix) })
	cmd.PersistentPreRunE = concatCobraCmdFuncs(bindFlagsToViper, cmd.PersistentPreRunE)
	return cmd
}

// InitEnv sets to use ENV variables if set.
func InitEnv(prefix string) {
	// This copies all variables like ROLLUPDEVICE to ROLLUP_DEVICE,
	// so we can support both formats for the user
	prefix = strings.ToUpper(prefix)
	ps := prefix + "_"
	for _, e := range os.Environ() {
		kv := strings.SplitN(e, "=", 2)
		if len(kv) == 2 {
			k, v := kv[0], kv[1]
			if strings.HasPrefix(k, prefix) && !strings.HasPrefix(k, ps) {
				k2 := strings.Replace(k, prefix, ps, 1)
				os.Setenv(k2, v)
			}
		}
	}

	viper.SetEnvPrefix(prefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

type cobraCmdFunc func(cmd *cobra.Command, args []string) error

// Returns a single function that calls each argument function in sequence
// RunE, PreRunE, PersistentPreRunE, etc. all have this same signature
func concatCobraCmdFuncs(fs ...cobraCmdFunc) cobraCmdFunc {
	return func(cmd *cobra.Command, args []string) error {
		for _, f := range fs {
			if f != nil {
				if err := f(cmd, args); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// Bind all flags to viper so environment variables can override them.
func bindFlagsToViper(cmd *cobra.Command, args []string) error {
	// cmd.Flags() includes flags from this command and all persistent flags
	// from the parent
	return viper.BindPFlags(cmd.Flags())
}
